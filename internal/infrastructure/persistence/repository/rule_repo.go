package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// RuleRepository implements port.RuleRepository
type RuleRepository struct {
	baseRepository
}

// NewRuleRepository creates a new approval rule repository
func NewRuleRepository(db *sql.DB, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{baseRepository{db: db, logger: logger}}
}

// Create inserts an approval rule
func (r *RuleRepository) Create(ctx context.Context, rule *entity.ApprovalRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now()
	}

	var percentage sql.NullInt64
	if rule.PercentageRequired != nil {
		percentage = sql.NullInt64{Int64: int64(*rule.PercentageRequired), Valid: true}
	}

	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO approval_rules (
			id, company_id, name, rule_type, threshold_amount, percentage_required,
			specific_approver_role, priority, is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rule.ID, rule.CompanyID, rule.Name, rule.RuleType, rule.ThresholdAmount, percentage,
		rule.SpecificApproverRole, rule.Priority, rule.IsActive, rule.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create approval rule", zap.String("name", rule.Name), zap.Error(err))
		return fmt.Errorf("failed to create approval rule: %w", err)
	}
	return nil
}

// ActiveRules returns the company's active rules, priority ascending then
// threshold descending. Rules without a threshold sort last within a priority.
func (r *RuleRepository) ActiveRules(ctx context.Context, companyID string) ([]*entity.ApprovalRule, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, `
		SELECT id, company_id, name, rule_type, threshold_amount, percentage_required,
			specific_approver_role, priority, is_active, created_at
		FROM approval_rules
		WHERE company_id = ? AND is_active = 1
		ORDER BY priority ASC, CAST(threshold_amount AS REAL) DESC, created_at ASC, id ASC
	`, companyID)
	if err != nil {
		r.logger.Error("Failed to list approval rules", zap.String("company_id", companyID), zap.Error(err))
		return nil, fmt.Errorf("failed to list approval rules: %w", err)
	}
	defer rows.Close()

	var rules []*entity.ApprovalRule
	for rows.Next() {
		var rule entity.ApprovalRule
		var percentage sql.NullInt64
		if err := rows.Scan(
			&rule.ID, &rule.CompanyID, &rule.Name, &rule.RuleType, &rule.ThresholdAmount, &percentage,
			&rule.SpecificApproverRole, &rule.Priority, &rule.IsActive, &rule.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan approval rule: %w", err)
		}
		if percentage.Valid {
			p := int(percentage.Int64)
			rule.PercentageRequired = &p
		}
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

var _ port.RuleRepository = (*RuleRepository)(nil)
