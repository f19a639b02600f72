package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

const workflowColumns = `id, expense_id, status, current_step, total_steps, version, created_at, updated_at`

// WorkflowRepository implements port.WorkflowRepository
type WorkflowRepository struct {
	baseRepository
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sql.DB, logger *zap.Logger) *WorkflowRepository {
	return &WorkflowRepository{baseRepository{db: db, logger: logger}}
}

// Create inserts a workflow. A second workflow for the same expense is a conflict.
func (r *WorkflowRepository) Create(ctx context.Context, wf *entity.ApprovalWorkflow) error {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	wf.CreatedAt = now()
	wf.UpdatedAt = wf.CreatedAt

	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO approval_workflows (`+workflowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, wf.ID, wf.ExpenseID, wf.Status, wf.CurrentStep, wf.TotalSteps, wf.Version, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("expense %s already has an approval workflow", wf.ExpenseID)
		}
		r.logger.Error("Failed to create workflow", zap.String("expense_id", wf.ExpenseID), zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

// CountOpen returns the number of workflows still awaiting a decision
func (r *WorkflowRepository) CountOpen(ctx context.Context) (int64, error) {
	var n int64
	err := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approval_workflows WHERE status IN ('PENDING', 'IN_PROGRESS')`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count open workflows: %w", err)
	}
	return n, nil
}

// GetByID retrieves a workflow by ID
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalWorkflow, error) {
	return r.getOne(ctx, `SELECT `+workflowColumns+` FROM approval_workflows WHERE id = ?`, id)
}

// GetByExpenseID retrieves the workflow attached to an expense
func (r *WorkflowRepository) GetByExpenseID(ctx context.Context, expenseID string) (*entity.ApprovalWorkflow, error) {
	return r.getOne(ctx, `SELECT `+workflowColumns+` FROM approval_workflows WHERE expense_id = ?`, expenseID)
}

func (r *WorkflowRepository) getOne(ctx context.Context, query, arg string) (*entity.ApprovalWorkflow, error) {
	var wf entity.ApprovalWorkflow
	err := r.getExecutor(ctx).QueryRowContext(ctx, query, arg).Scan(
		&wf.ID, &wf.ExpenseID, &wf.Status, &wf.CurrentStep, &wf.TotalSteps,
		&wf.Version, &wf.CreatedAt, &wf.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return &wf, nil
}

// Update persists status and current step if nobody else has written the
// workflow since expectedVersion was read
func (r *WorkflowRepository) Update(ctx context.Context, wf *entity.ApprovalWorkflow, expectedVersion int64) error {
	updatedAt := now()

	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE approval_workflows
		SET status = ?, current_step = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, wf.Status, wf.CurrentStep, updatedAt, wf.ID, expectedVersion)
	if err != nil {
		r.logger.Error("Failed to update workflow", zap.String("workflow_id", wf.ID), zap.Error(err))
		return fmt.Errorf("failed to update workflow: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperr.Conflict("workflow %s was modified concurrently", wf.ID)
	}

	wf.Version = expectedVersion + 1
	wf.UpdatedAt = updatedAt
	return nil
}

var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
