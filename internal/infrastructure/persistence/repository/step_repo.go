package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

const stepColumns = `id, workflow_id, step_number, approver_type, approver_id, is_completed, created_at`

// StepRepository implements port.StepRepository
type StepRepository struct {
	baseRepository
}

// NewStepRepository creates a new step repository
func NewStepRepository(db *sql.DB, logger *zap.Logger) *StepRepository {
	return &StepRepository{baseRepository{db: db, logger: logger}}
}

// Create inserts a step
func (r *StepRepository) Create(ctx context.Context, step *entity.ApprovalStep) error {
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	step.CreatedAt = now()

	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO approval_steps (`+stepColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		step.ID, step.WorkflowID, step.StepNumber, step.ApproverType.String(),
		nullString(step.ApproverID), step.IsCompleted, step.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create step",
			zap.String("workflow_id", step.WorkflowID),
			zap.Int("step_number", step.StepNumber),
			zap.Error(err))
		return fmt.Errorf("failed to create step: %w", err)
	}
	return nil
}

// GetByID retrieves a step by ID
func (r *StepRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalStep, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM approval_steps WHERE id = ?`, id)
	return r.scanOne(row)
}

// GetByNumber retrieves the step at a position in a workflow
func (r *StepRepository) GetByNumber(ctx context.Context, workflowID string, stepNumber int) (*entity.ApprovalStep, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM approval_steps WHERE workflow_id = ? AND step_number = ?`,
		workflowID, stepNumber)
	return r.scanOne(row)
}

// ListByWorkflow returns a workflow's steps in order
func (r *StepRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.ApprovalStep, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx,
		`SELECT `+stepColumns+` FROM approval_steps WHERE workflow_id = ? ORDER BY step_number ASC`,
		workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*entity.ApprovalStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// MarkCompleted flags a step as completed
func (r *StepRepository) MarkCompleted(ctx context.Context, id string) error {
	result, err := r.getExecutor(ctx).ExecContext(ctx,
		`UPDATE approval_steps SET is_completed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to complete step: %w", err)
	}
	return requireOneRow(result, "approval step", id)
}

func (r *StepRepository) scanOne(row *sql.Row) (*entity.ApprovalStep, error) {
	step, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return step, nil
}

func scanStep(s rowScanner) (*entity.ApprovalStep, error) {
	var step entity.ApprovalStep
	var approverType string
	var approverID sql.NullString
	if err := s.Scan(
		&step.ID, &step.WorkflowID, &step.StepNumber, &approverType,
		&approverID, &step.IsCompleted, &step.CreatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := entity.ParseApproverType(approverType)
	if err != nil {
		return nil, err
	}
	step.ApproverType = parsed
	step.ApproverID = stringPtr(approverID)
	return &step, nil
}

var _ port.StepRepository = (*StepRepository)(nil)
