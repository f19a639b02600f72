package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

const requestColumns = `id, step_id, approver_id, status, comments, approved_at, rejected_at,
	issued_at, created_at, updated_at`

// RequestRepository implements port.RequestRepository
type RequestRepository struct {
	baseRepository
}

// NewRequestRepository creates a new approval request repository
func NewRequestRepository(db *sql.DB, logger *zap.Logger) *RequestRepository {
	return &RequestRepository{baseRepository{db: db, logger: logger}}
}

// Create inserts a request
func (r *RequestRepository) Create(ctx context.Context, req *entity.ApprovalRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = entity.RequestStatusPending
	}
	req.CreatedAt = now()
	req.UpdatedAt = req.CreatedAt

	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO approval_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		req.ID, req.StepID, req.ApproverID, req.Status, req.Comments,
		nullTime(req.ApprovedAt), nullTime(req.RejectedAt), nullTime(req.IssuedAt),
		req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create approval request", zap.String("step_id", req.StepID), zap.Error(err))
		return fmt.Errorf("failed to create approval request: %w", err)
	}
	return nil
}

// GetByID retrieves a request by ID
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalRequest, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE id = ?`, id)

	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}
	return req, nil
}

// ListByStep returns a step's requests in creation order
func (r *RequestRepository) ListByStep(ctx context.Context, stepID string) ([]*entity.ApprovalRequest, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE step_id = ? ORDER BY created_at ASC, id ASC`,
		stepID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval requests: %w", err)
	}
	defer rows.Close()

	var requests []*entity.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// Decide writes the decision only if the request is still PENDING
func (r *RequestRepository) Decide(ctx context.Context, req *entity.ApprovalRequest) error {
	req.UpdatedAt = now()

	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE approval_requests
		SET status = ?, comments = ?, approved_at = ?, rejected_at = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING'
	`,
		req.Status, req.Comments, nullTime(req.ApprovedAt), nullTime(req.RejectedAt), req.UpdatedAt,
		req.ID,
	)
	if err != nil {
		r.logger.Error("Failed to record decision", zap.String("request_id", req.ID), zap.Error(err))
		return fmt.Errorf("failed to record decision: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperr.Conflict("approval request %s has already been decided", req.ID)
	}
	return nil
}

// Issue stamps issued_at on the step's pending requests
func (r *RequestRepository) Issue(ctx context.Context, stepID string, at time.Time) error {
	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE approval_requests SET issued_at = ?, updated_at = ?
		WHERE step_id = ? AND status = 'PENDING'
	`, at.UTC(), now(), stepID)
	if err != nil {
		return fmt.Errorf("failed to issue approval requests: %w", err)
	}
	return nil
}

// PendingForApprover lists actionable requests for an approver, newest first
func (r *RequestRepository) PendingForApprover(ctx context.Context, approverID string) ([]*entity.PendingApproval, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, `
		SELECT
			ar.id, ar.step_id, ar.approver_id, ar.status, ar.comments, ar.approved_at, ar.rejected_at,
			ar.issued_at, ar.created_at, ar.updated_at,
			s.step_number, w.id,
			e.id, e.employee_id, e.company_id, e.category_id, e.amount, e.currency,
			e.amount_in_company_currency, e.description, e.expense_date, e.receipt_data, e.status,
			e.submitted_at, e.approved_at, e.rejected_at, e.created_at, e.updated_at,
			u.id, u.company_id, u.email, u.first_name, u.last_name, u.role, u.manager_id,
			u.is_manager_approver, u.is_active, u.created_at, u.updated_at,
			c.name
		FROM approval_requests ar
		JOIN approval_steps s ON s.id = ar.step_id
		JOIN approval_workflows w ON w.id = s.workflow_id
		JOIN expenses e ON e.id = w.expense_id
		JOIN users u ON u.id = e.employee_id
		JOIN expense_categories c ON c.id = e.category_id
		WHERE ar.approver_id = ?
			AND ar.status = 'PENDING'
			AND ar.issued_at IS NOT NULL
			AND s.step_number = w.current_step
			AND w.status IN ('PENDING', 'IN_PROGRESS')
		ORDER BY ar.issued_at DESC, ar.id ASC
	`, approverID)
	if err != nil {
		r.logger.Error("Failed to list pending approvals", zap.String("approver_id", approverID), zap.Error(err))
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	var pending []*entity.PendingApproval
	for rows.Next() {
		var (
			req                                 entity.ApprovalRequest
			e                                   entity.Expense
			u                                   entity.User
			p                                   entity.PendingApproval
			approvedAt, rejectedAt, issuedAt    sql.NullTime
			submittedAt, expApproved, expReject sql.NullTime
			managerID                           sql.NullString
		)
		if err := rows.Scan(
			&req.ID, &req.StepID, &req.ApproverID, &req.Status, &req.Comments, &approvedAt, &rejectedAt,
			&issuedAt, &req.CreatedAt, &req.UpdatedAt,
			&p.StepNumber, &p.WorkflowID,
			&e.ID, &e.EmployeeID, &e.CompanyID, &e.CategoryID, &e.Amount, &e.Currency,
			&e.AmountInCompanyCurrency, &e.Description, &e.ExpenseDate, &e.ReceiptData, &e.Status,
			&submittedAt, &expApproved, &expReject, &e.CreatedAt, &e.UpdatedAt,
			&u.ID, &u.CompanyID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &managerID,
			&u.IsManagerApprover, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
			&p.CategoryName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pending approval: %w", err)
		}

		req.ApprovedAt = timePtr(approvedAt)
		req.RejectedAt = timePtr(rejectedAt)
		req.IssuedAt = timePtr(issuedAt)
		e.SubmittedAt = timePtr(submittedAt)
		e.ApprovedAt = timePtr(expApproved)
		e.RejectedAt = timePtr(expReject)
		u.ManagerID = stringPtr(managerID)

		p.Request = &req
		p.Expense = &e
		p.Employee = &u
		pending = append(pending, &p)
	}

	return pending, rows.Err()
}

func scanRequest(s rowScanner) (*entity.ApprovalRequest, error) {
	var req entity.ApprovalRequest
	var approvedAt, rejectedAt, issuedAt sql.NullTime
	if err := s.Scan(
		&req.ID, &req.StepID, &req.ApproverID, &req.Status, &req.Comments,
		&approvedAt, &rejectedAt, &issuedAt, &req.CreatedAt, &req.UpdatedAt,
	); err != nil {
		return nil, err
	}
	req.ApprovedAt = timePtr(approvedAt)
	req.RejectedAt = timePtr(rejectedAt)
	req.IssuedAt = timePtr(issuedAt)
	return &req, nil
}

var _ port.RequestRepository = (*RequestRepository)(nil)
