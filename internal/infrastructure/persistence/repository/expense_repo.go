package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

const expenseColumns = `id, employee_id, company_id, category_id, amount, currency,
	amount_in_company_currency, description, expense_date, receipt_data, status,
	submitted_at, approved_at, rejected_at, created_at, updated_at`

// ExpenseRepository implements port.ExpenseRepository and port.ExpenseStatusSync
type ExpenseRepository struct {
	baseRepository
}

// NewExpenseRepository creates a new expense repository
func NewExpenseRepository(db *sql.DB, logger *zap.Logger) *ExpenseRepository {
	return &ExpenseRepository{baseRepository{db: db, logger: logger}}
}

// Create inserts an expense
func (r *ExpenseRepository) Create(ctx context.Context, e *entity.Expense) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = entity.ExpenseStatusDraft
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	e.UpdatedAt = e.CreatedAt

	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO expenses (`+expenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.EmployeeID, e.CompanyID, e.CategoryID, e.Amount, e.Currency,
		e.AmountInCompanyCurrency, e.Description, e.ExpenseDate.UTC(), e.ReceiptData, e.Status,
		nullTime(e.SubmittedAt), nullTime(e.ApprovedAt), nullTime(e.RejectedAt),
		e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create expense", zap.Error(err))
		return fmt.Errorf("failed to create expense: %w", err)
	}
	return nil
}

// GetByID retrieves an expense by ID
func (r *ExpenseRepository) GetByID(ctx context.Context, id string) (*entity.Expense, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)

	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	return e, nil
}

// Update writes the mutable fields of an expense
func (r *ExpenseRepository) Update(ctx context.Context, e *entity.Expense) error {
	e.UpdatedAt = now()

	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE expenses SET
			category_id = ?, amount = ?, currency = ?, amount_in_company_currency = ?,
			description = ?, expense_date = ?, receipt_data = ?, status = ?,
			submitted_at = ?, approved_at = ?, rejected_at = ?, updated_at = ?
		WHERE id = ?
	`,
		e.CategoryID, e.Amount, e.Currency, e.AmountInCompanyCurrency,
		e.Description, e.ExpenseDate.UTC(), e.ReceiptData, e.Status,
		nullTime(e.SubmittedAt), nullTime(e.ApprovedAt), nullTime(e.RejectedAt), e.UpdatedAt,
		e.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update expense", zap.String("expense_id", e.ID), zap.Error(err))
		return fmt.Errorf("failed to update expense: %w", err)
	}
	return requireOneRow(result, "expense", e.ID)
}

// MarkPendingApproval moves the expense under workflow control
func (r *ExpenseRepository) MarkPendingApproval(ctx context.Context, expenseID string) error {
	return r.setStatus(ctx, expenseID, entity.ExpenseStatusPendingApproval, "", time.Time{})
}

// MarkApproved records the final approval
func (r *ExpenseRepository) MarkApproved(ctx context.Context, expenseID string, at time.Time) error {
	return r.setStatus(ctx, expenseID, entity.ExpenseStatusApproved, "approved_at", at)
}

// MarkRejected records the rejection
func (r *ExpenseRepository) MarkRejected(ctx context.Context, expenseID string, at time.Time) error {
	return r.setStatus(ctx, expenseID, entity.ExpenseStatusRejected, "rejected_at", at)
}

func (r *ExpenseRepository) setStatus(ctx context.Context, expenseID string, status entity.ExpenseStatus, stampColumn string, at time.Time) error {
	query := `UPDATE expenses SET status = ?, updated_at = ? WHERE id = ?`
	args := []interface{}{status, now(), expenseID}
	if stampColumn != "" {
		query = `UPDATE expenses SET status = ?, ` + stampColumn + ` = ?, updated_at = ? WHERE id = ?`
		args = []interface{}{status, at.UTC(), now(), expenseID}
	}

	result, err := r.getExecutor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update expense status",
			zap.String("expense_id", expenseID),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("failed to update expense status: %w", err)
	}
	return requireOneRow(result, "expense", expenseID)
}

// Statistics aggregates an employee's expenses. Amounts use the company
// currency value; expenses that were never converted are left out of the sums.
func (r *ExpenseRepository) Statistics(ctx context.Context, employeeID string) (*entity.ExpenseStatistics, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, `
		SELECT status, amount_in_company_currency FROM expenses WHERE employee_id = ?
	`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load expense statistics: %w", err)
	}
	defer rows.Close()

	stats := &entity.ExpenseStatistics{TotalAmount: decimal.Zero, AverageAmount: decimal.Zero}
	var converted int64
	for rows.Next() {
		var status entity.ExpenseStatus
		var amount decimal.NullDecimal
		if err := rows.Scan(&status, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan expense statistics: %w", err)
		}

		stats.TotalExpenses++
		switch status {
		case entity.ExpenseStatusApproved:
			stats.Approved++
		case entity.ExpenseStatusPendingApproval:
			stats.Pending++
		case entity.ExpenseStatusRejected:
			stats.Rejected++
		}
		if amount.Valid {
			stats.TotalAmount = stats.TotalAmount.Add(amount.Decimal)
			converted++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if converted > 0 {
		stats.AverageAmount = stats.TotalAmount.Div(decimal.NewFromInt(converted)).Round(2)
	}
	return stats, nil
}

func scanExpense(s rowScanner) (*entity.Expense, error) {
	var e entity.Expense
	var submittedAt, approvedAt, rejectedAt sql.NullTime
	if err := s.Scan(
		&e.ID, &e.EmployeeID, &e.CompanyID, &e.CategoryID, &e.Amount, &e.Currency,
		&e.AmountInCompanyCurrency, &e.Description, &e.ExpenseDate, &e.ReceiptData, &e.Status,
		&submittedAt, &approvedAt, &rejectedAt, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	e.SubmittedAt = timePtr(submittedAt)
	e.ApprovedAt = timePtr(approvedAt)
	e.RejectedAt = timePtr(rejectedAt)
	return &e, nil
}

func requireOneRow(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperr.NotFound(resource, id)
	}
	return nil
}

var (
	_ port.ExpenseRepository = (*ExpenseRepository)(nil)
	_ port.ExpenseStatusSync = (*ExpenseRepository)(nil)
)
