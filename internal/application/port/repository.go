package port

import (
	"context"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Single-record getters return (nil, nil) when the record does not exist.

// CompanyRepository reads tenants
type CompanyRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Company, error)
}

// UserRepository reads users and their reporting links
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*entity.User, error)
	// FirstActiveByRole returns the earliest created active user holding role
	// in the company, ordered by created_at then id
	FirstActiveByRole(ctx context.Context, companyID string, role entity.UserRole) (*entity.User, error)
}

// CategoryRepository reads expense categories
type CategoryRepository interface {
	GetByID(ctx context.Context, id string) (*entity.ExpenseCategory, error)
}

// RuleRepository reads company approval rules
type RuleRepository interface {
	// ActiveRules returns active rules ordered by priority ascending, then
	// threshold descending
	ActiveRules(ctx context.Context, companyID string) ([]*entity.ApprovalRule, error)
}

// ExpenseRepository persists expenses
type ExpenseRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Expense, error)
	Update(ctx context.Context, expense *entity.Expense) error
	Statistics(ctx context.Context, employeeID string) (*entity.ExpenseStatistics, error)
}

// ExpenseStatusSync mirrors workflow outcomes onto the expense
type ExpenseStatusSync interface {
	MarkPendingApproval(ctx context.Context, expenseID string) error
	MarkApproved(ctx context.Context, expenseID string, at time.Time) error
	MarkRejected(ctx context.Context, expenseID string, at time.Time) error
}

// WorkflowRepository persists approval workflows
type WorkflowRepository interface {
	Create(ctx context.Context, wf *entity.ApprovalWorkflow) error
	GetByID(ctx context.Context, id string) (*entity.ApprovalWorkflow, error)
	GetByExpenseID(ctx context.Context, expenseID string) (*entity.ApprovalWorkflow, error)
	// Update writes status and current step when the stored version equals
	// expectedVersion, and bumps the version. A mismatch is a conflict.
	Update(ctx context.Context, wf *entity.ApprovalWorkflow, expectedVersion int64) error
	// CountOpen returns how many workflows are PENDING or IN_PROGRESS
	CountOpen(ctx context.Context) (int64, error)
}

// StepRepository persists workflow steps
type StepRepository interface {
	Create(ctx context.Context, step *entity.ApprovalStep) error
	GetByID(ctx context.Context, id string) (*entity.ApprovalStep, error)
	GetByNumber(ctx context.Context, workflowID string, stepNumber int) (*entity.ApprovalStep, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.ApprovalStep, error)
	MarkCompleted(ctx context.Context, id string) error
}

// RequestRepository persists approval requests
type RequestRepository interface {
	Create(ctx context.Context, req *entity.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*entity.ApprovalRequest, error)
	ListByStep(ctx context.Context, stepID string) ([]*entity.ApprovalRequest, error)
	// Decide records the decision only while the request is still PENDING.
	// A request that was decided concurrently is a conflict.
	Decide(ctx context.Context, req *entity.ApprovalRequest) error
	// Issue stamps issued_at on the step's pending requests
	Issue(ctx context.Context, stepID string, at time.Time) error
	// PendingForApprover lists issued, undecided requests on the current step
	// of open workflows, newest first
	PendingForApprover(ctx context.Context, approverID string) ([]*entity.PendingApproval, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	// WithTransaction runs fn inside one transaction. Nested calls join the
	// outer transaction.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// AfterCommit runs fn once the transaction carried by ctx commits, or
	// immediately when ctx carries none
	AfterCommit(ctx context.Context, fn func())
}
