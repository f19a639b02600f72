// Package testutil seeds a migrated sqlite database with a small company so
// integration tests can drive the engine and services end to end.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-approval/pkg/database"
)

// Epoch is the creation time of the first seeded user
var Epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// Fixture holds an open database, its repositories and the seeded records.
//
// Seeded users, in creation order:
//
//	Finance  MANAGER, resolves FINANCE and DIRECTOR steps
//	Manager  MANAGER, line manager of Employee, manager approver
//	Admin    ADMIN, resolves CFO steps
//	Employee EMPLOYEE
type Fixture struct {
	DB *sqlite.DB

	Companies  *repository.CompanyRepository
	Users      *repository.UserRepository
	Categories *repository.CategoryRepository
	Rules      *repository.RuleRepository
	Expenses   *repository.ExpenseRepository
	Workflows  *repository.WorkflowRepository
	Steps      *repository.StepRepository
	Requests   *repository.RequestRepository

	Company  *entity.Company
	Category *entity.ExpenseCategory
	Finance  *entity.User
	Manager  *entity.User
	Admin    *entity.User
	Employee *entity.User

	seq int
}

// NewFixture opens a fresh database under t.TempDir and seeds it
func NewFixture(t testing.TB) *Fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	db, err := sqlite.Open(ctx, database.Config{
		Path:         filepath.Join(t.TempDir(), "approval.db"),
		MaxOpenConns: 8,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &Fixture{
		DB:         db,
		Companies:  repository.NewCompanyRepository(db.DB, logger),
		Users:      repository.NewUserRepository(db.DB, logger),
		Categories: repository.NewCategoryRepository(db.DB, logger),
		Rules:      repository.NewRuleRepository(db.DB, logger),
		Expenses:   repository.NewExpenseRepository(db.DB, logger),
		Workflows:  repository.NewWorkflowRepository(db.DB, logger),
		Steps:      repository.NewStepRepository(db.DB, logger),
		Requests:   repository.NewRequestRepository(db.DB, logger),
	}

	f.Company = &entity.Company{Name: "Acme", Currency: "USD", Country: "US"}
	require.NoError(t, f.Companies.Create(ctx, f.Company))

	f.Category = &entity.ExpenseCategory{CompanyID: f.Company.ID, Name: "Travel", IsActive: true}
	require.NoError(t, f.Categories.Create(ctx, f.Category))

	f.Finance = f.AddUser(t, &entity.User{FirstName: "Fiona", LastName: "Ledger", Role: entity.RoleManager, IsActive: true})
	f.Manager = f.AddUser(t, &entity.User{FirstName: "Mark", LastName: "Lead", Role: entity.RoleManager, IsManagerApprover: true, IsActive: true})
	f.Admin = f.AddUser(t, &entity.User{FirstName: "Ada", LastName: "Chief", Role: entity.RoleAdmin, IsActive: true})
	f.Employee = f.AddUser(t, &entity.User{FirstName: "Eve", LastName: "Doe", Role: entity.RoleEmployee, ManagerID: &f.Manager.ID, IsActive: true})

	return f
}

// AddUser inserts a user into the fixture company. Users are created one
// minute apart so role resolution order is stable.
func (f *Fixture) AddUser(t testing.TB, u *entity.User) *entity.User {
	t.Helper()
	f.seq++
	if u.CompanyID == "" {
		u.CompanyID = f.Company.ID
	}
	if u.Email == "" {
		u.Email = fmt.Sprintf("user%d@acme.test", f.seq)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = Epoch.Add(time.Duration(f.seq) * time.Minute)
	}
	require.NoError(t, f.Users.Create(context.Background(), u))
	return u
}

// AddRule inserts an active SPECIFIC rule for role at threshold
func (f *Fixture) AddRule(t testing.TB, name string, priority int, threshold, role string) *entity.ApprovalRule {
	t.Helper()
	rule := &entity.ApprovalRule{
		CompanyID:            f.Company.ID,
		Name:                 name,
		RuleType:             entity.RuleTypeSpecific,
		ThresholdAmount:      decimal.NewNullDecimal(decimal.RequireFromString(threshold)),
		SpecificApproverRole: role,
		Priority:             priority,
		IsActive:             true,
	}
	require.NoError(t, f.Rules.Create(context.Background(), rule))
	return rule
}

// AddExpense inserts an expense for the fixture employee with the given
// status and amount in USD
func (f *Fixture) AddExpense(t testing.TB, amount string, status entity.ExpenseStatus) *entity.Expense {
	t.Helper()
	e := &entity.Expense{
		EmployeeID:  f.Employee.ID,
		CompanyID:   f.Company.ID,
		CategoryID:  f.Category.ID,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "USD",
		Description: "Client visit",
		ExpenseDate: Epoch,
		Status:      status,
	}
	if status != entity.ExpenseStatusDraft {
		e.AmountInCompanyCurrency = decimal.NewNullDecimal(e.Amount)
	}
	require.NoError(t, f.Expenses.Create(context.Background(), e))
	return e
}

// Expense reloads an expense
func (f *Fixture) Expense(t testing.TB, id string) *entity.Expense {
	t.Helper()
	e, err := f.Expenses.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, e, "expense %s", id)
	return e
}

// Count returns the number of rows in table
func (f *Fixture) Count(t testing.TB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, f.DB.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

// Deactivate marks a user inactive
func (f *Fixture) Deactivate(t testing.TB, u *entity.User) {
	t.Helper()
	_, err := f.DB.Exec("UPDATE users SET is_active = 0 WHERE id = ?", u.ID)
	require.NoError(t, err)
	u.IsActive = false
}

// ClearApprover drops the manager approval flag from a user
func (f *Fixture) ClearApprover(t testing.TB, u *entity.User) {
	t.Helper()
	_, err := f.DB.Exec("UPDATE users SET is_manager_approver = 0 WHERE id = ?", u.ID)
	require.NoError(t, err)
	u.IsManagerApprover = false
}

// SteppingClock returns a clock that advances one second per call
func SteppingClock(start time.Time) func() time.Time {
	var calls atomic.Int64
	return func() time.Time {
		return start.Add(time.Duration(calls.Add(1)) * time.Second)
	}
}
