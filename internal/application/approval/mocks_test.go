package approval

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*entity.User)
	return user, args.Error(1)
}

func (m *mockUserRepo) FirstActiveByRole(ctx context.Context, companyID string, role entity.UserRole) (*entity.User, error) {
	args := m.Called(ctx, companyID, role)
	user, _ := args.Get(0).(*entity.User)
	return user, args.Error(1)
}

type mockRuleRepo struct {
	mock.Mock
}

func (m *mockRuleRepo) ActiveRules(ctx context.Context, companyID string) ([]*entity.ApprovalRule, error) {
	args := m.Called(ctx, companyID)
	rules, _ := args.Get(0).([]*entity.ApprovalRule)
	return rules, args.Error(1)
}

// staticUsers is a map-backed user store for reporting-chain tests
type staticUsers map[string]*entity.User

func (s staticUsers) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return s[id], nil
}

func (s staticUsers) FirstActiveByRole(ctx context.Context, companyID string, role entity.UserRole) (*entity.User, error) {
	return nil, nil
}

func strPtr(s string) *string { return &s }
