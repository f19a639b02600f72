package approval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Resolver maps abstract approver types to concrete company users
type Resolver struct {
	users  port.UserRepository
	logger *zap.Logger
}

// NewResolver creates a new approver resolver
func NewResolver(users port.UserRepository, logger *zap.Logger) *Resolver {
	return &Resolver{users: users, logger: logger}
}

// Resolve returns the first active user in the company holding the role
// mapped from approverType, or nil when the company has none
func (r *Resolver) Resolve(ctx context.Context, companyID string, approverType entity.ApproverType) (*entity.User, error) {
	if !approverType.IsValid() {
		return nil, apperr.Configuration("unknown approver type %s", approverType)
	}

	user, err := r.users.FirstActiveByRole(ctx, companyID, approverType.Role())
	if err != nil {
		return nil, fmt.Errorf("resolve %s approver: %w", approverType, err)
	}
	if user == nil {
		r.logger.Warn("No approver found for role",
			zap.String("company_id", companyID),
			zap.String("approver_type", approverType.String()),
			zap.String("user_role", string(approverType.Role())))
	}
	return user, nil
}

// ReportingChain walks manager links upward from userID, nearest manager
// first. A link that points back into the chain is a configuration error.
func (r *Resolver) ReportingChain(ctx context.Context, userID string) ([]*entity.User, error) {
	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	if user == nil {
		return nil, apperr.NotFound("user", userID)
	}

	visited := map[string]bool{user.ID: true}
	var chain []*entity.User
	for user.ManagerID != nil && *user.ManagerID != "" {
		managerID := *user.ManagerID
		if visited[managerID] {
			return nil, apperr.Configuration("reporting chain of user %s loops back to %s", userID, managerID)
		}
		visited[managerID] = true

		manager, err := r.users.GetByID(ctx, managerID)
		if err != nil {
			return nil, fmt.Errorf("load manager %s: %w", managerID, err)
		}
		if manager == nil {
			break
		}
		chain = append(chain, manager)
		user = manager
	}

	return chain, nil
}
