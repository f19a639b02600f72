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

const userColumns = `id, company_id, email, first_name, last_name, role, manager_id,
	is_manager_approver, is_active, created_at, updated_at`

// UserRepository implements port.UserRepository
type UserRepository struct {
	baseRepository
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{baseRepository{db: db, logger: logger}}
}

// Create inserts a user. CreatedAt is kept when already set so callers can
// control resolver ordering.
func (r *UserRepository) Create(ctx context.Context, u *entity.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = entity.RoleEmployee
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now()
	}
	u.UpdatedAt = u.CreatedAt

	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		u.ID, u.CompanyID, u.Email, u.FirstName, u.LastName, u.Role,
		nullString(u.ManagerID), u.IsManagerApprover, u.IsActive,
		u.CreatedAt.UTC(), u.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create user", zap.String("email", u.Email), zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// FirstActiveByRole returns the earliest created active user with role
func (r *UserRepository) FirstActiveByRole(ctx context.Context, companyID string, role entity.UserRole) (*entity.User, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE company_id = ? AND role = ? AND is_active = 1
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, companyID, role)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to resolve user by role",
			zap.String("company_id", companyID),
			zap.String("role", string(role)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to resolve user by role: %w", err)
	}
	return u, nil
}

func scanUser(s rowScanner) (*entity.User, error) {
	var u entity.User
	var managerID sql.NullString
	if err := s.Scan(
		&u.ID, &u.CompanyID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &managerID,
		&u.IsManagerApprover, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.ManagerID = stringPtr(managerID)
	return &u, nil
}

var _ port.UserRepository = (*UserRepository)(nil)
