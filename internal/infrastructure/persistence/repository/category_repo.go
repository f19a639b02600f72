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

// CategoryRepository implements port.CategoryRepository
type CategoryRepository struct {
	baseRepository
}

// NewCategoryRepository creates a new category repository
func NewCategoryRepository(db *sql.DB, logger *zap.Logger) *CategoryRepository {
	return &CategoryRepository{baseRepository{db: db, logger: logger}}
}

// Create inserts a category
func (r *CategoryRepository) Create(ctx context.Context, c *entity.ExpenseCategory) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = now()

	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO expense_categories (id, company_id, name, description, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.CompanyID, c.Name, c.Description, c.IsActive, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create category: %w", err)
	}
	return nil
}

// GetByID retrieves a category by ID
func (r *CategoryRepository) GetByID(ctx context.Context, id string) (*entity.ExpenseCategory, error) {
	var c entity.ExpenseCategory
	err := r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT id, company_id, name, description, is_active, created_at
		FROM expense_categories WHERE id = ?
	`, id).Scan(&c.ID, &c.CompanyID, &c.Name, &c.Description, &c.IsActive, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

var _ port.CategoryRepository = (*CategoryRepository)(nil)
