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

// CompanyRepository implements port.CompanyRepository
type CompanyRepository struct {
	baseRepository
}

// NewCompanyRepository creates a new company repository
func NewCompanyRepository(db *sql.DB, logger *zap.Logger) *CompanyRepository {
	return &CompanyRepository{baseRepository{db: db, logger: logger}}
}

// Create inserts a company, assigning an ID when empty
func (r *CompanyRepository) Create(ctx context.Context, c *entity.Company) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = now()
	c.UpdatedAt = c.CreatedAt

	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO companies (id, name, currency, country, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.Name, c.Currency, c.Country, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create company", zap.Error(err))
		return fmt.Errorf("failed to create company: %w", err)
	}
	return nil
}

// GetByID retrieves a company by ID
func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	var c entity.Company
	err := r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT id, name, currency, country, created_at, updated_at
		FROM companies WHERE id = ?
	`, id).Scan(&c.ID, &c.Name, &c.Currency, &c.Country, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &c, nil
}

var _ port.CompanyRepository = (*CompanyRepository)(nil)
