package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/expense-approval/internal/application/approval"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/pkg/utils"
)

// ExpenseService covers the employee side of the expense lifecycle
type ExpenseService interface {
	// Submit converts the amount to company currency and starts approval.
	// The expense and its workflow are written in one transaction.
	Submit(ctx context.Context, actorID, expenseID string) (*entity.Expense, *entity.ApprovalWorkflow, error)

	// ApplyReceipt reads a receipt and fills the draft from it. Extraction
	// failures leave the expense unchanged. A draft that was edited or
	// submitted while the receipt was read is a conflict.
	ApplyReceipt(ctx context.Context, actorID, expenseID string, content []byte, mimeType string) (*entity.Expense, error)

	Statistics(ctx context.Context, employeeID string) (*entity.ExpenseStatistics, error)
}

type expenseServiceImpl struct {
	expenses  port.ExpenseRepository
	companies port.CompanyRepository
	converter port.CurrencyConverter
	extractor port.ReceiptExtractor
	engine    approval.WorkflowEngine
	txManager port.TransactionManager
	logger    Logger
	now       func() time.Time
}

// NewExpenseService creates a new ExpenseService
func NewExpenseService(
	expenses port.ExpenseRepository,
	companies port.CompanyRepository,
	converter port.CurrencyConverter,
	extractor port.ReceiptExtractor,
	engine approval.WorkflowEngine,
	txManager port.TransactionManager,
	logger Logger,
) ExpenseService {
	return &expenseServiceImpl{
		expenses:  expenses,
		companies: companies,
		converter: converter,
		extractor: extractor,
		engine:    engine,
		txManager: txManager,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *expenseServiceImpl) Submit(ctx context.Context, actorID, expenseID string) (*entity.Expense, *entity.ApprovalWorkflow, error) {
	expense, err := s.ownedDraft(ctx, actorID, expenseID)
	if err != nil {
		return nil, nil, err
	}
	if err := utils.ValidateAmount(expense.Amount); err != nil {
		return nil, nil, apperr.Validation("amount", err.Error())
	}

	company, err := s.companies.GetByID(ctx, expense.CompanyID)
	if err != nil {
		return nil, nil, fmt.Errorf("load company: %w", err)
	}
	if company == nil {
		return nil, nil, apperr.NotFound("company", expense.CompanyID)
	}

	// rates come from the network, so convert before taking the write lock
	converted := s.converter.Convert(ctx, expense.Amount, expense.Currency, company.Currency).Round(2)

	var wf *entity.ApprovalWorkflow
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := s.expenses.GetByID(txCtx, expenseID)
		if err != nil {
			return fmt.Errorf("reload expense: %w", err)
		}
		if current == nil {
			return apperr.NotFound("expense", expenseID)
		}
		if current.Status != entity.ExpenseStatusDraft || !current.Amount.Equal(expense.Amount) || current.Currency != expense.Currency {
			return apperr.Conflict("expense %s changed while it was being submitted", expenseID)
		}

		submittedAt := s.now()
		current.AmountInCompanyCurrency.Decimal = converted
		current.AmountInCompanyCurrency.Valid = true
		current.Status = entity.ExpenseStatusSubmitted
		current.SubmittedAt = &submittedAt
		if err := s.expenses.Update(txCtx, current); err != nil {
			return fmt.Errorf("update expense: %w", err)
		}

		wf, err = s.engine.Create(txCtx, current)
		if err != nil {
			return err
		}
		expense = current
		return nil
	})
	if err != nil {
		s.logger.Error("Expense submission failed", "error", err, "expense_id", expenseID)
		return nil, nil, err
	}

	s.logger.Info("Expense submitted",
		"expense_id", expense.ID,
		"amount", expense.Amount.StringFixed(2),
		"currency", expense.Currency,
		"company_amount", converted.StringFixed(2),
		"workflow_id", wf.ID,
	)
	return expense, wf, nil
}

func (s *expenseServiceImpl) ApplyReceipt(ctx context.Context, actorID, expenseID string, content []byte, mimeType string) (*entity.Expense, error) {
	if len(content) == 0 {
		return nil, apperr.Validation("receipt", "file is empty")
	}

	expense, err := s.ownedDraft(ctx, actorID, expenseID)
	if err != nil {
		return nil, err
	}

	data, err := s.extractor.Extract(ctx, content, mimeType)
	if err != nil {
		s.logger.Error("Receipt extraction failed", "error", err, "expense_id", expenseID)
		return expense, nil
	}
	if data.IsEmpty() {
		s.logger.Info("Receipt yielded no data", "expense_id", expenseID)
		return expense, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode receipt data: %w", err)
	}

	// extraction runs outside the write lock, so the draft may have moved on
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := s.expenses.GetByID(txCtx, expenseID)
		if err != nil {
			return fmt.Errorf("reload expense: %w", err)
		}
		if current == nil {
			return apperr.NotFound("expense", expenseID)
		}
		if !sameDraft(current, expense) {
			return apperr.Conflict("expense %s changed while its receipt was being read", expenseID)
		}

		applyReceipt(current, data)
		current.ReceiptData = string(raw)
		if err := s.expenses.Update(txCtx, current); err != nil {
			return fmt.Errorf("update expense: %w", err)
		}
		expense = current
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to save receipt data", "error", err, "expense_id", expenseID)
		return nil, err
	}

	s.logger.Info("Receipt applied", "expense_id", expenseID, "merchant", data.MerchantName)
	return expense, nil
}

// sameDraft reports whether current is still the draft captured in snapshot
func sameDraft(current, snapshot *entity.Expense) bool {
	return current.Status == entity.ExpenseStatusDraft &&
		current.Amount.Equal(snapshot.Amount) &&
		current.Currency == snapshot.Currency &&
		current.Description == snapshot.Description &&
		current.ExpenseDate.Equal(snapshot.ExpenseDate) &&
		current.ReceiptData == snapshot.ReceiptData
}

// applyReceipt copies the usable receipt fields onto the draft
func applyReceipt(expense *entity.Expense, data *entity.ReceiptData) {
	if data.TotalAmount != nil && data.TotalAmount.IsPositive() {
		expense.Amount = data.TotalAmount.Round(2)
	}
	if currency, err := utils.NormalizeCurrency(data.Currency); err == nil {
		expense.Currency = currency
	}
	if data.Date != nil && !data.Date.IsZero() {
		expense.ExpenseDate = *data.Date
	}
	if expense.Description == "" && data.MerchantName != "" {
		expense.Description = "Expense at " + utils.SanitizeString(data.MerchantName)
	}
}

func (s *expenseServiceImpl) Statistics(ctx context.Context, employeeID string) (*entity.ExpenseStatistics, error) {
	stats, err := s.expenses.Statistics(ctx, employeeID)
	if err != nil {
		s.logger.Error("Failed to compute expense statistics", "error", err, "employee_id", employeeID)
		return nil, err
	}
	return stats, nil
}

// ownedDraft loads an expense the actor may still edit
func (s *expenseServiceImpl) ownedDraft(ctx context.Context, actorID, expenseID string) (*entity.Expense, error) {
	expense, err := s.expenses.GetByID(ctx, expenseID)
	if err != nil {
		return nil, fmt.Errorf("load expense: %w", err)
	}
	if expense == nil {
		return nil, apperr.NotFound("expense", expenseID)
	}
	if expense.EmployeeID != actorID {
		return nil, apperr.Forbidden("user %s does not own expense %s", actorID, expenseID)
	}
	if expense.Status != entity.ExpenseStatusDraft {
		return nil, apperr.Validation("status", fmt.Sprintf("only draft expenses can be changed, expense %s is %s", expenseID, expense.Status))
	}
	return expense, nil
}
