package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExpenseStatus is the lifecycle status of an expense
type ExpenseStatus string

const (
	ExpenseStatusDraft           ExpenseStatus = "DRAFT"
	ExpenseStatusSubmitted       ExpenseStatus = "SUBMITTED"
	ExpenseStatusPendingApproval ExpenseStatus = "PENDING_APPROVAL"
	ExpenseStatusApproved        ExpenseStatus = "APPROVED"
	ExpenseStatusRejected        ExpenseStatus = "REJECTED"
	ExpenseStatusReimbursed      ExpenseStatus = "REIMBURSED"
)

// Expense is a reimbursement claim raised by an employee
type Expense struct {
	ID                      string              `json:"id"`
	EmployeeID              string              `json:"employee_id"`
	CompanyID               string              `json:"company_id"`
	CategoryID              string              `json:"category_id"`
	Amount                  decimal.Decimal     `json:"amount"`
	Currency                string              `json:"currency"`
	AmountInCompanyCurrency decimal.NullDecimal `json:"amount_in_company_currency"`
	Description             string              `json:"description"`
	ExpenseDate             time.Time           `json:"expense_date"`
	ReceiptData             string              `json:"receipt_data,omitempty"`
	Status                  ExpenseStatus       `json:"status"`
	SubmittedAt             *time.Time          `json:"submitted_at,omitempty"`
	ApprovedAt              *time.Time          `json:"approved_at,omitempty"`
	RejectedAt              *time.Time          `json:"rejected_at,omitempty"`
	CreatedAt               time.Time           `json:"created_at"`
	UpdatedAt               time.Time           `json:"updated_at"`
}

// ApprovalAmount is the amount rules are compared against: the company
// currency amount when known, otherwise the original amount.
func (e *Expense) ApprovalAmount() decimal.Decimal {
	if e.AmountInCompanyCurrency.Valid {
		return e.AmountInCompanyCurrency.Decimal
	}
	return e.Amount
}

// ExpenseStatistics summarizes one employee's expenses
type ExpenseStatistics struct {
	TotalExpenses int64           `json:"total_expenses"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Approved      int64           `json:"approved"`
	Pending       int64           `json:"pending"`
	Rejected      int64           `json:"rejected"`
	AverageAmount decimal.Decimal `json:"average_amount"`
}

// ReceiptData is the structured result of reading a receipt image
type ReceiptData struct {
	MerchantName string            `json:"merchant_name,omitempty"`
	TotalAmount  *decimal.Decimal  `json:"total_amount,omitempty"`
	Date         *time.Time        `json:"date,omitempty"`
	Currency     string            `json:"currency,omitempty"`
	LineItems    []ReceiptLineItem `json:"line_items,omitempty"`
}

// ReceiptLineItem is a single line on a receipt
type ReceiptLineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Quantity    int             `json:"quantity"`
}

// IsEmpty returns true when nothing could be read from the receipt
func (r *ReceiptData) IsEmpty() bool {
	return r == nil || (r.MerchantName == "" && r.TotalAmount == nil && r.Date == nil && len(r.LineItems) == 0)
}
