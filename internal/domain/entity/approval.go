package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// RuleType selects how a matched rule builds its step
type RuleType string

const (
	RuleTypePercentage RuleType = "PERCENTAGE"
	RuleTypeSpecific   RuleType = "SPECIFIC"
	RuleTypeHybrid     RuleType = "HYBRID"
)

// RequestStatus is the decision state of a single approval request
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusRejected RequestStatus = "REJECTED"
)

// Action is an approver's decision on a request
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// IsValid returns true for approve and reject
func (a Action) IsValid() bool {
	return a == ActionApprove || a == ActionReject
}

// ApprovalRule is a company policy that may add a step for large expenses
type ApprovalRule struct {
	ID                   string              `json:"id"`
	CompanyID            string              `json:"company_id"`
	Name                 string              `json:"name"`
	RuleType             RuleType            `json:"rule_type"`
	ThresholdAmount      decimal.NullDecimal `json:"threshold_amount"`
	PercentageRequired   *int                `json:"percentage_required,omitempty"`
	SpecificApproverRole string              `json:"specific_approver_role,omitempty"`
	Priority             int                 `json:"priority"`
	IsActive             bool                `json:"is_active"`
	CreatedAt            time.Time           `json:"created_at"`
}

// Matches reports whether the rule applies to amount. A rule without a
// positive threshold never matches.
func (r *ApprovalRule) Matches(amount decimal.Decimal) bool {
	if !r.ThresholdAmount.Valid || !r.ThresholdAmount.Decimal.IsPositive() {
		return false
	}
	return amount.GreaterThanOrEqual(r.ThresholdAmount.Decimal)
}

// ApprovalWorkflow is the ordered approval process attached to one expense
type ApprovalWorkflow struct {
	ID          string         `json:"id"`
	ExpenseID   string         `json:"expense_id"`
	Status      workflow.State `json:"status"`
	CurrentStep int            `json:"current_step"`
	TotalSteps  int            `json:"total_steps"`
	Version     int64          `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	Steps []*ApprovalStep `json:"steps,omitempty"`
}

// Progress returns the step position used by the state machine
func (w *ApprovalWorkflow) Progress() workflow.Progress {
	return workflow.Progress{CurrentStep: w.CurrentStep, TotalSteps: w.TotalSteps}
}

// ApprovalStep is one stage of a workflow
type ApprovalStep struct {
	ID           string       `json:"id"`
	WorkflowID   string       `json:"workflow_id"`
	StepNumber   int          `json:"step_number"`
	ApproverType ApproverType `json:"approver_type"`
	ApproverID   *string      `json:"approver_id,omitempty"`
	IsCompleted  bool         `json:"is_completed"`
	CreatedAt    time.Time    `json:"created_at"`

	Requests []*ApprovalRequest `json:"requests,omitempty"`
}

// ApprovalRequest is one approver's decision slot within a step
type ApprovalRequest struct {
	ID         string        `json:"id"`
	StepID     string        `json:"step_id"`
	ApproverID string        `json:"approver_id"`
	Status     RequestStatus `json:"status"`
	Comments   string        `json:"comments,omitempty"`
	ApprovedAt *time.Time    `json:"approved_at,omitempty"`
	RejectedAt *time.Time    `json:"rejected_at,omitempty"`
	IssuedAt   *time.Time    `json:"issued_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// PendingApproval is a request awaiting the caller joined with its expense context
type PendingApproval struct {
	Request      *ApprovalRequest `json:"request"`
	StepNumber   int              `json:"step_number"`
	WorkflowID   string           `json:"workflow_id"`
	Expense      *Expense         `json:"expense"`
	Employee     *User            `json:"employee"`
	CategoryName string           `json:"category_name"`
}
