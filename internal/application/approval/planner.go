package approval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// PlannedStep is one step the engine will create. Approvers is empty when
// nobody in the company can take the step.
type PlannedStep struct {
	ApproverType entity.ApproverType
	Approvers    []*entity.User
}

// StepPlanner builds the ordered approval steps for an expense
type StepPlanner interface {
	Plan(ctx context.Context, expense *entity.Expense) ([]PlannedStep, error)
}

// Planner is the rule-driven StepPlanner. It performs no writes.
type Planner struct {
	rules    port.RuleRepository
	resolver *Resolver
	logger   *zap.Logger
}

// NewPlanner creates a new step planner
func NewPlanner(rules port.RuleRepository, resolver *Resolver, logger *zap.Logger) *Planner {
	return &Planner{rules: rules, resolver: resolver, logger: logger}
}

// Plan returns the steps for the expense in approval order:
//  1. the employee's direct manager, when flagged as an approver. An inactive
//     approving manager still gets the step, with no approver, so creation
//     fails instead of silently skipping manager review.
//  2. the first company rule whose threshold the amount meets
//  3. a FINANCE step when neither of the above applied
func (p *Planner) Plan(ctx context.Context, expense *entity.Expense) ([]PlannedStep, error) {
	chain, err := p.resolver.ReportingChain(ctx, expense.EmployeeID)
	if err != nil {
		return nil, err
	}

	var steps []PlannedStep
	if len(chain) > 0 {
		if manager := chain[0]; manager.IsManagerApprover {
			step := PlannedStep{ApproverType: entity.ApproverManager}
			if manager.IsActive {
				step.Approvers = []*entity.User{manager}
			} else {
				p.logger.Warn("Approving manager is inactive",
					zap.String("expense_id", expense.ID),
					zap.String("manager_id", manager.ID))
			}
			steps = append(steps, step)
		}
	}

	ruleStep, err := p.applyRules(ctx, expense)
	if err != nil {
		return nil, err
	}
	if ruleStep != nil {
		steps = append(steps, *ruleStep)
	}

	if len(steps) == 0 {
		step, err := p.resolveStep(ctx, expense.CompanyID, entity.ApproverFinance)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	p.logger.Debug("Approval steps planned",
		zap.String("expense_id", expense.ID),
		zap.Int("steps", len(steps)))

	return steps, nil
}

// applyRules evaluates active rules in order and applies only the first match
func (p *Planner) applyRules(ctx context.Context, expense *entity.Expense) (*PlannedStep, error) {
	rules, err := p.rules.ActiveRules(ctx, expense.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("load approval rules: %w", err)
	}

	amount := expense.ApprovalAmount()
	for _, rule := range rules {
		if !rule.Matches(amount) {
			continue
		}

		switch rule.RuleType {
		case entity.RuleTypeSpecific:
			approverType, err := specificApproverType(rule)
			if err != nil {
				return nil, err
			}
			step, err := p.resolveStep(ctx, expense.CompanyID, approverType)
			if err != nil {
				return nil, err
			}
			return &step, nil
		case entity.RuleTypePercentage, entity.RuleTypeHybrid:
			return nil, apperr.Configuration("approval rule %q uses rule type %s, which is not yet supported", rule.Name, rule.RuleType)
		default:
			return nil, apperr.Configuration("approval rule %q has unknown rule type %q", rule.Name, rule.RuleType)
		}
	}

	return nil, nil
}

func (p *Planner) resolveStep(ctx context.Context, companyID string, approverType entity.ApproverType) (PlannedStep, error) {
	step := PlannedStep{ApproverType: approverType}
	user, err := p.resolver.Resolve(ctx, companyID, approverType)
	if err != nil {
		return step, err
	}
	if user != nil {
		step.Approvers = []*entity.User{user}
	}
	return step, nil
}

func specificApproverType(rule *entity.ApprovalRule) (entity.ApproverType, error) {
	if rule.SpecificApproverRole == "" {
		return entity.ApproverFinance, nil
	}
	approverType, err := entity.ParseApproverType(rule.SpecificApproverRole)
	if err != nil {
		return 0, apperr.Configuration("approval rule %q names unknown approver role %q", rule.Name, rule.SpecificApproverRole)
	}
	return approverType, nil
}
