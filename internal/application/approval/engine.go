package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

// WorkflowEngine creates approval workflows and applies approver decisions
type WorkflowEngine interface {
	// Create plans and persists the workflow for a submitted expense, activates
	// its first step and moves the expense to PENDING_APPROVAL
	Create(ctx context.Context, expense *entity.Expense) (*entity.ApprovalWorkflow, error)

	// ProcessApproval applies an approve or reject decision to a pending request
	ProcessApproval(ctx context.Context, requestID string, action entity.Action, comments string) (*entity.ApprovalWorkflow, error)

	// PendingApprovals lists the requests a user can act on now, newest first
	PendingApprovals(ctx context.Context, userID string) ([]*entity.PendingApproval, error)

	// Workflow returns the workflow of an expense with its steps and requests
	Workflow(ctx context.Context, expenseID string) (*entity.ApprovalWorkflow, error)
}

// Repositories groups the stores the engine writes through
type Repositories struct {
	Workflows port.WorkflowRepository
	Steps     port.StepRepository
	Requests  port.RequestRepository
	Expenses  port.ExpenseStatusSync
}

type engineImpl struct {
	planner    StepPlanner
	repos      Repositories
	txManager  port.TransactionManager
	dispatcher dispatcher.Dispatcher
	logger     *zap.Logger
	tracer     trace.Tracer
	locks      *keyedMutex
	now        func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher publishes workflow events after each committed change
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithClock overrides the time source used for decision timestamps
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	planner StepPlanner,
	repos Repositories,
	txManager port.TransactionManager,
	logger *zap.Logger,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		planner:   planner,
		repos:     repos,
		txManager: txManager,
		logger:    logger,
		tracer:    otel.Tracer("expense-approval/internal/application/approval"),
		locks:     newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *engineImpl) Create(ctx context.Context, expense *entity.Expense) (*entity.ApprovalWorkflow, error) {
	ctx, span := e.tracer.Start(ctx, "ApprovalEngine.Create",
		trace.WithAttributes(attribute.String("expense.id", expense.ID)))
	defer span.End()

	var wf *entity.ApprovalWorkflow
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		planned, err := e.planner.Plan(txCtx, expense)
		if err != nil {
			return err
		}
		if len(planned) == 0 {
			return apperr.Configuration("no approval steps could be planned for expense %s", expense.ID)
		}
		for i, step := range planned {
			if len(step.Approvers) == 0 {
				return apperr.Configuration(
					"no active %s-role user in company %s can approve step %d (%s)",
					step.ApproverType.Role(), expense.CompanyID, i+1, step.ApproverType)
			}
		}

		wf = &entity.ApprovalWorkflow{
			ExpenseID:   expense.ID,
			Status:      domainwf.StatePending,
			CurrentStep: 1,
			TotalSteps:  len(planned),
		}
		if err := e.repos.Workflows.Create(txCtx, wf); err != nil {
			return err
		}

		for i, planStep := range planned {
			step, err := e.createStep(txCtx, wf.ID, i+1, planStep)
			if err != nil {
				return err
			}
			wf.Steps = append(wf.Steps, step)
		}

		if err := e.activateStep(txCtx, wf.Steps[0]); err != nil {
			return err
		}

		if err := e.repos.Expenses.MarkPendingApproval(txCtx, expense.ID); err != nil {
			return fmt.Errorf("mark expense pending approval: %w", err)
		}
		expense.Status = entity.ExpenseStatusPendingApproval

		created := event.NewEvent(event.TypeWorkflowCreated, wf.ID, wf.ExpenseID, map[string]interface{}{
			"total_steps": wf.TotalSteps,
		})
		e.txManager.AfterCommit(txCtx, func() { e.publish(ctx, created) })
		return nil
	})
	if err != nil {
		recordSpanError(span, err, "create workflow failed")
		e.logger.Warn("Workflow creation failed",
			zap.String("expense_id", expense.ID),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("workflow.id", wf.ID),
		attribute.Int("workflow.total_steps", wf.TotalSteps))
	e.logger.Info("Workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("expense_id", expense.ID),
		zap.Int("total_steps", wf.TotalSteps))

	return wf, nil
}

func (e *engineImpl) createStep(ctx context.Context, workflowID string, number int, planned PlannedStep) (*entity.ApprovalStep, error) {
	approverID := planned.Approvers[0].ID
	step := &entity.ApprovalStep{
		WorkflowID:   workflowID,
		StepNumber:   number,
		ApproverType: planned.ApproverType,
		ApproverID:   &approverID,
	}
	if err := e.repos.Steps.Create(ctx, step); err != nil {
		return nil, err
	}

	for _, approver := range planned.Approvers {
		req := &entity.ApprovalRequest{
			StepID:     step.ID,
			ApproverID: approver.ID,
			Status:     entity.RequestStatusPending,
		}
		if err := e.repos.Requests.Create(ctx, req); err != nil {
			return nil, err
		}
		step.Requests = append(step.Requests, req)
	}

	return step, nil
}

// activateStep issues the step's pending requests to their approvers
func (e *engineImpl) activateStep(ctx context.Context, step *entity.ApprovalStep) error {
	issuedAt := e.now()
	if err := e.repos.Requests.Issue(ctx, step.ID, issuedAt); err != nil {
		return err
	}
	for _, req := range step.Requests {
		if req.Status == entity.RequestStatusPending {
			req.IssuedAt = &issuedAt
		}
	}
	return nil
}

func (e *engineImpl) ProcessApproval(ctx context.Context, requestID string, action entity.Action, comments string) (*entity.ApprovalWorkflow, error) {
	ctx, span := e.tracer.Start(ctx, "ApprovalEngine.ProcessApproval",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("action", string(action))))
	defer span.End()

	if !action.IsValid() {
		err := apperr.Validation("action", fmt.Sprintf("must be %q or %q, got %q", entity.ActionApprove, entity.ActionReject, action))
		recordSpanError(span, err, "invalid action")
		return nil, err
	}

	workflowID, err := e.workflowIDForRequest(ctx, requestID)
	if err != nil {
		recordSpanError(span, err, "request lookup failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("workflow.id", workflowID))

	unlock := e.locks.Lock(workflowID)
	defer unlock()

	var wf *entity.ApprovalWorkflow
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var (
			events []*event.Event
			err    error
		)
		wf, events, err = e.decide(txCtx, requestID, action, comments)
		if err != nil {
			return err
		}
		e.txManager.AfterCommit(txCtx, func() { e.publish(ctx, events...) })
		return nil
	})
	if err != nil {
		recordSpanError(span, err, "process approval failed")
		e.logger.Warn("Approval not applied",
			zap.String("request_id", requestID),
			zap.String("action", string(action)),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("workflow.status", wf.Status.String()))
	e.logger.Info("Approval processed",
		zap.String("request_id", requestID),
		zap.String("workflow_id", wf.ID),
		zap.String("action", string(action)),
		zap.String("workflow_status", wf.Status.String()),
		zap.Int("current_step", wf.CurrentStep))

	return wf, nil
}

func (e *engineImpl) workflowIDForRequest(ctx context.Context, requestID string) (string, error) {
	req, err := e.repos.Requests.GetByID(ctx, requestID)
	if err != nil {
		return "", fmt.Errorf("load approval request: %w", err)
	}
	if req == nil {
		return "", apperr.NotFound("approval request", requestID)
	}
	step, err := e.repos.Steps.GetByID(ctx, req.StepID)
	if err != nil {
		return "", fmt.Errorf("load approval step: %w", err)
	}
	if step == nil {
		return "", apperr.NotFound("approval step", req.StepID)
	}
	return step.WorkflowID, nil
}

// decide runs the read-decide-write sequence; every read happens inside the
// caller's transaction
func (e *engineImpl) decide(ctx context.Context, requestID string, action entity.Action, comments string) (*entity.ApprovalWorkflow, []*event.Event, error) {
	req, err := e.repos.Requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, nil, fmt.Errorf("load approval request: %w", err)
	}
	if req == nil {
		return nil, nil, apperr.NotFound("approval request", requestID)
	}
	if req.Status != entity.RequestStatusPending {
		return nil, nil, apperr.Conflict("approval request %s has already been decided (%s)", req.ID, req.Status)
	}

	step, err := e.repos.Steps.GetByID(ctx, req.StepID)
	if err != nil {
		return nil, nil, fmt.Errorf("load approval step: %w", err)
	}
	if step == nil {
		return nil, nil, apperr.NotFound("approval step", req.StepID)
	}

	wf, err := e.repos.Workflows.GetByID(ctx, step.WorkflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("load workflow: %w", err)
	}
	if wf == nil {
		return nil, nil, apperr.NotFound("approval workflow", step.WorkflowID)
	}
	if wf.Status.IsTerminal() {
		return nil, nil, apperr.Conflict("workflow %s is already %s", wf.ID, wf.Status)
	}
	if step.StepNumber != wf.CurrentStep {
		return nil, nil, apperr.Conflict("step %d of workflow %s is not active (current step is %d)", step.StepNumber, wf.ID, wf.CurrentStep)
	}

	machine, err := domainwf.NewApprovalMachine(wf.Status, wf.Progress())
	if err != nil {
		return nil, nil, fmt.Errorf("build state machine: %w", err)
	}
	expectedVersion := wf.Version
	decidedAt := e.now()
	correlationID := req.ID

	req.Comments = comments
	var events []*event.Event
	if action == entity.ActionReject {
		req.Status = entity.RequestStatusRejected
		req.RejectedAt = &decidedAt
		if err := e.repos.Requests.Decide(ctx, req); err != nil {
			return nil, nil, err
		}
		if err := e.fire(ctx, machine, domainwf.TriggerReject, wf); err != nil {
			return nil, nil, err
		}
		if err := e.repos.Workflows.Update(ctx, wf, expectedVersion); err != nil {
			return nil, nil, err
		}
		if err := e.repos.Expenses.MarkRejected(ctx, wf.ExpenseID, decidedAt); err != nil {
			return nil, nil, fmt.Errorf("mark expense rejected: %w", err)
		}

		events = append(events,
			e.requestEvent(event.TypeRequestRejected, wf, req, step, correlationID),
			event.NewEventWithCorrelation(event.TypeWorkflowRejected, wf.ID, wf.ExpenseID, map[string]interface{}{
				"step_number": step.StepNumber,
			}, correlationID))
		return wf, events, nil
	}

	req.Status = entity.RequestStatusApproved
	req.ApprovedAt = &decidedAt
	if err := e.repos.Requests.Decide(ctx, req); err != nil {
		return nil, nil, err
	}
	events = append(events, e.requestEvent(event.TypeRequestApproved, wf, req, step, correlationID))

	stepRequests, err := e.repos.Requests.ListByStep(ctx, step.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load step requests: %w", err)
	}

	if allApproved(stepRequests) {
		if err := e.repos.Steps.MarkCompleted(ctx, step.ID); err != nil {
			return nil, nil, err
		}

		if wf.Progress().HasNextStep() {
			if err := e.fire(ctx, machine, domainwf.TriggerAdvance, wf); err != nil {
				return nil, nil, err
			}
			wf.CurrentStep++

			next, err := e.repos.Steps.GetByNumber(ctx, wf.ID, wf.CurrentStep)
			if err != nil {
				return nil, nil, fmt.Errorf("load next step: %w", err)
			}
			if next == nil {
				return nil, nil, apperr.Configuration("workflow %s has no step %d", wf.ID, wf.CurrentStep)
			}
			if err := e.repos.Requests.Issue(ctx, next.ID, decidedAt); err != nil {
				return nil, nil, err
			}
			events = append(events, event.NewEventWithCorrelation(event.TypeWorkflowAdvanced, wf.ID, wf.ExpenseID, map[string]interface{}{
				"step_number": wf.CurrentStep,
				"total_steps": wf.TotalSteps,
			}, correlationID))
		} else {
			if err := e.fire(ctx, machine, domainwf.TriggerApprove, wf); err != nil {
				return nil, nil, err
			}
			if err := e.repos.Expenses.MarkApproved(ctx, wf.ExpenseID, decidedAt); err != nil {
				return nil, nil, fmt.Errorf("mark expense approved: %w", err)
			}
			events = append(events, event.NewEventWithCorrelation(event.TypeWorkflowApproved, wf.ID, wf.ExpenseID, map[string]interface{}{
				"total_steps": wf.TotalSteps,
			}, correlationID))
		}
	}

	// The version bump also runs for partial approvals so that two decisions
	// on the same step can never both commit against the same snapshot.
	if err := e.repos.Workflows.Update(ctx, wf, expectedVersion); err != nil {
		return nil, nil, err
	}

	return wf, events, nil
}

func (e *engineImpl) fire(ctx context.Context, machine domainwf.StateMachine, trigger domainwf.Trigger, wf *entity.ApprovalWorkflow) error {
	if err := machine.Fire(ctx, trigger); err != nil {
		if errors.Is(err, domainwf.ErrInvalidTransition) || errors.Is(err, domainwf.ErrGuardFailed) {
			return apperr.Wrap(err, apperr.KindConflict, fmt.Sprintf("workflow %s cannot %s from %s", wf.ID, trigger, wf.Status))
		}
		return err
	}
	wf.Status = machine.State()
	return nil
}

func (e *engineImpl) requestEvent(t event.Type, wf *entity.ApprovalWorkflow, req *entity.ApprovalRequest, step *entity.ApprovalStep, correlationID string) *event.Event {
	return event.NewEventWithCorrelation(t, wf.ID, wf.ExpenseID, map[string]interface{}{
		"request_id":    req.ID,
		"approver_id":   req.ApproverID,
		"step_number":   step.StepNumber,
		"approver_type": step.ApproverType.String(),
	}, correlationID)
}

func allApproved(requests []*entity.ApprovalRequest) bool {
	if len(requests) == 0 {
		return false
	}
	for _, r := range requests {
		if r.Status != entity.RequestStatusApproved {
			return false
		}
	}
	return true
}

func (e *engineImpl) PendingApprovals(ctx context.Context, userID string) ([]*entity.PendingApproval, error) {
	ctx, span := e.tracer.Start(ctx, "ApprovalEngine.PendingApprovals",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	pending, err := e.repos.Requests.PendingForApprover(ctx, userID)
	if err != nil {
		recordSpanError(span, err, "list pending approvals failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("pending.count", len(pending)))
	return pending, nil
}

func (e *engineImpl) Workflow(ctx context.Context, expenseID string) (*entity.ApprovalWorkflow, error) {
	var wf *entity.ApprovalWorkflow
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		wf, err = e.repos.Workflows.GetByExpenseID(txCtx, expenseID)
		if err != nil {
			return err
		}
		if wf == nil {
			return apperr.NotFound("approval workflow for expense", expenseID)
		}

		wf.Steps, err = e.repos.Steps.ListByWorkflow(txCtx, wf.ID)
		if err != nil {
			return err
		}
		for _, step := range wf.Steps {
			if step.Requests, err = e.repos.Requests.ListByStep(txCtx, step.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func (e *engineImpl) publish(ctx context.Context, evts ...*event.Event) {
	if e.dispatcher == nil || len(evts) == 0 {
		return
	}
	e.dispatcher.Publish(ctx, evts...)
}

func recordSpanError(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}
