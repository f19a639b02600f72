package approval

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
	"github.com/garyjia/expense-approval/internal/testutil"
)

type fixedPlanner []PlannedStep

func (p fixedPlanner) Plan(ctx context.Context, expense *entity.Expense) ([]PlannedStep, error) {
	return p, nil
}

type eventRecorder struct {
	mu    sync.Mutex
	types []event.Type
}

func (r *eventRecorder) handle(ctx context.Context, evt *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, evt.Type)
	return nil
}

func (r *eventRecorder) recorded() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Type(nil), r.types...)
}

func repositoriesOf(f *testutil.Fixture) Repositories {
	return Repositories{
		Workflows: f.Workflows,
		Steps:     f.Steps,
		Requests:  f.Requests,
		Expenses:  f.Expenses,
	}
}

func newTestEngine(f *testutil.Fixture, opts ...EngineOption) WorkflowEngine {
	planner := NewPlanner(f.Rules, NewResolver(f.Users, zap.NewNop()), zap.NewNop())
	return NewEngine(planner, repositoriesOf(f), f.DB, zap.NewNop(), opts...)
}

func newRecordingEngine(f *testutil.Fixture) (WorkflowEngine, *eventRecorder) {
	rec := &eventRecorder{}
	d := dispatcher.NewDispatcher()
	d.SubscribeAll("recorder", rec.handle)
	return newTestEngine(f, WithDispatcher(d)), rec
}

func requestID(wf *entity.ApprovalWorkflow, step, index int) string {
	return wf.Steps[step-1].Requests[index].ID
}

func TestEngine_ManagerThenFinanceApprove(t *testing.T) {
	f := testutil.NewFixture(t)
	f.AddRule(t, "finance over 100", 1, "100", "FINANCE")
	expense := f.AddExpense(t, "500", entity.ExpenseStatusSubmitted)
	engine, rec := newRecordingEngine(f)
	ctx := context.Background()

	wf, err := engine.Create(ctx, expense)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePending, wf.Status)
	assert.Equal(t, 1, wf.CurrentStep)
	require.Equal(t, 2, wf.TotalSteps)
	assert.Equal(t, entity.ApproverManager, wf.Steps[0].ApproverType)
	assert.Equal(t, f.Manager.ID, wf.Steps[0].Requests[0].ApproverID)
	assert.Equal(t, entity.ApproverFinance, wf.Steps[1].ApproverType)
	assert.Equal(t, f.Finance.ID, wf.Steps[1].Requests[0].ApproverID)
	assert.Equal(t, entity.ExpenseStatusPendingApproval, f.Expense(t, expense.ID).Status)

	pending, err := engine.PendingApprovals(ctx, f.Finance.ID)
	require.NoError(t, err)
	assert.Empty(t, pending, "finance step is not active yet")

	pending, err = engine.PendingApprovals(ctx, f.Manager.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, expense.ID, pending[0].Expense.ID)
	assert.Equal(t, f.Employee.ID, pending[0].Employee.ID)
	assert.Equal(t, "Travel", pending[0].CategoryName)
	assert.Equal(t, 1, pending[0].StepNumber)

	wf, err = engine.ProcessApproval(ctx, requestID(wf, 1, 0), entity.ActionApprove, "ok")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateInProgress, wf.Status)
	assert.Equal(t, 2, wf.CurrentStep)

	pending, err = engine.PendingApprovals(ctx, f.Finance.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].StepNumber)

	wf, err = engine.ProcessApproval(ctx, pending[0].Request.ID, entity.ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApproved, wf.Status)

	stored := f.Expense(t, expense.ID)
	assert.Equal(t, entity.ExpenseStatusApproved, stored.Status)
	assert.NotNil(t, stored.ApprovedAt)
	assert.Nil(t, stored.RejectedAt)

	assert.Equal(t, []event.Type{
		event.TypeWorkflowCreated,
		event.TypeRequestApproved,
		event.TypeWorkflowAdvanced,
		event.TypeRequestApproved,
		event.TypeWorkflowApproved,
	}, rec.recorded())
}

func TestEngine_ManagerRejects(t *testing.T) {
	f := testutil.NewFixture(t)
	f.AddRule(t, "finance over 100", 1, "100", "FINANCE")
	expense := f.AddExpense(t, "500", entity.ExpenseStatusSubmitted)
	engine, rec := newRecordingEngine(f)
	ctx := context.Background()

	wf, err := engine.Create(ctx, expense)
	require.NoError(t, err)

	rejected, err := engine.ProcessApproval(ctx, requestID(wf, 1, 0), entity.ActionReject, "missing receipt")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateRejected, rejected.Status)

	stored := f.Expense(t, expense.ID)
	assert.Equal(t, entity.ExpenseStatusRejected, stored.Status)
	assert.NotNil(t, stored.RejectedAt)

	req, err := f.Requests.GetByID(ctx, requestID(wf, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusRejected, req.Status)
	assert.Equal(t, "missing receipt", req.Comments)
	assert.NotNil(t, req.RejectedAt)

	pending, err := engine.PendingApprovals(ctx, f.Finance.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = engine.ProcessApproval(ctx, requestID(wf, 2, 0), entity.ActionApprove, "")
	assert.ErrorIs(t, err, apperr.ErrConflict, "terminal workflow accepts no decisions")

	assert.Equal(t, []event.Type{
		event.TypeWorkflowCreated,
		event.TypeRequestRejected,
		event.TypeWorkflowRejected,
	}, rec.recorded())
}

func TestEngine_FallbackFinanceStep(t *testing.T) {
	f := testutil.NewFixture(t)
	f.ClearApprover(t, f.Manager)
	expense := f.AddExpense(t, "40", entity.ExpenseStatusSubmitted)
	engine := newTestEngine(f)

	wf, err := engine.Create(context.Background(), expense)
	require.NoError(t, err)
	require.Equal(t, 1, wf.TotalSteps)
	assert.Equal(t, entity.ApproverFinance, wf.Steps[0].ApproverType)
	assert.Equal(t, f.Finance.ID, *wf.Steps[0].ApproverID)

	wf, err = engine.ProcessApproval(context.Background(), requestID(wf, 1, 0), entity.ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApproved, wf.Status)
}

func TestEngine_InactiveApprovingManagerFailsCreate(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Deactivate(t, f.Manager)
	expense := f.AddExpense(t, "40", entity.ExpenseStatusSubmitted)
	engine, rec := newRecordingEngine(f)

	_, err := engine.Create(context.Background(), expense)
	require.ErrorIs(t, err, apperr.ErrConfiguration)
	assert.Contains(t, err.Error(), "MANAGER")

	assert.Zero(t, f.Count(t, "approval_workflows"))
	assert.Zero(t, f.Count(t, "approval_requests"))
	assert.Empty(t, rec.recorded())
}

func TestEngine_CreateRollsBackWhenStepHasNoApprover(t *testing.T) {
	f := testutil.NewFixture(t)
	f.AddRule(t, "cfo over 1000", 1, "1000", "CFO")
	f.Deactivate(t, f.Admin)
	expense := f.AddExpense(t, "2500", entity.ExpenseStatusSubmitted)
	engine, rec := newRecordingEngine(f)

	_, err := engine.Create(context.Background(), expense)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
	assert.Contains(t, err.Error(), "ADMIN")

	assert.Zero(t, f.Count(t, "approval_workflows"))
	assert.Zero(t, f.Count(t, "approval_steps"))
	assert.Zero(t, f.Count(t, "approval_requests"))
	assert.Equal(t, entity.ExpenseStatusSubmitted, f.Expense(t, expense.ID).Status)
	assert.Empty(t, rec.recorded())
}

func TestEngine_CreateTwiceConflicts(t *testing.T) {
	f := testutil.NewFixture(t)
	expense := f.AddExpense(t, "80", entity.ExpenseStatusSubmitted)
	engine := newTestEngine(f)

	_, err := engine.Create(context.Background(), expense)
	require.NoError(t, err)

	_, err = engine.Create(context.Background(), expense)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, 1, f.Count(t, "approval_workflows"))
}

func TestEngine_DecisionErrors(t *testing.T) {
	f := testutil.NewFixture(t)
	f.AddRule(t, "finance over 100", 1, "100", "FINANCE")
	expense := f.AddExpense(t, "500", entity.ExpenseStatusSubmitted)
	engine := newTestEngine(f)
	ctx := context.Background()

	wf, err := engine.Create(ctx, expense)
	require.NoError(t, err)

	t.Run("unknown action", func(t *testing.T) {
		_, err := engine.ProcessApproval(ctx, requestID(wf, 1, 0), entity.Action("escalate"), "")
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("unknown request", func(t *testing.T) {
		_, err := engine.ProcessApproval(ctx, "no-such-request", entity.ActionApprove, "")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("step not yet active", func(t *testing.T) {
		_, err := engine.ProcessApproval(ctx, requestID(wf, 2, 0), entity.ActionApprove, "")
		assert.ErrorIs(t, err, apperr.ErrConflict)

		req, err := f.Requests.GetByID(ctx, requestID(wf, 2, 0))
		require.NoError(t, err)
		assert.Equal(t, entity.RequestStatusPending, req.Status)
	})

	t.Run("already decided", func(t *testing.T) {
		_, err := engine.ProcessApproval(ctx, requestID(wf, 1, 0), entity.ActionApprove, "")
		require.NoError(t, err)

		_, err = engine.ProcessApproval(ctx, requestID(wf, 1, 0), entity.ActionReject, "changed my mind")
		assert.ErrorIs(t, err, apperr.ErrConflict)

		req, err := f.Requests.GetByID(ctx, requestID(wf, 1, 0))
		require.NoError(t, err)
		assert.Equal(t, entity.RequestStatusApproved, req.Status)
		assert.Nil(t, req.RejectedAt)
	})
}

func TestEngine_StepCompletesOnlyWhenAllRequestsApproved(t *testing.T) {
	f := testutil.NewFixture(t)
	expense := f.AddExpense(t, "900", entity.ExpenseStatusSubmitted)
	planner := fixedPlanner{{
		ApproverType: entity.ApproverFinance,
		Approvers:    []*entity.User{f.Finance, f.Admin},
	}}
	engine := NewEngine(planner, repositoriesOf(f), f.DB, zap.NewNop())
	ctx := context.Background()

	wf, err := engine.Create(ctx, expense)
	require.NoError(t, err)
	require.Len(t, wf.Steps[0].Requests, 2)

	wf, err = engine.ProcessApproval(ctx, requestID(wf, 1, 0), entity.ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePending, wf.Status)

	step, err := f.Steps.GetByNumber(ctx, wf.ID, 1)
	require.NoError(t, err)
	assert.False(t, step.IsCompleted)
	assert.Equal(t, entity.ExpenseStatusPendingApproval, f.Expense(t, expense.ID).Status)

	requests, err := f.Requests.ListByStep(ctx, step.ID)
	require.NoError(t, err)
	var remaining string
	for _, r := range requests {
		if r.Status == entity.RequestStatusPending {
			remaining = r.ID
		}
	}
	require.NotEmpty(t, remaining)

	wf, err = engine.ProcessApproval(ctx, remaining, entity.ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApproved, wf.Status)

	step, err = f.Steps.GetByNumber(ctx, wf.ID, 1)
	require.NoError(t, err)
	assert.True(t, step.IsCompleted)
}

func TestEngine_ConcurrentDecisionsOnSameRequest(t *testing.T) {
	f := testutil.NewFixture(t)
	f.ClearApprover(t, f.Manager)
	expense := f.AddExpense(t, "60", entity.ExpenseStatusSubmitted)
	engine := newTestEngine(f)
	ctx := context.Background()

	wf, err := engine.Create(ctx, expense)
	require.NoError(t, err)
	id := requestID(wf, 1, 0)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			action := entity.ActionApprove
			if i%2 == 1 {
				action = entity.ActionReject
			}
			_, errs[i] = engine.ProcessApproval(ctx, id, action, "")
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)

	stored, err := f.Workflows.GetByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.True(t, stored.Status.IsTerminal())
	assert.Equal(t, int64(1), stored.Version)
}

func TestEngine_SeparateEnginesShareOneWorkflow(t *testing.T) {
	f := testutil.NewFixture(t)
	expense := f.AddExpense(t, "900", entity.ExpenseStatusSubmitted)
	planner := fixedPlanner{{
		ApproverType: entity.ApproverFinance,
		Approvers:    []*entity.User{f.Finance, f.Admin},
	}}
	ctx := context.Background()

	wf, err := NewEngine(planner, repositoriesOf(f), f.DB, zap.NewNop()).Create(ctx, expense)
	require.NoError(t, err)

	// each engine has its own lock table, as two processes would
	engines := []WorkflowEngine{
		NewEngine(planner, repositoriesOf(f), f.DB, zap.NewNop()),
		NewEngine(planner, repositoriesOf(f), f.DB, zap.NewNop()),
	}

	errs := make([]error, len(engines))
	var wg sync.WaitGroup
	for i, e := range engines {
		wg.Add(1)
		go func(i int, e WorkflowEngine) {
			defer wg.Done()
			_, errs[i] = e.ProcessApproval(ctx, requestID(wf, 1, i), entity.ActionApprove, "")
		}(i, e)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	stored, err := f.Workflows.GetByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApproved, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, entity.ExpenseStatusApproved, f.Expense(t, expense.ID).Status)
}

func TestEngine_PendingApprovalsNewestFirst(t *testing.T) {
	f := testutil.NewFixture(t)
	engine := newTestEngine(f, WithClock(testutil.SteppingClock(testutil.Epoch)))
	ctx := context.Background()

	first := f.AddExpense(t, "20", entity.ExpenseStatusSubmitted)
	second := f.AddExpense(t, "30", entity.ExpenseStatusSubmitted)
	_, err := engine.Create(ctx, first)
	require.NoError(t, err)
	_, err = engine.Create(ctx, second)
	require.NoError(t, err)

	pending, err := engine.PendingApprovals(ctx, f.Manager.ID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, second.ID, pending[0].Expense.ID)
	assert.Equal(t, first.ID, pending[1].Expense.ID)
	assert.True(t, pending[0].Request.IssuedAt.After(*pending[1].Request.IssuedAt))

	pending, err = engine.PendingApprovals(ctx, f.Employee.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEngine_Workflow(t *testing.T) {
	f := testutil.NewFixture(t)
	f.AddRule(t, "director over 100", 1, "100", "DIRECTOR")
	expense := f.AddExpense(t, "150", entity.ExpenseStatusSubmitted)
	engine := newTestEngine(f)
	ctx := context.Background()

	created, err := engine.Create(ctx, expense)
	require.NoError(t, err)

	wf, err := engine.Workflow(ctx, expense.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, wf.ID)
	require.Len(t, wf.Steps, 2)
	assert.Equal(t, entity.ApproverDirector, wf.Steps[1].ApproverType)
	require.Len(t, wf.Steps[0].Requests, 1)
	assert.NotNil(t, wf.Steps[0].Requests[0].IssuedAt)
	assert.Nil(t, wf.Steps[1].Requests[0].IssuedAt)

	_, err = engine.Workflow(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
