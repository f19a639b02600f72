package workflow

import "context"

// Progress describes where a workflow stands in its step sequence
type Progress struct {
	CurrentStep int
	TotalSteps  int
}

// HasNextStep reports whether a step follows the current one
func (p Progress) HasNextStep() bool {
	return p.CurrentStep < p.TotalSteps
}

// NewApprovalMachine returns the machine governing workflow status changes.
//
// PENDING and IN_PROGRESS both accept REJECT. APPROVE is only permitted on the
// last step and ADVANCE only when another step follows.
func NewApprovalMachine(current State, progress Progress) (StateMachine, error) {
	hasNext := func(context.Context) bool { return progress.HasNextStep() }
	isLast := func(context.Context) bool { return !progress.HasNextStep() }

	b := NewBuilder()
	for _, s := range []State{StatePending, StateInProgress} {
		b.Configure(s).
			PermitIf(TriggerAdvance, StateInProgress, hasNext).
			PermitIf(TriggerApprove, StateApproved, isLast).
			Permit(TriggerReject, StateRejected)
	}

	return b.Build(current)
}
