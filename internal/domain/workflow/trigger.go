package workflow

// Trigger is an engine decision that moves a workflow between states
type Trigger string

const (
	// TriggerAdvance fires when a step completes and another step follows
	TriggerAdvance Trigger = "ADVANCE"
	// TriggerApprove fires when the last step completes
	TriggerApprove Trigger = "APPROVE"
	// TriggerReject fires on the first rejected request
	TriggerReject Trigger = "REJECT"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
