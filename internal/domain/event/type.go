package event

// Type identifies the type of domain event
type Type string

const (
	TypeWorkflowCreated  Type = "workflow.created"
	TypeRequestApproved  Type = "request.approved"
	TypeRequestRejected  Type = "request.rejected"
	TypeWorkflowAdvanced Type = "workflow.advanced"
	TypeWorkflowApproved Type = "workflow.approved"
	TypeWorkflowRejected Type = "workflow.rejected"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeWorkflowCreated,
		TypeRequestApproved,
		TypeRequestRejected,
		TypeWorkflowAdvanced,
		TypeWorkflowApproved,
		TypeWorkflowRejected:
		return true
	default:
		return false
	}
}
