package workflow

// State is the status of an approval workflow
type State string

const (
	StatePending    State = "PENDING"
	StateInProgress State = "IN_PROGRESS"
	StateApproved   State = "APPROVED"
	StateRejected   State = "REJECTED"
)

var validStates = map[State]bool{
	StatePending:    true,
	StateInProgress: true,
	StateApproved:   true,
	StateRejected:   true,
}

var terminalStates = map[State]bool{
	StateApproved: true,
	StateRejected: true,
}

// IsTerminal returns true once the workflow can no longer change
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsOpen returns true while approvers can still act on the workflow
func (s State) IsOpen() bool {
	return s.IsValid() && !s.IsTerminal()
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known workflow state
func (s State) IsValid() bool {
	return validStates[s]
}
