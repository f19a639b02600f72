package workflow

import "context"

// StateMachine tracks the current state of one workflow and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is configured for the current state
	CanFire(trigger Trigger) bool

	// Fire executes the trigger, moving to the first target whose guard passes
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns the triggers whose guards currently pass
	PermittedTriggers(ctx context.Context) []Trigger
}
