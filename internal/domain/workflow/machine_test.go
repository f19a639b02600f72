package workflow

import (
	"context"
	"errors"
	"testing"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StatePending, false},
		{StateInProgress, false},
		{StateApproved, true},
		{StateRejected, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
			if got := tt.state.IsOpen(); got == tt.expected {
				t.Errorf("State.IsOpen() = %v, want %v", got, !tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"pending", StatePending, true},
		{"rejected", StateRejected, true},
		{"invalid state", State("COMPLETED"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuilder_ConfigurePanicsOnTerminalState(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Configure() should panic on terminal state")
		}
	}()

	NewBuilder().Configure(StateApproved)
}

func TestBuilder_BuildRejectsInvalidInitialState(t *testing.T) {
	_, err := NewBuilder().Build(State("INVALID"))
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Build() error = %v, want %v", err, ErrInvalidState)
	}
}

func TestStateConfiguration_PermitIf_GuardFails(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePending).
		PermitIf(TriggerAdvance, StateInProgress, func(ctx context.Context) bool {
			return false
		})

	machine, err := builder.Build(StatePending)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	err = machine.Fire(context.Background(), TriggerAdvance)
	if !errors.Is(err, ErrGuardFailed) {
		t.Errorf("Fire() error = %v, want %v", err, ErrGuardFailed)
	}
	if machine.State() != StatePending {
		t.Errorf("State should remain %v after failed Fire(), got %v", StatePending, machine.State())
	}
}

func TestStateMachine_Immutability(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePending).Permit(TriggerReject, StateRejected)

	machine1, _ := builder.Build(StatePending)
	machine2, _ := builder.Build(StatePending)

	if err := machine1.Fire(context.Background(), TriggerReject); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if machine2.State() != StatePending {
		t.Errorf("machine2 state = %v, want %v", machine2.State(), StatePending)
	}
}

func TestApprovalMachine_Transitions(t *testing.T) {
	tests := []struct {
		name     string
		from     State
		progress Progress
		trigger  Trigger
		want     State
		wantErr  error
	}{
		{"advance from first step", StatePending, Progress{1, 3}, TriggerAdvance, StateInProgress, nil},
		{"advance mid-sequence", StateInProgress, Progress{2, 3}, TriggerAdvance, StateInProgress, nil},
		{"approve on last step", StateInProgress, Progress{3, 3}, TriggerApprove, StateApproved, nil},
		{"approve single-step", StatePending, Progress{1, 1}, TriggerApprove, StateApproved, nil},
		{"reject pending", StatePending, Progress{1, 2}, TriggerReject, StateRejected, nil},
		{"reject in progress", StateInProgress, Progress{2, 2}, TriggerReject, StateRejected, nil},
		{"approve before last step", StatePending, Progress{1, 2}, TriggerApprove, StatePending, ErrGuardFailed},
		{"advance past last step", StateInProgress, Progress{2, 2}, TriggerAdvance, StateInProgress, ErrGuardFailed},
		{"approved is final", StateApproved, Progress{2, 2}, TriggerReject, StateApproved, ErrInvalidTransition},
		{"rejected is final", StateRejected, Progress{1, 2}, TriggerAdvance, StateRejected, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine, err := NewApprovalMachine(tt.from, tt.progress)
			if err != nil {
				t.Fatalf("NewApprovalMachine() failed: %v", err)
			}

			err = machine.Fire(context.Background(), tt.trigger)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Fire(%v) failed: %v", tt.trigger, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Fire(%v) error = %v, want %v", tt.trigger, err, tt.wantErr)
			}
			if machine.State() != tt.want {
				t.Errorf("State() = %v, want %v", machine.State(), tt.want)
			}
		})
	}
}

func TestApprovalMachine_PermittedTriggers(t *testing.T) {
	machine, _ := NewApprovalMachine(StatePending, Progress{CurrentStep: 1, TotalSteps: 2})

	got := machine.PermittedTriggers(context.Background())
	want := []Trigger{TriggerAdvance, TriggerReject}
	if len(got) != len(want) {
		t.Fatalf("PermittedTriggers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PermittedTriggers()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	final, _ := NewApprovalMachine(StateApproved, Progress{CurrentStep: 2, TotalSteps: 2})
	if triggers := final.PermittedTriggers(context.Background()); len(triggers) != 0 {
		t.Errorf("PermittedTriggers() on terminal state = %v, want none", triggers)
	}
}
