package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/garyjia/expense-approval/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, fmt.Sprint(msg, keysAndValues))
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func newEvent(t event.Type) *event.Event {
	return event.NewEvent(t, "wf-1", "exp-1", nil)
}

func TestDispatch(t *testing.T) {
	t.Run("dispatches to handlers in registration order", func(t *testing.T) {
		d := NewDispatcher()
		var order []int

		d.Subscribe(event.TypeWorkflowCreated, func(ctx context.Context, evt *event.Event) error {
			order = append(order, 1)
			return nil
		})
		d.Subscribe(event.TypeWorkflowCreated, func(ctx context.Context, evt *event.Event) error {
			order = append(order, 2)
			return nil
		})

		if err := d.Dispatch(context.Background(), newEvent(event.TypeWorkflowCreated)); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if len(order) != 2 || order[0] != 1 || order[1] != 2 {
			t.Errorf("expected handlers to run in order [1, 2], got %v", order)
		}
	})

	t.Run("returns first error and stops", func(t *testing.T) {
		d := NewDispatcher()
		expectedErr := errors.New("handler error")
		called := false

		d.Subscribe(event.TypeRequestApproved, func(ctx context.Context, evt *event.Event) error {
			return expectedErr
		})
		d.Subscribe(event.TypeRequestApproved, func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		err := d.Dispatch(context.Background(), newEvent(event.TypeRequestApproved))
		if !errors.Is(err, expectedErr) {
			t.Errorf("expected error to wrap %v, got %v", expectedErr, err)
		}
		if called {
			t.Error("second handler should not run after an error")
		}
	})

	t.Run("recovers from handler panic", func(t *testing.T) {
		d := NewDispatcher()
		d.Subscribe(event.TypeWorkflowRejected, func(ctx context.Context, evt *event.Event) error {
			panic("boom")
		})

		if err := d.Dispatch(context.Background(), newEvent(event.TypeWorkflowRejected)); err == nil {
			t.Fatal("expected panic to surface as error")
		}
	})

	t.Run("rejects dispatch after close", func(t *testing.T) {
		d := NewDispatcher()
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if err := d.Dispatch(context.Background(), newEvent(event.TypeWorkflowCreated)); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
		if err := d.Close(); err == nil {
			t.Error("expected second close to fail")
		}
	})
}

func TestSubscribeAll(t *testing.T) {
	d := NewDispatcher()
	var seen []event.Type

	d.SubscribeNamed(event.TypeWorkflowApproved, "specific", func(ctx context.Context, evt *event.Event) error {
		seen = append(seen, "specific")
		return nil
	})
	d.SubscribeAll("metrics", func(ctx context.Context, evt *event.Event) error {
		seen = append(seen, evt.Type)
		return nil
	})

	d.Publish(context.Background(),
		newEvent(event.TypeRequestApproved),
		newEvent(event.TypeWorkflowApproved),
	)

	want := []event.Type{event.TypeRequestApproved, "specific", event.TypeWorkflowApproved}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestPublish_LogsHandlerErrors(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))
	calls := 0

	d.Subscribe(event.TypeRequestRejected, func(ctx context.Context, evt *event.Event) error {
		calls++
		return errors.New("sink unavailable")
	})

	d.Publish(context.Background(), newEvent(event.TypeRequestRejected), newEvent(event.TypeRequestRejected))

	if calls != 2 {
		t.Errorf("expected every event to be attempted, got %d calls", calls)
	}
	// one "Handler error" and one "Event publish failed" per event
	if logger.ErrorCount() != 4 {
		t.Errorf("expected 4 logged errors, got %d", logger.ErrorCount())
	}
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	called1, called2 := false, false

	d.SubscribeNamed(event.TypeWorkflowCreated, "handler-1", func(ctx context.Context, evt *event.Event) error {
		called1 = true
		return nil
	})
	d.SubscribeNamed(event.TypeWorkflowCreated, "handler-2", func(ctx context.Context, evt *event.Event) error {
		called2 = true
		return nil
	})

	d.Unsubscribe(event.TypeWorkflowCreated, "handler-1")

	if err := d.Dispatch(context.Background(), newEvent(event.TypeWorkflowCreated)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if called1 || !called2 {
		t.Errorf("called1 = %v, called2 = %v; want false, true", called1, called2)
	}
	if handlers := d.ListHandlers(event.TypeWorkflowCreated); len(handlers) != 1 || handlers[0].Name != "handler-2" {
		t.Errorf("ListHandlers() = %v", handlers)
	}
}

func TestDispatchAsync_CloseWaits(t *testing.T) {
	d := NewDispatcher()
	var count atomic.Int32

	for i := 0; i < 3; i++ {
		d.Subscribe(event.TypeWorkflowAdvanced, func(ctx context.Context, evt *event.Event) error {
			count.Add(1)
			return nil
		})
	}

	d.DispatchAsync(context.Background(), newEvent(event.TypeWorkflowAdvanced))
	if err := d.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if got := count.Load(); got != 3 {
		t.Errorf("expected 3 async handler calls, got %d", got)
	}
}
