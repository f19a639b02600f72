package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OpenWorkflowCounter counts workflows still awaiting a decision
type OpenWorkflowCounter interface {
	CountOpen(ctx context.Context) (int64, error)
}

// BacklogGauge receives the counted backlog
type BacklogGauge interface {
	SetOpenWorkflows(n int64)
}

// BacklogWorker periodically publishes the number of open workflows. The
// count comes from the database so every replica reports the same value.
type BacklogWorker struct {
	interval time.Duration
	counter  OpenWorkflowCounter
	gauge    BacklogGauge
	logger   *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	lastError error
}

// NewBacklogWorker creates a backlog worker polling every interval
func NewBacklogWorker(interval time.Duration, counter OpenWorkflowCounter, gauge BacklogGauge, logger *zap.Logger) *BacklogWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &BacklogWorker{
		interval: interval,
		counter:  counter,
		gauge:    gauge,
		logger:   logger,
	}
}

// Start runs one refresh, then keeps refreshing in the background
func (w *BacklogWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("backlog worker already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("BacklogWorker started", zap.Duration("poll_interval", w.interval))

	go w.pollLoop(runCtx, w.done)
	return nil
}

// Stop terminates the loop and waits for it to exit
func (w *BacklogWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.logger.Info("BacklogWorker stopped")
	return nil
}

// Name returns the worker name for identification
func (w *BacklogWorker) Name() string {
	return "BacklogWorker"
}

// LastError returns the error of the most recent refresh, if any
func (w *BacklogWorker) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastError
}

func (w *BacklogWorker) pollLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

// refresh reads the backlog once. On failure the gauge keeps its last value.
func (w *BacklogWorker) refresh(ctx context.Context) {
	n, err := w.counter.CountOpen(ctx)

	w.mu.Lock()
	w.lastError = err
	w.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("Failed to count open workflows", zap.Error(err))
		}
		return
	}
	w.gauge.SetOpenWorkflows(n)
}
