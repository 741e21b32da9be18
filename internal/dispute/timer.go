package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Sweeper is the part of Service the timer drives.
type Sweeper interface {
	Sweep(ctx context.Context) (*SweepReport, error)
}

// Timer periodically sweeps open, unsubmitted disputes.
type Timer struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewTimer creates a new sweep timer.
func NewTimer(sweeper Sweeper, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Timer{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeRun(ctx)
		}
	}
}

// Stop signals the timer to stop. Safe to call more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Timer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in sweep timer", "panic", fmt.Sprint(r))
		}
	}()

	report, err := t.sweeper.Sweep(ctx)
	if err != nil {
		t.logger.Warn("sweep failed", "error", err)
		return
	}
	if len(report.Failed) > 0 {
		t.logger.Warn("sweep had failures", "failed", len(report.Failed), "submitted", report.Submitted)
	}
}
