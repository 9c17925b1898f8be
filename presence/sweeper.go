package presence

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultSweepInterval  = time.Minute
	DefaultStaleThreshold = 5 * time.Minute
)

// SweepFunc performs one stale-presence sweep.
type SweepFunc func(threshold time.Duration) CleanupResult

// Sweeper runs a SweepFunc on a fixed interval until stopped.
type Sweeper struct {
	sweep     SweepFunc
	interval  time.Duration
	threshold time.Duration
	logger    *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper. Non-positive durations fall back to the
// defaults.
func NewSweeper(sweep SweepFunc, interval, threshold time.Duration, logger *log.Logger) *Sweeper {
	if sweep == nil {
		panic("presence.NewSweeper: sweep func is nil")
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Sweeper{sweep: sweep, interval: interval, threshold: threshold, logger: logger}
}

// Start launches the sweep loop. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.Infof("presence sweeper started, interval: %v, threshold: %v", s.interval, s.threshold)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunOnce performs a single sweep immediately.
func (s *Sweeper) RunOnce() CleanupResult {
	start := time.Now()
	res := s.sweep(s.threshold)
	entry := s.logger.WithFields(log.Fields{
		"removed_users":    res.RemovedUsers,
		"removed_projects": res.RemovedProjects,
		"evictions":        len(res.Evicted),
		"sweep_ms":         float64(time.Since(start)) / float64(time.Millisecond),
	})
	if res.RemovedUsers > 0 || len(res.Evicted) > 0 {
		entry.Info("presence.sweep")
	} else {
		entry.Debug("presence.sweep")
	}
	return res
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}
