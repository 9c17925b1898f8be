package presence

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestSweeperRunsUntilStopped(t *testing.T) {
	var calls atomic.Int32
	var gotThreshold atomic.Int64
	s := NewSweeper(func(threshold time.Duration) CleanupResult {
		calls.Add(1)
		gotThreshold.Store(int64(threshold))
		return CleanupResult{}
	}, 10*time.Millisecond, 3*time.Minute, log.New())

	s.Start(context.Background())
	s.Start(context.Background())
	deadline := time.Now().Add(time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	if calls.Load() < 2 {
		t.Fatalf("expected at least 2 sweeps, got %d", calls.Load())
	}
	if time.Duration(gotThreshold.Load()) != 3*time.Minute {
		t.Fatalf("unexpected threshold %v", time.Duration(gotThreshold.Load()))
	}

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != after {
		t.Fatal("sweeper kept running after Stop")
	}
	s.Stop()
}

func TestSweeperDefaults(t *testing.T) {
	s := NewSweeper(func(time.Duration) CleanupResult { return CleanupResult{} }, 0, 0, nil)
	if s.interval != DefaultSweepInterval || s.threshold != DefaultStaleThreshold {
		t.Fatalf("unexpected defaults %v %v", s.interval, s.threshold)
	}
}

func TestSweeperAgainstTracker(t *testing.T) {
	tr, clock := newTestTracker()
	tr.AddConnection("c1", "u1", "", "p1")
	clock.Advance(time.Hour)

	s := NewSweeper(tr.CleanupStale, time.Minute, 5*time.Minute, log.New())
	res := s.RunOnce()
	if res.RemovedUsers != 1 {
		t.Fatalf("expected stale user to be swept, got %+v", res)
	}
}
