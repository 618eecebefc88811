package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeRunner records RunSync calls without doing any work.
type fakeRunner struct {
	mu       sync.Mutex
	calls    map[string]int
	triggers []string
	err      error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{calls: make(map[string]int)}
}

func (r *fakeRunner) RunSync(_ context.Context, fabricID, trigger string) (*SyncAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[fabricID]++
	r.triggers = append(r.triggers, trigger)
	if r.err != nil {
		return nil, r.err
	}
	return &SyncAttempt{FabricID: fabricID, Outcome: OutcomeSucceeded}, nil
}

func (r *fakeRunner) InFlight(_ string) bool { return false }

func (r *fakeRunner) callCount(fabricID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[fabricID]
}

func newTestScheduler(t *testing.T, store InventoryStore, runner SyncRunner) *Scheduler {
	t.Helper()

	s, err := NewScheduler(SchedulerConfig{
		Store:        store,
		Runner:       runner,
		Workers:      2,
		TickInterval: 10 * time.Millisecond,
		QueueSize:    8,
	})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	return s
}

func TestSchedulerDue(t *testing.T) {
	s := newTestScheduler(t, &mockStore{}, newFakeRunner())
	now := time.Now()

	// Never synced fabrics are due immediately.
	if !s.due("fab-1", 300, now) {
		t.Error("expected never-synced fabric to be due")
	}

	// A recent finish postpones the next attempt.
	s.lastFinished["fab-1"] = now.Add(-30 * time.Second)
	if s.due("fab-1", 300, now) {
		t.Error("expected fabric within interval to not be due")
	}
	s.lastFinished["fab-1"] = now.Add(-301 * time.Second)
	if !s.due("fab-1", 300, now) {
		t.Error("expected fabric past interval to be due")
	}

	// Sub-floor intervals are clamped to the minimum.
	s.lastFinished["fab-2"] = now.Add(-5 * time.Second)
	if s.due("fab-2", 1, now) {
		t.Error("expected interval floor to postpone the fabric")
	}
	s.lastFinished["fab-2"] = now.Add(-11 * time.Second)
	if !s.due("fab-2", 1, now) {
		t.Error("expected fabric past the floor to be due")
	}

	// A nudge overrides the interval.
	s.lastFinished["fab-3"] = now
	s.Nudge("fab-3")
	if !s.due("fab-3", 300, now) {
		t.Error("expected nudged fabric to be due")
	}

	// Queued fabrics are never re-enqueued.
	s.pending["fab-4"] = struct{}{}
	if s.due("fab-4", 300, now) {
		t.Error("expected pending fabric to not be due")
	}
}

func TestSchedulerRunsDueFabrics(t *testing.T) {
	store := &mockStore{fabric: syncableFabric()}
	runner := newFakeRunner()
	s := newTestScheduler(t, store, runner)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("failed to start scheduler: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for runner.callCount("fab-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduler never ran the due fabric")
		}
		time.Sleep(5 * time.Millisecond)
	}

	runner.mu.Lock()
	trigger := runner.triggers[0]
	runner.mu.Unlock()
	if trigger != "scheduled" {
		t.Errorf("expected scheduled trigger, got %q", trigger)
	}
}

func TestSchedulerRespectsInterval(t *testing.T) {
	store := &mockStore{fabric: syncableFabric()}
	runner := newFakeRunner()
	s := newTestScheduler(t, store, runner)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("failed to start scheduler: %v", err)
	}

	// Let several ticks pass; with a 300s interval only the startup run
	// may fire.
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	if got := runner.callCount("fab-1"); got > 1 {
		t.Errorf("expected at most 1 run within the interval, got %d", got)
	}
}

func TestSchedulerNudge(t *testing.T) {
	store := &mockStore{fabric: syncableFabric()}
	runner := newFakeRunner()
	s := newTestScheduler(t, store, runner)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("failed to start scheduler: %v", err)
	}
	defer s.Stop()

	// Wait for the startup run, then nudge past the interval.
	deadline := time.Now().Add(2 * time.Second)
	for runner.callCount("fab-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("startup run never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Nudge("fab-1")
	deadline = time.Now().Add(2 * time.Second)
	for runner.callCount("fab-1") < 2 {
		if time.Now().After(deadline) {
			t.Fatal("nudged fabric never re-synced")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSchedulerTriggerSync(t *testing.T) {
	store := &mockStore{fabric: syncableFabric()}
	runner := newFakeRunner()
	s := newTestScheduler(t, store, runner)

	attempt, err := s.TriggerSync(context.Background(), "fab-1")
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if attempt.Outcome != OutcomeSucceeded {
		t.Errorf("expected succeeded, got %s", attempt.Outcome)
	}
	runner.mu.Lock()
	trigger := runner.triggers[0]
	runner.mu.Unlock()
	if trigger != "manual" {
		t.Errorf("expected manual trigger, got %q", trigger)
	}

	// The manual run counts toward the interval.
	if _, ok := s.lastFinished["fab-1"]; !ok {
		t.Error("expected manual sync to stamp lastFinished")
	}
}

func TestSchedulerTriggerSyncBusyPassthrough(t *testing.T) {
	runner := newFakeRunner()
	runner.err = NewConcurrencyError("sync already in progress").WithFabric("fab-1")
	s := newTestScheduler(t, &mockStore{fabric: syncableFabric()}, runner)

	_, err := s.TriggerSync(context.Background(), "fab-1")
	if !IsConcurrency(err) {
		t.Fatalf("expected concurrency error passed through, got %v", err)
	}
}

func TestSchedulerDoubleStart(t *testing.T) {
	s := newTestScheduler(t, &mockStore{}, newFakeRunner())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected second start to fail")
	}
	s.Stop()

	// Stop is idempotent.
	s.Stop()
}

func TestSchedulerSkipsDisabledFabrics(t *testing.T) {
	fabric := syncableFabric()
	fabric.SyncEnabled = false
	store := &mockStore{fabric: fabric}
	runner := newFakeRunner()
	s := newTestScheduler(t, store, runner)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	if got := runner.callCount("fab-1"); got != 0 {
		t.Errorf("disabled fabric must not sync, got %d runs", got)
	}
}
