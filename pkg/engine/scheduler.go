package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfabric/fabricsync/pkg/telemetry"
)

const (
	defaultWorkers      = 4
	defaultTickInterval = 5 * time.Second
	defaultQueueSize    = 64

	// minSyncInterval is the floor for per-fabric sync intervals. Anything
	// lower would hammer the repository for no benefit.
	minSyncInterval = 10 * time.Second
)

// SyncRunner is the orchestrator surface the scheduler drives.
type SyncRunner interface {
	RunSync(ctx context.Context, fabricID, trigger string) (*SyncAttempt, error)
	InFlight(fabricID string) bool
}

// SchedulerConfig assembles a Scheduler.
type SchedulerConfig struct {
	Store  InventoryStore
	Runner SyncRunner
	Logger *telemetry.Logger

	// Workers is the number of concurrent sync workers. Each fabric still
	// syncs at most once at a time; workers add concurrency across fabrics.
	Workers int

	// TickInterval is how often the scheduler looks for due fabrics.
	TickInterval time.Duration

	// QueueSize bounds the job queue. A full queue drops the tick's
	// remaining fabrics; they are picked up again on the next tick.
	QueueSize int
}

// Scheduler periodically syncs every sync-enabled fabric. The per-fabric
// interval is measured from the end of the previous attempt, so a slow sync
// never stacks attempts behind itself.
type Scheduler struct {
	store  InventoryStore
	runner SyncRunner
	logger *telemetry.Logger

	workers      int
	tickInterval time.Duration

	mu           sync.Mutex
	running      bool
	stopCh       chan struct{}
	lastFinished map[string]time.Time
	forced       map[string]struct{}
	pending      map[string]struct{}

	jobs chan string
	wg   sync.WaitGroup
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("sync runner is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	return &Scheduler{
		store:        cfg.Store,
		runner:       cfg.Runner,
		logger:       logger.NewComponentLogger("scheduler"),
		workers:      workers,
		tickInterval: tick,
		lastFinished: make(map[string]time.Time),
		forced:       make(map[string]struct{}),
		pending:      make(map[string]struct{}),
		jobs:         make(chan string, queueSize),
	}, nil
}

// Start launches the worker pool and the tick loop. It returns immediately;
// Stop shuts everything down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.wg.Add(1)
	go s.tickLoop(ctx)

	s.logger.Infof("scheduler started with %d workers", s.workers)
	return nil
}

// Stop shuts the scheduler down and waits for in-flight syncs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Nudge marks a fabric due for sync on the next tick regardless of its
// interval. Drop-zone watchers and manifest pushes use this.
func (s *Scheduler) Nudge(fabricID string) {
	s.mu.Lock()
	s.forced[fabricID] = struct{}{}
	s.mu.Unlock()
}

// TriggerSync runs one sync attempt for the fabric right now, bypassing the
// queue. It returns a concurrency error when an attempt is already in
// flight.
func (s *Scheduler) TriggerSync(ctx context.Context, fabricID string) (*SyncAttempt, error) {
	attempt, err := s.runner.RunSync(ctx, fabricID, "manual")
	s.markFinished(fabricID)
	return attempt, err
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	// An immediate first pass so startup does not wait a full tick.
	s.dispatchDue(ctx)

	for {
		select {
		case <-s.stopCh:
			close(s.jobs)
			return
		case <-ctx.Done():
			close(s.jobs)
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue enqueues every sync-enabled fabric whose interval elapsed.
// Fabrics with a sync in flight or already queued are skipped.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	fabrics, err := s.store.ListSyncEnabledFabrics(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("listing sync-enabled fabrics failed")
		return
	}

	now := time.Now()
	for _, fabric := range fabrics {
		if !s.due(fabric.ID, fabric.SyncInterval, now) {
			continue
		}
		if s.runner.InFlight(fabric.ID) {
			continue
		}
		s.enqueue(fabric.ID)
	}
}

func (s *Scheduler) due(fabricID string, intervalSeconds int, now time.Time) bool {
	interval := time.Duration(intervalSeconds) * time.Second
	if interval < minSyncInterval {
		interval = minSyncInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[fabricID]; ok {
		return false
	}
	if _, ok := s.forced[fabricID]; ok {
		return true
	}

	finished, ok := s.lastFinished[fabricID]
	if !ok {
		return true
	}
	return now.Sub(finished) >= interval
}

func (s *Scheduler) enqueue(fabricID string) {
	s.mu.Lock()
	s.pending[fabricID] = struct{}{}
	delete(s.forced, fabricID)
	s.mu.Unlock()

	select {
	case s.jobs <- fabricID:
	default:
		// Full queue. Drop and let the next tick retry.
		s.mu.Lock()
		delete(s.pending, fabricID)
		s.mu.Unlock()
		s.logger.WithFabricID(fabricID).Warn("sync queue full, deferring fabric")
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for fabricID := range s.jobs {
		if _, err := s.runner.RunSync(ctx, fabricID, "scheduled"); err != nil {
			if !IsConcurrency(err) {
				s.logger.WithFabricID(fabricID).WithError(err).Warn("scheduled sync failed")
			}
		}
		s.markFinished(fabricID)
	}
}

// markFinished stamps the end of an attempt; the fabric's next interval is
// measured from here.
func (s *Scheduler) markFinished(fabricID string) {
	s.mu.Lock()
	s.lastFinished[fabricID] = time.Now()
	delete(s.pending, fabricID)
	s.mu.Unlock()
}
