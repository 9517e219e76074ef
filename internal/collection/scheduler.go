package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aevon-lab/meterflow/internal/core/meter"
	"github.com/aevon-lab/meterflow/internal/core/storage"
	"github.com/aevon-lab/meterflow/internal/worker"
)

var (
	ErrAlreadyRunning   = errors.New("collection scheduler already running")
	ErrDisabled         = errors.New("collection is disabled")
	ErrIntervalTooShort = fmt.Errorf("interval must be at least %s", MinInterval)
	ErrTickInProgress   = errors.New("collection tick already in progress")
)

// TickResult summarizes one tick.
type TickResult struct {
	ID        uuid.UUID
	StartedAt time.Time
	Duration  time.Duration
	Meters    int
	Batches   int
	Succeeded int
	Failed    int
	Persisted int
	Skipped   bool
}

// Scheduler periodically collects readings from every active meter.
//
// Ticks never overlap: a timer tick that fires while the previous tick is
// still running is skipped and counted. Stop cancels the timers only; a tick
// already in flight runs to completion.
type Scheduler struct {
	roster    storage.MeterRoster
	store     storage.ReadingStore
	collector *Collector
	stats     statsTracker

	mu       sync.Mutex
	cfg      Config
	running  bool
	stopLoop chan struct{}
	loopDone chan struct{}

	tickMu   sync.Mutex
	inflight sync.WaitGroup
}

// NewScheduler creates a stopped scheduler. cfg is defaulted once here.
func NewScheduler(cfg Config, roster storage.MeterRoster, dispatcher worker.Dispatcher, store storage.ReadingStore) *Scheduler {
	return NewSchedulerWithProfiles(cfg, roster, dispatcher, store, nil)
}

// NewSchedulerWithProfiles is NewScheduler with per-type register profiles.
func NewSchedulerWithProfiles(
	cfg Config,
	roster storage.MeterRoster,
	dispatcher worker.Dispatcher,
	store storage.ReadingStore,
	profiles *meter.ProfileRepository,
) *Scheduler {
	cfg = cfg.normalized()
	return &Scheduler{
		roster:    roster,
		store:     store,
		collector: NewCollector(dispatcher, cfg, profiles),
		cfg:       cfg,
	}
}

// Start begins periodic collection. The first tick fires after InitialDelay.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	if !s.cfg.Enabled {
		return ErrDisabled
	}

	s.running = true
	s.startLoop(s.cfg.Interval, s.cfg.InitialDelay)

	slog.Info("[Scheduler] Starting meter collection",
		"interval", s.cfg.Interval,
		"batch_size", s.cfg.BatchSize,
		"timeout", s.cfg.Timeout,
		"batch_insert", s.cfg.BatchInsert,
	)
	return nil
}

// Stop cancels the tick and stats timers. It does not wait for an in-flight
// tick; use Wait for that.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.stopLoopLocked()

	slog.Info("[Scheduler] Stopped meter collection")
}

// Wait blocks until any in-flight tick started by the timer has finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// UpdateInterval changes the tick interval. When running, the tick timer is
// restarted with the new interval; no extra tick is fired.
func (s *Scheduler) UpdateInterval(d time.Duration) error {
	if d < MinInterval {
		return fmt.Errorf("%w: got %s", ErrIntervalTooShort, d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg.Interval
	s.cfg.Interval = d
	if s.running {
		s.stopLoopLocked()
		s.startLoop(d, 0)
	}

	slog.Info("[Scheduler] Interval updated", "old", old, "new", d, "running", s.running)
	return nil
}

// HealthStatus returns run state and cumulative counters. The success rate
// is computed on every call.
func (s *Scheduler) HealthStatus() HealthStatus {
	s.mu.Lock()
	running, interval := s.running, s.cfg.Interval
	s.mu.Unlock()

	stats, skipped := s.stats.snapshot()
	return HealthStatus{
		IsCollecting:    running,
		Interval:        interval,
		IntervalMillis:  interval.Milliseconds(),
		LastCollection:  stats.LastCollection,
		TotalAttempts:   stats.TotalAttempts,
		SuccessfulReads: stats.SuccessfulReads,
		FailedReads:     stats.FailedReads,
		SuccessRate:     stats.SuccessRate(),
		LastError:       stats.LastError,
		SkippedTicks:    skipped,
	}
}

// CollectionStats returns a copy of the running counters.
func (s *Scheduler) CollectionStats() Stats {
	stats, _ := s.stats.snapshot()
	return stats
}

// startLoop and stopLoopLocked are called with s.mu held. The loop itself
// never takes s.mu, so waiting for it here cannot deadlock.
func (s *Scheduler) startLoop(interval, initialDelay time.Duration) {
	s.stopLoop = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.loop(s.stopLoop, s.loopDone, interval, s.cfg.StatsLogInterval, initialDelay)
}

func (s *Scheduler) stopLoopLocked() {
	close(s.stopLoop)
	<-s.loopDone
	s.stopLoop, s.loopDone = nil, nil
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}, interval, statsInterval, initialDelay time.Duration) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

	// A nil channel never fires, so no initial tick when initialDelay is 0.
	var initial <-chan time.Time
	if initialDelay > 0 {
		t := time.NewTimer(initialDelay)
		defer t.Stop()
		initial = t.C
	}

	for {
		select {
		case <-stop:
			return
		case <-initial:
			initial = nil
			s.fire()
		case <-ticker.C:
			s.fire()
		case <-statsTicker.C:
			s.logStats(interval)
		}
	}
}

// fire runs a tick in the background so the loop stays responsive to stop.
func (s *Scheduler) fire() {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if _, err := s.RunOnce(context.Background()); err != nil && !errors.Is(err, ErrTickInProgress) {
			slog.Error("[Scheduler] Collection tick failed", "error", err)
		}
	}()
}

// RunOnce executes a single tick. If a tick is already running it returns
// ErrTickInProgress and counts the skip.
func (s *Scheduler) RunOnce(ctx context.Context) (TickResult, error) {
	result := TickResult{ID: uuid.New(), StartedAt: time.Now().UTC()}

	if !s.tickMu.TryLock() {
		s.stats.recordSkip()
		result.Skipped = true
		slog.Warn("[Scheduler] Previous tick still running, skipping", "tick_id", result.ID)
		return result, ErrTickInProgress
	}
	defer s.tickMu.Unlock()

	err := s.tick(ctx, &result)
	result.Duration = time.Since(result.StartedAt)
	if err != nil {
		s.stats.recordError(err)
		return result, err
	}
	return result, nil
}

func (s *Scheduler) tick(ctx context.Context, result *TickResult) error {
	meters, err := s.roster.ActiveMeters(ctx)
	if err != nil {
		return fmt.Errorf("fetch active meters: %w", err)
	}
	meters = activeOnly(meters)
	if len(meters) == 0 {
		slog.Debug("[Scheduler] No active meters", "tick_id", result.ID)
		return nil
	}

	slog.Info("[Scheduler] Starting collection tick",
		"tick_id", result.ID,
		"meters", len(meters),
		"batch_size", s.cfg.BatchSize,
	)

	outcome := s.collectBatches(ctx, meters)
	result.Meters = outcome.attempts
	result.Batches = outcome.batches
	result.Succeeded = outcome.succeeded
	result.Failed = outcome.failed

	persisted, err := s.persist(ctx, outcome.readings)
	result.Persisted = persisted
	if err != nil {
		return fmt.Errorf("persist readings: %w", err)
	}

	s.stats.record(outcome, time.Now().UTC())

	slog.Info("[Scheduler] Collection tick complete",
		"tick_id", result.ID,
		"meters", outcome.attempts,
		"batches", outcome.batches,
		"succeeded", outcome.succeeded,
		"failed", outcome.failed,
		"persisted", persisted,
	)
	return nil
}

// activeOnly drops meters the roster returned in a non-active state.
func activeOnly(meters []meter.Meter) []meter.Meter {
	active := make([]meter.Meter, 0, len(meters))
	for _, m := range meters {
		if m.Active() {
			active = append(active, m)
		}
	}
	return active
}

// persist writes readings in one batch when batch insert is on and there is
// more than one reading; otherwise one at a time.
func (s *Scheduler) persist(ctx context.Context, readings []meter.Reading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	if s.cfg.BatchInsert && len(readings) > 1 {
		if err := s.store.SaveReadings(ctx, readings); err != nil {
			return 0, err
		}
		return len(readings), nil
	}

	for i, r := range readings {
		if err := s.store.SaveReading(ctx, r); err != nil {
			return i, fmt.Errorf("meter %d: %w", r.MeterID, err)
		}
	}
	return len(readings), nil
}

func (s *Scheduler) logStats(interval time.Duration) {
	stats, skipped := s.stats.snapshot()
	slog.Info("[Scheduler] Collection stats",
		"interval", interval,
		"total_attempts", stats.TotalAttempts,
		"successful_reads", stats.SuccessfulReads,
		"failed_reads", stats.FailedReads,
		"success_rate", fmt.Sprintf("%.1f%%", stats.SuccessRate()*100),
		"skipped_ticks", skipped,
		"last_collection", stats.LastCollection,
		"last_error", stats.LastError,
	)
}
