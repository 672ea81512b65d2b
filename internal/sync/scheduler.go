package sync

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/openkanban/boardsync/internal/models"
)

// DefaultTickInterval is how often each timer fires.
const DefaultTickInterval = 60 * time.Second

// defaultAutoCloseThrottle applies when a project has no configured sync
// interval to derive the auto-close polling granularity from.
const defaultAutoCloseThrottle = 60 * time.Minute

// SchedulerConfig holds the scheduler's timer intervals.
type SchedulerConfig struct {
	ImportInterval    time.Duration
	AutoCloseInterval time.Duration
	Logger            *log.Logger
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ImportInterval:    DefaultTickInterval,
		AutoCloseInterval: DefaultTickInterval,
	}
}

// Scheduler drives the import and auto-close engines across all projects on
// two independent timers. All reentrancy flags and the auto-close throttle
// map are owned by the instance, so independent schedulers (as in tests)
// share no hidden state.
type Scheduler struct {
	engine *Engine
	config SchedulerConfig
	logger *log.Logger

	mu               sync.Mutex
	importRunning    bool
	autoCloseRunning bool
	lastAutoClose    map[string]time.Time

	now func() time.Time
}

// NewScheduler creates a scheduler over the engine.
func NewScheduler(engine *Engine, config SchedulerConfig) *Scheduler {
	if config.ImportInterval <= 0 {
		config.ImportInterval = DefaultTickInterval
	}
	if config.AutoCloseInterval <= 0 {
		config.AutoCloseInterval = DefaultTickInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[scheduler] ", log.LstdFlags)
	}
	return &Scheduler{
		engine:        engine,
		config:        config,
		logger:        logger,
		lastAutoClose: make(map[string]time.Time),
		now:           time.Now,
	}
}

// Run starts both timers and blocks until the context is cancelled. Each
// timer fires a tick immediately on start and then at its interval.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.loop(ctx, s.config.ImportInterval, s.RunImportTick)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, s.config.AutoCloseInterval, s.RunAutoCloseTick)
	}()

	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// tryBegin flips the given in-progress flag, returning false if a tick is
// still running. The matching end call is deferred by the tick so a failing
// project can never wedge the scheduler.
func (s *Scheduler) tryBegin(flag *bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *flag {
		return false
	}
	*flag = true
	return true
}

func (s *Scheduler) end(flag *bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*flag = false
}

// RunImportTick runs one import pass over all projects. Invoking it while a
// previous import tick is still in flight is a no-op; overruns are absorbed
// by skipping, never queuing. Projects are processed sequentially and a
// failure for one project never aborts the rest.
func (s *Scheduler) RunImportTick(ctx context.Context) {
	if !s.tryBegin(&s.importRunning) {
		return
	}
	defer s.end(&s.importRunning)

	projects, err := s.engine.store.ListProjects(ctx)
	if err != nil {
		s.logger.Printf("ERROR: failed to list projects for import tick: %v", err)
		return
	}

	for _, project := range projects {
		s.importProject(ctx, project)
	}
}

func (s *Scheduler) importProject(ctx context.Context, project models.Project) {
	settings, err := s.engine.store.GetSyncSettings(ctx, project.ID)
	if err != nil {
		s.logger.Printf("ERROR: failed to load sync settings for project %s: %v", project.ID, err)
		return
	}
	if !settings.Enabled || !settings.IsDue(s.now()) {
		return
	}

	result, err := s.engine.SyncProject(ctx, project)
	if err != nil {
		// Someone else (likely a manual trigger) already holds the
		// project's sync marker. Not this tick's problem.
		if errors.Is(err, ErrSyncInProgress) {
			return
		}
		s.logger.Printf("ERROR: sync failed for project %s: %v", project.ID, err)
		return
	}

	s.logger.Printf("Project %s synced: imported=%d updated=%d skipped=%d",
		project.ID, result.Imported, result.Updated, result.Skipped)
}

// RunAutoCloseTick runs one PR-merge correlation pass over all projects.
// The tick shares the import tick's reentrancy semantics but uses its own
// flag and a process-local per-project throttle. The throttle resets on
// restart and is not safe across multiple processes; a horizontally scaled
// deployment would duplicate auto-close runs.
func (s *Scheduler) RunAutoCloseTick(ctx context.Context) {
	if !s.tryBegin(&s.autoCloseRunning) {
		return
	}
	defer s.end(&s.autoCloseRunning)

	projects, err := s.engine.store.ListProjects(ctx)
	if err != nil {
		s.logger.Printf("ERROR: failed to list projects for auto-close tick: %v", err)
		return
	}

	for _, project := range projects {
		if !project.AutoCloseOnPRMerge {
			continue
		}
		if !s.autoCloseDue(ctx, project) {
			continue
		}

		if _, err := s.engine.AutoCloseMergedPRs(ctx, project); err != nil {
			s.logger.Printf("ERROR: auto-close failed for project %s: %v", project.ID, err)
		}
	}
}

// autoCloseDue consults and advances the per-project throttle. The polling
// granularity reuses the project's issue-sync interval as a generic "how
// often to poll GitHub" knob.
func (s *Scheduler) autoCloseDue(ctx context.Context, project models.Project) bool {
	throttle := defaultAutoCloseThrottle
	if settings, err := s.engine.store.GetSyncSettings(ctx, project.ID); err == nil && settings.IntervalMinutes > 0 {
		throttle = settings.Interval()
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastAutoClose[project.ID]
	if ok && now.Before(last.Add(throttle)) {
		return false
	}
	s.lastAutoClose[project.ID] = now
	return true
}
