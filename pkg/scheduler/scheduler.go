// Package scheduler drives recurring ingestion runs: one cron trigger per
// configured granularity, an optional historical backfill on startup, a
// single-flight guard per granularity, and a bounded retry chain after
// failed runs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gridpulse/gridpulse/internal/utils"
	"github.com/gridpulse/gridpulse/pkg/balance"
	"github.com/gridpulse/gridpulse/pkg/ingest"
)

// Ingestor is the pipeline surface the scheduler drives.
type Ingestor interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
	Backfill(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

// ScopeConfig configures one granularity's trigger.
type ScopeConfig struct {
	Cron         string // cron expression for the recurring trigger
	BackfillDays int    // historical lookback on startup; 0 disables
	RefreshDays  int    // window re-fetched on every tick
}

type Config struct {
	Scopes          map[balance.TimeScope]ScopeConfig
	RetryDelay      time.Duration // delay before retrying a failed run (default 5m)
	MaxRetries      int           // retry chain bound per granularity (default 3)
	BackfillOnStart bool
	Now             func() time.Time
}

func (c *Config) applyDefaults() {
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Minute
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type scopeState struct {
	inFlight   bool
	lastFetch  time.Time
	retryCount int
	retryTimer *time.Timer
}

type Scheduler struct {
	ingestor Ingestor
	cfg      Config

	mu      sync.Mutex
	cron    *cron.Cron
	states  map[balance.TimeScope]*scopeState
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(ingestor Ingestor, cfg Config) *Scheduler {
	cfg.applyDefaults()
	states := make(map[balance.TimeScope]*scopeState, len(cfg.Scopes))
	for scope := range cfg.Scopes {
		states[scope] = &scopeState{}
	}
	return &Scheduler{ingestor: ingestor, cfg: cfg, states: states}
}

// Start runs the optional startup backfills (one goroutine per granularity,
// they are independent) and registers the recurring triggers.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New()
	s.mu.Unlock()

	for scope, sc := range s.cfg.Scopes {
		scope, sc := scope, sc

		if s.cfg.BackfillOnStart && sc.BackfillDays > 0 {
			go s.runBackfill(scope, sc.BackfillDays)
		}

		if sc.Cron == "" {
			continue
		}
		if _, err := s.cron.AddFunc(sc.Cron, func() { s.runScheduled(scope) }); err != nil {
			s.Stop()
			return err
		}
		utils.Log.Infof("scheduler: registered %s trigger (%s)", scope, sc.Cron)
	}

	s.cron.Start()
	return nil
}

// Stop cancels pending triggers and retry timers. In-flight runs complete or
// fail naturally; they are not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.cron != nil {
		s.cron.Stop()
	}
	for _, st := range s.states {
		if st.retryTimer != nil {
			st.retryTimer.Stop()
			st.retryTimer = nil
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// ScopeStatus is the per-granularity view returned by Status.
type ScopeStatus struct {
	FetchInProgress bool      `json:"fetchInProgress"`
	LastFetchTime   time.Time `json:"lastFetchTime"`
	RetryCount      int       `json:"retryCount"`
}

type Status struct {
	Running bool                              `json:"running"`
	Scopes  map[balance.TimeScope]ScopeStatus `json:"scopes"`
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Status{Running: s.running, Scopes: make(map[balance.TimeScope]ScopeStatus, len(s.states))}
	for scope, st := range s.states {
		out.Scopes[scope] = ScopeStatus{
			FetchInProgress: st.inFlight,
			LastFetchTime:   st.lastFetch,
			RetryCount:      st.retryCount,
		}
	}
	return out
}

// FetchNow runs one ingestion outside the schedule. It still honors the
// single-flight guard for the request's granularity.
func (s *Scheduler) FetchNow(ctx context.Context, req ingest.Request) (ingest.Result, error) {
	if !s.acquire(req.Scope) {
		return ingest.Result{Status: ingest.StatusSkipped},
			nil
	}
	defer s.release(req.Scope)
	return s.ingestor.Ingest(ctx, req)
}

// acquire takes the single-flight flag for a scope; false means a run for
// that scope is already in progress.
func (s *Scheduler) acquire(scope balance.TimeScope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[scope]
	if !ok {
		st = &scopeState{}
		s.states[scope] = st
	}
	if st.inFlight {
		return false
	}
	st.inFlight = true
	return true
}

func (s *Scheduler) release(scope balance.TimeScope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[scope]
	st.inFlight = false
	st.lastFetch = s.cfg.Now()
}

func (s *Scheduler) runBackfill(scope balance.TimeScope, days int) {
	if !s.acquire(scope) {
		utils.Log.Warnf("scheduler: %s backfill skipped, fetch already in flight", scope)
		return
	}
	defer s.release(scope)

	end := s.cfg.Now()
	start := end.AddDate(0, 0, -days)
	utils.Log.Infof("scheduler: starting %s backfill (%d days)", scope, days)
	res, err := s.ingestor.Backfill(s.ctx, ingest.Request{Start: start, End: end, Scope: scope})
	if err != nil {
		utils.Log.Errorf("scheduler: %s backfill failed: %v", scope, err)
		return
	}
	utils.Log.Infof("scheduler: %s backfill done, %d records saved, %d errors", scope, res.SavedCount, len(res.Errors))
}

// runScheduled is the body of one trigger tick. A tick that finds a run
// still in flight is skipped, not queued.
func (s *Scheduler) runScheduled(scope balance.TimeScope) {
	if !s.acquire(scope) {
		utils.Log.Warnf("scheduler: %s tick skipped, previous run still in flight", scope)
		return
	}
	err := s.runOnce(scope)
	s.release(scope)

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[scope]
	if err == nil {
		st.retryCount = 0
		return
	}

	if st.retryCount >= s.cfg.MaxRetries {
		utils.Log.Errorf("scheduler: %s run failed, retries exhausted (%d): %v", scope, st.retryCount, err)
		return
	}
	st.retryCount++
	utils.Log.Warnf("scheduler: %s run failed, retry %d/%d in %s: %v",
		scope, st.retryCount, s.cfg.MaxRetries, s.cfg.RetryDelay, err)
	st.retryTimer = time.AfterFunc(s.cfg.RetryDelay, func() {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if running {
			s.runScheduled(scope)
		}
	})
}

// runOnce re-fetches the recent window for a scope. Forced, because the
// newest upstream values keep being consolidated after first publication.
func (s *Scheduler) runOnce(scope balance.TimeScope) error {
	sc := s.cfg.Scopes[scope]
	days := sc.RefreshDays
	if days <= 0 {
		days = 1
	}
	end := s.cfg.Now()
	start := end.AddDate(0, 0, -days)

	_, err := s.ingestor.Ingest(s.ctx, ingest.Request{Start: start, End: end, Scope: scope, Force: true})
	return err
}
