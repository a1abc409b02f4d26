// Package ingest orchestrates the fetch → transform → store path: validated
// date ranges, retrying fetches with exponential backoff, chunked historical
// backfills, and idempotent saves keyed by (timestamp, timeScope).
package ingest

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/gridpulse/gridpulse/internal/utils"
	"github.com/gridpulse/gridpulse/pkg/balance"
	"github.com/gridpulse/gridpulse/pkg/errkind"
	"github.com/gridpulse/gridpulse/pkg/transform"
)

// DataSource is the upstream provider: one call per date range + scope.
type DataSource interface {
	FetchRange(ctx context.Context, start, end time.Time, scope balance.TimeScope, extra url.Values) (string, error)
}

// Store is the narrow repository surface the pipeline needs.
type Store interface {
	UpsertMany(ctx context.Context, recs []balance.Record) (int, error)
	ExistsForKey(ctx context.Context, ts time.Time, scope balance.TimeScope) (bool, error)
	CountInRange(ctx context.Context, start, end time.Time, scope balance.TimeScope) (int, error)
}

type Config struct {
	MaxRetries   int           // fetch attempts per chunk (default 3)
	RetryBase    time.Duration // backoff unit, delay is 2^attempt x base (default 1s)
	ChunkDays    int           // backfill chunk size in days (default 30)
	ChunkDelay   time.Duration // pause between chunks (default 500ms)
	MaxRangeDays int           // longest single range accepted (default 366)

	// Sleep and Now are injectable for tests; nil means real clock.
	Sleep func(time.Duration)
	Now   func() time.Time
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.ChunkDays <= 0 {
		c.ChunkDays = 30
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = 0
	} else if c.ChunkDelay == 0 {
		c.ChunkDelay = 500 * time.Millisecond
	}
	if c.MaxRangeDays <= 0 {
		c.MaxRangeDays = 366
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type Pipeline struct {
	src   DataSource
	store Store
	cfg   Config
}

func New(src DataSource, store Store, cfg Config) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{src: src, store: store, cfg: cfg}
}

// Request is one ingestion order.
type Request struct {
	Start time.Time
	End   time.Time
	Scope balance.TimeScope
	Force bool
}

// ParseRequest builds a Request from raw string inputs, failing with
// InvalidRange / InvalidTimeScope before anything touches the network.
func ParseRequest(startStr, endStr, scopeStr string, force bool) (Request, error) {
	scope, err := balance.ParseTimeScope(scopeStr)
	if err != nil {
		return Request{}, err
	}
	start, err := utils.ParseDate(startStr)
	if err != nil {
		return Request{}, errkind.Wrap(errkind.InvalidRange, err, "unparseable start date %q", startStr)
	}
	end, err := utils.ParseDate(endStr)
	if err != nil {
		return Request{}, errkind.Wrap(errkind.InvalidRange, err, "unparseable end date %q", endStr)
	}
	return Request{Start: start, End: end, Scope: scope, Force: force}, nil
}

const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
)

// Result summarizes one ingestion run.
type Result struct {
	RunID      string   `json:"runId"`
	Status     string   `json:"status"`
	SavedCount int      `json:"savedCount"`
	Skipped    int      `json:"skippedCount"`
	Errors     []string `json:"errors,omitempty"`
}

func (p *Pipeline) validate(req Request) error {
	if !req.Scope.Valid() {
		return errkind.New(errkind.InvalidTimeScope, "unknown time scope %q", req.Scope)
	}
	if req.Start.After(req.End) {
		return errkind.New(errkind.InvalidRange, "start %s is after end %s",
			req.Start.Format(utils.APIDateLayout), req.End.Format(utils.APIDateLayout))
	}
	if days := utils.DaysBetween(req.Start, req.End); days > p.cfg.MaxRangeDays {
		return errkind.New(errkind.InvalidRange, "range spans %d days, maximum is %d", days, p.cfg.MaxRangeDays)
	}
	if req.End.After(p.cfg.Now()) {
		return errkind.New(errkind.InvalidRange, "end %s is in the future", req.End.Format(utils.APIDateLayout))
	}
	return nil
}

// expectedCount is the rough record count the range should hold at the given
// granularity. The month/year divisors are approximations; they only gate
// the skip-if-complete shortcut, never correctness.
func (p *Pipeline) expectedCount(req Request) int {
	days := utils.DaysBetween(req.Start, req.End)
	var n int
	switch req.Scope {
	case balance.ScopeHour:
		n = days * 24
	case balance.ScopeDay:
		n = days
	case balance.ScopeMonth:
		n = days / 30
	case balance.ScopeYear:
		n = days / 365
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Ingest guarantees all not-yet-present records for the range exist in the
// store without creating duplicates.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	res := Result{RunID: uuid.NewString(), Status: StatusSuccess}

	if err := p.validate(req); err != nil {
		return res, err
	}

	if !req.Force {
		expected := p.expectedCount(req)
		existing, err := p.store.CountInRange(ctx, req.Start, req.End, req.Scope)
		if err != nil {
			// The shortcut is an optimization; a failed count must not block
			// ingestion.
			utils.Log.Warnf("run %s: pre-check count failed: %v", res.RunID, err)
		} else if existing >= expected {
			utils.Log.Debugf("run %s: %d/%d records already present, skipping", res.RunID, existing, expected)
			res.Status = StatusSkipped
			return res, nil
		}
	}

	raw, err := p.fetchWithRetry(ctx, req)
	if err != nil {
		return res, err
	}

	records, err := transform.Records(raw)
	if err != nil {
		return res, err
	}

	saved, skipped, errs := p.save(ctx, records, req.Force)
	res.SavedCount = saved
	res.Skipped += skipped
	res.Errors = append(res.Errors, errs...)
	utils.Log.Infof("run %s: saved %d records (%d already present) for %s..%s/%s",
		res.RunID, saved, skipped,
		req.Start.Format("2006-01-02"), req.End.Format("2006-01-02"), req.Scope)
	return res, nil
}

// fetchWithRetry asks the data source for the range, retrying transient
// failures with exponential backoff. Exhaustion converts to FetchExhausted
// carrying the last underlying error.
func (p *Pipeline) fetchWithRetry(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			p.cfg.Sleep(p.cfg.RetryBase * (1 << uint(attempt)))
		}
		raw, err := p.src.FetchRange(ctx, req.Start, req.End, req.Scope, nil)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if errkind.Is(err, errkind.InvalidTimeScope) || errkind.Is(err, errkind.InvalidRange) {
			return "", err
		}
		utils.Log.Warnf("fetch attempt %d/%d failed: %v", attempt+1, p.cfg.MaxRetries, err)
	}
	return "", errkind.Wrap(errkind.FetchExhausted, lastErr, "giving up after %d attempts", p.cfg.MaxRetries)
}

// save stores records in the order the transformer produced them. Without
// force, records whose key already exists are filtered out first; store
// failures are counted per record, never fatal to the run.
func (p *Pipeline) save(ctx context.Context, records []balance.Record, force bool) (saved, skipped int, errs []string) {
	toStore := make([]balance.Record, 0, len(records))
	for i := range records {
		rec := records[i]
		// Derived fields are never trusted from upstream state.
		balance.Recompute(&rec)

		if !force {
			exists, err := p.store.ExistsForKey(ctx, rec.Timestamp, rec.TimeScope)
			if err != nil {
				errs = append(errs, err.Error())
				continue
			}
			if exists {
				skipped++
				continue
			}
		}
		toStore = append(toStore, rec)
	}

	if len(toStore) == 0 {
		return 0, skipped, errs
	}
	n, err := p.store.UpsertMany(ctx, toStore)
	if err != nil {
		errs = append(errs, err.Error())
		return 0, skipped, errs
	}
	return n, skipped, errs
}

// Backfill splits a long range into fixed-size day chunks and ingests them
// sequentially in chronological order. A failed chunk is logged and counted;
// the backfill moves on to the next chunk.
func (p *Pipeline) Backfill(ctx context.Context, req Request) (Result, error) {
	res := Result{RunID: uuid.NewString(), Status: StatusSuccess}

	if !req.Scope.Valid() {
		return res, errkind.New(errkind.InvalidTimeScope, "unknown time scope %q", req.Scope)
	}
	if req.Start.After(req.End) {
		return res, errkind.New(errkind.InvalidRange, "start %s is after end %s",
			req.Start.Format(utils.APIDateLayout), req.End.Format(utils.APIDateLayout))
	}

	chunk := time.Duration(p.cfg.ChunkDays) * 24 * time.Hour
	for cur := req.Start; !cur.After(req.End); cur = cur.Add(chunk) {
		chunkEnd := cur.Add(chunk - time.Second)
		if chunkEnd.After(req.End) {
			chunkEnd = req.End
		}

		chunkRes, err := p.Ingest(ctx, Request{Start: cur, End: chunkEnd, Scope: req.Scope, Force: req.Force})
		if err != nil {
			utils.Log.Warnf("backfill %s: chunk %s..%s failed: %v", res.RunID,
				cur.Format("2006-01-02"), chunkEnd.Format("2006-01-02"), err)
			res.Errors = append(res.Errors, err.Error())
		} else {
			res.SavedCount += chunkRes.SavedCount
			res.Skipped += chunkRes.Skipped
			res.Errors = append(res.Errors, chunkRes.Errors...)
		}

		if cur.Add(chunk).After(req.End) {
			break
		}
		// Bound the request rate against the upstream source.
		p.cfg.Sleep(p.cfg.ChunkDelay)
	}
	return res, nil
}
