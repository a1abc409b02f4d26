package ingest

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/gridpulse/gridpulse/pkg/balance"
	"github.com/gridpulse/gridpulse/pkg/errkind"
)

var fixedNow = time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

// payloadFor builds a minimal upstream payload with one data point dated at
// the request's start.
func payloadFor(start time.Time) string {
	dt := start.UTC().Format("2006-01-02T15:04")
	return fmt.Sprintf(`{
	  "data": {"attributes": {"title": "balance", "time-trunc": "day"}},
	  "included": [
	    {"type": "Renewable", "attributes": {"title": "Renewable", "content": [
	      {"type": "Wind", "attributes": {"title": "Wind", "values": [
	        {"value": 100, "datetime": "%s"}
	      ]}}
	    ]}},
	    {"type": "Non-Renewable", "attributes": {"title": "Non-Renewable", "content": [
	      {"type": "Coal", "attributes": {"title": "Coal", "values": [
	        {"value": 300, "datetime": "%s"}
	      ]}}
	    ]}},
	    {"type": "Demand", "attributes": {"title": "Demand", "content": [
	      {"type": "Total demand", "attributes": {"title": "Total demand", "values": [
	        {"value": 380, "datetime": "%s"}
	      ]}}
	    ]}}
	  ]
	}`, dt, dt, dt)
}

type fakeSource struct {
	calls    int
	failures int // fail this many leading calls
	failCall map[int]bool
}

func (f *fakeSource) FetchRange(ctx context.Context, start, end time.Time, scope balance.TimeScope, extra url.Values) (string, error) {
	f.calls++
	if f.calls <= f.failures || f.failCall[f.calls] {
		return "", errkind.New(errkind.NetworkError, "connection reset")
	}
	return payloadFor(start), nil
}

type fakeStore struct {
	records map[string]balance.Record
	upserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]balance.Record)}
}

func storeKey(ts time.Time, scope balance.TimeScope) string {
	return ts.UTC().Format(time.RFC3339) + "/" + string(scope)
}

func (f *fakeStore) UpsertMany(ctx context.Context, recs []balance.Record) (int, error) {
	for _, rec := range recs {
		f.records[storeKey(rec.Timestamp, rec.TimeScope)] = rec
		f.upserts++
	}
	return len(recs), nil
}

func (f *fakeStore) ExistsForKey(ctx context.Context, ts time.Time, scope balance.TimeScope) (bool, error) {
	_, ok := f.records[storeKey(ts, scope)]
	return ok, nil
}

func (f *fakeStore) CountInRange(ctx context.Context, start, end time.Time, scope balance.TimeScope) (int, error) {
	n := 0
	for _, rec := range f.records {
		if rec.TimeScope != scope {
			continue
		}
		if rec.Timestamp.Before(start) || rec.Timestamp.After(end) {
			continue
		}
		n++
	}
	return n, nil
}

func testConfig() (Config, *[]time.Duration) {
	var sleeps []time.Duration
	cfg := Config{
		Sleep: func(d time.Duration) { sleeps = append(sleeps, d) },
		Now:   func() time.Time { return fixedNow },
	}
	return cfg, &sleeps
}

func dayRequest(start, end string, force bool) Request {
	s, _ := time.Parse("2006-01-02", start)
	e, _ := time.Parse("2006-01-02", end)
	return Request{Start: s, End: e, Scope: balance.ScopeDay, Force: force}
}

func TestIngestStoresScenarioRecord(t *testing.T) {
	src := &fakeSource{}
	store := newFakeStore()
	cfg, _ := testConfig()
	p := New(src, store, cfg)

	res, err := p.Ingest(context.Background(), dayRequest("2024-03-01", "2024-03-01", false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusSuccess || res.SavedCount != 1 {
		t.Fatalf("expected 1 saved record, got %#v", res)
	}

	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rec, ok := store.records[storeKey(ts, balance.ScopeDay)]
	if !ok {
		t.Fatalf("record not stored, store has %#v", store.records)
	}
	if rec.TotalGeneration != 400 || rec.TotalDemand != 380 || rec.Balance != 20 || rec.RenewablePercentage != 25 {
		t.Fatalf("derived fields wrong: %#v", rec)
	}
}

func TestIngestIdempotency(t *testing.T) {
	src := &fakeSource{}
	store := newFakeStore()
	cfg, _ := testConfig()
	p := New(src, store, cfg)
	req := dayRequest("2024-03-01", "2024-03-01", false)

	if _, err := p.Ingest(context.Background(), req); err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	res2, err := p.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if res2.Status != StatusSkipped {
		t.Fatalf("expected second ingest skipped, got %#v", res2)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected exactly 1 stored record, got %d", len(store.records))
	}

	// Forced run updates in place without creating a duplicate.
	req.Force = true
	res3, err := p.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("forced ingest failed: %v", err)
	}
	if res3.Status != StatusSuccess || res3.SavedCount != 1 {
		t.Fatalf("expected forced update, got %#v", res3)
	}
	if len(store.records) != 1 {
		t.Fatalf("forced ingest created a duplicate, store has %d records", len(store.records))
	}
}

func TestFetchRetrySucceedsAfterTransientFailures(t *testing.T) {
	src := &fakeSource{failures: 2}
	store := newFakeStore()
	cfg, sleeps := testConfig()
	p := New(src, store, cfg)

	res, err := p.Ingest(context.Background(), dayRequest("2024-03-01", "2024-03-01", false))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if src.calls != 3 {
		t.Fatalf("expected exactly 3 calls (2 failures + 1 success), got %d", src.calls)
	}
	if res.SavedCount != 1 {
		t.Fatalf("expected 1 saved record, got %#v", res)
	}
	// Exponential backoff: 2^1 and 2^2 times the base delay.
	if len(*sleeps) != 2 || (*sleeps)[0] != 2*time.Second || (*sleeps)[1] != 4*time.Second {
		t.Fatalf("unexpected backoff delays: %v", *sleeps)
	}
}

func TestFetchExhaustion(t *testing.T) {
	src := &fakeSource{failures: 100}
	store := newFakeStore()
	cfg, _ := testConfig()
	p := New(src, store, cfg)

	_, err := p.Ingest(context.Background(), dayRequest("2024-03-01", "2024-03-01", false))
	if !errkind.Is(err, errkind.FetchExhausted) {
		t.Fatalf("expected FetchExhausted, got %v", err)
	}
	if src.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", src.calls)
	}
	if len(store.records) != 0 {
		t.Fatalf("expected zero stored records after exhaustion, got %d", len(store.records))
	}
}

func TestIngestRangeValidation(t *testing.T) {
	src := &fakeSource{}
	store := newFakeStore()
	cfg, _ := testConfig()
	p := New(src, store, cfg)
	ctx := context.Background()

	// Inverted range.
	if _, err := p.Ingest(ctx, dayRequest("2024-01-10", "2024-01-01", false)); !errkind.Is(err, errkind.InvalidRange) {
		t.Fatalf("expected InvalidRange for inverted range, got %v", err)
	}

	// 400-day range.
	if _, err := p.Ingest(ctx, dayRequest("2023-01-01", "2024-02-05", false)); !errkind.Is(err, errkind.InvalidRange) {
		t.Fatalf("expected InvalidRange for 400-day range, got %v", err)
	}

	// End in the future relative to the injected clock.
	if _, err := p.Ingest(ctx, dayRequest("2024-04-10", "2024-05-01", false)); !errkind.Is(err, errkind.InvalidRange) {
		t.Fatalf("expected InvalidRange for future end, got %v", err)
	}

	// Bad scope.
	req := dayRequest("2024-03-01", "2024-03-02", false)
	req.Scope = "week"
	if _, err := p.Ingest(ctx, req); !errkind.Is(err, errkind.InvalidTimeScope) {
		t.Fatalf("expected InvalidTimeScope, got %v", err)
	}

	if src.calls != 0 {
		t.Fatalf("validation failures must not reach the data source, got %d calls", src.calls)
	}
}

func TestParseRequestUnparseableDates(t *testing.T) {
	if _, err := ParseRequest("not-a-date", "2024-01-01", "day", false); !errkind.Is(err, errkind.InvalidRange) {
		t.Fatalf("expected InvalidRange for bad start, got %v", err)
	}
	if _, err := ParseRequest("2024-01-01", "bogus", "day", false); !errkind.Is(err, errkind.InvalidRange) {
		t.Fatalf("expected InvalidRange for bad end, got %v", err)
	}
	if _, err := ParseRequest("2024-01-01", "2024-01-02", "decade", false); !errkind.Is(err, errkind.InvalidTimeScope) {
		t.Fatalf("expected InvalidTimeScope, got %v", err)
	}
}

func TestBackfillContinuesPastFailedChunk(t *testing.T) {
	// Fail every call of the second chunk (calls 2, 3 and 4 after the first
	// chunk's single success).
	src := &fakeSource{failCall: map[int]bool{2: true, 3: true, 4: true}}
	store := newFakeStore()
	cfg, _ := testConfig()
	p := New(src, store, cfg)

	req := dayRequest("2024-01-01", "2024-03-01", false)
	res, err := p.Backfill(context.Background(), req)
	if err != nil {
		t.Fatalf("backfill must not abort on chunk failure: %v", err)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected 1 chunk error, got %#v", res.Errors)
	}
	if res.SavedCount != 2 {
		t.Fatalf("expected 2 records from the surviving chunks, got %d", res.SavedCount)
	}
}

func TestBackfillInvalidRange(t *testing.T) {
	src := &fakeSource{}
	cfg, _ := testConfig()
	p := New(src, newFakeStore(), cfg)

	if _, err := p.Backfill(context.Background(), dayRequest("2024-03-10", "2024-03-01", false)); !errkind.Is(err, errkind.InvalidRange) {
		t.Fatalf("expected InvalidRange, got %v", err)
	}
}

func TestExpectedCountHeuristic(t *testing.T) {
	cfg, _ := testConfig()
	p := New(&fakeSource{}, newFakeStore(), cfg)

	cases := []struct {
		scope balance.TimeScope
		days  int
		want  int
	}{
		{balance.ScopeHour, 2, 48},
		{balance.ScopeDay, 10, 10},
		{balance.ScopeMonth, 90, 3},
		{balance.ScopeMonth, 10, 1}, // never below one expected record
		{balance.ScopeYear, 730, 2},
	}
	for _, c := range cases {
		start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		req := Request{Start: start, End: start.AddDate(0, 0, c.days), Scope: c.scope}
		if got := p.expectedCount(req); got != c.want {
			t.Fatalf("expectedCount(%s, %d days) = %d, want %d", c.scope, c.days, got, c.want)
		}
	}
}
