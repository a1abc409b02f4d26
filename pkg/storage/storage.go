// Package storage is the sqlite-backed time-series store for balance
// records. The UNIQUE(timestamp, time_scope) constraint is the idempotency
// key; concurrent writers for the same key are resolved by the upsert, not
// by application locking.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gridpulse/gridpulse/pkg/balance"
	"github.com/gridpulse/gridpulse/pkg/errkind"
)

const tsLayout = "2006-01-02T15:04:05Z"

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS balance_records (
  id               INTEGER PRIMARY KEY,
  timestamp        TEXT NOT NULL,
  time_scope       TEXT NOT NULL CHECK (time_scope IN ('hour','day','month','year')),
  generation       TEXT NOT NULL,
  demand           TEXT NOT NULL,
  interchange      TEXT NOT NULL,
  total_generation REAL NOT NULL,
  total_demand     REAL NOT NULL,
  balance          REAL NOT NULL,
  renewable_pct    REAL NOT NULL,
  title            TEXT,
  description      TEXT,
  source           TEXT,
  created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(timestamp, time_scope)
);
CREATE INDEX IF NOT EXISTS idx_records_scope_time ON balance_records(time_scope, timestamp);
	`); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Upsert inserts the record or, when its (timestamp, time_scope) key already
// exists, updates it in place. Derived fields are persisted as stored so the
// caller must have run balance.Recompute beforehand.
func (d *DB) Upsert(ctx context.Context, rec balance.Record) error {
	return d.upsert(ctx, d.sql, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (d *DB) upsert(ctx context.Context, ex execer, rec balance.Record) error {
	gen, err := json.Marshal(rec.Generation)
	if err != nil {
		return errkind.Wrap(errkind.StoreError, err, "encoding generation items")
	}
	dem, err := json.Marshal(rec.Demand)
	if err != nil {
		return errkind.Wrap(errkind.StoreError, err, "encoding demand items")
	}
	inter, err := json.Marshal(rec.Interchange)
	if err != nil {
		return errkind.Wrap(errkind.StoreError, err, "encoding interchange items")
	}

	_, err = ex.ExecContext(ctx, `
INSERT INTO balance_records
  (timestamp, time_scope, generation, demand, interchange,
   total_generation, total_demand, balance, renewable_pct,
   title, description, source)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(timestamp, time_scope) DO UPDATE SET
  generation = excluded.generation,
  demand = excluded.demand,
  interchange = excluded.interchange,
  total_generation = excluded.total_generation,
  total_demand = excluded.total_demand,
  balance = excluded.balance,
  renewable_pct = excluded.renewable_pct,
  title = excluded.title,
  description = excluded.description,
  source = excluded.source,
  updated_at = CURRENT_TIMESTAMP`,
		rec.Timestamp.UTC().Format(tsLayout), string(rec.TimeScope),
		string(gen), string(dem), string(inter),
		rec.TotalGeneration, rec.TotalDemand, rec.Balance, rec.RenewablePercentage,
		nullIfEmpty(rec.Metadata.Title), nullIfEmpty(rec.Metadata.Description), nullIfEmpty(rec.Metadata.Source))
	if err != nil {
		return errkind.Wrap(errkind.StoreError, err, "upserting record %s/%s", rec.Timestamp.UTC().Format(tsLayout), rec.TimeScope)
	}
	return nil
}

// UpsertMany upserts all records in one transaction and returns how many
// were written.
func (d *DB) UpsertMany(ctx context.Context, recs []balance.Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, errkind.Wrap(errkind.StoreError, err, "opening transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, rec := range recs {
		if err = d.upsert(ctx, tx, rec); err != nil {
			return 0, err
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, errkind.Wrap(errkind.StoreError, err, "committing batch")
	}
	return len(recs), nil
}

// ExistsForKey reports whether a record with this idempotency key is stored.
func (d *DB) ExistsForKey(ctx context.Context, ts time.Time, scope balance.TimeScope) (bool, error) {
	var n int
	err := d.sql.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM balance_records WHERE timestamp = ? AND time_scope = ?",
		ts.UTC().Format(tsLayout), string(scope)).Scan(&n)
	if err != nil {
		return false, errkind.Wrap(errkind.StoreError, err, "existence check")
	}
	return n > 0, nil
}

// CountInRange counts stored records for [start, end] at the given scope.
func (d *DB) CountInRange(ctx context.Context, start, end time.Time, scope balance.TimeScope) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM balance_records WHERE time_scope = ? AND timestamp >= ? AND timestamp <= ?",
		string(scope), start.UTC().Format(tsLayout), end.UTC().Format(tsLayout)).Scan(&n)
	if err != nil {
		return 0, errkind.Wrap(errkind.StoreError, err, "range count")
	}
	return n, nil
}

// FindOptions controls selection when listing records.
type FindOptions struct {
	Limit    int
	Skip     int
	Desc     bool
	MinRenew float64 // only records with renewable_pct >= MinRenew when > 0
}

// FindInRange returns stored records for [start, end] at the given scope,
// sorted by timestamp.
func (d *DB) FindInRange(ctx context.Context, start, end time.Time, scope balance.TimeScope, opts FindOptions) ([]balance.Record, error) {
	where := "WHERE time_scope = ? AND timestamp >= ? AND timestamp <= ?"
	args := []interface{}{string(scope), start.UTC().Format(tsLayout), end.UTC().Format(tsLayout)}
	if opts.MinRenew > 0 {
		where += " AND renewable_pct >= ?"
		args = append(args, opts.MinRenew)
	}

	order := " ORDER BY timestamp ASC"
	if opts.Desc {
		order = " ORDER BY timestamp DESC"
	}
	limits := ""
	if opts.Limit > 0 {
		limits = fmt.Sprintf(" LIMIT %d OFFSET %d", opts.Limit, opts.Skip)
	}

	q := `SELECT timestamp, time_scope, generation, demand, interchange,
  total_generation, total_demand, balance, renewable_pct, title, description, source
FROM balance_records ` + where + order + limits
	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreError, err, "range query")
	}
	defer rows.Close()

	var out []balance.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.Wrap(errkind.StoreError, err, "range query")
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (balance.Record, error) {
	var (
		rec              balance.Record
		tsStr, scopeStr  string
		gen, dem, inter  string
		title, desc, src sql.NullString
	)
	if err := rows.Scan(&tsStr, &scopeStr, &gen, &dem, &inter,
		&rec.TotalGeneration, &rec.TotalDemand, &rec.Balance, &rec.RenewablePercentage,
		&title, &desc, &src); err != nil {
		return rec, errkind.Wrap(errkind.StoreError, err, "scanning record")
	}
	t, err := time.Parse(tsLayout, tsStr)
	if err != nil {
		return rec, errkind.Wrap(errkind.StoreError, err, "parsing stored timestamp %q", tsStr)
	}
	rec.Timestamp = t
	rec.TimeScope = balance.TimeScope(scopeStr)
	if err := json.Unmarshal([]byte(gen), &rec.Generation); err != nil {
		return rec, errkind.Wrap(errkind.StoreError, err, "decoding generation items")
	}
	if err := json.Unmarshal([]byte(dem), &rec.Demand); err != nil {
		return rec, errkind.Wrap(errkind.StoreError, err, "decoding demand items")
	}
	if err := json.Unmarshal([]byte(inter), &rec.Interchange); err != nil {
		return rec, errkind.Wrap(errkind.StoreError, err, "decoding interchange items")
	}
	rec.Metadata = balance.Metadata{Title: title.String, Description: desc.String, Source: src.String}
	return rec, nil
}

// TypeShare is one entry of a per-type distribution.
type TypeShare struct {
	Type       string  `json:"type"`
	Total      float64 `json:"total"`
	Percentage float64 `json:"percentage"`
}

// AggregateByType sums generation per type over the range and expresses each
// type as a percentage of the overall total.
func (d *DB) AggregateByType(ctx context.Context, start, end time.Time, scope balance.TimeScope) ([]TypeShare, error) {
	recs, err := d.FindInRange(ctx, start, end, scope, FindOptions{})
	if err != nil {
		return nil, err
	}
	totals := make(map[string]float64)
	var overall float64
	for _, rec := range recs {
		for _, it := range rec.Generation {
			if it.Type == balance.PlaceholderType {
				continue
			}
			totals[it.Type] += balance.Finite(it.Value)
			overall += balance.Finite(it.Value)
		}
	}
	out := make([]TypeShare, 0, len(totals))
	for typ, total := range totals {
		share := TypeShare{Type: typ, Total: total}
		if overall > 0 {
			share.Percentage = balance.Finite(total / overall * 100)
		}
		out = append(out, share)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out, nil
}

// Indicator names accepted by TimeSeries, mapped to their columns.
var indicatorColumns = map[string]string{
	"totalGeneration":     "total_generation",
	"totalDemand":         "total_demand",
	"balance":             "balance",
	"renewablePercentage": "renewable_pct",
}

// Point is one (timestamp, value) pair of an indicator series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// TimeSeries extracts one indicator as an ordered series over the range.
func (d *DB) TimeSeries(ctx context.Context, indicator string, start, end time.Time, scope balance.TimeScope) ([]Point, error) {
	col, ok := indicatorColumns[indicator]
	if !ok {
		return nil, errkind.New(errkind.StoreError, "unknown indicator %q", indicator)
	}
	q := "SELECT timestamp, " + col + " FROM balance_records WHERE time_scope = ? AND timestamp >= ? AND timestamp <= ? ORDER BY timestamp ASC"
	rows, err := d.sql.QueryContext(ctx, q,
		string(scope), start.UTC().Format(tsLayout), end.UTC().Format(tsLayout))
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreError, err, "time series query")
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var tsStr string
		var p Point
		if err := rows.Scan(&tsStr, &p.Value); err != nil {
			return nil, errkind.Wrap(errkind.StoreError, err, "scanning point")
		}
		t, err := time.Parse(tsLayout, tsStr)
		if err != nil {
			return nil, errkind.Wrap(errkind.StoreError, err, "parsing stored timestamp %q", tsStr)
		}
		p.Timestamp = t
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.Wrap(errkind.StoreError, err, "time series query")
	}
	return out, nil
}

type ScopeStats struct {
	Scope   string `json:"scope"`
	Records int    `json:"records"`
	Oldest  string `json:"oldest,omitempty"`
	Newest  string `json:"newest,omitempty"`
}

// GetStats summarizes record counts and coverage per granularity.
func (d *DB) GetStats(ctx context.Context) ([]ScopeStats, error) {
	query := `
		SELECT
			time_scope,
			COUNT(1),
			MIN(timestamp),
			MAX(timestamp)
		FROM
			balance_records
		GROUP BY
			time_scope
		ORDER BY
			time_scope;
	`
	rows, err := d.sql.QueryContext(ctx, query)
	if err != nil {
		return nil, errkind.Wrap(errkind.StoreError, err, "stats query")
	}
	defer rows.Close()

	var stats []ScopeStats
	for rows.Next() {
		var s ScopeStats
		var oldest, newest sql.NullString
		if err := rows.Scan(&s.Scope, &s.Records, &oldest, &newest); err != nil {
			return nil, errkind.Wrap(errkind.StoreError, err, "scanning stats")
		}
		s.Oldest = oldest.String
		s.Newest = newest.String
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.Wrap(errkind.StoreError, err, "stats query")
	}
	return stats, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
