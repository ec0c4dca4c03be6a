// Package store executes aggregate queries against the shared service
// metrics table and returns rectangular result sets. It is the leaf
// dependency for every analytics component and is strictly read-only.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	engerr "github.com/sloscope/sloscope/pkg/errors"
	"github.com/sloscope/sloscope/pkg/telemetry"
)

// Row is one result row: column name to value. Missing or NULL columns map
// to nil, never to a zero value, so callers can distinguish "measured zero"
// from "no data".
type Row map[string]any

// AggKind selects the aggregate form applied to a column.
type AggKind string

const (
	// AggAvg averages a numeric column over the group.
	AggAvg AggKind = "avg"

	// AggSum sums a numeric column over the group.
	AggSum AggKind = "sum"

	// AggMax takes the maximum of a column over the group.
	AggMax AggKind = "max"

	// AggCountIf counts rows matching a condition:
	// SUM(CASE WHEN cond THEN 1 ELSE 0 END).
	AggCountIf AggKind = "count_if"

	// AggAny picks an arbitrary representative value from the group. Status
	// fields vary by row within a service group; which row's value is
	// returned is not guaranteed and callers must not depend on it.
	AggAny AggKind = "any"
)

// Aggregate is one aggregate expression keyed by its output column name.
type Aggregate struct {
	Name  string
	Kind  AggKind
	Field string
	// Cond is the raw condition for AggCountIf. Conditions come from the
	// fixed query templates in this module's callers, never from user input.
	Cond string
}

// Avg builds an AVG aggregate.
func Avg(name, field string) Aggregate { return Aggregate{Name: name, Kind: AggAvg, Field: field} }

// Sum builds a SUM aggregate.
func Sum(name, field string) Aggregate { return Aggregate{Name: name, Kind: AggSum, Field: field} }

// Max builds a MAX aggregate.
func Max(name, field string) Aggregate { return Aggregate{Name: name, Kind: AggMax, Field: field} }

// Any builds an arbitrary-representative aggregate.
func Any(name, field string) Aggregate { return Aggregate{Name: name, Kind: AggAny, Field: field} }

// CountIf builds a conditional-count aggregate.
func CountIf(name, cond string) Aggregate {
	return Aggregate{Name: name, Kind: AggCountIf, Cond: cond}
}

// AggregateQuery describes one aggregate query over the metrics table,
// always grouped by service_id when GroupByService is set. Grouping by
// anything else multiplies the apparent service count and is a correctness
// bug, so no other grouping key is expressible.
type AggregateQuery struct {
	Aggregates []Aggregate

	// ServiceID filters to one service when non-empty.
	ServiceID string

	// From/To bound observed_at when non-zero. From is inclusive; To is
	// inclusive as well, matching the upstream window semantics.
	From time.Time
	To   time.Time

	// Where is an extra raw predicate from a fixed template, ANDed in.
	Where string

	// GroupByService groups by service_id. When false the query returns a
	// single table-wide row.
	GroupByService bool

	Having  string
	OrderBy string
	Desc    bool
	Limit   int
}

// Store adapts a SQL-speaking metrics store. All access is read-only.
type Store struct {
	db      *sql.DB
	table   string
	metrics *telemetry.EngineMetrics

	burnOnce    sync.Once
	hasBurnRate bool
}

// Option configures a Store.
type Option func(*Store)

// WithTable overrides the backing table name.
func WithTable(table string) Option {
	return func(s *Store) { s.table = table }
}

// WithMetrics attaches engine metrics to query execution.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New wraps an open database handle.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, engerr.New(engerr.CodeStoreUnavailable, "database handle is nil", nil)
	}
	s := &Store{db: db, table: "service_metrics"}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Open opens a sqlite-backed store.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, engerr.New(engerr.CodeStoreUnavailable, "failed to open metrics store", err)
	}
	return New(db, opts...)
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Aggregate executes an aggregate query and returns one row per group.
// Services absent from the filtered window yield no row; callers treat an
// empty result as "no data", never as zero.
func (s *Store) Aggregate(ctx context.Context, q AggregateQuery) ([]Row, error) {
	if len(q.Aggregates) == 0 {
		return nil, engerr.New(engerr.CodeInvalidQuery, "aggregate query has no aggregates", nil)
	}

	var cols []string
	if q.GroupByService {
		cols = append(cols, "service_id")
	}
	for _, agg := range q.Aggregates {
		expr, err := agg.sql()
		if err != nil {
			return nil, err
		}
		cols = append(cols, expr)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), s.table)

	var conds []string
	var args []any
	if q.ServiceID != "" {
		conds = append(conds, "service_id = ?")
		args = append(args, q.ServiceID)
	}
	if !q.From.IsZero() {
		conds = append(conds, "observed_at >= ?")
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		conds = append(conds, "observed_at <= ?")
		args = append(args, q.To.UTC())
	}
	if q.Where != "" {
		conds = append(conds, q.Where)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	if q.GroupByService {
		query += " GROUP BY service_id"
	}
	if q.Having != "" {
		query += " HAVING " + q.Having
	}
	if q.OrderBy != "" {
		query += " ORDER BY " + q.OrderBy
		if q.Desc {
			query += " DESC"
		}
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	return s.queryRows(ctx, query, args...)
}

func (a Aggregate) sql() (string, error) {
	switch a.Kind {
	case AggAvg:
		return fmt.Sprintf("AVG(%s) AS %s", a.Field, a.Name), nil
	case AggSum:
		return fmt.Sprintf("SUM(%s) AS %s", a.Field, a.Name), nil
	case AggMax:
		return fmt.Sprintf("MAX(%s) AS %s", a.Field, a.Name), nil
	case AggAny:
		// MIN is the fixed tiebreak for "any representative value".
		return fmt.Sprintf("MIN(%s) AS %s", a.Field, a.Name), nil
	case AggCountIf:
		if a.Cond == "" {
			return "", engerr.New(engerr.CodeInvalidQuery, "count_if aggregate requires a condition", nil).
				WithContext("name", a.Name)
		}
		return fmt.Sprintf("SUM(CASE WHEN %s THEN 1 ELSE 0 END) AS %s", a.Cond, a.Name), nil
	default:
		return "", engerr.New(engerr.CodeInvalidQuery, "unknown aggregate kind", nil).
			WithContext("kind", string(a.Kind))
	}
}

// ServiceRecords returns raw rows ordered by observed_at ascending,
// optionally filtered to one service and bounded by a time range.
func (s *Store) ServiceRecords(ctx context.Context, serviceID string, from, to time.Time) ([]Row, error) {
	query := fmt.Sprintf(`
		SELECT service_id, observed_at, total_count, success_count, error_count,
		       success_rate, error_rate, latency_avg, latency_p50, latency_p75,
		       latency_p90, latency_p95, latency_p99,
		       standard_slo_target, latency_slo_target
		FROM %s`, s.table)
	var conds []string
	var args []any
	if serviceID != "" {
		conds = append(conds, "service_id = ?")
		args = append(args, serviceID)
	}
	if !from.IsZero() {
		conds = append(conds, "observed_at >= ?")
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		conds = append(conds, "observed_at <= ?")
		args = append(args, to.UTC())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY observed_at ASC"
	return s.queryRows(ctx, query, args...)
}

// Services returns all distinct service identifiers, ordered.
func (s *Store) Services(ctx context.Context) ([]string, error) {
	rows, err := s.queryRows(ctx,
		fmt.Sprintf("SELECT DISTINCT service_id FROM %s ORDER BY service_id", s.table))
	if err != nil {
		return nil, err
	}
	services := make([]string, 0, len(rows))
	for _, row := range rows {
		if id, ok := row["service_id"].(string); ok {
			services = append(services, id)
		}
	}
	return services, nil
}

// ServiceCount returns the number of distinct services.
func (s *Store) ServiceCount(ctx context.Context) (int, error) {
	rows, err := s.queryRows(ctx,
		fmt.Sprintf("SELECT COUNT(DISTINCT service_id) AS n FROM %s", s.table))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return int(toInt64(rows[0]["n"])), nil
}

// TotalRecords returns the total row count.
func (s *Store) TotalRecords(ctx context.Context) (int, error) {
	rows, err := s.queryRows(ctx,
		fmt.Sprintf("SELECT COUNT(*) AS n FROM %s", s.table))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return int(toInt64(rows[0]["n"])), nil
}

// TimeRange returns the min and max observed_at across the table. ok is
// false when the table is empty.
func (s *Store) TimeRange(ctx context.Context) (min, max time.Time, ok bool, err error) {
	rows, err := s.queryRows(ctx,
		fmt.Sprintf("SELECT MIN(observed_at) AS min_time, MAX(observed_at) AS max_time FROM %s", s.table))
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if len(rows) == 0 {
		return time.Time{}, time.Time{}, false, nil
	}
	minT, okMin := toTime(rows[0]["min_time"])
	maxT, okMax := toTime(rows[0]["max_time"])
	if !okMin || !okMax {
		return time.Time{}, time.Time{}, false, nil
	}
	return minT, maxT, true, nil
}

// HasBurnRate reports whether the backing table carries a pre-computed
// burn_rate column. Older source generations do not; callers compute burn
// rate from error_rate instead. Checked once per store, not per query.
func (s *Store) HasBurnRate(ctx context.Context) bool {
	s.burnOnce.Do(func() {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info('%s')", s.table))
		if err != nil {
			return
		}
		defer rows.Close()
		for rows.Next() {
			var cid int
			var name, dataType string
			var notNull, pk int
			var dflt sql.NullString
			if err := rows.Scan(&cid, &name, &dataType, &notNull, &dflt, &pk); err != nil {
				return
			}
			if name == "burn_rate" {
				s.hasBurnRate = true
				return
			}
		}
	})
	return s.hasBurnRate
}

func (s *Store) queryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.metrics.RecordQuery(ctx, time.Since(start))
	if err != nil {
		return nil, s.classify(ctx, err, query)
	}
	defer rows.Close()

	result, err := rowsToMaps(rows)
	if err != nil {
		return nil, s.classify(ctx, err, query)
	}
	return result, nil
}

// classify maps a driver error onto the engine error taxonomy. Cancellation
// and deadline expiry propagate as TIMEOUT; template bugs as INVALID_QUERY;
// anything else as STORE_UNAVAILABLE.
func (s *Store) classify(ctx context.Context, err error, query string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return engerr.New(engerr.CodeTimeout, "store query cancelled or timed out", err)
	}
	msg := err.Error()
	if strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "syntax error") {
		return engerr.New(engerr.CodeInvalidQuery, "malformed store query", err).
			WithContext("query", query)
	}
	return engerr.New(engerr.CodeStoreUnavailable, "store query failed", err)
}

// rowsToMaps converts sql.Rows to a slice of Row, preserving NULL as nil.
func rowsToMaps(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []Row
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			val := values[i]
			if b, ok := val.([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = val
			}
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		// MIN/MAX over a time.Time-bound column come back from the driver as
		// the time.Time.String() rendering, not as time.Time.
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999 -0700 MST", "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
