package store

import (
	"context"
	"fmt"

	engerr "github.com/sloscope/sloscope/pkg/errors"
)

// EnsureSchema creates the metrics table and its indexes when absent. The
// ingestion pipeline owns this schema in production; the engine creates it
// only for local runs and tests. Rows are immutable once ingested and the
// engine never writes them.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,

			service_id TEXT NOT NULL,
			observed_at TIMESTAMP NOT NULL,

			total_count REAL,
			success_count REAL,
			error_count REAL,
			success_rate REAL,
			error_rate REAL,

			latency_avg REAL,
			latency_p50 REAL,
			latency_p75 REAL,
			latency_p90 REAL,
			latency_p95 REAL,
			latency_p99 REAL,

			standard_slo_target REAL,
			aspirational_slo_target REAL,
			latency_slo_target REAL,

			error_budget_allocated_percent REAL,
			error_budget_consumed_percent REAL,
			error_budget_left_percent REAL,
			error_budget_left_count REAL,
			aspirational_error_budget_consumed_percent REAL,

			response_breach_count REAL,
			response_error_rate REAL,
			timeliness_consumed_percent REAL,

			eb_health TEXT,
			response_health TEXT,
			timeliness_health TEXT,
			aspirational_eb_health TEXT,
			aspirational_response_health TEXT,

			eb_severity TEXT,
			response_severity TEXT,
			timeliness_severity TEXT,
			aspirational_eb_severity TEXT,
			aspirational_response_severity TEXT,

			eb_breached INTEGER,
			response_breached INTEGER,

			governance_status TEXT,
			burn_rate REAL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_service ON %s(service_id);
		CREATE INDEX IF NOT EXISTS idx_%s_observed ON %s(observed_at);
	`, s.table, s.table, s.table, s.table, s.table)

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return engerr.New(engerr.CodeStoreUnavailable, "failed to ensure metrics schema", err)
	}
	return nil
}
