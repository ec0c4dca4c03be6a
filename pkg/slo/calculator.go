package slo

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/sloscope/sloscope/pkg/store"
)

// Config carries the default SLO targets applied when a row carries none.
type Config struct {
	StandardTarget     float64
	AspirationalTarget float64
}

// DefaultConfig matches the platform defaults: 98% standard, 99% aspirational.
func DefaultConfig() Config {
	return Config{StandardTarget: 98.0, AspirationalTarget: 99.0}
}

// Calculator computes SLIs, error budgets, and burn rates. It is stateless:
// every method is a pure function of its parameters and the store contents,
// safe for concurrent use.
type Calculator struct {
	store *store.Store
	cfg   Config
}

// NewCalculator builds a calculator over the given store.
func NewCalculator(st *store.Store, cfg Config) *Calculator {
	if cfg.StandardTarget == 0 {
		cfg = DefaultConfig()
	}
	return &Calculator{store: st, cfg: cfg}
}

// GetCurrentSLI returns the current indicator snapshot per service, for one
// service or all. Rates and latencies aggregate with AVG, counts with SUM;
// the stored error_rate field is trusted as-is, never recomputed from counts.
func (c *Calculator) GetCurrentSLI(ctx context.Context, serviceID string) ([]SLIRecord, error) {
	rows, err := c.store.Aggregate(ctx, store.AggregateQuery{
		GroupByService: true,
		ServiceID:      serviceID,
		Aggregates: []store.Aggregate{
			store.Avg("avg_success_rate", "success_rate"),
			store.Avg("avg_error_rate", "error_rate"),
			store.Avg("avg_latency", "latency_avg"),
			store.Avg("avg_p50", "latency_p50"),
			store.Avg("avg_p95", "latency_p95"),
			store.Avg("avg_p99", "latency_p99"),
			store.Sum("total_requests", "total_count"),
			store.Sum("total_errors", "error_count"),
			store.Max("standard_target", "standard_slo_target"),
			store.Max("aspirational_target", "aspirational_slo_target"),
			store.Any("eb_health", "eb_health"),
			store.Any("response_health", "response_health"),
			store.Any("asp_eb_health", "aspirational_eb_health"),
			store.Any("asp_response_health", "aspirational_response_health"),
		},
		OrderBy: "service_id",
	})
	if err != nil {
		return nil, err
	}

	records := make([]SLIRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, SLIRecord{
			ServiceID:                  row.Str("service_id"),
			SuccessRate:                row.Float("avg_success_rate"),
			ErrorRate:                  row.Float("avg_error_rate"),
			LatencyAvg:                 row.Float("avg_latency"),
			LatencyP50:                 row.Float("avg_p50"),
			LatencyP95:                 row.Float("avg_p95"),
			LatencyP99:                 row.Float("avg_p99"),
			TotalRequests:              row.Int("total_requests"),
			TotalErrors:                row.Int("total_errors"),
			StandardTarget:             row.Float("standard_target"),
			AspirationalTarget:         row.Float("aspirational_target"),
			EBHealth:                   healthOf(row.Str("eb_health")),
			ResponseHealth:             healthOf(row.Str("response_health")),
			AspirationalEBHealth:       healthOf(row.Str("asp_eb_health")),
			AspirationalResponseHealth: healthOf(row.Str("asp_response_health")),
		})
	}
	return records, nil
}

// CalculateErrorBudget returns budget accounting for one service over the
// trailing window. A service with zero matching rows yields NoData, not an
// error, so batch callers degrade per-row.
func (c *Calculator) CalculateErrorBudget(ctx context.Context, serviceID string, windowHours int) (*ErrorBudget, error) {
	var from, to time.Time
	if windowHours > 0 {
		_, maxT, ok, err := c.store.TimeRange(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			to = maxT
			from = maxT.Add(-time.Duration(windowHours) * time.Hour)
		}
	}

	rows, err := c.store.Aggregate(ctx, store.AggregateQuery{
		GroupByService: true,
		ServiceID:      serviceID,
		From:           from,
		To:             to,
		Aggregates: []store.Aggregate{
			store.Avg("consumed", "error_budget_consumed_percent"),
			store.Avg("left_percent", "error_budget_left_percent"),
			store.Avg("left_count", "error_budget_left_count"),
			store.Max("standard_target", "standard_slo_target"),
			store.Avg("avg_error_rate", "error_rate"),
			store.Sum("total_requests", "total_count"),
		},
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		slog.DebugContext(ctx, "no rows for error budget", "service_id", serviceID, "window_hours", windowHours)
		return &ErrorBudget{ServiceID: serviceID, NoData: true}, nil
	}

	row := rows[0]
	budget := &ErrorBudget{
		ServiceID:       row.Str("service_id"),
		ConsumedPercent: row.Float("consumed"),
		LeftPercent:     row.Float("left_percent"),
		LeftCount:       row.Float("left_count"),
		AvgErrorRate:    row.Float("avg_error_rate"),
		TotalRequests:   row.Int("total_requests"),
	}
	if target := row.Float("standard_target"); target != nil {
		allocated := 100 - *target
		budget.AllocatedPercent = &allocated
	}
	if budget.ConsumedPercent != nil && *budget.ConsumedPercent >= 100 {
		budget.IsExhausted = true
	}
	if budget.LeftCount != nil && *budget.LeftCount < 0 {
		budget.IsExhausted = true
	}
	return budget, nil
}

// CalculateBurnRate computes the budget consumption pace per service, for
// one service or all. When the store carries a pre-computed burn_rate column
// its average is used; otherwise the rate derives from the stored error rate
// and the standard SLO allowance. A zero or missing allowance yields a nil
// rate, never a division by zero.
func (c *Calculator) CalculateBurnRate(ctx context.Context, serviceID string) ([]BurnRate, error) {
	aggs := []store.Aggregate{
		store.Avg("avg_error_rate", "error_rate"),
		store.Max("standard_target", "standard_slo_target"),
		store.Avg("consumed", "error_budget_consumed_percent"),
		store.Avg("left_percent", "error_budget_left_percent"),
		store.Any("eb_health", "eb_health"),
	}
	// Capability check once per call batch, not per row.
	hasStored := c.store.HasBurnRate(ctx)
	if hasStored {
		aggs = append(aggs, store.Avg("stored_burn_rate", "burn_rate"))
	}

	rows, err := c.store.Aggregate(ctx, store.AggregateQuery{
		GroupByService: true,
		ServiceID:      serviceID,
		Aggregates:     aggs,
		OrderBy:        "service_id",
	})
	if err != nil {
		return nil, err
	}

	results := make([]BurnRate, 0, len(rows))
	for _, row := range rows {
		br := BurnRate{
			ServiceID:       row.Str("service_id"),
			AvgErrorRate:    row.Float("avg_error_rate"),
			StandardTarget:  row.Float("standard_target"),
			ConsumedPercent: row.Float("consumed"),
			LeftPercent:     row.Float("left_percent"),
			EBHealth:        healthOf(row.Str("eb_health")),
		}
		if hasStored {
			br.Rate = row.Float("stored_burn_rate")
		}
		if br.Rate == nil {
			br.Rate = DeriveBurnRate(br.AvgErrorRate, br.StandardTarget)
		}
		br.Classification = Classify(br.Rate)
		results = append(results, br)
	}
	return results, nil
}

// DeriveBurnRate computes error_rate / (100 - target) * 100. Returns nil
// when the allowance is zero or either input is missing.
func DeriveBurnRate(avgErrorRate, standardTarget *float64) *float64 {
	if avgErrorRate == nil || standardTarget == nil {
		return nil
	}
	allowance := 100 - *standardTarget
	if allowance <= 0 {
		return nil
	}
	rate := *avgErrorRate / allowance * 100
	return &rate
}

// GetServicesByBurnRate ranks services by burn rate descending and returns
// the top limit. Services with a zero or undefined rate are excluded: a
// service with no measured errors is healthy by definition and does not
// belong on a risk-ranked list.
func (c *Calculator) GetServicesByBurnRate(ctx context.Context, limit int) ([]BurnRate, error) {
	if limit <= 0 {
		limit = 10
	}
	all, err := c.CalculateBurnRate(ctx, "")
	if err != nil {
		return nil, err
	}
	ranked := make([]BurnRate, 0, len(all))
	for _, br := range all {
		if br.Rate == nil || *br.Rate <= 0 {
			continue
		}
		ranked = append(ranked, br)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return *ranked[i].Rate > *ranked[j].Rate
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// GetServiceSummary rolls up SLI, error budget, and burn rate for one
// service in a single call.
func (c *Calculator) GetServiceSummary(ctx context.Context, serviceID string) (*ServiceSummary, error) {
	summary := &ServiceSummary{ServiceID: serviceID}

	slis, err := c.GetCurrentSLI(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if len(slis) == 0 {
		summary.NoData = true
		return summary, nil
	}
	summary.SLI = &slis[0]

	budget, err := c.CalculateErrorBudget(ctx, serviceID, 0)
	if err != nil {
		return nil, err
	}
	if !budget.NoData {
		summary.Budget = budget
	}

	burns, err := c.CalculateBurnRate(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if len(burns) > 0 {
		summary.Burn = &burns[0]
	}
	return summary, nil
}
