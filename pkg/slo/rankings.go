package slo

import (
	"context"
	"sort"

	"github.com/sloscope/sloscope/pkg/store"
)

// GetSLOViolations returns all services breaching their standard SLO on
// either the error-budget or response dimension. When the upstream breach
// flags are absent the equivalent is recomputed from consumed percent and
// the response error rate. An empty list is a valid answer.
func (c *Calculator) GetSLOViolations(ctx context.Context) ([]Violation, error) {
	rows, err := c.store.Aggregate(ctx, store.AggregateQuery{
		GroupByService: true,
		Aggregates: []store.Aggregate{
			store.CountIf("eb_breach_rows", "eb_breached = 1"),
			store.CountIf("response_breach_rows", "response_breached = 1"),
			store.Avg("consumed", "error_budget_consumed_percent"),
			store.Avg("avg_error_rate", "error_rate"),
			store.Avg("avg_response_error", "response_error_rate"),
			store.Max("standard_target", "standard_slo_target"),
		},
		OrderBy: "service_id",
	})
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, row := range rows {
		v := Violation{
			ServiceID:        row.Str("service_id"),
			ConsumedPercent:  row.Float("consumed"),
			AvgErrorRate:     row.Float("avg_error_rate"),
			AvgResponseError: row.Float("avg_response_error"),
			StandardTarget:   row.Float("standard_target"),
		}

		v.EBViolated = row.Int("eb_breach_rows") > 0
		if !v.EBViolated && v.ConsumedPercent != nil && *v.ConsumedPercent >= 100 {
			v.EBViolated = true
		}

		v.ResponseViolated = row.Int("response_breach_rows") > 0
		if !v.ResponseViolated && v.AvgResponseError != nil && v.StandardTarget != nil {
			if allowance := 100 - *v.StandardTarget; allowance > 0 && *v.AvgResponseError > allowance {
				v.ResponseViolated = true
			}
		}

		if v.EBViolated || v.ResponseViolated {
			violations = append(violations, v)
		}
	}
	return violations, nil
}

// GetAspirationalSLOGap returns services healthy at the standard tier but
// unhealthy at the aspirational tier on either dimension.
func (c *Calculator) GetAspirationalSLOGap(ctx context.Context) ([]AspirationalGap, error) {
	rows, err := c.store.Aggregate(ctx, store.AggregateQuery{
		GroupByService: true,
		Where: "((eb_health = 'HEALTHY' AND aspirational_eb_health = 'UNHEALTHY')" +
			" OR (response_health = 'HEALTHY' AND aspirational_response_health = 'UNHEALTHY'))",
		Aggregates: []store.Aggregate{
			store.Any("eb_health", "eb_health"),
			store.Any("asp_eb_health", "aspirational_eb_health"),
			store.Any("response_health", "response_health"),
			store.Any("asp_response_health", "aspirational_response_health"),
			store.Avg("std_consumed", "error_budget_consumed_percent"),
			store.Avg("asp_consumed", "aspirational_error_budget_consumed_percent"),
			store.Avg("avg_error_rate", "error_rate"),
			store.Max("standard_target", "standard_slo_target"),
		},
		OrderBy: "service_id",
	})
	if err != nil {
		return nil, err
	}

	gaps := make([]AspirationalGap, 0, len(rows))
	for _, row := range rows {
		gaps = append(gaps, AspirationalGap{
			ServiceID:                  row.Str("service_id"),
			EBHealth:                   healthOf(row.Str("eb_health")),
			AspirationalEBHealth:       healthOf(row.Str("asp_eb_health")),
			ResponseHealth:             healthOf(row.Str("response_health")),
			AspirationalResponseHealth: healthOf(row.Str("asp_response_health")),
			StandardConsumed:           row.Float("std_consumed"),
			AspirationalConsumed:       row.Float("asp_consumed"),
			BurnRate:                   DeriveBurnRate(row.Float("avg_error_rate"), row.Float("standard_target")),
		})
	}
	return gaps, nil
}

// GetBreachVsErrorAnalysis classifies each service's dominant failure mode
// by comparing the latency-breach rate against the true error rate. The two
// axes are orthogonal: a service can be slow but correct, or fast but
// broken.
func (c *Calculator) GetBreachVsErrorAnalysis(ctx context.Context, serviceID string) ([]BreachAnalysis, error) {
	rows, err := c.store.Aggregate(ctx, store.AggregateQuery{
		GroupByService: true,
		ServiceID:      serviceID,
		Aggregates: []store.Aggregate{
			store.Avg("avg_breach_rate", "response_error_rate"),
			store.Avg("avg_error_rate", "error_rate"),
			store.Avg("avg_breach_count", "response_breach_count"),
			store.Avg("avg_error_count", "error_count"),
			store.Avg("avg_p95", "latency_p95"),
		},
		OrderBy: "avg_breach_rate",
		Desc:    true,
	})
	if err != nil {
		return nil, err
	}

	results := make([]BreachAnalysis, 0, len(rows))
	for _, row := range rows {
		ba := BreachAnalysis{
			ServiceID:      row.Str("service_id"),
			AvgBreachRate:  row.Float("avg_breach_rate"),
			AvgErrorRate:   row.Float("avg_error_rate"),
			AvgBreachCount: row.Float("avg_breach_count"),
			AvgErrorCount:  row.Float("avg_error_count"),
			AvgLatencyP95:  row.Float("avg_p95"),
		}
		ba.IssueType = classifyIssue(ba.AvgBreachRate, ba.AvgErrorRate)
		results = append(results, ba)
	}
	return results, nil
}

func classifyIssue(breachRate, errorRate *float64) IssueType {
	breach := 0.0
	if breachRate != nil {
		breach = *breachRate
	}
	errRate := 0.0
	if errorRate != nil {
		errRate = *errorRate
	}
	switch {
	case breach > errRate:
		return LatencyIssue
	case errRate > breach:
		return ReliabilityIssue
	default:
		return Balanced
	}
}

// GetBudgetExhaustedServices returns services over budget: consumed >= 100%
// or a negative remaining count.
func (c *Calculator) GetBudgetExhaustedServices(ctx context.Context) ([]ExhaustedBudget, error) {
	rows, err := c.store.Aggregate(ctx, store.AggregateQuery{
		GroupByService: true,
		Where:          "(error_budget_consumed_percent >= 100 OR error_budget_left_count < 0)",
		Aggregates: []store.Aggregate{
			store.Avg("consumed", "error_budget_consumed_percent"),
			store.Avg("left_count", "error_budget_left_count"),
			store.Avg("asp_consumed", "aspirational_error_budget_consumed_percent"),
			store.Any("eb_health", "eb_health"),
			store.Avg("avg_error_rate", "error_rate"),
			store.Max("standard_target", "standard_slo_target"),
			store.Sum("total_requests", "total_count"),
		},
	})
	if err != nil {
		return nil, err
	}

	results := make([]ExhaustedBudget, 0, len(rows))
	for _, row := range rows {
		results = append(results, ExhaustedBudget{
			ServiceID:                   row.Str("service_id"),
			ConsumedPercent:             row.Float("consumed"),
			LeftCount:                   row.Float("left_count"),
			AspirationalConsumedPercent: row.Float("asp_consumed"),
			BurnRate:                    DeriveBurnRate(row.Float("avg_error_rate"), row.Float("standard_target")),
			EBHealth:                    healthOf(row.Str("eb_health")),
			AvgErrorRate:                row.Float("avg_error_rate"),
			TotalRequests:               row.Int("total_requests"),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return derefOr(results[i].BurnRate, 0) > derefOr(results[j].BurnRate, 0)
	})
	return results, nil
}

// GetTopServicesByVolume ranks services by total request volume.
func (c *Calculator) GetTopServicesByVolume(ctx context.Context, limit int) ([]VolumeRank, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := c.store.Aggregate(ctx, store.AggregateQuery{
		GroupByService: true,
		Aggregates: []store.Aggregate{
			store.Sum("total_requests", "total_count"),
			store.Avg("avg_error_rate", "error_rate"),
			store.Avg("avg_latency", "latency_avg"),
		},
		OrderBy: "total_requests",
		Desc:    true,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}

	results := make([]VolumeRank, 0, len(rows))
	for _, row := range rows {
		results = append(results, VolumeRank{
			ServiceID:     row.Str("service_id"),
			TotalRequests: row.Int("total_requests"),
			AvgErrorRate:  row.Float("avg_error_rate"),
			AvgLatency:    row.Float("avg_latency"),
		})
	}
	return results, nil
}

// GetSlowestServices ranks services by p99 latency, falling back to the
// average when p99 was not ingested.
func (c *Calculator) GetSlowestServices(ctx context.Context, limit int) ([]LatencyRank, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := c.store.Aggregate(ctx, store.AggregateQuery{
		GroupByService: true,
		Aggregates: []store.Aggregate{
			store.Avg("avg_latency", "latency_avg"),
			store.Avg("avg_p50", "latency_p50"),
			store.Avg("avg_p95", "latency_p95"),
			store.Avg("avg_p99", "latency_p99"),
			store.Max("response_target", "latency_slo_target"),
			store.Sum("total_requests", "total_count"),
		},
		OrderBy: "COALESCE(avg_p99, avg_latency)",
		Desc:    true,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}

	results := make([]LatencyRank, 0, len(rows))
	for _, row := range rows {
		lr := LatencyRank{
			ServiceID:     row.Str("service_id"),
			AvgLatency:    row.Float("avg_latency"),
			AvgLatencyP50: row.Float("avg_p50"),
			AvgLatencyP95: row.Float("avg_p95"),
			AvgLatencyP99: row.Float("avg_p99"),
			TotalRequests: row.Int("total_requests"),
			SLOMet:        true,
		}
		check := lr.AvgLatencyP99
		if check == nil {
			check = lr.AvgLatency
		}
		if target := row.Float("response_target"); check != nil && target != nil {
			lr.SLOMet = *check <= *target
		}
		results = append(results, lr)
	}
	return results, nil
}

// GetErrorProneServices ranks services by average error rate, excluding
// services with no measured errors.
func (c *Calculator) GetErrorProneServices(ctx context.Context, limit int) ([]ErrorRank, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := c.store.Aggregate(ctx, store.AggregateQuery{
		GroupByService: true,
		Aggregates: []store.Aggregate{
			store.Avg("avg_error_rate", "error_rate"),
			store.Sum("total_errors", "error_count"),
			store.Sum("total_requests", "total_count"),
			store.Max("standard_target", "standard_slo_target"),
		},
		Having:  "avg_error_rate > 0",
		OrderBy: "avg_error_rate",
		Desc:    true,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}

	results := make([]ErrorRank, 0, len(rows))
	for _, row := range rows {
		er := ErrorRank{
			ServiceID:     row.Str("service_id"),
			AvgErrorRate:  row.Float("avg_error_rate"),
			TotalErrors:   row.Int("total_errors"),
			TotalRequests: row.Int("total_requests"),
			SLOMet:        true,
		}
		if target := row.Float("standard_target"); er.AvgErrorRate != nil && target != nil {
			allowance := 100 - *target
			er.SLOMet = *er.AvgErrorRate <= allowance
		}
		results = append(results, er)
	}
	return results, nil
}

// GetServiceHealthOverview rolls up fleet-wide health counts.
func (c *Calculator) GetServiceHealthOverview(ctx context.Context) (*HealthOverview, error) {
	rows, err := c.store.Aggregate(ctx, store.AggregateQuery{
		GroupByService: true,
		Aggregates: []store.Aggregate{
			store.Avg("avg_error_rate", "error_rate"),
			store.Avg("consumed", "error_budget_consumed_percent"),
			store.Any("eb_health", "eb_health"),
			store.Any("response_health", "response_health"),
			store.Sum("total_requests", "total_count"),
			store.Sum("total_errors", "error_count"),
		},
	})
	if err != nil {
		return nil, err
	}

	overview := &HealthOverview{TotalServices: len(rows)}
	for _, row := range rows {
		overview.TotalRequests += row.Int("total_requests")
		overview.TotalErrors += row.Int("total_errors")

		eb := healthOf(row.Str("eb_health"))
		resp := healthOf(row.Str("response_health"))
		consumed := row.Float("consumed")
		switch {
		case consumed != nil && *consumed >= 100:
			overview.ViolatedServices++
		case eb == Unhealthy || resp == Unhealthy:
			overview.DegradedServices++
		default:
			overview.HealthyServices++
		}
	}

	if overview.TotalRequests > 0 {
		rate := float64(overview.TotalErrors) / float64(overview.TotalRequests) * 100
		overview.OverallErrorRate = &rate
	}
	if overview.TotalServices > 0 {
		pct := float64(overview.HealthyServices) / float64(overview.TotalServices) * 100
		overview.HealthPercentage = &pct
	}
	return overview, nil
}

func derefOr(f *float64, def float64) float64 {
	if f == nil {
		return def
	}
	return *f
}
