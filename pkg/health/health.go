// Package health folds the five per-dimension health verdicts into a
// single service-level score and exposes the severity and governance
// rollups built on the same columns.
package health

import (
	"context"
	"fmt"
	"sort"

	"github.com/sloscope/sloscope/pkg/slo"
	"github.com/sloscope/sloscope/pkg/store"
)

// dimensions are the five health verdict columns that feed the composite
// score. Each dimension has a paired *_severity column.
var dimensions = [5]string{
	"eb_health",
	"response_health",
	"timeliness_health",
	"aspirational_eb_health",
	"aspirational_response_health",
}

// Config carries the sentinel values the upstream pipeline writes into the
// severity and governance columns.
type Config struct {
	// RedSentinel marks a breached severity dimension.
	RedSentinel string

	// GreenSentinel marks a clean severity dimension.
	GreenSentinel string

	// AttentionSentinel marks a service under governance review.
	AttentionSentinel string
}

// DefaultConfig matches the upstream pipeline's color-code convention.
func DefaultConfig() Config {
	return Config{
		RedSentinel:       "#FD346E",
		GreenSentinel:     "#07AE86",
		AttentionSentinel: "UNDER_REVIEW",
	}
}

// Aggregator computes composite health views. Stateless and safe for
// concurrent use.
type Aggregator struct {
	store *store.Store
	cfg   Config
}

// NewAggregator builds an aggregator over the given store.
func NewAggregator(st *store.Store, cfg Config) *Aggregator {
	def := DefaultConfig()
	if cfg.RedSentinel == "" {
		cfg.RedSentinel = def.RedSentinel
	}
	if cfg.GreenSentinel == "" {
		cfg.GreenSentinel = def.GreenSentinel
	}
	if cfg.AttentionSentinel == "" {
		cfg.AttentionSentinel = def.AttentionSentinel
	}
	return &Aggregator{store: st, cfg: cfg}
}

// Score is one service's composite health. A dimension counts as healthy
// when at least one row in the window marks it HEALTHY: the score reflects
// whether the dimension was ever achievable, not whether it held throughout.
type Score struct {
	ServiceID         string                 `json:"service_id"`
	HealthyDimensions int                    `json:"healthy_dimensions"`
	TotalDimensions   int                    `json:"total_dimensions"`
	Score             float64                `json:"health_score"`
	AvgBurnRate       *float64               `json:"avg_burn_rate"`
	Classification    slo.BurnClassification `json:"burn_classification"`
	Dimensions        map[string]bool        `json:"dimensions"`
}

// GetCompositeHealthScore scores every service as the fraction of its five
// health dimensions that are clean, worst services first.
func (a *Aggregator) GetCompositeHealthScore(ctx context.Context, limit int) ([]Score, error) {
	aggs := make([]store.Aggregate, 0, len(dimensions)+2)
	for _, dim := range dimensions {
		aggs = append(aggs, store.CountIf(dim+"_ok", fmt.Sprintf("%s = 'HEALTHY'", dim)))
	}
	aggs = append(aggs, a.burnAggregates(ctx)...)

	rows, err := a.store.Aggregate(ctx, store.AggregateQuery{
		Aggregates:     aggs,
		GroupByService: true,
	})
	if err != nil {
		return nil, err
	}

	scores := make([]Score, 0, len(rows))
	for _, row := range rows {
		s := Score{
			ServiceID:       row.Str("service_id"),
			TotalDimensions: len(dimensions),
			AvgBurnRate:     a.burnRate(row),
			Dimensions:      make(map[string]bool, len(dimensions)),
		}
		for _, dim := range dimensions {
			healthy := row.Int(dim+"_ok") > 0
			s.Dimensions[dim] = healthy
			if healthy {
				s.HealthyDimensions++
			}
		}
		s.Score = float64(s.HealthyDimensions) / float64(len(dimensions)) * 100
		s.Classification = slo.Classify(s.AvgBurnRate)
		scores = append(scores, s)
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].HealthyDimensions != scores[j].HealthyDimensions {
			return scores[i].HealthyDimensions < scores[j].HealthyDimensions
		}
		return derefOr(scores[i].AvgBurnRate, 0) > derefOr(scores[j].AvgBurnRate, 0)
	})
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}
	return scores, nil
}

// HeatmapEntry is one service's red/green severity rollup across the five
// severity columns. Counts are dimension-level (0 to 5): a dimension is red
// when any row in the window marks it red, regardless of how many do.
type HeatmapEntry struct {
	ServiceID   string   `json:"service_id"`
	RedCount    int64    `json:"red_count"`
	GreenCount  int64    `json:"green_count"`
	AvgBurnRate *float64 `json:"avg_burn_rate"`
}

// GetSeverityHeatmap counts red and green dimensions per service, reddest
// first. Severity columns carry color sentinels, not enum names.
func (a *Aggregator) GetSeverityHeatmap(ctx context.Context, limit int) ([]HeatmapEntry, error) {
	sevCols := make([]string, len(dimensions))
	for i, dim := range dimensions {
		sevCols[i] = dim[:len(dim)-len("_health")] + "_severity"
	}

	// One counter per severity column; the per-column counts collapse to a
	// dimension-level verdict below so the result does not scale with the
	// number of rows in the window.
	aggs := make([]store.Aggregate, 0, 2*len(sevCols)+2)
	for _, col := range sevCols {
		aggs = append(aggs,
			store.CountIf(col+"_red", fmt.Sprintf("%s = '%s'", col, a.cfg.RedSentinel)),
			store.CountIf(col+"_green", fmt.Sprintf("%s = '%s'", col, a.cfg.GreenSentinel)),
		)
	}
	aggs = append(aggs, a.burnAggregates(ctx)...)

	rows, err := a.store.Aggregate(ctx, store.AggregateQuery{
		Aggregates:     aggs,
		GroupByService: true,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]HeatmapEntry, 0, len(rows))
	for _, row := range rows {
		e := HeatmapEntry{
			ServiceID:   row.Str("service_id"),
			AvgBurnRate: a.burnRate(row),
		}
		for _, col := range sevCols {
			if row.Int(col+"_red") > 0 {
				e.RedCount++
			}
			if row.Int(col+"_green") > 0 {
				e.GreenCount++
			}
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].RedCount != entries[j].RedCount {
			return entries[i].RedCount > entries[j].RedCount
		}
		return derefOr(entries[i].AvgBurnRate, 0) > derefOr(entries[j].AvgBurnRate, 0)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// TimelinessIssue is one service whose timeliness dimension breached,
// shown next to its response dimension to separate "late" from "late and
// slow".
type TimelinessIssue struct {
	ServiceID               string   `json:"service_id"`
	TimelinessBreaches      int64    `json:"timeliness_breaches"`
	ResponseBreaches        int64    `json:"response_breaches"`
	AvgTimelinessConsumedPct *float64 `json:"avg_timeliness_consumed_percent"`
}

// GetTimelinessIssues lists services with at least one timeliness breach in
// the window, most breaches first.
func (a *Aggregator) GetTimelinessIssues(ctx context.Context, limit int) ([]TimelinessIssue, error) {
	rows, err := a.store.Aggregate(ctx, store.AggregateQuery{
		Aggregates: []store.Aggregate{
			store.CountIf("timeliness_breaches", "timeliness_health = 'UNHEALTHY'"),
			store.CountIf("response_breaches", "response_health = 'UNHEALTHY'"),
			store.Avg("avg_timeliness_consumed", "timeliness_consumed_percent"),
		},
		GroupByService: true,
		Having:         "timeliness_breaches > 0",
		OrderBy:        "timeliness_breaches",
		Desc:           true,
		Limit:          limit,
	})
	if err != nil {
		return nil, err
	}

	issues := make([]TimelinessIssue, 0, len(rows))
	for _, row := range rows {
		issues = append(issues, TimelinessIssue{
			ServiceID:                row.Str("service_id"),
			TimelinessBreaches:       row.Int("timeliness_breaches"),
			ResponseBreaches:         row.Int("response_breaches"),
			AvgTimelinessConsumedPct: row.Float("avg_timeliness_consumed"),
		})
	}
	return issues, nil
}

// GovernanceEntry is one service flagged for governance review.
type GovernanceEntry struct {
	ServiceID      string                 `json:"service_id"`
	Status         string                 `json:"governance_status"`
	AvgBurnRate    *float64               `json:"avg_burn_rate"`
	Classification slo.BurnClassification `json:"burn_classification"`
}

// GetSLOGovernanceStatus lists services currently under governance review,
// highest burn first.
func (a *Aggregator) GetSLOGovernanceStatus(ctx context.Context, limit int) ([]GovernanceEntry, error) {
	aggs := append([]store.Aggregate{
		store.Any("governance_status", "governance_status"),
	}, a.burnAggregates(ctx)...)

	rows, err := a.store.Aggregate(ctx, store.AggregateQuery{
		Aggregates:     aggs,
		Where:          fmt.Sprintf("governance_status = '%s'", a.cfg.AttentionSentinel),
		GroupByService: true,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]GovernanceEntry, 0, len(rows))
	for _, row := range rows {
		rate := a.burnRate(row)
		entries = append(entries, GovernanceEntry{
			ServiceID:      row.Str("service_id"),
			Status:         row.Str("governance_status"),
			AvgBurnRate:    rate,
			Classification: slo.Classify(rate),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return derefOr(entries[i].AvgBurnRate, 0) > derefOr(entries[j].AvgBurnRate, 0)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// burnAggregates selects the average burn rate when the column exists and
// its raw ingredients otherwise. burnRate resolves the row either way.
func (a *Aggregator) burnAggregates(ctx context.Context) []store.Aggregate {
	if a.store.HasBurnRate(ctx) {
		return []store.Aggregate{store.Avg("avg_burn_rate", "burn_rate")}
	}
	return []store.Aggregate{
		store.Avg("avg_error_rate", "error_rate"),
		store.Max("standard_target", "standard_slo_target"),
	}
}

func (a *Aggregator) burnRate(row store.Row) *float64 {
	if rate := row.Float("avg_burn_rate"); rate != nil {
		return rate
	}
	return slo.DeriveBurnRate(row.Float("avg_error_rate"), row.Float("standard_target"))
}

func derefOr(f *float64, def float64) float64 {
	if f != nil {
		return *f
	}
	return def
}
