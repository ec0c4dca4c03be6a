// Package degradation compares adjacent equal-length time windows per
// service and flags significant regressions in error rate and latency.
package degradation

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/sloscope/sloscope/pkg/store"
)

// Severity ranks a detected degradation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityModerate Severity = "moderate"
)

// Config controls the comparison windows and the degradation threshold.
// Behavior is fully determined by this config plus the call parameters;
// there is no ambient state.
type Config struct {
	WindowDays       int
	ThresholdPercent float64
}

// DefaultConfig compares the last 7 days against the 7 before, flagging
// changes above 20%.
func DefaultConfig() Config {
	return Config{WindowDays: 7, ThresholdPercent: 20.0}
}

// Degradation describes one regressing service. Change percentages are nil
// with NewFailure set when the baseline was zero: the regression is real
// but has no finite percentage.
type Degradation struct {
	ServiceID string `json:"service_id"`

	ErrorRateRecent        *float64 `json:"error_rate_recent"`
	ErrorRateBaseline      *float64 `json:"error_rate_baseline"`
	ErrorRateChangePercent *float64 `json:"error_rate_change_percent"`
	ErrorRateNewFailure    bool     `json:"error_rate_new_failure,omitempty"`

	LatencyP95Recent        *float64 `json:"latency_p95_recent"`
	LatencyP95Baseline      *float64 `json:"latency_p95_baseline"`
	LatencyP95ChangePercent *float64 `json:"latency_p95_change_percent"`
	LatencyP95NewFailure    bool     `json:"latency_p95_new_failure,omitempty"`

	LatencyP99Recent        *float64 `json:"latency_p99_recent"`
	LatencyP99Baseline      *float64 `json:"latency_p99_baseline"`
	LatencyP99ChangePercent *float64 `json:"latency_p99_change_percent"`
	LatencyP99NewFailure    bool     `json:"latency_p99_new_failure,omitempty"`

	BurnRateRecent   *float64 `json:"burn_rate_recent"`
	BurnRateBaseline *float64 `json:"burn_rate_baseline"`

	TotalRequestsRecent int64 `json:"total_requests_recent"`
	TotalErrorsRecent   int64 `json:"total_errors_recent"`

	Severity Severity `json:"severity"`
}

// Detector flags services whose recent window regressed against the
// baseline window. Stateless and safe for concurrent use.
type Detector struct {
	store *store.Store
	cfg   Config
}

// NewDetector builds a detector over the given store.
func NewDetector(st *store.Store, cfg Config) *Detector {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = DefaultConfig().WindowDays
	}
	if cfg.ThresholdPercent <= 0 {
		cfg.ThresholdPercent = DefaultConfig().ThresholdPercent
	}
	return &Detector{store: st, cfg: cfg}
}

// DetectDegradingServices compares recent vs baseline per service. Both
// windows anchor at the newest observation in the store, not wall clock, so
// a stale dataset still compares its own last two windows. Services without
// baseline data are excluded: degradation presupposes a prior period to
// degrade from.
func (d *Detector) DetectDegradingServices(ctx context.Context) ([]Degradation, error) {
	_, maxT, ok, err := d.store.TimeRange(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		slog.WarnContext(ctx, "no data available for degradation analysis")
		return []Degradation{}, nil
	}

	window := time.Duration(d.cfg.WindowDays) * 24 * time.Hour
	recentFrom := maxT.Add(-window)
	baselineFrom := maxT.Add(-2 * window)
	// Baseline upper bound is exclusive of the recent window start.
	baselineTo := recentFrom.Add(-time.Nanosecond)

	// The two window queries are independent: fan out, then join before
	// comparing.
	type windowResult struct {
		rows []store.Row
		err  error
	}
	recentCh := make(chan windowResult, 1)
	baselineCh := make(chan windowResult, 1)

	aggregates := []store.Aggregate{
		store.Avg("avg_error_rate", "error_rate"),
		store.Avg("avg_p95", "latency_p95"),
		store.Avg("avg_p99", "latency_p99"),
		store.Sum("total_requests", "total_count"),
		store.Sum("total_errors", "error_count"),
	}
	// burn_rate only exists on newer table generations.
	if d.store.HasBurnRate(ctx) {
		aggregates = append(aggregates, store.Avg("avg_burn_rate", "burn_rate"))
	}

	queryWindow := func(from, to time.Time, out chan<- windowResult) {
		rows, err := d.store.Aggregate(ctx, store.AggregateQuery{
			GroupByService: true,
			From:           from,
			To:             to,
			Aggregates:     aggregates,
		})
		out <- windowResult{rows: rows, err: err}
	}

	go queryWindow(recentFrom, maxT, recentCh)
	go queryWindow(baselineFrom, baselineTo, baselineCh)

	recent := <-recentCh
	baseline := <-baselineCh
	if recent.err != nil {
		return nil, recent.err
	}
	if baseline.err != nil {
		return nil, baseline.err
	}

	baselineByService := make(map[string]store.Row, len(baseline.rows))
	for _, row := range baseline.rows {
		baselineByService[row.Str("service_id")] = row
	}

	var degrading []Degradation
	for _, rec := range recent.rows {
		serviceID := rec.Str("service_id")
		base, hasBaseline := baselineByService[serviceID]
		if !hasBaseline {
			continue
		}

		deg := Degradation{
			ServiceID:           serviceID,
			ErrorRateRecent:     rec.Float("avg_error_rate"),
			ErrorRateBaseline:   base.Float("avg_error_rate"),
			LatencyP95Recent:    rec.Float("avg_p95"),
			LatencyP95Baseline:  base.Float("avg_p95"),
			LatencyP99Recent:    rec.Float("avg_p99"),
			LatencyP99Baseline:  base.Float("avg_p99"),
			BurnRateRecent:      rec.Float("avg_burn_rate"),
			BurnRateBaseline:    base.Float("avg_burn_rate"),
			TotalRequestsRecent: rec.Int("total_requests"),
			TotalErrorsRecent:   rec.Int("total_errors"),
		}
		deg.ErrorRateChangePercent, deg.ErrorRateNewFailure =
			percentChange(deg.ErrorRateBaseline, deg.ErrorRateRecent)
		deg.LatencyP95ChangePercent, deg.LatencyP95NewFailure =
			percentChange(deg.LatencyP95Baseline, deg.LatencyP95Recent)
		deg.LatencyP99ChangePercent, deg.LatencyP99NewFailure =
			percentChange(deg.LatencyP99Baseline, deg.LatencyP99Recent)

		if !d.isDegrading(deg) {
			continue
		}
		deg.Severity = classifySeverity(deg)
		degrading = append(degrading, deg)
	}

	sort.SliceStable(degrading, func(i, j int) bool {
		return sortKey(degrading[i]) > sortKey(degrading[j])
	})

	slog.InfoContext(ctx, "degradation scan complete",
		"degrading", len(degrading), "window_days", d.cfg.WindowDays)
	return degrading, nil
}

// percentChange computes (recent-baseline)/baseline*100. A zero baseline
// with a nonzero recent is a qualitative new failure: no finite percentage
// exists and reporting a large number would be misleading.
func percentChange(baseline, recent *float64) (*float64, bool) {
	if baseline == nil || recent == nil {
		return nil, false
	}
	if *baseline == 0 {
		if *recent > 0 {
			return nil, true
		}
		zero := 0.0
		return &zero, false
	}
	change := (*recent - *baseline) / *baseline * 100
	return &change, false
}

func (d *Detector) isDegrading(deg Degradation) bool {
	if deg.ErrorRateNewFailure || deg.LatencyP95NewFailure || deg.LatencyP99NewFailure {
		return true
	}
	for _, change := range []*float64{
		deg.ErrorRateChangePercent,
		deg.LatencyP95ChangePercent,
		deg.LatencyP99ChangePercent,
	} {
		if change != nil && *change > d.cfg.ThresholdPercent {
			return true
		}
	}
	return false
}

// classifySeverity ranks by the worst change across dimensions. A new
// failure is unbounded and always critical.
func classifySeverity(deg Degradation) Severity {
	if deg.ErrorRateNewFailure || deg.LatencyP95NewFailure || deg.LatencyP99NewFailure {
		return SeverityCritical
	}
	maxChange := maxOf(deg.ErrorRateChangePercent, deg.LatencyP95ChangePercent, deg.LatencyP99ChangePercent)
	switch {
	case maxChange >= 100:
		return SeverityCritical
	case maxChange >= 50:
		return SeverityWarning
	default:
		return SeverityModerate
	}
}

func sortKey(deg Degradation) float64 {
	if deg.ErrorRateNewFailure || deg.LatencyP95NewFailure || deg.LatencyP99NewFailure {
		// New failures sort above any finite change.
		return 1e18
	}
	return maxOf(deg.ErrorRateChangePercent, deg.LatencyP95ChangePercent, deg.LatencyP99ChangePercent)
}

func maxOf(changes ...*float64) float64 {
	max := 0.0
	for _, c := range changes {
		if c != nil && *c > max {
			max = *c
		}
	}
	return max
}
