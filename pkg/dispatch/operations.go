package dispatch

import (
	"context"
	"time"

	"github.com/sloscope/sloscope/pkg/degradation"
	"github.com/sloscope/sloscope/pkg/health"
	"github.com/sloscope/sloscope/pkg/slo"
	"github.com/sloscope/sloscope/pkg/store"
	"github.com/sloscope/sloscope/pkg/trend"
)

// Components are the analytics engines the registry routes to.
type Components struct {
	Store      *store.Store
	Calculator *slo.Calculator
	Detector   *degradation.Detector
	Analyzer   *trend.Analyzer
	Health     *health.Aggregator
}

// ServiceReport is the one-call digest for a single service: the
// calculator's summary plus whether the degradation scan currently flags it.
type ServiceReport struct {
	*slo.ServiceSummary
	Degrading           bool                 `json:"degrading"`
	DegradationSeverity degradation.Severity `json:"degradation_severity,omitempty"`
}

// DataOverview summarizes the store itself rather than any one service.
type DataOverview struct {
	Services     []string   `json:"services"`
	ServiceCount int        `json:"service_count"`
	TotalRecords int        `json:"total_records"`
	From         *time.Time `json:"from"`
	To           *time.Time `json:"to"`
}

func serviceIDParam(required bool) Param {
	return Param{
		Name:        "service_id",
		Type:        TypeString,
		Description: "Service identifier. Empty means all services.",
		Required:    required,
	}
}

func limitParam(def int) Param {
	return Param{
		Name:        "limit",
		Type:        TypeInt,
		Description: "Maximum number of results.",
		Default:     def,
	}
}

// RegisterOperations wires every analytics operation into the dispatcher.
func RegisterOperations(d *Dispatcher, c Components) {
	// SLI / error budget / burn rate.
	d.Register(Operation{
		Name:        "get_current_sli",
		Description: "Current service level indicators per service: error rate, latency, volume, targets and health.",
		Params:      []Param{serviceIDParam(false)},
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Calculator.GetCurrentSLI(ctx, args.Str("service_id"))
		},
	})

	d.Register(Operation{
		Name:        "calculate_error_budget",
		Description: "Error budget consumption for one service over a trailing window of hours.",
		Params: []Param{
			serviceIDParam(true),
			{Name: "window_hours", Type: TypeInt, Description: "Trailing window in hours. 0 means the full history.", Default: 0},
		},
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Calculator.CalculateErrorBudget(ctx, args.Str("service_id"), args.Int("window_hours", 0))
		},
	})

	d.Register(Operation{
		Name:        "calculate_burn_rate",
		Description: "Error budget burn rate per service with classification bands.",
		Params:      []Param{serviceIDParam(false)},
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Calculator.CalculateBurnRate(ctx, args.Str("service_id"))
		},
	})

	d.Register(Operation{
		Name:        "get_services_by_burn_rate",
		Description: "Services ranked by burn rate, fastest burners first.",
		Params:      []Param{limitParam(10)},
		Handler: func(ctx context.Context, args Args) (any, error) {
			limit := args.Int("limit", 10)
			if err := requirePositive("limit", limit); err != nil {
				return nil, err
			}
			return c.Calculator.GetServicesByBurnRate(ctx, limit)
		},
	})

	d.Register(Operation{
		Name:        "get_slo_violations",
		Description: "Services currently violating their standard SLO targets.",
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Calculator.GetSLOViolations(ctx)
		},
	})

	d.Register(Operation{
		Name:        "get_aspirational_slo_gap",
		Description: "Services meeting their standard target but missing the aspirational one.",
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Calculator.GetAspirationalSLOGap(ctx)
		},
	})

	d.Register(Operation{
		Name:        "get_breach_vs_error_analysis",
		Description: "Per service, whether latency breaches or request errors dominate budget loss.",
		Params:      []Param{serviceIDParam(false)},
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Calculator.GetBreachVsErrorAnalysis(ctx, args.Str("service_id"))
		},
	})

	d.Register(Operation{
		Name:        "get_budget_exhausted_services",
		Description: "Services that have fully exhausted their error budget.",
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Calculator.GetBudgetExhaustedServices(ctx)
		},
	})

	d.Register(Operation{
		Name:        "get_service_summary",
		Description: "One-service digest: SLI, budget, burn rate and health in a single call.",
		Params:      []Param{serviceIDParam(true)},
		Handler: func(ctx context.Context, args Args) (any, error) {
			serviceID := args.Str("service_id")
			summary, err := c.Calculator.GetServiceSummary(ctx, serviceID)
			if err != nil {
				return nil, err
			}
			report := &ServiceReport{ServiceSummary: summary}
			if !summary.NoData {
				degrading, err := c.Detector.DetectDegradingServices(ctx)
				if err != nil {
					return nil, err
				}
				for _, deg := range degrading {
					if deg.ServiceID == serviceID {
						report.Degrading = true
						report.DegradationSeverity = deg.Severity
						break
					}
				}
			}
			return report, nil
		},
	})

	// Rankings.
	d.Register(Operation{
		Name:        "get_top_services_by_volume",
		Description: "Services ranked by total request volume.",
		Params:      []Param{limitParam(10)},
		Handler: func(ctx context.Context, args Args) (any, error) {
			limit := args.Int("limit", 10)
			if err := requirePositive("limit", limit); err != nil {
				return nil, err
			}
			return c.Calculator.GetTopServicesByVolume(ctx, limit)
		},
	})

	d.Register(Operation{
		Name:        "get_slowest_services",
		Description: "Services ranked by p99 latency, slowest first.",
		Params:      []Param{limitParam(10)},
		Handler: func(ctx context.Context, args Args) (any, error) {
			limit := args.Int("limit", 10)
			if err := requirePositive("limit", limit); err != nil {
				return nil, err
			}
			return c.Calculator.GetSlowestServices(ctx, limit)
		},
	})

	d.Register(Operation{
		Name:        "get_error_prone_services",
		Description: "Services ranked by average error rate, error-free services excluded.",
		Params:      []Param{limitParam(10)},
		Handler: func(ctx context.Context, args Args) (any, error) {
			limit := args.Int("limit", 10)
			if err := requirePositive("limit", limit); err != nil {
				return nil, err
			}
			return c.Calculator.GetErrorProneServices(ctx, limit)
		},
	})

	d.Register(Operation{
		Name:        "get_service_health_overview",
		Description: "Fleet-wide counts of healthy, degraded and violating services.",
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Calculator.GetServiceHealthOverview(ctx)
		},
	})

	// Degradation.
	d.Register(Operation{
		Name:        "detect_degrading_services",
		Description: "Services whose recent window is materially worse than the preceding baseline window.",
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Detector.DetectDegradingServices(ctx)
		},
	})

	d.Register(Operation{
		Name:        "get_volume_trends",
		Description: "Request volume time series and summary for a service or the whole fleet.",
		Params: []Param{
			serviceIDParam(false),
			{Name: "days", Type: TypeInt, Description: "Trailing window in days.", Default: 0},
		},
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Detector.GetVolumeTrends(ctx, args.Str("service_id"), args.Int("days", 0))
		},
	})

	// Trend analysis.
	d.Register(Operation{
		Name:        "predict_issues_today",
		Description: "Services whose fitted error-rate or latency trend would cross its target within one more step.",
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Analyzer.PredictIssuesToday(ctx)
		},
	})

	d.Register(Operation{
		Name:        "get_historical_patterns",
		Description: "Descriptive statistics of a service's history with day-of-week and hour-of-day groupings.",
		Params: []Param{
			serviceIDParam(true),
			{Name: "days", Type: TypeInt, Description: "Trailing window in days.", Default: 0},
		},
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Analyzer.GetHistoricalPatterns(ctx, args.Str("service_id"), args.Int("days", 0))
		},
	})

	d.Register(Operation{
		Name:        "get_anomalies",
		Description: "Observations whose z-score exceeds the threshold for the chosen metric.",
		Params: []Param{
			serviceIDParam(true),
			{Name: "threshold_std", Type: TypeFloat, Description: "Anomaly threshold in standard deviations.", Default: 0.0},
			{Name: "metric", Type: TypeString, Description: "Metric column to scan. Defaults to error_rate."},
		},
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Analyzer.GetAnomalies(ctx, args.Str("service_id"),
				args.Float("threshold_std", 0), args.Str("metric"))
		},
	})

	d.Register(Operation{
		Name:        "compare_services",
		Description: "Side-by-side summary statistics for a list of services.",
		Params: []Param{
			{Name: "service_ids", Type: TypeStringList, Description: "Services to compare.", Required: true},
		},
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Analyzer.CompareServices(ctx, args.StrList("service_ids"))
		},
	})

	// Composite health.
	d.Register(Operation{
		Name:        "get_composite_health_score",
		Description: "Composite health score per service across the five health dimensions, worst first.",
		Params:      []Param{limitParam(0)},
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Health.GetCompositeHealthScore(ctx, args.Int("limit", 0))
		},
	})

	d.Register(Operation{
		Name:        "get_severity_heatmap",
		Description: "Red and green severity marker counts per service, reddest first.",
		Params:      []Param{limitParam(0)},
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Health.GetSeverityHeatmap(ctx, args.Int("limit", 0))
		},
	})

	d.Register(Operation{
		Name:        "get_timeliness_issues",
		Description: "Services breaching their timeliness dimension, shown next to the response dimension.",
		Params:      []Param{limitParam(0)},
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Health.GetTimelinessIssues(ctx, args.Int("limit", 0))
		},
	})

	d.Register(Operation{
		Name:        "get_slo_governance_status",
		Description: "Services flagged for governance review, highest burn first.",
		Params:      []Param{limitParam(0)},
		Handler: func(ctx context.Context, args Args) (any, error) {
			return c.Health.GetSLOGovernanceStatus(ctx, args.Int("limit", 0))
		},
	})

	// Store introspection.
	d.Register(Operation{
		Name:        "get_data_overview",
		Description: "Store-level overview: known services, record count and covered time range.",
		Handler: func(ctx context.Context, args Args) (any, error) {
			services, err := c.Store.Services(ctx)
			if err != nil {
				return nil, err
			}
			total, err := c.Store.TotalRecords(ctx)
			if err != nil {
				return nil, err
			}
			overview := &DataOverview{
				Services:     services,
				ServiceCount: len(services),
				TotalRecords: total,
			}
			if minT, maxT, ok, err := c.Store.TimeRange(ctx); err != nil {
				return nil, err
			} else if ok {
				overview.From = &minT
				overview.To = &maxT
			}
			return overview, nil
		},
	})
}
