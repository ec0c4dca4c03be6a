// Package slo computes service-level indicators, error-budget accounting,
// and burn rates from the shared metrics store. All results are transient:
// computed on demand, returned to the caller, never persisted.
package slo

// Health is the two-value health enum computed upstream per row.
type Health string

const (
	Healthy   Health = "HEALTHY"
	Unhealthy Health = "UNHEALTHY"

	// HealthUnknown marks a service whose health field was absent upstream.
	HealthUnknown Health = "UNKNOWN"
)

// BurnClassification buckets a burn rate by breach risk.
type BurnClassification string

const (
	// BurnHealthy: consuming budget slower than the sustainable pace.
	BurnHealthy BurnClassification = "healthy"

	// BurnWarning: at or slightly above sustainable pace.
	BurnWarning BurnClassification = "warning"

	// BurnHighRisk: budget gone well before the SLO window closes.
	BurnHighRisk BurnClassification = "high_risk"

	// BurnCritical: budget burning five times faster than sustainable.
	BurnCritical BurnClassification = "critical"

	// BurnUndefined: the rate could not be computed (zero allowance or no
	// data), which callers must distinguish from a measured zero.
	BurnUndefined BurnClassification = "undefined"
)

// SLIRecord is the current service-level indicator snapshot for one service.
type SLIRecord struct {
	ServiceID string `json:"service_id"`

	SuccessRate *float64 `json:"success_rate"`
	ErrorRate   *float64 `json:"error_rate"`

	LatencyAvg *float64 `json:"latency_avg"`
	LatencyP50 *float64 `json:"latency_p50"`
	LatencyP95 *float64 `json:"latency_p95"`
	LatencyP99 *float64 `json:"latency_p99"`

	TotalRequests int64 `json:"total_requests"`
	TotalErrors   int64 `json:"total_errors"`

	StandardTarget     *float64 `json:"standard_slo_target"`
	AspirationalTarget *float64 `json:"aspirational_slo_target"`

	EBHealth                   Health `json:"eb_health"`
	ResponseHealth             Health `json:"response_health"`
	AspirationalEBHealth       Health `json:"aspirational_eb_health"`
	AspirationalResponseHealth Health `json:"aspirational_response_health"`
}

// ErrorBudget is the budget accounting for one service over a window.
type ErrorBudget struct {
	ServiceID string `json:"service_id"`

	// NoData marks a service with zero matching rows in the window. This is
	// a normal outcome, not an error.
	NoData bool `json:"no_data,omitempty"`

	AllocatedPercent *float64 `json:"allocated_percent"`
	ConsumedPercent  *float64 `json:"consumed_percent"`
	LeftPercent      *float64 `json:"left_percent"`
	LeftCount        *float64 `json:"left_count"`

	AvgErrorRate  *float64 `json:"avg_error_rate"`
	TotalRequests int64    `json:"total_requests"`

	IsExhausted bool `json:"is_exhausted"`
}

// BurnRate is the budget consumption pace for one service. Rate is nil when
// the SLO allowance is zero or missing; 1.0 means exactly sustainable pace.
type BurnRate struct {
	ServiceID      string             `json:"service_id"`
	Rate           *float64           `json:"burn_rate"`
	Classification BurnClassification `json:"classification"`

	AvgErrorRate    *float64 `json:"avg_error_rate"`
	StandardTarget  *float64 `json:"standard_slo_target"`
	ConsumedPercent *float64 `json:"eb_consumed_percent"`
	LeftPercent     *float64 `json:"eb_left_percent"`
	EBHealth        Health   `json:"eb_health"`
}

// Violation is one service currently breaching its standard SLO.
type Violation struct {
	ServiceID string `json:"service_id"`

	EBViolated       bool `json:"eb_violated"`
	ResponseViolated bool `json:"response_violated"`

	ConsumedPercent  *float64 `json:"eb_consumed_percent"`
	AvgErrorRate     *float64 `json:"avg_error_rate"`
	AvgResponseError *float64 `json:"avg_response_error_rate"`
	StandardTarget   *float64 `json:"standard_slo_target"`
}

// AspirationalGap is a service compliant at the standard tier but failing
// the aspirational tier: one regression away from a standard breach.
type AspirationalGap struct {
	ServiceID string `json:"service_id"`

	EBHealth                   Health `json:"eb_health"`
	AspirationalEBHealth       Health `json:"aspirational_eb_health"`
	ResponseHealth             Health `json:"response_health"`
	AspirationalResponseHealth Health `json:"aspirational_response_health"`

	StandardConsumed     *float64 `json:"std_eb_consumed"`
	AspirationalConsumed *float64 `json:"asp_eb_consumed"`
	BurnRate             *float64 `json:"avg_burn_rate"`
}

// IssueType classifies a service's dominant failure axis.
type IssueType string

const (
	// LatencyIssue: slow but functionally correct.
	LatencyIssue IssueType = "LATENCY_ISSUE"

	// ReliabilityIssue: fast but broken.
	ReliabilityIssue IssueType = "RELIABILITY_ISSUE"

	// Balanced: both axes equally present (or equally absent).
	Balanced IssueType = "BALANCED"
)

// BreachAnalysis compares the latency-breach rate against the true error
// rate for one service.
type BreachAnalysis struct {
	ServiceID string `json:"service_id"`

	AvgBreachRate  *float64 `json:"avg_breach_rate"`
	AvgErrorRate   *float64 `json:"avg_error_rate"`
	AvgBreachCount *float64 `json:"avg_breach_count"`
	AvgErrorCount  *float64 `json:"avg_error_count"`
	AvgLatencyP95  *float64 `json:"avg_latency_p95"`

	IssueType IssueType `json:"issue_type"`
}

// ExhaustedBudget is a service that has fully consumed its error budget.
type ExhaustedBudget struct {
	ServiceID string `json:"service_id"`

	ConsumedPercent             *float64 `json:"eb_consumed_percent"`
	LeftCount                   *float64 `json:"eb_left_count"`
	AspirationalConsumedPercent *float64 `json:"aspirational_eb_consumed_percent"`
	BurnRate                    *float64 `json:"burn_rate"`
	EBHealth                    Health   `json:"eb_health"`
	AvgErrorRate                *float64 `json:"avg_error_rate"`
	TotalRequests               int64    `json:"total_requests"`
}

// VolumeRank is one entry in the top-by-volume ranking.
type VolumeRank struct {
	ServiceID     string   `json:"service_id"`
	TotalRequests int64    `json:"total_requests"`
	AvgErrorRate  *float64 `json:"avg_error_rate"`
	AvgLatency    *float64 `json:"avg_latency"`
}

// LatencyRank is one entry in the slowest-services ranking.
type LatencyRank struct {
	ServiceID     string   `json:"service_id"`
	AvgLatency    *float64 `json:"avg_latency"`
	AvgLatencyP50 *float64 `json:"avg_latency_p50"`
	AvgLatencyP95 *float64 `json:"avg_latency_p95"`
	AvgLatencyP99 *float64 `json:"avg_latency_p99"`
	TotalRequests int64    `json:"total_requests"`
	SLOMet        bool     `json:"slo_met"`
}

// ErrorRank is one entry in the most-error-prone ranking.
type ErrorRank struct {
	ServiceID     string   `json:"service_id"`
	AvgErrorRate  *float64 `json:"avg_error_rate"`
	TotalErrors   int64    `json:"total_errors"`
	TotalRequests int64    `json:"total_requests"`
	SLOMet        bool     `json:"slo_met"`
}

// HealthOverview is the fleet-wide health roll-up.
type HealthOverview struct {
	TotalServices    int `json:"total_services"`
	HealthyServices  int `json:"healthy_services"`
	DegradedServices int `json:"degraded_services"`
	ViolatedServices int `json:"violated_services"`

	TotalRequests    int64    `json:"total_requests"`
	TotalErrors      int64    `json:"total_errors"`
	OverallErrorRate *float64 `json:"overall_error_rate"`
	HealthPercentage *float64 `json:"health_percentage"`
}

// ServiceSummary is a one-call roll-up for a single service.
type ServiceSummary struct {
	ServiceID string       `json:"service_id"`
	NoData    bool         `json:"no_data,omitempty"`
	SLI       *SLIRecord   `json:"sli,omitempty"`
	Budget    *ErrorBudget `json:"error_budget,omitempty"`
	Burn      *BurnRate    `json:"burn_rate,omitempty"`
}

func healthOf(s string) Health {
	switch s {
	case string(Healthy):
		return Healthy
	case string(Unhealthy):
		return Unhealthy
	default:
		return HealthUnknown
	}
}

// Classify buckets a burn rate. A nil rate is undefined, never zero.
func Classify(rate *float64) BurnClassification {
	if rate == nil {
		return BurnUndefined
	}
	switch {
	case *rate < 1.0:
		return BurnHealthy
	case *rate < 2.0:
		return BurnWarning
	case *rate < 5.0:
		return BurnHighRisk
	default:
		return BurnCritical
	}
}
