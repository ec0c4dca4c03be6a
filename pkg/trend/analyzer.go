package trend

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/sloscope/sloscope/pkg/store"
)

// Config controls trend fitting, prediction thresholds, and anomaly
// detection. Behavior is fully determined by this config plus call
// parameters.
type Config struct {
	// MinDataPoints is the minimum number of daily buckets required before
	// a trend is fitted for a service.
	MinDataPoints int

	// MinSlopeMagnitude filters out flat-but-positive noise slopes.
	MinSlopeMagnitude float64

	// LatencyMultiplier scales the latency SLO target into the prediction
	// threshold for latency trends.
	LatencyMultiplier float64

	// AnomalyThreshold is the default |z| cutoff in standard deviations.
	AnomalyThreshold float64

	// HistoryDays is the trailing window for trend fitting and patterns.
	HistoryDays int
}

// DefaultConfig matches the platform defaults.
func DefaultConfig() Config {
	return Config{
		MinDataPoints:     3,
		MinSlopeMagnitude: 0.01,
		LatencyMultiplier: 1.5,
		AnomalyThreshold:  2.0,
		HistoryDays:       7,
	}
}

// Analyzer fits trends and detects anomalies per service. Stateless and
// safe for concurrent use.
type Analyzer struct {
	store *store.Store
	cfg   Config
}

// NewAnalyzer builds an analyzer over the given store.
func NewAnalyzer(st *store.Store, cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.MinDataPoints <= 0 {
		cfg.MinDataPoints = def.MinDataPoints
	}
	if cfg.MinSlopeMagnitude <= 0 {
		cfg.MinSlopeMagnitude = def.MinSlopeMagnitude
	}
	if cfg.LatencyMultiplier <= 0 {
		cfg.LatencyMultiplier = def.LatencyMultiplier
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = def.AnomalyThreshold
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = def.HistoryDays
	}
	return &Analyzer{store: st, cfg: cfg}
}

// Prediction flags one service metric at risk of crossing its target. The
// slope and extrapolated value are part of the contract so the caller can
// sanity-check the short-horizon linear extrapolation.
type Prediction struct {
	ServiceID    string  `json:"service_id"`
	Metric       string  `json:"metric"`
	Slope        float64 `json:"slope"`
	Current      float64 `json:"current"`
	Extrapolated float64 `json:"extrapolated"`
	Threshold    float64 `json:"threshold"`
	DataPoints   int     `json:"data_points"`
}

// dailySeries is one service's history bucketed by day.
type dailySeries struct {
	errorRate []float64
	p95       []float64

	standardTarget *float64
	latencyTarget  *float64
}

// PredictIssuesToday fits linear trends on error rate and p95 latency per
// service over the trailing history window and flags services whose trend
// would cross their target within one more step.
func (a *Analyzer) PredictIssuesToday(ctx context.Context) ([]Prediction, error) {
	_, maxT, ok, err := a.store.TimeRange(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Prediction{}, nil
	}

	from := maxT.Add(-time.Duration(a.cfg.HistoryDays) * 24 * time.Hour)
	rows, err := a.store.ServiceRecords(ctx, "", from, maxT)
	if err != nil {
		return nil, err
	}

	series := bucketByServiceDay(rows)

	var predictions []Prediction
	for _, serviceID := range sortedKeys(series) {
		svc := series[serviceID]
		if len(svc.errorRate) >= a.cfg.MinDataPoints && svc.standardTarget != nil {
			if allowance := 100 - *svc.standardTarget; allowance > 0 {
				if p := a.predict(serviceID, "error_rate", svc.errorRate, allowance); p != nil {
					predictions = append(predictions, *p)
				}
			}
		}
		if len(svc.p95) >= a.cfg.MinDataPoints && svc.latencyTarget != nil {
			threshold := *svc.latencyTarget * a.cfg.LatencyMultiplier
			if p := a.predict(serviceID, "latency_p95", svc.p95, threshold); p != nil {
				predictions = append(predictions, *p)
			}
		}
	}

	slog.InfoContext(ctx, "trend prediction complete",
		"at_risk", len(predictions), "history_days", a.cfg.HistoryDays)
	return predictions, nil
}

// predict returns a prediction when the fitted slope is positive beyond the
// minimum magnitude and one more step would cross the threshold.
func (a *Analyzer) predict(serviceID, metric string, values []float64, threshold float64) *Prediction {
	slope, intercept := LinearTrend(values)
	if slope == nil || *slope <= a.cfg.MinSlopeMagnitude {
		return nil
	}
	extrapolated := *intercept + *slope*float64(len(values))
	if extrapolated < threshold {
		return nil
	}
	return &Prediction{
		ServiceID:    serviceID,
		Metric:       metric,
		Slope:        *slope,
		Current:      values[len(values)-1],
		Extrapolated: extrapolated,
		Threshold:    threshold,
		DataPoints:   len(values),
	}
}

// Pattern is the descriptive-statistics view of one service's history.
type Pattern struct {
	ServiceID  string `json:"service_id"`
	WindowDays int    `json:"window_days"`
	NoData     bool   `json:"no_data,omitempty"`

	ErrorRate SeriesStats `json:"error_rate"`
	Latency   SeriesStats `json:"latency"`

	// ByDayOfWeek and ByHourOfDay hold average error rates keyed by
	// weekday name and zero-padded hour. Hour buckets are present only when
	// the data is hourly.
	ByDayOfWeek map[string]float64 `json:"by_day_of_week,omitempty"`
	ByHourOfDay map[string]float64 `json:"by_hour_of_day,omitempty"`
}

// GetHistoricalPatterns returns descriptive statistics of error rate and
// latency over the window, with day-of-week and hour-of-day groupings when
// granularity permits. Pure aggregation, no inference.
func (a *Analyzer) GetHistoricalPatterns(ctx context.Context, serviceID string, days int) (*Pattern, error) {
	if days <= 0 {
		days = a.cfg.HistoryDays
	}
	pattern := &Pattern{ServiceID: serviceID, WindowDays: days}

	_, maxT, ok, err := a.store.TimeRange(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		pattern.NoData = true
		return pattern, nil
	}

	from := maxT.Add(-time.Duration(days) * 24 * time.Hour)
	rows, err := a.store.ServiceRecords(ctx, serviceID, from, maxT)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		pattern.NoData = true
		return pattern, nil
	}

	var errorRates, latencies []float64
	daySum := map[string]float64{}
	dayN := map[string]int{}
	hourSum := map[string]float64{}
	hourN := map[string]int{}
	hoursSeen := map[int]bool{}

	for _, row := range rows {
		rate := row.Float("error_rate")
		if rate != nil {
			errorRates = append(errorRates, *rate)
		}
		if lat := row.Float("latency_avg"); lat != nil {
			latencies = append(latencies, *lat)
		}
		ts, ok := row.Time("observed_at")
		if !ok || rate == nil {
			continue
		}
		day := ts.Weekday().String()
		daySum[day] += *rate
		dayN[day]++
		hour := ts.Format("15")
		hourSum[hour] += *rate
		hourN[hour]++
		hoursSeen[ts.Hour()] = true
	}

	pattern.ErrorRate = Stats(errorRates)
	pattern.Latency = Stats(latencies)

	if len(dayN) > 1 {
		pattern.ByDayOfWeek = make(map[string]float64, len(dayN))
		for day, sum := range daySum {
			pattern.ByDayOfWeek[day] = sum / float64(dayN[day])
		}
	}
	// Hour-of-day only means something for hourly granularity; daily rows
	// all land on the same hour.
	if len(hoursSeen) > 1 {
		pattern.ByHourOfDay = make(map[string]float64, len(hourN))
		for hour, sum := range hourSum {
			pattern.ByHourOfDay[hour] = sum / float64(hourN[hour])
		}
	}
	return pattern, nil
}

// Anomaly is one observation whose z-score exceeds the threshold.
type Anomaly struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	ZScore    float64   `json:"z_score"`
}

// GetAnomalies returns observations in the window whose |z| exceeds
// thresholdStd for the chosen metric (default error_rate). A constant
// series yields an empty list for any threshold.
func (a *Analyzer) GetAnomalies(ctx context.Context, serviceID string, thresholdStd float64, metric string) ([]Anomaly, error) {
	if thresholdStd <= 0 {
		thresholdStd = a.cfg.AnomalyThreshold
	}
	if metric == "" {
		metric = "error_rate"
	}

	_, maxT, ok, err := a.store.TimeRange(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Anomaly{}, nil
	}

	from := maxT.Add(-time.Duration(a.cfg.HistoryDays) * 24 * time.Hour)
	rows, err := a.store.ServiceRecords(ctx, serviceID, from, maxT)
	if err != nil {
		return nil, err
	}

	var values []float64
	var stamps []time.Time
	for _, row := range rows {
		v := row.Float(metric)
		if v == nil {
			continue
		}
		ts, _ := row.Time("observed_at")
		values = append(values, *v)
		stamps = append(stamps, ts)
	}

	scores := zScores(values)
	if scores == nil {
		return []Anomaly{}, nil
	}

	anomalies := []Anomaly{}
	for i, z := range scores {
		if z > thresholdStd || z < -thresholdStd {
			anomalies = append(anomalies, Anomaly{
				Timestamp: stamps[i],
				Value:     values[i],
				ZScore:    z,
			})
		}
	}
	return anomalies, nil
}

// CompareServices returns the same summary statistics side by side for a
// caller-supplied list of services. A convenience fan-out, no cross-service
// algorithm beyond co-presentation.
func (a *Analyzer) CompareServices(ctx context.Context, serviceIDs []string) ([]Pattern, error) {
	patterns := make([]Pattern, 0, len(serviceIDs))
	for _, id := range serviceIDs {
		p, err := a.GetHistoricalPatterns(ctx, id, a.cfg.HistoryDays)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, *p)
	}
	return patterns, nil
}

// bucketByServiceDay folds raw rows into per-service daily averages,
// tolerating both hourly and daily source granularity.
func bucketByServiceDay(rows []store.Row) map[string]*dailySeries {
	type bucket struct {
		rateSum, p95Sum float64
		rateN, p95N     int
	}
	perDay := map[string]map[string]*bucket{}
	targets := map[string]*dailySeries{}
	dayOrder := map[string][]string{}

	for _, row := range rows {
		serviceID := row.Str("service_id")
		ts, ok := row.Time("observed_at")
		if !ok {
			continue
		}
		day := ts.UTC().Format("2006-01-02")

		if perDay[serviceID] == nil {
			perDay[serviceID] = map[string]*bucket{}
			targets[serviceID] = &dailySeries{}
		}
		b := perDay[serviceID][day]
		if b == nil {
			b = &bucket{}
			perDay[serviceID][day] = b
			dayOrder[serviceID] = append(dayOrder[serviceID], day)
		}
		if rate := row.Float("error_rate"); rate != nil {
			b.rateSum += *rate
			b.rateN++
		}
		if p95 := row.Float("latency_p95"); p95 != nil {
			b.p95Sum += *p95
			b.p95N++
		}
		if t := row.Float("standard_slo_target"); t != nil {
			targets[serviceID].standardTarget = t
		}
		if t := row.Float("latency_slo_target"); t != nil {
			targets[serviceID].latencyTarget = t
		}
	}

	series := make(map[string]*dailySeries, len(perDay))
	for serviceID, days := range perDay {
		svc := targets[serviceID]
		order := dayOrder[serviceID]
		sort.Strings(order)
		for _, day := range order {
			b := days[day]
			if b.rateN > 0 {
				svc.errorRate = append(svc.errorRate, b.rateSum/float64(b.rateN))
			}
			if b.p95N > 0 {
				svc.p95 = append(svc.p95, b.p95Sum/float64(b.p95N))
			}
		}
		series[serviceID] = svc
	}
	return series
}

func sortedKeys(m map[string]*dailySeries) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
