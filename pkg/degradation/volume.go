package degradation

import (
	"context"
	"time"
)

// VolumePoint is one bucket of the volume time series.
type VolumePoint struct {
	Timestamp     time.Time `json:"timestamp"`
	TotalRequests int64     `json:"total_requests"`
	Errors        int64     `json:"errors"`
	ErrorRate     *float64  `json:"error_rate"`
	Latency       *float64  `json:"latency"`
}

// VolumeTrend is the request-volume series for one service over a window,
// for caller-side charting. Pure pass-through aggregation, no thresholds.
type VolumeTrend struct {
	ServiceID  string `json:"service_id"`
	WindowDays int    `json:"window_days"`
	NoData     bool   `json:"no_data,omitempty"`

	TotalVolume    int64    `json:"total_volume"`
	TotalErrors    int64    `json:"total_errors"`
	AvgErrorRate   *float64 `json:"avg_error_rate"`
	AvgLatency     *float64 `json:"avg_latency"`

	TimeSeries []VolumePoint `json:"time_series"`
}

// GetVolumeTrends returns the per-bucket volume series for one service over
// the trailing window, anchored at the newest observation.
func (d *Detector) GetVolumeTrends(ctx context.Context, serviceID string, windowDays int) (*VolumeTrend, error) {
	if windowDays <= 0 {
		windowDays = d.cfg.WindowDays
	}
	trend := &VolumeTrend{ServiceID: serviceID, WindowDays: windowDays}

	_, maxT, ok, err := d.store.TimeRange(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		trend.NoData = true
		return trend, nil
	}

	from := maxT.Add(-time.Duration(windowDays) * 24 * time.Hour)
	rows, err := d.store.ServiceRecords(ctx, serviceID, from, maxT)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		trend.NoData = true
		return trend, nil
	}

	var rateSum, latencySum float64
	var rateN, latencyN int
	for _, row := range rows {
		point := VolumePoint{
			TotalRequests: row.Int("total_count"),
			Errors:        row.Int("error_count"),
			ErrorRate:     row.Float("error_rate"),
			Latency:       row.Float("latency_avg"),
		}
		if ts, ok := row.Time("observed_at"); ok {
			point.Timestamp = ts
		}
		if point.ErrorRate != nil {
			rateSum += *point.ErrorRate
			rateN++
		}
		if point.Latency != nil {
			latencySum += *point.Latency
			latencyN++
		}
		trend.TotalVolume += point.TotalRequests
		trend.TotalErrors += point.Errors
		trend.TimeSeries = append(trend.TimeSeries, point)
	}
	if rateN > 0 {
		avg := rateSum / float64(rateN)
		trend.AvgErrorRate = &avg
	}
	if latencyN > 0 {
		avg := latencySum / float64(latencyN)
		trend.AvgLatency = &avg
	}
	return trend, nil
}
