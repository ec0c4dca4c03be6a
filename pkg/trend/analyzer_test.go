package trend

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/sloscope/sloscope/pkg/store"
)

func newTestAnalyzer(t *testing.T, name string) (*Analyzer, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st, err := store.New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return NewAnalyzer(st, DefaultConfig()), db
}

func seed(t *testing.T, db *sql.DB, cols map[string]any) {
	t.Helper()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	values := make([]any, 0, len(names))
	placeholders := make([]string, 0, len(names))
	for _, name := range names {
		values = append(values, cols[name])
		placeholders = append(placeholders, "?")
	}
	query := fmt.Sprintf("INSERT INTO service_metrics (%s) VALUES (%s)",
		strings.Join(names, ", "), strings.Join(placeholders, ", "))
	if _, err := db.Exec(query, values...); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

var anchor = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

// seedDaily writes one row per day, newest last, with the given error rates.
func seedDaily(t *testing.T, db *sql.DB, svc string, errRates []float64, extra map[string]any) {
	t.Helper()
	for i, rate := range errRates {
		cols := map[string]any{
			"service_id":          svc,
			"observed_at":         anchor.Add(-time.Duration(len(errRates)-1-i) * 24 * time.Hour),
			"error_rate":          rate,
			"standard_slo_target": 98.0,
		}
		for k, v := range extra {
			cols[k] = v
		}
		seed(t, db, cols)
	}
}

func TestPredictIssuesTodayFlagsClimbingErrorRate(t *testing.T) {
	a, db := newTestAnalyzer(t, "trend_predict_test")
	// Rising 0.5/day and already at 1.5 against a 2.0 allowance: the next
	// step lands at 2.0, exactly on the threshold.
	seedDaily(t, db, "climbing", []float64{0.5, 1.0, 1.5}, nil)
	// Flat and comfortable.
	seedDaily(t, db, "steady", []float64{0.2, 0.2, 0.2}, nil)

	predictions, err := a.PredictIssuesToday(context.Background())
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(predictions) != 1 {
		t.Fatalf("expected 1 prediction, got %d", len(predictions))
	}
	p := predictions[0]
	if p.ServiceID != "climbing" || p.Metric != "error_rate" {
		t.Fatalf("unexpected prediction: %+v", p)
	}
	if p.Slope < 0.49 || p.Slope > 0.51 {
		t.Fatalf("expected slope ~0.5, got %v", p.Slope)
	}
	if p.Extrapolated < 1.99 || p.Extrapolated > 2.01 {
		t.Fatalf("expected extrapolation ~2.0, got %v", p.Extrapolated)
	}
	if p.Threshold != 2.0 {
		t.Fatalf("expected threshold 2.0, got %v", p.Threshold)
	}
}

func TestPredictIssuesRequiresMinDataPoints(t *testing.T) {
	a, db := newTestAnalyzer(t, "trend_min_points_test")
	// Two days of steep growth, but below the three-bucket minimum.
	seedDaily(t, db, "sparse", []float64{1.0, 3.0}, nil)

	predictions, err := a.PredictIssuesToday(context.Background())
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(predictions) != 0 {
		t.Fatalf("expected no predictions, got %d", len(predictions))
	}
}

func TestPredictIssuesLatencyTrend(t *testing.T) {
	a, db := newTestAnalyzer(t, "trend_latency_test")
	base := anchor
	// p95 climbing 200ms/day against a 500ms target and a 1.5x multiplier:
	// next step extrapolates to 900, past the 750 threshold.
	for i, p95 := range []float64{300.0, 500.0, 700.0} {
		seed(t, db, map[string]any{
			"service_id":         "slowing",
			"observed_at":        base.Add(-time.Duration(2-i) * 24 * time.Hour),
			"latency_p95":        p95,
			"latency_slo_target": 500.0,
		})
	}

	predictions, err := a.PredictIssuesToday(context.Background())
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(predictions) != 1 {
		t.Fatalf("expected 1 prediction, got %d", len(predictions))
	}
	p := predictions[0]
	if p.Metric != "latency_p95" {
		t.Fatalf("unexpected metric: %s", p.Metric)
	}
	if p.Threshold != 750.0 {
		t.Fatalf("expected threshold 750, got %v", p.Threshold)
	}
}

func TestGetHistoricalPatterns(t *testing.T) {
	a, db := newTestAnalyzer(t, "trend_patterns_test")
	seedDaily(t, db, "checkout", []float64{1.0, 2.0, 3.0}, map[string]any{
		"latency_avg": 100.0,
	})

	pattern, err := a.GetHistoricalPatterns(context.Background(), "checkout", 7)
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	if pattern.NoData {
		t.Fatal("expected data")
	}
	if pattern.ErrorRate.Count != 3 {
		t.Fatalf("expected 3 samples, got %d", pattern.ErrorRate.Count)
	}
	if pattern.ErrorRate.Mean == nil || *pattern.ErrorRate.Mean != 2.0 {
		t.Fatalf("expected mean 2.0, got %v", pattern.ErrorRate.Mean)
	}
	if pattern.Latency.Mean == nil || *pattern.Latency.Mean != 100.0 {
		t.Fatalf("expected latency mean 100, got %v", pattern.Latency.Mean)
	}
	// Daily rows share one hour of day, so no hour grouping applies.
	if pattern.ByHourOfDay != nil {
		t.Fatalf("expected no hour-of-day buckets, got %v", pattern.ByHourOfDay)
	}
	if len(pattern.ByDayOfWeek) != 3 {
		t.Fatalf("expected 3 weekday buckets, got %v", pattern.ByDayOfWeek)
	}
}

func TestGetHistoricalPatternsNoData(t *testing.T) {
	a, db := newTestAnalyzer(t, "trend_patterns_empty_test")
	seedDaily(t, db, "other", []float64{1.0}, nil)

	pattern, err := a.GetHistoricalPatterns(context.Background(), "ghost", 7)
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	if !pattern.NoData {
		t.Fatal("expected NoData")
	}
}

func TestGetAnomalies(t *testing.T) {
	a, db := newTestAnalyzer(t, "trend_anomalies_test")
	rates := []float64{1, 1, 1, 1, 1, 1}
	for i, rate := range rates {
		seed(t, db, map[string]any{
			"service_id":  "checkout",
			"observed_at": anchor.Add(-time.Duration(len(rates)-i) * time.Hour),
			"error_rate":  rate,
		})
	}
	seed(t, db, map[string]any{
		"service_id":  "checkout",
		"observed_at": anchor,
		"error_rate":  10.0,
	})

	anomalies, err := a.GetAnomalies(context.Background(), "checkout", 2.0, "")
	if err != nil {
		t.Fatalf("anomalies: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(anomalies))
	}
	if anomalies[0].Value != 10.0 {
		t.Fatalf("unexpected anomaly value: %v", anomalies[0].Value)
	}
	if anomalies[0].ZScore <= 2.0 {
		t.Fatalf("expected z > 2, got %v", anomalies[0].ZScore)
	}
}

func TestGetAnomaliesConstantSeries(t *testing.T) {
	a, db := newTestAnalyzer(t, "trend_anomalies_flat_test")
	seedDaily(t, db, "checkout", []float64{1.0, 1.0, 1.0, 1.0}, nil)

	anomalies, err := a.GetAnomalies(context.Background(), "checkout", 2.0, "error_rate")
	if err != nil {
		t.Fatalf("anomalies: %v", err)
	}
	if len(anomalies) != 0 {
		t.Fatalf("expected no anomalies for constant series, got %d", len(anomalies))
	}
}

func TestCompareServices(t *testing.T) {
	a, db := newTestAnalyzer(t, "trend_compare_test")
	seedDaily(t, db, "alpha", []float64{1.0, 1.0}, nil)
	seedDaily(t, db, "beta", []float64{5.0, 5.0}, nil)

	patterns, err := a.CompareServices(context.Background(), []string{"alpha", "beta", "ghost"})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if len(patterns) != 3 {
		t.Fatalf("expected 3 patterns, got %d", len(patterns))
	}
	if *patterns[0].ErrorRate.Mean != 1.0 || *patterns[1].ErrorRate.Mean != 5.0 {
		t.Fatalf("unexpected means: %v, %v", patterns[0].ErrorRate.Mean, patterns[1].ErrorRate.Mean)
	}
	if !patterns[2].NoData {
		t.Fatal("expected NoData for unknown service")
	}
}
