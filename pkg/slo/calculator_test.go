package slo

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

func newTestCalculator(t *testing.T, name string) (*Calculator, *sql.DB) {
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
	return NewCalculator(st, DefaultConfig()), db
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

var seedBase = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func TestDeriveBurnRate(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name      string
		errorRate *float64
		target    *float64
		want      *float64
	}{
		{"half percent against 98 target", f(0.5), f(98), f(25.0)},
		{"exactly at allowance", f(2.0), f(98), f(100.0)},
		{"target of 100 leaves no allowance", f(0.5), f(100), nil},
		{"target above 100", f(0.5), f(101), nil},
		{"missing error rate", nil, f(98), nil},
		{"missing target", f(0.5), nil, nil},
		{"zero errors", f(0), f(98), f(0)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveBurnRate(tc.errorRate, tc.target)
			if (got == nil) != (tc.want == nil) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			if got != nil && *got != *tc.want {
				t.Fatalf("got %v, want %v", *got, *tc.want)
			}
		})
	}
}

func TestDeriveBurnRateMonotonic(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	target := f(98.0)

	prev := -1.0
	for _, errRate := range []float64{0, 0.1, 0.5, 1.0, 2.0, 10.0} {
		rate := DeriveBurnRate(f(errRate), target)
		if rate == nil {
			t.Fatalf("error rate %v: expected a rate", errRate)
		}
		if *rate <= prev && errRate != 0 {
			t.Fatalf("burn rate not increasing: %v at error rate %v after %v", *rate, errRate, prev)
		}
		prev = *rate
	}
}

func TestClassifyBands(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		rate *float64
		want BurnClassification
	}{
		{nil, BurnUndefined},
		{f(0), BurnHealthy},
		{f(0.99), BurnHealthy},
		{f(1.0), BurnWarning},
		{f(1.99), BurnWarning},
		{f(2.0), BurnHighRisk},
		{f(4.99), BurnHighRisk},
		{f(5.0), BurnCritical},
		{f(25.0), BurnCritical},
	}
	for _, tc := range tests {
		if got := Classify(tc.rate); got != tc.want {
			t.Fatalf("Classify(%v) = %s, want %s", tc.rate, got, tc.want)
		}
	}
}

func TestCalculateBurnRateDerivedFromErrorRate(t *testing.T) {
	calc, db := newTestCalculator(t, "slo_burn_derived_test")
	// burn_rate column stays NULL so the rate must derive from error_rate
	// and the standard allowance.
	seed(t, db, map[string]any{
		"service_id":          "checkout",
		"observed_at":         seedBase,
		"error_rate":          0.5,
		"standard_slo_target": 98.0,
	})

	rates, err := calc.CalculateBurnRate(context.Background(), "checkout")
	if err != nil {
		t.Fatalf("calculate burn rate: %v", err)
	}
	if len(rates) != 1 {
		t.Fatalf("expected 1 result, got %d", len(rates))
	}
	br := rates[0]
	if br.Rate == nil || *br.Rate != 25.0 {
		t.Fatalf("expected rate 25.0, got %v", br.Rate)
	}
	if br.Classification != BurnCritical {
		t.Fatalf("expected critical, got %s", br.Classification)
	}
}

func TestCalculateBurnRatePrefersStoredColumn(t *testing.T) {
	calc, db := newTestCalculator(t, "slo_burn_stored_test")
	seed(t, db, map[string]any{
		"service_id":          "checkout",
		"observed_at":         seedBase,
		"error_rate":          0.5,
		"standard_slo_target": 98.0,
		"burn_rate":           3.0,
	})

	rates, err := calc.CalculateBurnRate(context.Background(), "checkout")
	if err != nil {
		t.Fatalf("calculate burn rate: %v", err)
	}
	if len(rates) != 1 {
		t.Fatalf("expected 1 result, got %d", len(rates))
	}
	if rates[0].Rate == nil || *rates[0].Rate != 3.0 {
		t.Fatalf("expected stored rate 3.0, got %v", rates[0].Rate)
	}
	if rates[0].Classification != BurnHighRisk {
		t.Fatalf("expected high_risk, got %s", rates[0].Classification)
	}
}

func TestCalculateErrorBudget(t *testing.T) {
	calc, db := newTestCalculator(t, "slo_budget_test")
	seed(t, db, map[string]any{
		"service_id":                    "checkout",
		"observed_at":                   seedBase,
		"error_budget_consumed_percent": 40.0,
		"error_budget_left_percent":     60.0,
		"error_budget_left_count":       120.0,
		"standard_slo_target":           98.0,
		"error_rate":                    0.8,
		"total_count":                   1000.0,
	})

	budget, err := calc.CalculateErrorBudget(context.Background(), "checkout", 0)
	if err != nil {
		t.Fatalf("calculate error budget: %v", err)
	}
	if budget.NoData {
		t.Fatal("expected data")
	}
	if budget.AllocatedPercent == nil || *budget.AllocatedPercent != 2.0 {
		t.Fatalf("expected allocated 2.0, got %v", budget.AllocatedPercent)
	}
	if budget.ConsumedPercent == nil || *budget.ConsumedPercent != 40.0 {
		t.Fatalf("expected consumed 40.0, got %v", budget.ConsumedPercent)
	}
	if budget.IsExhausted {
		t.Fatal("expected not exhausted")
	}
	if budget.TotalRequests != 1000 {
		t.Fatalf("expected 1000 requests, got %d", budget.TotalRequests)
	}
}

func TestCalculateErrorBudgetNoData(t *testing.T) {
	calc, _ := newTestCalculator(t, "slo_budget_nodata_test")

	budget, err := calc.CalculateErrorBudget(context.Background(), "ghost", 0)
	if err != nil {
		t.Fatalf("calculate error budget: %v", err)
	}
	if !budget.NoData {
		t.Fatal("expected NoData for unknown service")
	}
	if budget.ServiceID != "ghost" {
		t.Fatalf("unexpected service id: %s", budget.ServiceID)
	}
}

func TestCalculateErrorBudgetExhausted(t *testing.T) {
	calc, db := newTestCalculator(t, "slo_budget_exhausted_test")
	seed(t, db, map[string]any{
		"service_id":                    "checkout",
		"observed_at":                   seedBase,
		"error_budget_consumed_percent": 120.0,
		"error_budget_left_count":       -30.0,
		"standard_slo_target":           98.0,
	})

	budget, err := calc.CalculateErrorBudget(context.Background(), "checkout", 0)
	if err != nil {
		t.Fatalf("calculate error budget: %v", err)
	}
	if !budget.IsExhausted {
		t.Fatal("expected exhausted budget")
	}
}

func TestGetServicesByBurnRateExcludesHealthyAndSorts(t *testing.T) {
	calc, db := newTestCalculator(t, "slo_burn_ranked_test")
	for svc, errRate := range map[string]float64{
		"slow-burner": 0.1, // burn 5.0
		"fast-burner": 1.0, // burn 50.0
		"clean":       0.0, // excluded
	} {
		seed(t, db, map[string]any{
			"service_id":          svc,
			"observed_at":         seedBase,
			"error_rate":          errRate,
			"standard_slo_target": 98.0,
		})
	}

	ranked, err := calc.GetServicesByBurnRate(context.Background(), 10)
	if err != nil {
		t.Fatalf("rank by burn rate: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 services, got %d", len(ranked))
	}
	if ranked[0].ServiceID != "fast-burner" || ranked[1].ServiceID != "slow-burner" {
		t.Fatalf("unexpected order: %s, %s", ranked[0].ServiceID, ranked[1].ServiceID)
	}
}

func TestGetSLOViolationsRecomputesWhenFlagsAbsent(t *testing.T) {
	calc, db := newTestCalculator(t, "slo_violations_test")
	// Breach flags never ingested; the consumed percent alone must flag it.
	seed(t, db, map[string]any{
		"service_id":                    "checkout",
		"observed_at":                   seedBase,
		"error_budget_consumed_percent": 150.0,
	})
	seed(t, db, map[string]any{
		"service_id":                    "payments",
		"observed_at":                   seedBase,
		"error_budget_consumed_percent": 10.0,
	})

	violations, err := calc.GetSLOViolations(context.Background())
	if err != nil {
		t.Fatalf("violations: %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(violations))
	}
	if violations[0].ServiceID != "checkout" || !violations[0].EBViolated {
		t.Fatalf("unexpected violation: %+v", violations[0])
	}
}

func TestGetAspirationalSLOGap(t *testing.T) {
	calc, db := newTestCalculator(t, "slo_asp_gap_test")
	seed(t, db, map[string]any{
		"service_id":             "checkout",
		"observed_at":            seedBase,
		"eb_health":              "HEALTHY",
		"aspirational_eb_health": "UNHEALTHY",
		"error_rate":             0.5,
		"standard_slo_target":    98.0,
	})
	seed(t, db, map[string]any{
		"service_id":             "payments",
		"observed_at":            seedBase,
		"eb_health":              "HEALTHY",
		"aspirational_eb_health": "HEALTHY",
	})

	gaps, err := calc.GetAspirationalSLOGap(context.Background())
	if err != nil {
		t.Fatalf("aspirational gap: %v", err)
	}
	if len(gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(gaps))
	}
	g := gaps[0]
	if g.ServiceID != "checkout" {
		t.Fatalf("unexpected service: %s", g.ServiceID)
	}
	if g.AspirationalEBHealth != Unhealthy {
		t.Fatalf("unexpected aspirational health: %s", g.AspirationalEBHealth)
	}
	if g.BurnRate == nil || *g.BurnRate != 25.0 {
		t.Fatalf("expected burn 25.0, got %v", g.BurnRate)
	}
}

func TestGetBreachVsErrorAnalysis(t *testing.T) {
	calc, db := newTestCalculator(t, "slo_breach_error_test")
	seed(t, db, map[string]any{
		"service_id":          "slow-svc",
		"observed_at":         seedBase,
		"response_error_rate": 5.0,
		"error_rate":          0.1,
	})
	seed(t, db, map[string]any{
		"service_id":          "broken-svc",
		"observed_at":         seedBase,
		"response_error_rate": 0.1,
		"error_rate":          5.0,
	})

	results, err := calc.GetBreachVsErrorAnalysis(context.Background(), "")
	if err != nil {
		t.Fatalf("breach vs error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	byService := map[string]IssueType{}
	for _, r := range results {
		byService[r.ServiceID] = r.IssueType
	}
	if byService["slow-svc"] != LatencyIssue {
		t.Fatalf("slow-svc: expected latency issue, got %s", byService["slow-svc"])
	}
	if byService["broken-svc"] != ReliabilityIssue {
		t.Fatalf("broken-svc: expected reliability issue, got %s", byService["broken-svc"])
	}
}

func TestGetBudgetExhaustedServices(t *testing.T) {
	calc, db := newTestCalculator(t, "slo_exhausted_test")
	seed(t, db, map[string]any{
		"service_id":                    "over-budget",
		"observed_at":                   seedBase,
		"error_budget_consumed_percent": 130.0,
		"error_rate":                    1.0,
		"standard_slo_target":           98.0,
	})
	seed(t, db, map[string]any{
		"service_id":                    "negative-count",
		"observed_at":                   seedBase,
		"error_budget_left_count":       -5.0,
		"error_rate":                    2.0,
		"standard_slo_target":           98.0,
	})
	seed(t, db, map[string]any{
		"service_id":                    "within-budget",
		"observed_at":                   seedBase,
		"error_budget_consumed_percent": 20.0,
	})

	results, err := calc.GetBudgetExhaustedServices(context.Background())
	if err != nil {
		t.Fatalf("exhausted services: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 services, got %d", len(results))
	}
	// Sorted by burn rate descending: 2.0/2*100=100 before 1.0/2*100=50.
	if results[0].ServiceID != "negative-count" || results[1].ServiceID != "over-budget" {
		t.Fatalf("unexpected order: %s, %s", results[0].ServiceID, results[1].ServiceID)
	}
}

func TestGetSlowestServices(t *testing.T) {
	calc, db := newTestCalculator(t, "slo_slowest_test")
	seed(t, db, map[string]any{
		"service_id":         "tortoise",
		"observed_at":        seedBase,
		"latency_p99":        900.0,
		"latency_slo_target": 500.0,
	})
	seed(t, db, map[string]any{
		"service_id":         "hare",
		"observed_at":        seedBase,
		"latency_p99":        100.0,
		"latency_slo_target": 500.0,
	})
	// No p99 ingested; the average must stand in for ordering.
	seed(t, db, map[string]any{
		"service_id":  "legacy",
		"observed_at": seedBase,
		"latency_avg": 400.0,
	})

	results, err := calc.GetSlowestServices(context.Background(), 10)
	if err != nil {
		t.Fatalf("slowest services: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].ServiceID != "tortoise" || results[1].ServiceID != "legacy" || results[2].ServiceID != "hare" {
		t.Fatalf("unexpected order: %s, %s, %s",
			results[0].ServiceID, results[1].ServiceID, results[2].ServiceID)
	}
	if results[0].SLOMet {
		t.Fatal("tortoise should miss its latency target")
	}
	if !results[2].SLOMet {
		t.Fatal("hare should meet its latency target")
	}
}

func TestGetErrorProneServicesSkipsCleanServices(t *testing.T) {
	calc, db := newTestCalculator(t, "slo_error_prone_test")
	seed(t, db, map[string]any{
		"service_id":  "flaky",
		"observed_at": seedBase,
		"error_rate":  3.0,
		"error_count": 30.0,
		"total_count": 1000.0,
	})
	seed(t, db, map[string]any{
		"service_id":  "clean",
		"observed_at": seedBase,
		"error_rate":  0.0,
		"total_count": 1000.0,
	})

	results, err := calc.GetErrorProneServices(context.Background(), 10)
	if err != nil {
		t.Fatalf("error prone services: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ServiceID != "flaky" {
		t.Fatalf("unexpected service: %s", results[0].ServiceID)
	}
}

func TestGetServiceHealthOverview(t *testing.T) {
	calc, db := newTestCalculator(t, "slo_overview_test")
	seed(t, db, map[string]any{
		"service_id": "healthy-svc", "observed_at": seedBase,
		"eb_health": "HEALTHY", "response_health": "HEALTHY",
		"total_count": 1000.0, "error_count": 0.0,
	})
	seed(t, db, map[string]any{
		"service_id": "degraded-svc", "observed_at": seedBase,
		"eb_health": "UNHEALTHY", "response_health": "HEALTHY",
		"total_count": 500.0, "error_count": 10.0,
	})
	seed(t, db, map[string]any{
		"service_id": "violated-svc", "observed_at": seedBase,
		"eb_health": "UNHEALTHY", "error_budget_consumed_percent": 140.0,
		"total_count": 500.0, "error_count": 90.0,
	})

	overview, err := calc.GetServiceHealthOverview(context.Background())
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if overview.TotalServices != 3 {
		t.Fatalf("expected 3 services, got %d", overview.TotalServices)
	}
	if overview.HealthyServices != 1 || overview.DegradedServices != 1 || overview.ViolatedServices != 1 {
		t.Fatalf("unexpected counts: %+v", overview)
	}
	if overview.OverallErrorRate == nil || *overview.OverallErrorRate != 5.0 {
		t.Fatalf("expected overall error rate 5.0, got %v", overview.OverallErrorRate)
	}
}

func TestGetServiceSummary(t *testing.T) {
	calc, db := newTestCalculator(t, "slo_summary_test")
	seed(t, db, map[string]any{
		"service_id":                    "checkout",
		"observed_at":                   seedBase,
		"error_rate":                    0.5,
		"standard_slo_target":           98.0,
		"error_budget_consumed_percent": 25.0,
		"total_count":                   1000.0,
	})

	summary, err := calc.GetServiceSummary(context.Background(), "checkout")
	if err != nil {
		t.Fatalf("service summary: %v", err)
	}
	if summary.NoData {
		t.Fatal("expected data")
	}
	if summary.SLI == nil || summary.Budget == nil || summary.Burn == nil {
		t.Fatalf("incomplete summary: %+v", summary)
	}
	if summary.Burn.Rate == nil || *summary.Burn.Rate != 25.0 {
		t.Fatalf("expected burn 25.0, got %v", summary.Burn.Rate)
	}

	ghost, err := calc.GetServiceSummary(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("ghost summary: %v", err)
	}
	if !ghost.NoData {
		t.Fatal("expected NoData for unknown service")
	}
}
