package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/gridpulse/gridpulse/pkg/balance"
	"github.com/gridpulse/gridpulse/pkg/storage"
)

func points(values ...float64) []storage.Point {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]storage.Point, len(values))
	for i, v := range values {
		out[i] = storage.Point{Timestamp: base.AddDate(0, 0, i), Value: v}
	}
	return out
}

func TestDetectAnomaliesSpike(t *testing.T) {
	got := DetectAnomalies(points(10, 10, 10, 10, 100))
	if len(got) != 1 {
		t.Fatalf("expected 1 anomaly, got %d: %#v", len(got), got)
	}
	if got[0].Value != 100 {
		t.Fatalf("expected the spike flagged, got %#v", got[0])
	}
	if got[0].Direction != "high" {
		t.Fatalf("expected high anomaly, got %q", got[0].Direction)
	}
	if got[0].ZScore < 2 {
		t.Fatalf("expected z-score >= 2, got %v", got[0].ZScore)
	}
}

func TestDetectAnomaliesFlatSeries(t *testing.T) {
	if got := DetectAnomalies(points(10, 10, 10, 10, 10)); len(got) != 0 {
		t.Fatalf("expected no anomalies on flat series, got %#v", got)
	}
}

func TestDetectAnomaliesTooFewPoints(t *testing.T) {
	if got := DetectAnomalies(points(10, 100)); len(got) != 0 {
		t.Fatalf("expected no anomalies below 3 points, got %#v", got)
	}
}

func TestCorrelationIdenticalSeries(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	got := Correlation(a, a)
	if math.Abs(got.Coefficient-1) > 1e-9 {
		t.Fatalf("expected coefficient 1 for identical series, got %v", got.Coefficient)
	}
	if got.Strength != "very strong" {
		t.Fatalf("expected very strong, got %q", got.Strength)
	}
}

func TestCorrelationInverseSeries(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{-1, -2, -3, -4, -5}
	got := Correlation(a, b)
	if math.Abs(got.Coefficient+1) > 1e-9 {
		t.Fatalf("expected coefficient -1 for inverted series, got %v", got.Coefficient)
	}
}

func TestCorrelationDegenerateInputs(t *testing.T) {
	if got := Correlation([]float64{1, 2}, []float64{1, 2, 3}); got.Coefficient != 0 {
		t.Fatalf("expected 0 for length mismatch, got %v", got.Coefficient)
	}
	if got := Correlation([]float64{5, 5, 5}, []float64{1, 2, 3}); got.Coefficient != 0 {
		t.Fatalf("expected 0 for zero variance, got %v", got.Coefficient)
	}
}

func TestCorrelationBounded(t *testing.T) {
	a := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	b := []float64{2, 7, 1, 8, 2, 8, 1, 8}
	got := Correlation(a, b)
	if got.Coefficient < -1 || got.Coefficient > 1 {
		t.Fatalf("coefficient out of [-1,1]: %v", got.Coefficient)
	}
}

func TestTrendInsufficientData(t *testing.T) {
	got := Trend(points(42))
	if !got.Insufficient {
		t.Fatal("expected insufficient data flag for a single point")
	}
}

func TestTrendDirections(t *testing.T) {
	up := Trend(points(100, 150, 200))
	if up.Direction != TrendUp {
		t.Fatalf("expected up, got %q", up.Direction)
	}
	if up.Slope != 50 {
		t.Fatalf("expected slope 50, got %v", up.Slope)
	}
	if up.PercentChange != 100 {
		t.Fatalf("expected percent change 100, got %v", up.PercentChange)
	}

	down := Trend(points(200, 100))
	if down.Direction != TrendDown {
		t.Fatalf("expected down, got %q", down.Direction)
	}

	flat := Trend(points(100, 100, 100))
	if flat.Direction != TrendStable {
		t.Fatalf("expected stable, got %q", flat.Direction)
	}
}

func TestPercentChangeRules(t *testing.T) {
	cases := []struct {
		current, previous, want float64
	}{
		{0, 0, 0},
		{1000, 0, 100},
		{1000, 500, 100},
		{250, 500, -50},
		{500, -500, 200},
	}
	for _, c := range cases {
		if got := PercentChange(c.current, c.previous); got != c.want {
			t.Fatalf("PercentChange(%v, %v) = %v, want %v", c.current, c.previous, got, c.want)
		}
	}
}

func dayRecord(day int, generation, demand []balance.LineItem) balance.Record {
	rec := balance.Record{
		Timestamp:  time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
		TimeScope:  balance.ScopeDay,
		Generation: generation,
		Demand:     demand,
	}
	balance.Recompute(&rec)
	return rec
}

func TestComparePeriodsScenario(t *testing.T) {
	current := []balance.Record{dayRecord(10,
		[]balance.LineItem{{Type: "Wind", Value: 1000}},
		[]balance.LineItem{{Type: "Total demand", Value: 900}})}
	previous := []balance.Record{dayRecord(1,
		[]balance.LineItem{{Type: "Wind", Value: 500}},
		[]balance.LineItem{{Type: "Total demand", Value: 450}})}

	got := ComparePeriods(current, previous)
	if got.GenerationChange != 100 {
		t.Fatalf("expected generation change 100, got %v", got.GenerationChange)
	}
	if got.Trend != ChangeIncrease {
		t.Fatalf("expected trend increase, got %q", got.Trend)
	}
	if got.DemandChange != 100 {
		t.Fatalf("expected demand change 100, got %v", got.DemandChange)
	}
}

func TestComparePeriodsEmpty(t *testing.T) {
	got := ComparePeriods(nil, nil)
	if !got.Empty {
		t.Fatal("expected empty flag for two empty periods")
	}
}

func TestComparePeriodsTypeDeltasSorted(t *testing.T) {
	current := []balance.Record{dayRecord(10,
		[]balance.LineItem{{Type: "Wind", Value: 110}, {Type: "Coal", Value: 400}},
		nil)}
	previous := []balance.Record{dayRecord(1,
		[]balance.LineItem{{Type: "Wind", Value: 100}, {Type: "Coal", Value: 100}},
		nil)}

	got := ComparePeriods(current, previous)
	if len(got.TypeDeltas) != 2 {
		t.Fatalf("expected 2 type deltas, got %d", len(got.TypeDeltas))
	}
	if got.TypeDeltas[0].Type != "Coal" {
		t.Fatalf("expected Coal first (largest relative change), got %q", got.TypeDeltas[0].Type)
	}
}

func TestAggregateEmpty(t *testing.T) {
	got := Aggregate(nil)
	if !got.Empty {
		t.Fatal("expected empty flag for no records")
	}
}

func TestAggregateDistribution(t *testing.T) {
	records := []balance.Record{dayRecord(1,
		[]balance.LineItem{{Type: "Wind", Value: 100}, {Type: "Coal", Value: 300}},
		[]balance.LineItem{{Type: "Total demand", Value: 380}})}

	got := Aggregate(records)
	if got.TotalGeneration != 400 {
		t.Fatalf("expected total 400, got %v", got.TotalGeneration)
	}
	if got.RenewablePct != 25 {
		t.Fatalf("expected renewable 25%%, got %v", got.RenewablePct)
	}
	if len(got.Distribution) != 2 {
		t.Fatalf("expected 2 distribution entries, got %d", len(got.Distribution))
	}
	if got.Distribution[0].Type != "Coal" || got.Distribution[0].Percentage != 75 {
		t.Fatalf("expected Coal at 75%% first, got %#v", got.Distribution[0])
	}
}

func TestSustainabilityScore(t *testing.T) {
	// 40% renewable, 60% low-carbon: 40*0.7 + 20*0.3 = 34
	if got := SustainabilityScore(40, 60); got != 34 {
		t.Fatalf("expected score 34, got %v", got)
	}
}

func TestCO2AvoidedTons(t *testing.T) {
	// 1000 MW renewable for 24h at 0.5 t/MWh = 12 tons per MW... 1000*24*0.5/1000
	if got := CO2AvoidedTons(1000, 24); got != 12 {
		t.Fatalf("expected 12 tons, got %v", got)
	}
}

func TestWeekdayPatternDetected(t *testing.T) {
	// Two weeks of data with weekends far below weekdays.
	base := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC) // a Monday
	var pts []storage.Point
	for d := 0; d < 14; d++ {
		ts := base.AddDate(0, 0, d)
		v := 100.0
		if wd := ts.Weekday(); wd == time.Saturday || wd == time.Sunday {
			v = 40
		}
		pts = append(pts, storage.Point{Timestamp: ts, Value: v})
	}

	got := WeekdayPattern(pts)
	if !got.Detected {
		t.Fatalf("expected weekday pattern detected, variation %v", got.Variation)
	}
	if got.WeekdayAverages["Saturday"] != 40 {
		t.Fatalf("expected Saturday average 40, got %v", got.WeekdayAverages["Saturday"])
	}
}

func TestWeekdayPatternFlat(t *testing.T) {
	got := WeekdayPattern(points(50, 50, 50, 50, 50, 50, 50))
	if got.Detected {
		t.Fatalf("expected no pattern on flat series, variation %v", got.Variation)
	}
}

func TestWeekdayPatternEmpty(t *testing.T) {
	got := WeekdayPattern(nil)
	if got.Detected {
		t.Fatal("expected no pattern for empty series")
	}
}
