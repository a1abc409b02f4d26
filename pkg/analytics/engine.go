package analytics

import (
	"context"
	"time"

	"github.com/gridpulse/gridpulse/pkg/balance"
	"github.com/gridpulse/gridpulse/pkg/storage"
)

// Reader is the read-only store surface the engine consumes.
type Reader interface {
	FindInRange(ctx context.Context, start, end time.Time, scope balance.TimeScope, opts storage.FindOptions) ([]balance.Record, error)
	TimeSeries(ctx context.Context, indicator string, start, end time.Time, scope balance.TimeScope) ([]storage.Point, error)
}

// Engine binds the pure statistics to a record store. It holds no other
// state; every call fetches its own input range.
type Engine struct {
	store Reader
}

func NewEngine(store Reader) *Engine {
	return &Engine{store: store}
}

func (e *Engine) Aggregate(ctx context.Context, start, end time.Time, scope balance.TimeScope) (AggregateResult, error) {
	records, err := e.store.FindInRange(ctx, start, end, scope, storage.FindOptions{})
	if err != nil {
		return AggregateResult{}, err
	}
	return Aggregate(records), nil
}

// AnalysisReport bundles the per-indicator statistics served together.
type AnalysisReport struct {
	Indicator string        `json:"indicator"`
	Points    int           `json:"points"`
	Trend     TrendResult   `json:"trend"`
	Anomalies []Anomaly     `json:"anomalies,omitempty"`
	Pattern   PatternResult `json:"pattern"`
}

// Analyze computes trend, anomalies and weekday cyclicality for one
// indicator over the range.
func (e *Engine) Analyze(ctx context.Context, indicator string, start, end time.Time, scope balance.TimeScope) (AnalysisReport, error) {
	points, err := e.store.TimeSeries(ctx, indicator, start, end, scope)
	if err != nil {
		return AnalysisReport{}, err
	}
	return AnalysisReport{
		Indicator: indicator,
		Points:    len(points),
		Trend:     Trend(points),
		Anomalies: DetectAnomalies(points),
		Pattern:   WeekdayPattern(points),
	}, nil
}

// Correlate computes the Pearson correlation between two indicators over the
// same range.
func (e *Engine) Correlate(ctx context.Context, indicatorA, indicatorB string, start, end time.Time, scope balance.TimeScope) (CorrelationResult, error) {
	a, err := e.store.TimeSeries(ctx, indicatorA, start, end, scope)
	if err != nil {
		return CorrelationResult{}, err
	}
	b, err := e.store.TimeSeries(ctx, indicatorB, start, end, scope)
	if err != nil {
		return CorrelationResult{}, err
	}
	return Correlation(values(a), values(b)), nil
}

// SustainabilityReport is the sustainability view over one range.
type SustainabilityReport struct {
	Empty           bool    `json:"empty"`
	RenewablePct    float64 `json:"renewablePercentage"`
	LowCarbonPct    float64 `json:"lowCarbonPercentage"`
	Score           float64 `json:"score"`
	CO2AvoidedTons  float64 `json:"co2AvoidedTons"`
	RenewableTotal  float64 `json:"renewableGeneration"`
	GenerationTotal float64 `json:"totalGeneration"`
}

func (e *Engine) Sustainability(ctx context.Context, start, end time.Time, scope balance.TimeScope) (SustainabilityReport, error) {
	records, err := e.store.FindInRange(ctx, start, end, scope, storage.FindOptions{})
	if err != nil {
		return SustainabilityReport{}, err
	}
	agg := Aggregate(records)
	if agg.Empty {
		return SustainabilityReport{Empty: true}, nil
	}

	renewableTotal := agg.TotalGeneration * agg.RenewablePct / 100
	hours := end.Sub(start).Hours()
	return SustainabilityReport{
		RenewablePct:    agg.RenewablePct,
		LowCarbonPct:    agg.LowCarbonPct,
		Score:           SustainabilityScore(agg.RenewablePct, agg.LowCarbonPct),
		CO2AvoidedTons:  CO2AvoidedTons(renewableTotal, hours),
		RenewableTotal:  balance.Finite(renewableTotal),
		GenerationTotal: agg.TotalGeneration,
	}, nil
}

// Compare contrasts two disjoint periods at the same granularity.
func (e *Engine) Compare(ctx context.Context, curStart, curEnd, prevStart, prevEnd time.Time, scope balance.TimeScope) (ComparisonResult, error) {
	current, err := e.store.FindInRange(ctx, curStart, curEnd, scope, storage.FindOptions{})
	if err != nil {
		return ComparisonResult{}, err
	}
	previous, err := e.store.FindInRange(ctx, prevStart, prevEnd, scope, storage.FindOptions{})
	if err != nil {
		return ComparisonResult{}, err
	}
	return ComparePeriods(current, previous), nil
}

func values(points []storage.Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}
