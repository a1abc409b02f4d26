// Package analytics derives descriptive statistics from stored balance
// records: aggregates, trends, z-score anomalies, weekday cyclicality,
// Pearson correlation and sustainability metrics. Every computation is a
// pure function of its input set; an empty input yields a flagged empty
// result, never an error.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/gridpulse/gridpulse/pkg/balance"
	"github.com/gridpulse/gridpulse/pkg/storage"
)

const (
	anomalyZThreshold = 2.0
	patternCVLimit    = 0.1

	// Tons of CO2 avoided per MWh of renewable generation. A flat
	// approximation, not calibrated per fuel mix.
	co2TonsPerMWh = 0.5
)

// AggregateResult sums a record set and breaks generation down per type.
type AggregateResult struct {
	Empty           bool                `json:"empty"`
	Records         int                 `json:"records"`
	TotalGeneration float64             `json:"totalGeneration"`
	TotalDemand     float64             `json:"totalDemand"`
	Balance         float64             `json:"balance"`
	RenewablePct    float64             `json:"renewablePercentage"`
	LowCarbonPct    float64             `json:"lowCarbonPercentage"`
	Distribution    []storage.TypeShare `json:"distribution"`
}

// Aggregate computes totals and the per-type generation distribution, where
// each type's percentage is its share of the overall generation total.
func Aggregate(records []balance.Record) AggregateResult {
	if len(records) == 0 {
		return AggregateResult{Empty: true}
	}

	res := AggregateResult{Records: len(records)}
	totals := make(map[string]float64)
	var renew, lowCarbon float64
	for _, rec := range records {
		res.TotalDemand += balance.Finite(rec.TotalDemand)
		for _, it := range rec.Generation {
			if it.Type == balance.PlaceholderType {
				continue
			}
			v := balance.Finite(it.Value)
			totals[it.Type] += v
			res.TotalGeneration += v
			if balance.IsRenewable(it.Type) {
				renew += v
			}
			if balance.IsLowCarbon(it.Type) {
				lowCarbon += v
			}
		}
	}
	res.Balance = res.TotalGeneration - res.TotalDemand
	if res.TotalGeneration > 0 {
		res.RenewablePct = balance.Finite(renew / res.TotalGeneration * 100)
		res.LowCarbonPct = balance.Finite(lowCarbon / res.TotalGeneration * 100)
	}

	res.Distribution = make([]storage.TypeShare, 0, len(totals))
	for typ, total := range totals {
		share := storage.TypeShare{Type: typ, Total: total}
		if res.TotalGeneration > 0 {
			share.Percentage = balance.Finite(total / res.TotalGeneration * 100)
		}
		res.Distribution = append(res.Distribution, share)
	}
	sort.Slice(res.Distribution, func(i, j int) bool {
		return res.Distribution[i].Total > res.Distribution[j].Total
	})
	return res
}

const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

type TrendResult struct {
	Insufficient  bool    `json:"insufficientData"`
	Slope         float64 `json:"slope"`
	Direction     string  `json:"direction"`
	PercentChange float64 `json:"percentChange"`
}

// Trend reports slope and direction over a chronologically sorted series.
// Fewer than two points is flagged as insufficient data.
func Trend(points []storage.Point) TrendResult {
	if len(points) < 2 {
		return TrendResult{Insufficient: true, Direction: TrendStable}
	}
	first := balance.Finite(points[0].Value)
	last := balance.Finite(points[len(points)-1].Value)

	res := TrendResult{
		Slope:         balance.Finite((last - first) / float64(len(points)-1)),
		PercentChange: PercentChange(last, first),
	}
	switch {
	case res.Slope > 0:
		res.Direction = TrendUp
	case res.Slope < 0:
		res.Direction = TrendDown
	default:
		res.Direction = TrendStable
	}
	return res
}

type Anomaly struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	ZScore    float64   `json:"zScore"`
	Direction string    `json:"direction"` // high or low
}

// DetectAnomalies flags points at least two population standard deviations
// away from the series mean. Fewer than three points yields no anomalies.
func DetectAnomalies(points []storage.Point) []Anomaly {
	if len(points) < 3 {
		return nil
	}
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = balance.Finite(p.Value)
	}
	mean, stddev := meanStddev(values)
	if stddev == 0 {
		return nil
	}

	var out []Anomaly
	for i, p := range points {
		z := (values[i] - mean) / stddev
		// Inclusive bound: a lone spike in an otherwise flat series lands
		// exactly on 2.0 and must be flagged.
		if math.Abs(z) < anomalyZThreshold {
			continue
		}
		dir := "high"
		if z < 0 {
			dir = "low"
		}
		out = append(out, Anomaly{Timestamp: p.Timestamp, Value: values[i], ZScore: balance.Finite(z), Direction: dir})
	}
	return out
}

type PatternResult struct {
	Detected        bool               `json:"detected"`
	WeekdayAverages map[string]float64 `json:"weekdayAverages,omitempty"`
	Variation       float64            `json:"variation"` // stddev of weekday averages over their mean
}

// WeekdayPattern averages the series per weekday and reports a cyclical
// pattern when the averages vary by more than 10% of their mean. Sub-daily
// cyclicality (hour-of-day) is not analyzed; hourly series only contribute
// through their weekday buckets.
func WeekdayPattern(points []storage.Point) PatternResult {
	if len(points) == 0 {
		return PatternResult{}
	}

	sums := make(map[time.Weekday]float64)
	counts := make(map[time.Weekday]int)
	for _, p := range points {
		wd := p.Timestamp.Weekday()
		sums[wd] += balance.Finite(p.Value)
		counts[wd]++
	}

	averages := make([]float64, 0, len(sums))
	named := make(map[string]float64, len(sums))
	for wd, sum := range sums {
		avg := sum / float64(counts[wd])
		averages = append(averages, avg)
		named[wd.String()] = balance.Finite(avg)
	}

	mean, stddev := meanStddev(averages)
	res := PatternResult{WeekdayAverages: named}
	if mean != 0 {
		res.Variation = balance.Finite(stddev / math.Abs(mean))
	}
	res.Detected = res.Variation > patternCVLimit
	return res
}

type CorrelationResult struct {
	Coefficient float64 `json:"coefficient"`
	Strength    string  `json:"strength"`
}

// Correlation computes the Pearson coefficient of two equal-length series.
// Length mismatch or zero variance in either series yields 0.
func Correlation(a, b []float64) CorrelationResult {
	coeff := pearson(a, b)
	return CorrelationResult{Coefficient: coeff, Strength: strengthLabel(coeff)}
}

func pearson(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	n := float64(len(a))
	var sumA, sumB float64
	for i := range a {
		sumA += balance.Finite(a[i])
		sumB += balance.Finite(b[i])
	}
	meanA, meanB := sumA/n, sumB/n

	var cov, varA, varB float64
	for i := range a {
		da := balance.Finite(a[i]) - meanA
		db := balance.Finite(b[i]) - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return balance.Finite(cov / math.Sqrt(varA*varB))
}

func strengthLabel(coeff float64) string {
	abs := math.Abs(coeff)
	switch {
	case abs < 0.2:
		return "very weak"
	case abs < 0.4:
		return "weak"
	case abs < 0.6:
		return "moderate"
	case abs < 0.8:
		return "strong"
	default:
		return "very strong"
	}
}

// SustainabilityScore blends renewable and low-carbon generation shares into
// a single descriptive index. Not clamped; bounded only by its inputs.
func SustainabilityScore(renewablePct, lowCarbonPct float64) float64 {
	return balance.Finite(renewablePct*0.7 + (lowCarbonPct-renewablePct)*0.3)
}

// CO2AvoidedTons estimates the emissions avoided by renewable generation
// running for the given number of hours.
func CO2AvoidedTons(renewableGenerationMW, hours float64) float64 {
	return balance.Finite(renewableGenerationMW * hours * co2TonsPerMWh / 1000)
}

// PercentChange follows the comparison rules: both zero means no change,
// growth from zero reads as 100%, and everything else is relative to the
// magnitude of the previous value.
func PercentChange(current, previous float64) float64 {
	if current == 0 && previous == 0 {
		return 0
	}
	if previous == 0 {
		return 100
	}
	return balance.Finite((current - previous) / math.Abs(previous) * 100)
}

const (
	ChangeIncrease = "increase"
	ChangeDecrease = "decrease"
	ChangeStable   = "stable"
)

type TypeDelta struct {
	Type          string  `json:"type"`
	Current       float64 `json:"current"`
	Previous      float64 `json:"previous"`
	PercentChange float64 `json:"percentChange"`
}

type ComparisonResult struct {
	Empty            bool        `json:"empty"`
	GenerationChange float64     `json:"generationChange"`
	DemandChange     float64     `json:"demandChange"`
	RenewableChange  float64     `json:"renewableChange"`
	Trend            string      `json:"trend"`
	TypeDeltas       []TypeDelta `json:"typeDeltas,omitempty"`
}

// ComparePeriods contrasts two disjoint record sets: percent change of
// generation, demand and renewable share, plus a per-type delta sorted by
// magnitude of relative change.
func ComparePeriods(current, previous []balance.Record) ComparisonResult {
	if len(current) == 0 && len(previous) == 0 {
		return ComparisonResult{Empty: true, Trend: ChangeStable}
	}

	cur := Aggregate(current)
	prev := Aggregate(previous)

	res := ComparisonResult{
		GenerationChange: PercentChange(cur.TotalGeneration, prev.TotalGeneration),
		DemandChange:     PercentChange(cur.TotalDemand, prev.TotalDemand),
		RenewableChange:  PercentChange(cur.RenewablePct, prev.RenewablePct),
	}
	switch {
	case res.GenerationChange > 0:
		res.Trend = ChangeIncrease
	case res.GenerationChange < 0:
		res.Trend = ChangeDecrease
	default:
		res.Trend = ChangeStable
	}

	curByType := shareMap(cur.Distribution)
	prevByType := shareMap(prev.Distribution)
	seen := make(map[string]bool)
	for typ := range curByType {
		seen[typ] = true
	}
	for typ := range prevByType {
		seen[typ] = true
	}
	for typ := range seen {
		res.TypeDeltas = append(res.TypeDeltas, TypeDelta{
			Type:          typ,
			Current:       curByType[typ],
			Previous:      prevByType[typ],
			PercentChange: PercentChange(curByType[typ], prevByType[typ]),
		})
	}
	sort.Slice(res.TypeDeltas, func(i, j int) bool {
		return math.Abs(res.TypeDeltas[i].PercentChange) > math.Abs(res.TypeDeltas[j].PercentChange)
	})
	return res
}

func shareMap(shares []storage.TypeShare) map[string]float64 {
	out := make(map[string]float64, len(shares))
	for _, s := range shares {
		out[s.Type] = s.Total
	}
	return out
}

func meanStddev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	// Population variance, matching the z-score definition used upstream.
	stddev = math.Sqrt(sq / float64(len(values)))
	return mean, stddev
}
