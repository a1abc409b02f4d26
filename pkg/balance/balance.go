// Package balance holds the canonical grid balance record: one snapshot of
// generation, demand and interchange line items for a timestamp at a given
// granularity.
package balance

import (
	"math"
	"time"

	"github.com/gridpulse/gridpulse/pkg/errkind"
)

// TimeScope is the granularity tag of a record. It is not derivable from the
// timestamp alone; the same instant can exist at several scopes.
type TimeScope string

const (
	ScopeHour  TimeScope = "hour"
	ScopeDay   TimeScope = "day"
	ScopeMonth TimeScope = "month"
	ScopeYear  TimeScope = "year"
)

// AllScopes lists every supported granularity, in increasing span order.
var AllScopes = []TimeScope{ScopeHour, ScopeDay, ScopeMonth, ScopeYear}

func (s TimeScope) Valid() bool {
	switch s {
	case ScopeHour, ScopeDay, ScopeMonth, ScopeYear:
		return true
	}
	return false
}

func ParseTimeScope(s string) (TimeScope, error) {
	ts := TimeScope(s)
	if !ts.Valid() {
		return "", errkind.New(errkind.InvalidTimeScope, "unknown time scope %q", s)
	}
	return ts, nil
}

// LineItem is a single generation, demand or interchange entry. Value is in
// MW (or MWh for aggregated scopes, as published upstream).
type LineItem struct {
	Type       string  `json:"type"`
	Value      float64 `json:"value"`
	Percentage float64 `json:"percentage"`
	Color      string  `json:"color,omitempty"`
	Unit       string  `json:"unit"`
}

// Metadata is free-form provenance carried from the upstream payload.
type Metadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
}

// Record is the canonical unit of storage. The Total*, Balance and
// RenewablePercentage fields are derived; call Recompute after any mutation
// of the line item slices, never set them directly.
type Record struct {
	Timestamp   time.Time  `json:"timestamp"`
	TimeScope   TimeScope  `json:"timeScope"`
	Generation  []LineItem `json:"generation"`
	Demand      []LineItem `json:"demand"`
	Interchange []LineItem `json:"interchange"`

	TotalGeneration     float64 `json:"totalGeneration"`
	TotalDemand         float64 `json:"totalDemand"`
	Balance             float64 `json:"balance"`
	RenewablePercentage float64 `json:"renewablePercentage"`

	Metadata Metadata `json:"metadata"`
}

// PlaceholderType marks a category that came back empty from the upstream
// source, so downstream aggregation never sees a missing slice.
const PlaceholderType = "unavailable"

var renewableTypes = map[string]bool{
	"Hydro":            true,
	"Wind":             true,
	"Solar PV":         true,
	"Solar thermal":    true,
	"Other renewables": true,
	"Hydro-wind":       true,
}

var lowCarbonExtra = map[string]bool{
	"Nuclear": true,
}

// IsRenewable reports whether a generation type counts toward the renewable
// percentage.
func IsRenewable(typ string) bool { return renewableTypes[typ] }

// IsLowCarbon reports whether a generation type counts as low-carbon
// (renewables plus nuclear).
func IsLowCarbon(typ string) bool { return renewableTypes[typ] || lowCarbonExtra[typ] }

// Finite collapses NaN and infinities to 0 so they never reach storage or
// arithmetic downstream.
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Recompute recalculates every derived field from the line items. It is the
// only way derived fields change.
func Recompute(r *Record) {
	var gen, dem float64
	for _, it := range r.Generation {
		gen += Finite(it.Value)
	}
	for _, it := range r.Demand {
		dem += Finite(it.Value)
	}
	r.TotalGeneration = Finite(gen)
	r.TotalDemand = Finite(dem)
	r.Balance = Finite(gen - dem)
	r.RenewablePercentage = sharePercent(r.Generation, IsRenewable, r.TotalGeneration)
}

// LowCarbonPercentage returns the share of generation coming from low-carbon
// sources. Like RenewablePercentage it is 0 when there is no generation.
func (r *Record) LowCarbonPercentage() float64 {
	return sharePercent(r.Generation, IsLowCarbon, r.TotalGeneration)
}

func sharePercent(items []LineItem, match func(string) bool, total float64) float64 {
	if total <= 0 {
		return 0
	}
	var sum float64
	for _, it := range items {
		if match(it.Type) {
			sum += Finite(it.Value)
		}
	}
	return Finite(sum / total * 100)
}
