// Package transform normalizes raw upstream balance payloads into
// balance.Record values. It is pure: no clock, no network, no store.
package transform

import (
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/gridpulse/gridpulse/internal/utils"
	"github.com/gridpulse/gridpulse/pkg/balance"
	"github.com/gridpulse/gridpulse/pkg/errkind"
)

// Category titles as published by the english API endpoint.
const (
	categoryRenewable    = "Renewable"
	categoryNonRenewable = "Non-Renewable"
	categoryDemand       = "Demand"
	categoryInterchange  = "International interchange"
	categoryStorage      = "Storage"
)

// Records converts one raw payload into one record per distinct data point
// timestamp. A payload without a primary data section fails with
// MalformedPayload; so does a data point that carries no usable timestamp
// anywhere (the upstream's silent fallback to "now" mis-dates backfills, so
// we refuse instead).
func Records(raw string) ([]balance.Record, error) {
	data := gjson.Get(raw, "data")
	if !data.Exists() {
		return nil, errkind.New(errkind.MalformedPayload, "payload has no data section")
	}

	scope := balance.ScopeDay
	if s := data.Get("attributes.time-trunc"); s.Exists() {
		if parsed, err := balance.ParseTimeScope(s.Str); err == nil {
			scope = parsed
		}
	}

	meta := balance.Metadata{
		Title:       data.Get("attributes.title").Str,
		Description: data.Get("attributes.description").Str,
		Source:      "ree-apidatos",
	}

	fallback, fallbackOK := payloadTimestamp(data)

	byTime := make(map[time.Time]*balance.Record)
	var badPoints int

	gjson.Get(raw, "included").ForEach(func(_, group gjson.Result) bool {
		category := group.Get("attributes.title").Str
		if category == "" {
			category = group.Get("type").Str
		}

		group.Get("attributes.content").ForEach(func(_, item gjson.Result) bool {
			typ := item.Get("attributes.title").Str
			if typ == "" {
				typ = item.Get("type").Str
			}
			if typ == "" {
				// Entries without a type cannot be classified; skip them.
				return true
			}
			color := item.Get("attributes.color").Str
			unit := item.Get("attributes.magnitude").Str
			if unit == "" {
				unit = "MW"
			}

			item.Get("attributes.values").ForEach(func(_, point gjson.Result) bool {
				ts, ok := pointTimestamp(point)
				if !ok {
					if !fallbackOK {
						badPoints++
						return true
					}
					ts = fallback
				}

				rec, ok := byTime[ts]
				if !ok {
					rec = &balance.Record{Timestamp: ts, TimeScope: scope, Metadata: meta}
					byTime[ts] = rec
				}

				li := balance.LineItem{
					Type:       typ,
					Value:      balance.Finite(point.Get("value").Float()),
					Percentage: balance.Finite(point.Get("percentage").Float()),
					Color:      color,
					Unit:       unit,
				}
				dispatch(rec, category, li)
				return true
			})
			return true
		})
		return true
	})

	if badPoints > 0 {
		utils.Log.Warnf("transform: dropped %d data points with no usable timestamp", badPoints)
	}
	if len(byTime) == 0 {
		return nil, errkind.New(errkind.MalformedPayload, "payload contains no datable values")
	}

	records := make([]balance.Record, 0, len(byTime))
	for _, rec := range byTime {
		fillPlaceholders(rec)
		balance.Recompute(rec)
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

// dispatch routes a line item into the right record category. Storage items
// are reclassified by sign: discharge feeds generation, charge shows up as
// demand with the absolute value.
func dispatch(rec *balance.Record, category string, li balance.LineItem) {
	switch {
	case strings.EqualFold(category, categoryRenewable), strings.EqualFold(category, categoryNonRenewable):
		rec.Generation = append(rec.Generation, li)
	case strings.EqualFold(category, categoryDemand):
		rec.Demand = append(rec.Demand, li)
	case strings.EqualFold(category, categoryInterchange):
		rec.Interchange = append(rec.Interchange, li)
	case strings.EqualFold(category, categoryStorage):
		if li.Value < 0 {
			li.Value = -li.Value
			rec.Demand = append(rec.Demand, li)
		} else {
			rec.Generation = append(rec.Generation, li)
		}
	default:
		// Unknown block: treat as generation so nothing silently vanishes.
		rec.Generation = append(rec.Generation, li)
	}
}

func fillPlaceholders(rec *balance.Record) {
	if len(rec.Generation) == 0 {
		rec.Generation = append(rec.Generation, balance.LineItem{Type: balance.PlaceholderType, Unit: "MW"})
	}
	if len(rec.Demand) == 0 {
		rec.Demand = append(rec.Demand, balance.LineItem{Type: balance.PlaceholderType, Unit: "MW"})
	}
}

func pointTimestamp(point gjson.Result) (time.Time, bool) {
	if dt := point.Get("datetime"); dt.Exists() {
		if t, err := parseAPITime(dt.Str); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// payloadTimestamp tries the payload-level fields in preference order:
// last-update, then date.
func payloadTimestamp(data gjson.Result) (time.Time, bool) {
	for _, field := range []string{"attributes.last-update", "attributes.date"} {
		if v := data.Get(field); v.Exists() {
			if t, err := parseAPITime(v.Str); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func parseAPITime(s string) (time.Time, error) {
	return utils.ParseDate(s)
}
