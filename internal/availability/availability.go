// Package availability merges held stock, cached commitments and an optional
// authoritative figure into per-location availability reports.
package availability

import (
	"slices"

	"github.com/example/rms-availability/internal/cache"
)

// DefaultExcludedCategories are the non-stock, group-booking and sub-rent
// placeholder categories. Rows in these categories are not physical stock.
var DefaultExcludedCategories = []int{10, 30, 40}

// StockLevel is one held-stock row for an item at a location.
type StockLevel struct {
	LocationID int64   `json:"location_id"`
	Quantity   float64 `json:"quantity"`
	Category   int     `json:"category"`
}

// Override is a caller-supplied availability figure for one location that
// takes precedence over the computed value.
type Override struct {
	LocationID int64   `json:"location_id"`
	Available  float64 `json:"available"`
}

type Report struct {
	LocationID      int64                `json:"location_id"`
	Held            float64              `json:"held"`
	Booked          float64              `json:"booked"`
	Reserved        float64              `json:"reserved"`
	Provisional     float64              `json:"provisional"`
	NetAvailable    float64              `json:"net_available"`
	Jobs            []cache.Contribution `json:"jobs"`
	IsAuthoritative bool                 `json:"is_authoritative"`
}

// StockSummary is the held quantity at one location.
type StockSummary struct {
	LocationID int64   `json:"location_id"`
	Held       float64 `json:"held"`
}

// HeldByLocation totals held stock per enabled location. Every enabled
// location is present in the result, zero when it has no rows.
func HeldByLocation(levels []StockLevel, locations []int64, excluded []int) map[int64]float64 {
	held := make(map[int64]float64, len(locations))
	for _, id := range locations {
		held[id] = 0
	}
	for _, sl := range levels {
		if _, ok := held[sl.LocationID]; !ok {
			continue
		}
		if slices.Contains(excluded, sl.Category) {
			continue
		}
		held[sl.LocationID] += sl.Quantity
	}
	return held
}

// Resolve builds a report for every location in held. Provisional
// quantities are reported but never reduce net availability.
func Resolve(itemID int64, held map[int64]float64, commitments cache.Snapshot, override *Override) map[int64]Report {
	out := make(map[int64]Report, len(held))
	for locationID, h := range held {
		e := commitments.Entry(itemID, locationID)
		r := Report{
			LocationID:   locationID,
			Held:         h,
			Booked:       e.Booked,
			Reserved:     e.Reserved,
			Provisional:  e.Provisional,
			NetAvailable: h - e.Booked - e.Reserved,
			Jobs:         e.Jobs,
		}
		if r.Jobs == nil {
			r.Jobs = []cache.Contribution{}
		}
		if override != nil && override.LocationID == locationID {
			r.NetAvailable = override.Available
			r.IsAuthoritative = true
		}
		out[locationID] = r
	}
	return out
}

// Ordered returns reports in the given location order, skipping locations
// without a report.
func Ordered(reports map[int64]Report, locations []int64) []Report {
	out := make([]Report, 0, len(locations))
	for _, id := range locations {
		if r, ok := reports[id]; ok {
			out = append(out, r)
		}
	}
	return out
}
