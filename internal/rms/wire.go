package rms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/rms-availability/internal/internaltypes"
	"github.com/example/rms-availability/internal/jobs"
)

// flexInt accepts 12, "12", 12.0, "" and null. The remote API is not
// consistent about quoting ids and enum codes.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if strings.TrimSpace(s) == "" {
		*f = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*f = flexInt(d.IntPart())
	return nil
}

// quantity decodes numbers or numeric strings; null and "" are zero.
type quantity struct {
	decimal.Decimal
}

func (q *quantity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		q.Decimal = decimal.Zero
		return nil
	}
	return q.Decimal.UnmarshalJSON(b)
}

func (q quantity) Float() float64 {
	return q.InexactFloat64()
}

type stockLevelsResponse struct {
	StockLevels []stockLevelWire `json:"stock_levels"`
}

type stockLevelWire struct {
	StoreID       flexInt  `json:"store_id"`
	QuantityHeld  quantity `json:"quantity_held"`
	StockCategory flexInt  `json:"stock_category"`
}

type opportunitiesResponse struct {
	Opportunities []opportunityWire `json:"opportunities"`
}

type opportunityResponse struct {
	Opportunity opportunityWire `json:"opportunity"`
}

type opportunityWire struct {
	ID             flexInt    `json:"id"`
	Subject        *string    `json:"subject"`
	StoreID        flexInt    `json:"store_id"`
	State          flexInt    `json:"state"`
	Status         flexInt    `json:"status"`
	StartsAt       *string    `json:"starts_at"`
	EndsAt         *string    `json:"ends_at"`
	ChargeStartsAt *string    `json:"charge_starts_at"`
	ChargeEndsAt   *string    `json:"charge_ends_at"`
	Items          []itemWire `json:"opportunity_items"`
}

type itemWire struct {
	ItemID   flexInt  `json:"item_id"`
	Quantity quantity `json:"quantity"`
	StartsAt *string  `json:"starts_at"`
	EndsAt   *string  `json:"ends_at"`
}

func (o opportunityWire) job() jobs.Job {
	return jobs.Job{
		ID:         int64(o.ID),
		Name:       deref(o.Subject),
		LocationID: int64(o.StoreID),
		State:      int(o.State),
		Status:     int(o.Status),
		StartsAt:   firstTime(o.StartsAt, o.ChargeStartsAt),
		EndsAt:     firstTime(o.EndsAt, o.ChargeEndsAt),
	}
}

func (i itemWire) lineItem() jobs.LineItem {
	li := jobs.LineItem{
		ItemID:   int64(i.ItemID),
		Quantity: i.Quantity.Float(),
		StartsAt: firstTime(i.StartsAt),
		EndsAt:   firstTime(i.EndsAt),
	}
	// a half-open sub-range is treated as no sub-range
	if !li.HasDates() {
		li.StartsAt, li.EndsAt = time.Time{}, time.Time{}
	}
	return li
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// firstTime returns the first parsable timestamp, or the zero time.
func firstTime(candidates ...*string) time.Time {
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if t, err := jobs.ParseTime(*c); err == nil {
			return t
		}
	}
	return time.Time{}
}

func decode(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return &internaltypes.TransportError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
