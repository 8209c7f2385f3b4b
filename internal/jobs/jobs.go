package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Job is an opportunity in the remote system, normalized from its JSON form.
type Job struct {
	ID         int64
	Name       string
	LocationID int64
	State      int
	Status     int
	StartsAt   time.Time
	EndsAt     time.Time
}

// LineItem is one item line on a job. StartsAt/EndsAt are zero when the line
// follows the job's own dates.
type LineItem struct {
	ItemID   int64
	Quantity float64
	StartsAt time.Time
	EndsAt   time.Time
}

const maxNameLen = 50

// DisplayName is the label used in contribution breakdowns.
func (j Job) DisplayName() string {
	name := strings.TrimSpace(j.Name)
	if name == "" {
		name = fmt.Sprintf("Job #%d", j.ID)
	}
	r := []rune(name)
	if len(r) > maxNameLen {
		name = string(r[:maxNameLen])
	}
	return name
}

func (j Job) HasDates() bool {
	return !j.StartsAt.IsZero() && !j.EndsAt.IsZero()
}

// Overlaps is inclusive at both ends: a job ending the instant the range
// starts still claims stock for it.
func (j Job) Overlaps(start, end time.Time) bool {
	if !j.HasDates() {
		return false
	}
	return !j.StartsAt.After(end) && !j.EndsAt.Before(start)
}

func (li LineItem) HasDates() bool {
	return !li.StartsAt.IsZero() && !li.EndsAt.IsZero()
}

// Overlaps reports whether the line's own sub-range intersects the range.
// Lines without a sub-range always overlap; touching boundaries do not.
func (li LineItem) Overlaps(start, end time.Time) bool {
	if !li.HasDates() {
		return true
	}
	return li.EndsAt.After(start) && li.StartsAt.Before(end)
}

// Validate rejects rows that cannot be fetched or placed in time.
func (j Job) Validate() error {
	if j.ID <= 0 {
		return errors.New("id required")
	}
	if !j.StartsAt.IsZero() && !j.EndsAt.IsZero() && j.EndsAt.Before(j.StartsAt) {
		return fmt.Errorf("job %d: ends_at before starts_at", j.ID)
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime accepts the timestamp shapes the remote API and callers use.
// Values without a zone are read as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// ParseRange parses and validates a [start, end] pair.
func ParseRange(start, end string) (time.Time, time.Time, error) {
	s, err := ParseTime(start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("range start: %w", err)
	}
	e, err := ParseTime(end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("range end: %w", err)
	}
	if e.Before(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("range end %s before start %s", end, start)
	}
	return s, e, nil
}
