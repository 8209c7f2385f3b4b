package cache

import (
	"sync"
	"time"

	"github.com/example/rms-availability/internal/jobs"
)

// Key identifies a commitment build. Range bounds compare as supplied, so
// "2024-06-01" and "2024-06-01T00:00:00Z" are different keys.
type Key struct {
	Start         string `json:"start"`
	End           string `json:"end"`
	ExcludedJobID int64  `json:"excluded_job_id,omitempty"`
}

// Contribution is one job's claim on an item at a location.
type Contribution struct {
	JobID          int64               `json:"job_id"`
	JobName        string              `json:"job_name"`
	Quantity       float64             `json:"quantity"`
	Classification jobs.Classification `json:"classification"`
}

// Entry accumulates the commitments on one item at one location.
type Entry struct {
	Booked      float64        `json:"booked"`
	Reserved    float64        `json:"reserved"`
	Provisional float64        `json:"provisional"`
	Jobs        []Contribution `json:"jobs"`
}

func (e Entry) clone() Entry {
	e.Jobs = append([]Contribution(nil), e.Jobs...)
	return e
}

// Snapshot is a point-in-time copy: item id -> location id -> Entry.
type Snapshot map[int64]map[int64]Entry

// Entry returns the zero Entry when the pair has no commitments.
func (s Snapshot) Entry(itemID, locationID int64) Entry {
	return s[itemID][locationID]
}

// record is the published result of a build. Only the soft phase mutates it
// after publication.
type record struct {
	mu           sync.RWMutex
	items        map[int64]map[int64]*Entry
	builtAt      time.Time
	softComplete bool
}

func newRecord() *record {
	return &record{items: make(map[int64]map[int64]*Entry)}
}

func (r *record) add(itemID, locationID int64, c Contribution) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byLoc, ok := r.items[itemID]
	if !ok {
		byLoc = make(map[int64]*Entry)
		r.items[itemID] = byLoc
	}
	e, ok := byLoc[locationID]
	if !ok {
		e = &Entry{}
		byLoc[locationID] = e
	}
	switch c.Classification {
	case jobs.FirmBooked:
		e.Booked += c.Quantity
	case jobs.FirmReserved:
		e.Reserved += c.Quantity
	case jobs.SoftProvisional:
		e.Provisional += c.Quantity
	default:
		return
	}
	e.Jobs = append(e.Jobs, c)
}

func (r *record) markSoftComplete() {
	r.mu.Lock()
	r.softComplete = true
	r.mu.Unlock()
}

func (r *record) snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(Snapshot, len(r.items))
	for itemID, byLoc := range r.items {
		m := make(map[int64]Entry, len(byLoc))
		for locationID, e := range byLoc {
			m[locationID] = e.clone()
		}
		out[itemID] = m
	}
	return out
}

func (r *record) stats() (builtAt time.Time, softComplete bool, items int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.builtAt, r.softComplete, len(r.items)
}

// RecordStats describes one cached record.
type RecordStats struct {
	Key          Key           `json:"key"`
	BuiltAt      time.Time     `json:"built_at"`
	Age          time.Duration `json:"age_ns"`
	SoftComplete bool          `json:"soft_complete"`
	Items        int           `json:"items"`
}

type Stats struct {
	Records  []RecordStats `json:"records"`
	Building []Key         `json:"building"`
}
