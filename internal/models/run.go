package models

import (
	"fmt"
	"strings"
	"time"
)

// Slot is the half-day execution window a run belongs to.
type Slot string

const (
	SlotAM Slot = "AM"
	SlotPM Slot = "PM"
)

// SlotBoundaryHour is the local hour at which AM turns into PM.
const SlotBoundaryHour = 12

const dateLayout = "2006-01-02"

// RunID identifies a run by calendar date and slot. Date is normalised to
// midnight UTC of the civil date so that day arithmetic ignores DST.
type RunID struct {
	Date time.Time
	Slot Slot
}

// NewRunID builds a RunID for the given civil date.
func NewRunID(year int, month time.Month, day int, slot Slot) RunID {
	return RunID{Date: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), Slot: slot}
}

// RunIDAt resolves the run identity for an instant, using the instant's own location.
func RunIDAt(t time.Time) RunID {
	slot := SlotAM
	if t.Hour() >= SlotBoundaryHour {
		slot = SlotPM
	}
	y, m, d := t.Date()
	return NewRunID(y, m, d, slot)
}

// Previous returns the run this one is compared against: an AM run looks back
// to the previous day's PM run, a PM run to the same day's AM run.
func (id RunID) Previous() RunID {
	if id.Slot == SlotAM {
		return RunID{Date: id.Date.AddDate(0, 0, -1), Slot: SlotPM}
	}
	return RunID{Date: id.Date, Slot: SlotAM}
}

// IsZero reports whether the identity is unset.
func (id RunID) IsZero() bool {
	return id.Date.IsZero() && id.Slot == ""
}

// DateString formats the date part as YYYY-MM-DD.
func (id RunID) DateString() string {
	return id.Date.Format(dateLayout)
}

// Key is the storage key, e.g. 2024-05-10-PM. It is also a valid sheet name.
func (id RunID) Key() string {
	return id.DateString() + "-" + string(id.Slot)
}

// String renders the identity the way operators read it, e.g. 2024/05/10/PM.
func (id RunID) String() string {
	return id.Date.Format("2006/01/02") + "/" + string(id.Slot)
}

// MarshalText implements encoding.TextMarshaler.
func (id RunID) MarshalText() ([]byte, error) {
	return []byte(id.Key()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *RunID) UnmarshalText(b []byte) error {
	parsed, err := ParseRunID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseRunID accepts both the Key and the String forms.
func ParseRunID(s string) (RunID, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "/", "-")
	idx := strings.LastIndex(s, "-")
	if idx < 0 {
		return RunID{}, fmt.Errorf("invalid run id %q", s)
	}

	slot := Slot(strings.ToUpper(s[idx+1:]))
	if slot != SlotAM && slot != SlotPM {
		return RunID{}, fmt.Errorf("invalid slot in run id %q", s)
	}

	date, err := time.Parse(dateLayout, s[:idx])
	if err != nil {
		return RunID{}, fmt.Errorf("invalid date in run id %q: %w", s, err)
	}
	return RunID{Date: date, Slot: slot}, nil
}

// Run is the snapshot produced by one execution.
type Run struct {
	ID        RunID     `json:"id"`
	SearchURL string    `json:"search_url"`
	Listings  []Listing `json:"listings"`
	CreatedAt time.Time `json:"created_at"`
}

// AssignIndexes numbers the listings 1..n in their current order. Registries
// call it on commit so row placement never depends on crawl-time arithmetic.
func (r *Run) AssignIndexes() {
	for i := range r.Listings {
		r.Listings[i].Index = i + 1
	}
}

// URLSet returns the canonical detail URLs contained in the run.
func (r *Run) URLSet() map[string]struct{} {
	set := make(map[string]struct{}, len(r.Listings))
	for _, l := range r.Listings {
		set[l.URL] = struct{}{}
	}
	return set
}

// NewListings returns the listings tagged as new, in run order.
func (r *Run) NewListings() []Listing {
	var out []Listing
	for _, l := range r.Listings {
		if l.IsNew {
			out = append(out, l)
		}
	}
	return out
}

// SameListings reports whether both runs hold exactly the same URL set.
func (r *Run) SameListings(other *Run) bool {
	a, b := r.URLSet(), other.URLSet()
	if len(a) != len(b) {
		return false
	}
	for u := range a {
		if _, ok := b[u]; !ok {
			return false
		}
	}
	return true
}
