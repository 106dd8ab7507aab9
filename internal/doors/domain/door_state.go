package doors

import (
	"context"
	"time"
)

// State is the physical door position.
type State string

const (
	StateOpen   State = "OPEN"
	StateClosed State = "CLOSED"
)

const dateLayout = "2006-01-02"

// DayCounters are door statistics bucketed by local calendar date.
type DayCounters struct {
	Date        string `json:"date"`
	Opens       int    `json:"opens"`
	Closes      int    `json:"closes"`
	OpenSeconds int64  `json:"total_open_seconds"`
}

// DoorState is the latest known door position of a cold cell.
type DoorState struct {
	ColdCellID    string      `json:"cold_cell_id"`
	State         State       `json:"state"`
	LastChangedAt time.Time   `json:"last_changed_at"`
	LastReadingAt time.Time   `json:"last_reading_at"`
	Counters      DayCounters `json:"counters"`
}

// LocalDate returns the calendar date of t in loc.
func LocalDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dateLayout)
}

func startOfLocalDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// IsOpen reports whether the door is currently open.
func (s DoorState) IsOpen() bool {
	return s.State == StateOpen
}

// Today returns the counters for the local date of now. A bucket computed for
// another date reads as zero until the next door reading re-initializes it.
// Otherwise time spent open in the running interval is included.
func (s DoorState) Today(now time.Time, loc *time.Location) DayCounters {
	today := LocalDate(now, loc)
	counters := s.Counters
	if counters.Date != today {
		return DayCounters{Date: today}
	}
	if s.IsOpen() && !s.LastChangedAt.IsZero() && now.After(s.LastChangedAt) {
		counters.OpenSeconds += openSecondsWithinDay(s.LastChangedAt, now, loc)
	}
	return counters
}

// Apply records a door reading taken at at. It returns true when the door
// position changed. Readings not newer than the last applied one are ignored.
func (s *DoorState) Apply(open bool, at time.Time, loc *time.Location) bool {
	if s == nil {
		return false
	}
	if !s.LastReadingAt.IsZero() && !at.After(s.LastReadingAt) {
		return false
	}
	s.LastReadingAt = at

	today := LocalDate(at, loc)
	if s.Counters.Date != today {
		s.Counters = DayCounters{Date: today}
	}

	next := StateClosed
	if open {
		next = StateOpen
	}
	if s.State == "" {
		s.State = next
		s.LastChangedAt = at
		return true
	}
	if s.State == next {
		return false
	}

	if next == StateOpen {
		s.Counters.Opens++
	} else {
		s.Counters.Closes++
		s.Counters.OpenSeconds += openSecondsWithinDay(s.LastChangedAt, at, loc)
	}
	s.State = next
	s.LastChangedAt = at
	return true
}

func openSecondsWithinDay(openedAt, until time.Time, loc *time.Location) int64 {
	from := openedAt
	if dayStart := startOfLocalDay(until, loc); from.Before(dayStart) {
		from = dayStart
	}
	if !until.After(from) {
		return 0
	}
	return int64(until.Sub(from) / time.Second)
}

// Repository persists door state with compare-and-set semantics on LastReadingAt.
type Repository interface {
	// Get returns nil when the cold cell has no recorded door state.
	Get(ctx context.Context, coldCellID string) (*DoorState, error)
	// Save stores state only if the stored LastReadingAt is older than state.LastReadingAt.
	Save(ctx context.Context, state *DoorState) (bool, error)
	ListOpen(ctx context.Context) ([]DoorState, error)
}
