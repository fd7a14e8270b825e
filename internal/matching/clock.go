// Package matching holds the storage-free core of the booking engine: clock
// and window arithmetic, the slot conflict detector, the covering check used
// for booking capacity, and the service-to-doctor resolver.
package matching

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar date format used for slots and bookings.
const DateLayout = "2006-01-02"

// Clock is a wall-clock time of day in minutes since midnight.
type Clock int

// ParseClock accepts "H:MM" or "HH:MM" in 24h form.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) < 1 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid time %q: hour out of range", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q: minute out of range", s)
	}
	return Clock(h*60 + m), nil
}

// String formats the clock zero-padded, e.g. "09:05".
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// NormalizeClock re-formats s as zero-padded HH:MM.
func NormalizeClock(s string) (string, error) {
	c, err := ParseClock(s)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// ParseDate validates a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// Window is a half-open interval [Start, End) within a single day.
type Window struct {
	Start Clock
	End   Clock
}

// NewWindow parses and validates a start/end pair.
func NewWindow(start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	if s >= e {
		return Window{}, fmt.Errorf("start time %s must be before end time %s", s, e)
	}
	return Window{Start: s, End: e}, nil
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// Overlaps reports whether two half-open windows share any minute.
// Touching windows such as 10:00-11:00 and 11:00-12:00 do not overlap.
func Overlaps(a, b Window) bool {
	return a.Start < b.End && b.Start < a.End
}

// FirstConflict returns the index of the first existing window that
// overlaps candidate, or -1.
func FirstConflict(existing []Window, candidate Window) int {
	for i, w := range existing {
		if Overlaps(w, candidate) {
			return i
		}
	}
	return -1
}

// Conflicts reports whether candidate overlaps any existing window.
func Conflicts(existing []Window, candidate Window) bool {
	return FirstConflict(existing, candidate) >= 0
}

// Covers reports whether slot fully contains req.
func Covers(slot, req Window) bool {
	return slot.Start <= req.Start && slot.End >= req.End
}

// InternalConflict returns the indexes of the first pair of overlapping
// windows inside a batch, or (-1, -1).
func InternalConflict(batch []Window) (int, int) {
	for i := 0; i < len(batch); i++ {
		for j := i + 1; j < len(batch); j++ {
			if Overlaps(batch[i], batch[j]) {
				return i, j
			}
		}
	}
	return -1, -1
}
