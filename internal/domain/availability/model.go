package availability

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicbook/clinic/internal/matching"
	"github.com/clinicbook/clinic/internal/platform/apperr"
)

// Slot is a window of a doctor's day open for bookings. Date is
// YYYY-MM-DD; Start and End are zero-padded HH:MM with Start < End.
type Slot struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctorId"`
	Date      string    `json:"date"`
	Start     string    `json:"start"`
	End       string    `json:"end"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Window parses the stored times. Stored slots are always normalized, so
// an error means the row was written outside this service.
func (s *Slot) Window() (matching.Window, error) {
	return matching.NewWindow(s.Start, s.End)
}

// windows converts slots, skipping any that fail to parse.
func windows(slots []*Slot) ([]matching.Window, []*Slot) {
	ws := make([]matching.Window, 0, len(slots))
	kept := make([]*Slot, 0, len(slots))
	for _, s := range slots {
		w, err := s.Window()
		if err != nil {
			continue
		}
		ws = append(ws, w)
		kept = append(kept, s)
	}
	return ws, kept
}

// WindowInput is a requested start/end pair.
type WindowInput struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

var ErrNotFound = apperr.NotFound("Slot not found")

// DefaultSeedWindows are the weekday blocks created by Seed.
var DefaultSeedWindows = []WindowInput{
	{Start: "09:00", End: "11:00"},
	{Start: "11:00", End: "14:00"},
	{Start: "14:00", End: "17:00"},
}
