package booking

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicbook/clinic/internal/matching"
	"github.com/clinicbook/clinic/internal/platform/apperr"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}

// Active bookings hold their window against the doctor's capacity.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// CanTransition reports whether a booking may move from one status to
// another. Completed is terminal; completing twice is allowed and treated
// as a no-op by the service.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled || to == StatusCompleted
	case StatusConfirmed:
		return to == StatusPending || to == StatusCancelled || to == StatusCompleted
	case StatusCancelled:
		return to == StatusPending
	}
	return false
}

// Booking is an appointment request. DoctorID is nil while the booking is
// unassigned; SlotID records the availability slot it was placed in.
type Booking struct {
	ID            uuid.UUID       `json:"id"`
	Service       string          `json:"service"`
	ServiceID     *uuid.UUID      `json:"serviceId,omitempty"`
	Date          string          `json:"date"`
	Time          string          `json:"time"`
	StartTime     string          `json:"startTime,omitempty"`
	EndTime       string          `json:"endTime,omitempty"`
	DoctorID      *uuid.UUID      `json:"doctorId,omitempty"`
	SlotID        *uuid.UUID      `json:"slotId,omitempty"`
	PatientID     *uuid.UUID      `json:"patientId,omitempty"`
	PatientEmail  string          `json:"patientEmail,omitempty"`
	PatientName   string          `json:"patientName,omitempty"`
	PatientPhone  string          `json:"patientPhone,omitempty"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Status        Status          `json:"status"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	CompletedBy   *uuid.UUID      `json:"completedBy,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Window returns the requested time range, if the booking has one.
func (b *Booking) Window() (matching.Window, bool) {
	if b.StartTime == "" || b.EndTime == "" {
		return matching.Window{}, false
	}
	w, err := matching.NewWindow(b.StartTime, b.EndTime)
	return w, err == nil
}

// ServiceRef describes the booked service for matching against doctors.
func (b *Booking) ServiceRef() matching.ServiceRef {
	if b.ServiceID != nil {
		return matching.EmbeddedRef(b.ServiceID.String(), b.Service, "", "")
	}
	return matching.ParseServiceRef(b.Service)
}

func (b *Booking) AssignedTo(doctorID uuid.UUID) bool {
	return b.DoctorID != nil && *b.DoctorID == doctorID
}

// CompletionLog is the append-only record written when a booking is
// completed. There is at most one per booking.
type CompletionLog struct {
	ID              uuid.UUID  `json:"id"`
	BookingID       uuid.UUID  `json:"bookingId"`
	DoctorID        uuid.UUID  `json:"doctorId"`
	PatientID       *uuid.UUID `json:"patientId,omitempty"`
	PatientName     string     `json:"patientName,omitempty"`
	Service         string     `json:"service"`
	AppointmentDate string     `json:"appointmentDate"`
	Notes           string     `json:"notes,omitempty"`
	Rating          *float64   `json:"rating,omitempty"`
	CompletedAt     time.Time  `json:"completedAt"`
	CreatedAt       time.Time  `json:"createdAt"`
	// CountersApplied is set once the doctor's counters include this log.
	CountersApplied bool `json:"-"`
}

// Stats summarizes a doctor's completion history.
type Stats struct {
	TotalCompleted    int              `json:"totalCompleted"`
	AvgRating         float64          `json:"avgRating"`
	RecentCompletions []*CompletionLog `json:"recentCompletions"`
}

// RecentLimit bounds Stats.RecentCompletions.
const RecentLimit = 10

var (
	ErrNotFound       = apperr.NotFound("Booking not found")
	ErrLogNotFound    = apperr.NotFound("completion log not found")
	ErrLogExists      = apperr.Conflict("booking already has a completion log")
	ErrCompletedFinal = apperr.Conflict("completed bookings cannot be changed")
	ErrNoDoctor       = apperr.Validation("booking has no assigned doctor")
)
