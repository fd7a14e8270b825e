package booking

import (
	"context"

	"github.com/google/uuid"
)

// Filter narrows List. Zero fields do not filter.
type Filter struct {
	PatientID  *uuid.UUID
	DoctorID   *uuid.UUID
	Unassigned bool
	Status     Status
	Date       string
}

type Repository interface {
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	Update(ctx context.Context, b *Booking) error
	Delete(ctx context.Context, id uuid.UUID) error
	// List orders newest first.
	List(ctx context.Context, f Filter) ([]*Booking, error)
	// ListActiveByDoctorDate returns the doctor's pending and confirmed
	// bookings on date.
	ListActiveByDoctorDate(ctx context.Context, doctorID uuid.UUID, date string) ([]*Booking, error)

	// CreateLog fails with ErrLogExists when the booking already has one.
	CreateLog(ctx context.Context, l *CompletionLog) error
	GetLogByBooking(ctx context.Context, bookingID uuid.UUID) (*CompletionLog, error)
	// MarkCountersApplied records that the log's completion has been folded
	// into the doctor's counters.
	MarkCountersApplied(ctx context.Context, logID uuid.UUID) error
	// ListLogsByDoctor and ListLogsByPatient order by completion, newest first.
	ListLogsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*CompletionLog, error)
	ListLogsByPatient(ctx context.Context, patientID uuid.UUID) ([]*CompletionLog, error)
}
