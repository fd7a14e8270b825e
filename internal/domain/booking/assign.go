package booking

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicbook/clinic/internal/domain/availability"
	"github.com/clinicbook/clinic/internal/matching"
	"github.com/clinicbook/clinic/internal/platform/apperr"
	"github.com/clinicbook/clinic/internal/platform/metrics"
)

// Outcome is how a new booking got (or did not get) its doctor.
type Outcome string

const (
	OutcomeExplicit   Outcome = metrics.OutcomeExplicit
	OutcomeAuto       Outcome = metrics.OutcomeAuto
	OutcomeUnassigned Outcome = metrics.OutcomeUnassigned
	OutcomeRejected   Outcome = metrics.OutcomeRejected
)

// StatusPolicy decides the initial status of a new booking. Unassigned
// bookings are always pending.
type StatusPolicy struct {
	Explicit Status
	Auto     Status
}

func DefaultStatusPolicy() StatusPolicy {
	return StatusPolicy{Explicit: StatusConfirmed, Auto: StatusPending}
}

// NewStatusPolicy accepts pending or confirmed for each outcome.
func NewStatusPolicy(explicit, auto string) (StatusPolicy, error) {
	p := DefaultStatusPolicy()
	for _, f := range []struct {
		raw string
		dst *Status
	}{{explicit, &p.Explicit}, {auto, &p.Auto}} {
		if f.raw == "" {
			continue
		}
		st, ok := ParseStatus(f.raw)
		if !ok || !st.Active() {
			return p, fmt.Errorf("initial booking status must be pending or confirmed, got %q", f.raw)
		}
		*f.dst = st
	}
	return p, nil
}

func (p StatusPolicy) For(o Outcome) Status {
	switch o {
	case OutcomeExplicit:
		return p.Explicit
	case OutcomeAuto:
		return p.Auto
	}
	return StatusPending
}

// capacity returns the slot that can take w for the doctor on date, or nil.
// A slot must cover w and no active booking other than self may overlap it.
// Callers hold the doctor's lock.
func (s *Service) capacity(ctx context.Context, doctorID uuid.UUID, date string, w matching.Window, self uuid.UUID) (*availability.Slot, error) {
	slot, err := s.slots.FindCovering(ctx, doctorID, date, w)
	if err != nil || slot == nil {
		return nil, err
	}
	taken, err := s.takenWindows(ctx, doctorID, date, self)
	if err != nil {
		return nil, err
	}
	if matching.Conflicts(taken, w) {
		return nil, nil
	}
	return slot, nil
}

func (s *Service) takenWindows(ctx context.Context, doctorID uuid.UUID, date string, self uuid.UUID) ([]matching.Window, error) {
	active, err := s.repo.ListActiveByDoctorDate(ctx, doctorID, date)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	ws := make([]matching.Window, 0, len(active))
	for _, b := range active {
		if b.ID == self {
			continue
		}
		if w, ok := b.Window(); ok {
			ws = append(ws, w)
		}
	}
	return ws, nil
}

// BookedWindows lists the windows of the doctor's active bookings on date.
func (s *Service) BookedWindows(ctx context.Context, doctorID uuid.UUID, date string) ([]matching.Window, error) {
	return s.takenWindows(ctx, doctorID, date, uuid.Nil)
}

func noCapacity(date string, w matching.Window) error {
	return apperr.Conflict("Doctor has no availability for %s on %s", w, date)
}

// placeWith tries to book b with doctorID under the doctor's lock. It
// returns false, without writing, when the doctor has no capacity.
func (s *Service) placeWith(ctx context.Context, b *Booking, doctorID uuid.UUID, w matching.Window, status Status) (bool, error) {
	placed := false
	err := s.slots.Serialize(ctx, doctorID, func(ctx context.Context) error {
		slot, err := s.capacity(ctx, doctorID, b.Date, w, uuid.Nil)
		if err != nil || slot == nil {
			return err
		}
		id, slotID := doctorID, slot.ID
		b.DoctorID, b.SlotID, b.Status = &id, &slotID, status
		if err := s.repo.Create(ctx, b); err != nil {
			b.DoctorID, b.SlotID = nil, nil
			return apperr.Storage(err)
		}
		placed = true
		return nil
	})
	return placed, err
}

// assign runs the booking assignment policy and persists b:
//
//  1. named doctor with a window: that doctor must have capacity, else the
//     request is rejected and nothing is written;
//  2. no doctor with a window: the first doctor in roster order offering
//     the service and having capacity wins;
//  3. otherwise the booking is stored unassigned and pending.
//
// A named doctor without a window is assigned without a capacity check.
func (s *Service) assign(ctx context.Context, b *Booking, keys matching.ServiceKeys) (Outcome, error) {
	w, hasWindow := b.Window()

	if b.DoctorID != nil {
		doctorID := *b.DoctorID
		if _, err := s.doctors.GetDoctor(ctx, doctorID); err != nil {
			return OutcomeRejected, err
		}
		if !hasWindow {
			b.Status = s.policy.For(OutcomeExplicit)
			return OutcomeExplicit, apperr.Storage(s.repo.Create(ctx, b))
		}
		ok, err := s.placeWith(ctx, b, doctorID, w, s.policy.For(OutcomeExplicit))
		if err != nil {
			return OutcomeRejected, err
		}
		if !ok {
			return OutcomeRejected, noCapacity(b.Date, w)
		}
		return OutcomeExplicit, nil
	}

	if hasWindow {
		roster, err := s.doctors.Roster(ctx)
		if err != nil {
			return OutcomeRejected, err
		}
		for _, d := range matching.DoctorsOffering(keys, roster) {
			ok, err := s.placeWith(ctx, b, d.ID, w, s.policy.For(OutcomeAuto))
			if err != nil {
				return OutcomeRejected, err
			}
			if ok {
				return OutcomeAuto, nil
			}
		}
	}

	b.Status = s.policy.For(OutcomeUnassigned)
	return OutcomeUnassigned, apperr.Storage(s.repo.Create(ctx, b))
}
