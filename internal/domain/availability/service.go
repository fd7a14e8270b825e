package availability

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicbook/clinic/internal/domain/account"
	"github.com/clinicbook/clinic/internal/domain/catalog"
	"github.com/clinicbook/clinic/internal/matching"
	"github.com/clinicbook/clinic/internal/platform/apperr"
	"github.com/clinicbook/clinic/internal/platform/auth"
	"github.com/clinicbook/clinic/internal/platform/db"
	"github.com/clinicbook/clinic/internal/platform/keylock"
	"github.com/clinicbook/clinic/internal/platform/metrics"
)

// Doctors is the slice of the account service availability reads.
type Doctors interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*account.Account, error)
	Roster(ctx context.Context) ([]*account.Account, error)
}

type ServiceKeys interface {
	KeysFor(ctx context.Context, ref matching.ServiceRef) (matching.ServiceKeys, *catalog.Service, error)
}

// BookedWindows reports the windows already taken by active bookings.
type BookedWindows interface {
	BookedWindows(ctx context.Context, doctorID uuid.UUID, date string) ([]matching.Window, error)
}

// TxRunner is satisfied by db.TxRunner and mongostore.Passthrough.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo    Repository
	doctors Doctors
	catalog ServiceKeys
	booked  BookedWindows
	tx      TxRunner
	locks   *keylock.Map
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewService(repo Repository, doctors Doctors, cat ServiceKeys, tx TxRunner, locks *keylock.Map, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		doctors: doctors,
		catalog: cat,
		tx:      tx,
		locks:   locks,
		metrics: m,
		logger:  logger.With().Str("component", "availability").Logger(),
	}
}

// SetBookedWindows attaches the booking store once it exists.
func (s *Service) SetBookedWindows(b BookedWindows) {
	s.booked = b
}

// Serialize runs fn holding the doctor's lock, inside one store
// transaction that also holds the matching advisory lock on Postgres.
// fn must not call Serialize for the same doctor again.
func (s *Service) Serialize(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	key := account.DoctorLockKey(doctorID)
	unlock, err := s.locks.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := db.LockKey(ctx, key); err != nil {
			return apperr.Storage(err)
		}
		return fn(ctx)
	})
}

func validDate(date string) (string, error) {
	date = strings.TrimSpace(date)
	if _, err := matching.ParseDate(date); err != nil {
		return "", apperr.Validation("%s", err.Error())
	}
	return date, nil
}

func parseWindows(in []WindowInput) ([]matching.Window, error) {
	ws := make([]matching.Window, 0, len(in))
	for _, w := range in {
		win, err := matching.NewWindow(w.Start, w.End)
		if err != nil {
			return nil, apperr.Validation("%s", err.Error())
		}
		ws = append(ws, win)
	}
	return ws, nil
}

func authorize(actor auth.Principal, doctorID uuid.UUID) error {
	if actor.Role == auth.RoleAdmin || (actor.Role == auth.RoleDoctor && actor.ID == doctorID) {
		return nil
	}
	return apperr.Forbidden("slot belongs to another doctor")
}

// conflictWith returns the 409 for the first existing slot overlapping w.
func (s *Service) conflictWith(existing []matching.Window, w matching.Window) error {
	i := matching.FirstConflict(existing, w)
	if i < 0 {
		return nil
	}
	s.metrics.SlotConflict()
	return apperr.Conflict("Conflict: %s overlaps with existing %s", w, existing[i])
}

// CreateSlots adds windows to the doctor's day. The batch must not overlap
// itself (400) nor any slot already stored for that date (409).
func (s *Service) CreateSlots(ctx context.Context, doctorID uuid.UUID, date string, in []WindowInput) ([]*Slot, error) {
	if strings.TrimSpace(date) == "" || len(in) == 0 {
		return nil, apperr.Validation("date and slots array required")
	}
	date, err := validDate(date)
	if err != nil {
		return nil, err
	}
	batch, err := parseWindows(in)
	if err != nil {
		return nil, err
	}
	if i, j := matching.InternalConflict(batch); i >= 0 {
		return nil, apperr.Validation("slots %s and %s overlap", batch[i], batch[j])
	}
	if _, err := s.doctors.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	slots := make([]*Slot, 0, len(batch))
	for _, w := range batch {
		slots = append(slots, &Slot{DoctorID: doctorID, Date: date, Start: w.Start.String(), End: w.End.String()})
	}

	err = s.Serialize(ctx, doctorID, func(ctx context.Context) error {
		current, err := s.repo.ListByDoctorDate(ctx, doctorID, date)
		if err != nil {
			return apperr.Storage(err)
		}
		existing, _ := windows(current)
		for _, w := range batch {
			if err := s.conflictWith(existing, w); err != nil {
				return err
			}
		}
		return apperr.Storage(s.repo.CreateMany(ctx, slots))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("doctor_id", doctorID.String()).Str("date", date).Int("slots", len(slots)).Msg("slots created")
	return slots, nil
}

// SlotPatch carries the fields of a partial slot update.
type SlotPatch struct {
	Date  *string `json:"date"`
	Start *string `json:"start"`
	End   *string `json:"end"`
}

func (s *Service) owned(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Slot, error) {
	slot, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	if err := authorize(actor, slot.DoctorID); err != nil {
		return nil, err
	}
	return slot, nil
}

// UpdateSlot moves a slot, re-checking conflicts against the doctor's
// other slots on the target date.
func (s *Service) UpdateSlot(ctx context.Context, actor auth.Principal, id uuid.UUID, p SlotPatch) (*Slot, error) {
	slot, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	err = s.Serialize(ctx, slot.DoctorID, func(ctx context.Context) error {
		cur, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return apperr.Storage(err)
		}
		next := *cur
		if p.Date != nil {
			if next.Date, err = validDate(*p.Date); err != nil {
				return err
			}
		}
		if p.Start != nil {
			next.Start = *p.Start
		}
		if p.End != nil {
			next.End = *p.End
		}
		w, err := matching.NewWindow(next.Start, next.End)
		if err != nil {
			return apperr.Validation("%s", err.Error())
		}
		next.Start, next.End = w.Start.String(), w.End.String()

		sameDay, err := s.repo.ListByDoctorDate(ctx, next.DoctorID, next.Date)
		if err != nil {
			return apperr.Storage(err)
		}
		others := make([]*Slot, 0, len(sameDay))
		for _, o := range sameDay {
			if o.ID != id {
				others = append(others, o)
			}
		}
		existing, _ := windows(others)
		if err := s.conflictWith(existing, w); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, &next); err != nil {
			return apperr.Storage(err)
		}
		slot = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

func (s *Service) DeleteSlot(ctx context.Context, actor auth.Principal, id uuid.UUID) error {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return err
	}
	return apperr.Storage(s.repo.Delete(ctx, id))
}

// DeleteByDate clears the doctor's day and reports how many slots went.
func (s *Service) DeleteByDate(ctx context.Context, doctorID uuid.UUID, date string) (int, error) {
	if strings.TrimSpace(date) == "" {
		return 0, apperr.Validation("date is required")
	}
	date, err := validDate(date)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.DeleteByDate(ctx, doctorID, date)
	return n, apperr.Storage(err)
}

// DeleteByDoctor drops all of a doctor's slots. Used when the doctor
// account is removed.
func (s *Service) DeleteByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error) {
	n, err := s.repo.DeleteByDoctor(ctx, doctorID)
	return n, apperr.Storage(err)
}

func (s *Service) List(ctx context.Context, doctorID uuid.UUID) ([]*Slot, error) {
	list, err := s.repo.ListByDoctor(ctx, doctorID)
	return list, apperr.Storage(err)
}

func (s *Service) ListByDate(ctx context.Context, doctorID uuid.UUID, date string) ([]*Slot, error) {
	date, err := validDate(date)
	if err != nil {
		return nil, err
	}
	return s.SlotsFor(ctx, doctorID, date)
}

// SlotsFor returns the doctor's slots on an already validated date.
func (s *Service) SlotsFor(ctx context.Context, doctorID uuid.UUID, date string) ([]*Slot, error) {
	list, err := s.repo.ListByDoctorDate(ctx, doctorID, date)
	return list, apperr.Storage(err)
}

// ListForService returns the slots of every doctor offering service,
// optionally narrowed to one date.
func (s *Service) ListForService(ctx context.Context, service, date string) ([]*Slot, error) {
	if date != "" {
		var err error
		if date, err = validDate(date); err != nil {
			return nil, err
		}
	}
	offering, err := s.offering(ctx, service)
	if err != nil {
		return nil, err
	}
	var out []*Slot
	for _, d := range offering {
		var list []*Slot
		if date != "" {
			list, err = s.SlotsFor(ctx, d.ID, date)
		} else {
			list, err = s.List(ctx, d.ID)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, list...)
	}
	return out, nil
}

func (s *Service) offering(ctx context.Context, service string) ([]*account.Account, error) {
	if strings.TrimSpace(service) == "" {
		return nil, apperr.Validation("service is required")
	}
	keys, _, err := s.catalog.KeysFor(ctx, matching.ParseServiceRef(service))
	if err != nil {
		return nil, err
	}
	roster, err := s.doctors.Roster(ctx)
	if err != nil {
		return nil, err
	}
	return matching.DoctorsOffering(keys, roster), nil
}

// FindCovering returns the first of the doctor's slots on date that fully
// contains w, or nil.
func (s *Service) FindCovering(ctx context.Context, doctorID uuid.UUID, date string, w matching.Window) (*Slot, error) {
	list, err := s.SlotsFor(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	ws, kept := windows(list)
	for i, sw := range ws {
		if matching.Covers(sw, w) {
			return kept[i], nil
		}
	}
	return nil, nil
}

// AvailableDoctors lists, in roster order, the doctors offering service
// who have a slot covering the window and no active booking overlapping
// it.
func (s *Service) AvailableDoctors(ctx context.Context, service, date, start, end string) ([]*account.Account, error) {
	if strings.TrimSpace(date) == "" || strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
		return nil, apperr.Validation("service, date, startTime and endTime are required")
	}
	date, err := validDate(date)
	if err != nil {
		return nil, err
	}
	w, err := matching.NewWindow(start, end)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	offering, err := s.offering(ctx, service)
	if err != nil {
		return nil, err
	}

	var out []*account.Account
	for _, d := range offering {
		slot, err := s.FindCovering(ctx, d.ID, date, w)
		if err != nil {
			return nil, err
		}
		if slot == nil {
			continue
		}
		if s.booked != nil {
			taken, err := s.booked.BookedWindows(ctx, d.ID, date)
			if err != nil {
				return nil, apperr.Storage(err)
			}
			if matching.Conflicts(taken, w) {
				continue
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// PruneOrphans deletes slots whose doctor no longer exists.
func (s *Service) PruneOrphans(ctx context.Context) (int, error) {
	roster, err := s.doctors.Roster(ctx)
	if err != nil {
		return 0, err
	}
	keep := make([]uuid.UUID, 0, len(roster))
	for _, d := range roster {
		keep = append(keep, d.ID)
	}
	n, err := s.repo.DeleteOrphans(ctx, keep)
	if err != nil {
		return 0, apperr.Storage(err)
	}
	s.logger.Info().Int("deleted", n).Int("doctors", len(keep)).Msg("orphaned slots pruned")
	return n, nil
}

// SeedReport summarizes a Seed run.
type SeedReport struct {
	Doctors int `json:"doctors"`
	Days    int `json:"days"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// Seed gives every doctor the default weekday windows for the days
// starting at from. Windows clashing with existing slots are skipped.
func (s *Service) Seed(ctx context.Context, from time.Time, days int) (SeedReport, error) {
	var rep SeedReport
	if days <= 0 {
		return rep, apperr.Validation("days must be positive")
	}
	roster, err := s.doctors.Roster(ctx)
	if err != nil {
		return rep, err
	}
	defaults, _ := parseWindows(DefaultSeedWindows)

	rep.Doctors = len(roster)
	for i := 0; i < days; i++ {
		day := from.AddDate(0, 0, i)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		rep.Days++
		date := day.Format(matching.DateLayout)
		for _, d := range roster {
			err := s.Serialize(ctx, d.ID, func(ctx context.Context) error {
				current, err := s.repo.ListByDoctorDate(ctx, d.ID, date)
				if err != nil {
					return apperr.Storage(err)
				}
				existing, _ := windows(current)
				var fresh []*Slot
				for _, w := range defaults {
					if matching.Conflicts(existing, w) {
						rep.Skipped++
						continue
					}
					fresh = append(fresh, &Slot{DoctorID: d.ID, Date: date, Start: w.Start.String(), End: w.End.String()})
				}
				if err := s.repo.CreateMany(ctx, fresh); err != nil {
					return apperr.Storage(err)
				}
				rep.Created += len(fresh)
				return nil
			})
			if err != nil {
				return rep, err
			}
		}
	}
	s.logger.Info().Int("created", rep.Created).Int("skipped", rep.Skipped).Msg("availability seeded")
	return rep, nil
}
