package booking

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicbook/clinic/internal/domain/account"
	"github.com/clinicbook/clinic/internal/domain/availability"
	"github.com/clinicbook/clinic/internal/domain/catalog"
	"github.com/clinicbook/clinic/internal/matching"
	"github.com/clinicbook/clinic/internal/platform/apperr"
	"github.com/clinicbook/clinic/internal/platform/auth"
	"github.com/clinicbook/clinic/internal/platform/metrics"
)

// Slots is the part of availability the assignment policy needs.
type Slots interface {
	Serialize(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error
	FindCovering(ctx context.Context, doctorID uuid.UUID, date string, w matching.Window) (*availability.Slot, error)
}

type Doctors interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*account.Account, error)
	Roster(ctx context.Context) ([]*account.Account, error)
	RecordCompletion(ctx context.Context, doctorID uuid.UUID, rating *float64) (*account.Account, error)
}

type ServiceKeys interface {
	KeysFor(ctx context.Context, ref matching.ServiceRef) (matching.ServiceKeys, *catalog.Service, error)
}

type Service struct {
	repo    Repository
	slots   Slots
	doctors Doctors
	catalog ServiceKeys
	policy  StatusPolicy
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewService(repo Repository, slots Slots, doctors Doctors, cat ServiceKeys, policy StatusPolicy, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		slots:   slots,
		doctors: doctors,
		catalog: cat,
		policy:  policy,
		metrics: m,
		logger:  logger.With().Str("component", "booking").Logger(),
	}
}

// Request is a booking request as received from callers.
type Request struct {
	Service       string          `json:"service"`
	ServiceID     string          `json:"serviceId"`
	Date          string          `json:"date"`
	Time          string          `json:"time"`
	StartTime     string          `json:"startTime"`
	EndTime       string          `json:"endTime"`
	DoctorID      string          `json:"doctorId"`
	PatientID     string          `json:"patientId"`
	PatientEmail  string          `json:"patientEmail"`
	PatientName   string          `json:"patientName"`
	PatientPhone  string          `json:"patientPhone"`
	PaymentMethod string          `json:"paymentMethod"`
	Amount        decimal.Decimal `json:"amount"`
}

func optionalID(raw, field string) (*uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Validation("invalid %s", field)
	}
	return &id, nil
}

func validDate(date string) error {
	if _, err := matching.ParseDate(date); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	return nil
}

// setWindow validates and stores a start/end pair. Both or neither must be
// given.
func setWindow(b *Booking, start, end string) error {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" && end == "" {
		b.StartTime, b.EndTime = "", ""
		return nil
	}
	if start == "" || end == "" {
		return apperr.Validation("startTime and endTime must be given together")
	}
	w, err := matching.NewWindow(start, end)
	if err != nil {
		return apperr.Validation("%s", err.Error())
	}
	b.StartTime, b.EndTime = w.Start.String(), w.End.String()
	return nil
}

func (r Request) booking() (*Booking, error) {
	service := strings.TrimSpace(r.Service)
	if service == "" {
		service = strings.TrimSpace(r.ServiceID)
	}
	date := strings.TrimSpace(r.Date)
	if service == "" || date == "" || strings.TrimSpace(r.Time) == "" {
		return nil, apperr.Validation("service, date, and time are required")
	}
	if err := validDate(date); err != nil {
		return nil, err
	}
	t, err := matching.NormalizeClock(r.Time)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	if r.Amount.IsNegative() {
		return nil, apperr.Validation("amount must not be negative")
	}

	b := &Booking{
		Service:       service,
		Date:          date,
		Time:          t,
		PatientEmail:  strings.TrimSpace(r.PatientEmail),
		PatientName:   strings.TrimSpace(r.PatientName),
		PatientPhone:  strings.TrimSpace(r.PatientPhone),
		PaymentMethod: strings.TrimSpace(r.PaymentMethod),
		Amount:        r.Amount,
	}
	if err := setWindow(b, r.StartTime, r.EndTime); err != nil {
		return nil, err
	}
	if b.DoctorID, err = optionalID(r.DoctorID, "doctorId"); err != nil {
		return nil, err
	}
	if b.PatientID, err = optionalID(r.PatientID, "patientId"); err != nil {
		return nil, err
	}
	return b, nil
}

// Create validates the request and places it through the assignment
// policy. An unassigned booking is a successful outcome.
func (s *Service) Create(ctx context.Context, req Request) (*Booking, error) {
	b, err := req.booking()
	if err != nil {
		return nil, err
	}

	keys, svc, err := s.catalog.KeysFor(ctx, b.ServiceRef())
	if err != nil {
		return nil, err
	}
	if svc != nil {
		id := svc.ID
		b.ServiceID = &id
	}

	outcome, err := s.assign(ctx, b, keys)
	if err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			s.metrics.BookingOutcome(string(OutcomeRejected))
			s.logger.Info().Str("service", b.Service).Str("date", b.Date).Err(err).Msg("booking rejected")
		}
		return nil, err
	}
	s.metrics.BookingOutcome(string(outcome))

	ev := s.logger.Info().
		Str("booking_id", b.ID.String()).
		Str("service", b.Service).
		Str("outcome", string(outcome)).
		Str("status", string(b.Status))
	if b.DoctorID != nil {
		ev = ev.Str("doctor_id", b.DoctorID.String())
	}
	ev.Msg("booking created")
	return b, nil
}

// offers reports whether the doctor offers the booking's service.
func (s *Service) offers(ctx context.Context, doctorID uuid.UUID, b *Booking) (bool, error) {
	d, err := s.doctors.GetDoctor(ctx, doctorID)
	if err != nil {
		return false, err
	}
	keys, _, err := s.catalog.KeysFor(ctx, b.ServiceRef())
	if err != nil {
		return false, err
	}
	return matching.Offers(d, keys), nil
}

func (s *Service) canView(ctx context.Context, actor auth.Principal, b *Booking) (bool, error) {
	switch {
	case actor.Role.Can(auth.CapViewAllBookings):
		return true, nil
	case actor.Role == auth.RolePatient:
		return b.PatientID != nil && *b.PatientID == actor.ID, nil
	case actor.Role == auth.RoleDoctor:
		if b.AssignedTo(actor.ID) {
			return true, nil
		}
		if b.DoctorID == nil {
			return s.offers(ctx, actor.ID, b)
		}
	}
	return false, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Booking, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	ok, err := s.canView(ctx, actor, b)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Forbidden("not allowed to access this booking")
	}
	return b, nil
}

// Query holds the list filters accepted by the API.
type Query struct {
	PatientID string
	DoctorID  string
	Service   string
	Status    string
	Date      string
}

// List applies q under the caller's visibility: patients see their own
// bookings, doctors their assigned bookings plus unassigned ones they
// could claim, admins everything.
func (s *Service) List(ctx context.Context, actor auth.Principal, q Query) ([]*Booking, error) {
	var f Filter
	if q.Status != "" {
		st, ok := ParseStatus(q.Status)
		if !ok {
			return nil, apperr.Validation("invalid status %q", q.Status)
		}
		f.Status = st
	}
	if q.Date != "" {
		if err := validDate(q.Date); err != nil {
			return nil, err
		}
		f.Date = q.Date
	}
	patientID, err := optionalID(q.PatientID, "patientId")
	if err != nil {
		return nil, err
	}
	doctorID, err := optionalID(q.DoctorID, "doctorId")
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case auth.RolePatient:
		if patientID != nil && *patientID != actor.ID {
			return nil, apperr.Forbidden("patients may only list their own bookings")
		}
		id := actor.ID
		patientID, doctorID = &id, nil
	case auth.RoleDoctor:
		if doctorID != nil && *doctorID != actor.ID {
			return nil, apperr.Forbidden("doctors may only list their own bookings")
		}
		id := actor.ID
		doctorID = &id
	case auth.RoleAdmin:
	default:
		return nil, apperr.Unauthorized("authentication required")
	}

	var list []*Booking
	switch {
	case doctorID != nil:
		list, err = s.forDoctor(ctx, *doctorID, f)
		if err == nil && patientID != nil {
			list = keep(list, func(b *Booking) bool { return b.PatientID != nil && *b.PatientID == *patientID })
		}
	default:
		f.PatientID = patientID
		list, err = s.repo.List(ctx, f)
		err = apperr.Storage(err)
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(q.Service) != "" {
		keys, _, err := s.catalog.KeysFor(ctx, matching.ParseServiceRef(q.Service))
		if err != nil {
			return nil, err
		}
		list = keep(list, func(b *Booking) bool { return keys.Matches(b.ServiceRef()) })
	}
	return list, nil
}

func keep(list []*Booking, fn func(*Booking) bool) []*Booking {
	out := list[:0]
	for _, b := range list {
		if fn(b) {
			out = append(out, b)
		}
	}
	return out
}

// forDoctor returns the doctor's bookings and the unassigned bookings for
// services the doctor offers, newest first.
func (s *Service) forDoctor(ctx context.Context, doctorID uuid.UUID, f Filter) ([]*Booking, error) {
	d, err := s.doctors.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	f.DoctorID = &doctorID
	assigned, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	f.DoctorID, f.Unassigned = nil, true
	open, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, apperr.Storage(err)
	}

	offered := make(map[string]bool)
	for _, b := range open {
		ref := b.ServiceRef()
		key := "ref:" + matching.Normalize(ref.Label())
		if b.ServiceID != nil {
			key = "id:" + b.ServiceID.String()
		}
		ok, seen := offered[key]
		if !seen {
			keys, _, err := s.catalog.KeysFor(ctx, ref)
			if err != nil {
				return nil, err
			}
			ok = matching.Offers(d, keys)
			offered[key] = ok
		}
		if ok {
			assigned = append(assigned, b)
		}
	}
	sort.SliceStable(assigned, func(i, j int) bool {
		return assigned[i].CreatedAt.After(assigned[j].CreatedAt)
	})
	return assigned, nil
}

// Patch is a partial booking update.
type Patch struct {
	Date          *string          `json:"date"`
	Time          *string          `json:"time"`
	StartTime     *string          `json:"startTime"`
	EndTime       *string          `json:"endTime"`
	Status        *string          `json:"status"`
	DoctorID      *string          `json:"doctorId"`
	PatientEmail  *string          `json:"patientEmail"`
	PatientName   *string          `json:"patientName"`
	PatientPhone  *string          `json:"patientPhone"`
	PaymentMethod *string          `json:"paymentMethod"`
	Amount        *decimal.Decimal `json:"amount"`
	Rating        *float64         `json:"rating"`
	Notes         *string          `json:"notes"`
}

func (p Patch) target() (Status, error) {
	if p.Status == nil {
		return "", nil
	}
	st, ok := ParseStatus(*p.Status)
	if !ok {
		return "", apperr.Validation("invalid status %q", *p.Status)
	}
	return st, nil
}

func (p Patch) reschedules() bool {
	return p.Date != nil || p.Time != nil || p.StartTime != nil || p.EndTime != nil
}

func (p Patch) apply(b *Booking) error {
	if p.Date != nil {
		date := strings.TrimSpace(*p.Date)
		if err := validDate(date); err != nil {
			return err
		}
		b.Date = date
	}
	if p.Time != nil {
		t, err := matching.NormalizeClock(*p.Time)
		if err != nil {
			return apperr.Validation("%s", err.Error())
		}
		b.Time = t
	}
	if p.StartTime != nil || p.EndTime != nil {
		start, end := b.StartTime, b.EndTime
		if p.StartTime != nil {
			start = *p.StartTime
		}
		if p.EndTime != nil {
			end = *p.EndTime
		}
		if err := setWindow(b, start, end); err != nil {
			return err
		}
	}
	if p.DoctorID != nil {
		id, err := optionalID(*p.DoctorID, "doctorId")
		if err != nil {
			return err
		}
		if id == nil {
			b.SlotID = nil
		}
		b.DoctorID = id
	}
	if p.Amount != nil {
		if p.Amount.IsNegative() {
			return apperr.Validation("amount must not be negative")
		}
		b.Amount = *p.Amount
	}
	for _, f := range []struct {
		src *string
		dst *string
	}{
		{p.PatientEmail, &b.PatientEmail},
		{p.PatientName, &b.PatientName},
		{p.PatientPhone, &b.PatientPhone},
		{p.PaymentMethod, &b.PaymentMethod},
	} {
		if f.src != nil {
			*f.dst = strings.TrimSpace(*f.src)
		}
	}
	return nil
}

func (s *Service) authorizeChange(actor auth.Principal, b *Booking, p Patch, target Status) error {
	switch actor.Role {
	case auth.RoleAdmin:
		return nil
	case auth.RolePatient:
		if p.DoctorID != nil || p.Rating != nil || p.Notes != nil || p.Amount != nil {
			return apperr.Forbidden("patients may only reschedule or cancel")
		}
		if target != "" && target != StatusCancelled && target != b.Status {
			return apperr.Forbidden("patients may only reschedule or cancel")
		}
		return nil
	case auth.RoleDoctor:
		if p.DoctorID != nil && strings.TrimSpace(*p.DoctorID) != actor.ID.String() {
			return apperr.Forbidden("doctors may only assign bookings to themselves")
		}
		if b.DoctorID == nil && !actor.Role.Can(auth.CapClaimBooking) {
			return apperr.Forbidden("insufficient permissions")
		}
		if target == StatusCompleted && !actor.Role.Can(auth.CapCompleteBooking) {
			return apperr.Forbidden("insufficient permissions")
		}
		return nil
	}
	return apperr.Unauthorized("authentication required")
}

// placementChanged reports whether next asks for capacity that b did not
// already hold.
func placementChanged(b, next *Booking) bool {
	if !next.Status.Active() {
		return false
	}
	sameDoctor := b.DoctorID != nil && next.DoctorID != nil && *b.DoctorID == *next.DoctorID
	return !sameDoctor || b.Date != next.Date || b.StartTime != next.StartTime ||
		b.EndTime != next.EndTime || !b.Status.Active()
}

// Update applies a patch under the status rules. Completing a booking
// writes its completion log and updates the doctor's rating exactly once;
// completing it again returns it unchanged.
func (s *Service) Update(ctx context.Context, actor auth.Principal, id uuid.UUID, p Patch) (*Booking, error) {
	b, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	target, err := p.target()
	if err != nil {
		return nil, err
	}
	if p.Rating != nil && (*p.Rating < 1 || *p.Rating > 5) {
		return nil, apperr.Validation("rating must be between 1 and 5")
	}
	if b.Status == StatusCompleted {
		if target == StatusCompleted && !p.reschedules() && p.DoctorID == nil {
			return b, nil
		}
		return nil, ErrCompletedFinal
	}
	if err := s.authorizeChange(actor, b, p, target); err != nil {
		return nil, err
	}

	next := *b
	if err := p.apply(&next); err != nil {
		return nil, err
	}
	if actor.Role == auth.RoleDoctor && next.DoctorID == nil {
		claim := actor.ID
		next.DoctorID = &claim
	}
	if target != "" {
		if !CanTransition(b.Status, target) {
			return nil, apperr.Conflict("cannot move booking from %s to %s", b.Status, target)
		}
		next.Status = target
	}
	if next.Status == StatusCompleted && next.DoctorID == nil {
		return nil, ErrNoDoctor
	}

	if next.DoctorID == nil {
		if err := s.repo.Update(ctx, &next); err != nil {
			return nil, apperr.Storage(err)
		}
		return &next, nil
	}
	if b.DoctorID == nil || *b.DoctorID != *next.DoctorID {
		if _, err := s.doctors.GetDoctor(ctx, *next.DoctorID); err != nil {
			return nil, err
		}
	}

	out := &next
	err = s.slots.Serialize(ctx, *next.DoctorID, func(ctx context.Context) error {
		cur, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return apperr.Storage(err)
		}
		if cur.Status == StatusCompleted {
			if next.Status == StatusCompleted {
				out = cur
				return nil
			}
			return ErrCompletedFinal
		}

		if w, ok := next.Window(); ok && placementChanged(b, &next) {
			slot, err := s.capacity(ctx, *next.DoctorID, next.Date, w, next.ID)
			if err != nil {
				return err
			}
			if slot == nil {
				return noCapacity(next.Date, w)
			}
			slotID := slot.ID
			next.SlotID = &slotID
		}

		if next.Status == StatusCompleted {
			notes := ""
			if p.Notes != nil {
				notes = strings.TrimSpace(*p.Notes)
			}
			return s.complete(ctx, actor, &next, p.Rating, notes)
		}
		return apperr.Storage(s.repo.Update(ctx, &next))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// complete records the completion log, folds the rating into the doctor
// and stores the completed booking. A log whose counters were already
// applied is not counted again; one left behind by a failed attempt is.
func (s *Service) complete(ctx context.Context, actor auth.Principal, b *Booking, rating *float64, notes string) error {
	now := time.Now().UTC()
	by := actor.ID
	b.Status, b.CompletedAt, b.CompletedBy = StatusCompleted, &now, &by

	log, err := s.repo.GetLogByBooking(ctx, b.ID)
	switch {
	case errors.Is(err, ErrLogNotFound):
		log = &CompletionLog{
			BookingID:       b.ID,
			DoctorID:        *b.DoctorID,
			PatientID:       b.PatientID,
			PatientName:     b.PatientName,
			Service:         b.Service,
			AppointmentDate: b.Date,
			Notes:           notes,
			Rating:          rating,
			CompletedAt:     now,
		}
		if err := s.repo.CreateLog(ctx, log); err != nil {
			return apperr.Storage(err)
		}
	case err != nil:
		return apperr.Storage(err)
	}

	if !log.CountersApplied {
		if _, err := s.doctors.RecordCompletion(ctx, log.DoctorID, log.Rating); err != nil {
			return err
		}
		if err := s.repo.MarkCountersApplied(ctx, log.ID); err != nil {
			return apperr.Storage(err)
		}
		log.CountersApplied = true
		s.metrics.Completion(log.Rating != nil)
	}
	if err := s.repo.Update(ctx, b); err != nil {
		return apperr.Storage(err)
	}

	s.logger.Info().
		Str("booking_id", b.ID.String()).
		Str("doctor_id", log.DoctorID.String()).
		Bool("rated", log.Rating != nil).
		Msg("booking completed")
	return nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return apperr.Storage(s.repo.Delete(ctx, id))
}

// Stats reports the doctor's running completion counters alongside the
// most recent completion logs.
func (s *Service) Stats(ctx context.Context, doctorID uuid.UUID) (*Stats, error) {
	d, err := s.doctors.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	logs, err := s.repo.ListLogsByDoctor(ctx, doctorID)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	if len(logs) > RecentLimit {
		logs = logs[:RecentLimit]
	}
	if logs == nil {
		logs = []*CompletionLog{}
	}
	return &Stats{
		TotalCompleted:    d.CompletedAppointments,
		AvgRating:         d.AvgRating,
		RecentCompletions: logs,
	}, nil
}

// Completions lists completion logs for one patient or one doctor under
// the caller's visibility.
func (s *Service) Completions(ctx context.Context, actor auth.Principal, patientID, doctorID string) ([]*CompletionLog, error) {
	pid, err := optionalID(patientID, "patientId")
	if err != nil {
		return nil, err
	}
	did, err := optionalID(doctorID, "doctorId")
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case auth.RolePatient:
		if (pid != nil && *pid != actor.ID) || did != nil {
			return nil, apperr.Forbidden("patients may only view their own history")
		}
		pid = &actor.ID
	case auth.RoleDoctor:
		if (did != nil && *did != actor.ID) || pid != nil {
			return nil, apperr.Forbidden("doctors may only view their own history")
		}
		did = &actor.ID
	case auth.RoleAdmin:
		if pid == nil && did == nil {
			return nil, apperr.Validation("patientId or doctorId is required")
		}
	default:
		return nil, apperr.Unauthorized("authentication required")
	}

	var logs []*CompletionLog
	if did != nil {
		logs, err = s.repo.ListLogsByDoctor(ctx, *did)
	} else {
		logs, err = s.repo.ListLogsByPatient(ctx, *pid)
	}
	return logs, apperr.Storage(err)
}
