package account

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicbook/clinic/internal/domain/catalog"
	"github.com/clinicbook/clinic/internal/matching"
	"github.com/clinicbook/clinic/internal/platform/apperr"
	"github.com/clinicbook/clinic/internal/platform/auth"
	"github.com/clinicbook/clinic/internal/platform/keylock"
)

// Catalog is the part of the service catalog accounts depend on.
type Catalog interface {
	Resolve(ctx context.Context, ref matching.ServiceRef) (*catalog.Service, error)
	KeysFor(ctx context.Context, ref matching.ServiceRef) (matching.ServiceKeys, *catalog.Service, error)
	EnsureByTitle(ctx context.Context, title string) (*catalog.Service, error)
}

// SlotCleaner removes a deleted doctor's availability.
type SlotCleaner interface {
	DeleteByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error)
}

type Service struct {
	repo    Repository
	catalog Catalog
	hasher  *auth.PasswordHasher
	tokens  *auth.TokenIssuer
	locks   *keylock.Map
	slots   SlotCleaner
	logger  zerolog.Logger

	adminKey string
}

func NewService(repo Repository, cat Catalog, hasher *auth.PasswordHasher, tokens *auth.TokenIssuer, locks *keylock.Map, adminKey string, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		catalog:  cat,
		hasher:   hasher,
		tokens:   tokens,
		locks:    locks,
		adminKey: adminKey,
		logger:   logger.With().Str("component", "account").Logger(),
	}
}

// SetSlotCleaner wires availability cleanup on doctor deletion. Availability
// depends on accounts, so it is attached after construction.
func (s *Service) SetSlotCleaner(c SlotCleaner) {
	s.slots = c
}

// DoctorLockKey names the per-doctor serialization point shared with
// availability and booking.
func DoctorLockKey(id uuid.UUID) string {
	return "doctor:" + id.String()
}

// AuthResult is returned by signup and login.
type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      *Account  `json:"user"`
}

type SignupInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
	AdminKey string `json:"adminKey"`
}

// Profile carries the fields shared by doctor and patient writes.
type Profile struct {
	Email          string                `json:"email"`
	Password       string                `json:"password"`
	Name           string                `json:"name"`
	Phone          string                `json:"phone"`
	Services       []matching.ServiceRef `json:"services"`
	Specialization string                `json:"specialization"`
	Experience     int                   `json:"experience"`
	Qualification  string                `json:"qualification"`
	AdminKey       string                `json:"adminKey,omitempty"`
}

// Patch is a partial profile update; nil fields are left unchanged.
type Patch struct {
	Email          *string                `json:"email"`
	Password       *string                `json:"password"`
	Name           *string                `json:"name"`
	Phone          *string                `json:"phone"`
	Services       *[]matching.ServiceRef `json:"services"`
	Specialization *string                `json:"specialization"`
	Experience     *int                   `json:"experience"`
	Qualification  *string                `json:"qualification"`
}

// AdminKeyMatches reports whether key equals the configured admin key. An
// unset admin key matches nothing.
func (s *Service) AdminKeyMatches(key string) bool {
	if s.adminKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.adminKey), []byte(key)) == 1
}

func (s *Service) issue(a *Account) (*AuthResult, error) {
	token, exp, err := s.tokens.Issue(a.Principal())
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return &AuthResult{Token: token, ExpiresAt: exp, User: a}, nil
}

func (s *Service) newAccount(ctx context.Context, role auth.Role, p Profile) (*Account, error) {
	email := NormalizeEmail(p.Email)
	if email == "" || p.Password == "" {
		return nil, apperr.Validation("email and password required")
	}
	if !strings.Contains(email, "@") {
		return nil, apperr.Validation("email %q is not valid", p.Email)
	}
	if p.Experience < 0 {
		return nil, apperr.Validation("experience must not be negative")
	}
	hash, err := s.hasher.Hash(p.Password)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	a := &Account{
		Email:          email,
		Name:           strings.TrimSpace(p.Name),
		Phone:          strings.TrimSpace(p.Phone),
		PasswordHash:   hash,
		Role:           role,
		Services:       []matching.ServiceRef{},
		Specialization: strings.TrimSpace(p.Specialization),
		Experience:     p.Experience,
		Qualification:  strings.TrimSpace(p.Qualification),
	}
	if role == auth.RoleDoctor {
		a.Services, err = s.doctorServices(ctx, p.Services, a.Specialization)
		if err != nil {
			return nil, err
		}
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, apperr.Storage(err)
	}
	return a, nil
}

// doctorServices cleans a submitted services list and, when the doctor
// declares a specialization no entry covers, adds the catalog service for
// it (creating the service if needed).
func (s *Service) doctorServices(ctx context.Context, refs []matching.ServiceRef, specialization string) ([]matching.ServiceRef, error) {
	out := make([]matching.ServiceRef, 0, len(refs)+1)
	for _, r := range refs {
		if !r.IsZero() {
			out = append(out, r)
		}
	}
	if specialization == "" {
		return out, nil
	}
	svc, err := s.catalog.EnsureByTitle(ctx, specialization)
	if err != nil {
		return nil, err
	}
	keys := matching.NewServiceKeys(svc.Ref(), svc.Keys()...)
	if !keys.MatchesAny(out) {
		out = append(out, svc.Ref())
	}
	return out, nil
}

// Signup registers a patient. Doctor and admin accounts need the admin key.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	if NormalizeEmail(in.Email) == "" || in.Password == "" {
		return nil, apperr.Validation("email and password required")
	}
	role, ok := auth.ParseRole(in.Role)
	if !ok {
		return nil, apperr.Validation("role must be patient, doctor or admin")
	}
	if role != auth.RolePatient && !s.AdminKeyMatches(in.AdminKey) {
		return nil, ErrBadAdminKey
	}
	a, err := s.newAccount(ctx, role, Profile{
		Email:    in.Email,
		Password: in.Password,
		Name:     in.Name,
		Phone:    in.Phone,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("account_id", a.ID.String()).Str("role", string(role)).Msg("account registered")
	return s.issue(a)
}

func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Validation("email and password required")
	}
	a, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, apperr.Storage(err)
	}
	ok, err := s.hasher.Verify(a.PasswordHash, password)
	if err != nil {
		s.logger.Warn().Err(err).Str("account_id", a.ID.String()).Msg("stored password hash unreadable")
		return nil, ErrBadCredentials
	}
	if !ok {
		return nil, ErrBadCredentials
	}
	return s.issue(a)
}

func (s *Service) Me(ctx context.Context, id uuid.UUID) (*Account, error) {
	a, err := s.repo.GetByID(ctx, id)
	return a, apperr.Storage(err)
}

func (s *Service) getWithRole(ctx context.Context, id uuid.UUID, role auth.Role, missing error) (*Account, error) {
	a, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, missing
	}
	if err != nil {
		return nil, apperr.Storage(err)
	}
	if a.Role != role {
		return nil, missing
	}
	return a, nil
}

// -- Doctors --

func (s *Service) CreateDoctor(ctx context.Context, p Profile) (*Account, error) {
	a, err := s.newAccount(ctx, auth.RoleDoctor, p)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("doctor_id", a.ID.String()).Int("services", len(a.Services)).Msg("doctor created")
	return a, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.getWithRole(ctx, id, auth.RoleDoctor, ErrDoctorNotFound)
}

// Roster returns every doctor in roster order.
func (s *Service) Roster(ctx context.Context) ([]*Account, error) {
	list, err := s.repo.ListByRole(ctx, auth.RoleDoctor)
	return list, apperr.Storage(err)
}

// ListDoctors returns the roster, narrowed to doctors offering service when
// one is given.
func (s *Service) ListDoctors(ctx context.Context, service string) ([]*Account, error) {
	roster, err := s.Roster(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(service) == "" {
		return roster, nil
	}
	keys, _, err := s.catalog.KeysFor(ctx, matching.ParseServiceRef(service))
	if err != nil {
		return nil, err
	}
	return matching.DoctorsOffering(keys, roster), nil
}

func (s *Service) applyPatch(ctx context.Context, a *Account, p Patch) error {
	if p.Email != nil {
		email := NormalizeEmail(*p.Email)
		if email == "" || !strings.Contains(email, "@") {
			return apperr.Validation("email %q is not valid", *p.Email)
		}
		a.Email = email
	}
	if p.Password != nil {
		if *p.Password == "" {
			return apperr.Validation("password must not be empty")
		}
		hash, err := s.hasher.Hash(*p.Password)
		if err != nil {
			return apperr.Storage(err)
		}
		a.PasswordHash = hash
	}
	if p.Name != nil {
		a.Name = strings.TrimSpace(*p.Name)
	}
	if p.Phone != nil {
		a.Phone = strings.TrimSpace(*p.Phone)
	}
	if !a.IsDoctor() {
		return nil
	}
	if p.Experience != nil {
		if *p.Experience < 0 {
			return apperr.Validation("experience must not be negative")
		}
		a.Experience = *p.Experience
	}
	if p.Qualification != nil {
		a.Qualification = strings.TrimSpace(*p.Qualification)
	}
	services := a.Services
	if p.Services != nil {
		services = *p.Services
	}
	specChanged := p.Specialization != nil && strings.TrimSpace(*p.Specialization) != a.Specialization
	if p.Specialization != nil {
		a.Specialization = strings.TrimSpace(*p.Specialization)
	}
	if p.Services != nil || specChanged {
		var err error
		a.Services, err = s.doctorServices(ctx, services, a.Specialization)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) UpdateDoctor(ctx context.Context, id uuid.UUID, p Patch) (*Account, error) {
	unlock, err := s.locks.Lock(ctx, DoctorLockKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, err := s.GetDoctor(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.applyPatch(ctx, a, p); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, apperr.Storage(err)
	}
	return a, nil
}

// DeleteDoctor removes the doctor and their availability. Bookings keep
// the doctor id for history.
func (s *Service) DeleteDoctor(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetDoctor(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return apperr.Storage(err)
	}
	if s.slots != nil {
		n, err := s.slots.DeleteByDoctor(ctx, id)
		if err != nil {
			return apperr.Storage(err)
		}
		s.logger.Info().Str("doctor_id", id.String()).Int("slots_removed", n).Msg("doctor deleted")
	}
	return nil
}

// AddDoctorService attaches a catalog service to the doctor. Titles that
// name no service create one; unknown ids are rejected. Adding a service
// the doctor already offers is a no-op.
func (s *Service) AddDoctorService(ctx context.Context, doctorID uuid.UUID, ref matching.ServiceRef) (*Account, error) {
	if ref.IsZero() {
		return nil, apperr.Validation("service is required")
	}
	unlock, err := s.locks.Lock(ctx, DoctorLockKey(doctorID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, err := s.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	svc, err := s.catalog.Resolve(ctx, ref)
	switch {
	case errors.Is(err, catalog.ErrNotFound) && ref.Kind != matching.RefID:
		svc, err = s.catalog.EnsureByTitle(ctx, ref.Label())
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	if matching.NewServiceKeys(svc.Ref(), svc.Keys()...).MatchesAny(a.Services) {
		return a, nil
	}
	if err := s.repo.AddService(ctx, a.ID, svc.Ref()); err != nil {
		return nil, apperr.Storage(err)
	}
	a.Services = append(a.Services, svc.Ref())
	return a, nil
}

// RemoveDoctorService drops every entry of the doctor's services matching
// ref under the shared match rules.
func (s *Service) RemoveDoctorService(ctx context.Context, doctorID uuid.UUID, ref matching.ServiceRef) (*Account, error) {
	if ref.IsZero() {
		return nil, apperr.Validation("service is required")
	}
	unlock, err := s.locks.Lock(ctx, DoctorLockKey(doctorID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, err := s.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	keys, _, err := s.catalog.KeysFor(ctx, ref)
	if err != nil {
		return nil, err
	}

	kept := make([]matching.ServiceRef, 0, len(a.Services))
	for _, r := range a.Services {
		if !keys.Matches(r) {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(a.Services) {
		return nil, apperr.NotFound("doctor does not offer %q", ref.Label())
	}
	if err := s.repo.SetServices(ctx, a.ID, kept); err != nil {
		return nil, apperr.Storage(err)
	}
	a.Services = kept
	return a, nil
}

// RecordCompletion folds a finished appointment into the doctor's rating.
func (s *Service) RecordCompletion(ctx context.Context, doctorID uuid.UUID, rating *float64) (*Account, error) {
	a, err := s.repo.RecordCompletion(ctx, doctorID, rating)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrDoctorNotFound
	}
	return a, apperr.Storage(err)
}

// -- Patients --

func (s *Service) CreatePatient(ctx context.Context, p Profile) (*Account, error) {
	return s.newAccount(ctx, auth.RolePatient, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.getWithRole(ctx, id, auth.RolePatient, ErrPatientNotFound)
}

func (s *Service) ListPatients(ctx context.Context) ([]*Account, error) {
	list, err := s.repo.ListByRole(ctx, auth.RolePatient)
	return list, apperr.Storage(err)
}

func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, p Patch) (*Account, error) {
	a, err := s.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.applyPatch(ctx, a, p); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, apperr.Storage(err)
	}
	return a, nil
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetPatient(ctx, id); err != nil {
		return err
	}
	return apperr.Storage(s.repo.Delete(ctx, id))
}
