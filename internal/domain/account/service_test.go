package account

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicbook/clinic/internal/domain/catalog"
	"github.com/clinicbook/clinic/internal/matching"
	"github.com/clinicbook/clinic/internal/platform/apperr"
	"github.com/clinicbook/clinic/internal/platform/auth"
	"github.com/clinicbook/clinic/internal/platform/keylock"
)

// -- Mock Repository --

type mockRepo struct {
	accounts map[uuid.UUID]*Account
	seq      int
}

func newMockRepo() *mockRepo {
	return &mockRepo{accounts: make(map[uuid.UUID]*Account)}
}

func clone(a *Account) *Account {
	cp := *a
	cp.Services = append([]matching.ServiceRef{}, a.Services...)
	return &cp
}

func (m *mockRepo) Create(_ context.Context, a *Account) error {
	for _, existing := range m.accounts {
		if existing.Email == a.Email {
			return ErrEmailTaken
		}
	}
	m.seq++
	a.ID = uuid.New()
	a.CreatedAt = time.Date(2025, 1, 1, 0, 0, m.seq, 0, time.UTC)
	a.UpdatedAt = a.CreatedAt
	m.accounts[a.ID] = clone(a)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

func (m *mockRepo) GetByEmail(_ context.Context, email string) (*Account, error) {
	for _, a := range m.accounts {
		if a.Email == email {
			return clone(a), nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Update(_ context.Context, a *Account) error {
	if _, ok := m.accounts[a.ID]; !ok {
		return ErrNotFound
	}
	m.accounts[a.ID] = clone(a)
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.accounts[id]; !ok {
		return ErrNotFound
	}
	delete(m.accounts, id)
	return nil
}

func (m *mockRepo) ListByRole(ctx context.Context, role auth.Role) ([]*Account, error) {
	all, _ := m.List(ctx)
	var out []*Account
	for _, a := range all {
		if a.Role == role {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepo) List(_ context.Context) ([]*Account, error) {
	var out []*Account
	for _, a := range m.accounts {
		out = append(out, clone(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockRepo) AddService(_ context.Context, id uuid.UUID, ref matching.ServiceRef) error {
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Services = append(a.Services, ref)
	return nil
}

func (m *mockRepo) SetServices(_ context.Context, id uuid.UUID, refs []matching.ServiceRef) error {
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Services = append([]matching.ServiceRef{}, refs...)
	return nil
}

func (m *mockRepo) RecordCompletion(_ context.Context, id uuid.UUID, rating *float64) (*Account, error) {
	a, ok := m.accounts[id]
	if !ok || a.Role != auth.RoleDoctor {
		return nil, ErrNotFound
	}
	a.ApplyCompletion(rating)
	return clone(a), nil
}

// -- Fake Catalog --

type fakeCatalog struct {
	services []*catalog.Service
}

func (f *fakeCatalog) add(title, slug string) *catalog.Service {
	svc := &catalog.Service{ID: uuid.New(), Title: title, Slug: slug, Description: title}
	f.services = append(f.services, svc)
	return svc
}

func (f *fakeCatalog) Resolve(_ context.Context, ref matching.ServiceRef) (*catalog.Service, error) {
	keys := matching.NewServiceKeys(ref)
	for _, svc := range f.services {
		for _, k := range svc.Keys() {
			if _, ok := keys[matching.Normalize(k)]; ok {
				return svc, nil
			}
		}
	}
	return nil, catalog.ErrNotFound
}

func (f *fakeCatalog) KeysFor(ctx context.Context, ref matching.ServiceRef) (matching.ServiceKeys, *catalog.Service, error) {
	svc, err := f.Resolve(ctx, ref)
	if err != nil {
		return matching.NewServiceKeys(ref), nil, nil
	}
	return matching.NewServiceKeys(ref, svc.Keys()...), svc, nil
}

func (f *fakeCatalog) EnsureByTitle(ctx context.Context, title string) (*catalog.Service, error) {
	if svc, err := f.Resolve(ctx, matching.ParseServiceRef(title)); err == nil {
		return svc, nil
	}
	return f.add(strings.TrimSpace(title), catalog.Slugify(title)), nil
}

type fakeSlots struct {
	deleted []uuid.UUID
}

func (f *fakeSlots) DeleteByDoctor(_ context.Context, id uuid.UUID) (int, error) {
	f.deleted = append(f.deleted, id)
	return 3, nil
}

const testAdminKey = "let-me-in"

func newTestService() (*Service, *mockRepo, *fakeCatalog) {
	repo := newMockRepo()
	cat := &fakeCatalog{}
	tokens := auth.NewTokenIssuer(auth.TokenConfig{SigningKey: []byte("test-secret"), Issuer: "clinic", TTL: time.Hour})
	svc := NewService(repo, cat, auth.NewPasswordHasher(4), tokens, keylock.New(), testAdminKey, zerolog.Nop())
	return svc, repo, cat
}

func mustDoctor(t *testing.T, svc *Service, email string, services ...matching.ServiceRef) *Account {
	t.Helper()
	a, err := svc.CreateDoctor(context.Background(), Profile{Email: email, Password: "secret", Name: email, Services: services})
	if err != nil {
		t.Fatalf("create doctor %s: %v", email, err)
	}
	return a
}

func TestSignup_DefaultsToPatient(t *testing.T) {
	svc, _, _ := newTestService()

	res, err := svc.Signup(context.Background(), SignupInput{Email: " Jane@Example.com ", Password: "pw"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Token == "" {
		t.Error("expected a token")
	}
	if res.User.Role != auth.RolePatient || res.User.Email != "jane@example.com" {
		t.Errorf("unexpected user: %+v", res.User)
	}
	if res.User.PasswordHash == "pw" {
		t.Error("expected password to be hashed")
	}
}

func TestSignup_Errors(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.Signup(ctx, SignupInput{Email: "a@b.c", Password: "pw"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		in   SignupInput
		want int
	}{
		{"missing password", SignupInput{Email: "x@y.z"}, 400},
		{"missing email", SignupInput{Password: "pw"}, 400},
		{"duplicate", SignupInput{Email: "A@B.C", Password: "pw"}, 409},
		{"unknown role", SignupInput{Email: "n@b.c", Password: "pw", Role: "nurse"}, 400},
		{"admin without key", SignupInput{Email: "adm@b.c", Password: "pw", Role: "admin"}, 403},
		{"admin with wrong key", SignupInput{Email: "adm@b.c", Password: "pw", Role: "admin", AdminKey: "nope"}, 403},
	}
	for _, tt := range tests {
		_, err := svc.Signup(ctx, tt.in)
		if got := apperr.Status(err); err == nil || got != tt.want {
			t.Errorf("%s: expected %d, got %v", tt.name, tt.want, err)
		}
	}

	res, err := svc.Signup(ctx, SignupInput{Email: "adm@b.c", Password: "pw", Role: "admin", AdminKey: testAdminKey})
	if err != nil || res.User.Role != auth.RoleAdmin {
		t.Fatalf("expected admin signup with key, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.Signup(ctx, SignupInput{Email: "pat@clinic.test", Password: "correct"}); err != nil {
		t.Fatalf("signup: %v", err)
	}

	res, err := svc.Login(ctx, "PAT@clinic.test", "correct")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.User.Email != "pat@clinic.test" {
		t.Errorf("unexpected user %s", res.User.Email)
	}

	if _, err := svc.Login(ctx, "pat@clinic.test", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("expected bad credentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@clinic.test", "x"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("expected bad credentials for unknown email, got %v", err)
	}
}

func TestMe_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Me(context.Background(), uuid.New())
	if apperr.Status(err) != 404 || err.Error() != "User not found" {
		t.Fatalf("expected 404 User not found, got %v", err)
	}
}

func TestCreateDoctor_SpecializationAddsCatalogService(t *testing.T) {
	svc, _, cat := newTestService()

	doc, err := svc.CreateDoctor(context.Background(), Profile{
		Email: "derm@clinic.test", Password: "pw", Specialization: "Dermatology", Experience: 7,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cat.services) != 1 {
		t.Fatalf("expected specialization to create a catalog service, got %d", len(cat.services))
	}
	if len(doc.Services) != 1 || doc.Services[0].Kind != matching.RefEmbedded {
		t.Fatalf("expected one embedded service, got %+v", doc.Services)
	}
	if doc.Services[0].ID != cat.services[0].ID.String() {
		t.Errorf("expected embedded ref to carry the catalog id")
	}
}

func TestCreateDoctor_SpecializationAlreadyListed(t *testing.T) {
	svc, _, _ := newTestService()

	doc, err := svc.CreateDoctor(context.Background(), Profile{
		Email:          "cardio@clinic.test",
		Password:       "pw",
		Specialization: "Cardiology",
		Services:       []matching.ServiceRef{matching.ParseServiceRef("cardiology ")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Services) != 1 {
		t.Errorf("expected no duplicate entry, got %+v", doc.Services)
	}
}

func TestListDoctors_FiltersByService(t *testing.T) {
	svc, _, cat := newTestService()
	derm := cat.add("Dermatology", "dermatology")

	a := mustDoctor(t, svc, "a@clinic.test", matching.ParseServiceRef("Dermatology"))
	mustDoctor(t, svc, "b@clinic.test", matching.ParseServiceRef("Cardiology"))
	c := mustDoctor(t, svc, "c@clinic.test", matching.ParseServiceRef(derm.ID.String()))

	list, err := svc.ListDoctors(context.Background(), " dermatology")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 || list[0].ID != a.ID || list[1].ID != c.ID {
		t.Fatalf("expected doctors a and c in roster order, got %d", len(list))
	}

	all, _ := svc.ListDoctors(context.Background(), "")
	if len(all) != 3 {
		t.Errorf("expected 3 doctors without filter, got %d", len(all))
	}
}

func TestAddDoctorService(t *testing.T) {
	svc, repo, cat := newTestService()
	ctx := context.Background()
	doc := mustDoctor(t, svc, "d@clinic.test")

	updated, err := svc.AddDoctorService(ctx, doc.ID, matching.ParseServiceRef("Physiotherapy"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updated.Services) != 1 || len(cat.services) != 1 {
		t.Fatalf("expected auto-created service attached, got %+v", updated.Services)
	}

	// Same service by slug is a no-op.
	if _, err := svc.AddDoctorService(ctx, doc.ID, matching.ParseServiceRef("physiotherapy")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(repo.accounts[doc.ID].Services); n != 1 {
		t.Errorf("expected 1 service after duplicate add, got %d", n)
	}

	_, err = svc.AddDoctorService(ctx, doc.ID, matching.ParseServiceRef(uuid.NewString()))
	if apperr.Status(err) != 404 {
		t.Errorf("expected 404 for unknown service id, got %v", err)
	}
}

func TestRemoveDoctorService_UsesSharedMatch(t *testing.T) {
	svc, repo, cat := newTestService()
	ctx := context.Background()
	derm := cat.add("Dermatology", "dermatology")
	doc := mustDoctor(t, svc, "d@clinic.test",
		matching.EmbeddedRef(derm.ID.String(), "Dermatology", "", "dermatology"),
		matching.ParseServiceRef("Cardiology"),
	)

	if _, err := svc.RemoveDoctorService(ctx, doc.ID, matching.ParseServiceRef(" DERMATOLOGY ")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	left := repo.accounts[doc.ID].Services
	if len(left) != 1 || left[0].Value != "Cardiology" {
		t.Fatalf("expected only Cardiology left, got %+v", left)
	}

	_, err := svc.RemoveDoctorService(ctx, doc.ID, matching.ParseServiceRef("Oncology"))
	if apperr.Status(err) != 404 {
		t.Errorf("expected 404 removing absent service, got %v", err)
	}
}

func TestUpdateDoctor(t *testing.T) {
	svc, _, _ := newTestService()
	doc := mustDoctor(t, svc, "d@clinic.test")

	name := "Dr. Who"
	exp := 12
	updated, err := svc.UpdateDoctor(context.Background(), doc.ID, Patch{Name: &name, Experience: &exp})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Name != "Dr. Who" || updated.Experience != 12 {
		t.Errorf("unexpected update: %+v", updated)
	}

	neg := -1
	_, err = svc.UpdateDoctor(context.Background(), doc.ID, Patch{Experience: &neg})
	if apperr.Status(err) != 400 {
		t.Errorf("expected 400 for negative experience, got %v", err)
	}
}

func TestDeleteDoctor_CleansSlots(t *testing.T) {
	svc, repo, _ := newTestService()
	slots := &fakeSlots{}
	svc.SetSlotCleaner(slots)
	doc := mustDoctor(t, svc, "d@clinic.test")

	if err := svc.DeleteDoctor(context.Background(), doc.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := repo.accounts[doc.ID]; ok {
		t.Error("expected doctor removed")
	}
	if len(slots.deleted) != 1 || slots.deleted[0] != doc.ID {
		t.Errorf("expected slots cleaned for doctor, got %v", slots.deleted)
	}
}

func TestGetDoctor_RejectsPatients(t *testing.T) {
	svc, _, _ := newTestService()
	pat, err := svc.CreatePatient(context.Background(), Profile{Email: "p@clinic.test", Password: "pw"})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
	if _, err := svc.GetDoctor(context.Background(), pat.ID); !errors.Is(err, ErrDoctorNotFound) {
		t.Fatalf("expected doctor not found, got %v", err)
	}
}

func TestRecordCompletion_IncrementalMean(t *testing.T) {
	svc, _, _ := newTestService()
	doc := mustDoctor(t, svc, "d@clinic.test")
	ctx := context.Background()

	rate := func(r float64) *Account {
		t.Helper()
		a, err := svc.RecordCompletion(ctx, doc.ID, &r)
		if err != nil {
			t.Fatalf("record completion: %v", err)
		}
		return a
	}

	rate(4)
	a := rate(5)
	if a.AvgRating != 4.5 || a.CompletedAppointments != 2 {
		t.Fatalf("expected 4.5 after two completions, got %v (%d)", a.AvgRating, a.CompletedAppointments)
	}
	a = rate(3)
	if a.AvgRating != 4.0 || a.CompletedAppointments != 3 {
		t.Fatalf("expected 4.0 after three completions, got %v (%d)", a.AvgRating, a.CompletedAppointments)
	}

	a, err := svc.RecordCompletion(ctx, doc.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.AvgRating != 4.0 || a.CompletedAppointments != 4 || a.RatingCount != 3 {
		t.Errorf("unrated completion should only bump the count, got %+v", a)
	}
}

func TestNextAverage_Rounds(t *testing.T) {
	tests := []struct {
		avg    float64
		count  int
		rating float64
		want   float64
	}{
		{0, 0, 4, 4},
		{4, 1, 5, 4.5},
		{4.5, 2, 3, 4},
		{4, 2, 5, 4.3},
		{5, 2, 4, 4.7},
	}
	for _, tt := range tests {
		if got := NextAverage(tt.avg, tt.count, tt.rating); got != tt.want {
			t.Errorf("NextAverage(%v,%d,%v) = %v, want %v", tt.avg, tt.count, tt.rating, got, tt.want)
		}
	}
}
