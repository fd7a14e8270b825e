package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicbook/clinic/internal/matching"
	"github.com/clinicbook/clinic/internal/platform/apperr"
)

type mockRepo struct {
	services map[uuid.UUID]*Service
	failWith error
}

func newMockRepo() *mockRepo {
	return &mockRepo{services: make(map[uuid.UUID]*Service)}
}

func (m *mockRepo) Create(_ context.Context, s *Service) error {
	if m.failWith != nil {
		return m.failWith
	}
	for _, existing := range m.services {
		if existing.Slug == s.Slug {
			return ErrSlugTaken
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.services[s.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Service, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	s, ok := m.services[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockRepo) find(match func(*Service) bool) (*Service, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	for _, s := range m.services {
		if match(s) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) GetBySlug(_ context.Context, slug string) (*Service, error) {
	return m.find(func(s *Service) bool { return s.Slug == slug })
}

func (m *mockRepo) GetByTitle(_ context.Context, title string) (*Service, error) {
	return m.find(func(s *Service) bool { return strings.EqualFold(s.Title, title) })
}

func (m *mockRepo) List(_ context.Context) ([]*Service, error) {
	var out []*Service
	for _, s := range m.services {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockRepo) Update(_ context.Context, s *Service) error {
	if _, ok := m.services[s.ID]; !ok {
		return ErrNotFound
	}
	cp := *s
	m.services[s.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.services[id]; !ok {
		return ErrNotFound
	}
	delete(m.services, id)
	return nil
}

func newTestCatalog() (*Catalog, *mockRepo) {
	repo := newMockRepo()
	return NewCatalog(repo, zerolog.Nop()), repo
}

func mustCreate(t *testing.T, cat *Catalog, title, slug string) *Service {
	t.Helper()
	svc, err := cat.Create(context.Background(), CreateInput{Title: title, Slug: slug, Description: title + " clinic"})
	if err != nil {
		t.Fatalf("create %s: %v", title, err)
	}
	return svc
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Dermatology":        "dermatology",
		"  Skin & Hair Care": "skin-hair-care",
		"ENT (Ear/Nose)":     "ent-ear-nose",
		"---":                "",
		"Pediatrics 2":       "pediatrics-2",
	}
	for in, want := range tests {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCreate_DerivesSlug(t *testing.T) {
	cat, _ := newTestCatalog()
	svc := mustCreate(t, cat, "General Practice", "")
	if svc.Slug != "general-practice" {
		t.Errorf("expected derived slug, got %q", svc.Slug)
	}
	if svc.ID == uuid.Nil {
		t.Error("expected id to be assigned")
	}
}

func TestCreate_Validation(t *testing.T) {
	cat, _ := newTestCatalog()
	ctx := context.Background()

	_, err := cat.Create(ctx, CreateInput{Title: "Dermatology"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for missing description, got %v", err)
	}
	_, err = cat.Create(ctx, CreateInput{Title: "Dermatology", Slug: "Bad Slug!", Description: "x"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for bad slug, got %v", err)
	}
}

func TestCreate_DuplicateSlug(t *testing.T) {
	cat, _ := newTestCatalog()
	mustCreate(t, cat, "Dermatology", "dermatology")

	_, err := cat.Create(context.Background(), CreateInput{Title: "Skin", Slug: "dermatology", Description: "x"})
	if !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}
	if apperr.Status(err) != 409 {
		t.Errorf("expected 409, got %d", apperr.Status(err))
	}
}

func TestUpdate_SlugConflictExcludesSelf(t *testing.T) {
	cat, _ := newTestCatalog()
	ctx := context.Background()
	derm := mustCreate(t, cat, "Dermatology", "dermatology")
	mustCreate(t, cat, "Cardiology", "cardiology")

	same := "dermatology"
	if _, err := cat.Update(ctx, derm.ID, UpdateInput{Slug: &same}); err != nil {
		t.Fatalf("keeping own slug should succeed: %v", err)
	}

	taken := "cardiology"
	if _, err := cat.Update(ctx, derm.ID, UpdateInput{Slug: &taken}); !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}

	title := "Skin Care"
	updated, err := cat.Update(ctx, derm.ID, UpdateInput{Title: &title})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Title != "Skin Care" || updated.Slug != "dermatology" {
		t.Errorf("unexpected update result: %+v", updated)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	cat, _ := newTestCatalog()
	title := "x"
	_, err := cat.Update(context.Background(), uuid.New(), UpdateInput{Title: &title})
	if apperr.Status(err) != 404 {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestResolve_Order(t *testing.T) {
	cat, _ := newTestCatalog()
	ctx := context.Background()
	derm := mustCreate(t, cat, "Dermatology", "skin")

	tests := []struct {
		name string
		ref  matching.ServiceRef
	}{
		{"by id", matching.ParseServiceRef(derm.ID.String())},
		{"by slug", matching.ParseServiceRef(" SKIN ")},
		{"by title", matching.ParseServiceRef("dermatology")},
		{"embedded by title", matching.EmbeddedRef("", "Dermatology", "", "")},
		{"embedded by foreign id and slug", matching.EmbeddedRef("64b7f0c2a1b2c3d4e5f60718", "", "", "skin")},
	}
	for _, tt := range tests {
		got, err := cat.Resolve(ctx, tt.ref)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.name, err)
			continue
		}
		if got.ID != derm.ID {
			t.Errorf("%s: resolved to %s, want %s", tt.name, got.ID, derm.ID)
		}
	}

	if _, err := cat.Resolve(ctx, matching.ParseServiceRef("Oncology")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolve_StorageFailure(t *testing.T) {
	cat, repo := newTestCatalog()
	repo.failWith = errors.New("connection reset")
	_, err := cat.Resolve(context.Background(), matching.ParseServiceRef("Dermatology"))
	if !apperr.Is(err, apperr.KindStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestKeysFor_WidensWithCanonicalKeys(t *testing.T) {
	cat, _ := newTestCatalog()
	derm := mustCreate(t, cat, "Dermatology", "dermatology")

	keys, svc, err := cat.KeysFor(context.Background(), matching.ParseServiceRef("dermatology"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc == nil || svc.ID != derm.ID {
		t.Fatalf("expected canonical service, got %+v", svc)
	}
	if !keys.Matches(matching.ParseServiceRef(derm.ID.String())) {
		t.Error("expected a doctor listing the service id to match a title request")
	}

	keys, svc, err = cat.KeysFor(context.Background(), matching.ParseServiceRef("Oncology"))
	if err != nil || svc != nil {
		t.Fatalf("expected raw keys for unknown service, got svc=%v err=%v", svc, err)
	}
	if !keys.Matches(matching.ParseServiceRef(" oncology")) {
		t.Error("expected raw key match for unknown service")
	}
}

func TestEnsureByTitle(t *testing.T) {
	cat, repo := newTestCatalog()
	ctx := context.Background()

	first, err := cat.EnsureByTitle(ctx, "Physiotherapy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Slug != "physiotherapy" {
		t.Errorf("expected slug physiotherapy, got %s", first.Slug)
	}

	second, err := cat.EnsureByTitle(ctx, "physiotherapy ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID {
		t.Error("expected existing service to be reused")
	}
	if len(repo.services) != 1 {
		t.Errorf("expected 1 service, got %d", len(repo.services))
	}
}
