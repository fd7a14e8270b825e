package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicbook/clinic/internal/matching"
	"github.com/clinicbook/clinic/internal/platform/apperr"
)

// Catalog is the service layer over the clinic's service list.
type Catalog struct {
	repo   Repository
	logger zerolog.Logger
}

func NewCatalog(repo Repository, logger zerolog.Logger) *Catalog {
	return &Catalog{repo: repo, logger: logger.With().Str("component", "catalog").Logger()}
}

type CreateInput struct {
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

// UpdateInput carries a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Title       *string `json:"title"`
	Slug        *string `json:"slug"`
	Description *string `json:"description"`
}

func (c *Catalog) Create(ctx context.Context, in CreateInput) (*Service, error) {
	title := strings.TrimSpace(in.Title)
	desc := strings.TrimSpace(in.Description)
	if title == "" || desc == "" {
		return nil, apperr.Validation("title, slug, and description required")
	}
	slug, err := pickSlug(in.Slug, title)
	if err != nil {
		return nil, err
	}
	if err := c.ensureSlugFree(ctx, slug, uuid.Nil); err != nil {
		return nil, err
	}

	svc := &Service{Title: title, Slug: slug, Description: desc}
	if err := c.repo.Create(ctx, svc); err != nil {
		return nil, apperr.Storage(err)
	}
	return svc, nil
}

func pickSlug(raw, title string) (string, error) {
	slug := strings.ToLower(strings.TrimSpace(raw))
	if slug == "" {
		slug = Slugify(title)
	}
	if !ValidSlug(slug) {
		return "", apperr.Validation("slug %q must be lower-case words joined by hyphens", slug)
	}
	return slug, nil
}

func (c *Catalog) ensureSlugFree(ctx context.Context, slug string, self uuid.UUID) error {
	existing, err := c.repo.GetBySlug(ctx, slug)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return apperr.Storage(err)
	case existing.ID != self:
		return ErrSlugTaken
	}
	return nil
}

func (c *Catalog) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Service, error) {
	svc, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return nil, apperr.Validation("title must not be empty")
		}
		svc.Title = t
	}
	if in.Description != nil {
		d := strings.TrimSpace(*in.Description)
		if d == "" {
			return nil, apperr.Validation("description must not be empty")
		}
		svc.Description = d
	}
	if in.Slug != nil {
		slug, err := pickSlug(*in.Slug, svc.Title)
		if err != nil {
			return nil, err
		}
		if err := c.ensureSlugFree(ctx, slug, svc.ID); err != nil {
			return nil, err
		}
		svc.Slug = slug
	}
	if err := c.repo.Update(ctx, svc); err != nil {
		return nil, apperr.Storage(err)
	}
	return svc, nil
}

func (c *Catalog) Delete(ctx context.Context, id uuid.UUID) error {
	return apperr.Storage(c.repo.Delete(ctx, id))
}

func (c *Catalog) Get(ctx context.Context, id uuid.UUID) (*Service, error) {
	svc, err := c.repo.GetByID(ctx, id)
	return svc, apperr.Storage(err)
}

func (c *Catalog) GetBySlug(ctx context.Context, slug string) (*Service, error) {
	svc, err := c.repo.GetBySlug(ctx, strings.ToLower(strings.TrimSpace(slug)))
	return svc, apperr.Storage(err)
}

func (c *Catalog) List(ctx context.Context) ([]*Service, error) {
	list, err := c.repo.List(ctx)
	return list, apperr.Storage(err)
}

// Resolve finds the canonical service a reference names, trying id, then
// slug, then title. A miss returns ErrNotFound.
func (c *Catalog) Resolve(ctx context.Context, ref matching.ServiceRef) (*Service, error) {
	var ids, slugs, titles []string
	if ref.Kind == matching.RefEmbedded {
		ids = []string{ref.ID}
		slugs = []string{ref.Slug, ref.Title, ref.Name}
		titles = []string{ref.Title, ref.Name}
	} else {
		ids = []string{ref.Value}
		slugs = []string{ref.Value}
		titles = []string{ref.Value}
	}

	for _, raw := range ids {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		if svc, err := c.lookup(func() (*Service, error) { return c.repo.GetByID(ctx, id) }); svc != nil || err != nil {
			return svc, err
		}
	}
	for _, raw := range slugs {
		slug := matching.Normalize(raw)
		if slug == "" {
			continue
		}
		if svc, err := c.lookup(func() (*Service, error) { return c.repo.GetBySlug(ctx, slug) }); svc != nil || err != nil {
			return svc, err
		}
	}
	for _, raw := range titles {
		title := strings.TrimSpace(raw)
		if title == "" {
			continue
		}
		if svc, err := c.lookup(func() (*Service, error) { return c.repo.GetByTitle(ctx, title) }); svc != nil || err != nil {
			return svc, err
		}
	}
	return nil, ErrNotFound
}

// lookup turns a miss into (nil, nil) so Resolve can move on.
func (c *Catalog) lookup(fn func() (*Service, error)) (*Service, error) {
	svc, err := fn()
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return svc, nil
}

// KeysFor builds the match set for ref, widened with the canonical
// service's keys when the catalog knows it.
func (c *Catalog) KeysFor(ctx context.Context, ref matching.ServiceRef) (matching.ServiceKeys, *Service, error) {
	svc, err := c.Resolve(ctx, ref)
	if errors.Is(err, ErrNotFound) {
		return matching.NewServiceKeys(ref), nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return matching.NewServiceKeys(ref, svc.Keys()...), svc, nil
}

// EnsureByTitle returns the service titled title, creating it when the
// catalog has none.
func (c *Catalog) EnsureByTitle(ctx context.Context, title string) (*Service, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperr.Validation("service title is required")
	}
	svc, err := c.Resolve(ctx, matching.ServiceRef{Kind: matching.RefTitle, Value: title})
	if err == nil {
		return svc, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	slug := Slugify(title)
	if !ValidSlug(slug) {
		return nil, apperr.Validation("cannot derive a slug from %q", title)
	}
	svc = &Service{Title: title, Slug: slug, Description: title + " services"}
	if err := c.repo.Create(ctx, svc); err != nil {
		if errors.Is(err, ErrSlugTaken) {
			// Lost a race with another writer; use theirs.
			existing, gerr := c.repo.GetBySlug(ctx, slug)
			return existing, apperr.Storage(gerr)
		}
		return nil, apperr.Storage(err)
	}
	c.logger.Info().Str("service_id", svc.ID.String()).Str("title", title).Msg("service created from specialization")
	return svc, nil
}
