package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores catalog services. Lookups that miss return ErrNotFound
// and slug collisions return ErrSlugTaken.
type Repository interface {
	Create(ctx context.Context, s *Service) error
	GetByID(ctx context.Context, id uuid.UUID) (*Service, error)
	GetBySlug(ctx context.Context, slug string) (*Service, error)
	// GetByTitle matches case-insensitively.
	GetByTitle(ctx context.Context, title string) (*Service, error)
	List(ctx context.Context) ([]*Service, error)
	Update(ctx context.Context, s *Service) error
	Delete(ctx context.Context, id uuid.UUID) error
}
