package availability

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateMany(ctx context.Context, slots []*Slot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	Update(ctx context.Context, s *Slot) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByDate(ctx context.Context, doctorID uuid.UUID, date string) (int, error)
	DeleteByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error)
	// DeleteOrphans removes slots whose doctor is not in keep.
	DeleteOrphans(ctx context.Context, keep []uuid.UUID) (int, error)
	// ListByDoctor orders by date then start.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Slot, error)
	ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date string) ([]*Slot, error)
}
