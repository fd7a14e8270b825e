package account

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicbook/clinic/internal/matching"
	"github.com/clinicbook/clinic/internal/platform/auth"
)

// Repository persists accounts. Misses return ErrNotFound; a duplicate
// email returns ErrEmailTaken.
type Repository interface {
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	Update(ctx context.Context, a *Account) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByRole returns accounts in roster order: creation time, then id.
	ListByRole(ctx context.Context, role auth.Role) ([]*Account, error)
	List(ctx context.Context) ([]*Account, error)
	AddService(ctx context.Context, id uuid.UUID, ref matching.ServiceRef) error
	SetServices(ctx context.Context, id uuid.UUID, refs []matching.ServiceRef) error
	// RecordCompletion applies Account.ApplyCompletion atomically and
	// returns the updated doctor.
	RecordCompletion(ctx context.Context, doctorID uuid.UUID, rating *float64) (*Account, error)
}
