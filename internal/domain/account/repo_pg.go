package account

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicbook/clinic/internal/matching"
	"github.com/clinicbook/clinic/internal/platform/auth"
	"github.com/clinicbook/clinic/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

const accountColumns = `id, email, name, phone, password_hash, role, services,
	specialization, experience, qualification, avg_rating, rating_count,
	completed_appointments, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Account, error) {
	var a Account
	var services []byte
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.Phone, &a.PasswordHash, &a.Role, &services,
		&a.Specialization, &a.Experience, &a.Qualification, &a.AvgRating, &a.RatingCount,
		&a.CompletedAppointments, &a.CreatedAt, &a.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Services, err = decodeServices(services)
	if err != nil {
		return nil, fmt.Errorf("decode services of %s: %w", a.ID, err)
	}
	return &a, nil
}

func decodeServices(raw []byte) ([]matching.ServiceRef, error) {
	refs := []matching.ServiceRef{}
	if len(raw) == 0 {
		return refs, nil
	}
	if err := json.Unmarshal(raw, &refs); err != nil {
		return nil, err
	}
	if refs == nil {
		refs = []matching.ServiceRef{}
	}
	return refs, nil
}

func encodeServices(refs []matching.ServiceRef) ([]byte, error) {
	if refs == nil {
		refs = []matching.ServiceRef{}
	}
	return json.Marshal(refs)
}

func (r *repoPG) Create(ctx context.Context, a *Account) error {
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	if a.Services == nil {
		a.Services = []matching.ServiceRef{}
	}
	services, err := encodeServices(a.Services)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		a.ID, a.Email, a.Name, a.Phone, a.PasswordHash, a.Role, services,
		a.Specialization, a.Experience, a.Qualification, a.AvgRating, a.RatingCount,
		a.CompletedAppointments, a.CreatedAt, a.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
}

func (r *repoPG) Update(ctx context.Context, a *Account) error {
	a.UpdatedAt = time.Now().UTC()
	services, err := encodeServices(a.Services)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE accounts SET
			email = $2, name = $3, phone = $4, password_hash = $5, role = $6, services = $7,
			specialization = $8, experience = $9, qualification = $10, updated_at = $11
		WHERE id = $1`,
		a.ID, a.Email, a.Name, a.Phone, a.PasswordHash, a.Role, services,
		a.Specialization, a.Experience, a.Qualification, a.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Account, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repoPG) ListByRole(ctx context.Context, role auth.Role) ([]*Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts WHERE role = $1 ORDER BY created_at, id`, role)
}

func (r *repoPG) List(ctx context.Context) ([]*Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
}

func (r *repoPG) AddService(ctx context.Context, id uuid.UUID, ref matching.ServiceRef) error {
	entry, err := json.Marshal([]matching.ServiceRef{ref})
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE accounts SET services = services || $2::jsonb, updated_at = NOW()
		WHERE id = $1`, id, entry)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) SetServices(ctx context.Context, id uuid.UUID, refs []matching.ServiceRef) error {
	services, err := encodeServices(refs)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE accounts SET services = $2, updated_at = NOW() WHERE id = $1`, id, services)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordCompletion locks the doctor row so concurrent completions fold in
// one at a time.
func (r *repoPG) RecordCompletion(ctx context.Context, doctorID uuid.UUID, rating *float64) (*Account, error) {
	var doctor *Account
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		a, err := r.scan(r.conn(ctx).QueryRow(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE id = $1 AND role = 'doctor' FOR UPDATE`, doctorID))
		if err != nil {
			return err
		}
		a.ApplyCompletion(rating)
		a.UpdatedAt = time.Now().UTC()
		_, err = r.conn(ctx).Exec(ctx, `
			UPDATE accounts SET avg_rating = $2, rating_count = $3, completed_appointments = $4, updated_at = $5
			WHERE id = $1`,
			a.ID, a.AvgRating, a.RatingCount, a.CompletedAppointments, a.UpdatedAt)
		doctor = a
		return err
	})
	if err != nil {
		return nil, err
	}
	return doctor, nil
}
