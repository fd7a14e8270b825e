package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

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

const slotColumns = `id, doctor_id, slot_date, start_time, end_time, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.DoctorID, &s.Date, &s.Start, &s.End, &s.CreatedAt, &s.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Slot
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateMany inserts the batch in one transaction (joining the caller's
// when there is one).
func (r *repoPG) CreateMany(ctx context.Context, slots []*Slot) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		now := time.Now().UTC()
		for _, s := range slots {
			s.ID = uuid.New()
			s.CreatedAt, s.UpdatedAt = now, now
			if _, err := r.conn(ctx).Exec(ctx, `
				INSERT INTO availability_slots (`+slotColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				s.ID, s.DoctorID, s.Date, s.Start, s.End, s.CreatedAt, s.UpdatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+slotColumns+` FROM availability_slots WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, s *Slot) error {
	s.UpdatedAt = time.Now().UTC()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE availability_slots SET slot_date = $2, start_time = $3, end_time = $4, updated_at = $5
		WHERE id = $1`, s.ID, s.Date, s.Start, s.End, s.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM availability_slots WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) exec(ctx context.Context, query string, args ...interface{}) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) DeleteByDate(ctx context.Context, doctorID uuid.UUID, date string) (int, error) {
	return r.exec(ctx, `DELETE FROM availability_slots WHERE doctor_id = $1 AND slot_date = $2`, doctorID, date)
}

func (r *repoPG) DeleteByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error) {
	return r.exec(ctx, `DELETE FROM availability_slots WHERE doctor_id = $1`, doctorID)
}

func (r *repoPG) DeleteOrphans(ctx context.Context, keep []uuid.UUID) (int, error) {
	if keep == nil {
		keep = []uuid.UUID{}
	}
	return r.exec(ctx, `DELETE FROM availability_slots WHERE NOT (doctor_id = ANY($1))`, keep)
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Slot, error) {
	return r.list(ctx, `SELECT `+slotColumns+` FROM availability_slots
		WHERE doctor_id = $1 ORDER BY slot_date, start_time`, doctorID)
}

func (r *repoPG) ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date string) ([]*Slot, error) {
	return r.list(ctx, `SELECT `+slotColumns+` FROM availability_slots
		WHERE doctor_id = $1 AND slot_date = $2 ORDER BY start_time`, doctorID, date)
}
