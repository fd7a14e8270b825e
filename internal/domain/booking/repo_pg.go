package booking

import (
	"context"
	"fmt"
	"strings"
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

const bookingColumns = `id, service, service_id, booking_date, booking_time, start_time, end_time,
	doctor_id, slot_id, patient_id, patient_email, patient_name, patient_phone,
	payment_method, amount, status, completed_at, completed_by, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.Service, &b.ServiceID, &b.Date, &b.Time, &b.StartTime, &b.EndTime,
		&b.DoctorID, &b.SlotID, &b.PatientID, &b.PatientEmail, &b.PatientName, &b.PatientPhone,
		&b.PaymentMethod, &b.Amount, &b.Status, &b.CompletedAt, &b.CompletedBy, &b.CreatedAt, &b.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Booking, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Booking
	for rows.Next() {
		b, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, b *Booking) error {
	b.ID = uuid.New()
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		b.ID, b.Service, b.ServiceID, b.Date, b.Time, b.StartTime, b.EndTime,
		b.DoctorID, b.SlotID, b.PatientID, b.PatientEmail, b.PatientName, b.PatientPhone,
		b.PaymentMethod, b.Amount, b.Status, b.CompletedAt, b.CompletedBy, b.CreatedAt, b.UpdatedAt)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, b *Booking) error {
	b.UpdatedAt = time.Now().UTC()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bookings SET service = $2, service_id = $3, booking_date = $4, booking_time = $5,
			start_time = $6, end_time = $7, doctor_id = $8, slot_id = $9, patient_id = $10,
			patient_email = $11, patient_name = $12, patient_phone = $13, payment_method = $14,
			amount = $15, status = $16, completed_at = $17, completed_by = $18, updated_at = $19
		WHERE id = $1`,
		b.ID, b.Service, b.ServiceID, b.Date, b.Time, b.StartTime, b.EndTime,
		b.DoctorID, b.SlotID, b.PatientID, b.PatientEmail, b.PatientName, b.PatientPhone,
		b.PaymentMethod, b.Amount, b.Status, b.CompletedAt, b.CompletedBy, b.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]*Booking, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.Unassigned {
		where = append(where, "doctor_id IS NULL")
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Date != "" {
		add("booking_date = $%d", f.Date)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	return r.list(ctx, query+` ORDER BY created_at DESC, id`, args...)
}

func (r *repoPG) ListActiveByDoctorDate(ctx context.Context, doctorID uuid.UUID, date string) ([]*Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE doctor_id = $1 AND booking_date = $2 AND status IN ('pending', 'confirmed')
		ORDER BY start_time`, doctorID, date)
}

// -- Completion logs --

const logColumns = `id, booking_id, doctor_id, patient_id, patient_name, service,
	appointment_date, notes, rating, completed_at, created_at, counters_applied`

func (r *repoPG) scanLog(row pgx.Row) (*CompletionLog, error) {
	var l CompletionLog
	err := row.Scan(&l.ID, &l.BookingID, &l.DoctorID, &l.PatientID, &l.PatientName, &l.Service,
		&l.AppointmentDate, &l.Notes, &l.Rating, &l.CompletedAt, &l.CreatedAt, &l.CountersApplied)
	if db.IsNoRows(err) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *repoPG) listLogs(ctx context.Context, query string, args ...interface{}) ([]*CompletionLog, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CompletionLog
	for rows.Next() {
		l, err := r.scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *repoPG) CreateLog(ctx context.Context, l *CompletionLog) error {
	l.ID = uuid.New()
	l.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO completion_logs (`+logColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		l.ID, l.BookingID, l.DoctorID, l.PatientID, l.PatientName, l.Service,
		l.AppointmentDate, l.Notes, l.Rating, l.CompletedAt, l.CreatedAt, l.CountersApplied)
	if db.IsUniqueViolation(err) {
		return ErrLogExists
	}
	return err
}

func (r *repoPG) GetLogByBooking(ctx context.Context, bookingID uuid.UUID) (*CompletionLog, error) {
	return r.scanLog(r.conn(ctx).QueryRow(ctx,
		`SELECT `+logColumns+` FROM completion_logs WHERE booking_id = $1`, bookingID))
}

func (r *repoPG) MarkCountersApplied(ctx context.Context, logID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE completion_logs SET counters_applied = TRUE WHERE id = $1`, logID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLogNotFound
	}
	return nil
}

func (r *repoPG) ListLogsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*CompletionLog, error) {
	return r.listLogs(ctx, `SELECT `+logColumns+` FROM completion_logs
		WHERE doctor_id = $1 ORDER BY completed_at DESC`, doctorID)
}

func (r *repoPG) ListLogsByPatient(ctx context.Context, patientID uuid.UUID) ([]*CompletionLog, error) {
	return r.listLogs(ctx, `SELECT `+logColumns+` FROM completion_logs
		WHERE patient_id = $1 ORDER BY completed_at DESC`, patientID)
}
