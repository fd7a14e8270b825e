package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/clinicbook/clinic/internal/platform/mongostore"
)

type bookingDoc struct {
	ID            string          `bson:"_id"`
	Service       string          `bson:"service"`
	ServiceID     *string         `bson:"serviceId,omitempty"`
	Date          string          `bson:"date"`
	Time          string          `bson:"time"`
	StartTime     string          `bson:"startTime,omitempty"`
	EndTime       string          `bson:"endTime,omitempty"`
	DoctorID      *string         `bson:"doctorId,omitempty"`
	SlotID        *string         `bson:"slotId,omitempty"`
	PatientID     *string         `bson:"patientId,omitempty"`
	PatientEmail  string          `bson:"patientEmail,omitempty"`
	PatientName   string          `bson:"patientName,omitempty"`
	PatientPhone  string          `bson:"patientPhone,omitempty"`
	PaymentMethod string          `bson:"paymentMethod,omitempty"`
	Amount        bson.Decimal128 `bson:"amount"`
	Status        string          `bson:"status"`
	CompletedAt   *time.Time      `bson:"completedAt,omitempty"`
	CompletedBy   *string         `bson:"completedBy,omitempty"`
	CreatedAt     time.Time       `bson:"createdAt"`
	UpdatedAt     time.Time       `bson:"updatedAt"`
}

func idString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func idParse(s *string) (*uuid.UUID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func toBookingDoc(b *Booking) (bookingDoc, error) {
	amount, err := bson.ParseDecimal128(b.Amount.String())
	if err != nil {
		return bookingDoc{}, err
	}
	return bookingDoc{
		ID:            b.ID.String(),
		Service:       b.Service,
		ServiceID:     idString(b.ServiceID),
		Date:          b.Date,
		Time:          b.Time,
		StartTime:     b.StartTime,
		EndTime:       b.EndTime,
		DoctorID:      idString(b.DoctorID),
		SlotID:        idString(b.SlotID),
		PatientID:     idString(b.PatientID),
		PatientEmail:  b.PatientEmail,
		PatientName:   b.PatientName,
		PatientPhone:  b.PatientPhone,
		PaymentMethod: b.PaymentMethod,
		Amount:        amount,
		Status:        string(b.Status),
		CompletedAt:   b.CompletedAt,
		CompletedBy:   idString(b.CompletedBy),
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}, nil
}

func amountFrom(d bson.Decimal128) (decimal.Decimal, error) {
	if d.IsZero() {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(d.String())
}

func (d *bookingDoc) model() (*Booking, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	amount, err := amountFrom(d.Amount)
	if err != nil {
		return nil, err
	}
	b := &Booking{
		ID:            id,
		Service:       d.Service,
		Date:          d.Date,
		Time:          d.Time,
		StartTime:     d.StartTime,
		EndTime:       d.EndTime,
		PatientEmail:  d.PatientEmail,
		PatientName:   d.PatientName,
		PatientPhone:  d.PatientPhone,
		PaymentMethod: d.PaymentMethod,
		Amount:        amount,
		Status:        Status(d.Status),
		CompletedAt:   d.CompletedAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	for _, f := range []struct {
		dst **uuid.UUID
		src *string
	}{
		{&b.ServiceID, d.ServiceID},
		{&b.DoctorID, d.DoctorID},
		{&b.SlotID, d.SlotID},
		{&b.PatientID, d.PatientID},
		{&b.CompletedBy, d.CompletedBy},
	} {
		if *f.dst, err = idParse(f.src); err != nil {
			return nil, err
		}
	}
	return b, nil
}

type logDoc struct {
	ID              string    `bson:"_id"`
	BookingID       string    `bson:"bookingId"`
	DoctorID        string    `bson:"doctorId"`
	PatientID       *string   `bson:"patientId,omitempty"`
	PatientName     string    `bson:"patientName,omitempty"`
	Service         string    `bson:"service"`
	AppointmentDate string    `bson:"appointmentDate"`
	Notes           string    `bson:"notes,omitempty"`
	Rating          *float64  `bson:"rating,omitempty"`
	CompletedAt     time.Time `bson:"completedAt"`
	CreatedAt       time.Time `bson:"createdAt"`
	CountersApplied bool      `bson:"countersApplied"`
}

func (d *logDoc) model() (*CompletionLog, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	bookingID, err := uuid.Parse(d.BookingID)
	if err != nil {
		return nil, err
	}
	doctorID, err := uuid.Parse(d.DoctorID)
	if err != nil {
		return nil, err
	}
	patientID, err := idParse(d.PatientID)
	if err != nil {
		return nil, err
	}
	return &CompletionLog{
		ID:              id,
		BookingID:       bookingID,
		DoctorID:        doctorID,
		PatientID:       patientID,
		PatientName:     d.PatientName,
		Service:         d.Service,
		AppointmentDate: d.AppointmentDate,
		Notes:           d.Notes,
		Rating:          d.Rating,
		CompletedAt:     d.CompletedAt,
		CreatedAt:       d.CreatedAt,
		CountersApplied: d.CountersApplied,
	}, nil
}

type repoMongo struct {
	bookings *mongo.Collection
	logs     *mongo.Collection
}

func NewRepoMongo(store *mongostore.Store) Repository {
	return &repoMongo{
		bookings: store.Collection(mongostore.Bookings),
		logs:     store.Collection(mongostore.CompletionLogs),
	}
}

func (r *repoMongo) find(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*Booking, error) {
	cur, err := r.bookings.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []bookingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*Booking, 0, len(docs))
	for i := range docs {
		b, err := docs[i].model()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *repoMongo) Create(ctx context.Context, b *Booking) error {
	b.ID = uuid.New()
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	doc, err := toBookingDoc(b)
	if err != nil {
		return err
	}
	_, err = r.bookings.InsertOne(ctx, doc)
	return err
}

func (r *repoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	var doc bookingDoc
	err := r.bookings.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if mongostore.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.model()
}

func (r *repoMongo) Update(ctx context.Context, b *Booking) error {
	b.UpdatedAt = time.Now().UTC()
	doc, err := toBookingDoc(b)
	if err != nil {
		return err
	}
	res, err := r.bookings.ReplaceOne(ctx, bson.M{"_id": b.ID.String()}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoMongo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.bookings.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoMongo) List(ctx context.Context, f Filter) ([]*Booking, error) {
	filter := bson.M{}
	if f.PatientID != nil {
		filter["patientId"] = f.PatientID.String()
	}
	if f.DoctorID != nil {
		filter["doctorId"] = f.DoctorID.String()
	}
	if f.Unassigned {
		filter["doctorId"] = bson.M{"$in": bson.A{nil, ""}}
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	if f.Date != "" {
		filter["date"] = f.Date
	}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

func (r *repoMongo) ListActiveByDoctorDate(ctx context.Context, doctorID uuid.UUID, date string) ([]*Booking, error) {
	return r.find(ctx, bson.M{
		"doctorId": doctorID.String(),
		"date":     date,
		"status":   bson.M{"$in": bson.A{string(StatusPending), string(StatusConfirmed)}},
	}, options.Find().SetSort(bson.D{{Key: "startTime", Value: 1}}))
}

// -- Completion logs --

func (r *repoMongo) findLogs(ctx context.Context, filter bson.M) ([]*CompletionLog, error) {
	cur, err := r.logs.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "completedAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var docs []logDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*CompletionLog, 0, len(docs))
	for i := range docs {
		l, err := docs[i].model()
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *repoMongo) CreateLog(ctx context.Context, l *CompletionLog) error {
	l.ID = uuid.New()
	l.CreatedAt = time.Now().UTC()
	_, err := r.logs.InsertOne(ctx, logDoc{
		ID:              l.ID.String(),
		BookingID:       l.BookingID.String(),
		DoctorID:        l.DoctorID.String(),
		PatientID:       idString(l.PatientID),
		PatientName:     l.PatientName,
		Service:         l.Service,
		AppointmentDate: l.AppointmentDate,
		Notes:           l.Notes,
		Rating:          l.Rating,
		CompletedAt:     l.CompletedAt,
		CreatedAt:       l.CreatedAt,
		CountersApplied: l.CountersApplied,
	})
	if mongostore.IsDuplicate(err) {
		return ErrLogExists
	}
	return err
}

func (r *repoMongo) GetLogByBooking(ctx context.Context, bookingID uuid.UUID) (*CompletionLog, error) {
	var doc logDoc
	err := r.logs.FindOne(ctx, bson.M{"bookingId": bookingID.String()}).Decode(&doc)
	if mongostore.IsNotFound(err) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.model()
}

func (r *repoMongo) MarkCountersApplied(ctx context.Context, logID uuid.UUID) error {
	res, err := r.logs.UpdateOne(ctx, bson.M{"_id": logID.String()},
		bson.M{"$set": bson.M{"countersApplied": true}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrLogNotFound
	}
	return nil
}

func (r *repoMongo) ListLogsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*CompletionLog, error) {
	return r.findLogs(ctx, bson.M{"doctorId": doctorID.String()})
}

func (r *repoMongo) ListLogsByPatient(ctx context.Context, patientID uuid.UUID) ([]*CompletionLog, error) {
	return r.findLogs(ctx, bson.M{"patientId": patientID.String()})
}
