package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/clinicbook/clinic/internal/platform/mongostore"
)

type slotDoc struct {
	ID        string    `bson:"_id"`
	DoctorID  string    `bson:"doctorId"`
	Date      string    `bson:"date"`
	Start     string    `bson:"start"`
	End       string    `bson:"end"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func toDoc(s *Slot) slotDoc {
	return slotDoc{
		ID:        s.ID.String(),
		DoctorID:  s.DoctorID.String(),
		Date:      s.Date,
		Start:     s.Start,
		End:       s.End,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (d *slotDoc) model() (*Slot, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	doctorID, err := uuid.Parse(d.DoctorID)
	if err != nil {
		return nil, err
	}
	return &Slot{
		ID:        id,
		DoctorID:  doctorID,
		Date:      d.Date,
		Start:     d.Start,
		End:       d.End,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

type repoMongo struct {
	coll *mongo.Collection
}

func NewRepoMongo(store *mongostore.Store) Repository {
	return &repoMongo{coll: store.Collection(mongostore.Slots)}
}

var slotOrder = options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "start", Value: 1}})

func (r *repoMongo) find(ctx context.Context, filter bson.M) ([]*Slot, error) {
	cur, err := r.coll.Find(ctx, filter, slotOrder)
	if err != nil {
		return nil, err
	}
	var docs []slotDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*Slot, 0, len(docs))
	for i := range docs {
		s, err := docs[i].model()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *repoMongo) CreateMany(ctx context.Context, slots []*Slot) error {
	if len(slots) == 0 {
		return nil
	}
	now := time.Now().UTC()
	docs := make([]any, 0, len(slots))
	for _, s := range slots {
		s.ID = uuid.New()
		s.CreatedAt, s.UpdatedAt = now, now
		docs = append(docs, toDoc(s))
	}
	_, err := r.coll.InsertMany(ctx, docs)
	return err
}

func (r *repoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	var doc slotDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if mongostore.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.model()
}

func (r *repoMongo) Update(ctx context.Context, s *Slot) error {
	s.UpdatedAt = time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": s.ID.String()}, bson.M{"$set": bson.M{
		"date":      s.Date,
		"start":     s.Start,
		"end":       s.End,
		"updatedAt": s.UpdatedAt,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoMongo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoMongo) deleteMany(ctx context.Context, filter bson.M) (int, error) {
	res, err := r.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

func (r *repoMongo) DeleteByDate(ctx context.Context, doctorID uuid.UUID, date string) (int, error) {
	return r.deleteMany(ctx, bson.M{"doctorId": doctorID.String(), "date": date})
}

func (r *repoMongo) DeleteByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error) {
	return r.deleteMany(ctx, bson.M{"doctorId": doctorID.String()})
}

func (r *repoMongo) DeleteOrphans(ctx context.Context, keep []uuid.UUID) (int, error) {
	ids := make([]string, 0, len(keep))
	for _, id := range keep {
		ids = append(ids, id.String())
	}
	return r.deleteMany(ctx, bson.M{"doctorId": bson.M{"$nin": ids}})
}

func (r *repoMongo) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Slot, error) {
	return r.find(ctx, bson.M{"doctorId": doctorID.String()})
}

func (r *repoMongo) ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date string) ([]*Slot, error) {
	return r.find(ctx, bson.M{"doctorId": doctorID.String(), "date": date})
}
