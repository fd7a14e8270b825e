package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/clinicbook/clinic/internal/matching"
	"github.com/clinicbook/clinic/internal/platform/auth"
	"github.com/clinicbook/clinic/internal/platform/mongostore"
)

type accountDoc struct {
	ID                    string    `bson:"_id"`
	Email                 string    `bson:"email"`
	Name                  string    `bson:"name"`
	Phone                 string    `bson:"phone"`
	PasswordHash          string    `bson:"password"`
	Role                  string    `bson:"role"`
	Services              []any     `bson:"services"`
	Specialization        string    `bson:"specialization,omitempty"`
	Experience            int       `bson:"experience,omitempty"`
	Qualification         string    `bson:"qualification,omitempty"`
	AvgRating             float64   `bson:"avgRating"`
	RatingCount           int       `bson:"ratingCount"`
	CompletedAppointments int       `bson:"completedAppointments"`
	CreatedAt             time.Time `bson:"createdAt"`
	UpdatedAt             time.Time `bson:"updatedAt"`
}

func toDoc(a *Account) accountDoc {
	return accountDoc{
		ID:                    a.ID.String(),
		Email:                 a.Email,
		Name:                  a.Name,
		Phone:                 a.Phone,
		PasswordHash:          a.PasswordHash,
		Role:                  string(a.Role),
		Services:              refsToBSON(a.Services),
		Specialization:        a.Specialization,
		Experience:            a.Experience,
		Qualification:         a.Qualification,
		AvgRating:             a.AvgRating,
		RatingCount:           a.RatingCount,
		CompletedAppointments: a.CompletedAppointments,
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
	}
}

func (d *accountDoc) model() (*Account, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("account id %q: %w", d.ID, err)
	}
	role, ok := auth.ParseRole(d.Role)
	if !ok {
		return nil, fmt.Errorf("account %s has unknown role %q", d.ID, d.Role)
	}
	return &Account{
		ID:                    id,
		Email:                 d.Email,
		Name:                  d.Name,
		Phone:                 d.Phone,
		PasswordHash:          d.PasswordHash,
		Role:                  role,
		Services:              refsFromBSON(d.Services),
		Specialization:        d.Specialization,
		Experience:            d.Experience,
		Qualification:         d.Qualification,
		AvgRating:             d.AvgRating,
		RatingCount:           d.RatingCount,
		CompletedAppointments: d.CompletedAppointments,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}, nil
}

// refToBSON stores plain refs as strings and embedded refs as sub-documents.
func refToBSON(ref matching.ServiceRef) any {
	if ref.Kind != matching.RefEmbedded {
		return ref.Value
	}
	doc := bson.M{}
	for k, v := range map[string]string{"id": ref.ID, "title": ref.Title, "name": ref.Name, "slug": ref.Slug} {
		if v != "" {
			doc[k] = v
		}
	}
	return doc
}

func refsToBSON(refs []matching.ServiceRef) []any {
	out := make([]any, 0, len(refs))
	for _, r := range refs {
		out = append(out, refToBSON(r))
	}
	return out
}

// refsFromBSON accepts whatever the services array holds: strings, object
// ids, or sub-documents written by older clients. Unknown shapes are
// dropped.
func refsFromBSON(vals []any) []matching.ServiceRef {
	refs := make([]matching.ServiceRef, 0, len(vals))
	for _, v := range vals {
		var ref matching.ServiceRef
		var ok bool
		switch t := v.(type) {
		case bson.D:
			m := make(map[string]any, len(t))
			for _, e := range t {
				m[e.Key] = e.Value
			}
			ref, ok = matching.RefFromValue(m)
		case bson.M:
			ref, ok = matching.RefFromValue(map[string]any(t))
		case bson.ObjectID:
			ref, ok = matching.ParseServiceRef(t.Hex()), true
		default:
			ref, ok = matching.RefFromValue(v)
		}
		if ok && !ref.IsZero() {
			refs = append(refs, ref)
		}
	}
	return refs
}

type repoMongo struct {
	coll *mongo.Collection
}

func NewRepoMongo(store *mongostore.Store) Repository {
	return &repoMongo{coll: store.Collection(mongostore.Accounts)}
}

func (r *repoMongo) findOne(ctx context.Context, filter bson.M) (*Account, error) {
	var doc accountDoc
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if mongostore.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.model()
}

func (r *repoMongo) Create(ctx context.Context, a *Account) error {
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	if a.Services == nil {
		a.Services = []matching.ServiceRef{}
	}
	_, err := r.coll.InsertOne(ctx, toDoc(a))
	if mongostore.IsDuplicate(err) {
		return ErrEmailTaken
	}
	return err
}

func (r *repoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()})
}

func (r *repoMongo) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *repoMongo) Update(ctx context.Context, a *Account) error {
	a.UpdatedAt = time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": a.ID.String()}, bson.M{"$set": bson.M{
		"email":          a.Email,
		"name":           a.Name,
		"phone":          a.Phone,
		"password":       a.PasswordHash,
		"role":           string(a.Role),
		"services":       refsToBSON(a.Services),
		"specialization": a.Specialization,
		"experience":     a.Experience,
		"qualification":  a.Qualification,
		"updatedAt":      a.UpdatedAt,
	}})
	if mongostore.IsDuplicate(err) {
		return ErrEmailTaken
	}
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

func (r *repoMongo) find(ctx context.Context, filter bson.M) ([]*Account, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*Account
	for cursor.Next(ctx) {
		var doc accountDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		a, err := doc.model()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, cursor.Err()
}

func (r *repoMongo) ListByRole(ctx context.Context, role auth.Role) ([]*Account, error) {
	return r.find(ctx, bson.M{"role": string(role)})
}

func (r *repoMongo) List(ctx context.Context) ([]*Account, error) {
	return r.find(ctx, bson.M{})
}

func (r *repoMongo) AddService(ctx context.Context, id uuid.UUID, ref matching.ServiceRef) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id.String()}, bson.M{
		"$push": bson.M{"services": refToBSON(ref)},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoMongo) SetServices(ctx context.Context, id uuid.UUID, refs []matching.ServiceRef) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id.String()}, bson.M{"$set": bson.M{
		"services":  refsToBSON(refs),
		"updatedAt": time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

const completionAttempts = 5

var errCompletionContention = errors.New("doctor counters changed concurrently")

// counterFilter treats a missing counter on older documents as zero.
func counterFilter(v int) any {
	if v == 0 {
		return bson.M{"$in": bson.A{0, nil}}
	}
	return v
}

// RecordCompletion is a compare-and-set on the counters so the average is
// computed by the same rounding as every other path.
func (r *repoMongo) RecordCompletion(ctx context.Context, doctorID uuid.UUID, rating *float64) (*Account, error) {
	for attempt := 0; attempt < completionAttempts; attempt++ {
		a, err := r.findOne(ctx, bson.M{"_id": doctorID.String(), "role": string(auth.RoleDoctor)})
		if err != nil {
			return nil, err
		}
		filter := bson.M{
			"_id":                   a.ID.String(),
			"ratingCount":           counterFilter(a.RatingCount),
			"completedAppointments": counterFilter(a.CompletedAppointments),
		}
		a.ApplyCompletion(rating)
		a.UpdatedAt = time.Now().UTC()
		res, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
			"avgRating":             a.AvgRating,
			"ratingCount":           a.RatingCount,
			"completedAppointments": a.CompletedAppointments,
			"updatedAt":             a.UpdatedAt,
		}})
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 1 {
			return a, nil
		}
	}
	return nil, errCompletionContention
}
