package catalog

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/clinicbook/clinic/internal/platform/mongostore"
)

type serviceDoc struct {
	ID          string    `bson:"_id"`
	Title       string    `bson:"title"`
	Slug        string    `bson:"slug"`
	Description string    `bson:"description"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

func (d *serviceDoc) model() (*Service, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	return &Service{
		ID:          id,
		Title:       d.Title,
		Slug:        d.Slug,
		Description: d.Description,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

type repoMongo struct {
	coll *mongo.Collection
}

func NewRepoMongo(store *mongostore.Store) Repository {
	return &repoMongo{coll: store.Collection(mongostore.Services)}
}

func (r *repoMongo) findOne(ctx context.Context, filter bson.M) (*Service, error) {
	var doc serviceDoc
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if mongostore.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.model()
}

func (r *repoMongo) Create(ctx context.Context, s *Service) error {
	s.ID = uuid.New()
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	_, err := r.coll.InsertOne(ctx, serviceDoc{
		ID:          s.ID.String(),
		Title:       s.Title,
		Slug:        s.Slug,
		Description: s.Description,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	})
	if mongostore.IsDuplicate(err) {
		return ErrSlugTaken
	}
	return err
}

func (r *repoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Service, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()})
}

func (r *repoMongo) GetBySlug(ctx context.Context, slug string) (*Service, error) {
	return r.findOne(ctx, bson.M{"slug": slug})
}

func (r *repoMongo) GetByTitle(ctx context.Context, title string) (*Service, error) {
	pattern := "^" + regexp.QuoteMeta(title) + "$"
	return r.findOne(ctx, bson.M{"title": bson.M{"$regex": pattern, "$options": "i"}})
}

func (r *repoMongo) List(ctx context.Context) ([]*Service, error) {
	opts := options.Find().SetSort(bson.D{{Key: "title", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*Service
	for cursor.Next(ctx) {
		var doc serviceDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		s, err := doc.model()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, cursor.Err()
}

func (r *repoMongo) Update(ctx context.Context, s *Service) error {
	s.UpdatedAt = time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": s.ID.String()}, bson.M{"$set": bson.M{
		"title":       s.Title,
		"slug":        s.Slug,
		"description": s.Description,
		"updatedAt":   s.UpdatedAt,
	}})
	if mongostore.IsDuplicate(err) {
		return ErrSlugTaken
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
