// Package mongostore connects to MongoDB and owns the collection layout
// shared by the document-backed repositories.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinicbook/clinic/internal/platform/db"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names. Accounts keep the historical "patients" name.
const (
	Accounts       = "patients"
	Services       = "services"
	Slots          = "availabilities"
	Bookings       = "bookings"
	CompletionLogs = "completion_logs"
)

// Store wraps a connected client and the selected database.
type Store struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// Connect dials uri and verifies the primary is reachable.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetConnectTimeout(10 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Store{Client: client, DB: client.Database(database)}, nil
}

func (s *Store) Collection(name string) *mongo.Collection {
	return s.DB.Collection(name)
}

func (s *Store) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}

// Probe adapts the store to the shared /health/store handler.
func (s *Store) Probe() db.Probe {
	return db.Probe{
		Driver: "mongo",
		Ping:   func(ctx context.Context) error { return s.Client.Ping(ctx, nil) },
		Stats:  func() interface{} { return map[string]string{"database": s.DB.Name()} },
	}
}

// Indexes lists the indexes each collection needs. Unique keys back the
// conflict checks the services rely on.
func Indexes() map[string][]mongo.IndexModel {
	unique := func() *options.IndexOptionsBuilder { return options.Index().SetUnique(true) }
	return map[string][]mongo.IndexModel{
		Accounts: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique()},
			{Keys: bson.D{{Key: "role", Value: 1}}},
		},
		Services: {
			{Keys: bson.D{{Key: "slug", Value: 1}}, Options: unique()},
		},
		Slots: {
			{Keys: bson.D{{Key: "doctorId", Value: 1}, {Key: "date", Value: 1}, {Key: "start", Value: 1}}},
			{Keys: bson.D{{Key: "date", Value: 1}}},
		},
		Bookings: {
			{Keys: bson.D{{Key: "doctorId", Value: 1}, {Key: "date", Value: 1}}},
			{Keys: bson.D{{Key: "patientId", Value: 1}}},
		},
		CompletionLogs: {
			{Keys: bson.D{{Key: "bookingId", Value: 1}}, Options: unique()},
			{Keys: bson.D{{Key: "doctorId", Value: 1}, {Key: "completedAt", Value: -1}}},
		},
	}
}

// EnsureIndexes creates every index from Indexes. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for name, models := range Indexes() {
		if _, err := s.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

// IsNotFound reports the driver's empty-result error.
func IsNotFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func IsDuplicate(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

// Passthrough runs fn directly. Documents are written one at a time, so
// the keyed lock held by the caller is what serializes booking writes.
type Passthrough struct{}

func (Passthrough) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
