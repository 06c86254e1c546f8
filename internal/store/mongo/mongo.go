// Package mongo stores default providers in MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yourorg/chain-explorer/internal/store"
	"github.com/yourorg/chain-explorer/internal/types"
)

const (
	database   = "explorer"
	collection = "default_providers"

	// duplicateKey is the server error code for a unique index violation
	duplicateKey = 11000
)

// Mongo implements store.DefaultProviders on a MongoDB collection with a
// unique index on (network, operation).
type Mongo struct {
	c   *mgo.Client
	col *mgo.Collection
}

var _ store.DefaultProviders = (*Mongo)(nil)

type document struct {
	Network   string    `bson:"network"`
	Operation string    `bson:"operation"`
	Provider  string    `bson:"provider"`
	SetAt     time.Time `bson:"set_at"`
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(ctx context.Context, uri string) (*Mongo, error) {
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Connect(connectCtx); err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	col := c.Database(database).Collection(collection)
	_, err = col.Indexes().CreateOne(connectCtx, mgo.IndexModel{
		Keys:    bson.D{{Key: "network", Value: 1}, {Key: "operation", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = c.Disconnect(context.Background())
		return nil, fmt.Errorf("error creating default provider index: %w", err)
	}
	return &Mongo{c: c, col: col}, nil
}

// Get implements store.DefaultProviders
func (m *Mongo) Get(ctx context.Context, net types.Network, op types.Operation) (store.Record, error) {
	var doc document
	err := m.col.FindOne(ctx, bson.M{"network": string(net), "operation": op.String()}).Decode(&doc)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("get default provider: %w", err)
	}
	return store.Record{Network: net, Operation: op, Provider: doc.Provider, SetAt: doc.SetAt.UTC()}, nil
}

// Upsert implements store.DefaultProviders. Two concurrent upserts may both
// try the insert; the loser hits the unique index and is retried as an update.
func (m *Mongo) Upsert(ctx context.Context, rec store.Record) error {
	filter := bson.M{"network": string(rec.Network), "operation": rec.Operation.String()}
	update := bson.M{"$set": bson.M{"provider": rec.Provider, "set_at": rec.SetAt}}
	opts := options.Update().SetUpsert(true)

	_, err := m.col.UpdateOne(ctx, filter, update, opts)
	if isDuplicateKey(err) {
		_, err = m.col.UpdateOne(ctx, filter, update, opts)
	}
	if err != nil {
		return fmt.Errorf("upsert default provider: %w", err)
	}
	return nil
}

// List implements store.DefaultProviders
func (m *Mongo) List(ctx context.Context) ([]store.Record, error) {
	cur, err := m.col.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "network", Value: 1}, {Key: "operation", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list default providers: %w", err)
	}
	defer cur.Close(ctx)

	var out []store.Record
	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode default provider: %w", err)
		}
		op, err := types.ParseOperation(doc.Operation)
		if err != nil {
			return nil, err
		}
		out = append(out, store.Record{
			Network:   types.Network(doc.Network),
			Operation: op,
			Provider:  doc.Provider,
			SetAt:     doc.SetAt.UTC(),
		})
	}
	return out, cur.Err()
}

// Close will close the database connection. Must be called at termination time.
func (m *Mongo) Close() error {
	return m.c.Disconnect(context.Background())
}

func isDuplicateKey(err error) bool {
	var we mgo.WriteException
	if !errors.As(err, &we) {
		return false
	}
	for _, e := range we.WriteErrors {
		if e.Code == duplicateKey {
			return true
		}
	}
	return false
}
