// Package mongostore implements the durable-store bridge's primary tier,
// backed by MongoDB.
//
// Modeled on goa-ai's features/run/mongo package: a thin Store that
// delegates to a narrow client interface, so tests can substitute a fake
// collection without a live database.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/kestrel-systems/harness/internal/store"
)

const (
	defaultCollection = "harness_state"
	defaultOpTimeout  = 5 * time.Second
)

// Client exposes the Mongo-backed operations a Store needs. It is
// satisfied by *mongodriver.Client plus a resolved collection, wrapped by
// NewStoreFromMongo, and by fakes in tests.
type Client interface {
	Ping(ctx context.Context) error
	UpsertState(ctx context.Context, id string, doc bson.M) error
	FindState(ctx context.Context, id string) (bson.M, error)
	DeleteState(ctx context.Context, id string) error
}

// Options configures the Mongo-backed store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements store.Store by delegating to a Client.
type Store struct {
	client Client
}

// NewStore builds a Store using a pre-constructed Client, e.g. a fake in
// tests.
func NewStore(client Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("mongostore: client is required")
	}
	return &Store{client: client}, nil
}

// NewStoreFromMongo constructs a Store backed by a live MongoDB
// connection.
func NewStoreFromMongo(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongostore: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongostore: database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	coll := opts.Client.Database(opts.Database).Collection(collName)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, fmt.Errorf("mongostore: ensure indexes: %w", err)
	}

	return NewStore(&mongoClient{mongo: opts.Client, coll: coll, timeout: timeout})
}

func ensureIndexes(ctx context.Context, coll *mongodriver.Collection) error {
	idx := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "harness_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, idx)
	return err
}

func (s *Store) Persist(ctx context.Context, id string, state store.State) error {
	doc, err := toDocument(state)
	if err != nil {
		return fmt.Errorf("mongostore: encode state for %s: %w", id, err)
	}
	return s.client.UpsertState(ctx, id, doc)
}

func (s *Store) Restore(ctx context.Context, id string) (store.State, error) {
	doc, err := s.client.FindState(ctx, id)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return store.State{}, store.ErrNotFound
	}
	if err != nil {
		return store.State{}, fmt.Errorf("mongostore: find %s: %w", id, err)
	}
	return fromDocument(doc)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.client.DeleteState(ctx, id)
}

// IsAvailable pings the underlying Mongo client.
func (s *Store) IsAvailable(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(pingCtx) == nil
}

// toDocument serialises state through store.Marshal so the stored
// document and the redisstore/memstore wire formats stay identical, then
// wraps it in a bson.M with the lookup key.
func toDocument(state store.State) (bson.M, error) {
	data, err := store.Marshal(state)
	if err != nil {
		return nil, err
	}
	var raw bson.M
	if err := bson.UnmarshalExtJSON(data, true, &raw); err != nil {
		return nil, err
	}
	raw["harness_id"] = state.HarnessID
	return raw, nil
}

func fromDocument(doc bson.M) (store.State, error) {
	delete(doc, "_id")
	delete(doc, "harness_id")
	data, err := bson.MarshalExtJSON(doc, false, true)
	if err != nil {
		return store.State{}, err
	}
	return store.Unmarshal(data)
}

type mongoClient struct {
	mongo   *mongodriver.Client
	coll    *mongodriver.Collection
	timeout time.Duration
}

func (c *mongoClient) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *mongoClient) UpsertState(ctx context.Context, id string, doc bson.M) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	filter := bson.M{"harness_id": id}
	update := bson.M{"$set": doc}
	_, err := c.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (c *mongoClient) FindState(ctx context.Context, id string) (bson.M, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var doc bson.M
	err := c.coll.FindOne(ctx, bson.M{"harness_id": id}).Decode(&doc)
	return doc, err
}

func (c *mongoClient) DeleteState(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.coll.DeleteOne(ctx, bson.M{"harness_id": id})
	return err
}
