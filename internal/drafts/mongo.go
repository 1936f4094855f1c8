package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	slotsCollection   = "checkout_slots"
	mongoTimeout      = 5 * time.Second
	maxUpdateAttempts = 5
)

var ErrConcurrentUpdate = errors.New("checkout slot changed concurrently")

// The slot travels as JSON inside the document; decimals have no bson codec.
type slotDocument struct {
	SessionID string    `bson:"_id"`
	Slot      string    `bson:"slot"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore keeps slots in a MongoDB collection. Update is optimistic: the
// write only lands if the version read is still current.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(slotsCollection)}
}

// EnsureIndexes creates the index Expire relies on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.M{"updated_at": 1}})
	if err != nil {
		return fmt.Errorf("create slot indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, sessionID string) (*Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	slot, _, err := s.find(ctx, sessionID)
	return slot, err
}

func (s *MongoStore) Save(ctx context.Context, sessionID string, slot *Slot) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	set, err := encodeSlot(slot)
	if err != nil {
		return err
	}
	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": sessionID},
		bson.M{"$set": set, "$inc": bson.M{"version": 1}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) Update(ctx context.Context, sessionID string, fn func(*Slot) error) (*Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		slot, version, err := s.find(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if err := fn(slot); err != nil {
			return nil, err
		}

		set, err := encodeSlot(slot)
		if err != nil {
			return nil, err
		}
		err = s.coll.FindOneAndUpdate(ctx,
			bson.M{"_id": sessionID, "version": version},
			bson.M{"$set": set, "$inc": bson.M{"version": 1}},
		).Err()
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return slot, nil
	}
	return nil, ErrConcurrentUpdate
}

func (s *MongoStore) Clear(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": sessionID})
	return err
}

func (s *MongoStore) Expire(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	res, err := s.coll.DeleteMany(ctx, bson.M{"updated_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) find(ctx context.Context, sessionID string) (*Slot, int64, error) {
	var doc slotDocument
	if err := s.coll.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}

	var slot Slot
	if err := json.Unmarshal([]byte(doc.Slot), &slot); err != nil {
		return nil, 0, fmt.Errorf("decode slot %s: %w", sessionID, err)
	}
	return &slot, doc.Version, nil
}

func encodeSlot(slot *Slot) (bson.M, error) {
	slot.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(slot)
	if err != nil {
		return nil, err
	}
	return bson.M{"slot": string(raw), "updated_at": slot.UpdatedAt}, nil
}
