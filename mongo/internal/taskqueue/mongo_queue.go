package taskqueue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	coreq "github.com/petrijr/weft/internal/taskqueue"
)

// MongoQueue implements the propagation step queue on a MongoDB
// collection. Steps are stored as gob blobs; eligibility (NotBefore) and
// FIFO order live in their own fields so the claiming query never has to
// decode anything:
//
//	{
//	  _id:        string,  // queue-generated, the Step keeps its own ID
//	  payload:    []byte,  // gob-encoded Step
//	  created_at: int64,   // Unix nanoseconds
//	  not_before: int64,   // Unix nanoseconds, 0 means immediately
//	}
//
// created_at is an integer rather than a BSON datetime because BSON
// datetimes only resolve milliseconds and FIFO ties would be broken.
// Claiming uses FindOneAndDelete, so several processes can drain the same
// collection without handing out a step twice.
type MongoQueue struct {
	coll         *mongo.Collection
	pollInterval time.Duration
}

// NewMongoQueue creates a Mongo-backed queue.
// dbName defaults to "weft" if empty.
func NewMongoQueue(client *mongo.Client, dbName string) *MongoQueue {
	if dbName == "" {
		dbName = "weft"
	}
	return &MongoQueue{
		coll:         client.Database(dbName).Collection("propagation_steps"),
		pollInterval: 100 * time.Millisecond,
	}
}

// Ensure MongoQueue implements Queue.
var _ coreq.Queue = (*MongoQueue)(nil)

func newStepID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

type mongoStepDoc struct {
	ID        string `bson:"_id"`
	Payload   []byte `bson:"payload"`
	CreatedAt int64  `bson:"created_at"`
	NotBefore int64  `bson:"not_before"`
}

func (q *MongoQueue) Enqueue(ctx context.Context, s coreq.Step) error {
	if s.EnqueuedAt.IsZero() {
		s.EnqueuedAt = time.Now()
	}

	data, err := coreq.EncodeStep(s)
	if err != nil {
		return err
	}

	var notBefore int64
	if !s.NotBefore.IsZero() {
		notBefore = s.NotBefore.UnixNano()
	}

	doc := mongoStepDoc{
		ID:        newStepID(),
		Payload:   data,
		CreatedAt: time.Now().UnixNano(),
		NotBefore: notBefore,
	}
	_, err = q.coll.InsertOne(ctx, doc)
	return err
}

// TryDequeue claims and deletes the oldest eligible step in one
// server-side operation, returning (nil, nil) when nothing is eligible.
func (q *MongoQueue) TryDequeue(ctx context.Context) (*coreq.Step, error) {
	now := time.Now().UnixNano()

	var doc mongoStepDoc
	err := q.coll.FindOneAndDelete(ctx,
		bson.M{"not_before": bson.M{"$lte": now}},
		options.FindOneAndDelete().
			SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return coreq.DecodeStep(doc.Payload)
}

func (q *MongoQueue) Dequeue(ctx context.Context) (*coreq.Step, error) {
	// Reusable timer so idle polling does not allocate per iteration.
	tmr := time.NewTimer(0)
	if !tmr.Stop() {
		select {
		case <-tmr.C:
		default:
		}
	}
	defer tmr.Stop()

	for {
		step, err := q.TryDequeue(ctx)
		if err != nil {
			return nil, err
		}
		if step != nil {
			return step, nil
		}

		tmr.Reset(q.pollInterval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tmr.C:
		}
	}
}

// Len returns an approximate number of queued steps.
func (q *MongoQueue) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := q.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		log.Printf("MongoQueue: Len failed: %v", err)
		return 0
	}
	return int(n)
}
