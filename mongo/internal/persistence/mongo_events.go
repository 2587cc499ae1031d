package persistence

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	corep "github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/pkg/api"
)

// MongoEventStore appends the audit trail to a workflow_events collection,
// one flat document per event. Events carry a Unix-nanosecond timestamp
// and ListEvents sorts on it, so the trail comes back in append order.
type MongoEventStore struct {
	coll *mongo.Collection
}

var _ corep.EventStore = (*MongoEventStore)(nil)

// NewMongoEventStore creates a Mongo-backed event store.
// dbName defaults to "weft" if empty.
func NewMongoEventStore(client *mongo.Client, dbName string) *MongoEventStore {
	if dbName == "" {
		dbName = "weft"
	}
	return &MongoEventStore{
		coll: client.Database(dbName).Collection("workflow_events"),
	}
}

func newEventID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

type mongoEventDoc struct {
	ID           string `bson:"_id"`
	InstanceID   string `bson:"instance_id"`
	At           int64  `bson:"at"`
	Type         string `bson:"type"`
	Actor        string `bson:"actor,omitempty"`
	WorkflowName string `bson:"workflow_name,omitempty"`
	TaskName     string `bson:"task_name,omitempty"`
	EntityID     string `bson:"entity_id,omitempty"`
	From         string `bson:"from,omitempty"`
	To           string `bson:"to,omitempty"`
	Detail       string `bson:"detail,omitempty"`
}

func (s *MongoEventStore) AppendEvent(ctx context.Context, ev api.Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	doc := mongoEventDoc{
		ID:           newEventID(),
		InstanceID:   ev.InstanceID,
		At:           ev.At.UnixNano(),
		Type:         string(ev.Type),
		Actor:        ev.Actor,
		WorkflowName: ev.WorkflowName,
		TaskName:     ev.TaskName,
		EntityID:     ev.EntityID,
		From:         ev.From,
		To:           ev.To,
		Detail:       ev.Detail,
	}
	_, err := s.coll.InsertOne(ctx, doc)
	return err
}

func (s *MongoEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.Event, error) {
	sorting := options.Find().SetSort(bson.D{{Key: "at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{"instance_id": instanceID}, sorting)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	events := make([]api.Event, 0)
	for cur.Next(ctx) {
		var doc mongoEventDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		events = append(events, api.Event{
			InstanceID:   doc.InstanceID,
			At:           time.Unix(0, doc.At),
			Type:         api.EventType(doc.Type),
			Actor:        doc.Actor,
			WorkflowName: doc.WorkflowName,
			TaskName:     doc.TaskName,
			EntityID:     doc.EntityID,
			From:         doc.From,
			To:           doc.To,
			Detail:       doc.Detail,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
