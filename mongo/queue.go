package mongo

import (
	"github.com/petrijr/weft"
	"go.mongodb.org/mongo-driver/mongo"

	mqueue "github.com/petrijr/weft/mongo/internal/taskqueue"
)

// NewMongoQueue returns a standalone Mongo-backed propagation step queue,
// for wiring an engine whose stores live elsewhere.
// dbName defaults to "weft" if empty.
func NewMongoQueue(client *mongo.Client, dbName string) weft.Queue {
	return mqueue.NewMongoQueue(client, dbName)
}
