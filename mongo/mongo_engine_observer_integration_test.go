package mongo

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/petrijr/weft"
	"github.com/petrijr/weft/mongo/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TestMongoEngineWithObserverAndBasicMetrics wires together:
//   - a real MongoDB instance (via testcontainers)
//   - the public NewMongoEngineWithObserver constructor
//   - the public builder API
//   - the public BasicMetrics implementation and Snapshot
//
// The goal is to verify that, from the perspective of an external user,
// logging/metrics and the Mongo-backed engine can be used end-to-end
// using only the public weft package.
func TestMongoEngineWithObserverAndBasicMetrics(t *testing.T) {
	t.Parallel()

	// Spin up a throwaway MongoDB instance for the duration of the test.
	uri := testutil.GetMongoURI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err, "mongo.Connect failed")
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})

	// Start from a clean database so records from earlier runs don't
	// leak into the listings below.
	require.NoError(t, client.Database("weft").Drop(ctx))

	metrics := &weft.BasicMetrics{}

	// Use a real slog.Logger, but discard output so tests stay quiet.
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	observer := weft.NewCompositeObserver(
		weft.NewLoggingObserver(logger),
		metrics,
	)

	// This is the constructor we want to validate: public, Mongo-backed,
	// and accepting an Observer for logging/metrics.
	engine := NewMongoEngineWithObserver(client, observer)

	// Define a simple 2-task workflow.
	wf := weft.New("mongo-metrics-workflow").
		Initial("queued").
		Task("first", weft.WithAutoInitialize()).
		Task("second", weft.WithAutoInitialize()).
		Flow("queued", "first").
		Flow("first", "second").
		Flow("second", "done").
		Terminal("done")

	require.NoError(t, wf.Register(engine), "Register should succeed")

	id, err := weft.Initialize(ctx, engine, wf.Name(), weft.Payload{"doc": "m-1"})
	require.NoError(t, err, "Initialize should succeed")

	// Work both tasks in order, draining in between so the Mongo-backed
	// queue moves the token.
	for _, task := range []string{"first", "second"} {
		require.NoError(t, engine.Drain(ctx), "Drain should succeed")

		items, err := engine.GetWorkItemsByState(ctx, id, weft.WorkItemInitialized)
		require.NoError(t, err)
		require.Len(t, items, 1, "expected one work item for %s", task)
		require.Equal(t, task, items[0].TaskName)

		require.NoError(t, engine.StartWorkItem(ctx, items[0].ID, "integration"))
		require.NoError(t, engine.CompleteWorkItem(ctx, items[0].ID, weft.Payload{task: "ok"}))
	}
	require.NoError(t, engine.Drain(ctx), "final Drain should succeed")

	inst, err := engine.GetWorkflow(ctx, id)
	require.NoError(t, err)
	require.Equal(t, weft.WorkflowCompleted, inst.State, "workflow should complete successfully")
	require.Equal(t, "ok", inst.Output["second"], "task output should land in the case payload")

	snap := metrics.Snapshot()

	require.Equal(t, int64(1), snap.WorkflowsStarted, "expected exactly 1 workflow started")
	require.Equal(t, int64(1), snap.WorkflowsCompleted, "expected exactly 1 workflow completed")
	require.Equal(t, int64(0), snap.RunningWorkflows, "expected 0 running workflows")
	require.Equal(t, int64(2), snap.TasksCompleted, "expected 2 tasks completed")
	require.Equal(t, int64(2), snap.WorkItemsStarted, "expected 2 work items started")
	require.Equal(t, int64(2), snap.WorkItemsCompleted, "expected 2 work items completed")
	require.Equal(t, int64(0), snap.WorkItemsFailed, "expected 0 work item failures")
}
