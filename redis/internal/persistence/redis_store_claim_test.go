package persistence

import (
	"context"
	"sync"
	"time"

	corep "github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/pkg/api"
)

func (r *RedisStoreTestSuite) TestRedisStore_ClaimWorkItem() {
	ctx := context.Background()

	item := &api.WorkItem{ID: "redis-claim-1", WorkflowID: "redis-wf-1", TaskInstanceID: "redis-ti-1", TaskName: "pick", State: api.WorkItemInitialized, CreatedAt: time.Now()}
	err := r.store.SaveWorkItem(item)
	r.NoErrorf(err, "SaveWorkItem failed: %v", err)

	err = r.store.ClaimWorkItem(ctx, "redis-claim-1", "picker-1")
	r.NoErrorf(err, "ClaimWorkItem picker-1: %v", err)

	got, err := r.store.GetWorkItem("redis-claim-1")
	r.NoErrorf(err, "GetWorkItem failed: %v", err)
	if got.State != api.WorkItemStarted || got.Claimant != "picker-1" {
		r.Failf("claim not recorded", "work item after claim: %+v", got)
	}

	// A second claimant must lose once the item left INITIALIZED.
	err = r.store.ClaimWorkItem(ctx, "redis-claim-1", "picker-2")
	r.ErrorIsf(err, corep.ErrClaimConflict, "expected ErrClaimConflict, got %v", err)

	err = r.store.ClaimWorkItem(ctx, "missing", "picker-2")
	r.ErrorIsf(err, corep.ErrWorkItemNotFound, "expected ErrWorkItemNotFound, got %v", err)
}

func (r *RedisStoreTestSuite) TestRedisStore_ClaimConcurrentOnlyOne() {
	ctx := context.Background()

	item := &api.WorkItem{ID: "redis-claim-race", WorkflowID: "redis-wf-1", TaskInstanceID: "redis-ti-1", TaskName: "pick", State: api.WorkItemInitialized, CreatedAt: time.Now()}
	err := r.store.SaveWorkItem(item)
	r.NoErrorf(err, "SaveWorkItem failed: %v", err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)

	claimants := []string{"picker-1", "picker-2", "picker-3", "picker-4"}
	for _, claimant := range claimants {
		wg.Add(1)
		go func(c string) {
			defer wg.Done()
			if err := r.store.ClaimWorkItem(ctx, "redis-claim-race", c); err == nil {
				mu.Lock()
				winners = append(winners, c)
				mu.Unlock()
			}
		}(claimant)
	}
	wg.Wait()

	r.EqualValues(1, len(winners), "expected exactly one winning claimant, got %d: %v", len(winners), winners)

	if len(winners) == 1 {
		got, err := r.store.GetWorkItem("redis-claim-race")
		r.NoErrorf(err, "GetWorkItem failed: %v", err)
		if got.State != api.WorkItemStarted || got.Claimant != winners[0] {
			r.Failf("unexpected claimant", "work item after race: %+v", got)
		}
	}
}
