package persistence

import (
	"context"
	"sync"
	"time"

	corep "github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/pkg/api"
)

func (m *MongoStoreTestSuite) TestMongoStore_ClaimWorkItem() {
	ctx := context.Background()

	item := &api.WorkItem{ID: "mongo-claim-1", WorkflowID: "mongo-wf-1", TaskInstanceID: "mongo-ti-1", TaskName: "triage", State: api.WorkItemInitialized, CreatedAt: time.Now()}
	err := m.store.SaveWorkItem(item)
	m.NoErrorf(err, "SaveWorkItem failed: %v", err)

	err = m.store.ClaimWorkItem(ctx, "mongo-claim-1", "adjuster-1")
	m.NoErrorf(err, "ClaimWorkItem adjuster-1: %v", err)

	got, err := m.store.GetWorkItem("mongo-claim-1")
	m.NoErrorf(err, "GetWorkItem failed: %v", err)
	if got.State != api.WorkItemStarted || got.Claimant != "adjuster-1" {
		m.Failf("claim not recorded", "work item after claim: %+v", got)
	}

	// A second claimant must lose once the item left INITIALIZED.
	err = m.store.ClaimWorkItem(ctx, "mongo-claim-1", "adjuster-2")
	m.ErrorIsf(err, corep.ErrClaimConflict, "expected ErrClaimConflict, got %v", err)

	err = m.store.ClaimWorkItem(ctx, "missing", "adjuster-2")
	m.ErrorIsf(err, corep.ErrWorkItemNotFound, "expected ErrWorkItemNotFound, got %v", err)
}

func (m *MongoStoreTestSuite) TestMongoStore_ClaimConcurrentOnlyOne() {
	ctx := context.Background()

	item := &api.WorkItem{ID: "mongo-claim-race", WorkflowID: "mongo-wf-1", TaskInstanceID: "mongo-ti-1", TaskName: "triage", State: api.WorkItemInitialized, CreatedAt: time.Now()}
	err := m.store.SaveWorkItem(item)
	m.NoErrorf(err, "SaveWorkItem failed: %v", err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)

	claimants := []string{"adjuster-1", "adjuster-2", "adjuster-3", "adjuster-4"}
	for _, claimant := range claimants {
		wg.Add(1)
		go func(c string) {
			defer wg.Done()
			if err := m.store.ClaimWorkItem(ctx, "mongo-claim-race", c); err == nil {
				mu.Lock()
				winners = append(winners, c)
				mu.Unlock()
			}
		}(claimant)
	}
	wg.Wait()

	m.EqualValues(1, len(winners), "expected exactly one winning claimant, got %d: %v", len(winners), winners)

	if len(winners) == 1 {
		got, err := m.store.GetWorkItem("mongo-claim-race")
		m.NoErrorf(err, "GetWorkItem failed: %v", err)
		if got.State != api.WorkItemStarted || got.Claimant != winners[0] {
			m.Failf("unexpected claimant", "work item after race: %+v", got)
		}
	}
}
