package persistence

import (
	"context"
	"sync"
	"time"

	corep "github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/pkg/api"
)

func (p *PostgresStoreTestSuite) TestPostgresStore_ClaimWorkItem() {
	ctx := context.Background()

	item := &api.WorkItem{ID: "pg-claim-1", WorkflowID: "pg-wf-1", TaskInstanceID: "pg-ti-1", TaskName: "qualify", State: api.WorkItemInitialized, CreatedAt: time.Now()}
	err := p.store.SaveWorkItem(item)
	p.NoErrorf(err, "SaveWorkItem failed: %v", err)

	err = p.store.ClaimWorkItem(ctx, "pg-claim-1", "agent-7")
	p.NoErrorf(err, "ClaimWorkItem agent-7: %v", err)

	got, err := p.store.GetWorkItem("pg-claim-1")
	p.NoErrorf(err, "GetWorkItem failed: %v", err)
	if got.State != api.WorkItemStarted || got.Claimant != "agent-7" {
		p.Failf("claim not recorded", "work item after claim: %+v", got)
	}

	// A second claimant must lose once the item left INITIALIZED.
	err = p.store.ClaimWorkItem(ctx, "pg-claim-1", "agent-8")
	p.ErrorIsf(err, corep.ErrClaimConflict, "expected ErrClaimConflict, got %v", err)

	err = p.store.ClaimWorkItem(ctx, "missing", "agent-8")
	p.ErrorIsf(err, corep.ErrWorkItemNotFound, "expected ErrWorkItemNotFound, got %v", err)
}

func (p *PostgresStoreTestSuite) TestPostgresStore_ClaimConcurrentOnlyOne() {
	ctx := context.Background()

	item := &api.WorkItem{ID: "pg-claim-race", WorkflowID: "pg-wf-1", TaskInstanceID: "pg-ti-1", TaskName: "qualify", State: api.WorkItemInitialized, CreatedAt: time.Now()}
	err := p.store.SaveWorkItem(item)
	p.NoErrorf(err, "SaveWorkItem failed: %v", err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)

	claimants := []string{"agent-1", "agent-2", "agent-3", "agent-4"}
	for _, claimant := range claimants {
		wg.Add(1)
		go func(c string) {
			defer wg.Done()
			if err := p.store.ClaimWorkItem(ctx, "pg-claim-race", c); err == nil {
				mu.Lock()
				winners = append(winners, c)
				mu.Unlock()
			}
		}(claimant)
	}
	wg.Wait()

	p.EqualValues(1, len(winners), "expected exactly one winning claimant, got %d: %v", len(winners), winners)

	if len(winners) == 1 {
		got, err := p.store.GetWorkItem("pg-claim-race")
		p.NoErrorf(err, "GetWorkItem failed: %v", err)
		if got.State != api.WorkItemStarted || got.Claimant != winners[0] {
			p.Failf("unexpected claimant", "work item after race: %+v", got)
		}
	}
}
