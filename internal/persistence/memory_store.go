package persistence

import (
	"context"
	"sync"

	"github.com/petrijr/weft/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of InstanceStore,
// TaskStore and WorkItemStore backed by maps. Records are stored and
// returned by value so callers never alias store-internal state.
type InMemoryStore struct {
	mu        sync.RWMutex
	instances map[string]api.WorkflowInstance
	tasks     map[string]api.TaskInstance
	workItems map[string]api.WorkItem

	// Creation order per map, so listings are deterministic.
	instanceOrder []string
	taskOrder     []string
	workItemOrder []string
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		instances: make(map[string]api.WorkflowInstance),
		tasks:     make(map[string]api.TaskInstance),
		workItems: make(map[string]api.WorkItem),
	}
}

// Ensure InMemoryStore implements the interfaces.
var (
	_ InstanceStore = (*InMemoryStore)(nil)
	_ TaskStore     = (*InMemoryStore)(nil)
	_ WorkItemStore = (*InMemoryStore)(nil)
)

func copyInstance(inst *api.WorkflowInstance) api.WorkflowInstance {
	cp := *inst
	cp.Input = inst.Input.Clone()
	cp.Vars = inst.Vars.Clone()
	cp.Output = inst.Output.Clone()
	if inst.Marking != nil {
		cp.Marking = make(map[string]int, len(inst.Marking))
		for k, v := range inst.Marking {
			cp.Marking[k] = v
		}
	}
	return cp
}

func copyWorkItem(item *api.WorkItem) api.WorkItem {
	cp := *item
	cp.Input = item.Input.Clone()
	cp.Output = item.Output.Clone()
	return cp
}

func (s *InMemoryStore) SaveInstance(inst *api.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; !ok {
		s.instanceOrder = append(s.instanceOrder, inst.ID)
	}
	s.instances[inst.ID] = copyInstance(inst)
	return nil
}

func (s *InMemoryStore) UpdateInstance(inst *api.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; !ok {
		return ErrInstanceNotFound
	}
	s.instances[inst.ID] = copyInstance(inst)
	return nil
}

func (s *InMemoryStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	cp := copyInstance(&inst)
	return &cp, nil
}

func (s *InMemoryStore) ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.WorkflowInstance
	for _, id := range s.instanceOrder {
		inst := s.instances[id]
		if filter.WorkflowName != "" && inst.Name != filter.WorkflowName {
			continue
		}
		if filter.State != "" && inst.State != filter.State {
			continue
		}
		if filter.ParentTaskInstance != "" && inst.ParentTaskInstance != filter.ParentTaskInstance {
			continue
		}
		cp := copyInstance(&inst)
		result = append(result, &cp)
	}
	return result, nil
}

func (s *InMemoryStore) SaveTask(task *api.TaskInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; !ok {
		s.taskOrder = append(s.taskOrder, task.ID)
	}
	s.tasks[task.ID] = *task
	return nil
}

func (s *InMemoryStore) UpdateTask(task *api.TaskInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; !ok {
		return ErrTaskNotFound
	}
	s.tasks[task.ID] = *task
	return nil
}

func (s *InMemoryStore) GetTask(id string) (*api.TaskInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := task
	return &cp, nil
}

func (s *InMemoryStore) ListTasks(filter TaskFilter) ([]*api.TaskInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.TaskInstance
	for _, id := range s.taskOrder {
		task := s.tasks[id]
		if filter.WorkflowID != "" && task.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.TaskName != "" && task.TaskName != filter.TaskName {
			continue
		}
		if filter.State != "" && task.State != filter.State {
			continue
		}
		cp := task
		result = append(result, &cp)
	}
	return result, nil
}

func (s *InMemoryStore) SaveWorkItem(item *api.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workItems[item.ID]; !ok {
		s.workItemOrder = append(s.workItemOrder, item.ID)
	}
	s.workItems[item.ID] = copyWorkItem(item)
	return nil
}

func (s *InMemoryStore) UpdateWorkItem(item *api.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workItems[item.ID]; !ok {
		return ErrWorkItemNotFound
	}
	s.workItems[item.ID] = copyWorkItem(item)
	return nil
}

func (s *InMemoryStore) GetWorkItem(id string) (*api.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.workItems[id]
	if !ok {
		return nil, ErrWorkItemNotFound
	}
	cp := copyWorkItem(&item)
	return &cp, nil
}

func (s *InMemoryStore) ListWorkItems(filter WorkItemFilter) ([]*api.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.WorkItem
	for _, id := range s.workItemOrder {
		item := s.workItems[id]
		if filter.WorkflowID != "" && item.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.TaskInstanceID != "" && item.TaskInstanceID != filter.TaskInstanceID {
			continue
		}
		if filter.TaskName != "" && item.TaskName != filter.TaskName {
			continue
		}
		if filter.State != "" && item.State != filter.State {
			continue
		}
		if filter.ChildWorkflowID != "" && item.ChildWorkflowID != filter.ChildWorkflowID {
			continue
		}
		cp := copyWorkItem(&item)
		result = append(result, &cp)
	}
	return result, nil
}

func (s *InMemoryStore) ClaimWorkItem(ctx context.Context, id, claimant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.workItems[id]
	if !ok {
		return ErrWorkItemNotFound
	}
	if item.State != api.WorkItemInitialized {
		return ErrClaimConflict
	}
	item.State = api.WorkItemStarted
	item.Claimant = claimant
	s.workItems[id] = item
	return nil
}
