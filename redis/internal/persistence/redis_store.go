package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	corep "github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/pkg/api"
)

// RedisStore keeps workflow instances, task instances and work items in
// Redis. It uses a simple key structure:
//
//	<prefix>inst:<id>             => gob-encoded instance record
//	<prefix>task:<id>             => gob-encoded task record
//	<prefix>wi:<id>               => HASH holding one work item
//	<prefix>idx:inst:all          => SET of all instance IDs
//	<prefix>idx:inst:wf:<name>    => SET of instance IDs per workflow name
//	<prefix>idx:inst:state:<s>    => SET of instance IDs per state
//	<prefix>idx:inst:parent:<ti>  => SET of nested instance IDs per parent task instance
//	<prefix>idx:task:all          => SET of all task instance IDs
//	<prefix>idx:task:wf:<id>      => SET of task instance IDs per workflow instance
//	<prefix>idx:wi:all            => SET of all work item IDs
//	<prefix>idx:wi:wf:<id>        => SET of work item IDs per workflow instance
//	<prefix>idx:wi:ti:<id>        => SET of work item IDs per task instance
//	<prefix>idx:wi:child:<id>     => SET of work item IDs per child workflow
//
// The indexes are best-effort: they only grow, and listing re-checks every
// filter field against the decoded record, so a stale index entry costs a
// fetch but never surfaces a wrong row. Work items are hashes rather than
// blobs so ClaimWorkItem can compare-and-set the state field server side.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var (
	_ corep.InstanceStore = (*RedisStore)(nil)
	_ corep.TaskStore     = (*RedisStore)(nil)
	_ corep.WorkItemStore = (*RedisStore)(nil)
)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "weft:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "weft:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisStore) keyInstance(id string) string { return r.prefix + "inst:" + id }
func (r *RedisStore) keyTask(id string) string     { return r.prefix + "task:" + id }
func (r *RedisStore) keyWorkItem(id string) string { return r.prefix + "wi:" + id }

func (r *RedisStore) keyInstAll() string { return r.prefix + "idx:inst:all" }

func (r *RedisStore) keyInstWorkflow(name string) string {
	return r.prefix + "idx:inst:wf:" + name
}

func (r *RedisStore) keyInstState(s api.WorkflowState) string {
	return r.prefix + "idx:inst:state:" + string(s)
}

func (r *RedisStore) keyInstParent(taskInstanceID string) string {
	return r.prefix + "idx:inst:parent:" + taskInstanceID
}

func (r *RedisStore) keyTaskAll() string { return r.prefix + "idx:task:all" }

func (r *RedisStore) keyTaskWorkflow(workflowID string) string {
	return r.prefix + "idx:task:wf:" + workflowID
}

func (r *RedisStore) keyItemAll() string { return r.prefix + "idx:wi:all" }

func (r *RedisStore) keyItemWorkflow(workflowID string) string {
	return r.prefix + "idx:wi:wf:" + workflowID
}

func (r *RedisStore) keyItemTask(taskInstanceID string) string {
	return r.prefix + "idx:wi:ti:" + taskInstanceID
}

func (r *RedisStore) keyItemChild(childWorkflowID string) string {
	return r.prefix + "idx:wi:child:" + childWorkflowID
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func timeOrZero(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

type redisInstanceRecord struct {
	ID                 string
	Name               string
	Version            string
	State              string
	Input              []byte
	Vars               []byte
	Output             []byte
	Marking            []byte
	ParentTaskInstance string
	Failure            string
	CreatedAt          int64
	FinishedAt         int64
}

func encodeInstanceRecord(inst *api.WorkflowInstance) ([]byte, error) {
	input, err := corep.EncodeValue(inst.Input)
	if err != nil {
		return nil, err
	}
	vars, err := corep.EncodeValue(inst.Vars)
	if err != nil {
		return nil, err
	}
	output, err := corep.EncodeValue(inst.Output)
	if err != nil {
		return nil, err
	}
	marking, err := corep.EncodeValue(inst.Marking)
	if err != nil {
		return nil, err
	}

	rec := redisInstanceRecord{
		ID:                 inst.ID,
		Name:               inst.Name,
		Version:            inst.Version,
		State:              string(inst.State),
		Input:              input,
		Vars:               vars,
		Output:             output,
		Marking:            marking,
		ParentTaskInstance: inst.ParentTaskInstance,
		Failure:            inst.Failure,
		CreatedAt:          unixOrZero(inst.CreatedAt),
		FinishedAt:         unixOrZero(inst.FinishedAt),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeInstanceRecord(data []byte) (*api.WorkflowInstance, error) {
	if len(data) == 0 {
		return nil, corep.ErrInstanceNotFound
	}
	var rec redisInstanceRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, err
	}

	input, err := corep.DecodeValue[api.Payload](rec.Input)
	if err != nil {
		return nil, err
	}
	vars, err := corep.DecodeValue[api.Payload](rec.Vars)
	if err != nil {
		return nil, err
	}
	output, err := corep.DecodeValue[api.Payload](rec.Output)
	if err != nil {
		return nil, err
	}
	marking, err := corep.DecodeValue[map[string]int](rec.Marking)
	if err != nil {
		return nil, err
	}

	return &api.WorkflowInstance{
		ID:                 rec.ID,
		Name:               rec.Name,
		Version:            rec.Version,
		State:              api.WorkflowState(rec.State),
		Input:              input,
		Vars:               vars,
		Output:             output,
		Marking:            marking,
		ParentTaskInstance: rec.ParentTaskInstance,
		Failure:            rec.Failure,
		CreatedAt:          timeOrZero(rec.CreatedAt),
		FinishedAt:         timeOrZero(rec.FinishedAt),
	}, nil
}

func (r *RedisStore) SaveInstance(inst *api.WorkflowInstance) error {
	ctx := context.Background()

	data, err := encodeInstanceRecord(inst)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.keyInstance(inst.ID), data, 0).Err(); err != nil {
		return err
	}

	r.indexInstance(ctx, inst)
	return nil
}

func (r *RedisStore) UpdateInstance(inst *api.WorkflowInstance) error {
	ctx := context.Background()

	exists, err := r.client.Exists(ctx, r.keyInstance(inst.ID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return corep.ErrInstanceNotFound
	}

	data, err := encodeInstanceRecord(inst)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.keyInstance(inst.ID), data, 0).Err(); err != nil {
		return err
	}

	r.indexInstance(ctx, inst)
	return nil
}

// indexInstance re-adds the instance to its index sets. Entries for a
// previous state are left behind and filtered out at read time.
func (r *RedisStore) indexInstance(ctx context.Context, inst *api.WorkflowInstance) {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.keyInstAll(), inst.ID)
	pipe.SAdd(ctx, r.keyInstWorkflow(inst.Name), inst.ID)
	pipe.SAdd(ctx, r.keyInstState(inst.State), inst.ID)
	if inst.ParentTaskInstance != "" {
		pipe.SAdd(ctx, r.keyInstParent(inst.ParentTaskInstance), inst.ID)
	}
	_, _ = pipe.Exec(ctx)
}

func (r *RedisStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	ctx := context.Background()

	data, err := r.client.Get(ctx, r.keyInstance(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, corep.ErrInstanceNotFound
		}
		return nil, err
	}
	return decodeInstanceRecord(data)
}

func (r *RedisStore) ListInstances(filter corep.InstanceFilter) ([]*api.WorkflowInstance, error) {
	ctx := context.Background()

	var ids []string
	var err error

	// Pick the most selective index; every filter field is re-checked
	// against the decoded record below.
	switch {
	case filter.ParentTaskInstance != "":
		ids, err = r.client.SMembers(ctx, r.keyInstParent(filter.ParentTaskInstance)).Result()
	case filter.WorkflowName != "" && filter.State != "":
		ids, err = r.client.SInter(ctx,
			r.keyInstWorkflow(filter.WorkflowName),
			r.keyInstState(filter.State),
		).Result()
	case filter.WorkflowName != "":
		ids, err = r.client.SMembers(ctx, r.keyInstWorkflow(filter.WorkflowName)).Result()
	case filter.State != "":
		ids, err = r.client.SMembers(ctx, r.keyInstState(filter.State)).Result()
	default:
		ids, err = r.client.SMembers(ctx, r.keyInstAll()).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*api.WorkflowInstance{}, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.WorkflowInstance{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, r.keyInstance(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var instances []*api.WorkflowInstance
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		inst, err := decodeInstanceRecord(data)
		if err != nil {
			return nil, err
		}
		if !instanceMatches(inst, filter) {
			continue
		}
		instances = append(instances, inst)
	}

	sort.Slice(instances, func(i, j int) bool {
		if !instances[i].CreatedAt.Equal(instances[j].CreatedAt) {
			return instances[i].CreatedAt.Before(instances[j].CreatedAt)
		}
		return instances[i].ID < instances[j].ID
	})
	return instances, nil
}

func instanceMatches(inst *api.WorkflowInstance, f corep.InstanceFilter) bool {
	if f.WorkflowName != "" && inst.Name != f.WorkflowName {
		return false
	}
	if f.State != "" && inst.State != f.State {
		return false
	}
	if f.ParentTaskInstance != "" && inst.ParentTaskInstance != f.ParentTaskInstance {
		return false
	}
	return true
}

type redisTaskRecord struct {
	ID          string
	WorkflowID  string
	TaskName    string
	State       string
	Cardinality int
	CreatedAt   int64
	FinishedAt  int64
}

func encodeTaskRecord(task *api.TaskInstance) ([]byte, error) {
	rec := redisTaskRecord{
		ID:          task.ID,
		WorkflowID:  task.WorkflowID,
		TaskName:    task.TaskName,
		State:       string(task.State),
		Cardinality: task.Cardinality,
		CreatedAt:   unixOrZero(task.CreatedAt),
		FinishedAt:  unixOrZero(task.FinishedAt),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeTaskRecord(data []byte) (*api.TaskInstance, error) {
	if len(data) == 0 {
		return nil, corep.ErrTaskNotFound
	}
	var rec redisTaskRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, err
	}

	return &api.TaskInstance{
		ID:          rec.ID,
		WorkflowID:  rec.WorkflowID,
		TaskName:    rec.TaskName,
		State:       api.TaskState(rec.State),
		Cardinality: rec.Cardinality,
		CreatedAt:   timeOrZero(rec.CreatedAt),
		FinishedAt:  timeOrZero(rec.FinishedAt),
	}, nil
}

func (r *RedisStore) SaveTask(task *api.TaskInstance) error {
	ctx := context.Background()

	data, err := encodeTaskRecord(task)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.keyTask(task.ID), data, 0).Err(); err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.keyTaskAll(), task.ID)
	pipe.SAdd(ctx, r.keyTaskWorkflow(task.WorkflowID), task.ID)
	_, _ = pipe.Exec(ctx)

	return nil
}

func (r *RedisStore) UpdateTask(task *api.TaskInstance) error {
	ctx := context.Background()

	exists, err := r.client.Exists(ctx, r.keyTask(task.ID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return corep.ErrTaskNotFound
	}

	data, err := encodeTaskRecord(task)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.keyTask(task.ID), data, 0).Err()
}

func (r *RedisStore) GetTask(id string) (*api.TaskInstance, error) {
	ctx := context.Background()

	data, err := r.client.Get(ctx, r.keyTask(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, corep.ErrTaskNotFound
		}
		return nil, err
	}
	return decodeTaskRecord(data)
}

func (r *RedisStore) ListTasks(filter corep.TaskFilter) ([]*api.TaskInstance, error) {
	ctx := context.Background()

	var ids []string
	var err error

	if filter.WorkflowID != "" {
		ids, err = r.client.SMembers(ctx, r.keyTaskWorkflow(filter.WorkflowID)).Result()
	} else {
		ids, err = r.client.SMembers(ctx, r.keyTaskAll()).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*api.TaskInstance{}, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.TaskInstance{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, r.keyTask(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var tasks []*api.TaskInstance
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		task, err := decodeTaskRecord(data)
		if err != nil {
			return nil, err
		}
		if !taskMatches(task, filter) {
			continue
		}
		tasks = append(tasks, task)
	}

	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

func taskMatches(task *api.TaskInstance, f corep.TaskFilter) bool {
	if f.WorkflowID != "" && task.WorkflowID != f.WorkflowID {
		return false
	}
	if f.TaskName != "" && task.TaskName != f.TaskName {
		return false
	}
	if f.State != "" && task.State != f.State {
		return false
	}
	return true
}

func workItemFields(item *api.WorkItem) (map[string]any, error) {
	input, err := corep.EncodeValue(item.Input)
	if err != nil {
		return nil, err
	}
	output, err := corep.EncodeValue(item.Output)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"id":                item.ID,
		"workflow_id":       item.WorkflowID,
		"task_instance_id":  item.TaskInstanceID,
		"task_name":         item.TaskName,
		"state":             string(item.State),
		"claimant":          item.Claimant,
		"input":             input,
		"output":            output,
		"failure":           item.Failure,
		"child_workflow_id": item.ChildWorkflowID,
		"created_at":        unixOrZero(item.CreatedAt),
		"finished_at":       unixOrZero(item.FinishedAt),
	}, nil
}

func workItemFromFields(fields map[string]string) (*api.WorkItem, error) {
	if len(fields) == 0 {
		return nil, corep.ErrWorkItemNotFound
	}

	input, err := corep.DecodeValue[api.Payload]([]byte(fields["input"]))
	if err != nil {
		return nil, err
	}
	output, err := corep.DecodeValue[api.Payload]([]byte(fields["output"]))
	if err != nil {
		return nil, err
	}
	created, err := parseNanos(fields["created_at"])
	if err != nil {
		return nil, err
	}
	finished, err := parseNanos(fields["finished_at"])
	if err != nil {
		return nil, err
	}

	return &api.WorkItem{
		ID:              fields["id"],
		WorkflowID:      fields["workflow_id"],
		TaskInstanceID:  fields["task_instance_id"],
		TaskName:        fields["task_name"],
		State:           api.WorkItemState(fields["state"]),
		Claimant:        fields["claimant"],
		Input:           input,
		Output:          output,
		Failure:         fields["failure"],
		ChildWorkflowID: fields["child_workflow_id"],
		CreatedAt:       timeOrZero(created),
		FinishedAt:      timeOrZero(finished),
	}, nil
}

func parseNanos(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func (r *RedisStore) SaveWorkItem(item *api.WorkItem) error {
	ctx := context.Background()

	fields, err := workItemFields(item)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.keyWorkItem(item.ID), fields).Err(); err != nil {
		return err
	}

	r.indexWorkItem(ctx, item)
	return nil
}

func (r *RedisStore) UpdateWorkItem(item *api.WorkItem) error {
	ctx := context.Background()

	exists, err := r.client.Exists(ctx, r.keyWorkItem(item.ID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return corep.ErrWorkItemNotFound
	}

	fields, err := workItemFields(item)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.keyWorkItem(item.ID), fields).Err(); err != nil {
		return err
	}

	// ChildWorkflowID is assigned after the initial save, so the child
	// index is maintained on update as well.
	r.indexWorkItem(ctx, item)
	return nil
}

func (r *RedisStore) indexWorkItem(ctx context.Context, item *api.WorkItem) {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.keyItemAll(), item.ID)
	pipe.SAdd(ctx, r.keyItemWorkflow(item.WorkflowID), item.ID)
	pipe.SAdd(ctx, r.keyItemTask(item.TaskInstanceID), item.ID)
	if item.ChildWorkflowID != "" {
		pipe.SAdd(ctx, r.keyItemChild(item.ChildWorkflowID), item.ID)
	}
	_, _ = pipe.Exec(ctx)
}

func (r *RedisStore) GetWorkItem(id string) (*api.WorkItem, error) {
	ctx := context.Background()

	fields, err := r.client.HGetAll(ctx, r.keyWorkItem(id)).Result()
	if err != nil {
		return nil, err
	}
	return workItemFromFields(fields)
}

func (r *RedisStore) ListWorkItems(filter corep.WorkItemFilter) ([]*api.WorkItem, error) {
	ctx := context.Background()

	var ids []string
	var err error

	switch {
	case filter.ChildWorkflowID != "":
		ids, err = r.client.SMembers(ctx, r.keyItemChild(filter.ChildWorkflowID)).Result()
	case filter.TaskInstanceID != "":
		ids, err = r.client.SMembers(ctx, r.keyItemTask(filter.TaskInstanceID)).Result()
	case filter.WorkflowID != "":
		ids, err = r.client.SMembers(ctx, r.keyItemWorkflow(filter.WorkflowID)).Result()
	default:
		ids, err = r.client.SMembers(ctx, r.keyItemAll()).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*api.WorkItem{}, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.WorkItem{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.keyWorkItem(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var items []*api.WorkItem
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		item, err := workItemFromFields(fields)
		if err != nil {
			return nil, err
		}
		if !itemMatches(item, filter) {
			continue
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func itemMatches(item *api.WorkItem, f corep.WorkItemFilter) bool {
	if f.WorkflowID != "" && item.WorkflowID != f.WorkflowID {
		return false
	}
	if f.TaskInstanceID != "" && item.TaskInstanceID != f.TaskInstanceID {
		return false
	}
	if f.TaskName != "" && item.TaskName != f.TaskName {
		return false
	}
	if f.State != "" && item.State != f.State {
		return false
	}
	if f.ChildWorkflowID != "" && item.ChildWorkflowID != f.ChildWorkflowID {
		return false
	}
	return true
}

// Lua script for claiming a work item: a compare-and-set on the state
// field. Returns 1 if claimed, 0 if the item does not exist and -1 if it
// already left the initialized state.
var redisClaimLua = `
local cur = redis.call('HGET', KEYS[1], 'state')
if not cur then
	return 0
end
if cur ~= ARGV[1] then
	return -1
end
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'claimant', ARGV[3])
return 1
`

func (r *RedisStore) ClaimWorkItem(ctx context.Context, id, claimant string) error {
	res, err := r.client.Eval(ctx, redisClaimLua, []string{r.keyWorkItem(id)},
		string(api.WorkItemInitialized), string(api.WorkItemStarted), claimant).Result()
	if err != nil {
		return err
	}

	n, ok := res.(int64)
	if !ok {
		return fmt.Errorf("unexpected claim script result %v", res)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return corep.ErrWorkItemNotFound
	default:
		return corep.ErrClaimConflict
	}
}
