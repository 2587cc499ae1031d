package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	corep "github.com/petrijr/weft/internal/persistence"
	"github.com/petrijr/weft/pkg/api"
)

// MongoStore keeps workflow instances, task instances and work items in
// MongoDB, one collection per record type:
//
//	workflow_instances   one document per workflow instance
//	task_instances       one document per task instance
//	work_items           one document per work item
//
// Documents use the record ID as _id, gob-encoded payload fields and
// Unix-nanosecond timestamps. BSON datetimes only resolve milliseconds,
// which is too coarse for the creation-order listings the stores promise.
type MongoStore struct {
	instances *mongo.Collection
	tasks     *mongo.Collection
	items     *mongo.Collection
}

var (
	_ corep.InstanceStore = (*MongoStore)(nil)
	_ corep.TaskStore     = (*MongoStore)(nil)
	_ corep.WorkItemStore = (*MongoStore)(nil)
)

// NewMongoStore creates a Mongo-backed store.
// dbName defaults to "weft" if empty.
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	if dbName == "" {
		dbName = "weft"
	}
	db := client.Database(dbName)
	return &MongoStore{
		instances: db.Collection("workflow_instances"),
		tasks:     db.Collection("task_instances"),
		items:     db.Collection("work_items"),
	}
}

// listOrder sorts listings the way the other backends do: creation time
// first, record ID as the tie breaker.
var listOrder = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

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

type mongoInstanceDoc struct {
	ID                 string `bson:"_id"`
	Name               string `bson:"workflow_name"`
	Version            string `bson:"version,omitempty"`
	State              string `bson:"state"`
	Input              []byte `bson:"input,omitempty"`
	Vars               []byte `bson:"vars,omitempty"`
	Output             []byte `bson:"output,omitempty"`
	Marking            []byte `bson:"marking,omitempty"`
	ParentTaskInstance string `bson:"parent_task_instance,omitempty"`
	Failure            string `bson:"failure,omitempty"`
	CreatedAt          int64  `bson:"created_at"`
	FinishedAt         int64  `bson:"finished_at"`
}

func newInstanceDoc(inst *api.WorkflowInstance) (mongoInstanceDoc, error) {
	input, err := corep.EncodeValue(inst.Input)
	if err != nil {
		return mongoInstanceDoc{}, err
	}
	vars, err := corep.EncodeValue(inst.Vars)
	if err != nil {
		return mongoInstanceDoc{}, err
	}
	output, err := corep.EncodeValue(inst.Output)
	if err != nil {
		return mongoInstanceDoc{}, err
	}
	marking, err := corep.EncodeValue(inst.Marking)
	if err != nil {
		return mongoInstanceDoc{}, err
	}

	return mongoInstanceDoc{
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
	}, nil
}

func instanceFromDoc(doc mongoInstanceDoc) (*api.WorkflowInstance, error) {
	input, err := corep.DecodeValue[api.Payload](doc.Input)
	if err != nil {
		return nil, err
	}
	vars, err := corep.DecodeValue[api.Payload](doc.Vars)
	if err != nil {
		return nil, err
	}
	output, err := corep.DecodeValue[api.Payload](doc.Output)
	if err != nil {
		return nil, err
	}
	marking, err := corep.DecodeValue[map[string]int](doc.Marking)
	if err != nil {
		return nil, err
	}

	return &api.WorkflowInstance{
		ID:                 doc.ID,
		Name:               doc.Name,
		Version:            doc.Version,
		State:              api.WorkflowState(doc.State),
		Input:              input,
		Vars:               vars,
		Output:             output,
		Marking:            marking,
		ParentTaskInstance: doc.ParentTaskInstance,
		Failure:            doc.Failure,
		CreatedAt:          timeOrZero(doc.CreatedAt),
		FinishedAt:         timeOrZero(doc.FinishedAt),
	}, nil
}

func (s *MongoStore) SaveInstance(inst *api.WorkflowInstance) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc, err := newInstanceDoc(inst)
	if err != nil {
		return err
	}
	_, err = s.instances.InsertOne(ctx, doc)
	return err
}

func (s *MongoStore) UpdateInstance(inst *api.WorkflowInstance) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc, err := newInstanceDoc(inst)
	if err != nil {
		return err
	}
	// Replace rather than $set so fields cleared on the record (say, the
	// marking of a completed instance) disappear from the document too.
	res, err := s.instances.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return corep.ErrInstanceNotFound
	}
	return nil
}

func (s *MongoStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var doc mongoInstanceDoc
	if err := s.instances.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, corep.ErrInstanceNotFound
		}
		return nil, err
	}
	return instanceFromDoc(doc)
}

func (s *MongoStore) ListInstances(filter corep.InstanceFilter) ([]*api.WorkflowInstance, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bfilter := bson.M{}
	if filter.WorkflowName != "" {
		bfilter["workflow_name"] = filter.WorkflowName
	}
	if filter.State != "" {
		bfilter["state"] = string(filter.State)
	}
	if filter.ParentTaskInstance != "" {
		bfilter["parent_task_instance"] = filter.ParentTaskInstance
	}

	cur, err := s.instances.Find(ctx, bfilter, options.Find().SetSort(listOrder))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var results []*api.WorkflowInstance
	for cur.Next(ctx) {
		var doc mongoInstanceDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		inst, err := instanceFromDoc(doc)
		if err != nil {
			return nil, err
		}
		results = append(results, inst)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

type mongoTaskDoc struct {
	ID          string `bson:"_id"`
	WorkflowID  string `bson:"workflow_id"`
	TaskName    string `bson:"task_name"`
	State       string `bson:"state"`
	Cardinality int    `bson:"cardinality"`
	CreatedAt   int64  `bson:"created_at"`
	FinishedAt  int64  `bson:"finished_at"`
}

func newTaskDoc(task *api.TaskInstance) mongoTaskDoc {
	return mongoTaskDoc{
		ID:          task.ID,
		WorkflowID:  task.WorkflowID,
		TaskName:    task.TaskName,
		State:       string(task.State),
		Cardinality: task.Cardinality,
		CreatedAt:   unixOrZero(task.CreatedAt),
		FinishedAt:  unixOrZero(task.FinishedAt),
	}
}

func taskFromDoc(doc mongoTaskDoc) *api.TaskInstance {
	return &api.TaskInstance{
		ID:          doc.ID,
		WorkflowID:  doc.WorkflowID,
		TaskName:    doc.TaskName,
		State:       api.TaskState(doc.State),
		Cardinality: doc.Cardinality,
		CreatedAt:   timeOrZero(doc.CreatedAt),
		FinishedAt:  timeOrZero(doc.FinishedAt),
	}
}

func (s *MongoStore) SaveTask(task *api.TaskInstance) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.tasks.InsertOne(ctx, newTaskDoc(task))
	return err
}

func (s *MongoStore) UpdateTask(task *api.TaskInstance) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.tasks.ReplaceOne(ctx, bson.M{"_id": task.ID}, newTaskDoc(task))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return corep.ErrTaskNotFound
	}
	return nil
}

func (s *MongoStore) GetTask(id string) (*api.TaskInstance, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var doc mongoTaskDoc
	if err := s.tasks.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, corep.ErrTaskNotFound
		}
		return nil, err
	}
	return taskFromDoc(doc), nil
}

func (s *MongoStore) ListTasks(filter corep.TaskFilter) ([]*api.TaskInstance, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bfilter := bson.M{}
	if filter.WorkflowID != "" {
		bfilter["workflow_id"] = filter.WorkflowID
	}
	if filter.TaskName != "" {
		bfilter["task_name"] = filter.TaskName
	}
	if filter.State != "" {
		bfilter["state"] = string(filter.State)
	}

	cur, err := s.tasks.Find(ctx, bfilter, options.Find().SetSort(listOrder))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var results []*api.TaskInstance
	for cur.Next(ctx) {
		var doc mongoTaskDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		results = append(results, taskFromDoc(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

type mongoWorkItemDoc struct {
	ID              string `bson:"_id"`
	WorkflowID      string `bson:"workflow_id"`
	TaskInstanceID  string `bson:"task_instance_id"`
	TaskName        string `bson:"task_name"`
	State           string `bson:"state"`
	Claimant        string `bson:"claimant,omitempty"`
	Input           []byte `bson:"input,omitempty"`
	Output          []byte `bson:"output,omitempty"`
	Failure         string `bson:"failure,omitempty"`
	ChildWorkflowID string `bson:"child_workflow_id,omitempty"`
	CreatedAt       int64  `bson:"created_at"`
	FinishedAt      int64  `bson:"finished_at"`
}

func newWorkItemDoc(item *api.WorkItem) (mongoWorkItemDoc, error) {
	input, err := corep.EncodeValue(item.Input)
	if err != nil {
		return mongoWorkItemDoc{}, err
	}
	output, err := corep.EncodeValue(item.Output)
	if err != nil {
		return mongoWorkItemDoc{}, err
	}

	return mongoWorkItemDoc{
		ID:              item.ID,
		WorkflowID:      item.WorkflowID,
		TaskInstanceID:  item.TaskInstanceID,
		TaskName:        item.TaskName,
		State:           string(item.State),
		Claimant:        item.Claimant,
		Input:           input,
		Output:          output,
		Failure:         item.Failure,
		ChildWorkflowID: item.ChildWorkflowID,
		CreatedAt:       unixOrZero(item.CreatedAt),
		FinishedAt:      unixOrZero(item.FinishedAt),
	}, nil
}

func workItemFromDoc(doc mongoWorkItemDoc) (*api.WorkItem, error) {
	input, err := corep.DecodeValue[api.Payload](doc.Input)
	if err != nil {
		return nil, err
	}
	output, err := corep.DecodeValue[api.Payload](doc.Output)
	if err != nil {
		return nil, err
	}

	return &api.WorkItem{
		ID:              doc.ID,
		WorkflowID:      doc.WorkflowID,
		TaskInstanceID:  doc.TaskInstanceID,
		TaskName:        doc.TaskName,
		State:           api.WorkItemState(doc.State),
		Claimant:        doc.Claimant,
		Input:           input,
		Output:          output,
		Failure:         doc.Failure,
		ChildWorkflowID: doc.ChildWorkflowID,
		CreatedAt:       timeOrZero(doc.CreatedAt),
		FinishedAt:      timeOrZero(doc.FinishedAt),
	}, nil
}

func (s *MongoStore) SaveWorkItem(item *api.WorkItem) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc, err := newWorkItemDoc(item)
	if err != nil {
		return err
	}
	_, err = s.items.InsertOne(ctx, doc)
	return err
}

func (s *MongoStore) UpdateWorkItem(item *api.WorkItem) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc, err := newWorkItemDoc(item)
	if err != nil {
		return err
	}
	res, err := s.items.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return corep.ErrWorkItemNotFound
	}
	return nil
}

func (s *MongoStore) GetWorkItem(id string) (*api.WorkItem, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var doc mongoWorkItemDoc
	if err := s.items.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, corep.ErrWorkItemNotFound
		}
		return nil, err
	}
	return workItemFromDoc(doc)
}

func (s *MongoStore) ListWorkItems(filter corep.WorkItemFilter) ([]*api.WorkItem, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bfilter := bson.M{}
	if filter.WorkflowID != "" {
		bfilter["workflow_id"] = filter.WorkflowID
	}
	if filter.TaskInstanceID != "" {
		bfilter["task_instance_id"] = filter.TaskInstanceID
	}
	if filter.TaskName != "" {
		bfilter["task_name"] = filter.TaskName
	}
	if filter.State != "" {
		bfilter["state"] = string(filter.State)
	}
	if filter.ChildWorkflowID != "" {
		bfilter["child_workflow_id"] = filter.ChildWorkflowID
	}

	cur, err := s.items.Find(ctx, bfilter, options.Find().SetSort(listOrder))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var results []*api.WorkItem
	for cur.Next(ctx) {
		var doc mongoWorkItemDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		item, err := workItemFromDoc(doc)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// ClaimWorkItem filters on _id plus the initialized state, so the state
// check and the transition happen in one server-side operation.
func (s *MongoStore) ClaimWorkItem(ctx context.Context, id, claimant string) error {
	err := s.items.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "state": string(api.WorkItemInitialized)},
		bson.M{"$set": bson.M{"state": string(api.WorkItemStarted), "claimant": claimant}},
	).Err()
	if err == nil {
		return nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return err
	}

	// Either the item does not exist or it already left INITIALIZED; a
	// second lookup tells the two apart.
	err = s.items.FindOne(ctx, bson.M{"_id": id}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return corep.ErrWorkItemNotFound
	}
	if err != nil {
		return err
	}
	return corep.ErrClaimConflict
}
