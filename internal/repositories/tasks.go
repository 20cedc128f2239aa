package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taskboard/backend/internal/docstore"
	"taskboard/backend/internal/models"

	"github.com/gofrs/uuid"
)

type Op string

const (
	OpFetch  Op = "fetch"
	OpAdd    Op = "add"
	OpDelete Op = "delete"
	OpUpdate Op = "update"
)

// OpError tags a store failure with the repository operation that hit it.
// The store error is kept unmodified.
type OpError struct {
	Op  Op
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

type TaskRepository interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Task, error)
	Get(ctx context.Context, userID, taskID uuid.UUID) (models.Task, error)
	Add(ctx context.Context, task models.Task) error
	Update(ctx context.Context, task models.Task) error
	Delete(ctx context.Context, userID, taskID uuid.UUID) error
}

// CollectionFor returns the per-user task collection users/{userID}/todolist.
func CollectionFor(userID uuid.UUID) (docstore.Path, error) {
	if userID == uuid.Nil {
		return "", fmt.Errorf("%w: empty user id", docstore.ErrInvalidPath)
	}
	return docstore.Collection("users", userID.String(), "todolist")
}

// taskDocument is the stored form of a task. createdAt is not part of the
// document body; it comes from the store's create time.
type taskDocument struct {
	ID            string                 `json:"id"`
	UserID        string                 `json:"userId"`
	Title         string                 `json:"title"`
	Description   string                 `json:"description"`
	Tags          []string               `json:"tags"`
	DueDate       *time.Time             `json:"dueDate"`
	Checklist     []models.ChecklistItem `json:"checklist"`
	Priority      string                 `json:"priority"`
	EstimatedTime string                 `json:"estimatedTime"`
	Status        models.Status          `json:"status"`
	Completed     bool                   `json:"completed"`
	TimeLeft      string                 `json:"timeLeft"`
	Progress      float64                `json:"progress"`
}

func encodeTask(task models.Task) (json.RawMessage, error) {
	doc := taskDocument{
		ID:            task.ID.String(),
		UserID:        task.UserID.String(),
		Title:         task.Title,
		Description:   task.Description,
		Tags:          task.Tags,
		DueDate:       task.DueDate,
		Checklist:     task.Checklist,
		Priority:      task.Priority,
		EstimatedTime: task.EstimatedTime,
		Status:        task.Status,
		Completed:     task.Completed,
		TimeLeft:      task.TimeLeft,
		Progress:      task.Progress,
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	if doc.Checklist == nil {
		doc.Checklist = []models.ChecklistItem{}
	}
	return json.Marshal(doc)
}

func decodeTask(d docstore.Document) (models.Task, error) {
	var doc taskDocument
	if err := json.Unmarshal(d.Data, &doc); err != nil {
		return models.Task{}, fmt.Errorf("document %s: %w", d.ID, err)
	}

	// the document id is authoritative for the task id
	id, err := uuid.FromString(d.ID)
	if err != nil {
		return models.Task{}, fmt.Errorf("document %s: bad id: %w", d.ID, err)
	}
	userID, err := uuid.FromString(doc.UserID)
	if err != nil {
		return models.Task{}, fmt.Errorf("document %s: bad userId: %w", d.ID, err)
	}

	return models.Task{
		ID:            id,
		UserID:        userID,
		Title:         doc.Title,
		Description:   doc.Description,
		Tags:          doc.Tags,
		DueDate:       doc.DueDate,
		Checklist:     doc.Checklist,
		Priority:      doc.Priority,
		EstimatedTime: doc.EstimatedTime,
		Status:        doc.Status,
		Completed:     doc.Completed,
		TimeLeft:      doc.TimeLeft,
		Progress:      doc.Progress,
		CreatedAt:     d.CreateTime,
	}, nil
}

// DocumentTaskRepository stores each task as a document in its owner's
// collection, keyed by task id.
type DocumentTaskRepository struct {
	store docstore.Client
}

func NewDocumentTaskRepository(store docstore.Client) *DocumentTaskRepository {
	return &DocumentTaskRepository{store: store}
}

func (r *DocumentTaskRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	col, err := CollectionFor(userID)
	if err != nil {
		return nil, &OpError{Op: OpFetch, Err: err}
	}

	docs, err := r.store.Query(ctx, col, docstore.Equal("userId", userID.String()))
	if err != nil {
		return nil, &OpError{Op: OpFetch, Err: err}
	}

	tasks := make([]models.Task, 0, len(docs))
	for _, d := range docs {
		task, err := decodeTask(d)
		if err != nil {
			return nil, &OpError{Op: OpFetch, Err: err}
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (r *DocumentTaskRepository) Get(ctx context.Context, userID, taskID uuid.UUID) (models.Task, error) {
	col, err := CollectionFor(userID)
	if err != nil {
		return models.Task{}, &OpError{Op: OpFetch, Err: err}
	}

	d, err := r.store.Get(ctx, col, taskID.String())
	if err != nil {
		return models.Task{}, &OpError{Op: OpFetch, Err: err}
	}
	task, err := decodeTask(*d)
	if err != nil {
		return models.Task{}, &OpError{Op: OpFetch, Err: err}
	}
	return task, nil
}

func (r *DocumentTaskRepository) Add(ctx context.Context, task models.Task) error {
	return r.write(ctx, OpAdd, task, r.store.Set)
}

// Update overwrites the whole stored task. It fails with docstore.ErrNotFound
// when the task was deleted in the meantime.
func (r *DocumentTaskRepository) Update(ctx context.Context, task models.Task) error {
	return r.write(ctx, OpUpdate, task, r.store.Update)
}

type writeFunc func(ctx context.Context, collection docstore.Path, id string, data json.RawMessage) error

func (r *DocumentTaskRepository) write(ctx context.Context, op Op, task models.Task, fn writeFunc) error {
	if task.ID == uuid.Nil {
		return &OpError{Op: op, Err: docstore.ErrInvalidDocID}
	}
	col, err := CollectionFor(task.UserID)
	if err != nil {
		return &OpError{Op: op, Err: err}
	}

	data, err := encodeTask(task)
	if err != nil {
		return &OpError{Op: op, Err: err}
	}
	if err := fn(ctx, col, task.ID.String(), data); err != nil {
		return &OpError{Op: op, Err: err}
	}
	return nil
}

func (r *DocumentTaskRepository) Delete(ctx context.Context, userID, taskID uuid.UUID) error {
	col, err := CollectionFor(userID)
	if err != nil {
		return &OpError{Op: OpDelete, Err: err}
	}
	if err := r.store.Delete(ctx, col, taskID.String()); err != nil {
		return &OpError{Op: OpDelete, Err: err}
	}
	return nil
}
