package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"taskboard/backend/internal/identity"
	"taskboard/backend/internal/models"
	"taskboard/backend/internal/repositories"

	"github.com/gofrs/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	MsgSignInRequired = "Please sign in to manage your tasks."
	MsgForeignTask    = "This task belongs to another user."
	MsgTaskNotFound   = "Task not found."
)

var ErrTaskNotFound = errors.New("task not found")

type ManagerConfig struct {
	TimeLeftMode models.TimeLeftMode
	RequireTitle bool
	Clock        func() time.Time
}

func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		TimeLeftMode: models.TimeLeftLegacy,
		RequireTitle: false,
		Clock:        time.Now,
	}
}

// ReminderScheduler arranges a due-date reminder for a persisted task.
type ReminderScheduler interface {
	ScheduleReminder(ctx context.Context, task models.Task) error
}

// View is what the board shows for one user: the canonical list plus the
// inline error state.
type View struct {
	Tasks        []models.Task `json:"tasks"`
	Error        *string       `json:"error"`
	DueDateError bool          `json:"dueDateError"`
	Loaded       bool          `json:"loaded"`
}

// userView lives as long as the manager. Forgetting a user resets it and
// bumps gen, so a reload that started earlier cannot refill it.
type userView struct {
	// op serializes loads and writes for the user.
	op sync.Mutex

	mu           sync.RWMutex
	gen          uint64
	tasks        []models.Task
	loaded       bool
	errMsg       string
	dueDateError bool
}

func (v *userView) generation() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.gen
}

func (v *userView) reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gen++
	v.tasks = nil
	v.loaded = false
	v.errMsg = ""
	v.dueDateError = false
}

// replace installs tasks unless the view was reset after gen.
func (v *userView) replace(gen uint64, tasks []models.Task) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.gen != gen {
		return
	}
	v.tasks = tasks
	v.loaded = true
	v.errMsg = ""
}

func (v *userView) fail(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errMsg = msg
}

func (v *userView) failAt(gen uint64, msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.gen == gen {
		v.errMsg = msg
	}
}

func (v *userView) clearError() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errMsg = ""
}

func (v *userView) setDueDateError(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dueDateError = on
}

func (v *userView) find(taskID uuid.UUID) (models.Task, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, t := range v.tasks {
		if t.ID == taskID {
			return t.Clone(), true
		}
	}
	return models.Task{}, false
}

func (v *userView) isLoaded() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loaded
}

func (v *userView) snapshot() View {
	v.mu.RLock()
	defer v.mu.RUnlock()

	view := View{
		Tasks:        models.CloneTasks(v.tasks),
		DueDateError: v.dueDateError,
		Loaded:       v.loaded,
	}
	if view.Tasks == nil {
		view.Tasks = []models.Task{}
	}
	if v.errMsg != "" {
		msg := v.errMsg
		view.Error = &msg
	}
	return view
}

// LifecycleManager owns each signed-in user's task list. Every write goes to
// the repository first and ends with a full reload, so readers see either the
// list before the write or the reloaded one.
type LifecycleManager struct {
	repo      repositories.TaskRepository
	config    ManagerConfig
	loads     singleflight.Group
	reminders ReminderScheduler

	mu    sync.Mutex
	views map[uuid.UUID]*userView
}

func NewLifecycleManager(repo repositories.TaskRepository, config *ManagerConfig) *LifecycleManager {
	if config == nil {
		config = DefaultManagerConfig()
	}
	cfg := *config
	if !cfg.TimeLeftMode.Valid() {
		cfg.TimeLeftMode = models.TimeLeftLegacy
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &LifecycleManager{
		repo:   repo,
		config: cfg,
		views:  make(map[uuid.UUID]*userView),
	}
}

func (m *LifecycleManager) SetReminderScheduler(r ReminderScheduler) {
	m.reminders = r
}

func (m *LifecycleManager) view(userID uuid.UUID) *userView {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[userID]
	if !ok {
		v = &userView{}
		m.views[userID] = v
	}
	return v
}

func (m *LifecycleManager) lookup(userID uuid.UUID) *userView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.views[userID]
}

// Forget empties the in-memory view of a user. Loads already running for
// the user no longer fill it; a later load starts from an empty list.
func (m *LifecycleManager) Forget(userID uuid.UUID) {
	if v := m.lookup(userID); v != nil {
		v.reset()
	}
}

// Follow reloads a user's list on every sign-in and forgets it on sign-out.
// The returned function stops following.
func (m *LifecycleManager) Follow(ctx context.Context, notifier *identity.Notifier) func() {
	return notifier.Subscribe(func(ev identity.Event) {
		if ev.Previous != uuid.Nil {
			m.Forget(ev.Previous)
		}
		if ev.Current != uuid.Nil {
			if _, err := m.LoadTasks(ctx, ev.Current); err != nil {
				log.Printf("Failed to load tasks after sign-in of %s: %v", ev.Current, err)
			}
		}
	})
}

// LoadTasks replaces the user's list with the stored tasks. Concurrent loads
// for the same user share one query. On failure the previous list is kept.
func (m *LifecycleManager) LoadTasks(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	if userID == uuid.Nil {
		return nil, newError(KindValidation, MsgSignInRequired, ErrNoIdentity)
	}
	v := m.view(userID)

	// Loads only share a query within one generation of the view.
	key := fmt.Sprintf("%s/%d", userID, v.generation())
	res, err, _ := m.loads.Do(key, func() (interface{}, error) {
		v.op.Lock()
		defer v.op.Unlock()
		v.clearError()
		return m.reload(context.WithoutCancel(ctx), userID, v)
	})
	if err != nil {
		return nil, err
	}
	return models.CloneTasks(res.([]models.Task)), nil
}

// reload must be called with v.op held.
func (m *LifecycleManager) reload(ctx context.Context, userID uuid.UUID, v *userView) ([]models.Task, error) {
	gen := v.generation()
	tasks, err := m.repo.ListByUser(ctx, userID)
	if err != nil {
		log.Printf("Failed to fetch tasks for user %s: %v", userID, err)
		v.failAt(gen, MsgFetchFailed)
		return nil, newError(KindFetch, MsgFetchFailed, err)
	}

	for i := range tasks {
		if tasks[i].Completed || tasks[i].Status == models.StatusCompleted {
			tasks[i].Complete()
		}
	}
	v.replace(gen, tasks)
	return models.CloneTasks(tasks), nil
}

// AddTask validates the draft, stores it as a new pending task and reloads
// the list. A past due date sets the view's dueDateError and stores nothing.
func (m *LifecycleManager) AddTask(ctx context.Context, userID uuid.UUID, draft models.TaskDraft) (models.Task, error) {
	if userID == uuid.Nil {
		return models.Task{}, newError(KindValidation, MsgSignInRequired, ErrNoIdentity)
	}
	v := m.view(userID)
	v.op.Lock()
	defer v.op.Unlock()
	v.clearError()

	now := m.config.Clock()
	if err := draft.Validate(now, m.config.RequireTitle); err != nil {
		if errors.Is(err, models.ErrPastDueDate) {
			v.setDueDateError(true)
			return models.Task{}, newError(KindValidation, MsgPastDueDate, err)
		}
		return models.Task{}, newError(KindValidation, MsgEmptyTitle, err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return models.Task{}, newError(KindAdd, MsgAddFailed, err)
	}

	task := models.Task{
		ID:            id,
		UserID:        userID,
		Title:         draft.Title,
		Description:   draft.Description,
		Tags:          append([]string{}, draft.Tags...),
		Checklist:     append([]models.ChecklistItem{}, draft.Checklist...),
		Priority:      draft.Priority,
		EstimatedTime: draft.EstimatedTime,
		Status:        models.StatusPending,
		Completed:     false,
		TimeLeft:      m.config.TimeLeftMode.Calculate(draft.DueDate, now),
	}
	if draft.DueDate != nil {
		due := draft.DueDate.UTC()
		task.DueDate = &due
	}

	if err := m.repo.Add(ctx, task); err != nil {
		log.Printf("Failed to add task %s for user %s: %v", task.ID, userID, err)
		v.fail(MsgAddFailed)
		return models.Task{}, newError(KindAdd, MsgAddFailed, err)
	}
	v.setDueDateError(false)
	m.scheduleReminder(ctx, task)

	return m.reloadAfterWrite(ctx, userID, v, task), nil
}

// DeleteTask removes the task from the store and reloads the list. Deleting
// a task that does not exist succeeds.
func (m *LifecycleManager) DeleteTask(ctx context.Context, userID, taskID uuid.UUID) error {
	if userID == uuid.Nil {
		return newError(KindValidation, MsgSignInRequired, ErrNoIdentity)
	}
	v := m.view(userID)
	v.op.Lock()
	defer v.op.Unlock()
	v.clearError()

	if err := m.repo.Delete(ctx, userID, taskID); err != nil {
		log.Printf("Failed to delete task %s for user %s: %v", taskID, userID, err)
		v.fail(MsgDeleteFailed)
		return newError(KindDelete, MsgDeleteFailed, err)
	}

	if _, err := m.reload(ctx, userID, v); err != nil {
		log.Printf("Task %s deleted but reload failed: %v", taskID, err)
	}
	return nil
}

// CompleteTask marks the task completed and overwrites the whole stored
// document with it. Completing a completed task rewrites the same state.
func (m *LifecycleManager) CompleteTask(ctx context.Context, userID uuid.UUID, task models.Task) (models.Task, error) {
	if userID == uuid.Nil {
		return models.Task{}, newError(KindValidation, MsgSignInRequired, ErrNoIdentity)
	}
	if task.UserID != userID {
		return models.Task{}, newError(KindValidation, MsgForeignTask, ErrForeignTask)
	}
	v := m.view(userID)
	v.op.Lock()
	defer v.op.Unlock()
	v.clearError()

	updated := task.Clone()
	updated.Complete()

	if err := m.repo.Update(ctx, updated); err != nil {
		log.Printf("Failed to complete task %s for user %s: %v", task.ID, userID, err)
		v.fail(MsgCompleteFailed)
		return models.Task{}, newError(KindUpdate, MsgCompleteFailed, err)
	}

	return m.reloadAfterWrite(ctx, userID, v, updated), nil
}

// RescheduleTask changes the due date of a stored task and recomputes its
// time-left badge. The new date must not be before today.
func (m *LifecycleManager) RescheduleTask(ctx context.Context, userID, taskID uuid.UUID, due *time.Time) (models.Task, error) {
	if userID == uuid.Nil {
		return models.Task{}, newError(KindValidation, MsgSignInRequired, ErrNoIdentity)
	}
	v := m.view(userID)
	v.op.Lock()
	defer v.op.Unlock()
	v.clearError()

	now := m.config.Clock()
	if err := models.ValidateDueDate(due, now); err != nil {
		v.setDueDateError(true)
		return models.Task{}, newError(KindValidation, MsgPastDueDate, err)
	}

	task, err := m.repo.Get(ctx, userID, taskID)
	if err != nil {
		log.Printf("Failed to read task %s for user %s: %v", taskID, userID, err)
		v.fail(MsgUpdateFailed)
		return models.Task{}, newError(KindUpdate, MsgUpdateFailed, err)
	}
	if task.UserID != userID {
		return models.Task{}, newError(KindValidation, MsgForeignTask, ErrForeignTask)
	}

	task.DueDate = nil
	if due != nil {
		d := due.UTC()
		task.DueDate = &d
	}
	task.TimeLeft = m.config.TimeLeftMode.Calculate(task.DueDate, now)

	if err := m.repo.Update(ctx, task); err != nil {
		log.Printf("Failed to reschedule task %s for user %s: %v", taskID, userID, err)
		v.fail(MsgUpdateFailed)
		return models.Task{}, newError(KindUpdate, MsgUpdateFailed, err)
	}
	v.setDueDateError(false)
	m.scheduleReminder(ctx, task)

	return m.reloadAfterWrite(ctx, userID, v, task), nil
}

// AddChecklistItem appends an unchecked item to a draft. Nothing is stored.
func (m *LifecycleManager) AddChecklistItem(draft *models.TaskDraft, text string) {
	draft.AddChecklistItem(text)
}

// FindTask returns a task from the user's list, loading the list first when
// it has not been loaded yet.
func (m *LifecycleManager) FindTask(ctx context.Context, userID, taskID uuid.UUID) (models.Task, error) {
	if userID == uuid.Nil {
		return models.Task{}, newError(KindValidation, MsgSignInRequired, ErrNoIdentity)
	}

	v := m.lookup(userID)
	if v == nil || !v.isLoaded() {
		if _, err := m.LoadTasks(ctx, userID); err != nil {
			return models.Task{}, err
		}
		v = m.view(userID)
	}

	task, ok := v.find(taskID)
	if !ok {
		return models.Task{}, newError(KindValidation, MsgTaskNotFound, ErrTaskNotFound)
	}
	return task, nil
}

func (m *LifecycleManager) Tasks(userID uuid.UUID) []models.Task {
	return m.View(userID).Tasks
}

// Board groups the current list into columns. It is recomputed on every call.
func (m *LifecycleManager) Board(userID uuid.UUID) models.Board {
	return models.GroupByStatus(m.Tasks(userID))
}

func (m *LifecycleManager) View(userID uuid.UUID) View {
	v := m.lookup(userID)
	if v == nil {
		return View{Tasks: []models.Task{}}
	}
	return v.snapshot()
}

// reloadAfterWrite reloads the list and returns the stored version of task.
// A failed reload is already recorded on the view; the write itself stands.
func (m *LifecycleManager) reloadAfterWrite(ctx context.Context, userID uuid.UUID, v *userView, task models.Task) models.Task {
	tasks, err := m.reload(ctx, userID, v)
	if err != nil {
		return task
	}
	for _, t := range tasks {
		if t.ID == task.ID {
			return t
		}
	}
	return task
}

func (m *LifecycleManager) scheduleReminder(ctx context.Context, task models.Task) {
	if m.reminders == nil || task.DueDate == nil {
		return
	}
	if err := m.reminders.ScheduleReminder(ctx, task); err != nil {
		log.Printf("Failed to schedule reminder for task %s: %v", task.ID, err)
	}
}
