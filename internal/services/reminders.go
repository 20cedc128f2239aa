package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"taskboard/backend/internal/docstore"
	"taskboard/backend/internal/models"
	"taskboard/backend/internal/repositories"
	"taskboard/backend/internal/worker"

	"github.com/gofrs/uuid"
)

// Reminders schedules a job for the due instant of a task and, when the job
// fires, reports the task unless it was completed, deleted or rescheduled.
type Reminders struct {
	queue     *worker.JobQueue
	queueName string
	repo      repositories.TaskRepository
	now       func() time.Time
	notify    func(task models.Task)
}

func NewReminders(queue *worker.JobQueue, queueName string, repo repositories.TaskRepository) *Reminders {
	if queueName == "" {
		queueName = worker.DefaultQueue
	}
	r := &Reminders{
		queue:     queue,
		queueName: queueName,
		repo:      repo,
		now:       time.Now,
	}
	r.notify = r.logReminder
	return r
}

func (r *Reminders) ScheduleReminder(ctx context.Context, task models.Task) error {
	if task.DueDate == nil || task.IsCompleted() {
		return nil
	}

	payload := map[string]interface{}{
		"user_id":  task.UserID.String(),
		"task_id":  task.ID.String(),
		"due_date": task.DueDate.UTC().Format(time.RFC3339Nano),
	}
	_, err := r.queue.EnqueueAt(ctx, r.queueName, worker.JobTypeTaskReminder, payload, *task.DueDate)
	return err
}

// Handle is the worker.JobHandler for reminder jobs.
func (r *Reminders) Handle(ctx context.Context, job *worker.Job) error {
	userID, err := payloadUUID(job.Payload, "user_id")
	if err != nil {
		return err
	}
	taskID, err := payloadUUID(job.Payload, "task_id")
	if err != nil {
		return err
	}

	task, err := r.repo.Get(ctx, userID, taskID)
	if errors.Is(err, docstore.ErrNotFound) {
		log.Printf("Skipping reminder for deleted task %s", taskID)
		return nil
	}
	if err != nil {
		return err
	}

	if task.IsCompleted() {
		return nil
	}
	if task.DueDate == nil || task.DueDate.UTC().Format(time.RFC3339Nano) != job.Payload["due_date"] {
		// rescheduled since; the newer job reports it
		return nil
	}

	r.notify(task)
	return nil
}

func (r *Reminders) logReminder(task models.Task) {
	log.Printf("Reminder: task %q of user %s is due at %s (%s)",
		task.Title, task.UserID, task.DueDate.Format(time.RFC3339), models.CalculateRemaining(task.DueDate, r.now()))
}

func payloadUUID(payload map[string]interface{}, key string) (uuid.UUID, error) {
	raw, ok := payload[key].(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("reminder payload missing %s", key)
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("reminder payload has bad %s: %w", key, err)
	}
	return id, nil
}
