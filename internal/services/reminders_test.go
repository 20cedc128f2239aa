package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"taskboard/backend/internal/models"
	"taskboard/backend/internal/repositories"
	"taskboard/backend/internal/testutil"
	"taskboard/backend/internal/worker"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupReminders(t *testing.T) (*Reminders, *redis.Client, *repositories.DocumentTaskRepository, *[]models.Task) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	repo := repositories.NewDocumentTaskRepository(testutil.NewFakeStore())
	r := NewReminders(worker.NewJobQueue(client), "", repo)

	var fired []models.Task
	r.notify = func(task models.Task) { fired = append(fired, task) }
	return r, client, repo, &fired
}

func reminderJob(t *testing.T, client *redis.Client) *worker.Job {
	t.Helper()

	members, err := client.ZRange(context.Background(), worker.ScheduledSet, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, members, 1)

	var job worker.Job
	require.NoError(t, json.Unmarshal([]byte(members[0]), &job))
	return &job
}

func TestReminders_ScheduleAndFire(t *testing.T) {
	r, client, repo, fired := setupReminders(t)
	ctx := context.Background()

	due := time.Now().Add(time.Hour).UTC()
	task := models.Task{
		ID:      uuid.Must(uuid.NewV4()),
		UserID:  uuid.Must(uuid.NewV4()),
		Title:   "call mom",
		DueDate: &due,
		Status:  models.StatusPending,
	}
	require.NoError(t, repo.Add(ctx, task))
	require.NoError(t, r.ScheduleReminder(ctx, task))

	job := reminderJob(t, client)
	assert.Equal(t, worker.JobTypeTaskReminder, job.Type)
	assert.Equal(t, worker.DefaultQueue, job.Queue)
	assert.Equal(t, task.ID.String(), job.Payload["task_id"])
	assert.True(t, job.ProcessAt.Equal(due))

	require.NoError(t, r.Handle(ctx, job))
	require.Len(t, *fired, 1)
	assert.Equal(t, "call mom", (*fired)[0].Title)
}

func TestReminders_SkipsStaleJobs(t *testing.T) {
	r, client, repo, fired := setupReminders(t)
	ctx := context.Background()

	due := time.Now().Add(time.Hour).UTC()
	task := models.Task{ID: uuid.Must(uuid.NewV4()), UserID: uuid.Must(uuid.NewV4()), DueDate: &due, Status: models.StatusPending}
	require.NoError(t, repo.Add(ctx, task))
	require.NoError(t, r.ScheduleReminder(ctx, task))
	job := reminderJob(t, client)

	moved := due.Add(time.Hour)
	rescheduled := task.Clone()
	rescheduled.DueDate = &moved
	require.NoError(t, repo.Update(ctx, rescheduled))
	require.NoError(t, r.Handle(ctx, job))
	assert.Empty(t, *fired, "rescheduled tasks are reported by the newer job")

	rescheduled.DueDate = &due
	rescheduled.Complete()
	require.NoError(t, repo.Update(ctx, rescheduled))
	require.NoError(t, r.Handle(ctx, job))
	assert.Empty(t, *fired, "completed tasks are not reported")

	require.NoError(t, repo.Delete(ctx, task.UserID, task.ID))
	require.NoError(t, r.Handle(ctx, job), "deleted tasks are skipped, not retried")
	assert.Empty(t, *fired)
}

func TestReminders_NothingToSchedule(t *testing.T) {
	r, client, _, _ := setupReminders(t)
	ctx := context.Background()

	require.NoError(t, r.ScheduleReminder(ctx, models.Task{ID: uuid.Must(uuid.NewV4())}))

	due := time.Now().Add(time.Hour)
	done := models.Task{ID: uuid.Must(uuid.NewV4()), DueDate: &due}
	done.Complete()
	require.NoError(t, r.ScheduleReminder(ctx, done))

	n, err := client.ZCard(ctx, worker.ScheduledSet).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReminders_BadPayload(t *testing.T) {
	r, _, _, _ := setupReminders(t)

	err := r.Handle(context.Background(), &worker.Job{Payload: map[string]interface{}{"user_id": "nope"}})
	assert.Error(t, err)
}
