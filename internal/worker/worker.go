package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
)

type JobType string

const (
	JobTypeTaskReminder JobType = "task_reminder"
)

const (
	DefaultQueue = "reminders"
	ScheduledSet = "scheduled_jobs"
	DeadQueue    = "dead_queue"
)

type Job struct {
	ID        string                 `json:"id"`
	Type      JobType                `json:"type"`
	Queue     string                 `json:"queue"`
	Payload   map[string]interface{} `json:"payload"`
	Attempts  int                    `json:"attempts"`
	MaxTries  int                    `json:"max_tries"`
	CreatedAt time.Time              `json:"created_at"`
	ProcessAt time.Time              `json:"process_at"`
}

type JobHandler func(ctx context.Context, job *Job) error

type Worker struct {
	client       *redis.Client
	handlers     map[JobType]JobHandler
	queues       []string
	pollInterval time.Duration
	blockTimeout time.Duration
	retryBase    time.Duration
	mu           sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	stopOnce     sync.Once
	now          func() time.Time
}

type WorkerConfig struct {
	RedisClient  *redis.Client
	Concurrency  int
	PollInterval time.Duration
	BlockTimeout time.Duration
	RetryBase    time.Duration
	Queues       []string
}

func NewWorker(config WorkerConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if len(config.Queues) == 0 {
		config.Queues = []string{DefaultQueue}
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.BlockTimeout <= 0 {
		config.BlockTimeout = 5 * time.Second
	}
	if config.RetryBase <= 0 {
		config.RetryBase = time.Minute
	}

	return &Worker{
		client:       config.RedisClient,
		handlers:     make(map[JobType]JobHandler),
		queues:       config.Queues,
		pollInterval: config.PollInterval,
		blockTimeout: config.BlockTimeout,
		retryBase:    config.RetryBase,
		ctx:          ctx,
		cancel:       cancel,
		now:          time.Now,
	}
}

func (w *Worker) RegisterHandler(jobType JobType, handler JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

func (w *Worker) Start(concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	log.Printf("Starting worker with %d goroutines", concurrency)

	w.wg.Add(1)
	go w.schedulerLoop()

	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop()
	}
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		log.Println("Stopping worker...")
		w.cancel()
		w.wg.Wait()
		log.Println("Worker stopped")
	})
}

func (w *Worker) workerLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			if err := w.processNextJob(); err != nil {
				if w.ctx.Err() != nil {
					return
				}
				log.Printf("Error processing job: %v", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) schedulerLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.promoteDueJobs(w.ctx); err != nil && w.ctx.Err() == nil {
				log.Printf("Error promoting scheduled jobs: %v", err)
			}
		}
	}
}

// promoteDueJobs moves scheduled jobs whose time has come onto their queue.
// A job is pushed only by the caller whose ZREM removed it, so concurrent
// workers never promote the same job twice.
func (w *Worker) promoteDueJobs(ctx context.Context) (int, error) {
	max := strconv.FormatInt(w.now().UnixMilli(), 10)
	due, err := w.client.ZRangeByScore(ctx, ScheduledSet, &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read scheduled jobs: %w", err)
	}

	promoted := 0
	for _, data := range due {
		removed, err := w.client.ZRem(ctx, ScheduledSet, data).Result()
		if err != nil {
			return promoted, fmt.Errorf("failed to claim scheduled job: %w", err)
		}
		if removed == 0 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			log.Printf("Dropping unreadable scheduled job: %v", err)
			continue
		}
		queue := job.Queue
		if queue == "" {
			queue = w.queues[0]
		}
		if err := w.client.RPush(ctx, queue, data).Err(); err != nil {
			return promoted, fmt.Errorf("failed to promote job %s: %w", job.ID, err)
		}
		promoted++
	}
	return promoted, nil
}

func (w *Worker) processNextJob() error {
	result, err := w.client.BLPop(w.ctx, w.blockTimeout, w.queues...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to pop job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	queue := result[0]
	jobData := result[1]

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.Queue == "" {
		job.Queue = queue
	}

	if w.now().Before(job.ProcessAt) {
		return w.schedule(&job)
	}

	return w.executeJob(&job)
}

func (w *Worker) executeJob(job *Job) error {
	w.mu.RLock()
	handler, exists := w.handlers[job.Type]
	w.mu.RUnlock()

	if !exists {
		return fmt.Errorf("no handler registered for job type: %s", job.Type)
	}

	log.Printf("Processing job %s of type %s", job.ID, job.Type)

	ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
	defer cancel()

	err := handler(ctx, job)
	if err != nil {
		job.Attempts++
		if job.Attempts < job.MaxTries {
			log.Printf("Job %s failed (attempt %d/%d), retrying: %v",
				job.ID, job.Attempts, job.MaxTries, err)
			return w.retryJob(job)
		}

		log.Printf("Job %s failed permanently after %d attempts: %v",
			job.ID, job.Attempts, err)
		return w.moveToDeadQueue(job, err)
	}

	log.Printf("Job %s completed successfully", job.ID)
	return nil
}

func (w *Worker) retryJob(job *Job) error {
	delay := time.Duration(1<<job.Attempts) * w.retryBase
	job.ProcessAt = w.now().Add(delay)

	return w.schedule(job)
}

func (w *Worker) schedule(job *Job) error {
	return scheduleJob(w.ctx, w.client, job)
}

func scheduleJob(ctx context.Context, client *redis.Client, job *Job) error {
	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return client.ZAdd(ctx, ScheduledSet, redis.Z{
		Score:  float64(job.ProcessAt.UnixMilli()),
		Member: jobData,
	}).Err()
}

func (w *Worker) moveToDeadQueue(job *Job, jobErr error) error {
	deadJob := map[string]interface{}{
		"original_job": job,
		"error":        jobErr.Error(),
		"failed_at":    w.now(),
	}

	deadJobData, err := json.Marshal(deadJob)
	if err != nil {
		return fmt.Errorf("failed to marshal dead job: %w", err)
	}

	return w.client.RPush(w.ctx, DeadQueue, deadJobData).Err()
}

type JobQueue struct {
	client *redis.Client
	now    func() time.Time
}

func NewJobQueue(client *redis.Client) *JobQueue {
	return &JobQueue{client: client, now: time.Now}
}

func (q *JobQueue) Enqueue(ctx context.Context, queue string, jobType JobType, payload map[string]interface{}) (string, error) {
	return q.EnqueueAt(ctx, queue, jobType, payload, q.now())
}

// EnqueueAt pushes a job that becomes runnable at processAt. Jobs due now go
// straight onto the queue; later ones wait in the scheduled set until the
// worker's poll loop promotes them.
func (q *JobQueue) EnqueueAt(ctx context.Context, queue string, jobType JobType, payload map[string]interface{}, processAt time.Time) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	now := q.now()
	job := &Job{
		ID:        id.String(),
		Type:      jobType,
		Queue:     queue,
		Payload:   payload,
		Attempts:  0,
		MaxTries:  3,
		CreatedAt: now,
		ProcessAt: processAt,
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if processAt.After(now) {
		if err := scheduleJob(ctx, q.client, job); err != nil {
			return "", err
		}
		return job.ID, nil
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, queue, jobData).Err(); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (q *JobQueue) GetQueueSize(ctx context.Context, queue string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return q.client.LLen(ctx, queue).Result()
}

func (q *JobQueue) GetScheduledCount(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return q.client.ZCard(ctx, ScheduledSet).Result()
}
