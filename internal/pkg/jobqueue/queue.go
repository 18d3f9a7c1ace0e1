package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefixes
	JobKeyPrefix     = "job:"
	JobQueueKey      = "job_queue"
	JobProcessingKey = "job_processing"
	JobStatsKey      = "job_stats"

	// DefaultQueue receives jobs dispatched without an explicit queue
	DefaultQueue = "default"

	// Job settings
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Minute
	JobTTL              = 24 * time.Hour // Jobs expire after 24 hours
)

// QueueKey returns the Redis list holding pending jobs of a named queue
func QueueKey(name string) string {
	return JobQueueKey + ":" + name
}

// ProcessingKey returns the Redis list holding in-flight jobs of a named queue
func ProcessingKey(name string) string {
	return JobProcessingKey + ":" + name
}

// Queue manages background jobs using Redis
type Queue struct {
	client       *redis.Client
	workers      int
	queues       []string
	handlers     map[JobType]Handler
	pollInterval time.Duration
	retryBackoff time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.RWMutex
	running      bool
}

// NewQueue creates a new job queue consuming the given named queues in priority order
func NewQueue(client *redis.Client, workers int, queues ...string) *Queue {
	if workers <= 0 {
		workers = 3 // Default number of workers
	}
	if len(queues) == 0 {
		queues = []string{DefaultQueue}
	}

	return &Queue{
		client:       client,
		workers:      workers,
		queues:       queues,
		handlers:     make(map[JobType]Handler),
		pollInterval: time.Second,
		retryBackoff: DefaultRetryBackoff,
		stopCh:       make(chan struct{}),
	}
}

// SetRetryBackoff changes the linear retry delay unit
func (q *Queue) SetRetryBackoff(d time.Duration) {
	q.retryBackoff = d
}

// SetPollInterval changes how long idle workers wait before polling again
func (q *Queue) SetPollInterval(d time.Duration) {
	q.pollInterval = d
}

// RegisterHandler binds a handler to a job type
func (q *Queue) RegisterHandler(jobType JobType, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

func (q *Queue) handler(jobType JobType) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// Start starts the job queue workers
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.stopCh = make(chan struct{})
	q.running = true
	log.Infof("[JobQueue] Starting %d workers on queues %v", q.workers, q.queues)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	// Start stuck-processing sweeper (recovers jobs stuck in processing due to crashes)
	q.wg.Add(1)
	go q.stuckSweeper(30*time.Minute, time.Minute)
}

// Stop stops the job queue workers
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.mu.Unlock()

	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

// stuckSweeper periodically scans the processing lists and requeues jobs stuck for longer than maxAge
func (q *Queue) stuckSweeper(maxAge time.Duration, interval time.Duration) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Stuck sweeper running (maxAge=%s, interval=%s)", maxAge, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			log.Info("[JobQueue] Stuck sweeper stopping")
			return
		case <-ticker.C:
			for _, name := range q.queues {
				q.sweepQueue(ctx, name, maxAge)
			}
		}
	}
}

func (q *Queue) sweepQueue(ctx context.Context, name string, maxAge time.Duration) {
	processing := ProcessingKey(name)
	ids, err := q.client.LRange(ctx, processing, 0, -1).Result()
	if err != nil {
		log.Errorf("[JobQueue] Sweeper LRange error on %s: %v", name, err)
		return
	}
	now := time.Now()
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			// Job data missing; remove from processing list
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Sweeper read error for %s: %v", id, err)
			}
			_ = q.client.LRem(ctx, processing, 1, id).Err()
			continue
		}
		if job.Status != JobStatusProcessing {
			_ = q.client.LRem(ctx, processing, 1, id).Err()
			continue
		}
		started := job.UpdatedAt
		if job.ProcessedAt != nil && !job.ProcessedAt.IsZero() {
			started = *job.ProcessedAt
		}
		if now.Sub(started) > maxAge {
			log.Warnf("[JobQueue] Recovering stuck job %s (type=%s), age=%s", job.ID, job.Type, now.Sub(started))
			job.Status = JobStatusPending
			job.ErrorMsg = "recovered by sweeper"
			job.UpdatedAt = now
			q.updateJob(ctx, job)
			_ = q.client.LRem(ctx, processing, 1, id).Err()
			_ = q.client.RPush(ctx, QueueKey(name), id).Err()
		}
	}
}

// worker processes jobs from the queues
func (q *Queue) worker(id int) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Worker %d started", id)

	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			log.Infof("[JobQueue] Worker %d stopping", id)
			return
		default:
		}

		job, err := q.dequeueJob(ctx)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Worker %d: Error dequeuing job: %v", id, err)
			}
			select {
			case <-q.stopCh:
			case <-time.After(q.pollInterval):
			}
			continue
		}

		log.Debugf("[JobQueue] Worker %d processing job %s (Type: %s)", id, job.ID, job.Type)
		q.processJob(ctx, job)
	}
}

// EnqueueJob adds a single job, outside any batch, to a named queue
func (q *Queue) EnqueueJob(ctx context.Context, queue string, jobType JobType, payload map[string]interface{}) (*Job, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	job := newJob(jobType, payload, queue, "")

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL)
	pipe.LPush(ctx, QueueKey(queue), job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Debugf("[JobQueue] Enqueued job %s (Type: %s, Queue: %s)", job.ID, job.Type, queue)
	return job, nil
}

func newJob(jobType JobType, payload map[string]interface{}, queue, batchID string) *Job {
	now := time.Now()
	return &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Queue:      queue,
		BatchID:    batchID,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}
}

// dequeueJob moves the next job of the first non-empty queue into its processing list
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	for _, name := range q.queues {
		jobID, err := q.client.RPopLPush(ctx, QueueKey(name), ProcessingKey(name)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}

		job, err := q.GetJob(ctx, jobID)
		if err != nil {
			// Job data missing or invalid, remove from processing queue
			q.client.LRem(ctx, ProcessingKey(name), 1, jobID)
			return nil, fmt.Errorf("job data not readable for ID %s: %w", jobID, err)
		}
		return job, nil
	}
	return nil, redis.Nil
}

// processJob processes a single job
func (q *Queue) processJob(ctx context.Context, job *Job) {
	defer q.removeFromProcessing(ctx, job)

	if job.BatchID != "" && q.batchCancelled(ctx, job.BatchID) {
		log.Infof("[JobQueue] Skipping job %s: batch %s cancelled", job.ID, job.BatchID)
		job.MarkAsCancelled()
		q.updateJob(ctx, job)
		q.settleJobStats(ctx, JobStatusCancelled)
		q.finishBatchJob(ctx, job, JobStatusCancelled)
		return
	}

	job.MarkAsProcessing()
	q.updateJob(ctx, job)

	var err error
	if h, ok := q.handler(job.Type); ok {
		err = h(ctx, job)
	} else {
		err = Permanent(fmt.Errorf("unknown job type: %s", job.Type))
	}

	if err == nil {
		log.Debugf("[JobQueue] Job %s completed successfully", job.ID)
		job.MarkAsCompleted()
		q.settleJobStats(ctx, JobStatusCompleted)
		q.finishBatchJob(ctx, job, JobStatusCompleted)
		// Remove completed job from Redis entirely
		q.removeCompletedJob(ctx, job.ID)
		return
	}

	log.Errorf("[JobQueue] Job %s failed: %v", job.ID, err)
	job.MarkAsFailed(err.Error())

	if job.IsRetryable() && !errors.Is(err, ErrPermanent) {
		log.Infof("[JobQueue] Retrying job %s (Attempt %d/%d)", job.ID, job.RetryCount, job.MaxRetries)
		job.MarkAsRetrying()
		q.updateJob(ctx, job)

		queue := job.Queue
		id := job.ID
		time.AfterFunc(q.retryBackoff*time.Duration(job.RetryCount), func() {
			q.client.LPush(context.Background(), QueueKey(queue), id)
		})
		return
	}

	log.Errorf("[JobQueue] Job %s permanently failed after %d attempts", job.ID, job.RetryCount)
	q.updateJob(ctx, job)
	q.settleJobStats(ctx, JobStatusFailed)
	q.finishBatchJob(ctx, job, JobStatusFailed)
}

// updateJob updates job data in Redis
func (q *Queue) updateJob(ctx context.Context, job *Job) {
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}

	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

// removeFromProcessing removes a job from its processing list
func (q *Queue) removeFromProcessing(ctx context.Context, job *Job) {
	if err := q.client.LRem(ctx, ProcessingKey(job.Queue), 1, job.ID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing queue: %v", job.ID, err)
	}
}

// removeCompletedJob completely removes a completed job from Redis
func (q *Queue) removeCompletedJob(ctx context.Context, jobID string) {
	if err := q.client.Del(ctx, JobKeyPrefix+jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove completed job %s from Redis: %v", jobID, err)
	}
}

// settleJobStats moves one job from the pending counter to its final status counter
func (q *Queue) settleJobStats(ctx context.Context, status JobStatus) {
	pipe := q.client.TxPipeline()
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), -1)
	pipe.HIncrBy(ctx, JobStatsKey, string(status), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[JobQueue] Failed to update job stats: %v", err)
	}
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobData, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// GetJobStats returns statistics about job statuses
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, JobStatsKey).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[JobStatus]int64)
	for status, count := range stats {
		if countInt, err := json.Number(count).Int64(); err == nil {
			result[JobStatus(status)] = countInt
		}
	}

	return result, nil
}

// Queues returns the names of the queues this instance consumes
func (q *Queue) Queues() []string {
	return append([]string(nil), q.queues...)
}

// GetQueueSize returns the number of pending jobs in a named queue
func (q *Queue) GetQueueSize(ctx context.Context, name string) (int64, error) {
	return q.client.LLen(ctx, QueueKey(name)).Result()
}

// GetProcessingSize returns the number of jobs being processed from a named queue
func (q *Queue) GetProcessingSize(ctx context.Context, name string) (int64, error) {
	return q.client.LLen(ctx, ProcessingKey(name)).Result()
}
