package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BatchKeyPrefix prefixes the Redis hash holding batch counters
const BatchKeyPrefix = "job_batch:"

// ErrEmptyBatch is returned when a batch without jobs is dispatched
var ErrEmptyBatch = errors.New("batch has no jobs")

// BatchKey returns the Redis hash key of a batch
func BatchKey(id string) string {
	return BatchKeyPrefix + id
}

// BatchOptions controls how a batch is queued and how failures affect it
type BatchOptions struct {
	// AllowPartialFailures keeps the remaining jobs running after a job fails permanently
	AllowPartialFailures bool
	// Queue names the target queue; empty means DefaultQueue
	Queue string
}

// Batch is a handle on a named group of jobs with aggregate counters
type Batch struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Queue                string    `json:"queue"`
	Total                int64     `json:"total"`
	Pending              int64     `json:"pending"`
	Processed            int64     `json:"processed"`
	Failed               int64     `json:"failed"`
	Skipped              int64     `json:"skipped"`
	AllowPartialFailures bool      `json:"allow_partial_failures"`
	Cancelled            bool      `json:"cancelled"`
	CreatedAt            time.Time `json:"created_at"`
}

// Finished reports whether every job of the batch has reached a final state
func (b *Batch) Finished() bool {
	return b.Pending <= 0
}

// DispatchBatch enqueues all specs as one batch on the queue named in opts
func (q *Queue) DispatchBatch(ctx context.Context, name string, specs []JobSpec, opts BatchOptions) (*Batch, error) {
	if len(specs) == 0 {
		return nil, ErrEmptyBatch
	}
	queue := opts.Queue
	if queue == "" {
		queue = DefaultQueue
	}

	batch := &Batch{
		ID:                   uuid.New().String(),
		Name:                 name,
		Queue:                queue,
		Total:                int64(len(specs)),
		Pending:              int64(len(specs)),
		AllowPartialFailures: opts.AllowPartialFailures,
		CreatedAt:            time.Now().UTC(),
	}

	key := BatchKey(batch.ID)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"name":           batch.Name,
		"queue":          batch.Queue,
		"total":          batch.Total,
		"pending":        batch.Pending,
		"processed":      0,
		"failed":         0,
		"skipped":        0,
		"allow_failures": boolField(batch.AllowPartialFailures),
		"cancelled":      "0",
		"created_at":     batch.CreatedAt.Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, JobTTL)

	ids := make([]interface{}, 0, len(specs))
	for _, spec := range specs {
		job := newJob(spec.Type, spec.Payload, queue, batch.ID)
		jobData, err := json.Marshal(job)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal job: %w", err)
		}
		pipe.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL)
		ids = append(ids, job.ID)
	}
	pipe.LPush(ctx, QueueKey(queue), ids...)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), int64(len(ids)))

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to dispatch batch %s: %w", name, err)
	}

	log.Infof("[JobQueue] Dispatched batch %s (%s) with %d jobs on queue %s", batch.ID, name, batch.Total, queue)
	return batch, nil
}

// FindBatch loads a batch handle with its current counters
func (q *Queue) FindBatch(ctx context.Context, id string) (*Batch, error) {
	fields, err := q.client.HGetAll(ctx, BatchKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, redis.Nil
	}

	batch := &Batch{
		ID:                   id,
		Name:                 fields["name"],
		Queue:                fields["queue"],
		Total:                intField(fields["total"]),
		Pending:              intField(fields["pending"]),
		Processed:            intField(fields["processed"]),
		Failed:               intField(fields["failed"]),
		Skipped:              intField(fields["skipped"]),
		AllowPartialFailures: fields["allow_failures"] == "1",
		Cancelled:            fields["cancelled"] == "1",
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		batch.CreatedAt = ts
	}
	return batch, nil
}

// CancelBatch marks a batch cancelled; jobs not yet started are skipped
func (q *Queue) CancelBatch(ctx context.Context, id string) error {
	return q.client.HSet(ctx, BatchKey(id), "cancelled", "1").Err()
}

func (q *Queue) batchCancelled(ctx context.Context, id string) bool {
	v, err := q.client.HGet(ctx, BatchKey(id), "cancelled").Result()
	if err != nil {
		return false
	}
	return v == "1"
}

// finishBatchJob moves one job of a batch from pending to its final counter
func (q *Queue) finishBatchJob(ctx context.Context, job *Job, status JobStatus) {
	if job.BatchID == "" {
		return
	}
	key := BatchKey(job.BatchID)

	pipe := q.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "pending", -1)
	switch status {
	case JobStatusCompleted:
		pipe.HIncrBy(ctx, key, "processed", 1)
	case JobStatusFailed:
		pipe.HIncrBy(ctx, key, "failed", 1)
	default:
		pipe.HIncrBy(ctx, key, "skipped", 1)
	}
	allow := pipe.HGet(ctx, key, "allow_failures")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		log.Errorf("[JobQueue] Failed to update batch %s: %v", job.BatchID, err)
		return
	}

	if status == JobStatusFailed && allow.Val() != "1" {
		log.Warnf("[JobQueue] Cancelling batch %s after permanent failure of job %s", job.BatchID, job.ID)
		if err := q.CancelBatch(ctx, job.BatchID); err != nil {
			log.Errorf("[JobQueue] Failed to cancel batch %s: %v", job.BatchID, err)
		}
	}
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func intField(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
