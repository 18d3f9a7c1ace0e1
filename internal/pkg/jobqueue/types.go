package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeValidateChunk JobType = "validate_chunk"
	JobTypeVerifyChunk   JobType = "verify_chunk"
	JobTypeBillChunk     JobType = "bill_chunk"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Handler processes one job. Returning an error wrapped with Permanent skips the retries.
type Handler func(ctx context.Context, job *Job) error

// ErrPermanent marks a failure that retrying cannot fix
var ErrPermanent = errors.New("permanent job failure")

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() []error {
	return []error{e.err, ErrPermanent}
}

// Permanent wraps err so the queue fails the job without retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Queue       string                 `json:"queue"`
	BatchID     string                 `json:"batch_id,omitempty"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// JobSpec describes one job of a batch before it is enqueued
type JobSpec struct {
	Type    JobType
	Payload map[string]interface{}
}

// ChunkJobPayload carries one chunk of debtors for a pipeline phase
type ChunkJobPayload struct {
	Model     string `json:"model"`
	Phase     string `json:"phase"`
	DebtorIDs []uint `json:"debtor_ids"`
}

// ToMap converts the payload to a map for storage
func (p ChunkJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"model":      p.Model,
		"phase":      p.Phase,
		"debtor_ids": p.DebtorIDs,
	}
}

// ChunkJobPayloadFromMap creates a payload from a map
func ChunkJobPayloadFromMap(data map[string]interface{}) (*ChunkJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload ChunkJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}

// MarkAsCancelled marks a job skipped because its batch was cancelled
func (j *Job) MarkAsCancelled() {
	j.Status = JobStatusCancelled
	j.UpdatedAt = time.Now()
}
