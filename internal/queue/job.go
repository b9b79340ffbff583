// Package queue defers embedding work to a redis sorted set and drains it on
// a schedule.
//
// Delivery is at-most-once: a job is removed before it is processed, so a
// crash mid-job loses it. cmd sweep re-enqueues whatever is still pending.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocumentsTable is the only table jobs may reference.
const DocumentsTable = "documents"

// ErrMalformedJob is returned for a queue member that does not decode.
var ErrMalformedJob = errors.New("malformed queue job")

// Job is one deferred embedding attempt. Suffix is encoded first so members
// sharing a score order by it.
type Job struct {
	Suffix     string    `json:"suffix"`
	Table      string    `json:"table"`
	DocumentID string    `json:"document_id"`
	Attempt    int       `json:"attempt"`
	RunAt      time.Time `json:"run_at"`
}

// NewJob returns a first attempt for the given document.
func NewJob(documentID string) Job {
	return Job{Table: DocumentsTable, DocumentID: documentID}
}

// Enqueuer schedules a job to run after delay.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job, delay time.Duration) error
}

func newSuffix() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

func encodeJob(job Job) (string, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	return string(b), nil
}

func decodeJob(member string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(member), &job); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if job.DocumentID == "" {
		return Job{}, fmt.Errorf("%w: missing document id", ErrMalformedJob)
	}
	return job, nil
}
