// Package queue carries background processing requests from the dispatcher
// to the worker pool.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dashclip/dashclip-agent/internal/pipeline"
)

// ErrClosed is returned by a queue that has been closed.
var ErrClosed = errors.New("queue closed")

// Job is one queued request.
type Job struct {
	ID         string           `json:"id"`
	Request    pipeline.Request `json:"request"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
}

// Queue is implemented by Memory and Redis. Enqueue satisfies
// pipeline.JobQueue.
type Queue interface {
	Enqueue(ctx context.Context, req pipeline.Request) error
	// Dequeue blocks until a job is available, ctx is done or the queue is
	// closed.
	Dequeue(ctx context.Context) (*Job, error)
	Close() error
}

func newJob(req pipeline.Request) *Job {
	return &Job{
		ID:         uuid.NewString(),
		Request:    req,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Encode serializes a job for transport.
func (j *Job) Encode() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return data, nil
}

// DecodeJob parses a serialized job.
func DecodeJob(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	if j.Request.VideoID == "" {
		return nil, errors.New("job has no video_id")
	}
	return &j, nil
}
