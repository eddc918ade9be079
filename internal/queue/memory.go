package queue

import (
	"context"
	"sync"

	"github.com/dashclip/dashclip-agent/internal/pipeline"
)

const DefaultMemoryCapacity = 100

// Memory is an in-process queue backed by a buffered channel. Jobs do not
// survive a restart.
type Memory struct {
	jobs chan *Job
	done chan struct{}
	once sync.Once
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{
		jobs: make(chan *Job, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue blocks while the buffer is full.
func (m *Memory) Enqueue(ctx context.Context, req pipeline.Request) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	select {
	case m.jobs <- newJob(req):
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Dequeue(ctx context.Context) (*Job, error) {
	select {
	case <-m.done:
		return nil, ErrClosed
	default:
	}

	select {
	case job := <-m.jobs:
		return job, nil
	case <-m.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of buffered jobs.
func (m *Memory) Len() int {
	return len(m.jobs)
}

// Close wakes blocked callers. Buffered jobs are dropped.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}
