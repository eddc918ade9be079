package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dashclip/dashclip-agent/internal/catalog"
)

type recordingProcessor struct {
	mu    sync.Mutex
	calls []Request
}

func (p *recordingProcessor) Process(ctx context.Context, req Request) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	return &Result{VideoID: req.VideoID, Status: catalog.StatusCompleted}, nil
}

type sliceQueue struct {
	jobs []Request
	err  error
}

func (q *sliceQueue) Enqueue(ctx context.Context, req Request) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, req)
	return nil
}

func TestDispatcher_Sync(t *testing.T) {
	proc := &recordingProcessor{}
	queue := &sliceQueue{}
	d := NewDispatcher(proc, queue, testLogger())

	res, err := d.Submit(context.Background(), newRequest("v1"), ModeSync)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res == nil || res.Status != catalog.StatusCompleted {
		t.Errorf("result = %+v", res)
	}
	if len(proc.calls) != 1 || len(queue.jobs) != 0 {
		t.Errorf("calls=%d queued=%d, want 1/0", len(proc.calls), len(queue.jobs))
	}
}

func TestDispatcher_Background(t *testing.T) {
	proc := &recordingProcessor{}
	queue := &sliceQueue{}
	d := NewDispatcher(proc, queue, testLogger())

	res, err := d.Submit(context.Background(), newRequest("v1"), ModeBackground)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	if len(proc.calls) != 0 || len(queue.jobs) != 1 || queue.jobs[0].VideoID != "v1" {
		t.Errorf("calls=%d queued=%v", len(proc.calls), queue.jobs)
	}
}

func TestDispatcher_BackgroundValidatesFirst(t *testing.T) {
	queue := &sliceQueue{}
	d := NewDispatcher(&recordingProcessor{}, queue, testLogger())

	req := newRequest("v1")
	req.OwnerID = ""
	if _, err := d.Submit(context.Background(), req, ModeBackground); !errors.Is(err, ErrValidation) {
		t.Errorf("Submit() error = %v, want validation", err)
	}
	if len(queue.jobs) != 0 {
		t.Error("invalid request was queued")
	}
}

func TestDispatcher_BackgroundErrors(t *testing.T) {
	d := NewDispatcher(&recordingProcessor{}, nil, testLogger())
	if _, err := d.Submit(context.Background(), newRequest("v1"), ModeBackground); err == nil {
		t.Error("Submit() without a queue should fail")
	}

	queueErr := errors.New("redis: connection refused")
	d = NewDispatcher(&recordingProcessor{}, &sliceQueue{err: queueErr}, testLogger())
	if _, err := d.Submit(context.Background(), newRequest("v1"), ModeBackground); !errors.Is(err, queueErr) {
		t.Errorf("Submit() error = %v, want wrapped queue error", err)
	}
}

func TestDispatcher_UnknownMode(t *testing.T) {
	d := NewDispatcher(&recordingProcessor{}, &sliceQueue{}, testLogger())
	if _, err := d.Submit(context.Background(), newRequest("v1"), Mode("later")); err == nil {
		t.Error("unknown mode should fail")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeBackground, false},
		{"sync", ModeSync, false},
		{" Background ", ModeBackground, false},
		{"SYNC", ModeSync, false},
		{"eventually", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in, ModeBackground)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
