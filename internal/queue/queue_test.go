package queue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/dashclip/dashclip-agent/internal/pipeline"
)

func testRequest(id string) pipeline.Request {
	return pipeline.Request{
		VideoID:    id,
		SourcePath: "uploads/" + id + "/front.mp4",
		OwnerID:    "owner-1",
		CameraType: "generic",
		Force:      true,
	}
}

func TestJobEncodeDecode(t *testing.T) {
	job := newJob(testRequest("v1"))

	data, err := job.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := DecodeJob(data)
	if err != nil {
		t.Fatalf("DecodeJob() error = %v", err)
	}
	if got.ID != job.ID || got.Request != job.Request || !got.EnqueuedAt.Equal(job.EnqueuedAt) {
		t.Errorf("round trip = %+v, want %+v", got, job)
	}
}

func TestDecodeJob_Invalid(t *testing.T) {
	for _, in := range []string{"", "{", `{"id":"x","request":{}}`} {
		if _, err := DecodeJob([]byte(in)); err == nil {
			t.Errorf("DecodeJob(%q) should fail", in)
		}
	}
}

func TestMemory_FIFO(t *testing.T) {
	q := NewMemory(4)
	ctx := context.Background()

	for _, id := range []string{"v1", "v2", "v3"} {
		if err := q.Enqueue(ctx, testRequest(id)); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}
	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}
	for _, want := range []string{"v1", "v2", "v3"} {
		job, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if job.Request.VideoID != want {
			t.Errorf("got %s, want %s", job.Request.VideoID, want)
		}
	}
}

func TestMemory_DequeueHonoursContext(t *testing.T) {
	q := NewMemory(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Dequeue() error = %v, want deadline exceeded", err)
	}
}

func TestMemory_EnqueueBlocksWhenFull(t *testing.T) {
	q := NewMemory(1)
	if err := q.Enqueue(context.Background(), testRequest("v1")); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, testRequest("v2")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Enqueue() on a full queue = %v, want deadline exceeded", err)
	}
}

func TestMemory_CloseWakesConsumers(t *testing.T) {
	q := NewMemory(1)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Dequeue() error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue() not woken by Close")
	}

	if err := q.Enqueue(context.Background(), testRequest("v1")); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue() after Close = %v, want ErrClosed", err)
	}
}

func TestMemory_SatisfiesJobQueue(t *testing.T) {
	var _ pipeline.JobQueue = NewMemory(1)
	var _ Queue = NewMemory(1)
	var _ Queue = (*Redis)(nil)
}

func TestNewRedis_Validation(t *testing.T) {
	if _, err := NewRedis(RedisConfig{Key: "k"}, nil); err == nil {
		t.Error("missing address should fail")
	}
	if _, err := NewRedis(RedisConfig{Addr: "localhost:6379"}, nil); err == nil {
		t.Error("missing key should fail")
	}
}

// TestRedis_RoundTrip runs against a real server when
// DASHCLIP_TEST_REDIS_ADDR is set.
func TestRedis_RoundTrip(t *testing.T) {
	addr := os.Getenv("DASHCLIP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DASHCLIP_TEST_REDIS_ADDR not set")
	}

	key := "dashclip:test:" + newJob(testRequest("x")).ID
	q, err := NewRedis(RedisConfig{Addr: addr, Key: key, PollTimeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	defer q.client.Del(context.Background(), key)

	for _, id := range []string{"v1", "v2"} {
		if err := q.Enqueue(ctx, testRequest(id)); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if n, err := q.Len(ctx); err != nil || n != 2 {
		t.Errorf("Len() = %d, %v", n, err)
	}

	for _, want := range []string{"v1", "v2"} {
		job, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if job.Request.VideoID != want {
			t.Errorf("got %s, want %s", job.Request.VideoID, want)
		}
	}
}
