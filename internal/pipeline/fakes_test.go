package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dashclip/dashclip-agent/internal/catalog"
	"github.com/dashclip/dashclip-agent/internal/gps"
	"github.com/dashclip/dashclip-agent/internal/mediatools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeStore struct {
	mu       sync.Mutex
	videos   map[string]*catalog.Video
	clips    map[string]map[int]catalog.Clip
	statuses []catalog.VideoStatus
	touches  int

	metadataErr  error
	pruneErr     error
	upsertClipFn func(clip *catalog.Clip) error
}

func newFakeStore(videos ...*catalog.Video) *fakeStore {
	s := &fakeStore{
		videos: map[string]*catalog.Video{},
		clips:  map[string]map[int]catalog.Clip{},
	}
	for _, v := range videos {
		s.videos[v.ID] = v
	}
	return s
}

func (s *fakeStore) GetVideo(ctx context.Context, id string) (*catalog.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

// UpdateVideoStatus refuses cancelled contexts the way a real driver does.
func (s *fakeStore) UpdateVideoStatus(ctx context.Context, id string, status catalog.VideoStatus, errorMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return fmt.Errorf("video %s not found", id)
	}
	v.Status = status
	v.ProcessingError = errorMsg
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeStore) UpdateVideoMetadata(ctx context.Context, id string, meta catalog.VideoMetadata) error {
	if s.metadataErr != nil {
		return s.metadataErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.videos[id]
	d := meta.Duration
	t := meta.RecordedAt
	v.Duration = &d
	v.RecordedAt = &t
	v.RawMetadata = meta.RawMetadata
	return nil
}

func (s *fakeStore) TouchVideo(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.videos[id]; ok && v.Status == catalog.StatusProcessing {
		s.touches++
	}
	return nil
}

func (s *fakeStore) DeleteClipsFrom(ctx context.Context, videoID string, fromIndex int) (int64, error) {
	if s.pruneErr != nil {
		return 0, s.pruneErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for idx := range s.clips[videoID] {
		if idx >= fromIndex {
			delete(s.clips[videoID], idx)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) heartbeats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touches
}

func (s *fakeStore) UpsertClip(ctx context.Context, clip *catalog.Clip) error {
	if s.upsertClipFn != nil {
		if err := s.upsertClipFn(clip); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clips[clip.VideoID] == nil {
		s.clips[clip.VideoID] = map[int]catalog.Clip{}
	}
	s.clips[clip.VideoID][clip.Index] = *clip
	return nil
}

func (s *fakeStore) video(id string) catalog.Video {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.videos[id]
}

func (s *fakeStore) clipList(videoID string) []catalog.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.Clip
	for _, c := range s.clips[videoID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

type fakeStorage struct {
	mu       sync.Mutex
	objects  map[string][]byte
	types    map[string]string
	uploadFn func(path string) error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *fakeStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %s not found", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStorage) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	if s.uploadFn != nil {
		if err := s.uploadFn(path); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: got %d, declared %d", len(data), size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = data
	s.types[path] = contentType
	return nil
}

func (s *fakeStorage) has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[path]
	return ok
}

// fakeTools stands in for ffprobe, exiftool and ffmpeg. Segments are written
// as real files so the pipeline can upload them.
type fakeTools struct {
	probeFn   func(ctx context.Context, path string) (*mediatools.ProbeResult, error)
	track     gps.Track
	gpsErr    error
	segments  []string           // file names Split creates, in creation order
	durations map[string]float64 // by file name
	splitFn   func() error

	mu         sync.Mutex
	probedPath string
}

func (f *fakeTools) Probe(ctx context.Context, path string) (*mediatools.ProbeResult, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("probe of missing file: %w", err)
	}
	f.mu.Lock()
	f.probedPath = path
	f.mu.Unlock()
	if f.probeFn != nil {
		return f.probeFn(ctx, path)
	}
	return &mediatools.ProbeResult{
		Duration: 35.035,
		Tags:     mediatools.Tags{mediatools.TagCreationTime: "2024-01-15T10:00:00 UTC"},
		Raw:      json.RawMessage(`{"format":{"duration":"35.035000"}}`),
	}, nil
}

func (f *fakeTools) StreamDuration(ctx context.Context, path string) (float64, error) {
	d, ok := f.durations[filepath.Base(path)]
	if !ok {
		return 0, errors.New("no video stream")
	}
	return d, nil
}

func (f *fakeTools) ExtractGPS(ctx context.Context, path string) (gps.Track, error) {
	if f.gpsErr != nil {
		return gps.Track{}, f.gpsErr
	}
	return f.track, nil
}

func (f *fakeTools) Split(ctx context.Context, src, outDir string, segment time.Duration) ([]string, error) {
	if f.splitFn != nil {
		if err := f.splitFn(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}
	var paths []string
	for _, name := range f.segments {
		p := filepath.Join(outDir, name)
		if err := os.WriteFile(p, []byte("clip:"+name), 0644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (f *fakeTools) tools() Tools {
	return Tools{Prober: f, Extractor: f, Segmenter: f}
}

var baseTime = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

// thirtyFiveSecondTools models a 35 s recording: three full segments and a
// short trailing remainder.
func thirtyFiveSecondTools() *fakeTools {
	return &fakeTools{
		track: gps.Track{
			{Time: baseTime, Latitude: 41.7591, Longitude: -87.6179},
			{Time: baseTime.Add(9999 * time.Millisecond), Latitude: 41.7592, Longitude: -87.6180},
			{Time: baseTime.Add(10 * time.Second), Latitude: 41.7593, Longitude: -87.6181},
			{Time: baseTime.Add(19 * time.Second), Latitude: 41.7594, Longitude: -87.6182},
			{Time: baseTime.Add(25 * time.Second), Latitude: 41.7595, Longitude: -87.6183},
		},
		segments: []string{"segment_00000.mp4", "segment_00001.mp4", "segment_00002.mp4", "segment_00003.mp4"},
		durations: map[string]float64{
			"segment_00000.mp4": 10.0,
			"segment_00001.mp4": 10.01,
			"segment_00002.mp4": 9.98,
			"segment_00003.mp4": 5.035,
		},
	}
}

func newVideo(id string, status catalog.VideoStatus) *catalog.Video {
	return &catalog.Video{
		ID:          id,
		StoragePath: "uploads/" + id + "/front.mp4",
		OwnerID:     "owner-1",
		CameraType:  "generic",
		Status:      status,
	}
}

func newRequest(id string) Request {
	return Request{
		VideoID:    id,
		SourcePath: "uploads/" + id + "/front.mp4",
		OwnerID:    "owner-1",
		CameraType: "generic",
	}
}

type testEnv struct {
	store   *fakeStore
	storage *fakeStorage
	tools   *fakeTools
	scratch string
	p       *Pipeline
}

func newTestEnv(tb interface {
	TempDir() string
}, tools *fakeTools, videos ...*catalog.Video) *testEnv {
	store := newFakeStore(videos...)
	storage := newFakeStorage()
	for _, v := range videos {
		storage.objects[v.StoragePath] = []byte("raw video bytes")
	}
	scratch := filepath.Join(tb.TempDir(), "scratch")
	p := New(Config{ScratchDir: scratch, Logger: testLogger()}, store, storage, tools.tools())
	p.now = func() time.Time { return baseTime.Add(time.Hour) }
	return &testEnv{store: store, storage: storage, tools: tools, scratch: scratch, p: p}
}

// scratchEntries lists what is left under the scratch root.
func (e *testEnv) scratchEntries() []string {
	var left []string
	filepath.WalkDir(e.scratch, func(path string, d os.DirEntry, err error) error {
		if err == nil && path != e.scratch {
			left = append(left, path)
		}
		return nil
	})
	return left
}
