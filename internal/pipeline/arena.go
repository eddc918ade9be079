package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// arena is the scratch directory of one run:
// <root>/<videoID>/<runID>. Everything a run writes locally lives here.
type arena struct {
	dir string
}

func newArena(root, videoID, runID string) (*arena, error) {
	dir := filepath.Join(root, videoID, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create scratch dir: %w", err)
	}
	return &arena{dir: dir}, nil
}

func (a *arena) path(name string) string {
	return filepath.Join(a.dir, name)
}

// release removes the run directory and, when no other run of the same
// video is using it, the per-video parent.
func (a *arena) release(logger *slog.Logger) {
	if err := os.RemoveAll(a.dir); err != nil {
		logger.Warn("failed to remove scratch dir", "dir", a.dir, "error", err)
		return
	}
	// fails harmlessly while a concurrent run still has files there
	_ = os.Remove(filepath.Dir(a.dir))
}
