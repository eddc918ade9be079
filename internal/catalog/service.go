package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const fingerprintSize = 64 * 1024

// ErrInvalidUpload is returned when an upload registration is missing a
// required field.
var ErrInvalidUpload = errors.New("invalid upload")

// Upload describes a completed upload to be registered.
type Upload struct {
	// ID is optional; callers that need the id before the object is
	// written (to build its storage path) generate one with NewID.
	ID          string `json:"id,omitempty"`
	StoragePath string `json:"storage_path"`
	OwnerID     string `json:"owner_id"`
	CameraType  string `json:"camera_type,omitempty"`
	FileSize    int64  `json:"file_size"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

type CatalogService interface {
	RegisterUpload(ctx context.Context, upload Upload) (*Video, error)
	LookupFingerprint(ctx context.Context, ownerID, fingerprint string) (*Video, error)
	GetVideo(ctx context.Context, id string) (*Video, error)
	ListVideos(ctx context.Context, status VideoStatus, limit int) ([]*Video, error)
	GetClips(ctx context.Context, videoID string) ([]*Clip, error)
	StatusCounts(ctx context.Context) (map[VideoStatus]int, error)
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// RegisterUpload records a completed upload as an unprocessed video. When
// a fingerprint is given and the owner already has a video with the same
// fingerprint, that video is returned instead of a duplicate.
func (s *Service) RegisterUpload(ctx context.Context, u Upload) (*Video, error) {
	u.StoragePath = strings.TrimSpace(u.StoragePath)
	u.OwnerID = strings.TrimSpace(u.OwnerID)
	if u.StoragePath == "" {
		return nil, fmt.Errorf("%w: storage_path is required", ErrInvalidUpload)
	}
	if u.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner_id is required", ErrInvalidUpload)
	}
	if u.FileSize < 0 {
		return nil, fmt.Errorf("%w: file_size must not be negative", ErrInvalidUpload)
	}
	if u.ID != "" && (u.ID == "." || u.ID == ".." || strings.ContainsAny(u.ID, `/\ `)) {
		return nil, fmt.Errorf("%w: invalid id %q", ErrInvalidUpload, u.ID)
	}

	if u.Fingerprint != "" {
		existing, err := s.repo.GetVideoByFingerprint(ctx, u.OwnerID, u.Fingerprint)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if s.logger != nil {
				s.logger.Info("upload already registered", "video_id", existing.ID)
			}
			return existing, nil
		}
	}

	id := u.ID
	if id == "" {
		id = NewID()
	}
	now := time.Now()
	video := &Video{
		ID:          id,
		StoragePath: u.StoragePath,
		OwnerID:     u.OwnerID,
		CameraType:  u.CameraType,
		FileSize:    u.FileSize,
		Fingerprint: u.Fingerprint,
		Status:      StatusUnprocessed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.CreateVideo(ctx, video); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("upload registered", "video_id", video.ID, "camera_type", video.CameraType, "size", video.FileSize)
	}
	return video, nil
}

// LookupFingerprint returns the owner's video with the given fingerprint,
// or nil.
func (s *Service) LookupFingerprint(ctx context.Context, ownerID, fingerprint string) (*Video, error) {
	if fingerprint == "" {
		return nil, nil
	}
	return s.repo.GetVideoByFingerprint(ctx, ownerID, fingerprint)
}

func (s *Service) GetVideo(ctx context.Context, id string) (*Video, error) {
	return s.repo.GetVideo(ctx, id)
}

func (s *Service) ListVideos(ctx context.Context, status VideoStatus, limit int) ([]*Video, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	return s.repo.ListVideos(ctx, status, limit)
}

func (s *Service) GetClips(ctx context.Context, videoID string) ([]*Clip, error) {
	return s.repo.ListClips(ctx, videoID)
}

func (s *Service) StatusCounts(ctx context.Context) (map[VideoStatus]int, error) {
	return s.repo.CountVideosByStatus(ctx)
}

// ComputeFingerprint hashes the first 64 KiB of the file at path together
// with its size.
func ComputeFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	h := sha256.New()
	fmt.Fprintf(h, "%d:", info.Size())
	lr := io.LimitReader(f, fingerprintSize)
	if _, err := io.Copy(h, lr); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
