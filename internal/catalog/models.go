// Package catalog persists uploaded dash-cam videos and the clips cut from
// them.
package catalog

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dashclip/dashclip-agent/internal/gps"
)

// VideoStatus is the processing state of a video.
type VideoStatus string

const (
	StatusUnprocessed VideoStatus = "unprocessed"
	StatusProcessing  VideoStatus = "processing"
	StatusCompleted   VideoStatus = "completed"
	StatusFailed      VideoStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s VideoStatus) Valid() bool {
	switch s {
	case StatusUnprocessed, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Video is one uploaded source video.
type Video struct {
	ID              string          `json:"id"`
	StoragePath     string          `json:"storage_path"`
	OwnerID         string          `json:"owner_id"`
	CameraType      string          `json:"camera_type,omitempty"`
	FileSize        int64           `json:"file_size"`
	Fingerprint     string          `json:"fingerprint,omitempty"`
	Duration        *float64        `json:"duration,omitempty"`
	RecordedAt      *time.Time      `json:"recorded_at,omitempty"`
	RawMetadata     json.RawMessage `json:"raw_metadata,omitempty"`
	Status          VideoStatus     `json:"status"`
	ProcessingError string          `json:"processing_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// VideoMetadata is what a processing run derives for a video before it is
// segmented.
type VideoMetadata struct {
	Duration    float64
	RecordedAt  time.Time
	RawMetadata json.RawMessage
}

// Clip is one fixed-length segment of a video.
type Clip struct {
	VideoID         string      `json:"video_id"`
	Index           int         `json:"index"`
	StoragePath     string      `json:"storage_path"`
	Duration        float64     `json:"duration"`
	GPS             []gps.Point `json:"gps_data"`
	PotholeDetected bool        `json:"pothole_detected"`
	CreatedAt       time.Time   `json:"created_at"`
}

var VideoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".mkv": true,
	".avi": true,
	".ts":  true,
}

func NewID() string {
	return uuid.NewString()
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}
