package api

import (
	"time"

	"github.com/dashclip/dashclip-agent/internal/catalog"
	"github.com/dashclip/dashclip-agent/internal/gps"
	"github.com/dashclip/dashclip-agent/internal/mediatools"
	"github.com/dashclip/dashclip-agent/internal/pipeline"
	"github.com/dashclip/dashclip-agent/internal/worker"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State       string                           `json:"state"`
	Videos      map[string]int                   `json:"videos"`
	Workers     *worker.Stats                    `json:"workers,omitempty"`
	Tools       map[string]mediatools.ToolStatus `json:"tools,omitempty"`
	ToolsOK     *bool                            `json:"tools_ok,omitempty"`
	LastProbeAt string                           `json:"last_probe_at,omitempty"`
	DefaultMode string                           `json:"default_mode"`
}

type RegisterVideoRequest struct {
	StoragePath string `json:"storage_path"`
	OwnerID     string `json:"owner_id"`
	CameraType  string `json:"camera_type,omitempty"`
	FileSize    int64  `json:"file_size"`
	Fingerprint string `json:"fingerprint,omitempty"`
	// Process queues the video for background processing once registered.
	Process bool `json:"process,omitempty"`
}

type RegisterVideoResponse struct {
	Video  VideoResponse `json:"video"`
	Queued bool          `json:"queued"`
}

type VideoResponse struct {
	ID              string   `json:"id"`
	StoragePath     string   `json:"storage_path"`
	OwnerID         string   `json:"owner_id"`
	CameraType      string   `json:"camera_type,omitempty"`
	FileSize        int64    `json:"file_size"`
	Duration        *float64 `json:"duration,omitempty"`
	RecordedAt      string   `json:"recorded_at,omitempty"`
	Status          string   `json:"status"`
	ProcessingError string   `json:"processing_error,omitempty"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

type ClipResponse struct {
	Index           int         `json:"index"`
	StoragePath     string      `json:"storage_path"`
	Duration        float64     `json:"duration"`
	GPS             []gps.Point `json:"gps_data"`
	PotholeDetected bool        `json:"pothole_detected"`
	CreatedAt       string      `json:"created_at"`
}

type ClipsResponse struct {
	VideoID string         `json:"video_id"`
	Clips   []ClipResponse `json:"clips"`
}

type ProcessResponse struct {
	VideoID string           `json:"video_id"`
	Mode    string           `json:"mode"`
	Status  string           `json:"status"`
	Result  *pipeline.Result `json:"result,omitempty"`
	Error   string           `json:"error,omitempty"`
	Kind    string           `json:"kind,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func VideoToResponse(v *catalog.Video) VideoResponse {
	resp := VideoResponse{
		ID:              v.ID,
		StoragePath:     v.StoragePath,
		OwnerID:         v.OwnerID,
		CameraType:      v.CameraType,
		FileSize:        v.FileSize,
		Duration:        v.Duration,
		Status:          string(v.Status),
		ProcessingError: v.ProcessingError,
		CreatedAt:       v.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       v.UpdatedAt.Format(time.RFC3339),
	}
	if v.RecordedAt != nil {
		resp.RecordedAt = v.RecordedAt.UTC().Format(time.RFC3339Nano)
	}
	return resp
}

func ClipToResponse(c *catalog.Clip) ClipResponse {
	points := c.GPS
	if points == nil {
		points = []gps.Point{}
	}
	return ClipResponse{
		Index:           c.Index,
		StoragePath:     c.StoragePath,
		Duration:        c.Duration,
		GPS:             points,
		PotholeDetected: c.PotholeDetected,
		CreatedAt:       c.CreatedAt.Format(time.RFC3339),
	}
}
