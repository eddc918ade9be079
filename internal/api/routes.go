package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dashclip/dashclip-agent/internal/catalog"
	"github.com/dashclip/dashclip-agent/internal/logging"
	"github.com/dashclip/dashclip-agent/internal/pipeline"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Settings, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/videos", registerVideoHandler(cfg))
		r.Get("/videos", listVideosHandler(cfg))
		r.Get("/videos/{id}", getVideoHandler(cfg))
		r.Get("/videos/{id}/clips", listClipsHandler(cfg))
		r.Post("/videos/{id}/process", processVideoHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  cfg.Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := cfg.Catalog.StatusCounts(r.Context())
		if err != nil {
			requestLogger(cfg, r).Error("failed to count videos", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to count videos", "INTERNAL_ERROR")
			return
		}

		resp := StatusResponse{
			State:       "idle",
			Videos:      make(map[string]int, 4),
			DefaultMode: string(cfg.DefaultMode),
		}
		for _, s := range []catalog.VideoStatus{
			catalog.StatusUnprocessed, catalog.StatusProcessing,
			catalog.StatusCompleted, catalog.StatusFailed,
		} {
			resp.Videos[string(s)] = counts[s]
		}

		if cfg.Workers != nil {
			stats := cfg.Workers.Stats()
			resp.Workers = &stats
			if stats.Paused {
				resp.State = "paused"
			}
		}
		if resp.State == "idle" && counts[catalog.StatusProcessing] > 0 {
			resp.State = "processing"
		}

		// Peek never blocks the request on tool probes
		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				ok := caps.AllOK
				resp.Tools = caps.Tools
				resp.ToolsOK = &ok
				if !caps.ProbedAt.IsZero() {
					resp.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
				if !ok && resp.State == "idle" {
					resp.State = "degraded"
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func registerVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterVideoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		video, err := cfg.Catalog.RegisterUpload(r.Context(), catalog.Upload{
			StoragePath: req.StoragePath,
			OwnerID:     req.OwnerID,
			CameraType:  req.CameraType,
			FileSize:    req.FileSize,
			Fingerprint: req.Fingerprint,
		})
		if err != nil {
			if errors.Is(err, catalog.ErrInvalidUpload) {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			requestLogger(cfg, r).Error("failed to register upload", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to register upload", "INTERNAL_ERROR")
			return
		}

		resp := RegisterVideoResponse{Video: VideoToResponse(video)}
		if req.Process && video.Status == catalog.StatusUnprocessed && cfg.Dispatcher != nil {
			_, err := cfg.Dispatcher.Submit(r.Context(), requestFor(video, false), pipeline.ModeBackground)
			if err != nil {
				// the row exists; the caller can retry via /process
				requestLogger(cfg, r).Error("failed to queue registered video", "video_id", video.ID, "error", err)
			} else {
				resp.Queued = true
			}
		}

		WriteJSON(w, http.StatusCreated, resp)
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		status := catalog.VideoStatus(q.Get("status"))
		if status != "" && !status.Valid() {
			WriteError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(status)), "BAD_REQUEST")
			return
		}

		limit := defaultListLimit
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, maxListLimit)
		}

		videos, err := cfg.Catalog.ListVideos(r.Context(), status, limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list videos", "INTERNAL_ERROR")
			return
		}

		resp := VideosResponse{Videos: make([]VideoResponse, len(videos))}
		for i, v := range videos {
			resp.Videos[i] = VideoToResponse(v)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, ok := loadVideo(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, VideoToResponse(video))
	}
}

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, ok := loadVideo(cfg, w, r)
		if !ok {
			return
		}

		clips, err := cfg.Catalog.GetClips(r.Context(), video.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		resp := ClipsResponse{VideoID: video.ID, Clips: make([]ClipResponse, len(clips))}
		for i, c := range clips {
			resp.Clips[i] = ClipToResponse(c)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// processVideoHandler triggers a run. Sync runs answer 200 on completion
// and 422 when the run failed, with the failure recorded on the video.
// Background runs answer 202 once queued.
func processVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Dispatcher == nil {
			WriteError(w, http.StatusServiceUnavailable, "processing is not configured", "UNAVAILABLE")
			return
		}

		q := r.URL.Query()
		mode, err := pipeline.ParseMode(q.Get("mode"), cfg.DefaultMode)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		force := false
		if raw := q.Get("force"); raw != "" {
			if force, err = strconv.ParseBool(raw); err != nil {
				WriteError(w, http.StatusBadRequest, "force must be a boolean", "BAD_REQUEST")
				return
			}
		}

		video, ok := loadVideo(cfg, w, r)
		if !ok {
			return
		}
		if video.Status == catalog.StatusCompleted && !force {
			WriteError(w, http.StatusConflict, "video is already completed; use force=1 to reprocess", "ALREADY_COMPLETED")
			return
		}

		result, err := cfg.Dispatcher.Submit(r.Context(), requestFor(video, force), mode)
		resp := ProcessResponse{VideoID: video.ID, Mode: string(mode), Result: result}

		switch {
		case err == nil && mode == pipeline.ModeBackground:
			resp.Status = "queued"
			WriteJSON(w, http.StatusAccepted, resp)

		case err == nil:
			resp.Status = string(result.Status)
			WriteJSON(w, http.StatusOK, resp)

		case errors.Is(err, pipeline.ErrValidation):
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")

		case result != nil:
			resp.Status = string(result.Status)
			resp.Error = err.Error()
			resp.Kind = string(pipeline.KindOf(err))
			WriteJSON(w, http.StatusUnprocessableEntity, resp)

		default:
			requestLogger(cfg, r).Error("failed to submit video", "video_id", video.ID, "mode", string(mode), "error", err)
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		}
	}
}

func loadVideo(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*catalog.Video, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "video id required", "BAD_REQUEST")
		return nil, false
	}

	video, err := cfg.Catalog.GetVideo(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, false
	}
	if video == nil {
		WriteError(w, http.StatusNotFound, "video not found", "NOT_FOUND")
		return nil, false
	}
	return video, true
}

func requestFor(v *catalog.Video, force bool) pipeline.Request {
	return pipeline.Request{
		VideoID:    v.ID,
		SourcePath: v.StoragePath,
		OwnerID:    v.OwnerID,
		CameraType: v.CameraType,
		Force:      force,
	}
}

func requestLogger(cfg ServerConfig, r *http.Request) *slog.Logger {
	return logging.WithRequestID(logging.OrDiscard(cfg.Logger), requestID(r.Context()))
}
