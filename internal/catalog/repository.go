package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dashclip/dashclip-agent/internal/gps"
)

type Repository interface {
	CreateVideo(ctx context.Context, video *Video) error
	GetVideo(ctx context.Context, id string) (*Video, error)
	GetVideoByFingerprint(ctx context.Context, ownerID, fingerprint string) (*Video, error)
	ListVideos(ctx context.Context, status VideoStatus, limit int) ([]*Video, error)
	ListStale(ctx context.Context, updatedBefore time.Time) ([]*Video, error)
	CountVideosByStatus(ctx context.Context) (map[VideoStatus]int, error)
	UpdateVideoStatus(ctx context.Context, id string, status VideoStatus, errorMsg string) error
	UpdateVideoMetadata(ctx context.Context, id string, meta VideoMetadata) error
	TouchVideo(ctx context.Context, id string) error

	UpsertClip(ctx context.Context, clip *Clip) error
	DeleteClipsFrom(ctx context.Context, videoID string, fromIndex int) (int64, error)
	ListClips(ctx context.Context, videoID string) ([]*Clip, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

const videoColumns = `id, storage_path, owner_id, camera_type, file_size, fingerprint,
	duration, recorded_at, raw_metadata, status, processing_error, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) CreateVideo(ctx context.Context, v *Video) error {
	if v.Status == "" {
		v.Status = StatusUnprocessed
	}
	if !v.Status.Valid() {
		return fmt.Errorf("invalid video status %q", v.Status)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO videos (`+videoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.StoragePath, v.OwnerID, nullString(v.CameraType), v.FileSize, nullString(v.Fingerprint),
		nullFloat(v.Duration), nullTime(v.RecordedAt), nullString(string(v.RawMetadata)),
		string(v.Status), nullString(v.ProcessingError),
		formatTime(v.CreatedAt), formatTime(v.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetVideo(ctx context.Context, id string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	v, err := scanVideo(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (r *SQLiteRepository) GetVideoByFingerprint(ctx context.Context, ownerID, fingerprint string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+videoColumns+` FROM videos
		WHERE owner_id = ? AND fingerprint = ?
		ORDER BY created_at ASC LIMIT 1
	`, ownerID, fingerprint)
	v, err := scanVideo(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// ListVideos returns the newest videos first. An empty status lists all.
func (r *SQLiteRepository) ListVideos(ctx context.Context, status VideoStatus, limit int) ([]*Video, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+videoColumns+` FROM videos
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC LIMIT ?
	`, string(status), string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVideos(rows)
}

// ListStale returns videos stuck in processing whose row was last touched
// before updatedBefore, oldest first.
func (r *SQLiteRepository) ListStale(ctx context.Context, updatedBefore time.Time) ([]*Video, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+videoColumns+` FROM videos
		WHERE status = 'processing' AND updated_at < ?
		ORDER BY updated_at ASC
	`, formatTime(updatedBefore))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVideos(rows)
}

func (r *SQLiteRepository) CountVideosByStatus(ctx context.Context) (map[VideoStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM videos GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[VideoStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[VideoStatus(status)] = n
	}
	return counts, rows.Err()
}

// UpdateVideoStatus sets status and processing_error; an empty errorMsg
// clears the error.
func (r *SQLiteRepository) UpdateVideoStatus(ctx context.Context, id string, status VideoStatus, errorMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid video status %q", status)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, processing_error = ?, updated_at = ? WHERE id = ?
	`, string(status), nullString(errorMsg), formatTime(r.now()), id)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

func (r *SQLiteRepository) UpdateVideoMetadata(ctx context.Context, id string, meta VideoMetadata) error {
	raw := meta.RawMetadata
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE videos SET duration = ?, recorded_at = ?, raw_metadata = ?, updated_at = ? WHERE id = ?
	`, meta.Duration, formatTime(meta.RecordedAt), string(raw), formatTime(r.now()), id)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

// TouchVideo refreshes updated_at of a video that is still processing, so
// the stale sweeper sees a live run. Other statuses are left alone.
func (r *SQLiteRepository) TouchVideo(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE videos SET updated_at = ? WHERE id = ? AND status = ?
	`, formatTime(r.now()), id, string(StatusProcessing))
	return err
}

// DeleteClipsFrom removes the clips of videoID with idx >= fromIndex and
// reports how many went.
func (r *SQLiteRepository) DeleteClipsFrom(ctx context.Context, videoID string, fromIndex int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM clips WHERE video_id = ? AND idx >= ?`, videoID, fromIndex)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpsertClip inserts the clip or replaces the row already stored at
// (video_id, idx). The pothole flag of an existing row is preserved.
func (r *SQLiteRepository) UpsertClip(ctx context.Context, c *Clip) error {
	points := c.GPS
	if points == nil {
		points = []gps.Point{}
	}
	gpsJSON, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("cannot encode clip gps data: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO clips (video_id, idx, storage_path, duration, gps_data, pothole_detected, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id, idx) DO UPDATE SET
			storage_path = excluded.storage_path,
			duration = excluded.duration,
			gps_data = excluded.gps_data
	`, c.VideoID, c.Index, c.StoragePath, c.Duration, string(gpsJSON), boolToInt(c.PotholeDetected), formatTime(c.CreatedAt))
	return err
}

func (r *SQLiteRepository) ListClips(ctx context.Context, videoID string) ([]*Clip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT video_id, idx, storage_path, duration, gps_data, pothole_detected, created_at
		FROM clips WHERE video_id = ? ORDER BY idx ASC
	`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []*Clip
	for rows.Next() {
		var c Clip
		var gpsJSON, createdAt string
		var pothole int
		if err := rows.Scan(&c.VideoID, &c.Index, &c.StoragePath, &c.Duration, &gpsJSON, &pothole, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(gpsJSON), &c.GPS); err != nil {
			return nil, fmt.Errorf("clip %s/%d: cannot decode gps data: %w", c.VideoID, c.Index, err)
		}
		c.PotholeDetected = pothole == 1
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		clips = append(clips, &c)
	}
	return clips, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func scanVideo(row rowScanner) (*Video, error) {
	var v Video
	var cameraType, fingerprint, recordedAt, rawMetadata, processingError sql.NullString
	var duration sql.NullFloat64
	var status, createdAt, updatedAt string

	err := row.Scan(&v.ID, &v.StoragePath, &v.OwnerID, &cameraType, &v.FileSize, &fingerprint,
		&duration, &recordedAt, &rawMetadata, &status, &processingError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	v.CameraType = cameraType.String
	v.Fingerprint = fingerprint.String
	if duration.Valid {
		d := duration.Float64
		v.Duration = &d
	}
	if recordedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, recordedAt.String); err == nil {
			v.RecordedAt = &t
		}
	}
	if rawMetadata.Valid {
		v.RawMetadata = json.RawMessage(rawMetadata.String)
	}
	v.Status = VideoStatus(status)
	v.ProcessingError = processingError.String
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	v.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &v, nil
}

func scanVideos(rows *sql.Rows) ([]*Video, error) {
	var videos []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("video %s not found", id)
	}
	return nil
}

// formatTime stores times as fixed-width UTC RFC3339 so that string
// comparison in SQL orders them correctly.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
