package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/cutroom/cutroom/internal/auth"
	"github.com/cutroom/cutroom/internal/httputil"
	"github.com/cutroom/cutroom/internal/organization"
	"github.com/cutroom/cutroom/internal/validate"
)

type createRequest struct {
	Title       string `json:"title"`
	FileSize    int64  `json:"fileSize"`
	ContentType string `json:"contentType"`
}

type createResponse struct {
	ID        string `json:"id"`
	UploadURL string `json:"uploadUrl"`
}

type updateRequest struct {
	Status string `json:"status"`
	Title  string `json:"title"`
}

type listItem struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Status       string  `json:"status"`
	PlaybackID   *string `json:"playbackId"`
	SizeBytes    *string `json:"sizeBytes"`
	CommentCount int64   `json:"commentCount"`
	CreatedAt    string  `json:"createdAt"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.FileSize <= 0 {
		httputil.WriteError(w, http.StatusBadRequest, "fileSize must be positive")
		return
	}
	if h.maxUploadBytes > 0 && req.FileSize > h.maxUploadBytes {
		httputil.WriteError(w, http.StatusBadRequest, "file too large")
		return
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}
	if contentType != "video/mp4" && contentType != "video/quicktime" && contentType != "video/webm" {
		httputil.WriteError(w, http.StatusBadRequest, "only video/mp4, video/quicktime, and video/webm uploads are supported")
		return
	}

	title := req.Title
	if title == "" {
		title = "Untitled Asset"
	}
	if msg := validate.Title(title); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	token, err := generateToken()
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create video")
		return
	}
	fileKey := assetFileKey(orgID, token, contentType)

	var videoID string
	err = h.db.QueryRow(r.Context(),
		`INSERT INTO videos (organization_id, user_id, title, file_key, status)
		 VALUES ($1, $2, $3, $4, 'processing') RETURNING id`,
		orgID, userID, title, fileKey,
	).Scan(&videoID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create video")
		return
	}

	uploadURL, err := h.storage.GenerateUploadURL(r.Context(), fileKey, contentType, req.FileSize, 30*time.Minute)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate upload URL")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, createResponse{ID: videoID, UploadURL: uploadURL})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}

	rows, err := h.db.Query(r.Context(),
		`SELECT v.id, v.title, v.status, v.playback_id, v.original_size_bytes::text, v.created_at,
		        (SELECT COUNT(*) FROM comments c WHERE c.video_id = v.id) AS comment_count
		 FROM videos v
		 WHERE v.organization_id = $1 AND v.status != 'deleted'
		 ORDER BY v.created_at DESC`,
		orgID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list videos")
		return
	}
	defer rows.Close()

	items := []listItem{}
	for rows.Next() {
		var item listItem
		var createdAt time.Time
		if err := rows.Scan(&item.ID, &item.Title, &item.Status, &item.PlaybackID, &item.SizeBytes, &createdAt, &item.CommentCount); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to scan video")
			return
		}
		item.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		items = append(items, item)
	}

	httputil.WriteJSON(w, http.StatusOK, items)
}

// Update renames a video or finalizes an upload. Finalizing verifies the
// object actually landed in the blob store, hands it to the transcoder, and
// increments the org storage counter in the same transaction that marks the
// video ready.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}
	videoID := chi.URLParam(r, "id")

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Status != "" && req.Status != "ready" {
		httputil.WriteError(w, http.StatusBadRequest, "status can only be set to ready")
		return
	}
	if req.Status == "" && req.Title == "" {
		httputil.WriteError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	if req.Status == "ready" {
		if !h.finalize(w, r, orgID, videoID) {
			return
		}
	}

	if req.Title != "" {
		if msg := validate.Title(req.Title); msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
		tag, err := h.db.Exec(r.Context(),
			`UPDATE videos SET title = $1, updated_at = now()
			 WHERE id = $2 AND organization_id = $3 AND status != 'deleted'`,
			req.Title, videoID, orgID,
		)
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to update video")
			return
		}
		if tag.RowsAffected() == 0 {
			httputil.WriteError(w, http.StatusNotFound, "video not found")
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request, orgID, videoID string) bool {
	var fileKey string
	err := h.db.QueryRow(r.Context(),
		`SELECT file_key FROM videos
		 WHERE id = $1 AND organization_id = $2 AND status = 'processing'`,
		videoID, orgID,
	).Scan(&fileKey)
	if err != nil {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return false
	}

	size, _, err := h.storage.HeadObject(r.Context(), fileKey)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "could not verify upload")
		return false
	}
	if size <= 0 || (h.maxUploadBytes > 0 && size > h.maxUploadBytes) {
		httputil.WriteError(w, http.StatusBadRequest, "uploaded file invalid size")
		return false
	}

	var playbackID *string
	if h.transcoder != nil {
		sourceURL, err := h.storage.GenerateDownloadURL(r.Context(), fileKey, 1*time.Hour)
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to generate source URL")
			return false
		}
		id, err := h.transcoder.Ingest(r.Context(), sourceURL)
		if err != nil {
			httputil.WriteError(w, http.StatusBadGateway, "transcoder rejected the upload")
			return false
		}
		playbackID = &id
	}

	tx, err := h.db.Begin(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to finalize video")
		return false
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	tag, err := tx.Exec(r.Context(),
		`UPDATE videos SET status = 'ready', original_size_bytes = $1, playback_id = $2, updated_at = now()
		 WHERE id = $3 AND organization_id = $4 AND status = 'processing'`,
		size, playbackID, videoID, orgID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to finalize video")
		return false
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return false
	}

	if _, err := tx.Exec(r.Context(),
		`UPDATE organizations SET storage_used_bytes = storage_used_bytes + $1, updated_at = now() WHERE id = $2`,
		size, orgID,
	); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to finalize video")
		return false
	}

	if err := tx.Commit(r.Context()); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to finalize video")
		return false
	}
	return true
}

// Delete removes a video and everything that references it in one
// transaction: gallery memberships, comments, single-video share links, the
// org storage decrement, and the deleted marker. Partial application would
// leave the storage counter lying, so it is all or nothing; only the blob
// removal happens afterward, best effort.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}
	videoID := chi.URLParam(r, "id")

	tx, err := h.db.Begin(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to delete video")
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	var fileKey *string
	var sizeBytes *string
	err = tx.QueryRow(r.Context(),
		`SELECT file_key, original_size_bytes::text FROM videos
		 WHERE id = $1 AND organization_id = $2 AND status != 'deleted'
		 FOR UPDATE`,
		videoID, orgID,
	).Scan(&fileKey, &sizeBytes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, "video not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to delete video")
		return
	}

	steps := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM gallery_videos WHERE video_id = $1`, []any{videoID}},
		{`DELETE FROM comments WHERE video_id = $1`, []any{videoID}},
		{`DELETE FROM share_links WHERE video_id = $1 AND organization_id = $2`, []any{videoID, orgID}},
		{`UPDATE share_links SET items = items - $1::text WHERE organization_id = $2 AND items ? $1::text`, []any{videoID, orgID}},
		{`UPDATE videos SET status = 'deleted', updated_at = now() WHERE id = $1`, []any{videoID}},
	}
	for _, step := range steps {
		if _, err := tx.Exec(r.Context(), step.query, step.args...); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to delete video")
			return
		}
	}

	if fileKey != nil && sizeBytes != nil {
		if _, err := tx.Exec(r.Context(),
			`UPDATE organizations
			 SET storage_used_bytes = GREATEST(storage_used_bytes - $1::numeric, 0), updated_at = now()
			 WHERE id = $2`,
			*sizeBytes, orgID,
		); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to delete video")
			return
		}
	}

	if err := tx.Commit(r.Context()); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to delete video")
		return
	}

	if fileKey != nil {
		key := *fileKey
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := deleteWithRetry(ctx, h.storage, key, 3); err != nil {
				slog.Error("video: all delete retries failed", "key", key, "error", err)
			}
		}()
	}

	w.WriteHeader(http.StatusNoContent)
}

func deleteWithRetry(ctx context.Context, storage ObjectStorage, key string, maxAttempts int) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		lastErr = storage.DeleteObject(ctx, key)
		if lastErr == nil {
			return nil
		}
		slog.Error("storage: delete attempt failed", "attempt", attempt+1, "max_attempts", maxAttempts, "key", key, "error", lastErr)
	}
	return fmt.Errorf("all %d delete attempts failed for %s: %w", maxAttempts, key, lastErr)
}
