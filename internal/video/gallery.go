package video

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/cutroom/cutroom/internal/httputil"
	"github.com/cutroom/cutroom/internal/organization"
	"github.com/cutroom/cutroom/internal/stack"
	"github.com/cutroom/cutroom/internal/validate"
)

// Stack definitions arrive as client JSON and are stored raw; maxStacksBody
// bounds what a stacks update may carry.
const maxStacksBody = 256 * 1024

type galleryItem struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	VideoCount int64  `json:"videoCount"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

type galleryVideo struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	PlaybackID *string `json:"playbackId"`
	Position   int     `json:"position"`
	CreatedAt  string  `json:"createdAt"`
}

type galleryDetail struct {
	galleryItem
	Videos []galleryVideo  `json:"videos"`
	Stacks json.RawMessage `json:"stacks"`
}

type createGalleryRequest struct {
	Title string `json:"title"`
}

type updateGalleryRequest struct {
	Title string `json:"title"`
}

func (h *Handler) CreateGallery(w http.ResponseWriter, r *http.Request) {
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}

	var req createGalleryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		httputil.WriteError(w, http.StatusBadRequest, "gallery title is required")
		return
	}
	if msg := validate.GalleryName(title); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	var item galleryItem
	var createdAt, updatedAt time.Time
	err := h.db.QueryRow(r.Context(),
		`INSERT INTO galleries (organization_id, title) VALUES ($1, $2)
		 RETURNING id, created_at, updated_at`,
		orgID, title,
	).Scan(&item.ID, &createdAt, &updatedAt)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create gallery")
		return
	}

	item.Title = title
	item.CreatedAt = createdAt.UTC().Format(time.RFC3339)
	item.UpdatedAt = updatedAt.UTC().Format(time.RFC3339)

	httputil.WriteJSON(w, http.StatusCreated, item)
}

func (h *Handler) ListGalleries(w http.ResponseWriter, r *http.Request) {
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}

	rows, err := h.db.Query(r.Context(),
		`SELECT g.id, g.title, g.created_at, g.updated_at,
		        (SELECT COUNT(*) FROM gallery_videos gv WHERE gv.gallery_id = g.id) AS video_count
		 FROM galleries g
		 WHERE g.organization_id = $1
		 ORDER BY g.created_at DESC`,
		orgID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list galleries")
		return
	}
	defer rows.Close()

	items := []galleryItem{}
	for rows.Next() {
		var item galleryItem
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&item.ID, &item.Title, &createdAt, &updatedAt, &item.VideoCount); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to scan gallery")
			return
		}
		item.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		item.UpdatedAt = updatedAt.UTC().Format(time.RFC3339)
		items = append(items, item)
	}

	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) GetGallery(w http.ResponseWriter, r *http.Request) {
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}
	galleryID := chi.URLParam(r, "id")

	var detail galleryDetail
	var createdAt, updatedAt time.Time
	var rawStacks []byte
	err := h.db.QueryRow(r.Context(),
		`SELECT g.id, g.title, g.stacks, g.created_at, g.updated_at
		 FROM galleries g WHERE g.id = $1 AND g.organization_id = $2`,
		galleryID, orgID,
	).Scan(&detail.ID, &detail.Title, &rawStacks, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, "gallery not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to get gallery")
		return
	}
	detail.CreatedAt = createdAt.UTC().Format(time.RFC3339)
	detail.UpdatedAt = updatedAt.UTC().Format(time.RFC3339)

	rows, err := h.db.Query(r.Context(),
		`SELECT v.id, v.title, v.status, v.playback_id, gv.position, v.created_at
		 FROM gallery_videos gv
		 JOIN videos v ON v.id = gv.video_id AND v.status != 'deleted'
		 WHERE gv.gallery_id = $1
		 ORDER BY gv.position, v.created_at`,
		galleryID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list gallery videos")
		return
	}
	defer rows.Close()

	detail.Videos = make([]galleryVideo, 0)
	videoIDs := make([]string, 0)
	for rows.Next() {
		var v galleryVideo
		var videoCreatedAt time.Time
		if err := rows.Scan(&v.ID, &v.Title, &v.Status, &v.PlaybackID, &v.Position, &videoCreatedAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to scan gallery video")
			return
		}
		v.CreatedAt = videoCreatedAt.UTC().Format(time.RFC3339)
		detail.Videos = append(detail.Videos, v)
		videoIDs = append(videoIDs, v.ID)
	}
	detail.VideoCount = int64(len(detail.Videos))

	// Persisted stacks are untrusted on every read.
	stacks := stack.Normalize(stack.Sanitize(rawStacks), stack.AllowedSet(videoIDs))
	encoded, err := json.Marshal(stacks)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to encode stacks")
		return
	}
	detail.Stacks = encoded

	httputil.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) UpdateGallery(w http.ResponseWriter, r *http.Request) {
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}
	galleryID := chi.URLParam(r, "id")

	var req updateGalleryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		httputil.WriteError(w, http.StatusBadRequest, "gallery title is required")
		return
	}
	if msg := validate.GalleryName(title); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	tag, err := h.db.Exec(r.Context(),
		`UPDATE galleries SET title = $1, updated_at = now() WHERE id = $2 AND organization_id = $3`,
		title, galleryID, orgID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update gallery")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "gallery not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteGallery(w http.ResponseWriter, r *http.Request) {
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}
	galleryID := chi.URLParam(r, "id")

	tag, err := h.db.Exec(r.Context(),
		`DELETE FROM galleries WHERE id = $1 AND organization_id = $2`,
		galleryID, orgID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to delete gallery")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "gallery not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type addGalleryVideosRequest struct {
	VideoIDs []string `json:"videoIds"`
}

func (h *Handler) AddGalleryVideos(w http.ResponseWriter, r *http.Request) {
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}
	galleryID := chi.URLParam(r, "id")

	var req addGalleryVideosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.VideoIDs) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "at least 1 video ID is required")
		return
	}

	var exists bool
	if err := h.db.QueryRow(r.Context(),
		`SELECT EXISTS(SELECT 1 FROM galleries WHERE id = $1 AND organization_id = $2)`,
		galleryID, orgID,
	).Scan(&exists); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to verify gallery")
		return
	}
	if !exists {
		httputil.WriteError(w, http.StatusNotFound, "gallery not found")
		return
	}

	for _, videoID := range req.VideoIDs {
		var videoExists bool
		if err := h.db.QueryRow(r.Context(),
			`SELECT EXISTS(SELECT 1 FROM videos WHERE id = $1 AND organization_id = $2 AND status != 'deleted')`,
			videoID, orgID,
		).Scan(&videoExists); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to verify video")
			return
		}
		if !videoExists {
			httputil.WriteError(w, http.StatusNotFound, "video not found")
			return
		}

		if _, err := h.db.Exec(r.Context(),
			`INSERT INTO gallery_videos (gallery_id, video_id, position)
			 VALUES ($1, $2, (SELECT COALESCE(MAX(position), -1) + 1 FROM gallery_videos WHERE gallery_id = $1))
			 ON CONFLICT (gallery_id, video_id) DO NOTHING`,
			galleryID, videoID,
		); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to add video to gallery")
			return
		}
	}

	if _, err := h.db.Exec(r.Context(),
		`UPDATE galleries SET updated_at = now() WHERE id = $1`,
		galleryID,
	); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update gallery")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RemoveGalleryVideo(w http.ResponseWriter, r *http.Request) {
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}
	galleryID := chi.URLParam(r, "id")
	videoID := chi.URLParam(r, "videoId")

	tag, err := h.db.Exec(r.Context(),
		`DELETE FROM gallery_videos WHERE gallery_id = $1 AND video_id = $2
		 AND gallery_id IN (SELECT id FROM galleries WHERE id = $1 AND organization_id = $3)`,
		galleryID, videoID, orgID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to remove video from gallery")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "video not in gallery")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdateGalleryStacks replaces a gallery's version-stack definitions. The raw
// body is sanitized and restricted to the gallery's current members before it
// is persisted; what lands in the column is already clean, but readers still
// re-sanitize.
func (h *Handler) UpdateGalleryStacks(w http.ResponseWriter, r *http.Request) {
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}
	galleryID := chi.URLParam(r, "id")

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxStacksBody))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var exists bool
	if err := h.db.QueryRow(r.Context(),
		`SELECT EXISTS(SELECT 1 FROM galleries WHERE id = $1 AND organization_id = $2)`,
		galleryID, orgID,
	).Scan(&exists); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to verify gallery")
		return
	}
	if !exists {
		httputil.WriteError(w, http.StatusNotFound, "gallery not found")
		return
	}

	rows, err := h.db.Query(r.Context(),
		`SELECT video_id FROM gallery_videos WHERE gallery_id = $1`,
		galleryID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list gallery videos")
		return
	}
	defer rows.Close()

	var memberIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to scan gallery video")
			return
		}
		memberIDs = append(memberIDs, id)
	}

	stacks := stack.Normalize(stack.Sanitize(raw), stack.AllowedSet(memberIDs))
	encoded, err := json.Marshal(stacks)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to encode stacks")
		return
	}

	if _, err := h.db.Exec(r.Context(),
		`UPDATE galleries SET stacks = $1, updated_at = now() WHERE id = $2`,
		encoded, galleryID,
	); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update stacks")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded)
}
