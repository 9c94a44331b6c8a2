package video

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/cutroom/cutroom/internal/httputil"
	"github.com/cutroom/cutroom/internal/share"
	"github.com/cutroom/cutroom/internal/stack"
)

// requireGrant resolves the share token on the request into a validated
// grant. The invalid-token response never distinguishes unknown, revoked, or
// empty-scope links.
func (h *Handler) requireGrant(w http.ResponseWriter, r *http.Request) (*share.Grant, bool) {
	grant, err := h.authority.Validate(r.Context(), share.TokenFromRequest(r))
	if err != nil {
		switch {
		case errors.Is(err, share.ErrMissingToken):
			httputil.WriteError(w, http.StatusBadRequest, "share token required")
		case errors.Is(err, share.ErrExpired):
			httputil.WriteError(w, http.StatusGone, "share link expired")
		case errors.Is(err, share.ErrInvalidToken):
			httputil.WriteError(w, http.StatusNotFound, "share link not valid")
		default:
			httputil.WriteError(w, http.StatusInternalServerError, "failed to validate share link")
		}
		return nil, false
	}
	return grant, true
}

type watchVideoItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	PlaybackID *string `json:"playbackId"`
	CreatedAt  string  `json:"createdAt"`
}

type watchPayload struct {
	token string

	Videos        []watchVideoItem  `json:"videos"`
	Stacks        json.RawMessage   `json:"stacks"`
	LatestIDs     map[string]string `json:"latestIds"`
	AllowComments bool              `json:"allowComments"`
	AllowDownload bool              `json:"allowDownload"`
	ViewMode      string            `json:"viewMode"`
}

func (p *watchPayload) CacheKey() string { return p.token }

// grantStacks merges the stack definitions of every gallery in the grant's
// org, oldest gallery first, then restricts the result to the grant's
// allow-list. Raw column JSON never reaches stack math unsanitized.
func (h *Handler) grantStacks(ctx context.Context, grant *share.Grant) (stack.Map, error) {
	rows, err := h.db.Query(ctx,
		`SELECT stacks FROM galleries WHERE organization_id = $1 ORDER BY created_at ASC`,
		grant.OrgID,
	)
	if err != nil {
		return stack.Map{}, err
	}
	defer rows.Close()

	var merged stack.Map
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return stack.Map{}, err
		}
		m := stack.Sanitize(raw)
		for _, parent := range m.Parents() {
			if merged.Members(parent) == nil {
				merged.Set(parent, m.Members(parent))
			}
		}
	}
	if err := rows.Err(); err != nil {
		return stack.Map{}, err
	}

	return stack.Normalize(merged, grant.AllowedSet()), nil
}

// Watch returns the full share payload: the videos the grant covers, the
// normalized stacks over them, and the canonical id for every member. Cached
// per token for a short window since nothing here is viewer-specific.
func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	grant, ok := h.requireGrant(w, r)
	if !ok {
		return
	}

	if cached := h.shareCache.Get(grant.Token); cached != nil {
		if payload, ok := cached.(*watchPayload); ok {
			httputil.WriteJSON(w, http.StatusOK, payload)
			return
		}
	}

	rows, err := h.db.Query(r.Context(),
		`SELECT id, title, playback_id, created_at FROM videos
		 WHERE organization_id = $1 AND status = 'ready' AND id = ANY($2)
		 ORDER BY created_at ASC`,
		grant.OrgID, grant.VideoIDs,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load share")
		return
	}
	defer rows.Close()

	videos := []watchVideoItem{}
	for rows.Next() {
		var item watchVideoItem
		var createdAt time.Time
		if err := rows.Scan(&item.ID, &item.Title, &item.PlaybackID, &createdAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to load share")
			return
		}
		item.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		videos = append(videos, item)
	}

	stacks, err := h.grantStacks(r.Context(), grant)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load share")
		return
	}
	encoded, err := json.Marshal(stacks)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load share")
		return
	}

	childToParent := stack.BuildChildToParent(stacks)
	latest := make(map[string]string, len(videos))
	for _, v := range videos {
		latest[v.ID] = stack.LatestIDForCard(v.ID, stacks, childToParent)
	}

	payload := &watchPayload{
		token:         grant.Token,
		Videos:        videos,
		Stacks:        encoded,
		LatestIDs:     latest,
		AllowComments: grant.AllowComments,
		AllowDownload: grant.AllowDownload,
		ViewMode:      grant.ViewMode,
	}
	h.shareCache.Save(payload)

	httputil.WriteJSON(w, http.StatusOK, payload)
}

type watchVideoResponse struct {
	ID          string `json:"id"`
	RequestedID string `json:"requestedId,omitempty"`
	Title       string `json:"title"`
	PlaybackURL string `json:"playbackUrl,omitempty"`
	PlaybackID  string `json:"playbackId,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	NextID      string `json:"nextId,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

// WatchVideo serves one shared video. A deep link to a superseded revision
// resolves to the newest member of its stack instead of failing, as long as
// the grant covers it too.
func (h *Handler) WatchVideo(w http.ResponseWriter, r *http.Request) {
	grant, ok := h.requireGrant(w, r)
	if !ok {
		return
	}

	requestedID := chi.URLParam(r, "id")
	if !grant.Covers(requestedID) {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	stacks, err := h.grantStacks(r.Context(), grant)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load video")
		return
	}

	videoID := stack.LatestIDForCard(requestedID, stacks, stack.BuildChildToParent(stacks))
	if videoID != requestedID && !grant.Covers(videoID) {
		videoID = requestedID
	}

	var title string
	var fileKey *string
	var playbackID *string
	var createdAt time.Time
	err = h.db.QueryRow(r.Context(),
		`SELECT title, file_key, playback_id, created_at FROM videos
		 WHERE id = $1 AND organization_id = $2 AND status = 'ready'`,
		videoID, grant.OrgID,
	).Scan(&title, &fileKey, &playbackID, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusNotFound, "video not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load video")
		return
	}

	resp := watchVideoResponse{
		ID:        videoID,
		Title:     title,
		NextID:    stack.NextIDInStack(videoID, stacks),
		CreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
	if videoID != requestedID {
		resp.RequestedID = requestedID
	}
	if playbackID != nil {
		resp.PlaybackID = *playbackID
	}

	if fileKey != nil {
		playbackURL, err := h.storage.GenerateDownloadURL(r.Context(), *fileKey, 1*time.Hour)
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to generate video URL")
			return
		}
		resp.PlaybackURL = playbackURL

		if grant.AllowDownload {
			filename := title + path.Ext(*fileKey)
			downloadURL, err := h.storage.GenerateDownloadURLWithDisposition(r.Context(), *fileKey, filename, 1*time.Hour)
			if err == nil {
				resp.DownloadURL = downloadURL
			}
		}
	}

	h.recordView(r, grant.Token, videoID)

	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) recordView(r *http.Request, shareToken, videoID string) {
	ip := clientIP(r)
	ua := r.UserAgent()
	referrer := categorizeReferrer(r.Header.Get("Referer"))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		hash := viewerHash(ip, ua)
		browser := parseBrowser(ua)
		device := parseDevice(ua)
		var country, city string
		if h.geoResolver != nil {
			country, city = h.geoResolver.Lookup(ip)
		}
		if _, err := h.db.Exec(ctx,
			`INSERT INTO share_views (share_token, video_id, viewer_hash, referrer, browser, device, country, city)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			shareToken, videoID, hash, referrer, browser, device, country, city,
		); err != nil {
			slog.Error("video: failed to record share view", "video_id", videoID, "error", err)
		}
	}()
}
