package video

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cutroom/cutroom/internal/httputil"
	"github.com/cutroom/cutroom/internal/organization"
	"github.com/cutroom/cutroom/internal/share"
)

type createShareRequest struct {
	VideoIDs      []string `json:"videoIds"`
	AllowComments *bool    `json:"allowComments"`
	AllowDownload bool     `json:"allowDownload"`
	ViewMode      string   `json:"viewMode"`
	ExpiresAt     *string  `json:"expiresAt"`
}

type shareItem struct {
	ID            string   `json:"id"`
	Token         string   `json:"token"`
	URL           string   `json:"url"`
	VideoIDs      []string `json:"videoIds"`
	AllowComments bool     `json:"allowComments"`
	AllowDownload bool     `json:"allowDownload"`
	ViewMode      string   `json:"viewMode"`
	ExpiresAt     *string  `json:"expiresAt"`
	CreatedAt     string   `json:"createdAt"`
}

func (h *Handler) shareURL(token string) string {
	return h.baseURL + "/watch?share=" + token
}

func (h *Handler) CreateShare(w http.ResponseWriter, r *http.Request) {
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}

	var req createShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.VideoIDs) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "at least 1 video ID is required")
		return
	}

	viewMode := req.ViewMode
	if viewMode == "" {
		viewMode = share.ViewOnly
	}
	if viewMode != share.ViewOnly && viewMode != share.ReviewDownload {
		httputil.WriteError(w, http.StatusBadRequest, "viewMode must be view_only or review_download")
		return
	}

	allowComments := true
	if req.AllowComments != nil {
		allowComments = *req.AllowComments
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "expiresAt must be an RFC 3339 timestamp")
			return
		}
		if t.Before(time.Now()) {
			httputil.WriteError(w, http.StatusBadRequest, "expiresAt is in the past")
			return
		}
		expiresAt = &t
	}

	// Every requested id must be a live video in this org; a share link is
	// never allowed to widen beyond what the org owns.
	for _, videoID := range req.VideoIDs {
		var exists bool
		if err := h.db.QueryRow(r.Context(),
			`SELECT EXISTS(SELECT 1 FROM videos WHERE id = $1 AND organization_id = $2 AND status != 'deleted')`,
			videoID, orgID,
		).Scan(&exists); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to verify video")
			return
		}
		if !exists {
			httputil.WriteError(w, http.StatusNotFound, "video not found")
			return
		}
	}

	token, err := generateToken()
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create share link")
		return
	}

	items, err := json.Marshal(req.VideoIDs)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create share link")
		return
	}

	var shareID string
	var createdAt time.Time
	err = h.db.QueryRow(r.Context(),
		`INSERT INTO share_links (token, organization_id, items, allow_comments, allow_download, view_mode, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		token, orgID, items, allowComments, req.AllowDownload, viewMode, expiresAt,
	).Scan(&shareID, &createdAt)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create share link")
		return
	}

	resp := shareItem{
		ID:            shareID,
		Token:         token,
		URL:           h.shareURL(token),
		VideoIDs:      req.VideoIDs,
		AllowComments: allowComments,
		AllowDownload: req.AllowDownload,
		ViewMode:      viewMode,
		CreatedAt:     createdAt.UTC().Format(time.RFC3339),
	}
	if expiresAt != nil {
		formatted := expiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &formatted
	}

	httputil.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) ListShares(w http.ResponseWriter, r *http.Request) {
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}

	rows, err := h.db.Query(r.Context(),
		`SELECT id, token, video_id, items, allow_comments, allow_download, view_mode, expires_at, created_at
		 FROM share_links WHERE organization_id = $1
		 ORDER BY created_at DESC`,
		orgID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list share links")
		return
	}
	defer rows.Close()

	items := []shareItem{}
	for rows.Next() {
		var item shareItem
		var legacyVideoID *string
		var rawItems []byte
		var expiresAt *time.Time
		var createdAt time.Time
		if err := rows.Scan(&item.ID, &item.Token, &legacyVideoID, &rawItems, &item.AllowComments, &item.AllowDownload, &item.ViewMode, &expiresAt, &createdAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to scan share link")
			return
		}
		item.URL = h.shareURL(item.Token)
		item.VideoIDs = []string{}
		if legacyVideoID != nil {
			item.VideoIDs = []string{*legacyVideoID}
		} else if rawItems != nil {
			var ids []string
			if err := json.Unmarshal(rawItems, &ids); err == nil {
				item.VideoIDs = ids
			}
		}
		if expiresAt != nil {
			formatted := expiresAt.UTC().Format(time.RFC3339)
			item.ExpiresAt = &formatted
		}
		item.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		items = append(items, item)
	}

	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) DeleteShare(w http.ResponseWriter, r *http.Request) {
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}
	shareID := chi.URLParam(r, "id")

	tag, err := h.db.Exec(r.Context(),
		`DELETE FROM share_links WHERE id = $1 AND organization_id = $2`,
		shareID, orgID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to delete share link")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "share link not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
