package video

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cutroom/cutroom/internal/auth"
	"github.com/cutroom/cutroom/internal/httputil"
	"github.com/cutroom/cutroom/internal/organization"
	"github.com/cutroom/cutroom/internal/validate"
)

type postCommentRequest struct {
	Body       string  `json:"body"`
	AuthorName string  `json:"authorName"`
	TimecodeMs int64   `json:"timecodeMs"`
	ParentID   *string `json:"parentId"`
}

func (h *Handler) queryCommentRows(ctx context.Context, videoID string) ([]CommentRow, error) {
	rows, err := h.db.Query(ctx,
		`SELECT id, parent_id, author_name, body, timecode_ms, author_role, created_at
		 FROM comments WHERE video_id = $1
		 ORDER BY created_at ASC`,
		videoID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommentRow
	for rows.Next() {
		var row CommentRow
		if err := rows.Scan(&row.ID, &row.ParentID, &row.Author, &row.Body, &row.TimecodeMs, &row.Role, &row.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func validateComment(w http.ResponseWriter, req *postCommentRequest) bool {
	req.Body = strings.TrimSpace(req.Body)
	req.AuthorName = strings.TrimSpace(req.AuthorName)

	if req.Body == "" {
		httputil.WriteError(w, http.StatusBadRequest, "comment body is required")
		return false
	}
	if msg := validate.CommentBody(req.Body); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return false
	}
	if msg := validate.AuthorName(req.AuthorName); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return false
	}
	if req.TimecodeMs < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "timecodeMs must not be negative")
		return false
	}
	return true
}

// insertComment verifies the parent, when given, belongs to the same video.
// A stale parent id is not an error for threading (orphans render as roots)
// but a cross-video parent is rejected outright.
func (h *Handler) insertComment(ctx context.Context, videoID string, userID *string, req postCommentRequest, role string) (*CommentNode, int, string) {
	if req.ParentID != nil {
		var parentExists bool
		if err := h.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM comments WHERE id = $1 AND video_id = $2)`,
			*req.ParentID, videoID,
		).Scan(&parentExists); err != nil {
			return nil, http.StatusInternalServerError, "could not save comment"
		}
		if !parentExists {
			return nil, http.StatusBadRequest, "parent comment not found"
		}
	}

	var commentID string
	var createdAt time.Time
	err := h.db.QueryRow(ctx,
		`INSERT INTO comments (video_id, parent_id, user_id, author_name, body, timecode_ms, author_role)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		videoID, req.ParentID, userID, req.AuthorName, req.Body, req.TimecodeMs, role,
	).Scan(&commentID, &createdAt)
	if err != nil {
		return nil, http.StatusInternalServerError, "could not save comment"
	}

	return &CommentNode{
		ID:         commentID,
		TimecodeMs: req.TimecodeMs,
		Body:       req.Body,
		Author:     req.AuthorName,
		CreatedAt:  createdAt.UTC().Format(time.RFC3339),
		ParentID:   req.ParentID,
		Role:       role,
		Replies:    []*CommentNode{},
	}, 0, ""
}

func (h *Handler) ListOwnerComments(w http.ResponseWriter, r *http.Request) {
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}
	videoID := chi.URLParam(r, "id")

	var exists bool
	if err := h.db.QueryRow(r.Context(),
		`SELECT EXISTS(SELECT 1 FROM videos WHERE id = $1 AND organization_id = $2 AND status != 'deleted')`,
		videoID, orgID,
	).Scan(&exists); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not fetch comments")
		return
	}
	if !exists {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	rows, err := h.queryCommentRows(r.Context(), videoID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not fetch comments")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, BuildThread(rows))
}

func (h *Handler) PostOwnerComment(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}
	videoID := chi.URLParam(r, "id")

	var req postCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validateComment(w, &req) {
		return
	}

	var exists bool
	if err := h.db.QueryRow(r.Context(),
		`SELECT EXISTS(SELECT 1 FROM videos WHERE id = $1 AND organization_id = $2 AND status != 'deleted')`,
		videoID, orgID,
	).Scan(&exists); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not save comment")
		return
	}
	if !exists {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	node, status, msg := h.insertComment(r.Context(), videoID, &userID, req, "owner")
	if node == nil {
		httputil.WriteError(w, status, msg)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, node)
}

func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	orgID := organization.RequireOrg(w, r)
	if orgID == "" {
		return
	}
	videoID := chi.URLParam(r, "id")
	commentID := chi.URLParam(r, "commentId")

	tag, err := h.db.Exec(r.Context(),
		`DELETE FROM comments c USING videos v
		 WHERE c.id = $1 AND c.video_id = $2 AND v.id = c.video_id AND v.organization_id = $3`,
		commentID, videoID, orgID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not delete comment")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "comment not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListWatchComments(w http.ResponseWriter, r *http.Request) {
	grant, ok := h.requireGrant(w, r)
	if !ok {
		return
	}
	videoID := chi.URLParam(r, "id")
	if !grant.Covers(videoID) {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	rows, err := h.queryCommentRows(r.Context(), videoID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not fetch comments")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, BuildThread(rows))
}

func (h *Handler) PostWatchComment(w http.ResponseWriter, r *http.Request) {
	grant, ok := h.requireGrant(w, r)
	if !ok {
		return
	}
	videoID := chi.URLParam(r, "id")
	if !grant.Covers(videoID) {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}
	if !grant.AllowComments {
		httputil.WriteError(w, http.StatusForbidden, "comments are disabled for this link")
		return
	}

	var req postCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validateComment(w, &req) {
		return
	}
	if req.AuthorName == "" {
		httputil.WriteError(w, http.StatusBadRequest, "name is required")
		return
	}

	node, status, msg := h.insertComment(r.Context(), videoID, nil, req, "client")
	if node == nil {
		httputil.WriteError(w, status, msg)
		return
	}

	if h.commentNotifier != nil {
		go h.notifyOwner(videoID, grant.Token, req.AuthorName, req.Body)
	}

	httputil.WriteJSON(w, http.StatusCreated, node)
}

func (h *Handler) notifyOwner(videoID, shareToken, authorName, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var ownerEmail, ownerName, videoTitle string
	err := h.db.QueryRow(ctx,
		`SELECT u.email, u.name, v.title FROM users u JOIN videos v ON v.user_id = u.id WHERE v.id = $1`,
		videoID,
	).Scan(&ownerEmail, &ownerName, &videoTitle)
	if err != nil {
		slog.Error("comment: failed to fetch owner info for notification", "video_id", videoID, "error", err)
		return
	}

	reviewURL := h.shareURL(shareToken)
	if err := h.commentNotifier.SendCommentNotification(ctx, ownerEmail, ownerName, videoTitle, authorName, body, reviewURL); err != nil {
		slog.Error("comment: failed to send notification", "video_id", videoID, "error", err)
	}
}
