// Package organization manages the production-house accounts that own
// videos, galleries, and share links, and keeps their storage accounting
// honest.
package organization

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/cutroom/cutroom/internal/auth"
	"github.com/cutroom/cutroom/internal/database"
	"github.com/cutroom/cutroom/internal/httputil"
	"github.com/cutroom/cutroom/internal/validate"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

type Handler struct {
	db database.DBTX
}

func NewHandler(db database.DBTX) *Handler {
	return &Handler{db: db}
}

type orgResponse struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Slug             string `json:"slug"`
	Role             string `json:"role,omitempty"`
	StorageUsedBytes string `json:"storageUsedBytes"`
	CreatedAt        string `json:"createdAt"`
}

type createOrgRequest struct {
	Name string `json:"name"`
}

func generateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = nonAlphanumeric.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "org"
	}
	return slug
}

func randomHexSuffix() (string, error) {
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req createOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		httputil.WriteError(w, http.StatusBadRequest, "organization name is required")
		return
	}
	if msg := validate.OrgName(name); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	suffix, err := randomHexSuffix()
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create organization")
		return
	}
	slug := generateSlug(name) + "-" + suffix

	tx, err := h.db.Begin(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create organization")
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	var orgID, createdAt string
	err = tx.QueryRow(r.Context(),
		`INSERT INTO organizations (name, slug) VALUES ($1, $2) RETURNING id, created_at::text`,
		name, slug,
	).Scan(&orgID, &createdAt)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create organization")
		return
	}

	if _, err := tx.Exec(r.Context(),
		`INSERT INTO organization_members (organization_id, user_id, role) VALUES ($1, $2, 'owner')`,
		orgID, userID,
	); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create organization")
		return
	}

	if err := tx.Commit(r.Context()); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create organization")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, orgResponse{
		ID:               orgID,
		Name:             name,
		Slug:             slug,
		Role:             "owner",
		StorageUsedBytes: "0",
		CreatedAt:        createdAt,
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	rows, err := h.db.Query(r.Context(),
		`SELECT o.id, o.name, o.slug, om.role, o.storage_used_bytes::text, o.created_at::text
		 FROM organizations o
		 JOIN organization_members om ON om.organization_id = o.id
		 WHERE om.user_id = $1
		 ORDER BY o.created_at ASC`,
		userID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list organizations")
		return
	}
	defer rows.Close()

	orgs := []orgResponse{}
	for rows.Next() {
		var o orgResponse
		if err := rows.Scan(&o.ID, &o.Name, &o.Slug, &o.Role, &o.StorageUsedBytes, &o.CreatedAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to list organizations")
			return
		}
		orgs = append(orgs, o)
	}

	httputil.WriteJSON(w, http.StatusOK, orgs)
}
