// Package share resolves opaque bearer tokens into validated access grants.
// A share link authorizes session-less access to a fixed set of video ids
// with per-link permissions and an optional expiry. Validation never leaks
// whether an organization or video exists outside the token's scope.
package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cutroom/cutroom/internal/database"
)

// Failure taxonomy for token validation. Handlers map these onto HTTP
// responses; anything else returned by Validate is an infrastructure error.
var (
	// ErrMissingToken is returned for empty input. Client fault.
	ErrMissingToken = errors.New("share token missing")
	// ErrInvalidToken covers unknown tokens and links whose resolved
	// allow-list is empty. The two cases are deliberately indistinguishable.
	ErrInvalidToken = errors.New("share link not valid")
	// ErrExpired is returned when the link exists but its expiry has passed.
	ErrExpired = errors.New("share link expired")
)

// View modes a share link can carry.
const (
	ViewOnly       = "view_only"
	ReviewDownload = "review_download"
)

// Grant is the validated result of a share-token check. It is immutable once
// constructed and scoped to a single request; callers must still re-check
// Covers for every video id they touch.
type Grant struct {
	Token         string
	OrgID         string
	VideoIDs      []string
	AllowComments bool
	AllowDownload bool
	ViewMode      string
	ExpiresAt     *time.Time
}

// Covers reports whether the grant authorizes the given video id.
func (g *Grant) Covers(videoID string) bool {
	for _, id := range g.VideoIDs {
		if id == videoID {
			return true
		}
	}
	return false
}

// AllowedSet returns the allow-list as a lookup set.
func (g *Grant) AllowedSet() map[string]bool {
	set := make(map[string]bool, len(g.VideoIDs))
	for _, id := range g.VideoIDs {
		set[id] = true
	}
	return set
}

type Authority struct {
	db database.DBTX
}

func NewAuthority(db database.DBTX) *Authority {
	return &Authority{db: db}
}

// Validate resolves a token into a Grant or one of the sentinel failures.
// A link whose allow-list resolves empty authorizes nothing and is reported
// as ErrInvalidToken, exactly like an unknown token.
func (a *Authority) Validate(ctx context.Context, token string) (*Grant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	var (
		orgID     string
		videoID   *string
		items     []byte
		comments  bool
		download  bool
		viewMode  string
		expiresAt *time.Time
	)
	err := a.db.QueryRow(ctx,
		`SELECT organization_id, video_id, items, allow_comments, allow_download, view_mode, expires_at
		 FROM share_links WHERE token = $1`,
		token,
	).Scan(&orgID, &videoID, &items, &comments, &download, &viewMode, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup share link: %w", err)
	}

	if expiresAt != nil && time.Now().After(*expiresAt) {
		return nil, ErrExpired
	}

	var videoIDs []string
	if videoID != nil && strings.TrimSpace(*videoID) != "" {
		// Legacy single-video link: the id comes from a direct foreign key.
		videoIDs = []string{strings.TrimSpace(*videoID)}
	} else {
		videoIDs = parseItems(items)
	}
	if len(videoIDs) == 0 {
		return nil, ErrInvalidToken
	}

	return &Grant{
		Token:         token,
		OrgID:         orgID,
		VideoIDs:      videoIDs,
		AllowComments: comments,
		AllowDownload: download,
		ViewMode:      viewMode,
		ExpiresAt:     expiresAt,
	}, nil
}

// parseItems reads the persisted items JSON defensively: malformed JSON or
// non-array content yields an empty list, never an error.
func parseItems(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	var ids []string
	seen := make(map[string]bool)
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		ids = append(ids, s)
	}
	return ids
}

// CookieName carries a share token across page loads for cookie-based access.
const CookieName = "cutroom_share"

// HeaderName is the dedicated share-token request header.
const HeaderName = "X-Share-Token"

// TokenFromRequest extracts the share token from its carriers in fixed
// precedence: query parameter, then header, then cookie. First non-empty
// wins. The query override is relied on by tests and support tooling.
func TokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("share")); token != "" {
		return token
	}
	if token := strings.TrimSpace(r.Header.Get(HeaderName)); token != "" {
		return token
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
