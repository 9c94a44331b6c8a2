// Package video holds the review-side HTTP handlers: asset upload and
// lifecycle, galleries and their version stacks, share links, threaded
// comments, and the token-gated watch surface clients see.
package video

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cutroom/cutroom/internal/database"
	"github.com/cutroom/cutroom/internal/geoip"
	"github.com/cutroom/cutroom/internal/share"
)

type ObjectStorage interface {
	GenerateUploadURL(ctx context.Context, key string, contentType string, contentLength int64, expiry time.Duration) (string, error)
	GenerateDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	GenerateDownloadURLWithDisposition(ctx context.Context, key string, filename string, expiry time.Duration) (string, error)
	DeleteObject(ctx context.Context, key string) error
	HeadObject(ctx context.Context, key string) (int64, string, error)
}

type Transcoder interface {
	Ingest(ctx context.Context, sourceURL string) (string, error)
}

type CommentNotifier interface {
	SendCommentNotification(ctx context.Context, toEmail, toName, videoTitle, commentAuthor, commentBody, reviewURL string) error
}

type Handler struct {
	db              database.DBTX
	storage         ObjectStorage
	authority       *share.Authority
	shareCache      *share.Store
	baseURL         string
	maxUploadBytes  int64
	transcoder      Transcoder
	commentNotifier CommentNotifier
	geoResolver     *geoip.Resolver
}

func NewHandler(db database.DBTX, s ObjectStorage, authority *share.Authority, shareCache *share.Store, baseURL string, maxUploadBytes int64) *Handler {
	return &Handler{
		db:             db,
		storage:        s,
		authority:      authority,
		shareCache:     shareCache,
		baseURL:        baseURL,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *Handler) SetTranscoder(t Transcoder) {
	h.transcoder = t
}

func (h *Handler) SetCommentNotifier(n CommentNotifier) {
	h.commentNotifier = n
}

func (h *Handler) SetGeoResolver(r *geoip.Resolver) {
	h.geoResolver = r
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func extensionForContentType(ct string) string {
	switch ct {
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	default:
		return ".mp4"
	}
}

func assetFileKey(orgID, token, contentType string) string {
	return fmt.Sprintf("assets/%s/%s%s", orgID, token, extensionForContentType(contentType))
}

func viewerHash(ip, userAgent string) string {
	h := sha256.Sum256([]byte(ip + "|" + userAgent))
	return fmt.Sprintf("%x", h[:8])
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(forwarded)
	}
	return r.RemoteAddr
}
