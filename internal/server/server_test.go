package server_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"

	"github.com/cutroom/cutroom/internal/server"
)

// --- Mock types ---

type mockPinger struct{ err error }

func (m *mockPinger) Ping(ctx context.Context) error { return m.err }

type mockStorage struct{}

func (m *mockStorage) GenerateUploadURL(ctx context.Context, key string, contentType string, contentLength int64, expiry time.Duration) (string, error) {
	return "https://example.com/upload", nil
}

func (m *mockStorage) GenerateDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://example.com/download", nil
}

func (m *mockStorage) GenerateDownloadURLWithDisposition(ctx context.Context, key string, filename string, expiry time.Duration) (string, error) {
	return "https://example.com/download-attachment", nil
}

func (m *mockStorage) DeleteObject(ctx context.Context, key string) error {
	return nil
}

func (m *mockStorage) HeadObject(ctx context.Context, key string) (int64, string, error) {
	return 1024, "video/webm", nil
}

// --- Helpers ---

func newServerWithoutDB() *server.Server {
	return server.New(server.Config{})
}

func newServerWithDB(t *testing.T) (*server.Server, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgxmock pool: %v", err)
	}
	t.Cleanup(func() { mock.Close() })

	srv := server.New(server.Config{
		DB:               mock,
		Pinger:           &mockPinger{err: nil},
		Storage:          &mockStorage{},
		JWTSecret:        "test-secret",
		BaseURL:          "https://localhost:8080",
		S3PublicEndpoint: "https://storage.example.com",
	})
	return srv, mock
}

func executeRequest(srv *server.Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func executeRequestWithBody(srv *server.Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

// --- Health Endpoint ---

func TestHealthEndpointReturnsOK(t *testing.T) {
	srv := newServerWithoutDB()
	rec := executeRequest(srv, http.MethodGet, "/api/health")

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	expected := `{"status":"ok"}`
	if rec.Body.String() != expected {
		t.Errorf("expected body %q, got %q", expected, rec.Body.String())
	}
}

func TestHealthEndpointContentType(t *testing.T) {
	srv := newServerWithoutDB()
	rec := executeRequest(srv, http.MethodGet, "/api/health")

	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type %q, got %q", "application/json", contentType)
	}
}

func TestHealthEndpointWithPingFailure(t *testing.T) {
	srv := server.New(server.Config{
		Pinger: &mockPinger{err: errors.New("connection refused")},
	})
	rec := executeRequest(srv, http.MethodGet, "/api/health")

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}

	expected := `{"status":"unhealthy","error":"database unreachable"}`
	if rec.Body.String() != expected {
		t.Errorf("expected body %q, got %q", expected, rec.Body.String())
	}
}

// --- Server with nil DB ---

func TestNilDBStillRegistersHealthEndpoint(t *testing.T) {
	srv := newServerWithoutDB()
	rec := executeRequest(srv, http.MethodGet, "/api/health")

	if rec.Code != http.StatusOK {
		t.Errorf("health endpoint should be accessible without DB, got status %d", rec.Code)
	}
}

func TestNilDBAuthRoutesNotRegistered(t *testing.T) {
	srv := newServerWithoutDB()

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/auth/register"},
		{http.MethodPost, "/api/auth/login"},
		{http.MethodPost, "/api/auth/refresh"},
		{http.MethodPost, "/api/auth/logout"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			rec := executeRequest(srv, route.method, route.path)
			if rec.Code != http.StatusNotFound {
				t.Errorf("expected 404 for %s %s without DB, got %d", route.method, route.path, rec.Code)
			}
		})
	}
}

func TestNilDBAPIRoutesNotRegistered(t *testing.T) {
	srv := newServerWithoutDB()

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/videos/"},
		{http.MethodGet, "/api/videos/"},
		{http.MethodPatch, "/api/videos/some-id"},
		{http.MethodDelete, "/api/videos/some-id"},
		{http.MethodGet, "/api/galleries/"},
		{http.MethodPost, "/api/shares/"},
		{http.MethodGet, "/api/organizations/"},
		{http.MethodGet, "/api/watch"},
		{http.MethodGet, "/api/watch/videos/some-id"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			rec := executeRequest(srv, route.method, route.path)
			if rec.Code != http.StatusNotFound {
				t.Errorf("expected 404 for %s %s without DB, got %d", route.method, route.path, rec.Code)
			}
		})
	}
}

// --- Server with DB: auth routes registered ---

func TestAuthRoutesRegisteredWithDB(t *testing.T) {
	srv, _ := newServerWithDB(t)

	rec := executeRequestWithBody(srv, http.MethodPost, "/api/auth/register", "{}")
	if rec.Code == http.StatusNotFound {
		t.Errorf("expected auth/register to be registered (not 404), got %d", rec.Code)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty register body, got %d", rec.Code)
	}
}

func TestLoginRouteRegisteredWithDB(t *testing.T) {
	srv, _ := newServerWithDB(t)

	rec := executeRequestWithBody(srv, http.MethodPost, "/api/auth/login", "{}")
	if rec.Code == http.StatusNotFound {
		t.Errorf("expected auth/login to be registered (not 404), got %d", rec.Code)
	}
}

// --- Server with DB: review routes require a session ---

func TestReviewRoutesRequireAuth(t *testing.T) {
	srv, _ := newServerWithDB(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/videos/"},
		{http.MethodGet, "/api/videos/"},
		{http.MethodPost, "/api/galleries/"},
		{http.MethodGet, "/api/shares/"},
		{http.MethodPost, "/api/organizations/"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			rec := executeRequestWithBody(srv, route.method, route.path, "{}")
			if rec.Code == http.StatusNotFound {
				t.Errorf("expected %s %s to be registered (not 404)", route.method, route.path)
			}
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401 without a session, got %d", rec.Code)
			}
		})
	}
}

func TestReviewRoutesRateLimited(t *testing.T) {
	srv, _ := newServerWithDB(t)

	var lastCode int
	for i := 0; i < 30; i++ {
		rec := executeRequestWithBody(srv, http.MethodPost, "/api/videos/", "{}")
		lastCode = rec.Code
		if lastCode == http.StatusTooManyRequests {
			return
		}
	}

	t.Errorf("expected 429 after bursts, last status %d", lastCode)
}

// --- Server with DB: watch routes are token-gated, not session-gated ---

func TestWatchRouteRegisteredWithDB(t *testing.T) {
	srv, mock := newServerWithDB(t)

	mock.ExpectQuery("SELECT organization_id, video_id, items").
		WithArgs("some-token").
		WillReturnError(pgx.ErrNoRows)

	rec := executeRequest(srv, http.MethodGet, "/api/watch?share=some-token")

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown token, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "share link not valid") {
		t.Errorf("expected handler response with 'share link not valid', got %q", body)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("route /api/watch not registered: mock expectation unmet: %v", err)
	}
}

func TestWatchRouteWithoutTokenIsClientError(t *testing.T) {
	srv, _ := newServerWithDB(t)

	rec := executeRequest(srv, http.MethodGet, "/api/watch")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a share token, got %d", rec.Code)
	}
}

func TestWatchVideoRouteRegisteredWithDB(t *testing.T) {
	srv, mock := newServerWithDB(t)

	mock.ExpectQuery("SELECT organization_id, video_id, items").
		WithArgs("some-token").
		WillReturnError(pgx.ErrNoRows)

	rec := executeRequest(srv, http.MethodGet, "/api/watch/videos/some-id?share=some-token")

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown token, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("route /api/watch/videos/{id} not registered: mock expectation unmet: %v", err)
	}
}

// --- Auth routes have rate limiting ---

func TestAuthRoutesRateLimited(t *testing.T) {
	srv, _ := newServerWithDB(t)

	var lastCode int
	for i := 0; i < 20; i++ {
		rec := executeRequestWithBody(srv, http.MethodPost, "/api/auth/register", "{}")
		lastCode = rec.Code
		if lastCode == http.StatusTooManyRequests {
			return
		}
	}
	t.Errorf("expected 429 after many rapid requests, last status was %d", lastCode)
}

// --- Route registration ---

func TestUnknownRouteReturns404(t *testing.T) {
	srv := newServerWithoutDB()
	rec := executeRequest(srv, http.MethodGet, "/unknown")

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown route, got %d", rec.Code)
	}
}

func TestHealthEndpointWrongMethodReturnsMethodNotAllowed(t *testing.T) {
	srv := newServerWithoutDB()
	rec := executeRequest(srv, http.MethodPost, "/api/health")

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST /api/health, got %d", rec.Code)
	}
}
