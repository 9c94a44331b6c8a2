package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

const testSecret = "test-jwt-secret"

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestRegister_CreatesUserAndReturnsTokens(t *testing.T) {
	mock := newMock(t)
	h := NewHandler(mock, testSecret, false)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("a@example.com", pgxmock.AnyArg(), "Ada").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("user-1"))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), "user-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	body, _ := json.Marshal(registerRequest{Email: "a@example.com", Password: "longenough", Name: "Ada"})
	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	claims, err := ValidateToken(testSecret, resp.AccessToken)
	if err != nil || claims.UserID != "user-1" {
		t.Fatalf("bad access token: %v %v", claims, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRegister_RejectsShortPassword(t *testing.T) {
	h := NewHandler(newMock(t), testSecret, false)

	body, _ := json.Marshal(registerRequest{Email: "a@example.com", Password: "short", Name: "Ada"})
	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRegister_RejectsInvalidEmail(t *testing.T) {
	h := NewHandler(newMock(t), testSecret, false)

	body, _ := json.Marshal(registerRequest{Email: "not-an-email", Password: "longenough", Name: "Ada"})
	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLogin_UnknownUser(t *testing.T) {
	mock := newMock(t)
	h := NewHandler(mock, testSecret, false)

	mock.ExpectQuery(`SELECT id, password_hash FROM users`).
		WithArgs("a@example.com").
		WillReturnError(pgx.ErrNoRows)

	body, _ := json.Marshal(loginRequest{Email: "a@example.com", Password: "whatever1"})
	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body)))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMiddleware_InjectsUserID(t *testing.T) {
	h := NewHandler(newMock(t), testSecret, false)
	token, _ := GenerateAccessToken(testSecret, "user-9")

	var got string
	handler := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got != "user-9" {
		t.Errorf("user id = %q", got)
	}
}

func TestMiddleware_RejectsRefreshToken(t *testing.T) {
	h := NewHandler(newMock(t), testSecret, false)
	token, _ := GenerateRefreshToken(testSecret, "user-9", "tok-1")

	handler := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMiddleware_MissingHeader(t *testing.T) {
	h := NewHandler(newMock(t), testSecret, false)
	handler := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRefresh_RotatesToken(t *testing.T) {
	mock := newMock(t)
	h := NewHandler(mock, testSecret, false)

	refreshToken, _ := GenerateRefreshToken(testSecret, "user-1", "tok-old")

	mock.ExpectQuery(`SELECT revoked_at, expires_at FROM refresh_tokens`).
		WithArgs("tok-old", "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"revoked_at", "expires_at"}).
			AddRow((*time.Time)(nil), time.Now().Add(time.Hour)))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at = now\(\)`).
		WithArgs("tok-old").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), "user-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refreshToken})
	rec := httptest.NewRecorder()
	h.Refresh(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRefresh_RevokedToken(t *testing.T) {
	mock := newMock(t)
	h := NewHandler(mock, testSecret, false)

	refreshToken, _ := GenerateRefreshToken(testSecret, "user-1", "tok-old")
	revoked := time.Now().Add(-time.Minute)

	mock.ExpectQuery(`SELECT revoked_at, expires_at FROM refresh_tokens`).
		WithArgs("tok-old", "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"revoked_at", "expires_at"}).
			AddRow(&revoked, time.Now().Add(time.Hour)))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refreshToken})
	rec := httptest.NewRecorder()
	h.Refresh(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestOrgContextRoundTrip(t *testing.T) {
	ctx := ContextWithOrg(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "org-1", "admin")
	if OrgIDFromContext(ctx) != "org-1" {
		t.Errorf("org id = %q", OrgIDFromContext(ctx))
	}
	if OrgRoleFromContext(ctx) != "admin" {
		t.Errorf("role = %q", OrgRoleFromContext(ctx))
	}
}
