package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAuthMiddleware_RoundTrip(t *testing.T) {
	a := NewAuthMiddleware("test-secret")

	rec := httptest.NewRecorder()
	a.SetAuthCookie(rec, 42)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}

	var gotID int64
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetUserIDFromContext(r.Context())
		if !ok {
			t.Fatalf("user id missing from context")
		}
		gotID = id
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotID != 42 {
		t.Fatalf("userID = %d, want 42", gotID)
	}
}

func TestAuthMiddleware_MissingCookie(t *testing.T) {
	a := NewAuthMiddleware("test-secret")

	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddleware_TamperedToken(t *testing.T) {
	a := NewAuthMiddleware("test-secret")

	rec := httptest.NewRecorder()
	a.SetAuthCookie(rec, 42)
	cookie := rec.Result().Cookies()[0]

	// Подменяем идентификатор, оставляя подпись.
	cookie.Value = strings.Replace(cookie.Value, "42.", "43.", 1)

	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}
}

func TestAuthMiddleware_ForeignSecret(t *testing.T) {
	issuer := NewAuthMiddleware("secret-one")
	verifier := NewAuthMiddleware("secret-two")

	rec := httptest.NewRecorder()
	issuer.SetAuthCookie(rec, 7)
	cookie := rec.Result().Cookies()[0]

	handler := verifier.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}
}
