package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/csrf"

	"github.com/firealarmweb/firealarm/internal/models"
)

var testCSRFKey = []byte("0123456789abcdef0123456789abcdef")

func TestCSRF_BearerSkipsCheck(t *testing.T) {
	handler := CSRF(CSRFConfig{Key: testCSRFKey})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest("POST", "/api/v1/messages", nil)
	req = setAuthContext(req, "1", models.RoleUser)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
}

func TestCSRF_SessionRequiresToken(t *testing.T) {
	id := models.Identity{UserID: "1", Username: "ana", Role: models.RoleUser}
	withSession := func(r *http.Request) *http.Request {
		return r.WithContext(WithUserContext(r.Context(), id, AuthSession))
	}

	var token string
	handler := CSRF(CSRFConfig{Key: testCSRFKey})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = csrf.Token(r)
		w.WriteHeader(http.StatusOK)
	}))

	// Safe method issues a token and cookie.
	getReq := withSession(httptest.NewRequest("GET", "http://localhost/api/v1/auth/csrf", nil))
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK || token == "" {
		t.Fatalf("GET status = %d, token = %q", getRec.Code, token)
	}
	cookies := getRec.Result().Cookies()

	// Unsafe method without the token is rejected.
	noToken := withSession(httptest.NewRequest("POST", "http://localhost/api/v1/messages", nil))
	for _, c := range cookies {
		noToken.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, noToken)
	if rec.Code != http.StatusForbidden {
		t.Errorf("POST without token: status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	// Unsafe method with the token passes.
	withToken := withSession(httptest.NewRequest("POST", "http://localhost/api/v1/messages", nil))
	withToken.Header.Set("X-CSRF-Token", token)
	for _, c := range cookies {
		withToken.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, withToken)
	if rec.Code != http.StatusOK {
		t.Errorf("POST with token: status = %d, want %d", rec.Code, http.StatusOK)
	}
}
