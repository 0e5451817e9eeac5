package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/firealarmweb/firealarm/internal/api/middleware"
	"github.com/firealarmweb/firealarm/internal/models"
	"github.com/firealarmweb/firealarm/internal/web/session"
)

type mockUsers struct {
	users map[string]*models.User
	err   error
}

func (m *mockUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.users[username], nil
}

func newTestHandler(t *testing.T) (*Handler, *session.Store, *mockUsers) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("Correct-Horse-1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users := &mockUsers{users: map[string]*models.User{
		"chief": {ID: "u-1", Username: "chief", Role: models.RoleAdmin, PasswordHash: string(hash)},
	}}
	sessions := session.NewStore(time.Hour)
	lockout := NewLockoutTracker(2, time.Minute)
	t.Cleanup(func() {
		sessions.Close()
		lockout.Close()
	})
	h := NewHandler(users, NewJWTService(testSecret, 15*time.Minute), sessions, lockout, HandlerConfig{})
	return h, sessions, users
}

func postLogin(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/v1/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Login(rec, req)
	return rec
}

func TestLogin_Success(t *testing.T) {
	h, sessions, _ := newTestHandler(t)

	rec := postLogin(h, `{"username":"chief","password":"Correct-Horse-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data LoginResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.TokenType != "Bearer" || resp.Data.AccessToken == "" {
		t.Errorf("unexpected response %+v", resp.Data)
	}
	if resp.Data.User.UserID != "u-1" || resp.Data.User.Role != models.RoleAdmin {
		t.Errorf("unexpected user %+v", resp.Data.User)
	}

	id, err := h.jwtService.ValidateIdentity(resp.Data.AccessToken)
	if err != nil || id.UserID != "u-1" {
		t.Errorf("issued token invalid: %v %+v", err, id)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("session cookie not set")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	if _, ok := sessions.Get(cookie.Value); !ok {
		t.Error("cookie does not reference a live session")
	}
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"missing password", `{"username":"chief"}`, http.StatusBadRequest},
		{"blank username", `{"username":"  ","password":"x"}`, http.StatusBadRequest},
		{"unknown user", `{"username":"ghost","password":"Correct-Horse-1"}`, http.StatusUnauthorized},
		{"wrong password", `{"username":"chief","password":"nope"}`, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newTestHandler(t)
			rec := postLogin(h, tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if len(rec.Result().Cookies()) != 0 {
				t.Error("no cookie should be set on failure")
			}
		})
	}
}

func TestLogin_Lockout(t *testing.T) {
	h, _, _ := newTestHandler(t)

	postLogin(h, `{"username":"chief","password":"nope"}`)
	postLogin(h, `{"username":"chief","password":"nope"}`)

	rec := postLogin(h, `{"username":"chief","password":"Correct-Horse-1"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if !strings.Contains(rec.Body.String(), errCodeAccountLocked) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestLogin_StorageError(t *testing.T) {
	h, _, users := newTestHandler(t)
	users.err = errors.New("db down")

	rec := postLogin(h, `{"username":"chief","password":"Correct-Horse-1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db down") {
		t.Error("storage error leaked to client")
	}
}

func TestSessionAndLogout(t *testing.T) {
	h, sessions, _ := newTestHandler(t)
	id := models.Identity{UserID: "u-1", Username: "chief", Role: models.RoleAdmin}
	sess, _ := sessions.Create(id)

	req := httptest.NewRequest("GET", "/api/v1/auth/session", nil)
	req = req.WithContext(middleware.WithUserContext(req.Context(), id, middleware.AuthSession))
	rec := httptest.NewRecorder()
	h.Session(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"username":"chief"`) {
		t.Errorf("session: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	anon := httptest.NewRecorder()
	h.Session(anon, httptest.NewRequest("GET", "/api/v1/auth/session", nil))
	if anon.Code != http.StatusUnauthorized {
		t.Errorf("anonymous session: status = %d", anon.Code)
	}

	req = httptest.NewRequest("POST", "/api/v1/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sess.ID})
	rec = httptest.NewRecorder()
	h.Logout(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("logout: status = %d", rec.Code)
	}
	if _, ok := sessions.Get(sess.ID); ok {
		t.Error("session should be deleted")
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("expected expiring cookie, got %+v", cookies)
	}
}
