package messages

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/firealarmweb/firealarm/internal/api/middleware"
	"github.com/firealarmweb/firealarm/internal/chat"
	"github.com/firealarmweb/firealarm/internal/models"
	"github.com/firealarmweb/firealarm/internal/storage"
)

type testEnv struct {
	store  *storage.SQLStorage
	hub    *chat.Hub
	router chi.Router
	users  map[string]models.Identity
}

// header-injected identity stands in for the auth middleware
const testUserHeader = "X-Test-User"

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	env := &testEnv{store: store, hub: chat.NewHub(), users: map[string]models.Identity{}}
	for _, u := range []struct {
		name string
		role models.Role
	}{{"ana", models.RoleUser}, {"ben", models.RoleUser}, {"chief", models.RoleAdmin}} {
		user := models.NewUser(u.name, u.name+"@example.com", u.role)
		user.ID = uuid.New().String()
		user.PasswordHash = "x"
		if err := store.Users().Create(context.Background(), user); err != nil {
			t.Fatalf("create user: %v", err)
		}
		env.users[u.name] = user.Identity()
	}

	h := NewHandler(chat.NewService(store, env.hub), env.hub, chat.StreamOptions{Heartbeat: time.Minute}, nil)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if id, ok := env.users[req.Header.Get(testUserHeader)]; ok {
				req = req.WithContext(middleware.WithUserContext(req.Context(), id, middleware.AuthBearer))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/messages", h.List)
	r.Post("/messages", h.Send)
	r.Post("/messages/typing", h.Typing)
	r.Get("/messages/online", h.Online)
	r.Get("/messages/stream", h.Stream)
	r.Delete("/messages/{id}", h.Delete)
	env.router = r
	return env
}

func (e *testEnv) do(user, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) models.Message {
	t.Helper()
	var resp struct {
		Data models.Message `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Data
}

func TestSendAndList(t *testing.T) {
	env := setupEnv(t)

	rec := env.do("ana", "POST", "/messages", `{"message":"Smoke at 3F east wing"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	sent := decodeMessage(t, rec)
	if !sent.IsOwnMessage || sent.Username != "ana" || sent.Kind != models.MessageKindText {
		t.Errorf("unexpected message %+v", sent)
	}

	rec = env.do("ben", "GET", "/messages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	var list struct {
		Data []models.Message `json:"data"`
	}
	json.NewDecoder(rec.Body).Decode(&list)
	if len(list.Data) != 1 || list.Data[0].ID != sent.ID || list.Data[0].IsOwnMessage {
		t.Errorf("unexpected list %+v", list.Data)
	}
}

func TestSendValidation(t *testing.T) {
	env := setupEnv(t)

	tests := []struct {
		name     string
		user     string
		body     string
		wantCode int
	}{
		{"anonymous", "", `{"message":"hi"}`, http.StatusUnauthorized},
		{"bad json", "ana", `{"message":`, http.StatusBadRequest},
		{"empty", "ana", `{"message":"   "}`, http.StatusBadRequest},
		{"too long", "ana", `{"message":"` + strings.Repeat("x", 1001) + `"}`, http.StatusBadRequest},
		{"system by user", "ana", `{"message":"drill","type":"system"}`, http.StatusForbidden},
		{"system by admin", "chief", `{"message":"drill","type":"system"}`, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(tt.user, "POST", "/messages", tt.body); rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d, body = %s", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}
}

func TestDelete(t *testing.T) {
	env := setupEnv(t)
	sent := decodeMessage(t, env.do("ana", "POST", "/messages", `{"message":"wrong floor"}`))

	if rec := env.do("ben", "DELETE", "/messages/"+sent.ID, ""); rec.Code != http.StatusForbidden {
		t.Errorf("other user: status = %d, want 403", rec.Code)
	}
	if rec := env.do("chief", "DELETE", "/messages/"+sent.ID, ""); rec.Code != http.StatusNoContent {
		t.Errorf("admin: status = %d, want 204", rec.Code)
	}
	if rec := env.do("chief", "DELETE", "/messages/"+sent.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("again: status = %d, want 404", rec.Code)
	}
}

func TestListBadParams(t *testing.T) {
	env := setupEnv(t)
	for _, q := range []string{"?page=x", "?limit=-1"} {
		if rec := env.do("ana", "GET", "/messages"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestTypingAndOnline(t *testing.T) {
	env := setupEnv(t)
	conn, err := env.hub.Register(env.users["ben"])
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	env.hub.MarkOpen(conn)

	if rec := env.do("ana", "POST", "/messages/typing", `{"isTyping":true}`); rec.Code != http.StatusNoContent {
		t.Fatalf("typing: status = %d", rec.Code)
	}
	select {
	case payload := <-conn.Events():
		want := `{"type":"typing","data":{"userId":"` + env.users["ana"].UserID + `","username":"ana","isTyping":true}}`
		if string(payload) != want {
			t.Errorf("payload = %s, want %s", payload, want)
		}
	case <-time.After(time.Second):
		t.Fatal("no typing event")
	}

	rec := env.do("ana", "GET", "/messages/online", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Errorf("online: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	wantUser := `{"userId":"` + env.users["ben"].UserID + `","username":"ben"}`
	if !strings.Contains(rec.Body.String(), wantUser) {
		t.Errorf("online body = %s, want user %s", rec.Body.String(), wantUser)
	}
}

func TestStreamEndToEnd(t *testing.T) {
	env := setupEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/messages/stream", nil)
	req.Header.Set(testUserHeader, "ben")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if l := sc.Text(); strings.HasPrefix(l, "data: ") {
				lines <- strings.TrimPrefix(l, "data: ")
			}
		}
	}()

	read := func() string {
		select {
		case l := <-lines:
			return l
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
			return ""
		}
	}

	if l := read(); !strings.Contains(l, `"type":"connected"`) {
		t.Fatalf("first event = %s", l)
	}

	sent := decodeMessage(t, env.do("ana", "POST", "/messages", `{"message":"evacuate"}`))

	var env2 struct {
		Type string         `json:"type"`
		Data models.Message `json:"data"`
	}
	if err := json.Unmarshal([]byte(read()), &env2); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if env2.Type != chat.EventNewMessage || env2.Data.ID != sent.ID || env2.Data.IsOwnMessage {
		t.Errorf("unexpected event %+v", env2)
	}
}

func TestStreamRequiresIdentity(t *testing.T) {
	env := setupEnv(t)
	if rec := env.do("", "GET", "/messages/stream", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
