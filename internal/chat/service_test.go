package chat

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/firealarmweb/firealarm/internal/apperr"
	"github.com/firealarmweb/firealarm/internal/models"
	"github.com/firealarmweb/firealarm/internal/storage"
)

func setupTestDB(t *testing.T) *storage.SQLStorage {
	t.Helper()
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate database: %v", err)
	}
	return store
}

func createUser(t *testing.T, store storage.Storage, username string, role models.Role) models.Identity {
	t.Helper()
	u := models.NewUser(username, username+"@example.com", role)
	u.ID = uuid.New().String()
	u.PasswordHash = "x"
	if err := store.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.Identity()
}

func newTestService(t *testing.T) (*Service, *Hub, *storage.SQLStorage) {
	t.Helper()
	store := setupTestDB(t)
	hub := NewHub()
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	n := 0
	clock := func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return NewService(store, hub, WithClock(clock)), hub, store
}

func TestSendBodyValidation(t *testing.T) {
	svc, _, store := newTestService(t)
	ana := createUser(t, store, "ana", models.RoleUser)
	ctx := context.Background()

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"empty", "", true},
		{"whitespace only", "  \n\t ", true},
		{"max length", strings.Repeat("a", 1000), false},
		{"max length multibyte", strings.Repeat("ñ", 1000), false},
		{"too long", strings.Repeat("a", 1001), true},
		{"too long multibyte", strings.Repeat("火", 1001), true},
		{"padded", "  smoke on 2F  ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := svc.Send(ctx, ana, tt.body, "")
			if tt.wantErr {
				if !apperr.Is(err, apperr.KindValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("send: %v", err)
			}
			if msg.Body != strings.TrimSpace(tt.body) {
				t.Errorf("expected trimmed body, got %q", msg.Body)
			}
		})
	}
}

func TestSendKinds(t *testing.T) {
	svc, _, store := newTestService(t)
	ana := createUser(t, store, "ana", models.RoleUser)
	admin := createUser(t, store, "chief", models.RoleAdmin)
	ctx := context.Background()

	if _, err := svc.Send(ctx, ana, "hello", "shout"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for unknown kind, got %v", err)
	}
	if _, err := svc.Send(ctx, ana, "drill at 3pm", "system"); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden for non-admin system message, got %v", err)
	}

	msg, err := svc.Send(ctx, admin, "drill at 3pm", "system")
	if err != nil {
		t.Fatalf("send system: %v", err)
	}
	if msg.Kind != models.MessageKindSystem {
		t.Errorf("expected system kind, got %s", msg.Kind)
	}

	if _, err := svc.Send(ctx, models.Identity{}, "hello", ""); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestSendBroadcastsToEveryone(t *testing.T) {
	svc, hub, store := newTestService(t)
	ana := createUser(t, store, "ana", models.RoleUser)
	ben := createUser(t, store, "ben", models.RoleUser)
	ctx := context.Background()

	a := register(t, hub, ana)
	b := register(t, hub, ben)

	msg, err := svc.Send(ctx, ana, "Hello", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !msg.IsOwnMessage {
		t.Error("expected sender response to be own message")
	}
	if msg.Username != "ana" {
		t.Errorf("expected author joined from users, got %q", msg.Username)
	}

	var gotA, gotB models.Message
	for _, tc := range []struct {
		conn *Conn
		out  *models.Message
	}{{a, &gotA}, {b, &gotB}} {
		f := next(t, tc.conn)
		if f.Type != EventNewMessage {
			t.Fatalf("expected new_message, got %s", f.Type)
		}
		if err := json.Unmarshal(f.Data, tc.out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}

	if gotA.ID != msg.ID || gotB.ID != msg.ID {
		t.Errorf("expected both to receive %s, got %s and %s", msg.ID, gotA.ID, gotB.ID)
	}
	if !gotA.IsOwnMessage {
		t.Error("expected A to see own message")
	}
	if gotB.IsOwnMessage {
		t.Error("expected B not to see own message")
	}
}

func TestListOldestFirstPerViewer(t *testing.T) {
	svc, _, store := newTestService(t)
	ana := createUser(t, store, "ana", models.RoleUser)
	ben := createUser(t, store, "ben", models.RoleUser)
	ctx := context.Background()

	for _, m := range []struct {
		who  models.Identity
		body string
	}{{ana, "one"}, {ben, "two"}, {ana, "three"}} {
		if _, err := svc.Send(ctx, m.who, m.body, ""); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	msgs, err := svc.List(ctx, ben, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	wantBodies := []string{"one", "two", "three"}
	wantOwn := []bool{false, true, false}
	for i, m := range msgs {
		if m.Body != wantBodies[i] {
			t.Errorf("msg %d: expected %q, got %q", i, wantBodies[i], m.Body)
		}
		if m.IsOwnMessage != wantOwn[i] {
			t.Errorf("msg %d: expected is_own_message=%v", i, wantOwn[i])
		}
	}

	page, err := svc.List(ctx, ben, 1, 2)
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 2 || page[0].Body != "two" || page[1].Body != "three" {
		t.Errorf("expected newest two oldest-first, got %+v", page)
	}

	page, err = svc.List(ctx, ben, 2, 2)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page) != 1 || page[0].Body != "one" {
		t.Errorf("expected the oldest on page 2, got %+v", page)
	}
}

func TestDeleteRules(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		requester string
		wantKind  apperr.Kind
		wantErr   bool
	}{
		{"author", "author", 0, false},
		{"admin", "admin", 0, false},
		{"other user", "other", apperr.KindForbidden, true},
		{"anonymous", "anonymous", apperr.KindUnauthorized, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, hub, store := newTestService(t)
			users := map[string]models.Identity{
				"author":    createUser(t, store, "ana", models.RoleUser),
				"admin":     createUser(t, store, "chief", models.RoleAdmin),
				"other":     createUser(t, store, "ben", models.RoleUser),
				"anonymous": {},
			}

			msg, err := svc.Send(ctx, users["author"], "wrong floor", "")
			if err != nil {
				t.Fatalf("send: %v", err)
			}
			watcher := register(t, hub, users["other"])

			err = svc.Delete(ctx, msg.ID, users[tt.requester])
			if tt.wantErr {
				if !apperr.Is(err, tt.wantKind) {
					t.Fatalf("expected kind %d, got %v", tt.wantKind, err)
				}
				expectNone(t, watcher)
				if still, _ := store.Messages().GetByID(ctx, msg.ID); still == nil {
					t.Error("message must survive a rejected delete")
				}
				return
			}
			if err != nil {
				t.Fatalf("delete: %v", err)
			}

			f := next(t, watcher)
			if f.Type != EventMessageDeleted {
				t.Fatalf("expected message_deleted, got %s", f.Type)
			}
			expectNone(t, watcher)

			if gone, _ := store.Messages().GetByID(ctx, msg.ID); gone != nil {
				t.Error("expected message to be deleted")
			}
		})
	}
}

func TestDeleteMissingMessage(t *testing.T) {
	svc, hub, store := newTestService(t)
	admin := createUser(t, store, "chief", models.RoleAdmin)
	watcher := register(t, hub, admin)

	err := svc.Delete(context.Background(), uuid.New().String(), admin)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	expectNone(t, watcher)
}

func TestTypingThrottle(t *testing.T) {
	svc, hub, store := newTestService(t)
	ana := createUser(t, store, "ana", models.RoleUser)
	ben := createUser(t, store, "ben", models.RoleUser)
	b := register(t, hub, ben)

	for i := 0; i < typingBurst*3; i++ {
		if err := svc.Typing(ana, true); err != nil {
			t.Fatalf("typing: %v", err)
		}
	}

	got := len(b.events)
	if got < typingBurst || got >= typingBurst*3 {
		t.Errorf("expected roughly %d relayed typing events, got %d", typingBurst, got)
	}

	if err := svc.Typing(models.Identity{}, true); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestTypingStopSurvivesThrottle(t *testing.T) {
	svc, hub, store := newTestService(t)
	ana := createUser(t, store, "ana", models.RoleUser)
	ben := createUser(t, store, "ben", models.RoleUser)
	b := register(t, hub, ben)

	for i := 0; i < typingBurst*3; i++ {
		if err := svc.Typing(ana, true); err != nil {
			t.Fatalf("typing: %v", err)
		}
	}
	if err := svc.Typing(ana, false); err != nil {
		t.Fatalf("stop typing: %v", err)
	}

	var last TypingData
	n := len(b.events)
	if n == 0 {
		t.Fatal("expected typing events")
	}
	for i := 0; i < n; i++ {
		f := next(t, b)
		if f.Type != EventTyping {
			t.Fatalf("expected typing event, got %q", f.Type)
		}
		if err := json.Unmarshal(f.Data, &last); err != nil {
			t.Fatalf("decode typing: %v", err)
		}
	}
	if last.IsTyping || last.UserID != ana.UserID {
		t.Errorf("expected final stop event from ana, got %+v", last)
	}
}

func TestTypingLimitersPruned(t *testing.T) {
	store := setupTestDB(t)
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	svc := NewService(store, NewHub(), WithClock(func() time.Time { return now }))
	ana := identity("1", "ana")
	ben := identity("2", "ben")

	if err := svc.Typing(ana, true); err != nil {
		t.Fatalf("typing: %v", err)
	}
	now = now.Add(2 * typingIdleTTL)
	if err := svc.Typing(ben, true); err != nil {
		t.Fatalf("typing: %v", err)
	}

	svc.typingMu.Lock()
	defer svc.typingMu.Unlock()
	if _, ok := svc.typing[ana.UserID]; ok {
		t.Error("expected idle limiter to be dropped")
	}
	if _, ok := svc.typing[ben.UserID]; !ok || len(svc.typing) != 1 {
		t.Errorf("expected only ben's limiter, got %d entries", len(svc.typing))
	}
}

func TestSendStorageFailure(t *testing.T) {
	svc, hub, store := newTestService(t)
	ana := createUser(t, store, "ana", models.RoleUser)
	b := register(t, hub, identity("b", "ben"))
	store.Close()

	_, err := svc.Send(context.Background(), ana, "hello", "")
	if !apperr.Is(err, apperr.KindStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	expectNone(t, b)
}

func TestOnline(t *testing.T) {
	svc, hub, _ := newTestService(t)
	register(t, hub, identity("1", "ana"))

	if got := svc.Online(); got.Count != 1 || got.Users[0].Username != "ana" {
		t.Errorf("unexpected presence %+v", got)
	}
}
