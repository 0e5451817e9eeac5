package session

import (
	"testing"
	"time"

	"github.com/firealarmweb/firealarm/internal/models"
)

var testIdentity = models.Identity{UserID: "user-1", Username: "ana", Role: models.RoleAdmin}

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore(time.Hour)
	defer store.Close()

	session, err := store.Create(testIdentity)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if session.ID == "" {
		t.Error("session.ID is empty")
	}

	got, ok := store.Get(session.ID)
	if !ok {
		t.Fatal("Get() returned false, want true")
	}
	if got.Identity() != testIdentity {
		t.Errorf("Identity() = %+v, want %+v", got.Identity(), testIdentity)
	}
}

func TestStore_GetExpired(t *testing.T) {
	store := NewStore(time.Hour)
	defer store.Close()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	session, _ := store.Create(testIdentity)
	now = now.Add(time.Hour + time.Second)

	if _, ok := store.Get(session.ID); ok {
		t.Error("Get() returned true for expired session")
	}

	store.sweep()
	if store.Len() != 0 {
		t.Errorf("Len() = %d after sweep, want 0", store.Len())
	}
}

func TestStore_Delete(t *testing.T) {
	store := NewStore(time.Hour)
	defer store.Close()

	session, _ := store.Create(testIdentity)
	store.Delete(session.ID)

	if _, ok := store.Get(session.ID); ok {
		t.Error("Get() returned true after Delete()")
	}
}

func TestStore_DefaultTTLAndClose(t *testing.T) {
	store := NewStore(0)
	if store.TTL() != DefaultTTL {
		t.Errorf("TTL() = %v, want %v", store.TTL(), DefaultTTL)
	}
	store.Close()
	store.Close()
}
