package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vincentbai/behaviortrace/internal/models"
	"github.com/vincentbai/behaviortrace/internal/storage"
)

const (
	testKey     = "fin_ai_session"
	testTimeout = 30 * time.Minute
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("disabled") }
func (brokenStore) Put(context.Context, string, []byte) error   { return errors.New("quota exceeded") }
func (brokenStore) Delete(context.Context, string) error        { return errors.New("disabled") }

func TestInitMintsSession(t *testing.T) {
	store := storage.NewMemory()
	m := NewManager(store, testKey, testTimeout, nil)

	id := m.Init(context.Background(), t0)
	if !strings.HasPrefix(id, "sess_") {
		t.Errorf("unexpected session id %q", id)
	}

	raw, err := store.Get(context.Background(), testKey)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	var rec models.SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("bad persisted record: %v", err)
	}
	if rec.SessionID != id || rec.LastActivityAt != t0.UnixMilli() {
		t.Errorf("persisted %+v", rec)
	}
}

func TestInitRestoresLiveSession(t *testing.T) {
	store := storage.NewMemory()
	first := NewManager(store, testKey, testTimeout, nil).Init(context.Background(), t0)

	second := NewManager(store, testKey, testTimeout, nil).Init(context.Background(), t0.Add(10*time.Minute))
	if second != first {
		t.Errorf("reload within timeout changed session: %s -> %s", first, second)
	}
}

func TestInitReplacesExpiredSession(t *testing.T) {
	store := storage.NewMemory()
	first := NewManager(store, testKey, testTimeout, nil).Init(context.Background(), t0)

	second := NewManager(store, testKey, testTimeout, nil).Init(context.Background(), t0.Add(31*time.Minute))
	if second == first {
		t.Error("reload after timeout reused the session")
	}
}

func TestInitWithCorruptRecord(t *testing.T) {
	store := storage.NewMemory()
	_ = store.Put(context.Background(), testKey, []byte("{not json"))

	id := NewManager(store, testKey, testTimeout, nil).Init(context.Background(), t0)
	if id == "" {
		t.Error("expected a fresh session id")
	}
}

func TestTouchKeepsSessionWithinTimeout(t *testing.T) {
	m := NewManager(storage.NewMemory(), testKey, testTimeout, nil)
	id := m.Init(context.Background(), t0)

	got, rotated := m.Touch(context.Background(), t0.Add(29*time.Minute))
	if rotated || got != id {
		t.Errorf("Touch within timeout: id=%s rotated=%v", got, rotated)
	}
	// activity moved forward, so another 29 minutes is still the same session
	got, rotated = m.Touch(context.Background(), t0.Add(58*time.Minute))
	if rotated || got != id {
		t.Errorf("chained Touch: id=%s rotated=%v", got, rotated)
	}
	if !m.LastActivity().Equal(t0.Add(58 * time.Minute)) {
		t.Errorf("LastActivity = %v", m.LastActivity())
	}
}

func TestTouchRotatesAfterTimeout(t *testing.T) {
	m := NewManager(storage.NewMemory(), testKey, testTimeout, nil)
	id := m.Init(context.Background(), t0)

	got, rotated := m.Touch(context.Background(), t0.Add(testTimeout+time.Second))
	if !rotated || got == id {
		t.Errorf("expected rotation, got id=%s rotated=%v", got, rotated)
	}
	if m.Record().CreatedAt != t0.Add(testTimeout+time.Second).UnixMilli() {
		t.Errorf("rotated session has stale created_at %d", m.Record().CreatedAt)
	}
}

func TestStorageFailureIsNonFatal(t *testing.T) {
	m := NewManager(brokenStore{}, testKey, testTimeout, nil)
	id := m.Init(context.Background(), t0)
	if id == "" {
		t.Fatal("expected memory-only session")
	}
	if got, _ := m.Touch(context.Background(), t0.Add(time.Minute)); got != id {
		t.Errorf("session changed under storage failure: %s -> %s", id, got)
	}
}
