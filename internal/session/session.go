// Package session derives the session identifier and tracks user activity for
// the idle heartbeat.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vincentbai/behaviortrace/internal/models"
	"github.com/vincentbai/behaviortrace/internal/storage"
)

// Manager owns the current session record. A session ends only when the gap
// between two activities exceeds the idle timeout.
type Manager struct {
	mu      sync.Mutex
	store   storage.Store
	key     string
	timeout time.Duration
	logger  *slog.Logger
	record  models.SessionRecord
}

func NewManager(store storage.Store, key string, timeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, key: key, timeout: timeout, logger: logger}
}

// Init restores the durable session if it is still live, otherwise starts a
// new one. Loading counts as activity.
func (m *Manager) Init(ctx context.Context, now time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.load(ctx)
	switch {
	case err == nil && prev.SessionID != "" && now.Sub(time.UnixMilli(prev.LastActivityAt)) < m.timeout:
		m.record = prev
		m.logger.Debug("session restored", "session_id", prev.SessionID)
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		m.logger.Warn("session record unreadable, starting new session", "error", err)
		m.record = newRecord(now)
	default:
		m.record = newRecord(now)
		m.logger.Debug("session started", "session_id", m.record.SessionID)
	}
	m.record.LastActivityAt = now.UnixMilli()
	m.save(ctx)
	return m.record.SessionID
}

// Touch records user activity at now, rotating the session first when the
// previous activity is older than the timeout. It reports the session id in
// effect and whether a rotation happened.
func (m *Manager) Touch(ctx context.Context, now time.Time) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rotated := false
	if m.record.SessionID == "" || now.Sub(time.UnixMilli(m.record.LastActivityAt)) > m.timeout {
		old := m.record.SessionID
		m.record = newRecord(now)
		rotated = true
		m.logger.Debug("session expired, rotated", "previous", old, "session_id", m.record.SessionID)
	}
	m.record.LastActivityAt = now.UnixMilli()
	m.save(ctx)
	return m.record.SessionID, rotated
}

func (m *Manager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record.SessionID
}

func (m *Manager) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.UnixMilli(m.record.LastActivityAt)
}

func (m *Manager) Record() models.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record
}

func (m *Manager) load(ctx context.Context) (models.SessionRecord, error) {
	var rec models.SessionRecord
	raw, err := m.store.Get(ctx, m.key)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("failed to decode session record: %w", err)
	}
	return rec, nil
}

// save is best effort; the in-memory record stays authoritative.
func (m *Manager) save(ctx context.Context) {
	raw, err := json.Marshal(m.record)
	if err != nil {
		m.logger.Warn("failed to encode session record", "error", err)
		return
	}
	if err := m.store.Put(ctx, m.key, raw); err != nil {
		m.logger.Warn("failed to persist session record", "error", err)
	}
}

func newRecord(now time.Time) models.SessionRecord {
	ms := now.UnixMilli()
	return models.SessionRecord{
		SessionID:      NewID(now),
		CreatedAt:      ms,
		LastActivityAt: ms,
	}
}

// NewID mints a session identifier of the form sess_<unix ms>_<8 hex>.
func NewID(now time.Time) string {
	return fmt.Sprintf("sess_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}
