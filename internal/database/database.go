package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/vincentbai/behaviortrace/internal/models"
)

// Accepted client timestamp window, unix ms: 2020-01-01 to 2030-01-01 UTC.
const (
	minTimestamp = 1577836800000
	maxTimestamp = 1893456000000

	maxEventIDLength   = 64
	maxEventTypeLength = 50
)

var ErrInvalidEvent = errors.New("invalid event")

type Database struct {
	db *sql.DB
}

func NewDatabase(databasePath string) (*Database, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS behavior_logs(
	  id           INTEGER PRIMARY KEY,
	  event_id     TEXT    NOT NULL UNIQUE,
	  event_type   TEXT    NOT NULL,
	  user_id      TEXT,
	  session_id   TEXT,
	  page         TEXT,
	  page_url     TEXT,
	  referrer     TEXT,
	  payload_json TEXT    NOT NULL CHECK (json_valid(payload_json)),
	  context_json TEXT    NOT NULL CHECK (json_valid(context_json)),
	  ts           INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_behavior_logs_user_ts ON behavior_logs(user_id, ts);
	CREATE INDEX IF NOT EXISTS idx_behavior_logs_type    ON behavior_logs(event_type);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// ValidateEvent applies the collector's acceptance rules. The event type is
// not checked against the known set so newer clients are not rejected.
func ValidateEvent(event models.Envelope) error {
	if event.EventID == "" {
		return fmt.Errorf("%w: event_id is required", ErrInvalidEvent)
	}
	if event.EventType == "" {
		return fmt.Errorf("%w: event_type is required", ErrInvalidEvent)
	}
	if len(event.EventID) > maxEventIDLength {
		return fmt.Errorf("%w: event_id longer than %d", ErrInvalidEvent, maxEventIDLength)
	}
	if len(event.EventType) > maxEventTypeLength {
		return fmt.Errorf("%w: event_type longer than %d", ErrInvalidEvent, maxEventTypeLength)
	}
	if event.Timestamp < minTimestamp || event.Timestamp > maxTimestamp {
		return fmt.Errorf("%w: timestamp %d out of range", ErrInvalidEvent, event.Timestamp)
	}
	return nil
}

// FilterValid returns the events that pass ValidateEvent, in order.
func FilterValid(events []models.Envelope) []models.Envelope {
	valid := make([]models.Envelope, 0, len(events))
	for _, event := range events {
		if ValidateEvent(event) == nil {
			valid = append(valid, event)
		}
	}
	return valid
}

// InsertEvents stores events in one transaction and returns how many rows
// were new. Duplicate event ids are ignored.
func (d *Database) InsertEvents(events []models.Envelope) (int, error) {
	transaction, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	statement, err := transaction.Prepare(`INSERT OR IGNORE INTO behavior_logs(event_id, event_type, user_id, session_id, page, page_url, referrer, payload_json, context_json, ts) VALUES(?,?,?,?,?,?,?,json(?),json(?),?)`)
	if err != nil {
		_ = transaction.Rollback()
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer statement.Close()

	inserted := 0
	for _, event := range events {
		if err := ValidateEvent(event); err != nil {
			_ = transaction.Rollback()
			return 0, err
		}

		payload := event.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			_ = transaction.Rollback()
			return 0, fmt.Errorf("failed to marshal event payload: %w", err)
		}
		contextJSON, err := json.Marshal(event.Context)
		if err != nil {
			_ = transaction.Rollback()
			return 0, fmt.Errorf("failed to marshal event context: %w", err)
		}

		result, err := statement.Exec(event.EventID, string(event.EventType), event.UserID, event.SessionID,
			event.Page, event.PageURL, event.Referrer, string(payloadJSON), string(contextJSON), event.Timestamp)
		if err != nil {
			_ = transaction.Rollback()
			return 0, fmt.Errorf("failed to execute statement: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := transaction.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

func (d *Database) CountEvents() (int, error) {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM behavior_logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// RecentUserEvents returns up to limit events for userID captured at or after
// since (unix ms), newest first.
func (d *Database) RecentUserEvents(userID string, since int64, limit int) ([]models.Envelope, error) {
	rows, err := d.db.Query(`
	SELECT event_id, event_type, user_id, session_id, page, page_url, referrer, payload_json, context_json, ts
	FROM behavior_logs
	WHERE user_id = ? AND ts >= ?
	ORDER BY ts DESC, id DESC
	LIMIT ?`, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Envelope
	for rows.Next() {
		var (
			event                    models.Envelope
			eventType                string
			user, referrer           sql.NullString
			session, page, pageURL   sql.NullString
			payloadJSON, contextJSON string
		)
		if err := rows.Scan(&event.EventID, &eventType, &user, &session, &page, &pageURL, &referrer,
			&payloadJSON, &contextJSON, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.EventType = models.EventType(eventType)
		event.SessionID = session.String
		event.Page = page.String
		event.PageURL = pageURL.String
		if user.Valid {
			event.UserID = &user.String
		}
		if referrer.Valid {
			event.Referrer = &referrer.String
		}
		if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of %s: %w", event.EventID, err)
		}
		if err := json.Unmarshal([]byte(contextJSON), &event.Context); err != nil {
			return nil, fmt.Errorf("failed to decode context of %s: %w", event.EventID, err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}
