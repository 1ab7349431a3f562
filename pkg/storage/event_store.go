package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/w4sdr/rigmuxd/pkg/logging"
)

// Event categories.
const (
	CategoryPTT  = "ptt"
	CategorySync = "sync"
	CategoryLink = "link"
)

// Event is one entry in the coordination history: PTT transitions, sync
// pushes and link faults. Forced PTT releases are safety-critical and are
// always recorded even though no client saw an error.
type Event struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Category    string    `json:"category"`
	Type        string    `json:"type"`
	ClientID    string    `json:"client_id,omitempty"`
	FrequencyHz uint64    `json:"frequency_hz,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// EventStore persists events in SQLite with bounded retention.
type EventStore struct {
	mu        sync.Mutex
	db        *sql.DB
	dbPath    string
	maxEvents int
}

// NewEventStore opens (or creates) the event database.
func NewEventStore(dbPath string, maxEvents int) (*EventStore, error) {
	store := &EventStore{
		dbPath:    dbPath,
		maxEvents: maxEvents,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize event store: %w", err)
	}

	return store, nil
}

func (es *EventStore) initialize() error {
	if es.dbPath == "" {
		es.dbPath = "./rigmuxd.db"
	}

	if err := os.MkdirAll(filepath.Dir(es.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	connectionString := es.dbPath + "?_busy_timeout=10000&_journal_mode=WAL"

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	es.db = db

	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		category TEXT NOT NULL,
		type TEXT NOT NULL,
		client_id TEXT NOT NULL DEFAULT '',
		frequency INTEGER NOT NULL DEFAULT 0,
		detail TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_category ON events(category);
	`
	if _, err := es.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	logging.Infof("storage", "event store initialized: %s (max %d events)", es.dbPath, es.maxEvents)
	return nil
}

// Close closes the database.
func (es *EventStore) Close() error {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.db == nil {
		return nil
	}
	err := es.db.Close()
	es.db = nil
	return err
}

// Record inserts one event and trims old rows past the retention bound.
func (es *EventStore) Record(ev Event) error {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.db == nil {
		return fmt.Errorf("event store closed")
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := es.db.Exec(
		`INSERT INTO events (timestamp, category, type, client_id, frequency, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ts, ev.Category, ev.Type, ev.ClientID, int64(ev.FrequencyHz), ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	return es.trimLocked()
}

// trimLocked deletes the oldest rows beyond maxEvents.
func (es *EventStore) trimLocked() error {
	if es.maxEvents <= 0 {
		return nil
	}
	_, err := es.db.Exec(
		`DELETE FROM events WHERE id NOT IN (
			SELECT id FROM events ORDER BY id DESC LIMIT ?
		)`, es.maxEvents)
	return err
}

// Recent returns up to limit events, newest first.
func (es *EventStore) Recent(limit int) ([]Event, error) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.db == nil {
		return nil, fmt.Errorf("event store closed")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := es.db.Query(
		`SELECT id, timestamp, category, type, client_id, frequency, detail
		 FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var freq int64
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Category, &ev.Type,
			&ev.ClientID, &freq, &ev.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.FrequencyHz = uint64(freq)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Count returns the number of stored events.
func (es *EventStore) Count() (int, error) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.db == nil {
		return 0, fmt.Errorf("event store closed")
	}

	var n int
	err := es.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}
