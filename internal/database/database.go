// Package database persists subscribers, runtime tunables and detection
// events in SQLite.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// EventRecord is one pipeline event stored for later review.
type EventRecord struct {
	ID         string
	CameraID   int
	Kind       string
	Label      string
	Confidence float64
	X, Y       int
	Points     int
	CreatedAt  time.Time
}

// New opens the database at dbPath and enables WAL and foreign keys.
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Database{db: db}, nil
}

// Open opens the database and applies migrations.
func Open(dbPath string) (*Database, error) {
	d, err := New(dbPath)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// AddSubscriber adds chatID to audience. Adding an existing subscriber is a
// no-op.
func (d *Database) AddSubscriber(chatID int64, audience string) error {
	_, err := d.db.Exec(`INSERT INTO subscribers (chat_id, audience, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id, audience) DO NOTHING`,
		chatID, audience, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to add subscriber: %w", err)
	}
	return nil
}

// RemoveSubscriber removes chatID from audience.
func (d *Database) RemoveSubscriber(chatID int64, audience string) error {
	_, err := d.db.Exec("DELETE FROM subscribers WHERE chat_id = ? AND audience = ?", chatID, audience)
	if err != nil {
		return fmt.Errorf("failed to remove subscriber: %w", err)
	}
	return nil
}

// ListSubscribers returns the chat ids of an audience ordered by id.
func (d *Database) ListSubscribers(audience string) ([]int64, error) {
	rows, err := d.db.Query("SELECT chat_id FROM subscribers WHERE audience = ? ORDER BY chat_id", audience)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveConfig saves a configuration value
func (d *Database) SaveConfig(key, value string) error {
	query := `INSERT INTO app_config (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`

	_, err := d.db.Exec(query, key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// GetConfig retrieves a configuration value. ok is false when the key is not
// set.
func (d *Database) GetConfig(key string) (value string, ok bool, err error) {
	err = d.db.QueryRow("SELECT value FROM app_config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get config: %w", err)
	}
	return value, true, nil
}

// ListConfigs returns all configuration values
func (d *Database) ListConfigs() (map[string]string, error) {
	rows, err := d.db.Query("SELECT key, value FROM app_config")
	if err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	defer rows.Close()

	configs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		configs[key] = value
	}
	return configs, rows.Err()
}

// RecordEvent stores an event. Missing ids and timestamps are filled in.
func (d *Database) RecordEvent(ctx context.Context, ev *EventRecord) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	_, err := d.db.ExecContext(ctx, `INSERT INTO detection_events
		(id, camera_id, kind, label, confidence, x, y, points, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.CameraID, ev.Kind, ev.Label, ev.Confidence, ev.X, ev.Y, ev.Points, ev.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// ListEvents returns the newest events first. cameraID 0 lists every camera;
// limit 0 means no limit.
func (d *Database) ListEvents(ctx context.Context, cameraID int, limit int) ([]EventRecord, error) {
	query := `SELECT id, camera_id, kind, label, confidence, x, y, points, created_at
		FROM detection_events WHERE 1=1`
	args := []interface{}{}

	if cameraID != 0 {
		query += " AND camera_id = ?"
		args = append(args, cameraID)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var ev EventRecord
		var created int64
		if err := rows.Scan(&ev.ID, &ev.CameraID, &ev.Kind, &ev.Label, &ev.Confidence, &ev.X, &ev.Y, &ev.Points, &created); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.CreatedAt = time.Unix(0, created)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// DeleteEventsBefore deletes events older than before and returns how many
// were removed.
func (d *Database) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM detection_events WHERE created_at < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return result.RowsAffected()
}
