// Package journal records every alert the router has seen and queues
// the replies for delivery, both in one SQLite file.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ismaiel54/alert-trade-router/internal/msg"
	_ "modernc.org/sqlite"
)

// Alert statuses
const (
	StatusReceived = "RECEIVED"
	StatusHandled  = "HANDLED"
)

// Store provides alert dedup and the reply outbox
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// BeginResult reports whether an alert revision was already seen.
type BeginResult struct {
	Duplicate bool
	Status    string
}

// OutboxEvent represents a reply waiting to be delivered
type OutboxEvent struct {
	ID                  int64
	MessageID           string
	EventID             string
	Topic               string
	Key                 string
	PayloadJSON         string
	CreatedUnixMillis   int64
	PublishedUnixMillis sql.NullInt64
}

// AlertEntry is one journaled alert revision.
type AlertEntry struct {
	MessageID   string
	Revision    int
	Edited      bool
	Text        string
	Status      string
	TradeType   string
	Error       string
	FirstSeen   time.Time
	CompletedAt time.Time
}

// Open creates or opens the journal
func Open(path string) (*Store, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; sqlite serializes anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// migrate creates the necessary tables
func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			message_id TEXT NOT NULL,
			revision INTEGER NOT NULL,
			event_id TEXT NOT NULL,
			edited INTEGER NOT NULL,
			text TEXT NOT NULL,
			status TEXT NOT NULL,
			trade_type TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			first_seen_unix_millis INTEGER NOT NULL,
			completed_unix_millis INTEGER NULL,
			PRIMARY KEY (message_id, revision)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_first_seen
			ON alerts(first_seen_unix_millis)`,
		`CREATE TABLE IF NOT EXISTS outbox_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL,
			event_id TEXT NOT NULL UNIQUE,
			topic TEXT NOT NULL,
			key TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			created_unix_millis INTEGER NOT NULL,
			published_unix_millis INTEGER NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_unpublished
			ON outbox_events(published_unix_millis)
			WHERE published_unix_millis IS NULL`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// BeginAlert claims an alert revision before it is executed. A revision
// seen before, finished or not, is reported as a duplicate and must not
// be executed again.
func (s *Store) BeginAlert(ctx context.Context, a msg.AlertMsg) (BeginResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return BeginResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM alerts WHERE message_id = ? AND revision = ?",
		a.MessageID, a.Revision,
	).Scan(&status)
	if err == nil {
		return BeginResult{Duplicate: true, Status: status}, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return BeginResult{}, fmt.Errorf("failed to check existing alert: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO alerts (message_id, revision, event_id, edited, text, status, first_seen_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.MessageID, a.Revision, a.EventID, a.Edited, a.Text, StatusReceived, s.now().UnixMilli(),
	)
	if err != nil {
		return BeginResult{}, fmt.Errorf("failed to insert alert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return BeginResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return BeginResult{Status: StatusReceived}, nil
}

// Completion is the outcome of one handled alert.
type Completion struct {
	TradeType string
	Error     string
	Reply     []byte
	Topic     string
}

// CompleteAlert marks the alert handled and queues its reply in the
// same transaction.
func (s *Store) CompleteAlert(ctx context.Context, a msg.AlertMsg, c Completion) (OutboxEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UnixMilli()
	res, err := tx.ExecContext(ctx,
		`UPDATE alerts SET status = ?, trade_type = ?, error = ?, completed_unix_millis = ?
		 WHERE message_id = ? AND revision = ?`,
		StatusHandled, c.TradeType, c.Error, now, a.MessageID, a.Revision,
	)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("failed to update alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return OutboxEvent{}, fmt.Errorf("alert %s rev %d was never begun", a.MessageID, a.Revision)
	}

	ev := OutboxEvent{
		MessageID:         a.MessageID,
		EventID:           ReplyEventID(a.MessageID, a.Revision),
		Topic:             c.Topic,
		Key:               msg.AlertKey(a.MessageID),
		PayloadJSON:       string(c.Reply),
		CreatedUnixMillis: now,
	}
	res, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events (message_id, event_id, topic, key, payload_json, created_unix_millis, published_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		ev.MessageID, ev.EventID, ev.Topic, ev.Key, ev.PayloadJSON, ev.CreatedUnixMillis,
	)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("failed to insert outbox event: %w", err)
	}
	ev.ID, _ = res.LastInsertId()

	if err := tx.Commit(); err != nil {
		return OutboxEvent{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return ev, nil
}

// ReplyEventID derives a stable id for the reply to one revision.
func ReplyEventID(messageID string, revision int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(messageID+"/"+strconv.Itoa(revision))).String()
}

// ListUnpublished returns unpublished outbox events
func (s *Store) ListUnpublished(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, event_id, topic, key, payload_json, created_unix_millis, published_unix_millis
		 FROM outbox_events
		 WHERE published_unix_millis IS NULL
		 ORDER BY id ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpublished events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		err := rows.Scan(
			&e.ID, &e.MessageID, &e.EventID, &e.Topic, &e.Key,
			&e.PayloadJSON, &e.CreatedUnixMillis, &e.PublishedUnixMillis,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// MarkPublished marks an event as published
func (s *Store) MarkPublished(ctx context.Context, eventID string, nowMillis int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_events SET published_unix_millis = ? WHERE event_id = ?",
		nowMillis, eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event as published: %w", err)
	}
	return nil
}

// ListAlertsBetween returns alerts first seen in [from, to), oldest
// first.
func (s *Store) ListAlertsBetween(ctx context.Context, from, to time.Time) ([]AlertEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, revision, edited, text, status, trade_type, error,
		        first_seen_unix_millis, completed_unix_millis
		 FROM alerts
		 WHERE first_seen_unix_millis >= ? AND first_seen_unix_millis < ?
		 ORDER BY first_seen_unix_millis ASC, message_id ASC, revision ASC`,
		from.UnixMilli(), to.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []AlertEntry
	for rows.Next() {
		var (
			e         AlertEntry
			firstSeen int64
			completed sql.NullInt64
		)
		if err := rows.Scan(&e.MessageID, &e.Revision, &e.Edited, &e.Text, &e.Status,
			&e.TradeType, &e.Error, &firstSeen, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		e.FirstSeen = time.UnixMilli(firstSeen)
		if completed.Valid {
			e.CompletedAt = time.UnixMilli(completed.Int64)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
