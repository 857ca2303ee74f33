package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"

	"synthvault/native/vault"
)

const schema = `
CREATE TABLE IF NOT EXISTS vault_events (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT NOT NULL UNIQUE,
    type        TEXT NOT NULL,
    account     TEXT NOT NULL DEFAULT '',
    asset       TEXT NOT NULL DEFAULT '',
    attributes  TEXT NOT NULL,
    occurred_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS vault_events_type ON vault_events(type);
CREATE INDEX IF NOT EXISTS vault_events_account ON vault_events(account);
`

// ErrPathRequired is returned when no DSN is configured.
var ErrPathRequired = errors.New("journal path must be configured")

// Journal persists vault events to SQLite for analytics and audit. It
// satisfies vault.EventSink.
type Journal struct {
	db      *sql.DB
	logger  *slog.Logger
	timeout time.Duration
}

// Open initialises the journal at the given sqlite DSN. ":memory:" is
// accepted for tests.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if trimmed == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger, timeout: 5 * time.Second}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record inserts the event. Replaying an event with a known ID is a no-op.
func (j *Journal) Record(ctx context.Context, ev vault.Event) error {
	attrs, err := json.Marshal(ev.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO vault_events(id, type, account, asset, attributes, occurred_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, ev.ID.String(), ev.Type, strings.ToLower(ev.Attributes["user"]), strings.ToLower(ev.Attributes["asset"]), string(attrs), ev.Timestamp.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Emit implements vault.EventSink. Failures are logged; the engine state is
// already committed when events are emitted.
func (j *Journal) Emit(ev vault.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.Record(ctx, ev); err != nil {
		j.logger.Error("journal write failed", "type", ev.Type, "id", ev.ID.String(), "error", err)
	}
}

// Filter narrows Recent. Empty fields match everything.
type Filter struct {
	Type  string
	User  string
	Limit int
}

// Recent returns the newest events first.
func (j *Journal) Recent(ctx context.Context, f Filter) ([]vault.Event, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `SELECT id, type, attributes, occurred_at FROM vault_events`
	var (
		clauses []string
		args    []any
	)
	if t := strings.TrimSpace(f.Type); t != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, t)
	}
	if u := strings.TrimSpace(f.User); u != "" {
		clauses = append(clauses, "account = ?")
		args = append(args, strings.ToLower(u))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []vault.Event
	for rows.Next() {
		var (
			id, typ, attrs string
			occurred       int64
		)
		if err := rows.Scan(&id, &typ, &attrs, &occurred); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev := vault.Event{Type: typ, Timestamp: time.Unix(0, occurred).UTC()}
		if ev.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("event id %q: %w", id, err)
		}
		if err := json.Unmarshal([]byte(attrs), &ev.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Counts returns the number of journaled events per type.
func (j *Journal) Counts(ctx context.Context) (map[string]int64, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM vault_events GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var (
			typ string
			n   int64
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[typ] = n
	}
	return out, rows.Err()
}
