// Package archive persists the in-memory event log to SQL storage and
// verifies archived runs by replaying their integrity hashes.
package archive

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/francescomaiomascio/yai/pkg/kernel"
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// ErrRunNotFound is returned when no archived event belongs to a run.
var ErrRunNotFound = errors.New("run not found in archive")

// SQLArchive stores events in the ledger_events table.
type SQLArchive struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps db. Call Migrate before first use.
func New(db *sql.DB, dialect Dialect) *SQLArchive {
	return &SQLArchive{db: db, dialect: dialect}
}

// OpenSQLite opens (creating if needed) a SQLite archive at path.
func OpenSQLite(ctx context.Context, path string) (*SQLArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer keeps :memory: databases on one connection.
	db.SetMaxOpenConns(1)
	a := New(db, SQLite)
	if err := a.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// OpenPostgres connects to dsn and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*SQLArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	a := New(db, Postgres)
	if err := a.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *SQLArchive) Dialect() Dialect { return a.dialect }

func (a *SQLArchive) Close() error { return a.db.Close() }

// Ping checks the connection.
func (a *SQLArchive) Ping(ctx context.Context) error { return a.db.PingContext(ctx) }

func (a *SQLArchive) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger_events (
			seq BIGINT PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			run_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			ts TEXT NOT NULL,
			origin TEXT NOT NULL,
			payload TEXT NOT NULL,
			causality TEXT,
			integrity TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_events_run ON ledger_events (run_id, seq)`,
	}
	for _, q := range stmts {
		if _, err := a.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate ledger_events: %w", err)
		}
	}
	return nil
}

// ph returns the n-th (1-based) placeholder.
func (a *SQLArchive) ph(n int) string {
	if a.dialect == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (a *SQLArchive) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = a.ph(i + 1)
	}
	return strings.Join(parts, ", ")
}

// Append archives events in order within one transaction. Events already
// archived (by event id) are skipped. It returns how many rows were written.
func (a *SQLArchive) Append(ctx context.Context, events []*kernel.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ledger_events`).Scan(&next); err != nil {
		return 0, fmt.Errorf("read archive head: %w", err)
	}

	insert := `INSERT INTO ledger_events (seq, event_id, run_id, event_type, ts, origin, payload, causality, integrity) VALUES (` +
		a.placeholders(9) + `) ON CONFLICT (event_id) DO NOTHING`

	written := 0
	for _, e := range events {
		rec := e.Record()
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return 0, fmt.Errorf("encode payload of %s: %w", rec.EventID, err)
		}
		var causality sql.NullString
		if rec.Causality != nil {
			b, err := json.Marshal(rec.Causality)
			if err != nil {
				return 0, fmt.Errorf("encode causality of %s: %w", rec.EventID, err)
			}
			causality = sql.NullString{String: string(b), Valid: true}
		}
		res, err := tx.ExecContext(ctx, insert,
			next+1, rec.EventID, rec.RunID, string(rec.EventType), rec.Timestamp, rec.Origin, string(payload), causality, rec.Integrity,
		)
		if err != nil {
			return 0, fmt.Errorf("insert event %s: %w", rec.EventID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			next++
			written++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit archive tx: %w", err)
	}
	return written, nil
}

// Count returns the number of archived events.
func (a *SQLArchive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_events`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Runs lists archived run ids in order of first appearance.
func (a *SQLArchive) Runs(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT run_id, MIN(seq) AS first_seq FROM ledger_events GROUP BY run_id ORDER BY first_seq`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []string
	for rows.Next() {
		var runID string
		var first int64
		if err := rows.Scan(&runID, &first); err != nil {
			return nil, err
		}
		runs = append(runs, runID)
	}
	return runs, rows.Err()
}

// Row is an archived event as stored, before reconstruction.
type Row struct {
	Seq    int64
	Record kernel.EventRecord
}

// RunRows returns the stored rows of runID in archive order.
func (a *SQLArchive) RunRows(ctx context.Context, runID string) ([]Row, error) {
	q := `SELECT seq, event_id, run_id, event_type, ts, origin, payload, causality, integrity FROM ledger_events WHERE run_id = ` +
		a.ph(1) + ` ORDER BY seq`
	rows, err := a.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		var (
			r         Row
			eventType string
			payload   string
			causality sql.NullString
		)
		if err := rows.Scan(&r.Seq, &r.Record.EventID, &r.Record.RunID, &eventType, &r.Record.Timestamp,
			&r.Record.Origin, &payload, &causality, &r.Record.Integrity); err != nil {
			return nil, err
		}
		r.Record.EventType = kernel.EventType(eventType)
		if err := decodeJSON(payload, &r.Record.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", r.Record.EventID, err)
		}
		if causality.Valid && causality.String != "" && causality.String != "null" {
			if err := decodeJSON(causality.String, &r.Record.Causality); err != nil {
				return nil, fmt.Errorf("decode causality of %s: %w", r.Record.EventID, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ByRun reconstructs the events of runID. Any row whose integrity does not
// match its content fails the whole call.
func (a *SQLArchive) ByRun(ctx context.Context, runID string) ([]*kernel.Event, error) {
	rows, err := a.RunRows(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	events := make([]*kernel.Event, len(rows))
	for i, r := range rows {
		e, err := kernel.FromRecord(r.Record)
		if err != nil {
			return nil, fmt.Errorf("archived event %s (seq %d): %w", r.Record.EventID, r.Seq, err)
		}
		events[i] = e
	}
	return events, nil
}

func decodeJSON(s string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	return dec.Decode(v)
}
