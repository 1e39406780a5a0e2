// Package audit persists trace events to a SQLite database so consensus
// and execution audit trails survive the session that produced them. It is
// a pure consumer of the vm trace-sink API.
package audit

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scrawlvm/scrawl/pkg/vm"
)

const schema = `
CREATE TABLE IF NOT EXISTS trace_events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	session   TEXT NOT NULL,
	seq       INTEGER NOT NULL,
	domain    TEXT NOT NULL,
	type      TEXT NOT NULL,
	severity  INTEGER NOT NULL,
	pc        INTEGER NOT NULL,
	context   INTEGER NOT NULL,
	message   TEXT NOT NULL,
	logged_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trace_severity ON trace_events(severity);
`

// Store is a durable trace sink backed by SQLite. Safe for use from one
// session; Emit serializes writes internally.
type Store struct {
	db      *sql.DB
	session string

	mu      sync.Mutex
	lastErr error
}

// Open creates or opens the audit database at path and prepares the
// schema. Use ":memory:" for an ephemeral store in tests.
func Open(path, sessionID string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &Store{db: db, session: sessionID}, nil
}

// Emit implements vm.TraceSink. Write failures are remembered and surfaced
// by Err rather than dropped silently.
func (s *Store) Emit(e vm.TraceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO trace_events (session, seq, domain, type, severity, pc, context, message, logged_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.session, e.Seq, e.Domain.String(), e.Type, int(e.Severity), e.PC, e.Context, e.Message,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		s.lastErr = fmt.Errorf("audit: insert event: %w", err)
	}
}

// Err returns the most recent write failure, if any.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Events returns every stored event for this session at or above the given
// severity, in emission order.
func (s *Store) Events(min vm.Severity) ([]vm.TraceEvent, error) {
	rows, err := s.db.Query(
		`SELECT seq, type, severity, pc, context, message
		 FROM trace_events WHERE session = ? AND severity >= ? ORDER BY seq`,
		s.session, int(min),
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var out []vm.TraceEvent
	for rows.Next() {
		var e vm.TraceEvent
		var sev int
		if err := rows.Scan(&e.Seq, &e.Type, &sev, &e.PC, &e.Context, &e.Message); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.Severity = vm.Severity(sev)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
