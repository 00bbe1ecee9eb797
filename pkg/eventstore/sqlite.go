// Copyright 2025 The Lighthouse Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lighthouse-agents/lighthouse/pkg/event"

	_ "github.com/mattn/go-sqlite3"
)

const createEventsSchemaSQL = `
CREATE TABLE IF NOT EXISTS events (
    sequence INTEGER PRIMARY KEY,
    event_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    aggregate_id TEXT NOT NULL,
    aggregate_type TEXT,
    source_agent TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    schema_version INTEGER NOT NULL,
    record BLOB NOT NULL
)`

var createEventsIndexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_events_aggregate ON events(aggregate_id, sequence)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type, sequence)`,
	`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_events_source ON events(source_agent, sequence)`,
}

// SQLiteBackend stores events in a single-file embedded database running in
// write-ahead-logging mode. Crash recovery rides on the SQLite journal; a
// torn trailing transaction is rolled back by the engine on open.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database file in WAL mode.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open database", Err: err}
	}
	// The append path is a single writer; one connection avoids SQLITE_BUSY
	// churn between the writer and readers.
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := append([]string{createEventsSchemaSQL}, createEventsIndexSQL...)
	for _, stmt := range statements {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return &StorageError{Op: "init schema", Err: err}
		}
	}
	return nil
}

// Append implements Backend. The batch runs in one transaction, so either
// every event is durable or none is.
func (b *SQLiteBackend) Append(ctx context.Context, events []*event.Event) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "begin tx", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events
		(sequence, event_id, event_type, aggregate_id, aggregate_type, source_agent, timestamp, schema_version, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return &StorageError{Op: "prepare insert", Err: err}
	}
	defer stmt.Close()

	for _, e := range events {
		record, err := event.Encode(e)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			e.Sequence, e.EventID, string(e.EventType), e.AggregateID, e.AggregateType,
			e.SourceAgent, e.Timestamp, e.SchemaVersion, record); err != nil {
			return &StorageError{Op: "insert event", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "commit", Err: err}
	}
	return nil
}

// LastSequence implements Backend.
func (b *SQLiteBackend) LastSequence() (int64, error) {
	var last sql.NullInt64
	if err := b.db.QueryRow(`SELECT MAX(sequence) FROM events`).Scan(&last); err != nil {
		return 0, &StorageError{Op: "query tail", Err: err}
	}
	return last.Int64, nil
}

// Scan implements Backend.
func (b *SQLiteBackend) Scan(ctx context.Context, after int64, fn func(*event.Event) error) error {
	rows, err := b.db.QueryContext(ctx,
		`SELECT record FROM events WHERE sequence > ? ORDER BY sequence ASC`, after)
	if err != nil {
		return &StorageError{Op: "scan", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return &StorageError{Op: "scan row", Err: err}
		}
		e, err := event.Decode(record)
		if err != nil {
			return &StorageError{Op: "decode record", Err: err}
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Query implements Backend using the table indices.
func (b *SQLiteBackend) Query(ctx context.Context, q Query) ([]*event.Event, int64, error) {
	where, args := buildWhere(q.Filter)

	var total int64
	countSQL := "SELECT COUNT(*) FROM events" + where
	if err := b.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, &StorageError{Op: "count", Err: err}
	}

	order := "sequence"
	if q.SortBy == SortByTimestamp {
		order = "timestamp"
	}
	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}

	querySQL := fmt.Sprintf("SELECT record FROM events%s ORDER BY %s %s LIMIT ? OFFSET ?", where, order, dir)
	rows, err := b.db.QueryContext(ctx, querySQL, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, &StorageError{Op: "query", Err: err}
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, 0, &StorageError{Op: "query row", Err: err}
		}
		e, err := event.Decode(record)
		if err != nil {
			return nil, 0, &StorageError{Op: "decode record", Err: err}
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}

func buildWhere(f Filter) (string, []any) {
	var conds []string
	var args []any

	if len(f.EventTypes) > 0 {
		conds = append(conds, "event_type IN ("+placeholders(len(f.EventTypes))+")")
		for _, t := range f.EventTypes {
			args = append(args, string(t))
		}
	}
	if len(f.AggregateIDs) > 0 {
		conds = append(conds, "aggregate_id IN ("+placeholders(len(f.AggregateIDs))+")")
		for _, id := range f.AggregateIDs {
			args = append(args, id)
		}
	}
	if len(f.SourceAgents) > 0 {
		conds = append(conds, "source_agent IN ("+placeholders(len(f.SourceAgents))+")")
		for _, a := range f.SourceAgents {
			args = append(args, a)
		}
	}
	if f.AfterSequence > 0 {
		conds = append(conds, "sequence > ?")
		args = append(args, f.AfterSequence)
	}
	if f.BeforeSequence > 0 {
		conds = append(conds, "sequence < ?")
		args = append(args, f.BeforeSequence)
	}
	if f.AfterTimestamp > 0 {
		conds = append(conds, "timestamp > ?")
		args = append(args, f.AfterTimestamp)
	}
	if f.BeforeTimestamp > 0 {
		conds = append(conds, "timestamp < ?")
		args = append(args, f.BeforeTimestamp)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

var _ Backend = (*SQLiteBackend)(nil)
