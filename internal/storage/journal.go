// Package storage keeps the presence journal: an append-only SQLite record
// of operator logins and client joins and departures.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	// Pure-Go SQLite driver, registers itself as "sqlite".
	_ "modernc.org/sqlite"

	apperrors "github.com/omochice/roster-chat/internal/errors"
)

// EventKind names a journal entry.
type EventKind string

const (
	EventOperatorLogin  EventKind = "operator_login"
	EventOperatorLogout EventKind = "operator_logout"
	EventJoin           EventKind = "join"
	EventLeave          EventKind = "leave"
)

// Event is one row of the journal.
type Event struct {
	ID         int64
	Kind       EventKind
	Account    string
	RemoteAddr string
	Detail     string
	At         time.Time
}

// Journal is the SQLite backed presence journal.
type Journal struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens or creates the journal at path and applies the schema.
// Use ":memory:" for a throwaway journal.
func Open(path string, log *zap.Logger) (*Journal, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("opening journal", zap.String("path", path))

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "open database", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "ping database", err)
	}

	j := &Journal{db: db, log: log}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "init schema", err)
	}

	log.Info("journal ready", zap.Int("schema_version", currentSchemaVersion))
	return j, nil
}

// Record appends one event. A zero At is replaced by the current time.
func (j *Journal) Record(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO presence_events (kind, account, remote_addr, detail, at)
		 VALUES (?, ?, ?, ?, ?)`,
		string(ev.Kind), ev.Account, ev.RemoteAddr, ev.Detail, ev.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageQueryFailed, "record "+string(ev.Kind), err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, kind, account, remote_addr, detail, at
		 FROM presence_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "query recent events", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev   Event
			kind string
			at   string
		)
		if err := rows.Scan(&ev.ID, &kind, &ev.Account, &ev.RemoteAddr, &ev.Detail, &at); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "scan event", err)
		}
		ev.Kind = EventKind(kind)
		ev.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, fmt.Sprintf("parse time of event %d", ev.ID), err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "iterate events", err)
	}
	return events, nil
}

// Close releases the database connection.
func (j *Journal) Close() error {
	j.log.Info("closing journal")
	return j.db.Close()
}
