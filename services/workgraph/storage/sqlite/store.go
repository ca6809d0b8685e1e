// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlite implements the entity gateways on an embedded SQLite file.
//
// Each record kind has its own table and its own cross-reference table:
//
//	requests    request_refs
//	tasks       task_refs
//	scenarios   scenario_refs
//	deployments deployment_refs
//
// plus a users table for assignee display names. Write transactions are
// opened with BEGIN IMMEDIATE so concurrent linkers serialise on the write
// lock instead of failing on lock upgrade.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/workgraph/services/workgraph/entity"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Config configures Open.
type Config struct {
	// Path is the database file. Its directory is created if missing.
	Path string

	// BusyTimeout bounds how long a writer waits for the lock.
	// Default: 5s.
	BusyTimeout time.Duration
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite-backed entity.Store.
//
// # Thread Safety
//
// A Store returned by Open is safe for concurrent use. The transactional
// Store handed to an InTx callback must stay on the callback's goroutine.
type Store struct {
	db  *sql.DB
	q   dbtx
	tx  *sql.Tx
	now func() time.Time
}

// Open opens (creating if needed) the database at cfg.Path and migrates it.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, fmt.Errorf("sqlite: create data dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	s := &Store{db: db, q: db, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migration: %w", err)
	}
	return s, nil
}

// Close closes the database. Only the Store returned by Open may be closed.
func (s *Store) Close() error {
	if s.tx != nil {
		return errors.New("sqlite: cannot close a transactional store")
	}
	return s.db.Close()
}

// Gateway returns the accessor for k.
func (s *Store) Gateway(k entity.Kind) entity.Gateway {
	tbl, err := tableFor(k)
	return &gateway{store: s, kind: k, table: tbl, err: err}
}

// Users returns the user directory.
func (s *Store) Users() entity.UserDirectory {
	return &users{store: s}
}

// InTx runs fn in one write transaction. Nested calls reuse the outer one.
func (s *Store) InTx(ctx context.Context, fn func(tx entity.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&Store{db: s.db, q: tx, tx: tx, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CreateUser adds a user and returns its id. Used by seeding and tests;
// user management proper lives outside this service.
func (s *Store) CreateUser(ctx context.Context, teamID int64, displayName string) (int64, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return 0, entity.Invalid("displayName", "must not be empty")
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO users (team_id, display_name) VALUES (?, ?)`, teamID, name)
	if err != nil {
		return 0, fmt.Errorf("creating user: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{`
		CREATE TABLE IF NOT EXISTS users (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			team_id      INTEGER NOT NULL,
			display_name TEXT    NOT NULL
		)`,
	}
	for _, k := range entity.AllKinds {
		tbl, err := tableFor(k)
		if err != nil {
			return err
		}
		stmts = append(stmts,
			fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			team_id     INTEGER NOT NULL,
			doc_no      TEXT    NOT NULL DEFAULT '',
			title       TEXT    NOT NULL,
			status      TEXT    NOT NULL,
			priority    TEXT    NOT NULL DEFAULT '',
			assignee_id INTEGER,
			version     TEXT    NOT NULL DEFAULT '',
			created_by  INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`, tbl.records),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_team ON %s(team_id)`, tbl.records, tbl.records),
			fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id   INTEGER NOT NULL REFERENCES %s(id),
			ref_kind   TEXT    NOT NULL,
			ref_id     INTEGER NOT NULL,
			sort_order INTEGER,
			created_at INTEGER NOT NULL
		)`, tbl.refs, tbl.records),
			fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_unique ON %s(owner_id, ref_kind, ref_id)`, tbl.refs, tbl.refs),
		)
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// tableDef names a kind's tables and the defaults its records start with.
type tableDef struct {
	records         string
	refs            string
	docPrefix       string
	defaultStatus   string
	defaultPriority string
}

func tableFor(k entity.Kind) (tableDef, error) {
	switch k {
	case entity.KindRequest:
		return tableDef{"requests", "request_refs", "REQ", "OPEN", "MEDIUM"}, nil
	case entity.KindTask:
		return tableDef{"tasks", "task_refs", "TSK", "TODO", "MEDIUM"}, nil
	case entity.KindScenario:
		return tableDef{"scenarios", "scenario_refs", "SCN", "DRAFT", ""}, nil
	case entity.KindDeployment:
		return tableDef{"deployments", "deployment_refs", "DEP", "PLANNED", ""}, nil
	case entity.KindUnknown:
		return tableDef{}, fmt.Errorf("no table for kind %s", k)
	}
	return tableDef{}, fmt.Errorf("no table for kind %d", int(k))
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullableID(id int64) any {
	if id <= 0 {
		return nil
	}
	return id
}
