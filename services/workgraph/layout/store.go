// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package layout persists each user's visual arrangement of a graph with
// optimistic versioning.
//
// One row exists per (root document, user). A save names the version it
// was based on; it succeeds only if that is still the stored version, and
// then bumps the version by exactly one. Layouts are sanitized on both the
// write and the read path, so a corrupt or outdated stored blob never
// produces an invalid Layout.
package layout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/workgraph/services/workgraph/entity"
	"github.com/AleutianAI/workgraph/services/workgraph/events"
	wgbadger "github.com/AleutianAI/workgraph/services/workgraph/storage/badger"
	"github.com/dgraph-io/badger/v4"
)

// ConflictError reports a save based on a stale version.
// errors.Is(err, entity.ErrConflict) matches it.
type ConflictError struct {
	Expected int64
	Current  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("layout version conflict: expected %d, current %d", e.Expected, e.Current)
}

// Is lets errors.Is(err, entity.ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == entity.ErrConflict
}

// State is one user's stored layout of one root document.
type State struct {
	RootDocumentID int64 `json:"rootDocumentId"`
	UserID         int64 `json:"userId"`
	TeamID         int64 `json:"teamId"`
	Version        int64 `json:"version"`
	Layout
}

// stored is the on-disk form. The layout stays a Draft so that reads go
// through Sanitize.
type stored struct {
	TeamID  int64 `json:"teamId"`
	Version int64 `json:"version"`
	Draft
}

// Store reads and writes layouts in BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent saves of the same row are serialized
// by BadgerDB's conflict detection: at most one of them commits.
type Store struct {
	db      *wgbadger.DB
	emitter *events.Emitter
}

// NewStore creates a Store. emitter may be nil.
func NewStore(db *wgbadger.DB, emitter *events.Emitter) *Store {
	return &Store{db: db, emitter: emitter}
}

func key(rootID, userID int64) []byte {
	return []byte(fmt.Sprintf("layout/%d/%d", rootID, userID))
}

// Load returns the user's layout of rootID, or an empty version 0 layout
// when none was saved. A missing row is not an error.
func (s *Store) Load(ctx context.Context, rootID, userID int64) (*State, error) {
	var rec stored
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		rec, err = read(txn, rootID, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("loading layout %d/%d: %w", rootID, userID, err)
	}
	return &State{
		RootDocumentID: rootID,
		UserID:         userID,
		TeamID:         rec.TeamID,
		Version:        rec.Version,
		Layout:         Sanitize(rec.Draft),
	}, nil
}

// Save replaces the caller's layout of rootID if expectedVersion is the
// stored version, and returns the new version.
//
// # Outputs
//
//   - int64: expectedVersion + 1 on success.
//   - error: *ConflictError when the stored version differs or a concurrent
//     save won the race; nothing is written in that case.
func (s *Store) Save(ctx context.Context, caller entity.Caller, rootID, expectedVersion int64, proposed Draft) (int64, error) {
	if expectedVersion < 0 {
		return 0, entity.Invalid("expectedVersion", "must not be negative")
	}
	layout := Sanitize(proposed)
	k := key(rootID, caller.UserID)

	var next int64
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		rec, err := read(txn, rootID, caller.UserID)
		if err != nil {
			return err
		}
		if rec.Version != expectedVersion {
			return &ConflictError{Expected: expectedVersion, Current: rec.Version}
		}
		next = rec.Version + 1
		draft, err := layout.draft()
		if err != nil {
			return fmt.Errorf("encoding layout: %w", err)
		}
		data, err := json.Marshal(stored{TeamID: caller.TeamID, Version: next, Draft: draft})
		if err != nil {
			return fmt.Errorf("encoding layout: %w", err)
		}
		return txn.Set(k, data)
	})
	if errors.Is(err, badger.ErrConflict) {
		current, rerr := s.currentVersion(ctx, rootID, caller.UserID)
		if rerr != nil {
			return 0, fmt.Errorf("saving layout %d/%d: %w", rootID, caller.UserID, rerr)
		}
		return 0, &ConflictError{Expected: expectedVersion, Current: current}
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return 0, conflict
	}
	if err != nil {
		return 0, fmt.Errorf("saving layout %d/%d: %w", rootID, caller.UserID, err)
	}

	s.emitter.Emit(events.TypeDocumentUpdated, events.DocumentUpdated{
		RootDocumentID: rootID,
		UserID:         caller.UserID,
		Version:        next,
	})
	return next, nil
}

func (s *Store) currentVersion(ctx context.Context, rootID, userID int64) (int64, error) {
	var v int64
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		rec, err := read(txn, rootID, userID)
		v = rec.Version
		return err
	})
	return v, err
}

// read returns the stored row, or a zero row when absent. An undecodable
// blob keeps whatever version can still be recovered from it.
func read(txn *badger.Txn, rootID, userID int64) (stored, error) {
	item, err := txn.Get(key(rootID, userID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return stored{}, nil
	}
	if err != nil {
		return stored{}, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return stored{}, err
	}

	var rec stored
	if err := json.Unmarshal(data, &rec); err != nil {
		var head struct {
			TeamID  int64 `json:"teamId"`
			Version int64 `json:"version"`
		}
		_ = json.Unmarshal(data, &head)
		slog.Warn("discarding undecodable layout",
			"root_id", rootID, "user_id", userID, "version", head.Version, "error", err)
		return stored{TeamID: head.TeamID, Version: max(head.Version, 0)}, nil
	}
	if rec.Version < 0 {
		rec.Version = 0
	}
	return rec, nil
}
