// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package entity

import "context"

// Gateway is the narrow accessor for one record kind and its cross-reference
// table.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Gateway interface {
	// Kind is the record kind this gateway serves.
	Kind() Kind

	// Get returns the record or an error wrapping ErrNotFound.
	Get(ctx context.Context, id int64) (*Record, error)

	// GetMany batch-loads records. Missing ids are absent from the map.
	GetMany(ctx context.Context, ids []int64) (map[int64]*Record, error)

	// Create inserts a record with kind-specific defaults and returns it
	// with its generated id and document number.
	Create(ctx context.Context, draft Draft) (*Record, error)

	// Save updates the mutable fields of an existing record.
	Save(ctx context.Context, r *Record) error

	// ListRefs returns the owner's outgoing cross-references ordered by
	// sort order, then insertion.
	ListRefs(ctx context.Context, ownerID int64) ([]CrossReference, error)

	// AddRef stores ownerID -> (refKind, refID). Adding an existing
	// reference is a no-op.
	AddRef(ctx context.Context, ownerID int64, refKind Kind, refID int64) error

	// RefExists reports whether ownerID -> (refKind, refID) is stored.
	RefExists(ctx context.Context, ownerID int64, refKind Kind, refID int64) (bool, error)
}

// UserDirectory resolves user ids to display names.
type UserDirectory interface {
	// DisplayNames batch-resolves ids. Unknown ids are absent from the map.
	DisplayNames(ctx context.Context, ids []int64) (map[int64]string, error)
}

// Store groups the gateways for all four kinds.
type Store interface {
	// Gateway returns the accessor for k. k must be valid.
	Gateway(k Kind) Gateway

	// Users returns the user directory.
	Users() UserDirectory

	// InTx runs fn against a Store whose writes commit together when fn
	// returns nil and roll back otherwise. Nested calls join the outer
	// transaction.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// LoadRoot fetches the root Request of a graph and enforces team scope.
// A root owned by another team is reported exactly like a missing one.
func LoadRoot(ctx context.Context, store Store, caller Caller, rootID int64) (*Record, error) {
	if rootID <= 0 {
		return nil, NotFound(KindRequest, rootID)
	}
	root, err := store.Gateway(KindRequest).Get(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if root.TeamID != caller.TeamID {
		return nil, NotFound(KindRequest, rootID)
	}
	return root, nil
}
