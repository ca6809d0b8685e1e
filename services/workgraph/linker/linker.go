// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package linker creates new graph items under a parent and keeps the
// cross-reference tables consistent in both directions.
package linker

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/AleutianAI/workgraph/services/workgraph/entity"
)

// MaxTitleRunes is the longest accepted item title after trimming.
const MaxTitleRunes = 200

// CreateItemRequest is one "add item" action on a graph.
//
// Kinds are wire names in any casing; they are normalised during validation.
type CreateItemRequest struct {
	RootID     int64
	ParentKind string
	ParentID   int64
	ItemKind   string
	Title      string
}

// CreateItemResult is the node for the new record and its edge from the
// parent, in the same shape the assembler produces.
type CreateItemResult struct {
	Node entity.Node `json:"node"`
	Edge entity.Edge `json:"edge"`
}

// Linker creates items. Safe for concurrent use.
type Linker struct {
	store entity.Store
}

// NewLinker creates a Linker writing to store.
func NewLinker(store entity.Store) *Linker {
	return &Linker{store: store}
}

// CreateItem validates req and, in one transaction, creates the record and
// every cross-reference that connects it to the graph.
//
// # Description
//
// Checks run in a fixed order and the first failure is returned:
//
//  1. title non-empty and at most MaxTitleRunes
//  2. both kinds known
//  3. parent id positive
//  4. the parent kind may own the item kind
//  5. the root Request exists in the caller's team (not found)
//  6. a Request parent is the root itself
//  7. a Task parent exists in the root's team (not found) and is linked
//     to the root in either direction
//
// On success these refs exist: parent -> item and item -> parent, plus
// root -> item and item -> root when the parent is a Task.
//
// # Outputs
//
//   - *CreateItemResult: The new node and the parent -> item edge.
//   - error: wraps entity.ErrValidation or entity.ErrNotFound for bad
//     input; anything else is a store failure after which nothing was
//     written.
func (l *Linker) CreateItem(ctx context.Context, caller entity.Caller, req CreateItemRequest) (*CreateItemResult, error) {
	title, parentKind, itemKind, err := validateInput(req)
	if err != nil {
		return nil, err
	}

	var result *CreateItemResult
	err = l.store.InTx(ctx, func(tx entity.Store) error {
		root, err := entity.LoadRoot(ctx, tx, caller, req.RootID)
		if err != nil {
			return err
		}
		if err := checkParent(ctx, tx, root, parentKind, req.ParentID); err != nil {
			return err
		}

		rec, err := tx.Gateway(itemKind).Create(ctx, entity.Draft{
			TeamID:    root.TeamID,
			Title:     title,
			CreatedBy: caller.UserID,
		})
		if err != nil {
			return err
		}

		links := [][2]ref{
			{{parentKind, req.ParentID}, {itemKind, rec.ID}},
		}
		if parentKind == entity.KindTask {
			links = append(links, [2]ref{{entity.KindRequest, root.ID}, {itemKind, rec.ID}})
		}
		for _, pair := range links {
			if err := addPair(ctx, tx, pair[0], pair[1]); err != nil {
				return err
			}
		}

		node := entity.NodeFor(rec, "")
		result = &CreateItemResult{
			Node: node,
			Edge: entity.NewEdge(entity.NodeID(parentKind, req.ParentID), node.NodeID),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("graph item created",
		"root_id", req.RootID,
		"node_id", result.Node.NodeID,
		"parent", result.Edge.SourceNodeID,
		"user_id", caller.UserID,
	)
	return result, nil
}

// validateInput covers the checks that need no store access.
func validateInput(req CreateItemRequest) (title string, parent, item entity.Kind, err error) {
	title = entity.CleanText(req.Title)
	if title == "" {
		return "", 0, 0, entity.Invalid("title", "must not be empty")
	}
	if n := utf8.RuneCountInString(title); n > MaxTitleRunes {
		return "", 0, 0, entity.Invalid("title", "%d characters exceeds the limit of %d", n, MaxTitleRunes)
	}

	parent, ok := entity.ParseKind(req.ParentKind)
	if !ok {
		return "", 0, 0, entity.Invalid("parentKind", "unknown kind %q", req.ParentKind)
	}
	item, ok = entity.ParseKind(req.ItemKind)
	if !ok {
		return "", 0, 0, entity.Invalid("itemKind", "unknown kind %q", req.ItemKind)
	}

	if req.ParentID <= 0 {
		return "", 0, 0, entity.Invalid("parentId", "must be positive")
	}
	if !parent.CanParent(item) {
		return "", 0, 0, entity.Invalid("itemKind", "%s cannot be added under %s", item, parent)
	}
	return title, parent, item, nil
}

// checkParent verifies the parent belongs to root's graph.
func checkParent(ctx context.Context, tx entity.Store, root *entity.Record, kind entity.Kind, parentID int64) error {
	switch kind {
	case entity.KindRequest:
		if parentID != root.ID {
			return entity.Invalid("parentId", "request parent must be the root request %d", root.ID)
		}
		return nil

	case entity.KindTask:
		task, err := tx.Gateway(entity.KindTask).Get(ctx, parentID)
		if err != nil {
			return err
		}
		if task.TeamID != root.TeamID {
			return entity.NotFound(entity.KindTask, parentID)
		}
		linked, err := tx.Gateway(entity.KindRequest).RefExists(ctx, root.ID, entity.KindTask, task.ID)
		if err != nil {
			return fmt.Errorf("checking task link: %w", err)
		}
		if !linked {
			linked, err = tx.Gateway(entity.KindTask).RefExists(ctx, task.ID, entity.KindRequest, root.ID)
			if err != nil {
				return fmt.Errorf("checking task link: %w", err)
			}
		}
		if !linked {
			return entity.Invalid("parentId", "task %d is not linked to request %d", task.ID, root.ID)
		}
		return nil

	case entity.KindScenario, entity.KindDeployment, entity.KindUnknown:
	}
	// Unreachable after the rule table check.
	return entity.Invalid("parentKind", "%s cannot own items", kind)
}

type ref struct {
	kind entity.Kind
	id   int64
}

// addPair writes a -> b and b -> a.
func addPair(ctx context.Context, tx entity.Store, a, b ref) error {
	if err := tx.Gateway(a.kind).AddRef(ctx, a.id, b.kind, b.id); err != nil {
		return err
	}
	return tx.Gateway(b.kind).AddRef(ctx, b.id, a.kind, a.id)
}
