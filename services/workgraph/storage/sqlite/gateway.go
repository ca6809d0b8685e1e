// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/workgraph/services/workgraph/entity"
)

// maxBatch keeps IN (...) lists under SQLite's host parameter limit.
const maxBatch = 500

type gateway struct {
	store *Store
	kind  entity.Kind
	table tableDef
	err   error
}

var _ entity.Gateway = (*gateway)(nil)

func (g *gateway) Kind() entity.Kind { return g.kind }

func (g *gateway) selectColumns() string {
	return `SELECT id, team_id, doc_no, title, status, priority, assignee_id, version, created_by, created_at, updated_at FROM ` + g.table.records
}

func (g *gateway) scan(row interface{ Scan(...any) error }) (*entity.Record, error) {
	var (
		r                  entity.Record
		assignee           sql.NullInt64
		createdAt, updated int64
	)
	if err := row.Scan(&r.ID, &r.TeamID, &r.DocNo, &r.Title, &r.Status, &r.Priority,
		&assignee, &r.Version, &r.CreatedBy, &createdAt, &updated); err != nil {
		return nil, err
	}
	r.Kind = g.kind
	r.AssigneeID = assignee.Int64
	r.CreatedAt = time.UnixMilli(createdAt)
	r.UpdatedAt = time.UnixMilli(updated)
	return &r, nil
}

func (g *gateway) Get(ctx context.Context, id int64) (*entity.Record, error) {
	if g.err != nil {
		return nil, g.err
	}
	row := g.store.q.QueryRowContext(ctx, g.selectColumns()+` WHERE id = ?`, id)
	r, err := g.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NotFound(g.kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s %d: %w", g.kind, id, err)
	}
	return r, nil
}

func (g *gateway) GetMany(ctx context.Context, ids []int64) (map[int64]*entity.Record, error) {
	if g.err != nil {
		return nil, g.err
	}
	out := make(map[int64]*entity.Record, len(ids))
	for start := 0; start < len(ids); start += maxBatch {
		end := min(start+maxBatch, len(ids))
		chunk := ids[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := g.store.q.QueryContext(ctx,
			g.selectColumns()+` WHERE id IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("batch loading %s: %w", g.kind, err)
		}
		for rows.Next() {
			r, err := g.scan(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning %s: %w", g.kind, err)
			}
			out[r.ID] = r
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("batch loading %s: %w", g.kind, err)
		}
	}
	return out, nil
}

func (g *gateway) Create(ctx context.Context, draft entity.Draft) (*entity.Record, error) {
	if g.err != nil {
		return nil, g.err
	}
	var created *entity.Record
	err := g.store.InTx(ctx, func(tx entity.Store) error {
		s := tx.(*Store)
		now := s.now().UnixMilli()
		res, err := s.q.ExecContext(ctx,
			`INSERT INTO `+g.table.records+` (team_id, title, status, priority, assignee_id, created_by, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			draft.TeamID, draft.Title, g.table.defaultStatus, g.table.defaultPriority,
			nullableID(draft.AssigneeID), draft.CreatedBy, now, now)
		if err != nil {
			return fmt.Errorf("creating %s: %w", g.kind, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("creating %s: %w", g.kind, err)
		}
		docNo := fmt.Sprintf("%s-%d", g.table.docPrefix, id)
		if _, err := s.q.ExecContext(ctx,
			`UPDATE `+g.table.records+` SET doc_no = ? WHERE id = ?`, docNo, id); err != nil {
			return fmt.Errorf("numbering %s %d: %w", g.kind, id, err)
		}
		created = &entity.Record{
			ID:         id,
			Kind:       g.kind,
			TeamID:     draft.TeamID,
			DocNo:      docNo,
			Title:      draft.Title,
			Status:     g.table.defaultStatus,
			Priority:   g.table.defaultPriority,
			AssigneeID: draft.AssigneeID,
			CreatedBy:  draft.CreatedBy,
			CreatedAt:  time.UnixMilli(now),
			UpdatedAt:  time.UnixMilli(now),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (g *gateway) Save(ctx context.Context, r *entity.Record) error {
	if g.err != nil {
		return g.err
	}
	now := g.store.now()
	res, err := g.store.q.ExecContext(ctx,
		`UPDATE `+g.table.records+`
		 SET title = ?, status = ?, priority = ?, assignee_id = ?, version = ?, updated_at = ?
		 WHERE id = ?`,
		r.Title, r.Status, r.Priority, nullableID(r.AssigneeID), r.Version, now.UnixMilli(), r.ID)
	if err != nil {
		return fmt.Errorf("saving %s %d: %w", g.kind, r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("saving %s %d: %w", g.kind, r.ID, err)
	}
	if n == 0 {
		return entity.NotFound(g.kind, r.ID)
	}
	r.UpdatedAt = time.UnixMilli(now.UnixMilli())
	return nil
}

func (g *gateway) ListRefs(ctx context.Context, ownerID int64) ([]entity.CrossReference, error) {
	if g.err != nil {
		return nil, g.err
	}
	rows, err := g.store.q.QueryContext(ctx,
		`SELECT owner_id, ref_kind, ref_id, sort_order FROM `+g.table.refs+`
		 WHERE owner_id = ?
		 ORDER BY sort_order IS NULL, sort_order, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing %s refs of %d: %w", g.kind, ownerID, err)
	}
	defer rows.Close()

	var refs []entity.CrossReference
	for rows.Next() {
		var (
			ref     entity.CrossReference
			refKind string
			order   sql.NullInt64
		)
		if err := rows.Scan(&ref.OwnerID, &refKind, &ref.RefID, &order); err != nil {
			return nil, fmt.Errorf("scanning %s ref: %w", g.kind, err)
		}
		kind, ok := entity.ParseKind(refKind)
		if !ok {
			continue
		}
		ref.OwnerKind = g.kind
		ref.RefKind = kind
		if order.Valid {
			o := int(order.Int64)
			ref.SortOrder = &o
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (g *gateway) AddRef(ctx context.Context, ownerID int64, refKind entity.Kind, refID int64) error {
	if g.err != nil {
		return g.err
	}
	if !refKind.Valid() || ownerID <= 0 || refID <= 0 {
		return fmt.Errorf("adding %s ref %d -> %s %d: invalid reference", g.kind, ownerID, refKind, refID)
	}
	_, err := g.store.q.ExecContext(ctx,
		`INSERT INTO `+g.table.refs+` (owner_id, ref_kind, ref_id, sort_order, created_at)
		 VALUES (?, ?, ?, (SELECT COALESCE(MAX(sort_order), 0) + 1 FROM `+g.table.refs+` WHERE owner_id = ?), ?)
		 ON CONFLICT(owner_id, ref_kind, ref_id) DO NOTHING`,
		ownerID, refKind.String(), refID, ownerID, g.store.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("adding %s ref %d -> %s %d: %w", g.kind, ownerID, refKind, refID, err)
	}
	return nil
}

func (g *gateway) RefExists(ctx context.Context, ownerID int64, refKind entity.Kind, refID int64) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	var one int
	err := g.store.q.QueryRowContext(ctx,
		`SELECT 1 FROM `+g.table.refs+` WHERE owner_id = ? AND ref_kind = ? AND ref_id = ?`,
		ownerID, refKind.String(), refID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s ref: %w", g.kind, err)
	}
	return true, nil
}

type users struct {
	store *Store
}

func (u *users) DisplayNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	for start := 0; start < len(ids); start += maxBatch {
		chunk := ids[start:min(start+maxBatch, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := u.store.q.QueryContext(ctx,
			`SELECT id, display_name FROM users WHERE id IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("resolving user names: %w", err)
		}
		for rows.Next() {
			var (
				id   int64
				name string
			)
			if err := rows.Scan(&id, &name); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning user: %w", err)
			}
			out[id] = name
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("resolving user names: %w", err)
		}
	}
	return out, nil
}
