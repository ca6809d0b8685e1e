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
	"path/filepath"
	"sync"
	"testing"

	"github.com/AleutianAI/workgraph/services/workgraph/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a Store backed by a temp directory for isolation.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "workgraph.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpen_PropagatesDriverError(t *testing.T) {
	orig := openDB
	openDB = func(string, string) (*sql.DB, error) { return nil, errors.New("driver down") }
	t.Cleanup(func() { openDB = orig })

	_, err := Open(Config{Path: filepath.Join(t.TempDir(), "x.db")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver down")
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workgraph.db")
	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	rec, err := s.Gateway(entity.KindRequest).Create(context.Background(), entity.Draft{TeamID: 1, Title: "keep"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Gateway(entity.KindRequest).Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep", got.Title)
}

func TestCreate_AppliesKindDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		kind     entity.Kind
		prefix   string
		status   string
		priority string
	}{
		{entity.KindRequest, "REQ-", "OPEN", "MEDIUM"},
		{entity.KindTask, "TSK-", "TODO", "MEDIUM"},
		{entity.KindScenario, "SCN-", "DRAFT", ""},
		{entity.KindDeployment, "DEP-", "PLANNED", ""},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			rec, err := s.Gateway(tt.kind).Create(ctx, entity.Draft{TeamID: 7, Title: "new", CreatedBy: 3})
			require.NoError(t, err)
			assert.Positive(t, rec.ID)
			assert.Equal(t, tt.kind, rec.Kind)
			assert.Equal(t, tt.status, rec.Status)
			assert.Equal(t, tt.priority, rec.Priority)
			assert.True(t, len(rec.DocNo) > len(tt.prefix))
			assert.Equal(t, tt.prefix, rec.DocNo[:len(tt.prefix)])

			got, err := s.Gateway(tt.kind).Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, rec.DocNo, got.DocNo)
			assert.Equal(t, int64(7), got.TeamID)
			assert.Equal(t, int64(3), got.CreatedBy)
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Gateway(entity.KindTask).Get(context.Background(), 999)

	assert.True(t, errors.Is(err, entity.ErrNotFound))
}

func TestGateway_InvalidKind(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Gateway(entity.KindUnknown).Get(context.Background(), 1)

	assert.Error(t, err)
	assert.False(t, errors.Is(err, entity.ErrNotFound))
}

func TestGetMany_SkipsMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gw := s.Gateway(entity.KindScenario)

	a, err := gw.Create(ctx, entity.Draft{TeamID: 1, Title: "a"})
	require.NoError(t, err)
	b, err := gw.Create(ctx, entity.Draft{TeamID: 1, Title: "b"})
	require.NoError(t, err)

	got, err := gw.GetMany(ctx, []int64{a.ID, 404, b.ID})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "a", got[a.ID].Title)
	assert.Equal(t, "b", got[b.ID].Title)

	empty, err := gw.GetMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSave_UpdatesFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gw := s.Gateway(entity.KindDeployment)
	uid, err := s.CreateUser(ctx, 1, "Dana")
	require.NoError(t, err)

	rec, err := gw.Create(ctx, entity.Draft{TeamID: 1, Title: "release"})
	require.NoError(t, err)
	rec.Status = "DONE"
	rec.Version = "2.4.1"
	rec.AssigneeID = uid
	require.NoError(t, gw.Save(ctx, rec))

	got, err := gw.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "DONE", got.Status)
	assert.Equal(t, "2.4.1", got.Version)
	assert.Equal(t, uid, got.AssigneeID)

	missing := &entity.Record{ID: 12345, Kind: entity.KindDeployment}
	assert.True(t, errors.Is(gw.Save(ctx, missing), entity.ErrNotFound))
}

func TestRefs_AddIsIdempotentAndOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	req, err := s.Gateway(entity.KindRequest).Create(ctx, entity.Draft{TeamID: 1, Title: "root"})
	require.NoError(t, err)
	gw := s.Gateway(entity.KindRequest)

	require.NoError(t, gw.AddRef(ctx, req.ID, entity.KindTask, 5))
	require.NoError(t, gw.AddRef(ctx, req.ID, entity.KindScenario, 2))
	require.NoError(t, gw.AddRef(ctx, req.ID, entity.KindTask, 5))

	refs, err := gw.ListRefs(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, entity.KindTask, refs[0].RefKind)
	assert.Equal(t, int64(5), refs[0].RefID)
	assert.Equal(t, entity.KindRequest, refs[0].OwnerKind)
	require.NotNil(t, refs[0].SortOrder)
	require.NotNil(t, refs[1].SortOrder)
	assert.Less(t, *refs[0].SortOrder, *refs[1].SortOrder)

	ok, err := gw.RefExists(ctx, req.ID, entity.KindScenario, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = gw.RefExists(ctx, req.ID, entity.KindDeployment, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddRef_RejectsInvalid(t *testing.T) {
	s := newTestStore(t)

	err := s.Gateway(entity.KindTask).AddRef(context.Background(), 1, entity.KindUnknown, 2)

	assert.Error(t, err)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")
	var createdID int64

	err := s.InTx(ctx, func(tx entity.Store) error {
		rec, err := tx.Gateway(entity.KindTask).Create(ctx, entity.Draft{TeamID: 1, Title: "ghost"})
		if err != nil {
			return err
		}
		createdID = rec.ID
		return boom
	})

	assert.ErrorIs(t, err, boom)
	_, err = s.Gateway(entity.KindTask).Get(ctx, createdID)
	assert.True(t, errors.Is(err, entity.ErrNotFound))
}

func TestInTx_Nested(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx entity.Store) error {
		return tx.InTx(ctx, func(inner entity.Store) error {
			assert.Same(t, tx, inner)
			_, err := inner.Gateway(entity.KindTask).Create(ctx, entity.Draft{TeamID: 1, Title: "nested"})
			return err
		})
	})
	require.NoError(t, err)
}

func TestInTx_ConcurrentWriters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	req, err := s.Gateway(entity.KindRequest).Create(ctx, entity.Draft{TeamID: 1, Title: "root"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.InTx(ctx, func(tx entity.Store) error {
				task, err := tx.Gateway(entity.KindTask).Create(ctx, entity.Draft{TeamID: 1, Title: "t"})
				if err != nil {
					return err
				}
				return tx.Gateway(entity.KindRequest).AddRef(ctx, req.ID, entity.KindTask, task.ID)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	refs, err := s.Gateway(entity.KindRequest).ListRefs(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, refs, 16)
}

func TestUsers_DisplayNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, err := s.CreateUser(ctx, 1, " Ada ")
	require.NoError(t, err)
	b, err := s.CreateUser(ctx, 1, "Grace")
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, 1, "   ")
	assert.True(t, errors.Is(err, entity.ErrValidation))

	names, err := s.Users().DisplayNames(ctx, []int64{a, b, 99})
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{a: "Ada", b: "Grace"}, names)
}
