// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour

	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		return txn.Set([]byte("layout/1/2"), []byte("v"))
	}))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "second close is a no-op")

	db2, err := Open(cfg)
	require.NoError(t, err)
	defer db2.Close()
	assert.False(t, db2.InMemory())

	err = db2.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("layout/1/2"))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		assert.Equal(t, []byte("v"), val)
		return err
	})
	require.NoError(t, err)
}

func TestWithTxn_DiscardsOnError(t *testing.T) {
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	boom := errors.New("boom")

	err = db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte("k"), []byte("v")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("k"))
		return err
	})
	assert.ErrorIs(t, err, badger.ErrKeyNotFound)
}

func TestWithTxn_ReadWriteConflict(t *testing.T) {
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	key := []byte("layout/9/9")

	err = db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(key); !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		// Another writer commits the same key after our read.
		if err := db.WithTxn(ctx, func(other *badger.Txn) error {
			return other.Set(key, []byte("theirs"))
		}); err != nil {
			return err
		}
		return txn.Set(key, []byte("ours"))
	})
	assert.ErrorIs(t, err, badger.ErrConflict)
}

func TestWithTxn_CancelledContext(t *testing.T) {
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err = db.WithTxn(ctx, func(*badger.Txn) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.ErrorIs(t, db.WithReadTxn(ctx, func(*badger.Txn) error { return nil }), context.Canceled)
}
