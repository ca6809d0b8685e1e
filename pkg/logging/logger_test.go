// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" warning ", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "k=v")
}

func TestNew_JSONWithService(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{JSON: true, Service: "workgraph", Output: &buf})

	logger.Info("hello", "doc", "req-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "workgraph", rec["service"])
	assert.Equal(t, "req-1", rec["doc"])
}

func TestNew_FileSink(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := New(Config{LogDir: dir, Service: "wg", Output: &buf})

	logger.Error("boom", "code", 7)
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "wg_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg":"boom"`))
	assert.Contains(t, buf.String(), "boom")
}

func TestWith_AddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf}).With("session", "s1")

	logger.Info("joined")

	assert.Contains(t, buf.String(), "session=s1")
}
