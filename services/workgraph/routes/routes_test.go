// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/workgraph/pkg/extensions"
	"github.com/AleutianAI/workgraph/services/workgraph/entity"
	"github.com/AleutianAI/workgraph/services/workgraph/handlers"
	"github.com/AleutianAI/workgraph/services/workgraph/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAssembler struct{ calls int }

func (s *stubAssembler) Assemble(_ context.Context, caller entity.Caller, rootID int64) (*entity.Graph, error) {
	s.calls++
	return &entity.Graph{Nodes: []entity.Node{{NodeID: entity.NodeID(entity.KindRequest, rootID)}}, Edges: []entity.Edge{}}, nil
}

func newRouter(t *testing.T, provider extensions.AuthProvider) (*gin.Engine, *stubAssembler) {
	t.Helper()
	reg := prometheus.NewRegistry()
	assembler := &stubAssembler{}
	opts := extensions.DefaultOptions()
	if provider != nil {
		opts = opts.WithAuth(provider)
	}

	router := gin.New()
	SetupRoutes(router, Dependencies{
		Assembler: assembler,
		Roots:     func(context.Context, entity.Caller, int64) error { return nil },
		Live:      &handlers.Live{},
		Metrics:   observability.NewMetrics(reg),
		Gatherer:  reg,
		Options:   opts,
	})
	return router, assembler
}

func serve(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSetupRoutes_Registered(t *testing.T) {
	router, _ := newRouter(t, nil)

	want := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"GET", "/v1/documents/:rootId/graph"},
		{"POST", "/v1/documents/:rootId/items"},
		{"GET", "/v1/documents/:rootId/layout"},
		{"PUT", "/v1/documents/:rootId/layout"},
		{"GET", "/v1/ws"},
	}

	registered := make(map[string]bool)
	for _, r := range router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, w := range want {
		assert.True(t, registered[w.method+" "+w.path], "route %s %s not registered", w.method, w.path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newRouter(t, nil)
	serve(router, http.MethodGet, "/health", "")

	w := serve(router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "workgraph_")
}

func TestDefaultAuth_ServesTeamOne(t *testing.T) {
	router, assembler := newRouter(t, nil)
	w := serve(router, http.MethodGet, "/v1/documents/5/graph", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"req-5"`)
	assert.Equal(t, 1, assembler.calls)
}

func TestQueryToken_OnlyOnWebSocket(t *testing.T) {
	provider, err := extensions.NewStaticTokenProvider(map[string]extensions.AuthInfo{
		"secret": {UserID: 1, TeamID: 1},
	})
	require.NoError(t, err)
	router, assembler := newRouter(t, provider)

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/v1/documents/5/graph", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/v1/documents/5/graph?access_token=secret", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/v1/documents/5/graph", "secret").Code)
	assert.Equal(t, 1, assembler.calls)

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/v1/ws?access_token=wrong", "").Code)
	// Authenticated, then rejected by the upgrader for lacking upgrade headers.
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/v1/ws?access_token=secret", "").Code)
}
