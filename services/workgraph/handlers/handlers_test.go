// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/workgraph/pkg/extensions"
	"github.com/AleutianAI/workgraph/services/workgraph/datatypes"
	"github.com/AleutianAI/workgraph/services/workgraph/entity"
	"github.com/AleutianAI/workgraph/services/workgraph/events"
	"github.com/AleutianAI/workgraph/services/workgraph/graph"
	"github.com/AleutianAI/workgraph/services/workgraph/layout"
	"github.com/AleutianAI/workgraph/services/workgraph/linker"
	"github.com/AleutianAI/workgraph/services/workgraph/middleware"
	"github.com/AleutianAI/workgraph/services/workgraph/observability"
	"github.com/AleutianAI/workgraph/services/workgraph/presence"
	wgbadger "github.com/AleutianAI/workgraph/services/workgraph/storage/badger"
	"github.com/AleutianAI/workgraph/services/workgraph/storage/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testEnv wires the real stores behind a router the way the service does.
type testEnv struct {
	store    *sqlite.Store
	layouts  *layout.Store
	emitter  *events.Emitter
	metrics  *observability.Metrics
	live     *Live
	provider extensions.AuthProvider
	router   *gin.Engine

	alice, bob, eve int64
	root            int64
}

const (
	aliceToken = "alice-token"
	bobToken   = "bob-token"
	eveToken   = "eve-token"
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "workgraph.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	db, err := wgbadger.Open(wgbadger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{store: store, emitter: events.NewEmitter()}
	env.layouts = layout.NewStore(db, env.emitter)
	env.metrics = observability.NewMetrics(prometheus.NewRegistry())

	env.alice, err = store.CreateUser(ctx, 1, "Alice")
	require.NoError(t, err)
	env.bob, err = store.CreateUser(ctx, 1, "Bob")
	require.NoError(t, err)
	env.eve, err = store.CreateUser(ctx, 2, "Eve")
	require.NoError(t, err)

	root, err := store.Gateway(entity.KindRequest).Create(ctx, entity.Draft{TeamID: 1, Title: "Checkout", CreatedBy: env.alice})
	require.NoError(t, err)
	env.root = root.ID

	provider, err := extensions.NewStaticTokenProvider(map[string]extensions.AuthInfo{
		aliceToken: {UserID: env.alice, TeamID: 1, DisplayName: "Alice"},
		bobToken:   {UserID: env.bob, TeamID: 1, DisplayName: "Bob"},
		eveToken:   {UserID: env.eve, TeamID: 2, DisplayName: "Eve"},
	})
	require.NoError(t, err)
	env.provider = provider

	hub := presence.NewHub(env.metrics)
	env.live = &Live{
		Hub:     hub,
		Tracker: presence.NewTracker(hub, presence.WithObserver(env.metrics)),
		Relay:   presence.NewRelay(hub, presence.DefaultMaxPatchBytes, env.metrics),
		Roots:   StoreRootChecker(store),
		Metrics: env.metrics,
	}
	stop := presence.BridgeLayoutEvents(env.emitter, hub)
	t.Cleanup(stop)

	roots := StoreRootChecker(store)
	r := gin.New()
	r.GET("/health", HealthCheck)
	v1 := r.Group("/v1", middleware.AuthMiddleware(provider, middleware.AllowQueryToken()))
	{
		v1.GET("/documents/:rootId/graph", GetGraph(graph.NewAssembler(store)))
		v1.POST("/documents/:rootId/items", CreateItem(linker.NewLinker(store), env.metrics))
		v1.GET("/documents/:rootId/layout", GetLayout(roots, env.layouts))
		v1.PUT("/documents/:rootId/layout", SaveLayout(roots, env.layouts, env.metrics))
		v1.GET("/ws", HandleLiveWebSocket(env.live))
	}
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) docPath(suffix string) string {
	return "/v1/documents/" + itoa(e.root) + suffix
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// =============================================================================
// REST Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestV1_RequiresToken(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, env.docPath("/graph"), "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, env.docPath("/graph"), "nope", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetGraph_RootOnly(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, env.docPath("/graph"), aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	g := decode[entity.Graph](t, w)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, entity.NodeID(entity.KindRequest, env.root), g.Nodes[0].NodeID)
	assert.Equal(t, "Checkout", g.Nodes[0].Title)
	assert.NotNil(t, g.Edges)
	assert.Contains(t, w.Body.String(), `"edges":[]`)
}

func TestGetGraph_BadRootID(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/v1/documents/abc/graph", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetGraph_OtherTeamIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, env.docPath("/graph"), eveToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateItem_ThenGraph(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, env.docPath("/items"), aliceToken, datatypes.CreateItemBody{
		ParentKind: "REQUEST", ParentID: env.root, ItemKind: "TASK", Title: "  Build cart  ",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	task := decode[linker.CreateItemResult](t, w)
	assert.Equal(t, entity.KindTask, task.Node.Kind)
	assert.Equal(t, "Build cart", task.Node.Title)

	w = env.do(t, http.MethodPost, env.docPath("/items"), aliceToken, datatypes.CreateItemBody{
		ParentKind: "task", ParentID: task.Node.EntityID, ItemKind: "scenario", Title: "Happy path",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	scn := decode[linker.CreateItemResult](t, w)
	assert.Equal(t, task.Node.NodeID, scn.Edge.SourceNodeID)

	w = env.do(t, http.MethodGet, env.docPath("/graph"), bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	g := decode[entity.Graph](t, w)
	require.Len(t, g.Nodes, 3)
	assert.Len(t, g.Edges, 2)

	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.ItemsCreatedTotal.WithLabelValues("TASK"))+
		testutil.ToFloat64(env.metrics.ItemsCreatedTotal.WithLabelValues("SCENARIO")))
}

func TestCreateItem_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		token string
		body  any
		want  int
		field string
	}{
		{"blank title", aliceToken, datatypes.CreateItemBody{ParentKind: "REQUEST", ParentID: env.root, ItemKind: "TASK", Title: "  "}, http.StatusBadRequest, "title"},
		{"bad rule", aliceToken, datatypes.CreateItemBody{ParentKind: "REQUEST", ParentID: env.root, ItemKind: "REQUEST", Title: "x"}, http.StatusBadRequest, "itemKind"},
		{"unknown kind", aliceToken, datatypes.CreateItemBody{ParentKind: "EPIC", ParentID: env.root, ItemKind: "TASK", Title: "x"}, http.StatusBadRequest, "parentKind"},
		{"other team", eveToken, datatypes.CreateItemBody{ParentKind: "REQUEST", ParentID: env.root, ItemKind: "TASK", Title: "x"}, http.StatusNotFound, ""},
		{"missing parent task", aliceToken, datatypes.CreateItemBody{ParentKind: "TASK", ParentID: 999, ItemKind: "SCENARIO", Title: "x"}, http.StatusNotFound, ""},
		{"not json", aliceToken, "oops", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, env.docPath("/items"), tt.token, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			if tt.field != "" {
				body := decode[map[string]any](t, w)
				assert.Equal(t, tt.field, body["field"])
			}
		})
	}
}

func TestLayout_SaveLoadConflict(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, env.docPath("/layout"), aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	initial := decode[layout.State](t, w)
	assert.Equal(t, int64(0), initial.Version)

	body := map[string]any{
		"expectedVersion": 0,
		"positions": map[string]any{
			"req-1":  map[string]any{"x": 10, "y": 20},
			"broken": map[string]any{"x": 1},
		},
	}
	w = env.do(t, http.MethodPut, env.docPath("/layout"), aliceToken, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"version":1}`, w.Body.String())

	w = env.do(t, http.MethodGet, env.docPath("/layout"), aliceToken, nil)
	saved := decode[layout.State](t, w)
	assert.Equal(t, int64(1), saved.Version)
	assert.Equal(t, map[string]layout.Point{"req-1": {X: 10, Y: 20}}, saved.Positions)

	// Stale writer.
	w = env.do(t, http.MethodPut, env.docPath("/layout"), aliceToken, body)
	require.Equal(t, http.StatusConflict, w.Code)
	conflict := decode[datatypes.ConflictResponse](t, w)
	assert.Equal(t, datatypes.ConflictResponse{Error: "conflict", ExpectedVersion: 0, CurrentVersion: 1}, conflict)

	// Layouts are per user.
	w = env.do(t, http.MethodGet, env.docPath("/layout"), bobToken, nil)
	assert.Equal(t, int64(0), decode[layout.State](t, w).Version)

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.LayoutSavesTotal.WithLabelValues(string(observability.LayoutSaved))))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.LayoutSavesTotal.WithLabelValues(string(observability.LayoutConflict))))
}

func TestSaveLayout_DropsMalformedEntries(t *testing.T) {
	env := newTestEnv(t)

	body := json.RawMessage(`{"expectedVersion":0,
		"positions":{
			"req-1":{"x":10,"y":20},
			"string-x":{"x":"10","y":20},
			"overflow-x":{"x":1e400,"y":20}
		},
		"edges":[
			{"id":"e1","source":"req-1","target":"task-2"},
			{"id":5,"source":"req-1","target":"task-2"},
			{"id":null,"source":"req-1","target":"task-2"}
		],
		"customNodes":[
			{"entityId":"3","docNo":"TSK-3","title":"t","status":"TODO"},
			{"entityId":4,"docNo":"TSK-4","title":"t","status":"TODO"}
		]}`)
	w := env.do(t, http.MethodPut, env.docPath("/layout"), aliceToken, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"version":1}`, w.Body.String())

	w = env.do(t, http.MethodGet, env.docPath("/layout"), aliceToken, nil)
	saved := decode[layout.State](t, w)
	assert.Equal(t, map[string]layout.Point{"req-1": {X: 10, Y: 20}}, saved.Positions)
	assert.Equal(t, []layout.Edge{{ID: "e1", Source: "req-1", Target: "task-2"}}, saved.Edges)
	require.Len(t, saved.CustomNodes, 1)
	assert.Equal(t, int64(4), saved.CustomNodes[0].EntityID)
}

func TestSaveLayout_Invalid(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing version", map[string]any{"positions": map[string]any{}}},
		{"negative version", map[string]any{"expectedVersion": -1}},
		{"fractional version", map[string]any{"expectedVersion": 1.5}},
		{"not an object", "layout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, env.docPath("/layout"), aliceToken, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestLayout_OtherTeamIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, env.docPath("/layout"), eveToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodPut, env.docPath("/layout"), eveToken, map[string]any{"expectedVersion": 0})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// Error Mapping Tests
// =============================================================================

func TestRespondError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"typed conflict", &layout.ConflictError{Expected: 1, Current: 2}, http.StatusConflict},
		{"sentinel conflict", entity.ErrConflict, http.StatusConflict},
		{"validation", entity.Invalid("title", "must not be blank"), http.StatusBadRequest},
		{"wrapped not found", errors.Join(errors.New("ctx"), entity.NotFound(entity.KindTask, 3)), http.StatusNotFound},
		{"store failure", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)
			respondError(c, tt.err)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusInternalServerError {
				assert.NotContains(t, w.Body.String(), "disk on fire")
			}
		})
	}
}
