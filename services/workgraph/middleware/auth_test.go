// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/workgraph/pkg/extensions"
	"github.com/AleutianAI/workgraph/services/workgraph/entity"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockAuthProvider is a configurable mock for testing.
type mockAuthProvider struct {
	authInfo *extensions.AuthInfo
	err      error
	gotToken string
}

func (m *mockAuthProvider) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	m.gotToken = token
	if m.err != nil {
		return nil, m.err
	}
	return m.authInfo, nil
}

// =============================================================================
// extractBearerToken Tests
// =============================================================================

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer ABC", "ABC"},
		{"missing", "", ""},
		{"no bearer prefix", "abc123", ""},
		{"basic auth", "Basic abc123", ""},
		{"empty bearer", "Bearer ", ""},
		{"only bearer", "Bearer", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}

			assert.Equal(t, tt.want, extractBearerToken(c))
		})
	}
}

// =============================================================================
// AuthMiddleware Tests
// =============================================================================

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.GET("/who", func(c *gin.Context) {
		caller, ok := CallerFrom(c)
		if !ok {
			c.Status(http.StatusTeapot)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": caller.UserID, "team": caller.TeamID})
	})
	return r
}

func TestAuthMiddleware_StoresCaller(t *testing.T) {
	provider := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: 4, TeamID: 9}}
	r := newRouter(AuthMiddleware(provider))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer tok")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":4,"team":9}`, w.Body.String())
	assert.Equal(t, "tok", provider.gotToken)
}

func TestAuthMiddleware_Unauthorized(t *testing.T) {
	provider := &mockAuthProvider{err: extensions.ErrUnauthorized}
	r := newRouter(AuthMiddleware(provider))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/who", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
}

func TestAuthMiddleware_ProviderFailure(t *testing.T) {
	provider := &mockAuthProvider{err: errors.New("idp down")}
	r := newRouter(AuthMiddleware(provider))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/who", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"authentication failed"}`, w.Body.String())
}

func TestAuthMiddleware_QueryToken(t *testing.T) {
	provider := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: 1, TeamID: 1}}

	newRouter(AuthMiddleware(provider)).ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "/who?access_token=q", nil))
	assert.Empty(t, provider.gotToken, "query token ignored unless allowed")

	newRouter(AuthMiddleware(provider, AllowQueryToken())).ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "/who?access_token=q", nil))
	assert.Equal(t, "q", provider.gotToken)

	req := httptest.NewRequest(http.MethodGet, "/who?access_token=q", nil)
	req.Header.Set("Authorization", "Bearer header")
	newRouter(AuthMiddleware(provider, AllowQueryToken())).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "header", provider.gotToken, "header wins over query")
}

func TestAuthMiddleware_WithStaticTokens(t *testing.T) {
	provider, err := extensions.NewStaticTokenProvider(map[string]extensions.AuthInfo{
		"secret": {UserID: 2, TeamID: 3, DisplayName: "Bo"},
	})
	require.NoError(t, err)
	r := newRouter(AuthMiddleware(provider))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer secret")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCallerFrom(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	_, ok := CallerFrom(c)
	assert.False(t, ok)

	SetAuthInfo(c, &extensions.AuthInfo{UserID: 0, TeamID: 1})
	_, ok = CallerFrom(c)
	assert.False(t, ok)

	SetAuthInfo(c, &extensions.AuthInfo{UserID: 3, TeamID: 1})
	caller, ok := CallerFrom(c)
	assert.True(t, ok)
	assert.Equal(t, entity.Caller{UserID: 3, TeamID: 1}, caller)
}
