// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the Gin middleware of the workgraph service.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► token from "Authorization: Bearer <token>"
//	   │   or, when allowed, from ?access_token= (browsers cannot set
//	   │   headers on a WebSocket upgrade)
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► AuthInfo stored in the Gin context
//	           │
//	           ▼
//	       Handler (CallerFrom / GetAuthInfo)
//
// With extensions.NopAuthProvider every request runs as the local user of
// team 1.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/workgraph/pkg/extensions"
	"github.com/AleutianAI/workgraph/services/workgraph/entity"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Context Keys
// =============================================================================

const authInfoKey = "workgraph_auth_info"

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated identity in the Gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the identity stored by AuthMiddleware, or nil.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// CallerFrom converts the stored identity into the entity.Caller every core
// operation takes. ok is false when the request was not authenticated.
func CallerFrom(c *gin.Context) (caller entity.Caller, ok bool) {
	info := GetAuthInfo(c)
	if info == nil || info.UserID <= 0 || info.TeamID <= 0 {
		return entity.Caller{}, false
	}
	return entity.Caller{UserID: info.UserID, TeamID: info.TeamID}, true
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthOption configures AuthMiddleware.
type AuthOption func(*authConfig)

type authConfig struct {
	allowQueryToken bool
}

// AllowQueryToken also accepts the token from the access_token query
// parameter when no Authorization header is present.
func AllowQueryToken() AuthOption {
	return func(c *authConfig) { c.allowQueryToken = true }
}

// AuthMiddleware authenticates every request through provider and aborts
// with 401 on failure.
//
// # Inputs
//
//   - provider: Validates tokens. Must not be nil and must be safe for
//     concurrent use.
//   - opts: AllowQueryToken for WebSocket routes.
//
// # Outputs
//
//   - gin.HandlerFunc: Ready for router.Use or a route group.
func AuthMiddleware(provider extensions.AuthProvider, opts ...AuthOption) gin.HandlerFunc {
	var cfg authConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" && cfg.allowQueryToken {
			token = strings.TrimSpace(c.Query("access_token"))
		}

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			slog.Warn("auth provider failed", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken returns the token of an "Authorization: Bearer <token>"
// header, or "" when missing or malformed. The scheme is case-insensitive.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
