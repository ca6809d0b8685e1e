// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP and WebSocket endpoints of the
// workgraph service.
//
// Handlers are built by constructor functions that close over their
// dependencies and return a gin.HandlerFunc. Every /v1 handler expects
// middleware.AuthMiddleware to have run.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/workgraph/services/workgraph/datatypes"
	"github.com/AleutianAI/workgraph/services/workgraph/entity"
	"github.com/AleutianAI/workgraph/services/workgraph/layout"
	"github.com/AleutianAI/workgraph/services/workgraph/linker"
	"github.com/AleutianAI/workgraph/services/workgraph/middleware"
	"github.com/AleutianAI/workgraph/services/workgraph/observability"
	"github.com/gin-gonic/gin"
)

// GraphAssembler builds the graph of a root document.
type GraphAssembler interface {
	Assemble(ctx context.Context, caller entity.Caller, rootID int64) (*entity.Graph, error)
}

// ItemCreator adds items to a graph.
type ItemCreator interface {
	CreateItem(ctx context.Context, caller entity.Caller, req linker.CreateItemRequest) (*linker.CreateItemResult, error)
}

// LayoutStore persists per-user layouts.
type LayoutStore interface {
	Load(ctx context.Context, rootID, userID int64) (*layout.State, error)
	Save(ctx context.Context, caller entity.Caller, rootID, expectedVersion int64, proposed layout.Draft) (int64, error)
}

// RootChecker fails with entity.ErrNotFound unless rootID is a Request in
// the caller's team.
type RootChecker func(ctx context.Context, caller entity.Caller, rootID int64) error

// StoreRootChecker checks roots against store.
func StoreRootChecker(store entity.Store) RootChecker {
	return func(ctx context.Context, caller entity.Caller, rootID int64) error {
		_, err := entity.LoadRoot(ctx, store, caller, rootID)
		return err
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetGraph handles GET /v1/documents/:rootId/graph.
func GetGraph(assembler GraphAssembler) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, rootID, ok := requestScope(c)
		if !ok {
			return
		}
		g, err := assembler.Assemble(c.Request.Context(), caller, rootID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, g)
	}
}

// CreateItem handles POST /v1/documents/:rootId/items.
func CreateItem(creator ItemCreator, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, rootID, ok := requestScope(c)
		if !ok {
			return
		}
		var body datatypes.CreateItemBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		res, err := creator.CreateItem(c.Request.Context(), caller, linker.CreateItemRequest{
			RootID:     rootID,
			ParentKind: body.ParentKind,
			ParentID:   body.ParentID,
			ItemKind:   body.ItemKind,
			Title:      body.Title,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		metrics.ItemCreated(res.Node.Kind.String())
		c.JSON(http.StatusCreated, res)
	}
}

// GetLayout handles GET /v1/documents/:rootId/layout.
func GetLayout(roots RootChecker, layouts LayoutStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, rootID, ok := requestScope(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		if err := roots(ctx, caller, rootID); err != nil {
			respondError(c, err)
			return
		}
		state, err := layouts.Load(ctx, rootID, caller.UserID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, state)
	}
}

// SaveLayout handles PUT /v1/documents/:rootId/layout.
func SaveLayout(roots RootChecker, layouts LayoutStore, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, rootID, ok := requestScope(c)
		if !ok {
			return
		}
		var body datatypes.SaveLayoutBody
		if err := c.ShouldBindJSON(&body); err != nil {
			metrics.LayoutSave(observability.LayoutInvalid)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := body.Validate(); err != nil {
			metrics.LayoutSave(observability.LayoutInvalid)
			c.JSON(http.StatusBadRequest, gin.H{"error": "expectedVersion must be a non-negative integer"})
			return
		}

		ctx := c.Request.Context()
		if err := roots(ctx, caller, rootID); err != nil {
			respondError(c, err)
			return
		}
		version, err := layouts.Save(ctx, caller, rootID, *body.ExpectedVersion, body.Draft)
		if err != nil {
			switch {
			case errors.Is(err, entity.ErrConflict):
				metrics.LayoutSave(observability.LayoutConflict)
			case errors.Is(err, entity.ErrValidation):
				metrics.LayoutSave(observability.LayoutInvalid)
			default:
				metrics.LayoutSave(observability.LayoutError)
			}
			respondError(c, err)
			return
		}
		metrics.LayoutSave(observability.LayoutSaved)
		c.JSON(http.StatusOK, datatypes.SaveLayoutResponse{Version: version})
	}
}

// requestScope extracts the caller and the :rootId parameter, writing the
// error response itself when either is unusable.
func requestScope(c *gin.Context) (entity.Caller, int64, bool) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return entity.Caller{}, 0, false
	}
	rootID, err := strconv.ParseInt(c.Param("rootId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rootId must be an integer"})
		return entity.Caller{}, 0, false
	}
	return caller, rootID, true
}

// respondError maps core errors onto HTTP statuses. Store failures are
// logged and hidden behind a generic 500.
func respondError(c *gin.Context, err error) {
	var (
		conflict *layout.ConflictError
		invalid  *entity.ValidationError
	)
	switch {
	case errors.As(err, &conflict):
		slog.Debug("layout save conflict",
			"path", c.Request.URL.Path,
			"expected", conflict.Expected,
			"current", conflict.Current)
		c.JSON(http.StatusConflict, datatypes.ConflictResponse{
			Error:           "conflict",
			ExpectedVersion: conflict.Expected,
			CurrentVersion:  conflict.Current,
		})
	case errors.Is(err, entity.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Error(), "field": invalid.Field})
	case errors.Is(err, entity.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, entity.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		slog.Error("request failed",
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
