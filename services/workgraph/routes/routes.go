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
	"github.com/AleutianAI/workgraph/pkg/extensions"
	"github.com/AleutianAI/workgraph/services/workgraph/handlers"
	"github.com/AleutianAI/workgraph/services/workgraph/middleware"
	"github.com/AleutianAI/workgraph/services/workgraph/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the components the routes dispatch to.
type Dependencies struct {
	Assembler handlers.GraphAssembler
	Linker    handlers.ItemCreator
	Layouts   handlers.LayoutStore
	Roots     handlers.RootChecker
	Live      *handlers.Live
	Metrics   *observability.Metrics
	Gatherer  prometheus.Gatherer
	Options   extensions.ServiceOptions
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HealthCheck)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	provider := deps.Options.AuthProvider
	if provider == nil {
		provider = &extensions.NopAuthProvider{}
	}

	// API version 1 group. Only the WebSocket route accepts the token as
	// a query parameter.
	v1 := router.Group("/v1")
	{
		docs := v1.Group("/documents/:rootId", middleware.AuthMiddleware(provider))
		{
			docs.GET("/graph", handlers.GetGraph(deps.Assembler))
			docs.POST("/items", handlers.CreateItem(deps.Linker, deps.Metrics))
			docs.GET("/layout", handlers.GetLayout(deps.Roots, deps.Layouts))
			docs.PUT("/layout", handlers.SaveLayout(deps.Roots, deps.Layouts, deps.Metrics))
		}
		v1.GET("/ws",
			middleware.AuthMiddleware(provider, middleware.AllowQueryToken()),
			handlers.HandleLiveWebSocket(deps.Live))
	}
}
