// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DriftlineAI/driftline/services/query/cache"
	"github.com/DriftlineAI/driftline/services/query/handlers"
	"github.com/DriftlineAI/driftline/services/query/pipeline"
	"github.com/DriftlineAI/driftline/services/query/resilience"
)

// SetupRoutes registers all HTTP routes on the router.
func SetupRoutes(router *gin.Engine, p *pipeline.Pipeline,
	guards map[string]*resilience.Guard, memCache *cache.MemoryCache) {

	router.GET("/health", handlers.HandleHealth(guards, memCache))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/query", handlers.HandleQuery(p))
	}
}
