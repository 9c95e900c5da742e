// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DriftlineAI/driftline/services/query/cache"
	"github.com/DriftlineAI/driftline/services/query/resilience"
)

// healthResponse reports process liveness plus the observable state of
// the shared resilience and cache components. An open breaker does not
// make the service unhealthy; it is reported so operators can see which
// dependency is degraded.
type healthResponse struct {
	Status   string                   `json:"status"`
	Breakers map[string]breakerHealth `json:"breakers"`
	Cache    *cacheHealth             `json:"cache,omitempty"`
}

type breakerHealth struct {
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

type cacheHealth struct {
	Entries int `json:"entries"`
}

// HandleHealth answers GET /health.
func HandleHealth(guards map[string]*resilience.Guard, memCache *cache.MemoryCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := healthResponse{
			Status:   "ok",
			Breakers: make(map[string]breakerHealth, len(guards)),
		}
		for name, guard := range guards {
			stats := guard.Breaker.Stats()
			resp.Breakers[name] = breakerHealth{
				State:    stats.State,
				Failures: stats.Failures,
			}
		}
		if memCache != nil {
			stats := memCache.GetStats()
			resp.Cache = &cacheHealth{Entries: stats.Size}
		}
		c.JSON(http.StatusOK, resp)
	}
}
