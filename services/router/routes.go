// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all router endpoints.
//
// Description:
//
//	Registers the /v1/router/* endpoints with the given Gin router group.
//	Selection and execution endpoints sit behind the warm-up guard;
//	management and health endpoints are always available.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Selection Endpoints (guarded):
//
//	POST /v1/router/select - Select tools for a message (?explain=true)
//	POST /v1/router/run - Extract parameters and run one tool
//	POST /v1/router/route - Select tools and run each of them
//
// Management Endpoints:
//
//	GET    /v1/router/tools - List registered tools
//	DELETE /v1/router/tools/:name - Unregister a tool
//	GET    /v1/router/cache - Vector cache status
//	POST   /v1/router/cache/invalidate - Invalidate stores and rebuild
//	POST   /v1/router/reload - Rebuild the index from the current corpus
//
// Health Endpoints:
//
//	GET /v1/router/health - Health check
//	GET /v1/router/ready - Readiness check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	r := rg.Group("/router")
	{
		guarded := r.Group("", handlers.WarmupGuard())
		{
			guarded.POST("/select", handlers.HandleSelect)
			guarded.POST("/run", handlers.HandleRun)
			guarded.POST("/route", handlers.HandleRoute)
		}

		r.GET("/tools", handlers.HandleListTools)
		r.DELETE("/tools/:name", handlers.HandleUnregisterTool)

		r.GET("/cache", handlers.HandleCacheStatus)
		r.POST("/cache/invalidate", handlers.HandleInvalidateCache)
		r.POST("/reload", handlers.HandleReload)

		r.GET("/health", handlers.HandleHealth)
		r.GET("/ready", handlers.HandleReady)
	}
}
