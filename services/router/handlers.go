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
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianRouter/services/router/registry"
	"github.com/AleutianAI/AleutianRouter/services/router/routing"
	"github.com/AleutianAI/AleutianRouter/services/router/vectorcache"
)

// =============================================================================
// Request and response types
// =============================================================================

// SelectRequest is the body of POST /v1/router/select and /v1/router/route.
type SelectRequest struct {
	Message string `json:"message" binding:"required"`
}

// SelectResponse is the body returned by POST /v1/router/select.
type SelectResponse struct {
	Selections []routing.Selection `json:"selections"`

	// Decision is present when the request asked for ?explain=true.
	Decision *routing.Decision `json:"decision,omitempty"`
}

// RunRequest is the body of POST /v1/router/run.
type RunRequest struct {
	Tool    string `json:"tool" binding:"required"`
	Message string `json:"message" binding:"required"`
}

// RouteResponse is the body returned by POST /v1/router/route.
type RouteResponse struct {
	Selections []routing.Selection `json:"selections"`
	Outcomes   []registry.Outcome  `json:"outcomes"`
}

// ToolsResponse is the body returned by GET /v1/router/tools.
type ToolsResponse struct {
	Tools []registry.ToolInfo `json:"tools"`
	Count int                 `json:"count"`
}

// InvalidateRequest optionally names the prefixes to invalidate.
type InvalidateRequest struct {
	Prefixes []string `json:"prefixes"`
}

// WarmResponse reports a rebuild of the similarity index.
type WarmResponse struct {
	Warm   bool               `json:"warm"`
	Report routing.WarmReport `json:"report"`
	Error  string             `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// =============================================================================
// Handlers
// =============================================================================

// Handlers serves the router HTTP API.
//
// # Thread Safety
//
// Safe for concurrent use.
type Handlers struct {
	router     *Router
	retryAfter time.Duration
	logger     *slog.Logger
}

// NewHandlers creates handlers for r. retryAfter is advertised on 503
// responses while the index warms; zero means 5s.
func NewHandlers(r *Router, retryAfter time.Duration, logger *slog.Logger) *Handlers {
	if retryAfter <= 0 {
		retryAfter = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{router: r, retryAfter: retryAfter, logger: logger}
}

// requestLogger returns a logger tagged with a request ID, taken from the
// X-Request-ID header or generated.
func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return h.logger.With(slog.String("request_id", requestID), slog.String("handler", handler))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid request body",
		Code:    "INVALID_REQUEST",
		Message: err.Error(),
	})
}

// HandleSelect handles POST /v1/router/select.
//
// Query Parameters:
//
//	explain: "true" includes the Decision diagnostics.
//
// Response:
//
//	200 OK: SelectResponse
//	400 Bad Request: Missing message
func (h *Handlers) HandleSelect(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSelect")

	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	d := h.router.Decide(c.Request.Context(), req.Message)
	logger.Debug("router: selection",
		slog.String("reason", string(d.Reason)),
		slog.Int("selected", len(d.Selections)))

	resp := SelectResponse{Selections: d.Selections}
	if explain, _ := strconv.ParseBool(c.Query("explain")); explain {
		resp.Decision = &d
	}
	c.JSON(http.StatusOK, resp)
}

// HandleRun handles POST /v1/router/run.
//
// Response:
//
//	200 OK: registry.Outcome, success or execution failure
//	404 Not Found: Outcome with error_kind tool_not_found
//	422 Unprocessable Entity: Outcome with error_kind validation
func (h *Handlers) HandleRun(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRun")

	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	out := h.router.RunTool(c.Request.Context(), req.Tool, req.Message)
	if !out.OK() {
		logger.Info("router: tool run failed",
			slog.String("tool", req.Tool),
			slog.String("error_kind", string(out.ErrorKind)),
			slog.String("error", out.Error))
	}
	c.JSON(outcomeStatus(out), out)
}

func outcomeStatus(out registry.Outcome) int {
	switch out.ErrorKind {
	case registry.KindToolNotFound:
		return http.StatusNotFound
	case registry.KindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusOK
	}
}

// HandleRoute handles POST /v1/router/route: selection followed by
// execution of every selected tool.
func (h *Handlers) HandleRoute(c *gin.Context) {
	_ = h.requestLogger(c, "HandleRoute")

	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res := h.router.Route(c.Request.Context(), req.Message)
	c.JSON(http.StatusOK, RouteResponse{Selections: res.Decision.Selections, Outcomes: res.Outcomes})
}

// HandleListTools handles GET /v1/router/tools.
func (h *Handlers) HandleListTools(c *gin.Context) {
	list := h.router.ListTools()
	c.JSON(http.StatusOK, ToolsResponse{Tools: list, Count: len(list)})
}

// HandleUnregisterTool handles DELETE /v1/router/tools/:name.
func (h *Handlers) HandleUnregisterTool(c *gin.Context) {
	logger := h.requestLogger(c, "HandleUnregisterTool")
	name := c.Param("name")
	if !h.router.UnregisterTool(name) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: fmt.Sprintf("Tool '%s' not found", name),
			Code:  "TOOL_NOT_FOUND",
		})
		return
	}
	logger.Info("router: tool unregistered", slog.String("tool", name))
	c.Status(http.StatusNoContent)
}

// HandleCacheStatus handles GET /v1/router/cache.
func (h *Handlers) HandleCacheStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.router.CacheStatus(c.Request.Context()))
}

// HandleInvalidateCache handles POST /v1/router/cache/invalidate.
//
// Description:
//
//	Deletes the persisted stores (both when the body names none) and
//	rebuilds the index from the provider.
func (h *Handlers) HandleInvalidateCache(c *gin.Context) {
	logger := h.requestLogger(c, "HandleInvalidateCache")

	var req InvalidateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if err := h.router.InvalidateCache(c.Request.Context(), req.Prefixes...); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, vectorcache.ErrInvalidPrefix) {
			code = http.StatusBadRequest
		}
		logger.Warn("router: cache invalidation failed", slog.String("error", err.Error()))
		c.JSON(code, ErrorResponse{Error: err.Error(), Code: "CACHE_INVALIDATE_FAILED"})
		return
	}
	h.respondWarm(c)
}

// HandleReload handles POST /v1/router/reload.
func (h *Handlers) HandleReload(c *gin.Context) {
	_ = h.requestLogger(c, "HandleReload")
	h.respondWarm(c)
}

func (h *Handlers) respondWarm(c *gin.Context) {
	report, err := h.router.Warm(c.Request.Context())
	resp := WarmResponse{Warm: h.router.Ready(), Report: report}
	if err != nil {
		resp.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleHealth handles GET /v1/router/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// HandleReady handles GET /v1/router/ready. 503 until the index is warm.
func (h *Handlers) HandleReady(c *gin.Context) {
	exemplars, negatives := h.router.index.Counts()
	body := gin.H{"ready": h.router.Ready(), "exemplars": exemplars, "negatives": negatives}
	if !h.router.Ready() {
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// =============================================================================
// Warm-up guard
// =============================================================================

// WarmupGuard returns 503 Service Unavailable until the similarity index
// has been warmed.
//
// Description:
//
//	Rejected requests get a Retry-After header and a span carrying the
//	inbound trace context, so clients can correlate the 503 with their
//	traces. The trace ID is echoed in the body.
//
// Thread Safety: This middleware is safe for concurrent use.
func (h *Handlers) WarmupGuard() gin.HandlerFunc {
	retrySeconds := int(math.Ceil(h.retryAfter.Seconds()))
	return func(c *gin.Context) {
		if h.router.Ready() {
			c.Next()
			return
		}

		_, span := otel.Tracer("aleutian.router").Start(c.Request.Context(), "warmup_guard.reject",
			oteltrace.WithAttributes(
				attribute.String("path", c.Request.URL.Path),
				attribute.String("method", c.Request.Method),
				attribute.Int("http.status_code", http.StatusServiceUnavailable),
			),
		)
		defer span.End()

		traceID := ""
		if sc := span.SpanContext(); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		span.SetStatus(codes.Error, "service unavailable during warmup")

		h.logger.Warn("router: request rejected, index warming",
			slog.String("path", c.Request.URL.Path),
			slog.String("method", c.Request.Method),
			slog.String("trace_id", traceID))

		c.Header("Retry-After", strconv.Itoa(retrySeconds))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "Routing index warmup in progress",
			Code:    "SERVICE_WARMING_UP",
			Message: fmt.Sprintf("Tool exemplars are still being embedded. Please retry in %d seconds.", retrySeconds),
			TraceID: traceID,
		})
	}
}
