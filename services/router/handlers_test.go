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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRouter/services/router/registry"
	"github.com/AleutianAI/AleutianRouter/services/router/routing"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(t *testing.T, h *harness) *gin.Engine {
	t.Helper()
	engine := gin.New()
	v1 := engine.Group("/v1")
	RegisterRoutes(v1, NewHandlers(h.router, 3*time.Second, nil))
	return engine
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestHandlers_WarmupGuard(t *testing.T) {
	h := newHarness(t)
	engine := setupTestRouter(t, h)

	for _, path := range []string{"/v1/router/select", "/v1/router/run", "/v1/router/route"} {
		t.Run(path, func(t *testing.T) {
			w := doJSON(t, engine, http.MethodPost, path, RunRequest{Tool: "lookup", Message: "search for cats"})

			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
			assert.Equal(t, "3", w.Header().Get("Retry-After"))

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "SERVICE_WARMING_UP", resp.Code)
		})
	}

	// Management endpoints stay available while cold.
	w := doJSON(t, engine, http.MethodGet, "/v1/router/tools", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, engine, http.MethodGet, "/v1/router/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, engine, http.MethodGet, "/v1/router/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlers_Reload(t *testing.T) {
	h := newHarness(t)
	engine := setupTestRouter(t, h)

	w := doJSON(t, engine, http.MethodPost, "/v1/router/reload", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp WarmResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Warm)
	assert.Equal(t, routing.SourceProvider, resp.Report.Tool.Source)

	w = doJSON(t, engine, http.MethodGet, "/v1/router/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlers_Select(t *testing.T) {
	h := newHarness(t)
	h.warm(t)
	engine := setupTestRouter(t, h)

	t.Run("selections", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodPost, "/v1/router/select", SelectRequest{Message: "search for cats"})
		require.Equal(t, http.StatusOK, w.Code)

		var resp SelectResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Selections, 1)
		assert.Equal(t, "web_search", resp.Selections[0].Tool)
		assert.Nil(t, resp.Decision)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("explain", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodPost, "/v1/router/select?explain=true", SelectRequest{Message: "tell me a joke"})
		require.Equal(t, http.StatusOK, w.Code)

		var resp SelectResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Empty(t, resp.Selections)
		require.NotNil(t, resp.Decision)
		assert.Equal(t, routing.ReasonNegativeGate, resp.Decision.Reason)
	})

	t.Run("missing message", func(t *testing.T) {
		w := doJSON(t, engine, http.MethodPost, "/v1/router/select", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandlers_Run(t *testing.T) {
	h := newHarness(t)
	h.warm(t)
	engine := setupTestRouter(t, h)

	tests := []struct {
		name     string
		req      RunRequest
		wantCode int
		wantKind registry.ErrorKind
	}{
		{
			name:     "success",
			req:      RunRequest{Tool: "lookup", Message: "please check https://example.com/page"},
			wantCode: http.StatusOK,
		},
		{
			name:     "unknown tool",
			req:      RunRequest{Tool: "eval", Message: "1+1"},
			wantCode: http.StatusNotFound,
			wantKind: registry.KindToolNotFound,
		},
		{
			name:     "validation",
			req:      RunRequest{Tool: "lookup", Message: "check the page"},
			wantCode: http.StatusUnprocessableEntity,
			wantKind: registry.KindValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, engine, http.MethodPost, "/v1/router/run", tt.req)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())

			var out registry.Outcome
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
			assert.Equal(t, tt.wantKind, out.ErrorKind)
			assert.Equal(t, tt.req.Tool, out.Tool)
		})
	}
}

func TestHandlers_Route(t *testing.T) {
	h := newHarness(t)
	h.warm(t)
	engine := setupTestRouter(t, h)

	w := doJSON(t, engine, http.MethodPost, "/v1/router/route", SelectRequest{Message: "search for cats"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp RouteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Outcomes, 1)
	assert.Equal(t, registry.StatusSuccess, resp.Outcomes[0].Status)
}

func TestHandlers_ToolManagement(t *testing.T) {
	h := newHarness(t)
	engine := setupTestRouter(t, h)

	w := doJSON(t, engine, http.MethodGet, "/v1/router/tools", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list ToolsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, "lookup", list.Tools[0].Name)

	w = doJSON(t, engine, http.MethodDelete, "/v1/router/tools/lookup", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, engine, http.MethodDelete, "/v1/router/tools/lookup", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "TOOL_NOT_FOUND", resp.Code)
}

func TestHandlers_Cache(t *testing.T) {
	h := newHarness(t)
	h.warm(t)
	engine := setupTestRouter(t, h)

	w := doJSON(t, engine, http.MethodGet, "/v1/router/cache", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st CacheStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "file", st.Backend)
	require.Len(t, st.Prefixes, 2)
	assert.True(t, st.Prefixes[0].Valid)

	w = doJSON(t, engine, http.MethodPost, "/v1/router/cache/invalidate", InvalidateRequest{Prefixes: []string{"a/b"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	calls := h.embedder.calls.Load()
	w = doJSON(t, engine, http.MethodPost, "/v1/router/cache/invalidate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var warm WarmResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &warm))
	assert.True(t, warm.Warm)
	assert.Equal(t, routing.SourceProvider, warm.Report.Tool.Source)
	assert.Greater(t, h.embedder.calls.Load(), calls, "invalidation must force re-embedding")
}
