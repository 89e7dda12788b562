// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchDef(h Handler) ToolDefinition {
	if h == nil {
		h = func(_ context.Context, p Params) (any, error) {
			return map[string]any{"query": p.String("query"), "n": p.Int("num_results", 0)}, nil
		}
	}
	return ToolDefinition{
		Name:        "search",
		Description: "Search the web",
		Parameters: map[string]ParamSpec{
			"query":       {Type: TypeString, Required: true, Description: "Search terms"},
			"num_results": {Type: TypeInt, Default: 10},
			"safe":        {Type: TypeBool},
		},
		Handler: h,
	}
}

func TestRegister_Rejects(t *testing.T) {
	noop := func(context.Context, Params) (any, error) { return nil, nil }
	tests := []struct {
		name string
		def  ToolDefinition
	}{
		{"empty name", ToolDefinition{Handler: noop}},
		{"bad name", ToolDefinition{Name: "a b", Handler: noop}},
		{"nil handler", ToolDefinition{Name: "x"}},
		{"bad type", ToolDefinition{Name: "x", Handler: noop, Parameters: map[string]ParamSpec{"p": {Type: "list"}}}},
		{"unnamed param", ToolDefinition{Name: "x", Handler: noop, Parameters: map[string]ParamSpec{"": {Type: TypeString}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(nil)
			err := r.Register(tt.def)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidDefinition))
			assert.Empty(t, r.List())
		})
	}
}

func TestRegister_OverwriteLastWins(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(searchDef(func(context.Context, Params) (any, error) { return "first", nil })))
	require.NoError(t, r.Register(searchDef(func(context.Context, Params) (any, error) { return "second", nil })))

	assert.Len(t, r.List(), 1)
	out := r.Execute(context.Background(), "search", map[string]any{"query": "q"})
	require.True(t, out.OK(), out.Error)
	assert.Equal(t, "second", out.Result)
}

func TestRegister_CopiesParameters(t *testing.T) {
	r := New(nil)
	def := searchDef(nil)
	require.NoError(t, r.Register(def))
	def.Parameters["extra"] = ParamSpec{Type: TypeString, Required: true}

	_, problems := r.Validate("search", map[string]any{"query": "q"})
	assert.Empty(t, problems)
}

func TestUnregister(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(searchDef(nil)))

	assert.True(t, r.Unregister("search"))
	assert.False(t, r.Unregister("search"))
	assert.False(t, r.Has("search"))

	out := r.Execute(context.Background(), "search", map[string]any{"query": "q"})
	assert.Equal(t, KindToolNotFound, out.ErrorKind)
}

func TestListAndInfo(t *testing.T) {
	r := New(nil)
	noop := func(context.Context, Params) (any, error) { return nil, nil }
	require.NoError(t, r.Register(ToolDefinition{Name: "zeta", Handler: noop}))
	require.NoError(t, r.Register(searchDef(nil)))
	require.NoError(t, r.Register(ToolDefinition{Name: "alpha", Handler: noop}))

	var names []string
	for _, info := range r.List() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"alpha", "search", "zeta"}, names)
	assert.Equal(t, names, r.Names())

	info, ok := r.Info("search")
	require.True(t, ok)
	assert.Equal(t, "Search the web", info.Description)
	assert.Equal(t, []string{"query"}, info.Required)
	assert.Len(t, info.Parameters, 3)

	_, ok = r.Info("missing")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(searchDef(nil)))

	tests := []struct {
		name     string
		raw      map[string]any
		want     Params
		problems []string
	}{
		{
			name: "defaults applied and unknown dropped",
			raw:  map[string]any{"query": "golang", "bogus": 1},
			want: Params{"query": "golang", "num_results": 10},
		},
		{
			name: "string coerced to int",
			raw:  map[string]any{"query": "x", "num_results": "5", "safe": "yes"},
			want: Params{"query": "x", "num_results": 5, "safe": true},
		},
		{
			name: "float truncated to int",
			raw:  map[string]any{"query": "x", "num_results": 3.9},
			want: Params{"query": "x", "num_results": 3},
		},
		{
			name:     "missing required",
			raw:      map[string]any{"num_results": 5},
			problems: []string{"Required parameter 'query' is missing"},
		},
		{
			name:     "null required",
			raw:      map[string]any{"query": nil},
			problems: []string{"Required parameter 'query' is missing"},
		},
		{
			name: "all problems collected",
			raw:  map[string]any{"num_results": "ten", "safe": "maybe"},
			problems: []string{
				"Parameter 'num_results' must be of type int",
				"Required parameter 'query' is missing",
				"Parameter 'safe' must be of type bool",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, problems := r.Validate("search", tt.raw)
			if tt.problems != nil {
				assert.Nil(t, got)
				assert.Equal(t, tt.problems, problems)
				return
			}
			assert.Empty(t, problems)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate_UnknownTool(t *testing.T) {
	r := New(nil)
	got, problems := r.Validate("nope", nil)
	assert.Nil(t, got)
	assert.Equal(t, []string{"Tool 'nope' not found"}, problems)
}

func TestExecute_Success(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(searchDef(nil)))

	out := r.Execute(context.Background(), "search", map[string]any{"query": "cats", "num_results": "3"})
	require.True(t, out.OK(), out.Error)
	assert.NoError(t, out.Err())
	assert.NotEmpty(t, out.ExecutionID)
	assert.Equal(t, "search", out.Tool)
	assert.Equal(t, map[string]any{"query": "cats", "n": 3}, out.Result)
	assert.Equal(t, Params{"query": "cats", "num_results": 3}, out.Params)
	assert.Positive(t, int64(out.Duration))
}

func TestExecute_NotFoundNeverInvokes(t *testing.T) {
	r := New(nil)
	out := r.Execute(context.Background(), "os.system", map[string]any{"cmd": "rm -rf /"})
	assert.Equal(t, StatusFailure, out.Status)
	assert.Equal(t, KindToolNotFound, out.ErrorKind)
	assert.Equal(t, "Tool 'os.system' not found", out.Error)
	assert.True(t, errors.Is(out.Err(), ErrToolNotFound))
}

func TestExecute_ValidationSkipsHandler(t *testing.T) {
	called := false
	r := New(nil)
	require.NoError(t, r.Register(searchDef(func(context.Context, Params) (any, error) {
		called = true
		return nil, nil
	})))

	out := r.Execute(context.Background(), "search", map[string]any{})
	assert.False(t, called)
	assert.Equal(t, KindValidation, out.ErrorKind)
	assert.Equal(t, []string{"Required parameter 'query' is missing"}, out.ValidationErrors)

	var verr *ValidationError
	require.ErrorAs(t, out.Err(), &verr)
	assert.Equal(t, "search", verr.Tool)
}

func TestExecute_HandlerError(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(searchDef(func(context.Context, Params) (any, error) {
		return nil, errors.New("quota exceeded")
	})))

	out := r.Execute(context.Background(), "search", map[string]any{"query": "q"})
	assert.Equal(t, KindExecution, out.ErrorKind)
	assert.Equal(t, "quota exceeded", out.Error)
	assert.Nil(t, out.Result)
}

func TestExecute_PanicIsolated(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(searchDef(func(context.Context, Params) (any, error) {
		var m map[string]int
		m["boom"] = 1
		return nil, nil
	})))

	var out Outcome
	require.NotPanics(t, func() {
		out = r.Execute(context.Background(), "search", map[string]any{"query": "q"})
	})
	assert.Equal(t, KindExecution, out.ErrorKind)
	assert.Contains(t, out.Error, "handler panic")

	// The registry stays usable.
	assert.True(t, r.Has("search"))
}

func TestExecute_UniqueIDs(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(searchDef(nil)))

	var (
		mu  sync.Mutex
		ids = map[string]bool{}
		wg  sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := r.Execute(context.Background(), "search", map[string]any{"query": "q"})
			mu.Lock()
			ids[out.ExecutionID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 20)
}
