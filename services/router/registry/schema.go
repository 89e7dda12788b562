// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry holds tool definitions and executes them with validated
// parameters.
//
// Tools are resolved only through the registry map. A name that is not
// registered is a tool_not_found failure; nothing else is ever invoked.
package registry

import (
	"context"
	"errors"
	"sort"
)

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeInt    ParamType = "int"
	TypeFloat  ParamType = "float"
	TypeBool   ParamType = "bool"
)

// Valid reports whether t is one of the supported types.
func (t ParamType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool:
		return true
	}
	return false
}

// ParamSpec declares one tool parameter.
type ParamSpec struct {
	Type        ParamType `json:"type" yaml:"type"`
	Required    bool      `json:"required" yaml:"required"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// Params maps parameter names to typed values.
type Params map[string]any

// String returns p[name] as a string, or "" if absent or not a string.
func (p Params) String(name string) string {
	s, _ := p[name].(string)
	return s
}

// Int returns p[name] as an int, or def if absent or not an int.
func (p Params) Int(name string, def int) int {
	if n, ok := p[name].(int); ok {
		return n
	}
	return def
}

// Handler executes a tool. params have already been validated against the
// tool's schema.
type Handler func(ctx context.Context, params Params) (any, error)

// ToolDefinition describes a registered tool.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]ParamSpec
	Handler     Handler

	// Exemplars are optional routing phrases added to the similarity index
	// when the tool is registered through the router.
	Exemplars []string
}

// ParamNames returns the parameter names in sorted order.
func (d ToolDefinition) ParamNames() []string {
	names := make([]string, 0, len(d.Parameters))
	for name := range d.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiredParams returns the required parameter names in sorted order.
func (d ToolDefinition) RequiredParams() []string {
	var names []string
	for _, name := range d.ParamNames() {
		if d.Parameters[name].Required {
			names = append(names, name)
		}
	}
	return names
}

// ToolInfo is the public description of a registered tool.
type ToolInfo struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]ParamSpec `json:"parameters"`
	Required    []string             `json:"required_parameters"`
}

var (
	// ErrToolNotFound is returned for names absent from the registry.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidDefinition is returned by Register for malformed definitions.
	ErrInvalidDefinition = errors.New("invalid tool definition")
)
