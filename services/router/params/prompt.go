// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package params

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianRouter/services/router/registry"
)

// DefaultSystemPrompt frames the model as a JSON extractor.
const DefaultSystemPrompt = "You are a parameter extraction assistant. Extract parameters from user messages and return them as JSON."

// buildPrompt renders the user turn for one extraction.
func buildPrompt(message string, def registry.ToolDefinition) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Extract parameters for the '%s' tool from this user message:\n\n", def.Name)
	fmt.Fprintf(&sb, "User message: %q\n\n", message)
	sb.WriteString("Parameters:\n")
	sb.WriteString(formatSchema(def))
	sb.WriteString(`

Instructions:
1. Read the user message and extract a value for each parameter.
2. Respond with ONLY a JSON object keyed by parameter name.
3. Use null for any parameter the message does not provide.

Example response:
{"param1": "value", "param2": null}

Extracted parameters (JSON only):`)
	return sb.String()
}

// formatSchema lists one parameter per line:
//
//	- name (type, required|optional): description (default: X)
func formatSchema(def registry.ToolDefinition) string {
	lines := make([]string, 0, len(def.Parameters))
	for _, name := range def.ParamNames() {
		spec := def.Parameters[name]
		req := "optional"
		if spec.Required {
			req = "required"
		}
		line := fmt.Sprintf("- %s (%s, %s)", name, spec.Type, req)
		if spec.Description != "" {
			line += ": " + spec.Description
		}
		if spec.Default != nil {
			line += fmt.Sprintf(" (default: %v)", spec.Default)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
