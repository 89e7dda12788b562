// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianRouter/services/router"
	"github.com/AleutianAI/AleutianRouter/services/router/registry"
	"github.com/AleutianAI/AleutianRouter/services/router/routing"
	"github.com/AleutianAI/AleutianRouter/services/router/vectorcache"
)

var (
	styleGray  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleGreen = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleBold  = lipgloss.NewStyle().Bold(true)
	styleCyan  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	styleError = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// printer renders command results as styled text or JSON.
type printer struct {
	w     io.Writer
	json  bool
	color bool
}

// newPrinter styles output only when w is a terminal.
func newPrinter(w io.Writer, jsonOutput bool) *printer {
	return &printer{w: w, json: jsonOutput, color: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) encode(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) decision(d routing.Decision, explain bool) error {
	if p.json {
		if explain {
			return p.encode(d)
		}
		return p.encode(d.Selections)
	}
	if len(d.Selections) == 0 {
		p.printf("%s\n", p.style(styleGray, "No tools selected ("+string(d.Reason)+")"))
	}
	for _, s := range d.Selections {
		p.printf("%s  %s\n", p.style(styleCyan, fmt.Sprintf("%-20s", s.Tool)), formatScore(s.Score))
	}
	if !explain {
		return nil
	}
	p.printf("\n%s %s\n", p.style(styleBold, "Reason:"), d.Reason)
	if d.MaxNegative != nil {
		p.printf("%s %s\n", p.style(styleBold, "Max negative:"), formatScore(*d.MaxNegative))
	}
	if len(d.Candidates) > 0 {
		p.printf("%s\n", p.style(styleBold, "Candidates:"))
		for _, c := range d.Candidates {
			p.printf("  %-20s  %s\n", c.Tool, formatScore(c.Score))
		}
	}
	if d.Error != "" {
		p.printf("%s %s\n", p.style(styleError, "Error:"), d.Error)
	}
	p.printf("%s\n", p.style(styleGray, "took "+d.Duration.Round(time.Microsecond).String()))
	return nil
}

func (p *printer) outcome(out registry.Outcome) error {
	if p.json {
		return p.encode(out)
	}
	if !out.OK() {
		p.printf("%s %s: %s\n", p.style(styleError, "✗"), out.Tool, out.Error)
		for _, v := range out.ValidationErrors {
			p.printf("  - %s\n", v)
		}
		return nil
	}
	p.printf("%s %s %s\n", p.style(styleGreen, "✓"), out.Tool, p.style(styleGray, out.Duration.Round(time.Millisecond).String()))
	p.printf("%s %s\n", p.style(styleBold, "Params:"), formatParams(out.Params))
	switch r := out.Result.(type) {
	case string:
		p.printf("%s\n", r)
	default:
		raw, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		p.printf("%s\n", raw)
	}
	return nil
}

func (p *printer) tools(list []registry.ToolInfo) error {
	if p.json {
		return p.encode(list)
	}
	p.printf("Registered tools (%d):\n\n", len(list))
	for _, t := range list {
		p.printf("  %s\n", p.style(styleCyan, t.Name))
		if t.Description != "" {
			p.printf("    %s\n", t.Description)
		}
		names := make([]string, 0, len(t.Parameters))
		for name := range t.Parameters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			spec := t.Parameters[name]
			req := ""
			if spec.Required {
				req = " " + p.style(styleBold, "required")
			}
			p.printf("    %s %s%s\n", name, p.style(styleGray, string(spec.Type)), req)
		}
		p.printf("\n")
	}
	return nil
}

func (p *printer) cacheStatus(st router.CacheStatus) error {
	if p.json {
		return p.encode(st)
	}
	p.printf("%s %s\n", p.style(styleBold, "Backend:"), st.Backend)
	p.printf("%s %s\n", p.style(styleBold, "Model:"), st.Model)
	p.printf("%s %d exemplars, %d negatives, %d tools\n", p.style(styleBold, "Index:"), st.Exemplars, st.Negatives, len(st.Tools))
	if len(st.Prefixes) == 0 {
		p.printf("%s\n", p.style(styleGray, "Nothing is persisted."))
		return nil
	}
	p.printf("\n")
	for _, s := range st.Prefixes {
		p.printf("  %-10s %s\n", s.Prefix, p.prefixState(s))
	}
	return nil
}

func (p *printer) prefixState(s vectorcache.Status) string {
	switch {
	case !s.Exists:
		return p.style(styleGray, "absent")
	case !s.Valid:
		return p.style(styleError, "stale") + fmt.Sprintf("  %s, built %s", formatBytes(s.Bytes), s.Metadata.CreatedAt.Format(time.RFC3339))
	default:
		return p.style(styleGreen, "valid") + fmt.Sprintf("  %d entries, %s, built %s",
			s.Metadata.Entries, formatBytes(s.Bytes), s.Metadata.CreatedAt.Format(time.RFC3339))
	}
}

func formatScore(score float64) string {
	return fmt.Sprintf("%.4f", score)
}

func formatParams(params registry.Params) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, params[k])
	}
	return strings.Join(parts, " ")
}

func formatBytes(n int64) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/1024/1024)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
