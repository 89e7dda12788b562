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
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRouter/services/router"
)

// withRouter loads configuration, builds a router and passes it to fn. The
// router is closed afterwards.
func withRouter(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, rt *router.Router, p *printer) error) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	rt, err := router.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	return fn(ctx, rt, newPrinter(cmd.OutOrStdout(), opts.jsonOutput))
}

func newSelectCmd(opts *globalOptions) *cobra.Command {
	var explain bool
	cmd := &cobra.Command{
		Use:   "select <message>",
		Short: "Select tools for a message",
		Long: `Warms the exemplar index (from the vector cache when it is current) and
prints the tools selected for the message with their similarity scores.`,
		Example: `  router select "search for the latest kubernetes release"
  router select "hi, how are you?" --explain`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			return withRouter(cmd, opts, func(ctx context.Context, rt *router.Router, p *printer) error {
				if _, err := rt.Warm(ctx); err != nil {
					return fmt.Errorf("warm exemplar index: %w", err)
				}
				return p.decision(rt.Decide(ctx, message), explain)
			})
		},
	}
	cmd.Flags().BoolVar(&explain, "explain", false, "Show the decision reason, negative score and candidates")
	return cmd
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <tool> <message>",
		Short: "Extract parameters from a message and run one tool",
		Example: `  router run google_search "search for gopher plush toys"
  router run get_page "read https://go.dev/doc/effective_go"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tool, message := args[0], strings.Join(args[1:], " ")
			return withRouter(cmd, opts, func(ctx context.Context, rt *router.Router, p *printer) error {
				out := rt.RunTool(ctx, tool, message)
				if err := p.outcome(out); err != nil {
					return err
				}
				return out.Err()
			})
		},
	}
}

func newToolsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "tools",
		Aliases: []string{"ls"},
		Short:   "List the registered tools and their parameters",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRouter(cmd, opts, func(_ context.Context, rt *router.Router, p *printer) error {
				return p.tools(rt.ListTools())
			})
		},
	}
}

func newCacheCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or invalidate the vector cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether the persisted stores match the current corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRouter(cmd, opts, func(ctx context.Context, rt *router.Router, p *printer) error {
				return p.cacheStatus(rt.CacheStatus(ctx))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:       "invalidate [prefix...]",
		Short:     "Delete persisted stores (both tool and negative when no prefix is given)",
		ValidArgs: []string{"tool", "negative"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRouter(cmd, opts, func(ctx context.Context, rt *router.Router, p *printer) error {
				if err := rt.InvalidateCache(ctx, args...); err != nil {
					return err
				}
				return p.cacheStatus(rt.CacheStatus(ctx))
			})
		},
	})
	return cmd
}
