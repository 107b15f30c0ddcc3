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
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTenancy/pkg/ux"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
)

// operator returns the audit actor for CLI actions.
func operator(flag string) string {
	if flag != "" {
		return flag
	}
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}

func (c *cli) tenantCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Create, inspect and transition tenants",
	}
	cmd.PersistentFlags().StringVar(&actor, "actor", "", "actor recorded in the audit chain (default cli:$USER)")

	create := &cobra.Command{
		Use:   "create <slug>",
		Short: "Register a PENDING tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				t, err := a.tenants.Create(ctx, args[0], operator(actor))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every tenant including tombstones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				tenants, err := a.tenants.List(ctx)
				if err != nil {
					return err
				}
				out := ux.NewPrinter(cmd.OutOrStdout())
				rows := make([][]string, 0, len(tenants))
				for _, t := range tenants {
					rows = append(rows, []string{
						t.ID,
						t.Slug,
						out.Status(string(t.Status)),
						t.UpdatedAt.Format(time.RFC3339),
					})
				}
				return out.Table([]string{"ID", "SLUG", "STATUS", "UPDATED"}, rows)
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				t, err := a.tenants.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}

	provision := &cobra.Command{
		Use:   "provision <id>",
		Short: "Create the tenant namespace and activate the tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				t, err := a.tenants.Provision(ctx, args[0], operator(actor))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}

	var reason string
	transition := &cobra.Command{
		Use:   "transition <id> <status>",
		Short: "Move a tenant to another lifecycle state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := datatypes.TenantStatus(strings.ToUpper(args[1]))
			if !target.Valid() {
				return fmt.Errorf("unknown status %q", args[1])
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				t, err := a.tenants.Transition(ctx, args[0], target, operator(actor), reason)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}
	transition.Flags().StringVar(&reason, "reason", "", "reason recorded with the transition")

	cmd.AddCommand(create, list, get, provision, transition)
	return cmd
}
