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
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianBench/pkg/ux"
	"github.com/AleutianAI/AleutianBench/services/bench/regression"
)

func (a *app) newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored reports and check them for regressions",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.historyList(cmd.Context(), limit)
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum reports to list (0 for all)")

	showCmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show a stored report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.historyShow(cmd.Context(), args[0])
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check [ID]",
		Short: "Compare a stored report (default: the newest) with its predecessor",
		Long: `Tests every operation of the report against the report stored just
before it. Exits with status 2 when any operation regressed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return a.historyCheck(cmd.Context(), id)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a stored report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.historyDelete(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(listCmd, showCmd, checkCmd, deleteCmd)
	return cmd
}

func (a *app) historyList(ctx context.Context, limit int) error {
	store, err := a.requireStore()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(ctx, limit)
	if err != nil {
		return err
	}
	if a.jsonOutput {
		if entries == nil {
			entries = []regression.Entry{}
		}
		return writeJSON(a.out, entries)
	}

	p := ux.NewPrinter(a.out)
	if len(entries) == 0 {
		p.Muted("no stored reports")
		return p.Err()
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.ID,
			e.CreatedAt.Local().Format(time.DateTime),
			strconv.Itoa(len(e.Operations)),
			strings.Join(e.Operations, ","),
			formatLabels(e.Labels),
		})
	}
	p.Table([]string{"id", "created", "ops", "operations", "labels"}, rows)
	return p.Err()
}

func (a *app) historyShow(ctx context.Context, id string) error {
	store, err := a.requireStore()
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	return a.reporter().Report(r)
}

func (a *app) historyCheck(ctx context.Context, id string) error {
	store, err := a.requireStore()
	if err != nil {
		return err
	}
	defer store.Close()

	current, err := store.Latest(ctx)
	if id != "" {
		current, err = store.Get(ctx, id)
	}
	if err != nil {
		return err
	}

	entries, err := store.List(ctx, 0)
	if err != nil {
		return err
	}
	baselineID := ""
	for i, e := range entries {
		if e.ID == current.ID && i+1 < len(entries) {
			baselineID = entries[i+1].ID
			break
		}
	}
	if baselineID == "" {
		return fmt.Errorf("report %s: %w", current.ID, regression.ErrNoBaseline)
	}
	baseline, err := store.Get(ctx, baselineID)
	if err != nil {
		return err
	}

	detector, err := a.newDetector()
	if err != nil {
		return err
	}
	result, err := detector.Detect(baseline, current)
	if err != nil {
		return err
	}
	return a.renderRegressions(result)
}

func (a *app) historyDelete(ctx context.Context, id string) error {
	store, err := a.requireStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(ctx, id); err != nil {
		return err
	}
	a.logger.Info("Report deleted", "id", id)
	return nil
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, k+"="+v)
	}
	slices.Sort(parts)
	return strings.Join(parts, ",")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
