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
	"strconv"

	"github.com/AleutianAI/workgraph/services/workgraph/entity"
	"github.com/AleutianAI/workgraph/services/workgraph/graph"
	"github.com/AleutianAI/workgraph/services/workgraph/storage/sqlite"
	"github.com/spf13/cobra"
)

var (
	graphTeam int64
	graphUser int64
)

var graphCmd = &cobra.Command{
	Use:   "graph <rootId>",
	Short: "Print the assembled graph of a request as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rootID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("rootId must be an integer: %w", err)
		}
		store, err := sqlite.Open(sqlite.Config{Path: cfg.SQLitePath()})
		if err != nil {
			return err
		}
		defer store.Close()

		caller := entity.Caller{UserID: graphUser, TeamID: graphTeam}
		return printGraph(cmd.Context(), cmd.OutOrStdout(), store, caller, rootID)
	},
}

func init() {
	graphCmd.Flags().Int64Var(&graphTeam, "team", 1, "team the request belongs to")
	graphCmd.Flags().Int64Var(&graphUser, "user", 1, "user to assemble as")
}

func printGraph(ctx context.Context, w io.Writer, store entity.Store, caller entity.Caller, rootID int64) error {
	g, err := graph.NewAssembler(store, graph.WithRefConcurrency(cfg.Graph.RefConcurrency)).Assemble(ctx, caller, rootID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(g)
}
