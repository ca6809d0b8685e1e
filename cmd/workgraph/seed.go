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
	"io"

	"github.com/AleutianAI/workgraph/services/workgraph/entity"
	"github.com/AleutianAI/workgraph/services/workgraph/linker"
	"github.com/AleutianAI/workgraph/services/workgraph/storage/sqlite"
	"github.com/spf13/cobra"
)

var seedTeam int64

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create a demo request graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := sqlite.Open(sqlite.Config{Path: cfg.SQLitePath()})
		if err != nil {
			return err
		}
		defer store.Close()

		rootID, err := seedDemo(cmd.Context(), store, seedTeam)
		if err != nil {
			return err
		}
		return reportSeed(cmd.OutOrStdout(), rootID, seedTeam)
	},
}

func init() {
	seedCmd.Flags().Int64Var(&seedTeam, "team", 1, "team to seed")
}

// seedDemo creates two users, a request, two tasks and their children
// through the linker so every cross reference is written as in production.
func seedDemo(ctx context.Context, store *sqlite.Store, teamID int64) (int64, error) {
	owner, err := store.CreateUser(ctx, teamID, "Demo Owner")
	if err != nil {
		return 0, err
	}
	if _, err := store.CreateUser(ctx, teamID, "Demo Reviewer"); err != nil {
		return 0, err
	}

	root, err := store.Gateway(entity.KindRequest).Create(ctx, entity.Draft{
		TeamID:     teamID,
		Title:      "Checkout redesign",
		CreatedBy:  owner,
		AssigneeID: owner,
	})
	if err != nil {
		return 0, fmt.Errorf("creating root: %w", err)
	}

	caller := entity.Caller{UserID: owner, TeamID: teamID}
	l := linker.NewLinker(store)
	add := func(parent entity.Kind, parentID int64, item entity.Kind, title string) (int64, error) {
		res, err := l.CreateItem(ctx, caller, linker.CreateItemRequest{
			RootID:     root.ID,
			ParentKind: parent.String(),
			ParentID:   parentID,
			ItemKind:   item.String(),
			Title:      title,
		})
		if err != nil {
			return 0, fmt.Errorf("creating %s %q: %w", item, title, err)
		}
		return res.Node.EntityID, nil
	}

	cart, err := add(entity.KindRequest, root.ID, entity.KindTask, "Rebuild cart page")
	if err != nil {
		return 0, err
	}
	payment, err := add(entity.KindRequest, root.ID, entity.KindTask, "Add wallet payments")
	if err != nil {
		return 0, err
	}

	items := []struct {
		parent   entity.Kind
		parentID int64
		kind     entity.Kind
		title    string
	}{
		{entity.KindTask, cart, entity.KindScenario, "Guest adds item to cart"},
		{entity.KindTask, cart, entity.KindDeployment, "Cart canary"},
		{entity.KindTask, payment, entity.KindScenario, "Pay with saved wallet"},
		{entity.KindRequest, root.ID, entity.KindScenario, "End-to-end checkout"},
		{entity.KindRequest, root.ID, entity.KindDeployment, "Full rollout"},
	}
	for _, it := range items {
		if _, err := add(it.parent, it.parentID, it.kind, it.title); err != nil {
			return 0, err
		}
	}
	return root.ID, nil
}

func reportSeed(w io.Writer, rootID, teamID int64) error {
	_, err := fmt.Fprintf(w, "seeded request %d for team %d\nview it with: workgraph graph %d --team %d\n",
		rootID, teamID, rootID, teamID)
	return err
}
