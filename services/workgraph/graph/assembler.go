// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph assembles the read-only node/edge view of one root Request.
//
// The graph is derived on every read from the cross-reference tables; it is
// never stored. The walk follows parent -> child references only:
//
//	root ──> tasks ──> scenarios, deployments
//	  └────────────> scenarios, deployments
//
// A record reachable along several paths becomes one node with one edge
// per path.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/workgraph/services/workgraph/entity"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// defaultRefConcurrency bounds parallel per-task ref loads.
const defaultRefConcurrency = 8

// Assembler builds graphs from an entity.Store.
//
// Thread Safety: Safe for concurrent use. Concurrent Assemble calls for the
// same team and root share one walk; each caller gets its own copy. A caller
// whose ctx is cancelled returns ctx.Err() without aborting the walk for the
// others.
type Assembler struct {
	store          entity.Store
	flight         singleflight.Group
	refConcurrency int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithRefConcurrency caps how many task cross-ref lists load in parallel.
func WithRefConcurrency(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.refConcurrency = n
		}
	}
}

// NewAssembler creates an Assembler reading from store.
func NewAssembler(store entity.Store, opts ...Option) *Assembler {
	a := &Assembler{store: store, refConcurrency: defaultRefConcurrency}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble returns the graph rooted at the Request rootID.
//
// # Outputs
//
//   - *entity.Graph: Nodes in walk order (root, tasks, task children, direct
//     children), de-duplicated by node id. Edges de-duplicated by edge id.
//   - error: wraps entity.ErrNotFound when the root is missing or belongs to
//     another team; store failures are returned wrapped.
func (a *Assembler) Assemble(ctx context.Context, caller entity.Caller, rootID int64) (*entity.Graph, error) {
	key := fmt.Sprintf("%d:%d", caller.TeamID, rootID)
	// The shared walk must outlive any single caller's cancellation; each
	// caller still stops waiting when its own ctx ends.
	ch := a.flight.DoChan(key, func() (any, error) {
		return a.assemble(context.WithoutCancel(ctx), caller, rootID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		g := res.Val.(*entity.Graph)
		if res.Shared {
			return g.Clone(), nil
		}
		return g, nil
	}
}

func (a *Assembler) assemble(ctx context.Context, caller entity.Caller, rootID int64) (g *entity.Graph, err error) {
	ctx, span := startAssembleSpan(ctx, caller.TeamID, rootID)
	defer span.End()
	start := time.Now()
	defer func() {
		nodes, edges := 0, 0
		if g != nil {
			nodes, edges = len(g.Nodes), len(g.Edges)
		}
		setAssembleSpanResult(span, nodes, edges, err)
		recordAssembleMetrics(ctx, time.Since(start), nodes, edges, err == nil)
	}()

	root, err := entity.LoadRoot(ctx, a.store, caller, rootID)
	if err != nil {
		return nil, err
	}

	rootRefs, err := a.store.Gateway(entity.KindRequest).ListRefs(ctx, root.ID)
	if err != nil {
		return nil, fmt.Errorf("loading refs of request %d: %w", root.ID, err)
	}
	taskIDs, direct := partition(rootRefs)

	taskMap, err := a.store.Gateway(entity.KindTask).GetMany(ctx, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("loading tasks of request %d: %w", root.ID, err)
	}
	var tasks []*entity.Record
	for _, id := range taskIDs {
		if t, ok := taskMap[id]; ok && t.TeamID == root.TeamID {
			tasks = append(tasks, t)
		}
	}

	taskChildren, err := a.loadTaskChildren(ctx, tasks)
	if err != nil {
		return nil, err
	}

	// Union of every scenario/deployment reachable from root or a task, so
	// each kind is batch loaded once.
	want := map[entity.Kind][]int64{}
	seenWant := map[refKey]bool{}
	addWant := func(r refKey) {
		if !seenWant[r] {
			seenWant[r] = true
			want[r.kind] = append(want[r.kind], r.id)
		}
	}
	for _, children := range taskChildren {
		for _, c := range children {
			addWant(c)
		}
	}
	for _, c := range direct {
		addWant(c)
	}

	leaves := map[refKey]*entity.Record{}
	for _, k := range []entity.Kind{entity.KindScenario, entity.KindDeployment} {
		if len(want[k]) == 0 {
			continue
		}
		recs, err := a.store.Gateway(k).GetMany(ctx, want[k])
		if err != nil {
			return nil, fmt.Errorf("loading %s records of request %d: %w", k, root.ID, err)
		}
		for id, r := range recs {
			if r.TeamID == root.TeamID {
				leaves[refKey{kind: k, id: id}] = r
			}
		}
	}

	names, err := a.resolveAssignees(ctx, root, tasks, leaves)
	if err != nil {
		return nil, err
	}

	b := newBuilder()
	rootNode := b.node(root, names)
	for _, t := range tasks {
		n := b.node(t, names)
		b.edge(rootNode, n)
	}
	for i, t := range tasks {
		parent := entity.NodeID(t.Kind, t.ID)
		for _, c := range taskChildren[i] {
			r, ok := leaves[c]
			if !ok {
				slog.Debug("skipping dangling task ref",
					"task_id", t.ID, "ref_kind", c.kind.String(), "ref_id", c.id)
				continue
			}
			b.edge(parent, b.node(r, names))
		}
	}
	for _, c := range direct {
		r, ok := leaves[c]
		if !ok {
			slog.Debug("skipping dangling request ref",
				"request_id", root.ID, "ref_kind", c.kind.String(), "ref_id", c.id)
			continue
		}
		b.edge(rootNode, b.node(r, names))
	}
	return b.graph(), nil
}

// loadTaskChildren lists each task's scenario/deployment refs in parallel.
// Result i belongs to tasks[i].
func (a *Assembler) loadTaskChildren(ctx context.Context, tasks []*entity.Record) ([][]refKey, error) {
	out := make([][]refKey, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.refConcurrency)
	gw := a.store.Gateway(entity.KindTask)
	for i, t := range tasks {
		g.Go(func() error {
			refs, err := gw.ListRefs(gctx, t.ID)
			if err != nil {
				return fmt.Errorf("loading refs of task %d: %w", t.ID, err)
			}
			_, children := partition(refs)
			out[i] = children
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Assembler) resolveAssignees(ctx context.Context, root *entity.Record, tasks []*entity.Record, leaves map[refKey]*entity.Record) (map[int64]string, error) {
	seen := map[int64]bool{}
	var ids []int64
	add := func(r *entity.Record) {
		if r.AssigneeID > 0 && !seen[r.AssigneeID] {
			seen[r.AssigneeID] = true
			ids = append(ids, r.AssigneeID)
		}
	}
	add(root)
	for _, t := range tasks {
		add(t)
	}
	for _, r := range leaves {
		add(r)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	names, err := a.store.Users().DisplayNames(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolving assignees of request %d: %w", root.ID, err)
	}
	return names, nil
}

type refKey struct {
	kind entity.Kind
	id   int64
}

// partition splits an owner's refs into task ids and scenario/deployment
// refs, keeping stored order and dropping repeats. Refs back to a Request
// are parent pointers and are not walked.
func partition(refs []entity.CrossReference) (taskIDs []int64, children []refKey) {
	seen := map[refKey]bool{}
	for _, r := range refs {
		k := refKey{kind: r.RefKind, id: r.RefID}
		if seen[k] {
			continue
		}
		seen[k] = true
		switch r.RefKind {
		case entity.KindTask:
			taskIDs = append(taskIDs, r.RefID)
		case entity.KindScenario, entity.KindDeployment:
			children = append(children, k)
		case entity.KindRequest, entity.KindUnknown:
		}
	}
	return taskIDs, children
}

// builder accumulates nodes and edges in insertion order without repeats.
type builder struct {
	nodes    []entity.Node
	edges    []entity.Edge
	nodeSeen map[string]bool
	edgeSeen map[string]bool
}

func newBuilder() *builder {
	return &builder{nodeSeen: map[string]bool{}, edgeSeen: map[string]bool{}}
}

// node adds r once and returns its node id.
func (b *builder) node(r *entity.Record, names map[int64]string) string {
	id := entity.NodeID(r.Kind, r.ID)
	if !b.nodeSeen[id] {
		b.nodeSeen[id] = true
		b.nodes = append(b.nodes, entity.NodeFor(r, names[r.AssigneeID]))
	}
	return id
}

func (b *builder) edge(source, target string) {
	e := entity.NewEdge(source, target)
	if !b.edgeSeen[e.EdgeID] {
		b.edgeSeen[e.EdgeID] = true
		b.edges = append(b.edges, e)
	}
}

func (b *builder) graph() *entity.Graph {
	g := &entity.Graph{Nodes: b.nodes, Edges: b.edges}
	if g.Nodes == nil {
		g.Nodes = []entity.Node{}
	}
	if g.Edges == nil {
		g.Edges = []entity.Edge{}
	}
	return g
}
