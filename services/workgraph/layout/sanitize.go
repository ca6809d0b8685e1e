// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package layout

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/AleutianAI/workgraph/services/workgraph/entity"
)

// Bounds applied by Sanitize.
const (
	MaxPositions   = 2000
	MaxEdges       = 2000
	MaxCustomNodes = 500

	maxDocNoRunes  = 64
	maxTitleRunes  = 200
	maxStatusRunes = 64
	maxLabelRunes  = 200
	maxNoteRunes   = 2000
)

// Point is a node position on the canvas.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is a user-drawn connector. It is independent of assembled edges.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// CustomNode is a user annotation pinned to a record.
type CustomNode struct {
	EntityID int64  `json:"entityId"`
	DocNo    string `json:"docNo"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Note     string `json:"note,omitempty"`
}

// Layout is the sanitized arrangement of one user's view of a graph.
type Layout struct {
	Positions   map[string]Point `json:"positions"`
	Edges       []Edge           `json:"edges"`
	CustomNodes []CustomNode     `json:"customNodes"`
}

// Draft is an unsanitized layout as submitted by a client or read back from
// storage. Each collection is kept as raw JSON and decoded entry by entry in
// Sanitize, so one malformed entry is dropped without losing the rest.
type Draft struct {
	Positions   json.RawMessage `json:"positions,omitempty"`
	Edges       json.RawMessage `json:"edges,omitempty"`
	CustomNodes json.RawMessage `json:"customNodes,omitempty"`
}

type draftPoint struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type draftEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

type draftCustomNode struct {
	EntityID int64  `json:"entityId"`
	DocNo    string `json:"docNo"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Note     string `json:"note"`
}

// Sanitize drops or trims whatever in d is out of bounds. It never fails.
//
// A collection of the wrong JSON type counts as empty, and an entry that does
// not decode into its shape (a string coordinate, a number out of float64
// range, a numeric id) is dropped like any other invalid entry.
//
// Positions are visited in key order and need two finite coordinates; edges
// need an id, a source and a different target, and ids must be unique;
// custom nodes need a positive entity id and non-empty docNo, title and
// status. Each list is cut at its maximum after invalid entries are dropped.
func Sanitize(d Draft) Layout {
	return Layout{
		Positions:   sanitizePositions(d.Positions),
		Edges:       sanitizeEdges(d.Edges),
		CustomNodes: sanitizeCustomNodes(d.CustomNodes),
	}
}

func sanitizePositions(raw json.RawMessage) map[string]Point {
	var in map[string]json.RawMessage
	if json.Unmarshal(raw, &in) != nil {
		in = nil
	}
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]Point, min(len(keys), MaxPositions))
	for _, k := range keys {
		if len(out) == MaxPositions {
			break
		}
		id := strings.TrimSpace(k)
		var p draftPoint
		if json.Unmarshal(in[k], &p) != nil {
			continue
		}
		if id == "" || p.X == nil || p.Y == nil || !finite(*p.X) || !finite(*p.Y) {
			continue
		}
		if _, dup := out[id]; dup {
			continue
		}
		out[id] = Point{X: *p.X, Y: *p.Y}
	}
	return out
}

func sanitizeEdges(raw json.RawMessage) []Edge {
	var in []json.RawMessage
	if json.Unmarshal(raw, &in) != nil {
		in = nil
	}
	out := make([]Edge, 0, min(len(in), MaxEdges))
	seen := make(map[string]bool, len(in))
	for _, entry := range in {
		if len(out) == MaxEdges {
			break
		}
		var e draftEdge
		if json.Unmarshal(entry, &e) != nil {
			continue
		}
		id := strings.TrimSpace(e.ID)
		src := strings.TrimSpace(e.Source)
		dst := strings.TrimSpace(e.Target)
		if id == "" || src == "" || dst == "" || src == dst || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Edge{
			ID:     id,
			Source: src,
			Target: dst,
			Label:  entity.Truncate(entity.CleanText(e.Label), maxLabelRunes),
		})
	}
	return out
}

func sanitizeCustomNodes(raw json.RawMessage) []CustomNode {
	var in []json.RawMessage
	if json.Unmarshal(raw, &in) != nil {
		in = nil
	}
	out := make([]CustomNode, 0, min(len(in), MaxCustomNodes))
	for _, entry := range in {
		if len(out) == MaxCustomNodes {
			break
		}
		var n draftCustomNode
		if json.Unmarshal(entry, &n) != nil {
			continue
		}
		docNo := entity.Truncate(entity.CleanText(n.DocNo), maxDocNoRunes)
		title := entity.Truncate(entity.CleanText(n.Title), maxTitleRunes)
		status := entity.Truncate(entity.CleanText(n.Status), maxStatusRunes)
		if n.EntityID <= 0 || docNo == "" || title == "" || status == "" {
			continue
		}
		out = append(out, CustomNode{
			EntityID: n.EntityID,
			DocNo:    docNo,
			Title:    title,
			Status:   status,
			Note:     entity.Truncate(entity.CleanText(n.Note), maxNoteRunes),
		})
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// draft converts l back to the storage form.
func (l Layout) draft() (Draft, error) {
	var (
		d   Draft
		err error
	)
	if d.Positions, err = json.Marshal(l.Positions); err != nil {
		return Draft{}, err
	}
	if d.Edges, err = json.Marshal(l.Edges); err != nil {
		return Draft{}, err
	}
	if d.CustomNodes, err = json.Marshal(l.CustomNodes); err != nil {
		return Draft{}, err
	}
	return d, nil
}
