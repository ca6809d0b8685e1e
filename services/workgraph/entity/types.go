// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package entity

import "time"

// Caller is the explicit identity every core operation runs under.
// There is no ambient "current user"; handlers build a Caller from the
// authenticated request and pass it down.
type Caller struct {
	UserID int64
	TeamID int64
}

// Record is one stored Request, Task, Scenario or Deployment.
//
// Priority, Version and AssigneeID are optional; their zero values mean unset.
type Record struct {
	ID         int64
	Kind       Kind
	TeamID     int64
	DocNo      string
	Title      string
	Status     string
	Priority   string
	AssigneeID int64
	Version    string
	CreatedBy  int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Draft carries the caller-supplied fields of a new record. Status, priority
// and document number defaults belong to the gateway that creates it.
type Draft struct {
	TeamID     int64
	Title      string
	CreatedBy  int64
	AssigneeID int64
}

// CrossReference is a stored typed pointer from an owner record to another
// record. The owner's kind is implied by the table it lives in.
type CrossReference struct {
	OwnerKind Kind
	OwnerID   int64
	RefKind   Kind
	RefID     int64
	SortOrder *int
}

// Node is one assembled graph vertex. Never stored.
type Node struct {
	NodeID   string `json:"nodeId"`
	EntityID int64  `json:"entityId"`
	Kind     Kind   `json:"kind"`
	DocNo    string `json:"docNo"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority string `json:"priority,omitempty"`
	Assignee string `json:"assignee,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Edge is one assembled parent -> child link. Never stored.
type Edge struct {
	EdgeID       string `json:"edgeId"`
	SourceNodeID string `json:"sourceNodeId"`
	TargetNodeID string `json:"targetNodeId"`
}

// NewEdge derives an edge from two node ids.
func NewEdge(source, target string) Edge {
	return Edge{EdgeID: EdgeID(source, target), SourceNodeID: source, TargetNodeID: target}
}

// Graph is the node and edge set of one root document.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Clone returns a copy that shares nothing with g.
func (g *Graph) Clone() *Graph {
	return &Graph{
		Nodes: append([]Node(nil), g.Nodes...),
		Edges: append([]Edge(nil), g.Edges...),
	}
}

// NodeFor synthesizes the graph node for a record. assignee is the resolved
// display name, or "" when unassigned or unknown.
func NodeFor(r *Record, assignee string) Node {
	docNo := r.DocNo
	if docNo == "" {
		docNo = FallbackLabel(r.Kind, r.ID)
	}
	title := r.Title
	if title == "" {
		title = FallbackLabel(r.Kind, r.ID)
	}
	return Node{
		NodeID:   NodeID(r.Kind, r.ID),
		EntityID: r.ID,
		Kind:     r.Kind,
		DocNo:    docNo,
		Title:    title,
		Status:   r.Status,
		Priority: r.Priority,
		Assignee: assignee,
		Version:  r.Version,
	}
}
