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

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the closed set of record kinds that can appear in a workflow graph.
//
// Every switch over Kind in this module lists all four kinds explicitly; the
// zero value KindUnknown is never a valid graph kind.
type Kind int

const (
	KindUnknown Kind = iota
	KindRequest
	KindTask
	KindScenario
	KindDeployment
)

// AllKinds lists the valid kinds in hierarchy order.
var AllKinds = []Kind{KindRequest, KindTask, KindScenario, KindDeployment}

// ParseKind normalises s (trimmed, case-insensitive) to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "REQUEST":
		return KindRequest, true
	case "TASK":
		return KindTask, true
	case "SCENARIO":
		return KindScenario, true
	case "DEPLOYMENT":
		return KindDeployment, true
	default:
		return KindUnknown, false
	}
}

// String returns the wire name: REQUEST, TASK, SCENARIO or DEPLOYMENT.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "REQUEST"
	case KindTask:
		return "TASK"
	case KindScenario:
		return "SCENARIO"
	case KindDeployment:
		return "DEPLOYMENT"
	case KindUnknown:
		return "UNKNOWN"
	}
	return "UNKNOWN"
}

// Valid reports whether k is one of the four graph kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindRequest, KindTask, KindScenario, KindDeployment:
		return true
	case KindUnknown:
		return false
	}
	return false
}

// Prefix is the node id prefix for k.
func (k Kind) Prefix() string {
	switch k {
	case KindRequest:
		return "req"
	case KindTask:
		return "task"
	case KindScenario:
		return "scn"
	case KindDeployment:
		return "dep"
	case KindUnknown:
		return "unknown"
	}
	return "unknown"
}

// label is the human-readable singular used in fallback titles.
func (k Kind) label() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindTask:
		return "Task"
	case KindScenario:
		return "Scenario"
	case KindDeployment:
		return "Deployment"
	case KindUnknown:
		return "Item"
	}
	return "Item"
}

// CanParent implements the parent-child rule table:
//
//	REQUEST -> TASK, SCENARIO, DEPLOYMENT
//	TASK    -> SCENARIO, DEPLOYMENT
//
// Every other pairing is rejected.
func (k Kind) CanParent(child Kind) bool {
	switch k {
	case KindRequest:
		return child == KindTask || child == KindScenario || child == KindDeployment
	case KindTask:
		return child == KindScenario || child == KindDeployment
	case KindScenario, KindDeployment, KindUnknown:
		return false
	}
	return false
}

// MarshalText encodes k by wire name.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("cannot encode kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText accepts any casing of a wire name.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, ok := ParseKind(string(text))
	if !ok {
		return fmt.Errorf("unknown kind %q", string(text))
	}
	*k = parsed
	return nil
}

// NodeID derives the stable graph node id for a record, e.g. "task-17".
func NodeID(k Kind, id int64) string {
	return k.Prefix() + "-" + strconv.FormatInt(id, 10)
}

// EdgeID derives the stable edge id for a source/target pair.
func EdgeID(sourceNodeID, targetNodeID string) string {
	return sourceNodeID + "->" + targetNodeID
}

// FallbackLabel is shown when a record has no document number, e.g. "Task #17".
func FallbackLabel(k Kind, id int64) string {
	return fmt.Sprintf("%s #%d", k.label(), id)
}
