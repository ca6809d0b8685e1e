// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package presence

import "encoding/json"

// Server -> client frame types.
const (
	TypeSession       = "session"
	TypeSnapshot      = "snapshot"
	TypePatch         = "patch"
	TypeLayoutUpdated = "layout_updated"
)

// Editor is one entry of a presence snapshot.
type Editor struct {
	ClientID    string `json:"clientId"`
	DisplayName string `json:"displayName"`
}

// SessionMessage tells a new connection its session id.
type SessionMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// SnapshotMessage is the full editor list of a document.
type SnapshotMessage struct {
	Type       string   `json:"type"`
	DocumentID int64    `json:"documentId"`
	Editors    []Editor `json:"editors"`
}

// PatchMessage carries a relayed patch verbatim.
type PatchMessage struct {
	Type       string          `json:"type"`
	DocumentID int64           `json:"documentId"`
	Patch      json.RawMessage `json:"patch"`
}

// LayoutUpdatedMessage announces that a user saved a new layout version.
type LayoutUpdatedMessage struct {
	Type       string `json:"type"`
	DocumentID int64  `json:"documentId"`
	UserID     int64  `json:"userId"`
	Version    int64  `json:"version"`
}
