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

import (
	"bytes"
	"encoding/json"
	"log/slog"

	"github.com/AleutianAI/workgraph/services/workgraph/events"
)

// DefaultMaxPatchBytes caps a relayed patch.
const DefaultMaxPatchBytes = 64 << 10

// Relay forwards patches between the sessions of a document. Patches are
// not stored; a session that is not subscribed when one is relayed never
// sees it.
type Relay struct {
	hub      *Hub
	maxBytes int
	observer Observer
}

// NewRelay creates a Relay over hub. maxBytes <= 0 uses DefaultMaxPatchBytes.
func NewRelay(hub *Hub, maxBytes int, observer Observer) *Relay {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPatchBytes
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Relay{hub: hub, maxBytes: maxBytes, observer: observer}
}

// Relay sends patch to every patch subscriber of documentID other than
// senderSession and returns how many accepted it. Empty or oversized
// patches are dropped.
func (r *Relay) Relay(documentID int64, senderSession string, patch json.RawMessage) int {
	switch {
	case isEmptyPatch(patch):
		r.observer.PatchDropped("empty")
		return 0
	case len(patch) > r.maxBytes:
		slog.Debug("dropping oversized patch",
			"document_id", documentID, "session_id", senderSession, "bytes", len(patch))
		r.observer.PatchDropped("too_large")
		return 0
	}

	n := r.hub.Publish(documentID, ChannelPatch, PatchMessage{
		Type:       TypePatch,
		DocumentID: documentID,
		Patch:      patch,
	}, senderSession)
	r.observer.PatchRelayed(n)
	return n
}

func isEmptyPatch(p json.RawMessage) bool {
	switch string(bytes.TrimSpace(p)) {
	case "", "null", "{}", "[]", `""`:
		return true
	}
	return false
}

// BridgeLayoutEvents forwards layout saves to the document's presence
// subscribers as layout_updated frames. Call the returned func to stop.
func BridgeLayoutEvents(em *events.Emitter, hub *Hub) func() {
	id := em.Subscribe(func(e *events.Event) {
		upd, ok := e.Data.(events.DocumentUpdated)
		if !ok {
			return
		}
		hub.Publish(upd.RootDocumentID, ChannelPresence, LayoutUpdatedMessage{
			Type:       TypeLayoutUpdated,
			DocumentID: upd.RootDocumentID,
			UserID:     upd.UserID,
			Version:    upd.Version,
		}, "")
	}, events.TypeDocumentUpdated)
	return func() { em.Unsubscribe(id) }
}
