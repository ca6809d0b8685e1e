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
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/workgraph/services/workgraph/entity"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

type entry struct {
	sessionID   string
	displayName string
}

// Tracker holds the live editors of every document.
//
// Each document maps clientId -> entry; a client has at most one entry per
// document and the entry belongs to the session that joined last. Only
// Join, Leave and Disconnect mutate the map, and each publishes the new
// snapshot before releasing the lock, so subscribers see snapshots in
// mutation order.
//
// Thread Safety: Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	docs     map[int64]map[string]entry
	hub      *Hub
	collator *collate.Collator
	observer Observer
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithLocale sorts snapshots with the collation rules of tag.
func WithLocale(tag language.Tag) TrackerOption {
	return func(t *Tracker) {
		t.collator = collate.New(tag, collate.IgnoreCase)
	}
}

// WithObserver reports editor counts to o.
func WithObserver(o Observer) TrackerOption {
	return func(t *Tracker) {
		if o != nil {
			t.observer = o
		}
	}
}

// NewTracker creates a Tracker that publishes snapshots through hub.
func NewTracker(hub *Hub, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		docs:     make(map[int64]map[string]entry),
		hub:      hub,
		collator: collate.New(language.Und, collate.IgnoreCase),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Join records clientID as editing documentID on sessionID, replacing any
// entry the client had from an earlier session, and broadcasts the
// snapshot. Blank input is ignored. Reports whether anything happened.
func (t *Tracker) Join(documentID int64, sessionID, clientID, displayName string) bool {
	sessionID = strings.TrimSpace(sessionID)
	clientID = strings.TrimSpace(clientID)
	displayName = entity.Truncate(entity.CleanText(displayName), 100)
	if documentID <= 0 || sessionID == "" || clientID == "" || displayName == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	editors, ok := t.docs[documentID]
	if !ok {
		editors = make(map[string]entry)
		t.docs[documentID] = editors
	}
	if prev, ok := editors[clientID]; ok && prev.sessionID != sessionID {
		slog.Debug("presence entry rebound to new session",
			"document_id", documentID, "client_id", clientID,
			"old_session", prev.sessionID, "new_session", sessionID)
	}
	editors[clientID] = entry{sessionID: sessionID, displayName: displayName}
	t.publishLocked(documentID)
	return true
}

// Leave removes clientID from documentID only if sessionID owns the entry.
// A leave from a superseded session is ignored.
func (t *Tracker) Leave(documentID int64, sessionID, clientID string) bool {
	sessionID = strings.TrimSpace(sessionID)
	clientID = strings.TrimSpace(clientID)

	t.mu.Lock()
	defer t.mu.Unlock()

	editors := t.docs[documentID]
	e, ok := editors[clientID]
	if !ok || e.sessionID != sessionID {
		return false
	}
	delete(editors, clientID)
	if len(editors) == 0 {
		delete(t.docs, documentID)
	}
	t.publishLocked(documentID)
	return true
}

// Disconnect removes every entry owned by sessionID and broadcasts one
// snapshot per affected document. Returns the affected document ids.
func (t *Tracker) Disconnect(sessionID string) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var affected []int64
	for docID, editors := range t.docs {
		removed := false
		for clientID, e := range editors {
			if e.sessionID == sessionID {
				delete(editors, clientID)
				removed = true
			}
		}
		if !removed {
			continue
		}
		if len(editors) == 0 {
			delete(t.docs, docID)
		}
		affected = append(affected, docID)
	}
	sort.Slice(affected, func(i, j int) bool { return affected[i] < affected[j] })
	for _, docID := range affected {
		t.publishLocked(docID)
	}
	return affected
}

// Subscribe adds s to the document's presence channel and queues the
// current snapshot to it. Both happen under the tracker lock, so no
// broadcast can reach s ahead of the older initial snapshot.
func (t *Tracker) Subscribe(documentID int64, s Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.hub.Subscribe(documentID, ChannelPresence, s)
	s.Send(SnapshotMessage{
		Type:       TypeSnapshot,
		DocumentID: documentID,
		Editors:    t.snapshotLocked(documentID),
	})
}

// Snapshot returns the document's editors in display order.
func (t *Tracker) Snapshot(documentID int64) []Editor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(documentID)
}

// snapshotLocked sorts by display name using the collator, then client id.
// The collator is not safe for concurrent use; t.mu guards it.
func (t *Tracker) snapshotLocked(documentID int64) []Editor {
	editors := t.docs[documentID]
	out := make([]Editor, 0, len(editors))
	for clientID, e := range editors {
		out = append(out, Editor{ClientID: clientID, DisplayName: e.displayName})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := t.collator.CompareString(out[i].DisplayName, out[j].DisplayName); c != 0 {
			return c < 0
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out
}

func (t *Tracker) publishLocked(documentID int64) {
	editors := t.snapshotLocked(documentID)
	t.observer.EditorsChanged(documentID, len(editors))
	t.hub.Publish(documentID, ChannelPresence, SnapshotMessage{
		Type:       TypeSnapshot,
		DocumentID: documentID,
		Editors:    editors,
	}, "")
}
