// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package presence tracks who is viewing each shared document and relays
// live edits between them.
//
// Subscribers are connection sessions. Each subscribes per document to one
// or both channels:
//
//	presence  editor snapshots and layout_updated notices
//	patch     opaque edit payloads from other sessions
//
// Delivery never blocks: a subscriber whose outbound queue is full misses
// the message.
package presence

import (
	"sync"
)

// Channel names a per-document stream.
type Channel string

const (
	ChannelPresence Channel = "presence"
	ChannelPatch    Channel = "patch"
)

// Channels lists every channel, in subscription order.
var Channels = []Channel{ChannelPresence, ChannelPatch}

// ParseChannel reports whether s names a channel.
func ParseChannel(s string) (Channel, bool) {
	switch Channel(s) {
	case ChannelPresence, ChannelPatch:
		return Channel(s), true
	}
	return "", false
}

// Subscriber receives published messages.
type Subscriber interface {
	// SessionID identifies the connection.
	SessionID() string

	// Send queues msg without blocking and reports whether it was queued.
	Send(msg any) bool
}

// Observer is notified of hub and tracker activity. Implementations must be
// cheap and non-blocking; they run under the tracker lock.
type Observer interface {
	EditorsChanged(documentID int64, editors int)
	PatchRelayed(recipients int)
	PatchDropped(reason string)
	FrameDropped()
}

type nopObserver struct{}

func (nopObserver) EditorsChanged(int64, int) {}
func (nopObserver) PatchRelayed(int)          {}
func (nopObserver) PatchDropped(string)       {}
func (nopObserver) FrameDropped()             {}

type topic struct {
	documentID int64
	channel    Channel
}

// Hub routes messages to the subscribers of a (document, channel).
//
// Thread Safety: Safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	topics   map[topic]map[string]Subscriber
	observer Observer
}

// NewHub creates an empty hub. observer may be nil.
func NewHub(observer Observer) *Hub {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Hub{topics: make(map[topic]map[string]Subscriber), observer: observer}
}

// Subscribe adds s to the document's channel. Subscribing twice is a no-op.
func (h *Hub) Subscribe(documentID int64, ch Channel, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := topic{documentID, ch}
	subs, ok := h.topics[t]
	if !ok {
		subs = make(map[string]Subscriber)
		h.topics[t] = subs
	}
	subs[s.SessionID()] = s
}

// Unsubscribe removes the session from the document's channel.
func (h *Hub) Unsubscribe(documentID int64, ch Channel, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := topic{documentID, ch}
	if subs, ok := h.topics[t]; ok {
		delete(subs, sessionID)
		if len(subs) == 0 {
			delete(h.topics, t)
		}
	}
}

// UnsubscribeAll removes the session from every channel.
func (h *Hub) UnsubscribeAll(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for t, subs := range h.topics {
		delete(subs, sessionID)
		if len(subs) == 0 {
			delete(h.topics, t)
		}
	}
}

// subscribers counts the sessions on the document's channel.
func (h *Hub) subscribers(documentID int64, ch Channel) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic{documentID, ch}])
}

// Publish offers msg to every subscriber of the document's channel except
// exceptSession ("" excludes nobody) and returns how many accepted it.
func (h *Hub) Publish(documentID int64, ch Channel, msg any, exceptSession string) int {
	h.mu.RLock()
	subs := h.topics[topic{documentID, ch}]
	targets := make([]Subscriber, 0, len(subs))
	for id, s := range subs {
		if id != exceptSession {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.Send(msg) {
			delivered++
		} else {
			h.observer.FrameDropped()
		}
	}
	return delivered
}
