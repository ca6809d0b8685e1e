// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events is the in-process bus between the stores and the live
// channel. The layout store emits TypeDocumentUpdated after a save commits;
// the presence relay turns it into a frame for the document's subscribers.
//
// Thread Safety:
//
//	Emitter is safe for concurrent use.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeDocumentUpdated is emitted after a layout save commits.
	TypeDocumentUpdated Type = "document_updated"
)

// Event is one emitted occurrence. Data holds the type's payload struct.
type Event struct {
	ID        string
	Type      Type
	Timestamp time.Time
	Data      any
}

// DocumentUpdated is the payload of TypeDocumentUpdated.
type DocumentUpdated struct {
	RootDocumentID int64
	UserID         int64
	Version        int64
}

// Handler processes one event. It runs on the emitting goroutine.
type Handler func(event *Event)

type subscription struct {
	handler Handler
	types   []Type
}

// Emitter broadcasts events to subscribers synchronously.
type Emitter struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

// NewEmitter creates an emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[string]*subscription)}
}

// Subscribe registers handler for the given types (none means all) and
// returns an id for Unsubscribe.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := uuid.NewString()
	e.subs[id] = &subscription{handler: handler, types: types}
	return id
}

// Unsubscribe removes a subscription and reports whether it existed.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subs[id]; !ok {
		return false
	}
	delete(e.subs, id)
	return true
}

// Emit delivers an event to every matching subscriber. A panicking handler
// is logged and does not stop delivery to the others. Emit on a nil
// Emitter is a no-op.
func (e *Emitter) Emit(eventType Type, data any) {
	if e == nil {
		return
	}
	e.mu.RLock()
	subs := make([]*subscription, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	e.mu.RUnlock()

	event := &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	for _, s := range subs {
		if s.matches(eventType) {
			invoke(s.handler, event)
		}
	}
}

func (s *subscription) matches(t Type) bool {
	if len(s.types) == 0 {
		return true
	}
	for _, want := range s.types {
		if want == t {
			return true
		}
	}
	return false
}

func invoke(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()
	handler(event)
}
