// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the JSON bodies and live-channel frames of the
// workgraph API.
package datatypes

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/workgraph/services/workgraph/layout"
	"github.com/AleutianAI/workgraph/services/workgraph/presence"
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("channel", validateChannel)
}

// validateChannel accepts a presence channel name.
func validateChannel(fl validator.FieldLevel) bool {
	_, ok := presence.ParseChannel(fl.Field().String())
	return ok
}

// =============================================================================
// HTTP bodies
// =============================================================================

// CreateItemBody is the body of POST /v1/documents/:rootId/items.
//
// It carries no validation tags: the linker checks the fields in a fixed
// order and reports the first failure.
type CreateItemBody struct {
	ParentKind string `json:"parentKind"`
	ParentID   int64  `json:"parentId"`
	ItemKind   string `json:"itemKind"`
	Title      string `json:"title"`
}

// SaveLayoutBody is the body of PUT /v1/documents/:rootId/layout.
type SaveLayoutBody struct {
	ExpectedVersion *int64 `json:"expectedVersion" validate:"required,gte=0"`
	layout.Draft
}

// Validate checks the version field. The layout itself is sanitized, never
// rejected.
func (b *SaveLayoutBody) Validate() error {
	return validate.Struct(b)
}

// SaveLayoutResponse is returned by a successful layout save.
type SaveLayoutResponse struct {
	Version int64 `json:"version"`
}

// ConflictResponse is the 409 body of a stale layout save.
type ConflictResponse struct {
	Error           string `json:"error"`
	ExpectedVersion int64  `json:"expectedVersion"`
	CurrentVersion  int64  `json:"currentVersion"`
}

// =============================================================================
// Live channel frames
// =============================================================================

// Client -> server frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameJoin        = "join"
	FrameLeave       = "leave"
	FramePatch       = "patch"
)

// ClientFrame is any frame a client sends on the live channel. Which fields
// matter depends on Type.
type ClientFrame struct {
	Type        string          `json:"type" validate:"required,oneof=subscribe unsubscribe join leave patch"`
	DocumentID  int64           `json:"documentId" validate:"gt=0"`
	Channels    []string        `json:"channels,omitempty" validate:"omitempty,max=2,dive,channel"`
	ClientID    string          `json:"clientId,omitempty" validate:"max=128"`
	DisplayName string          `json:"displayName,omitempty" validate:"max=200"`
	Patch       json.RawMessage `json:"patch,omitempty"`
}

// ParseClientFrame decodes and validates one frame.
func ParseClientFrame(data []byte) (*ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	f.Type = strings.ToLower(strings.TrimSpace(f.Type))
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid %q frame: %w", f.Type, err)
	}
	switch f.Type {
	case FrameJoin:
		if strings.TrimSpace(f.ClientID) == "" || strings.TrimSpace(f.DisplayName) == "" {
			return nil, fmt.Errorf("join frame needs clientId and displayName")
		}
	case FrameLeave:
		if strings.TrimSpace(f.ClientID) == "" {
			return nil, fmt.Errorf("leave frame needs clientId")
		}
	}
	return &f, nil
}

// SubscribedChannels returns the requested channels, or all of them when
// the frame names none.
func (f *ClientFrame) SubscribedChannels() []presence.Channel {
	if len(f.Channels) == 0 {
		return presence.Channels
	}
	out := make([]presence.Channel, 0, len(f.Channels))
	for _, name := range f.Channels {
		if ch, ok := presence.ParseChannel(name); ok {
			out = append(out, ch)
		}
	}
	return out
}
