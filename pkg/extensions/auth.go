// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnauthorized is returned when a credential cannot be resolved to a user.
//
// Providers should wrap it so callers can match with errors.Is:
//
//	return nil, fmt.Errorf("token expired: %w", extensions.ErrUnauthorized)
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity resolved from a credential.
//
// UserID and TeamID are always populated. TeamID is the only scope the
// workflow core enforces; anything finer grained belongs to an external gate.
type AuthInfo struct {
	// UserID identifies the caller. Always positive.
	UserID int64

	// TeamID is the caller's team. Records outside it are reported as missing.
	TeamID int64

	// DisplayName is a human-readable name, used as a default presence label.
	DisplayName string

	// Roles are opaque role names supplied by the identity provider.
	Roles []string
}

// HasRole reports whether the caller carries the named role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider resolves a bearer credential into an AuthInfo.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the middleware calls
// Validate from every request goroutine.
type AuthProvider interface {
	// Validate returns the identity behind token, or an error wrapping
	// ErrUnauthorized when the token is unknown.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider authenticates every request as the local user of team 1.
// It is the default for single-user local runs.
type NopAuthProvider struct{}

// Validate always succeeds.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID:      1,
		TeamID:      1,
		DisplayName: "local-user",
		Roles:       []string{"admin"},
	}, nil
}

// StaticTokenProvider resolves tokens from a fixed table, typically loaded
// from the service configuration.
type StaticTokenProvider struct {
	mu     sync.RWMutex
	tokens map[string]AuthInfo
}

// NewStaticTokenProvider builds a provider from token -> identity pairs.
// Entries with an empty token or a non-positive user/team id are rejected.
func NewStaticTokenProvider(tokens map[string]AuthInfo) (*StaticTokenProvider, error) {
	p := &StaticTokenProvider{tokens: make(map[string]AuthInfo, len(tokens))}
	for token, info := range tokens {
		if err := p.Add(token, info); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Add registers or replaces a token.
func (p *StaticTokenProvider) Add(token string, info AuthInfo) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token must not be empty")
	}
	if info.UserID <= 0 || info.TeamID <= 0 {
		return fmt.Errorf("token for user %d: user and team ids must be positive", info.UserID)
	}
	p.mu.Lock()
	p.tokens[token] = info
	p.mu.Unlock()
	return nil
}

// Replace swaps the whole table. The current table is kept if any entry
// is invalid.
func (p *StaticTokenProvider) Replace(tokens map[string]AuthInfo) error {
	next, err := NewStaticTokenProvider(tokens)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.tokens = next.tokens
	p.mu.Unlock()
	return nil
}

// Len returns the number of registered tokens.
func (p *StaticTokenProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tokens)
}

// Validate looks the token up. Unknown and empty tokens fail with ErrUnauthorized.
func (p *StaticTokenProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	p.mu.RLock()
	info, ok := p.tokens[token]
	p.mu.RUnlock()
	if !ok || token == "" {
		return nil, fmt.Errorf("unknown token: %w", ErrUnauthorized)
	}
	out := info
	out.Roles = append([]string(nil), info.Roles...)
	return &out, nil
}

var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*StaticTokenProvider)(nil)
)
