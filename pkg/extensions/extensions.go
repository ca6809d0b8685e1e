// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions holds the pluggable seams of the workgraph service.
//
// The open source build ships no-op defaults; deployments that sit behind a
// real identity provider inject their own implementations through
// ServiceOptions when constructing the service:
//
//	opts := extensions.DefaultOptions().WithAuth(ssoProvider)
//	svc, err := workgraph.New(cfg, &opts)
package extensions

// ServiceOptions carries the injectable implementations.
type ServiceOptions struct {
	// AuthProvider resolves credentials to a user and team.
	AuthProvider AuthProvider
}

// DefaultOptions returns options backed by NopAuthProvider.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
	}
}

// WithAuth returns a copy of opts using provider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}
