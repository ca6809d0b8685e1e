// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package entity defines the records, cross-references and graph units of a
// workflow graph, plus the gateway contracts the rest of the service reads
// and writes them through.
//
// # Hierarchy
//
//	Request ─┬─► Task ─┬─► Scenario
//	         │         └─► Deployment
//	         ├─► Scenario
//	         └─► Deployment
//
// A Request is the root document of a graph. Cross-references are stored in
// both directions; graph assembly only ever walks parent -> child.
//
// # Errors
//
// Gateways and the packages built on them classify failures with the
// sentinels ErrValidation, ErrNotFound and ErrConflict. Anything else is a
// storage failure that callers may retry.
package entity
