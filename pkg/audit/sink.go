// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package audit is the append-only, queryable event stream the Runtime
// writes exactly once per terminal call. Besides the rtp data types it
// depends only on primitive hashing and, for SQLiteSink, a SQLite driver.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/rig-run/rig/pkg/rtp"
)

// Sink is the contract the Runtime writes to and the gateway (or an
// operator tool) queries.
type Sink interface {
	Write(event rtp.AuditEvent) error
	QueryByRunID(runID string) ([]rtp.AuditEvent, error)
	QueryByTenantID(tenantID string, limit int) ([]rtp.AuditEvent, error)
	Close() error
}

// ComputeInputHash returns the SHA-256 hex digest of the canonical JSON
// encoding of args: keys sorted lexicographically at every object level,
// compact separators. Equal inputs, regardless of key insertion order,
// always yield equal hashes.
func ComputeInputHash(args json.RawMessage) string {
	var v any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &v); err != nil {
			// Not parseable JSON; hash the raw bytes so the function
			// still returns a stable, deterministic digest.
			sum := sha256.Sum256(args)
			return hex.EncodeToString(sum[:])
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		sum := sha256.Sum256(args)
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// RedactedAuthMarker derives the audit-safe credential marker from a tool
// definition's declared auth slots: the first slot, prefixed "env:"
// unless already so prefixed. A tool with no slots has no marker.
func RedactedAuthMarker(authSlots []string) string {
	if len(authSlots) == 0 {
		return ""
	}
	first := authSlots[0]
	if strings.HasPrefix(first, "env:") {
		return first
	}
	return "env:" + first
}
