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

// Package registry is the content-addressed catalog of Tool Definitions.
// It accepts definitions, rejects duplicates, enumerates them in
// deterministic lexicographic order, and computes the registry's
// Interface Hash.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rig-run/rig/pkg/rtp"
)

// ErrDuplicateName is returned by Register when a definition's name
// collides with one already registered.
type ErrDuplicateName struct {
	Name string
}

func (e *ErrDuplicateName) Error() string {
	return fmt.Sprintf("duplicate_name: %q is already registered", e.Name)
}

// Snapshot is an immutable view of a Registry at some instant: the set of
// definitions present at that moment, the Interface Hash computed over
// them, and the pack-set version in effect.
type Snapshot struct {
	Definitions    map[string]rtp.ToolDefinition
	InterfaceHash  string
	PackSetVersion string
}

// Registry is the mutable, thread-safe catalog. Registration is expected
// to happen only at startup; readers may observe either the complete old
// or complete new set but never a partial one.
type Registry struct {
	mu             sync.RWMutex
	defs           map[string]rtp.ToolDefinition
	packSetVersion string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{defs: make(map[string]rtp.ToolDefinition)}
}

// SetPackSetVersion records the externally assigned pack-set version
// string carried into every Snapshot, Result, and Audit Event produced
// afterward.
func (r *Registry) SetPackSetVersion(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packSetVersion = v
}

// Register adds one or more tool definitions. It fails with
// *ErrDuplicateName (and registers none of the batch) if any name
// collides with an existing or sibling definition.
func (r *Registry) Register(defs ...rtp.ToolDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		if _, ok := r.defs[d.Name]; ok {
			return &ErrDuplicateName{Name: d.Name}
		}
		if _, ok := seen[d.Name]; ok {
			return &ErrDuplicateName{Name: d.Name}
		}
		seen[d.Name] = struct{}{}
	}
	for _, d := range defs {
		r.defs[d.Name] = d
	}
	return nil
}

// List returns all definitions in deterministic lexicographic name order.
func (r *Registry) List() []rtp.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]rtp.ToolDefinition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get performs a point lookup. Absence is reported via the boolean, not an
// error.
func (r *Registry) Get(name string) (rtp.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// Snapshot freezes a copy of the current definitions together with their
// Interface Hash and the current pack-set version.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defsCopy := make(map[string]rtp.ToolDefinition, len(r.defs))
	all := make([]rtp.ToolDefinition, 0, len(r.defs))
	for k, v := range r.defs {
		defsCopy[k] = v
		all = append(all, v)
	}
	return Snapshot{
		Definitions:    defsCopy,
		InterfaceHash:  ComputeInterfaceHash(all),
		PackSetVersion: r.packSetVersion,
	}
}

// interfaceHashEntry is the canonical per-tool contribution to the
// Interface Hash: name plus the three schema documents, nothing else.
type interfaceHashEntry struct {
	Name         string          `json:"name"`
	InputSchema  json.RawMessage `json:"input_schema"`
	OutputSchema json.RawMessage `json:"output_schema"`
	ErrorSchema  json.RawMessage `json:"error_schema"`
}

// ComputeInterfaceHash computes the SHA-256 hex digest over the canonical
// JSON serialization of [(name, input_schema, output_schema, error_schema)]
// sorted by name, with object keys sorted at every level and compact
// separators. Registration order is irrelevant: two calls with the same
// unordered set of definitions always produce the same hash.
func ComputeInterfaceHash(defs []rtp.ToolDefinition) string {
	entries := make([]interfaceHashEntry, 0, len(defs))
	for _, d := range defs {
		entries = append(entries, interfaceHashEntry{
			Name:         d.Name,
			InputSchema:  canonicalize(d.InputSchema),
			OutputSchema: canonicalize(d.OutputSchema),
			ErrorSchema:  canonicalize(d.ErrorSchema),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	payload := make([]any, 0, len(entries))
	for _, e := range entries {
		payload = append(payload, [4]any{e.Name, rawOrNull(e.InputSchema), rawOrNull(e.OutputSchema), rawOrNull(e.ErrorSchema)})
	}

	// json.Marshal already sorts map keys; compact separators come for
	// free since the encoder's default output has none of Indent's
	// whitespace.
	b, err := json.Marshal(payload)
	if err != nil {
		// Schemas are decoded JSON already validated at registration
		// time; a marshal failure here would indicate a bug, not bad
		// input.
		panic(fmt.Sprintf("registry: interface hash marshal: %v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// canonicalize re-serializes raw to compact, sorted-key form so that
// semantically identical schemas (differing only in whitespace or key
// order) hash identically.
func canonicalize(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return b
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return json.RawMessage(raw)
}
