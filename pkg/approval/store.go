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

// Package approval holds pending second-phase-authorization records
// keyed by an opaque, single-use token. It has no dependency on the
// Registry, Policy, Secrets, or Audit packages.
package approval

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rig-run/rig/pkg/rtp"
)

// DefaultTTL is the age at which a pending approval is treated as expired
// and rejected with not-found on Pop, per the specification's design note
// (§9, suggested default: one hour).
const DefaultTTL = time.Hour

// Record is a pending call awaiting out-of-band approval.
type Record struct {
	ToolName  string
	Args      json.RawMessage
	Ctx       rtp.CallContext
	CreatedAt time.Time
}

// Store is the in-memory, mutex-protected token table. There is no
// persistence across restarts (spec.md §1 non-goal: no persistent
// approval queues across restarts).
type Store struct {
	mu      sync.Mutex
	pending map[string]Record
	ttl     time.Duration
	now     func() time.Time
}

// New returns an empty Store using DefaultTTL.
func New() *Store {
	return &Store{pending: make(map[string]Record), ttl: DefaultTTL, now: time.Now}
}

// NewWithTTL returns an empty Store with a custom expiry window.
func NewWithTTL(ttl time.Duration) *Store {
	s := New()
	s.ttl = ttl
	return s
}

// Create stores a pending call and returns a fresh UUID-shaped token.
func (s *Store) Create(toolName string, args json.RawMessage, ctx rtp.CallContext) string {
	token := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[token] = Record{ToolName: toolName, Args: args, Ctx: ctx, CreatedAt: s.now()}
	return token
}

// Pop atomically returns and removes the record for token. It is
// single-use: a second Pop for the same token, or a Pop past the TTL
// window, reports not-present. Expired-but-unpoppped records are purged
// lazily on access rather than via a background sweep.
func (s *Store) Pop(token string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.pending[token]
	if !ok {
		return Record{}, false
	}
	delete(s.pending, token)

	if s.now().Sub(rec.CreatedAt) > s.ttl {
		return Record{}, false
	}
	return rec, true
}
