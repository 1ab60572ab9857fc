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

package audit

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/rig-run/rig/pkg/rtp"
)

// SQLiteSink is the reference durable Audit Sink: a single append-only
// table with secondary indexes on run_id and (tenant_id, timestamp). It
// uses the pure-Go modernc.org/sqlite driver, so no cgo toolchain is
// required to build the gateway.
type SQLiteSink struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLiteSink opens (creating if absent) the audit database at path and
// ensures its schema exists. Use ":memory:" for an ephemeral, in-process
// sink suitable for tests.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	// A single writer connection keeps "durable before Write returns"
	// simple: there is never a second connection racing to commit.
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp            TEXT    NOT NULL,
	ts_unix              REAL    NOT NULL,
	tenant_id            TEXT    NOT NULL,
	run_id               TEXT    NOT NULL,
	tool                 TEXT    NOT NULL,
	input_hash           TEXT    NOT NULL,
	outcome              TEXT    NOT NULL,
	duration_ms          INTEGER NOT NULL,
	redacted_auth_marker TEXT,
	error_type           TEXT,
	pack                 TEXT,
	pack_version         TEXT,
	interface_hash       TEXT,
	pack_set_version     TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_run_id ON audit_events(run_id);
CREATE INDEX IF NOT EXISTS idx_audit_tenant_ts ON audit_events(tenant_id, timestamp DESC);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Write implements Sink. The insert commits synchronously before Write
// returns, the conservative default the specification's design notes call
// for (§9: "the conservative choice is synchronous fsync and is the
// default").
func (s *SQLiteSink) Write(event rtp.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
INSERT INTO audit_events
	(timestamp, ts_unix, tenant_id, run_id, tool, input_hash, outcome, duration_ms,
	 redacted_auth_marker, error_type, pack, pack_version, interface_hash, pack_set_version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.Timestamp, event.TSUnix, event.TenantID, event.RunID, event.Tool,
		event.InputHash, string(event.Outcome), event.DurationMs,
		nullableString(event.RedactedAuthMarker), nullableString(event.ErrorType),
		nullableString(event.Pack), nullableString(event.PackVersion),
		nullableString(event.InterfaceHash), nullableString(event.PackSetVersion),
	)
	if err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	return nil
}

// QueryByRunID implements Sink, returning events in timestamp order.
func (s *SQLiteSink) QueryByRunID(runID string) ([]rtp.AuditEvent, error) {
	rows, err := s.db.Query(`
SELECT timestamp, ts_unix, tenant_id, run_id, tool, input_hash, outcome, duration_ms,
       redacted_auth_marker, error_type, pack, pack_version, interface_hash, pack_set_version
FROM audit_events WHERE run_id = ? ORDER BY ts_unix ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: query by run_id: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// QueryByTenantID implements Sink, returning events most-recent-first,
// bounded by limit.
func (s *SQLiteSink) QueryByTenantID(tenantID string, limit int) ([]rtp.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
SELECT timestamp, ts_unix, tenant_id, run_id, tool, input_hash, outcome, duration_ms,
       redacted_auth_marker, error_type, pack, pack_version, interface_hash, pack_set_version
FROM audit_events WHERE tenant_id = ? ORDER BY ts_unix DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query by tenant_id: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func scanEvents(rows *sql.Rows) ([]rtp.AuditEvent, error) {
	var out []rtp.AuditEvent
	for rows.Next() {
		var e rtp.AuditEvent
		var outcome string
		var authMarker, errType, pack, packVersion, ifaceHash, packSetVersion sql.NullString
		if err := rows.Scan(
			&e.Timestamp, &e.TSUnix, &e.TenantID, &e.RunID, &e.Tool, &e.InputHash, &outcome, &e.DurationMs,
			&authMarker, &errType, &pack, &packVersion, &ifaceHash, &packSetVersion,
		); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Outcome = rtp.AuditOutcome(outcome)
		e.RedactedAuthMarker = authMarker.String
		e.ErrorType = errType.String
		e.Pack = pack.String
		e.PackVersion = packVersion.String
		e.InterfaceHash = ifaceHash.String
		e.PackSetVersion = packSetVersion.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return out, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
