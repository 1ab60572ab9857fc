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

// Package config loads the gateway daemon's configuration from the
// process environment. There is no file-based configuration format: a
// deployment is expected to set environment variables (directly, or via
// its process manager / container orchestrator).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the complete configuration for the riggatewayd daemon.
type Config struct {
	// ListenAddr is the TCP address the RGP HTTP surface binds.
	// Environment: RIG_LISTEN_ADDR. Default: ":8443".
	ListenAddr string

	// AuditDBPath is the SQLite database file backing the Audit Sink.
	// Environment: RIG_AUDIT_DB_PATH. Default: "./rig-audit.db".
	AuditDBPath string

	// ApprovalTTL is how long a pending approval token remains valid.
	// Environment: RIG_APPROVAL_TTL (Go duration syntax, e.g. "1h").
	// Default: 1 hour.
	ApprovalTTL time.Duration

	// JWTSecret, when non-empty, turns on bearer-JWT auth middleware on
	// every RGP route except /v1/health and /metrics.
	// Environment: RIG_JWT_SECRET. Default: unset (auth disabled).
	JWTSecret string

	// PackSetVersion is the externally assigned version string stamped
	// onto every Result and Audit Event.
	// Environment: RIG_PACK_SET_VERSION. Default: "dev".
	PackSetVersion string

	// ShutdownTimeout bounds how long graceful shutdown waits for
	// in-flight calls to finish before forcing close.
	// Environment: RIG_SHUTDOWN_TIMEOUT. Default: 10s.
	ShutdownTimeout time.Duration

	// DefaultPolicyRetries and DefaultPolicyTimeoutSeconds seed the
	// Runtime's Policy, which applies to every tool; a definition's
	// policy_defaults are not consulted.
	// Environment: RIG_POLICY_RETRIES, RIG_POLICY_TIMEOUT_SECONDS.
	DefaultPolicyRetries        int
	DefaultPolicyTimeoutSeconds int
}

// Default returns a Config with the specification's stated defaults.
func Default() *Config {
	return &Config{
		ListenAddr:                  ":8443",
		AuditDBPath:                 "./rig-audit.db",
		ApprovalTTL:                 time.Hour,
		PackSetVersion:              "dev",
		ShutdownTimeout:             10 * time.Second,
		DefaultPolicyRetries:        1,
		DefaultPolicyTimeoutSeconds: 30,
	}
}

// FromEnv builds a Config from the process environment, falling back to
// Default for anything unset. A malformed value is an error.
func FromEnv() (*Config, error) {
	cfg := Default()

	if v := os.Getenv("RIG_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("RIG_AUDIT_DB_PATH"); v != "" {
		cfg.AuditDBPath = v
	}
	if v := os.Getenv("RIG_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("RIG_PACK_SET_VERSION"); v != "" {
		cfg.PackSetVersion = v
	}

	if v := os.Getenv("RIG_APPROVAL_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid RIG_APPROVAL_TTL %q: %w", v, err)
		}
		cfg.ApprovalTTL = d
	}
	if v := os.Getenv("RIG_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid RIG_SHUTDOWN_TIMEOUT %q: %w", v, err)
		}
		cfg.ShutdownTimeout = d
	}
	if v := os.Getenv("RIG_POLICY_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid RIG_POLICY_RETRIES %q: %w", v, err)
		}
		cfg.DefaultPolicyRetries = n
	}
	if v := os.Getenv("RIG_POLICY_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid RIG_POLICY_TIMEOUT_SECONDS %q: %w", v, err)
		}
		cfg.DefaultPolicyTimeoutSeconds = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must not be empty")
	}
	if c.AuditDBPath == "" {
		return fmt.Errorf("config: audit_db_path must not be empty")
	}
	if c.ApprovalTTL <= 0 {
		return fmt.Errorf("config: approval_ttl must be positive, got %v", c.ApprovalTTL)
	}
	if c.DefaultPolicyRetries < 0 {
		return fmt.Errorf("config: policy_retries must be non-negative, got %d", c.DefaultPolicyRetries)
	}
	if c.DefaultPolicyTimeoutSeconds <= 0 {
		return fmt.Errorf("config: policy_timeout_seconds must be positive, got %d", c.DefaultPolicyTimeoutSeconds)
	}
	return nil
}
