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

package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rig-run/rig/pkg/rtp"
)

// HTTPRemoteConfig configures an HTTPRemoteAdapter.
type HTTPRemoteConfig struct {
	// BaseURL points at the side-car's call endpoint (required).
	BaseURL string

	// Timeout bounds the outbound request; the Runtime's own per-attempt
	// timeout (policy.timeout_seconds) still wraps this at a higher
	// level via the request context.
	Timeout time.Duration

	// Headers are applied to every outbound request (e.g. a static
	// shared-secret header the side-car expects).
	Headers map[string]string

	Client *http.Client
}

// Validate checks BaseURL is a well-formed http(s) URL.
func (c *HTTPRemoteConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("adapter: base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("adapter: invalid base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("adapter: base_url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("adapter: base_url must include host")
	}
	return nil
}

// remoteEnvelope mirrors the subset of the Tool Result wire shape a
// side-car is expected to return.
type remoteEnvelope struct {
	OK     bool            `json:"ok"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  *rtp.ToolError  `json:"error,omitempty"`
}

// HTTPRemoteAdapter delegates invocation to a side-car over plain HTTP.
// It forwards {args, context}, accepts the same envelope shape the
// gateway itself produces, and translates a non-ok response into a typed
// failure raised back into the Runtime's pipeline so policy, retries, and
// auditing behave identically to an in-process adapter.
type HTTPRemoteAdapter struct {
	cfg    HTTPRemoteConfig
	client *http.Client
}

// NewHTTPRemoteAdapter validates cfg and returns a ready adapter.
func NewHTTPRemoteAdapter(cfg HTTPRemoteConfig) (*HTTPRemoteAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPRemoteAdapter{cfg: cfg, client: client}, nil
}

type remoteRequestBody struct {
	Args    json.RawMessage `json:"args"`
	Context rtp.CallContext `json:"context,omitempty"`
}

// Invoke implements Adapter.
func (a *HTTPRemoteAdapter) Invoke(ctx context.Context, args json.RawMessage, secrets map[string]string, callCtx rtp.CallContext) (json.RawMessage, error) {
	body, err := json.Marshal(remoteRequestBody{Args: args, Context: callCtx})
	if err != nil {
		return nil, fmt.Errorf("adapter: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("adapter: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}
	a.applyAuth(req, secrets)

	resp, err := a.client.Do(req)
	if err != nil {
		// Transport-level failure (DNS, connection refused, deadline):
		// a generic failure, eligible for the Runtime's retry path.
		return nil, fmt.Errorf("adapter: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("adapter: side-car returned HTTP %d", resp.StatusCode)
	}

	var env remoteEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("adapter: decode response: %w", err)
	}

	if !env.OK {
		if env.Error == nil {
			env.Error = &rtp.ToolError{Type: rtp.ErrUpstream, Message: "side-car reported failure with no error detail"}
		}
		return nil, env.Error
	}
	return env.Output, nil
}

// applyAuth applies nothing beyond the static headers already set on the
// request, and resolved secrets are not sent. The AWS SigV4 and OAuth2
// variants authenticate through the transport of their http.Client instead.
func (a *HTTPRemoteAdapter) applyAuth(_ *http.Request, _ map[string]string) {}
