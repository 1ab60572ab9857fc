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
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2Config configures a remote adapter authenticated via the OAuth2
// client-credentials grant, for vendor tools (payment processors, CRM
// APIs) that authenticate service-to-service traffic with a bearer token
// obtained from a token endpoint rather than a static API key.
type OAuth2Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	Timeout      time.Duration
}

func (c *OAuth2Config) validate() error {
	if c.BaseURL == "" || c.ClientID == "" || c.ClientSecret == "" || c.TokenURL == "" {
		return fmt.Errorf("adapter: base_url, client_id, client_secret, and token_url are all required for oauth2")
	}
	return nil
}

// NewOAuth2RemoteAdapter returns a remote adapter whose http.Client
// automatically attaches and refreshes a client-credentials bearer
// token. The token is fetched lazily on first use and cached by the
// underlying oauth2.Transport until it expires.
func NewOAuth2RemoteAdapter(ctx context.Context, cfg OAuth2Config) (*HTTPRemoteAdapter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ccCfg := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := ccCfg.Client(ctx)
	client.Timeout = timeout

	return NewHTTPRemoteAdapter(HTTPRemoteConfig{BaseURL: cfg.BaseURL, Timeout: timeout, Client: client})
}
