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

package secrets

import (
	"context"
	"errors"

	"github.com/zalando/go-keyring"
)

// KeychainResolver resolves slots from the OS keychain (macOS Keychain
// Access, Linux Secret Service, Windows Credential Manager) under a single
// service namespace. A slot with no matching entry is omitted, not an
// error, per the Resolver contract.
type KeychainResolver struct {
	service   string
	available bool
}

// NewKeychainResolver returns a Resolver backed by the OS keychain under
// the given service namespace. Availability is probed once at
// construction time; an unreachable keychain degrades every Resolve call
// to "nothing found" rather than failing it.
func NewKeychainResolver(service string) *KeychainResolver {
	r := &KeychainResolver{service: service, available: true}
	if _, err := keyring.Get(service, "__rig_availability_probe__"); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		r.available = false
	}
	return r
}

// Resolve implements Resolver.
func (k *KeychainResolver) Resolve(_ context.Context, slots []string, _ string) (map[string]string, error) {
	out := make(map[string]string, len(slots))
	if !k.available {
		return out, nil
	}
	for _, slot := range slots {
		v, err := keyring.Get(k.service, slot)
		if err != nil {
			continue
		}
		if v != "" {
			out[slot] = v
		}
	}
	return out, nil
}
