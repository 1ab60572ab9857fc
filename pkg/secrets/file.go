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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Time        = 3
	argon2Memory      = 64 * 1024 // KB, i.e. 64MB
	argon2Parallelism = 4
	argon2KeyLength   = 32 // AES-256
	gcmNonceSize      = 12
)

// encryptedBlob is the on-disk shape of a FileResolver's backing store.
type encryptedBlob struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

// FileResolver resolves slots from a single AES-256-GCM encrypted JSON
// file, keyed by a master passphrase and salted per-file with an
// Argon2id-derived key. A slot with no entry in the file is omitted, not
// an error, per the Resolver contract.
type FileResolver struct {
	path      string
	masterKey []byte
	mu        sync.Mutex
}

// NewFileResolver returns a Resolver backed by an encrypted file at path,
// decrypted with masterKey. The file need not exist yet; Resolve simply
// finds nothing until a caller populates it out of band.
func NewFileResolver(path string, masterKey []byte) *FileResolver {
	return &FileResolver{path: path, masterKey: masterKey}
}

// Resolve implements Resolver.
func (f *FileResolver) Resolve(_ context.Context, slots []string, _ string) (map[string]string, error) {
	out := make(map[string]string, len(slots))

	f.mu.Lock()
	stored, err := f.load()
	f.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}

	for _, slot := range slots {
		if v, ok := stored[slot]; ok && v != "" {
			out[slot] = v
		}
	}
	return out, nil
}

func (f *FileResolver) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}

	var blob encryptedBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("secrets: invalid encrypted file format: %w", err)
	}

	key := argon2.IDKey(f.masterKey, blob.Salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLength)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: gcm init: %w", err)
	}

	plaintext, err := gcm.Open(nil, blob.Nonce, blob.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt: wrong master key or corrupted file: %w", err)
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("secrets: decoding decrypted payload: %w", err)
	}
	return secrets, nil
}

// Seal writes slots, replacing the file's prior contents, encrypted under
// a freshly generated salt and nonce. Used by operators to populate the
// backing file out of band; the Runtime pipeline only ever calls Resolve.
func (f *FileResolver) Seal(secrets map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("secrets: marshal: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("secrets: salt: %w", err)
	}
	key := argon2.IDKey(f.masterKey, salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLength)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("secrets: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("secrets: gcm init: %w", err)
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("secrets: nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	blob := encryptedBlob{Salt: salt, Nonce: nonce, Data: ciphertext}
	out, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("secrets: marshal blob: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("secrets: write temp: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("secrets: rename: %w", err)
	}
	return nil
}
