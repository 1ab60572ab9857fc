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

// Package gateway implements the RGP HTTP surface: the routes, envelope
// encoding, and middleware the specification calls the Gateway Protocol.
package gateway

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// correlationKeyType is the context key under which the active
// correlation ID is stored.
type correlationKeyType struct{}

var correlationKey = correlationKeyType{}

// Header names accepted and emitted for correlation propagation.
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID      = "X-Request-ID"
)

var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

func isValidUUID(s string) bool {
	return uuidRegex.MatchString(s)
}

func correlationFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey).(string); ok {
		return id
	}
	return ""
}

// extractCorrelationID checks X-Correlation-ID first, then X-Request-ID.
func extractCorrelationID(r *http.Request) (string, bool) {
	if id := r.Header.Get(HeaderCorrelationID); id != "" {
		return id, true
	}
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return id, true
	}
	return "", false
}

// correlationMiddleware extracts or generates the correlation ID for a
// request, rejects malformed supplied IDs with 400, stores the ID in the
// request context, and echoes it on the response.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if supplied, found := extractCorrelationID(r); found {
			if !isValidUUID(supplied) {
				http.Error(w, "invalid correlation id: must be UUID", http.StatusBadRequest)
				return
			}
			id = supplied
		} else {
			id = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), correlationKey, id)
		w.Header().Set(HeaderCorrelationID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
