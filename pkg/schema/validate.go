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

// Package schema compiles and validates JSON-Schema documents for the
// Runtime pipeline's input/output validation steps.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Compiled wraps a compiled JSON-Schema document so it can be validated
// repeatedly without recompiling. Tool Definitions are immutable once
// registered (spec.md §3), so a Compiled schema is built once per
// registration and cached on the registered tool.
type Compiled struct {
	schema *jsonschema.Schema
}

// Compile parses and compiles a JSON-Schema document. An empty or absent
// document compiles to a permissive schema that accepts anything.
func Compile(doc json.RawMessage) (*Compiled, error) {
	if len(doc) == 0 {
		doc = []byte(`true`)
	}

	var parsed any
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("schema: invalid json: %w", err)
	}

	c := jsonschema.NewCompiler()
	const resourceName = "schema.json"
	if err := c.AddResource(resourceName, parsed); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	compiled, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	return &Compiled{schema: compiled}, nil
}

// Validate checks data (raw JSON) against the compiled schema. The
// returned error, when non-nil, is a *ValidationError carrying a
// human-readable pointer to the offending path.
func (c *Compiled) Validate(data json.RawMessage) error {
	var doc any
	if len(data) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(data, &doc); err != nil {
		return &ValidationError{Message: fmt.Sprintf("invalid json: %v", err)}
	}

	if err := c.schema.Validate(doc); err != nil {
		// The library's own Error() already embeds a JSON-pointer-shaped
		// path to the offending value, satisfying the specification's
		// "human-readable pointer to the offending path" requirement.
		return &ValidationError{Message: err.Error()}
	}
	return nil
}

// ValidationError is returned by Validate on schema mismatch.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
