// Copyright 2026 Workforce Labs
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

package models

import (
	"errors"
	"fmt"
	"sort"
)

// ErrIntegrity is returned when the registry fails its startup integrity
// check. Callers are expected to abort process start on this error.
var ErrIntegrity = errors.New("model registry integrity check failed")

// ErrNotFound is returned when a model id is not registered.
var ErrNotFound = errors.New("model not found")

// Registry is the process-wide model catalog. It is populated once at
// construction and read-only afterwards, so lookups need no locking.
type Registry struct {
	specs map[string]*Spec
}

// NewRegistry builds a registry from the given specs. Duplicate ids and
// invalid specs are rejected.
func NewRegistry(specs []*Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]*Spec, len(specs))}
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		id := s.ID()
		if _, exists := r.specs[id]; exists {
			return nil, fmt.Errorf("duplicate model %s", id)
		}
		r.specs[id] = s
	}
	return r, nil
}

// VerifyIntegrity checks that every model in the minimum-supported set is
// present. required maps provider to the model ids that must exist; a
// missing entry aborts startup. This guards against accidental catalog
// downgrades.
func (r *Registry) VerifyIntegrity(required map[string][]string) error {
	var missing []string
	for provider, ids := range required {
		for _, model := range ids {
			if _, ok := r.specs[provider+"/"+model]; !ok {
				missing = append(missing, provider+"/"+model)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing %v", ErrIntegrity, missing)
	}
	return nil
}

// Get returns the spec for a "provider/model" id.
func (r *Registry) Get(id string) (*Spec, error) {
	s, ok := r.specs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Has reports whether the id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.specs[id]
	return ok
}

// List returns all specs sorted by id.
func (r *Registry) List() []*Spec {
	out := make([]*Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Count returns the number of registered models.
func (r *Registry) Count() int {
	return len(r.specs)
}

// ByProvider returns all specs for one provider, sorted by id.
func (r *Registry) ByProvider(provider string) []*Spec {
	var out []*Spec
	for _, s := range r.List() {
		if s.Provider == provider {
			out = append(out, s)
		}
	}
	return out
}

// WithCapabilities returns specs carrying every capability in caps.
func (r *Registry) WithCapabilities(caps []Capability) []*Spec {
	var out []*Spec
	for _, s := range r.List() {
		if s.HasAllCaps(caps) {
			out = append(out, s)
		}
	}
	return out
}

// UnderCost returns specs whose combined unit cost (input + output per
// million tokens) does not exceed maxCostPerM.
func (r *Registry) UnderCost(maxCostPerM float64) []*Spec {
	var out []*Spec
	for _, s := range r.List() {
		if s.InputCostPerM+s.OutputCostPerM <= maxCostPerM {
			out = append(out, s)
		}
	}
	return out
}

// Reasoning returns specs flagged with the reasoning capability.
func (r *Registry) Reasoning() []*Spec {
	return r.WithCapabilities([]Capability{CapReasoning})
}

// Multimodal returns specs accepting non-text input.
func (r *Registry) Multimodal() []*Spec {
	var out []*Spec
	for _, s := range r.List() {
		if s.IsMultimodal() {
			out = append(out, s)
		}
	}
	return out
}
