// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Registry is an immutable set of profiles keyed by repository. GitHub
// treats owner and repository names case-insensitively, and so does
// the registry.
type Registry struct {
	byName  map[string]*Profile
	ordered []*Profile
}

// NewRegistry validates the profiles and indexes them. Duplicate
// repositories are rejected. The registry keeps its own copies.
func NewRegistry(profiles []Profile) (*Registry, error) {
	registry := &Registry{byName: make(map[string]*Profile, len(profiles))}
	for index := range profiles {
		stored := profiles[index]
		if err := stored.validate(); err != nil {
			return nil, fmt.Errorf("profile %d (%s): %w", index, stored.FullName(), err)
		}
		if stored.Queue == "" {
			stored.Queue = stored.FullName()
		}
		stored.Projects = slices.Clone(stored.Projects)
		stored.Schedules = slices.Clone(stored.Schedules)
		stored.RefHooks = maps.Clone(stored.RefHooks)
		stored.Members = maps.Clone(stored.Members)

		key := strings.ToLower(stored.FullName())
		if _, exists := registry.byName[key]; exists {
			return nil, fmt.Errorf("profile %d: duplicate repository %s", index, stored.FullName())
		}
		registry.byName[key] = &stored
		registry.ordered = append(registry.ordered, &stored)
	}
	return registry, nil
}

// Lookup returns the profile for owner/name.
func (r *Registry) Lookup(owner, name string) (*Profile, bool) {
	return r.LookupFullName(owner + "/" + name)
}

// LookupFullName returns the profile for an "owner/name" string.
func (r *Registry) LookupFullName(fullName string) (*Profile, bool) {
	found, ok := r.byName[strings.ToLower(fullName)]
	return found, ok
}

// All returns the profiles in configuration order.
func (r *Registry) All() []*Profile {
	return slices.Clone(r.ordered)
}

// Queues returns the distinct queue names, sorted.
func (r *Registry) Queues() []string {
	var names []string
	for _, entry := range r.ordered {
		if !slices.Contains(names, entry.Queue) {
			names = append(names, entry.Queue)
		}
	}
	slices.Sort(names)
	return names
}

// Len returns the number of profiles.
func (r *Registry) Len() int {
	return len(r.ordered)
}
