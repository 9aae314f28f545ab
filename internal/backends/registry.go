// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

// Package backends holds the in-memory simulation state registries. A
// registry lazily creates one backend value per (account, region) pair,
// which is how AWS partitions almost all of its state; services with
// global state, such as SES or IAM, use the fixed GlobalRegion key.
package backends

import (
	"sort"
	"sync"
)

// DefaultAccountID is the account requests resolve to when the
// credential scope does not carry one. Matches the moto default.
const DefaultAccountID = "123456789012"

// GlobalRegion is the region key used by services whose state is not
// regional.
const GlobalRegion = "global"

// DefaultRegion is used when a request carries no region at all.
const DefaultRegion = "us-east-1"

type registryKey struct {
	account string
	region  string
}

// Registry lazily creates and hands out one backend of type T per
// (account, region) pair. Safe for concurrent use; the edge serves
// requests from many goroutines.
type Registry[T any] struct {
	mu         sync.Mutex
	newBackend func(accountID, region string) T
	backends   map[registryKey]T
}

// NewRegistry returns a Registry that builds backends with newBackend.
func NewRegistry[T any](newBackend func(accountID, region string) T) *Registry[T] {
	return &Registry[T]{
		newBackend: newBackend,
		backends:   make(map[registryKey]T),
	}
}

// Get returns the backend for the account and region, creating it on
// first use. Empty arguments fall back to the defaults.
func (r *Registry[T]) Get(accountID, region string) T {
	if accountID == "" {
		accountID = DefaultAccountID
	}
	if region == "" {
		region = DefaultRegion
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := registryKey{account: accountID, region: region}
	backend, ok := r.backends[k]
	if !ok {
		backend = r.newBackend(accountID, region)
		r.backends[k] = backend
	}
	return backend
}

// Reset drops every backend. The next Get starts from a clean state.
// This powers the edge's internal reset API, which test suites call
// between cases.
func (r *Registry[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = make(map[registryKey]T)
}

// Regions returns the sorted regions that currently hold state for the
// account.
func (r *Registry[T]) Regions(accountID string) []string {
	if accountID == "" {
		accountID = DefaultAccountID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var ret []string
	for k := range r.backends {
		if k.account == accountID {
			ret = append(ret, k.region)
		}
	}
	sort.Strings(ret)
	return ret
}
