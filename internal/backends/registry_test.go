// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package backends

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeBackend struct {
	account string
	region  string
}

func newTestRegistry() *Registry[*fakeBackend] {
	return NewRegistry(func(accountID, region string) *fakeBackend {
		return &fakeBackend{account: accountID, region: region}
	})
}

func TestRegistry_getCreatesOnce(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()

	first := r.Get(DefaultAccountID, "us-east-1")
	second := r.Get(DefaultAccountID, "us-east-1")
	if first != second {
		t.Fatal("two gets for the same key returned different backends")
	}

	other := r.Get(DefaultAccountID, "eu-west-1")
	if first == other {
		t.Fatal("different regions share a backend")
	}
}

func TestRegistry_defaults(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()

	backend := r.Get("", "")
	if backend.account != DefaultAccountID {
		t.Errorf("account is %q, want %q", backend.account, DefaultAccountID)
	}
	if backend.region != DefaultRegion {
		t.Errorf("region is %q, want %q", backend.region, DefaultRegion)
	}
}

func TestRegistry_reset(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()

	before := r.Get(DefaultAccountID, "us-east-1")
	r.Reset()
	after := r.Get(DefaultAccountID, "us-east-1")
	if before == after {
		t.Fatal("backend survived a reset")
	}
}

func TestRegistry_regions(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.Get(DefaultAccountID, "us-west-2")
	r.Get(DefaultAccountID, "us-east-1")
	r.Get("999999999999", "eu-central-1")

	got := r.Regions(DefaultAccountID)
	if diff := cmp.Diff([]string{"us-east-1", "us-west-2"}, got); diff != "" {
		t.Fatalf("wrong regions: %s", diff)
	}
}

func TestRegistry_concurrentGet(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()

	var wg sync.WaitGroup
	results := make([]*fakeBackend, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Get(DefaultAccountID, "us-east-1")
		}(i)
	}
	wg.Wait()

	for i, backend := range results {
		if backend != results[0] {
			t.Fatalf("goroutine %d got a different backend", i)
		}
	}
}
