// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package endpoints

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLocal(t *testing.T) {
	testcases := map[string]struct {
		baseURL  string
		expected string
	}{
		"default": {
			expected: "http://localhost:4566",
		},
		"custom": {
			baseURL:  "http://edge.internal:9000",
			expected: "http://edge.internal:9000",
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			got := Local(tc.baseURL)

			if len(got) != len(All()) {
				t.Fatalf("expected %d entries, got %d", len(All()), len(got))
			}
			for _, alias := range All() {
				url, ok := got[alias]
				if !ok {
					t.Fatalf("missing alias %q", alias)
				}
				if url != tc.expected {
					t.Fatalf("alias %q resolves to %q, want %q", alias, url, tc.expected)
				}
			}
		})
	}
}

func TestLocal_freshCopy(t *testing.T) {
	first := Local("")
	first["s3"] = "http://mutated.example.com"

	second := Local("")
	if second["s3"] != DefaultEdgeURL {
		t.Fatalf("mutating a returned map leaked into a later call: %q", second["s3"])
	}
}

func TestAll_sortedAndStable(t *testing.T) {
	got := All()
	if !sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }) {
		t.Fatal("All() is not sorted")
	}
	if diff := cmp.Diff(got, All()); diff != "" {
		t.Fatalf("All() is not stable between calls: %s", diff)
	}

	for _, alias := range []ServiceAlias{"s3", "ses", "cloudwatch", "cloudformation", "dynamodb", "kms", "sts"} {
		if !Known(alias) {
			t.Errorf("expected alias %q to be known", alias)
		}
	}
	if Known("not-a-service") {
		t.Error("unexpected alias is known")
	}
}

func TestEdgeURLFromEnv(t *testing.T) {
	testcases := map[string]struct {
		endpoint string
		port     string
		expected string
	}{
		"default":       {expected: DefaultEdgeURL},
		"endpoint wins": {endpoint: "https://localhost:4567", port: "9999", expected: "https://localhost:4567"},
		"port only":     {port: "4510", expected: "http://localhost:4510"},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(envEndpoint, tc.endpoint)
			t.Setenv(envPort, tc.port)

			if got := EdgeURLFromEnv(); got != tc.expected {
				t.Fatalf("got %q, want %q", got, tc.expected)
			}
		})
	}
}
