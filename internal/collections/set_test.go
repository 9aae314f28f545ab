// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package collections_test

import (
	"strings"
	"testing"

	"github.com/localcloud/localcloud/internal/collections"
)

type hasTestCase struct {
	name             string
	set              collections.Set[string]
	testValueResults map[string]bool
}

func TestSet_has(t *testing.T) {
	testCases := []hasTestCase{
		{
			name: "string",
			set: collections.Set[string]{
				"a": {},
				"b": {},
				"c": {},
			},
			testValueResults: map[string]bool{
				"a": true,
				"b": true,
				"c": true,
				"d": false,
				"e": false,
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			for value, has := range testCase.testValueResults {
				t.Run(value, func(t *testing.T) {
					if has {
						if !testCase.set.Has(value) {
							t.Fatalf("Set does not have expected value of %s", value)
						}
					} else {
						if testCase.set.Has(value) {
							t.Fatalf("Set has unexpected value of %s", value)
						}
					}
				})
			}
		})
	}
}

func TestSet_addRemove(t *testing.T) {
	testSet := collections.Set[string]{}
	testSet.Add("a")
	testSet.Add("a")
	if !testSet.Has("a") {
		t.Fatal("Set does not have expected value of a")
	}
	if len(testSet) != 1 {
		t.Fatalf("Expected a single element, got %d", len(testSet))
	}
	testSet.Remove("a")
	if testSet.Has("a") {
		t.Fatal("Set has unexpected value of a")
	}
}

func TestSet_string(t *testing.T) {
	testSet := collections.Set[string]{
		"a": {},
		"b": {},
		"c": {},
	}

	if str := testSet.String(); !strings.Contains(str, "a, b, c") {
		t.Fatalf("Incorrect string concatenation: %s", str)
	}
}
