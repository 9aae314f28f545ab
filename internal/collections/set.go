// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

// Package collections holds small generic container types that have no
// better home elsewhere in the codebase.
package collections

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Set is a container that can hold each item only once and has a fast lookup time.
//
// You can define a new set like this:
//
//	var globalServices = collections.Set[string]{
//	    "ses": {},
//	    "iam": {},
//	}
type Set[T comparable] map[T]struct{}

// Has returns true if the item exists in the Set
func (s Set[T]) Has(value T) bool {
	_, ok := s[value]
	return ok
}

// Add inserts the item into the Set. Adding an item that is already
// present is a no-op.
func (s Set[T]) Add(value T) {
	s[value] = struct{}{}
}

// Remove deletes the item from the Set if present.
func (s Set[T]) Remove(value T) {
	delete(s, value)
}

// String creates a comma-separated list of all values in the set.
func (s Set[T]) String() string {
	parts := make([]string, len(s))
	i := 0
	for v := range s {
		parts[i] = fmt.Sprintf("%v", v)
		i++
	}

	slices.SortStableFunc(parts, func(a, b string) int {
		if a < b {
			return -1
		} else if b > a {
			return 1
		} else {
			return 0
		}
	})
	return strings.Join(parts, ", ")
}
