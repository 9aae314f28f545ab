// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"github.com/localcloud/localcloud/internal/collections"
)

// FileSet is an ordered, duplicate-free selection of slash-separated
// relative file paths. A path keeps the position it had when it was
// first added, even across a remove and re-add, which keeps evaluation
// deterministic for a given candidate list.
type FileSet struct {
	order   []string
	seen    collections.Set[string]
	members collections.Set[string]
}

// NewFileSet returns an empty FileSet.
func NewFileSet() *FileSet {
	return &FileSet{
		seen:    collections.Set[string]{},
		members: collections.Set[string]{},
	}
}

// Add selects a path. Adding a path that is already selected is a
// no-op and reports false. A path that was selected before and then
// removed returns to its original position.
func (fs *FileSet) Add(p string) bool {
	if fs.members.Has(p) {
		return false
	}
	fs.members.Add(p)
	if !fs.seen.Has(p) {
		fs.seen.Add(p)
		fs.order = append(fs.order, p)
	}
	return true
}

// Remove deselects a path, reporting whether it was selected.
func (fs *FileSet) Remove(p string) bool {
	if !fs.members.Has(p) {
		return false
	}
	fs.members.Remove(p)
	return true
}

// Has reports whether the path is currently selected.
func (fs *FileSet) Has(p string) bool {
	return fs.members.Has(p)
}

// Len returns the number of selected paths.
func (fs *FileSet) Len() int {
	return len(fs.members)
}

// Files returns the selected paths in selection order.
func (fs *FileSet) Files() []string {
	ret := make([]string, 0, len(fs.members))
	for _, p := range fs.order {
		if fs.members.Has(p) {
			ret = append(ret, p)
		}
	}
	return ret
}
