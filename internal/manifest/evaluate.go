// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/localcloud/localcloud/internal/logging"
)

// Evaluate applies the manifest's rules, in order, to the candidate
// paths and returns the resulting selection. Candidates must be
// slash-separated paths relative to the distribution root. The output
// order is the candidate order.
//
// A rule that matches no candidate is logged at warn level, matching
// what setuptools does; it is not an error.
func (m Manifest) Evaluate(candidates []string) *FileSet {
	logger := logging.HCLogger().Named("manifest")
	selected := NewFileSet()

	// A candidate's fate depends only on the rules that match it, in
	// rule order, so each candidate is settled independently. That
	// keeps the selection in candidate order no matter how often a
	// path is excluded and re-included along the way.
	matched := make([]int, len(m))
	for _, candidate := range candidates {
		in := false
		for i, rule := range m {
			if !rule.matches(candidate) {
				continue
			}
			if rule.Cmd.Selects() {
				in = true
				matched[i]++
			} else {
				if in {
					matched[i]++
				}
				in = false
			}
		}
		if in {
			selected.Add(candidate)
		}
	}

	for i, rule := range m {
		if matched[i] == 0 {
			logger.Warn("no files matched manifest rule", "line", rule.Line, "rule", rule.String())
		}
	}

	return selected
}

// EvaluateDir walks root and evaluates the manifest over every regular
// file found. Symlinks are not followed. The walk is lexicographic, so
// the selection order is deterministic.
func (m Manifest) EvaluateDir(root string) (*FileSet, error) {
	var candidates []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		candidates = append(candidates, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	return m.Evaluate(candidates), nil
}

// matches reports whether the rule applies to the candidate path. All
// patterns were validated during Parse.
func (r Rule) matches(p string) bool {
	switch r.Cmd {
	case Include, Exclude:
		for _, pat := range r.Patterns {
			if doublestar.MatchUnvalidated(pat, p) {
				return true
			}
		}
	case RecursiveInclude, RecursiveExclude:
		for _, pat := range r.Patterns {
			if doublestar.MatchUnvalidated(prefixed(r.Dir, pat), p) {
				return true
			}
		}
	case GlobalInclude, GlobalExclude:
		for _, pat := range r.Patterns {
			if doublestar.MatchUnvalidated(prefixed("", pat), p) {
				return true
			}
		}
	case Graft, Prune:
		return p == r.Dir || strings.HasPrefix(p, r.Dir+"/")
	}
	return false
}

// prefixed builds the doublestar pattern that matches pat at any depth
// under dir. An empty dir means anywhere in the tree.
func prefixed(dir, pat string) string {
	if dir == "" {
		return "**/" + pat
	}
	return dir + "/**/" + pat
}
