// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

// Package manifest implements the MANIFEST.in command language used to
// select which files ship in a source distribution. A manifest is an
// ordered list of rules; later rules win, so an exclusion can carve a
// subtree out of an earlier recursive inclusion.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Command is one of the eight manifest directives.
type Command int

const (
	Include Command = iota
	Exclude
	RecursiveInclude
	RecursiveExclude
	GlobalInclude
	GlobalExclude
	Graft
	Prune
)

var commandNames = map[Command]string{
	Include:          "include",
	Exclude:          "exclude",
	RecursiveInclude: "recursive-include",
	RecursiveExclude: "recursive-exclude",
	GlobalInclude:    "global-include",
	GlobalExclude:    "global-exclude",
	Graft:            "graft",
	Prune:            "prune",
}

var commandsByName = func() map[string]Command {
	ret := make(map[string]Command, len(commandNames))
	for cmd, name := range commandNames {
		ret[name] = cmd
	}
	return ret
}()

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// Selects returns true for directives that add files to the selection
// and false for directives that remove them.
func (c Command) Selects() bool {
	switch c {
	case Include, RecursiveInclude, GlobalInclude, Graft:
		return true
	default:
		return false
	}
}

// Rule is a single parsed manifest line.
type Rule struct {
	// Cmd is the directive.
	Cmd Command

	// Dir is the directory argument of recursive-include,
	// recursive-exclude, graft and prune. Empty for other directives.
	Dir string

	// Patterns are the glob patterns of the rule. Graft and prune
	// have none.
	Patterns []string

	// Line is the 1-based line number the rule was parsed from, kept
	// for warnings about rules that match nothing.
	Line int
}

func (r Rule) String() string {
	parts := []string{r.Cmd.String()}
	if r.Dir != "" {
		parts = append(parts, r.Dir)
	}
	parts = append(parts, r.Patterns...)
	return strings.Join(parts, " ")
}

// Manifest is an ordered list of rules. Order is significant.
type Manifest []Rule

// ParseError describes a malformed manifest line.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("manifest line %d: %s: %q", e.Line, e.Err, e.Text)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var (
	errUnknownDirective = fmt.Errorf("unknown directive")
	errMissingPattern   = fmt.Errorf("directive needs at least one pattern")
	errMissingDir       = fmt.Errorf("directive needs a directory and at least one pattern")
	errSingleDir        = fmt.Errorf("directive takes exactly one directory")
	errBadPattern       = fmt.Errorf("malformed glob pattern")
)

// Parse reads a manifest. Blank lines and lines starting with # are
// skipped. Any malformed line aborts the parse with a *ParseError; a
// manifest with a typo silently shipping the wrong files is worse than
// a failed build.
func Parse(r io.Reader) (Manifest, error) {
	var m Manifest

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		cmd, ok := commandsByName[fields[0]]
		if !ok {
			return nil, &ParseError{Line: lineNo, Text: line, Err: errUnknownDirective}
		}

		rule := Rule{Cmd: cmd, Line: lineNo}
		args := fields[1:]
		switch cmd {
		case Include, Exclude, GlobalInclude, GlobalExclude:
			if len(args) == 0 {
				return nil, &ParseError{Line: lineNo, Text: line, Err: errMissingPattern}
			}
			rule.Patterns = args
		case RecursiveInclude, RecursiveExclude:
			if len(args) < 2 {
				return nil, &ParseError{Line: lineNo, Text: line, Err: errMissingDir}
			}
			rule.Dir = cleanDir(args[0])
			rule.Patterns = args[1:]
		case Graft, Prune:
			if len(args) != 1 {
				return nil, &ParseError{Line: lineNo, Text: line, Err: errSingleDir}
			}
			rule.Dir = cleanDir(args[0])
		}

		for _, p := range rule.Patterns {
			if !doublestar.ValidatePattern(p) {
				return nil, &ParseError{Line: lineNo, Text: line, Err: errBadPattern}
			}
		}

		m = append(m, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	return m, nil
}

// ParseFile reads a manifest from the named file.
func ParseFile(name string) (Manifest, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	return m, nil
}

// cleanDir normalizes a directory argument to a slash-separated
// relative path without a trailing slash.
func cleanDir(dir string) string {
	dir = strings.ReplaceAll(dir, `\`, "/")
	dir = path.Clean(dir)
	if dir == "." {
		dir = ""
	}
	return strings.TrimSuffix(dir, "/")
}
