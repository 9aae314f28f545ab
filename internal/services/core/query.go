// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package core

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Params wraps the flattened parameter encoding of the AWS query
// protocol, where lists arrive as Prefix.member.1, Prefix.member.2 and
// structures as dotted paths.
type Params struct {
	values url.Values
}

// ParseRequest extracts query-protocol parameters from a request. POST
// bodies are form-encoded; GET requests carry the parameters in the
// URL.
func ParseRequest(req *http.Request) (Params, error) {
	if err := req.ParseForm(); err != nil {
		return Params{}, fmt.Errorf("parsing request parameters: %w", err)
	}
	values := req.PostForm
	if len(values) == 0 {
		values = req.URL.Query()
	}
	return Params{values: values}, nil
}

// ParamsFromValues wraps already-parsed values, mostly for tests.
func ParamsFromValues(values url.Values) Params {
	return Params{values: values}
}

// Action returns the Action parameter naming the operation.
func (p Params) Action() string {
	return p.Get("Action")
}

// Get returns a single parameter value, empty when absent.
func (p Params) Get(name string) string {
	return p.values.Get(name)
}

// Has reports whether the parameter is present at all.
func (p Params) Has(name string) bool {
	_, ok := p.values[name]
	return ok
}

// Int returns an integer parameter, or def when absent. A present but
// malformed value is an error; AWS rejects those rather than defaulting.
func (p Params) Int(name string, def int) (int, error) {
	raw := p.Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ValidationError("Value %q at %q failed to satisfy constraint: Member must be an integer", raw, name)
	}
	return v, nil
}

// Float returns a floating point parameter, or def when absent.
func (p Params) Float(name string, def float64) (float64, error) {
	raw := p.Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, ValidationError("Value %q at %q failed to satisfy constraint: Member must be a number", raw, name)
	}
	return v, nil
}

// Bool returns a boolean parameter, or def when absent.
func (p Params) Bool(name string, def bool) bool {
	switch p.Get(name) {
	case "true", "True":
		return true
	case "false", "False":
		return false
	default:
		return def
	}
}

// List collects prefix.member.1, prefix.member.2, ... in order. The
// numbering is 1-based and dense; the first gap ends the list.
func (p Params) List(prefix string) []string {
	var ret []string
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s.member.%d", prefix, i)
		if !p.Has(name) {
			break
		}
		ret = append(ret, p.Get(name))
	}
	return ret
}

// IndexedPrefixes iterates prefix.member.1, prefix.member.2, ... where
// each element is itself a structure, returning the dotted prefix for
// each element in order. The callback-free form keeps call sites flat.
func (p Params) IndexedPrefixes(prefix string) []string {
	var ret []string
	for i := 1; ; i++ {
		elem := fmt.Sprintf("%s.member.%d", prefix, i)
		if !p.hasWithPrefix(elem) {
			break
		}
		ret = append(ret, elem)
	}
	return ret
}

func (p Params) hasWithPrefix(prefix string) bool {
	if p.Has(prefix) {
		return true
	}
	dotted := prefix + "."
	for name := range p.values {
		if len(name) > len(dotted) && name[:len(dotted)] == dotted {
			return true
		}
	}
	return false
}
