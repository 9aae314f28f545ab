// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package edge

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/localcloud/localcloud/internal/backends"
	"github.com/localcloud/localcloud/internal/services/core"
)

// credentialScope matches the credential component of a SigV4
// Authorization header: AKID/date/region/service/aws4_request.
var credentialScope = regexp.MustCompile(`Credential=([^/]+)/\d{8}/([^/]+)/([^/,]+)/aws4_request`)

// serviceNames maps the aliases a request may arrive under, in the
// credential scope or the host name, to the canonical signing name the
// dispatch table is keyed by.
var serviceNames = map[string]string{
	"ses":            "ses",
	"email":          "ses",
	"monitoring":     "monitoring",
	"cloudwatch":     "monitoring",
	"cloudformation": "cloudformation",
}

// targetPrefixes maps X-Amz-Target prefixes of the JSON protocol
// variants of the mounted services to their signing names.
var targetPrefixes = map[string]string{
	"GraniteServiceVersion20100801": "monitoring",
	"CloudFormation":                "cloudformation",
}

// scopeFromRequest decides which service and region a request targets.
// An X-Amz-Target header is checked first, then the SigV4 credential
// scope; without either the first host label is tried as a service
// alias, which is how SDK-less callers like curl reach a service.
func scopeFromRequest(req *http.Request) (core.Scope, bool) {
	scope := core.Scope{
		AccountID: backends.DefaultAccountID,
		Region:    backends.DefaultRegion,
	}

	if target := req.Header.Get("X-Amz-Target"); target != "" {
		prefix, _, _ := strings.Cut(target, ".")
		if name, ok := targetPrefixes[prefix]; ok {
			scope.Service = name
			// The credential scope still names the region.
			if m := credentialScope.FindStringSubmatch(req.Header.Get("Authorization")); m != nil {
				scope.Region = m[2]
			}
			return scope, true
		}
	}

	if m := credentialScope.FindStringSubmatch(req.Header.Get("Authorization")); m != nil {
		scope.Region = m[2]
		if name, ok := serviceNames[m[3]]; ok {
			scope.Service = name
			return scope, true
		}
		return scope, false
	}

	host := req.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if i := strings.IndexByte(host, '.'); i >= 0 {
		if name, ok := serviceNames[host[:i]]; ok {
			scope.Service = name
			return scope, true
		}
	}
	return scope, false
}
