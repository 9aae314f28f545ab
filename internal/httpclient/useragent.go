// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package httpclient

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
)

const uaEnvVar = "LOCALCLOUD_APPEND_USER_AGENT"

// DefaultApplicationName is the product token used in the User-Agent
// header and in the AWS APN user agent products.
const DefaultApplicationName = "localcloud"

type userAgentRoundTripper struct {
	inner     http.RoundTripper
	userAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if _, ok := req.Header["User-Agent"]; !ok {
		req.Header.Set("User-Agent", rt.userAgent)
	}
	log.Printf("[TRACE] HTTP client %s request to %s", req.Method, req.URL.String())
	return rt.inner.RoundTrip(req)
}

// UserAgent returns the User-Agent header value sent with every request
// made by clients from this package. LOCALCLOUD_APPEND_USER_AGENT can
// append extra tokens, which is useful for tracing test traffic.
func UserAgent(version string) string {
	ua := fmt.Sprintf("%s/%s", DefaultApplicationName, version)

	if add := os.Getenv(uaEnvVar); add != "" {
		add = strings.TrimSpace(add)
		if len(add) > 0 {
			ua += " " + add
			log.Printf("[DEBUG] Using modified User-Agent: %s", ua)
		}
	}

	return ua
}
