// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

// Package httpclient builds the HTTP clients localcloud uses for its own
// outgoing requests, with the project user agent attached.
package httpclient

import (
	"context"
	"net/http"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/localcloud/localcloud/version"
)

// New returns the DefaultPooledClient from the cleanhttp
// package that will also send a localcloud User-Agent string.
//
// If the given context has an active OpenTelemetry trace span associated
// with it then the returned client is also configured to collect traces
// for outgoing requests. The presence of an active span is only used as a
// heuristic for whether the caller is in a part of the codebase that has
// OpenTelemetry plumbing in place; each individual request still needs a
// context carrying a suitable parent span.
func New(ctx context.Context) *http.Client {
	cli := cleanhttp.DefaultPooledClient()
	cli.Transport = &userAgentRoundTripper{
		userAgent: UserAgent(version.String()),
		inner:     cli.Transport,
	}

	if span := otelTrace.SpanFromContext(ctx); span != nil && span.IsRecording() {
		// Without an active trace context each HTTP request would begin a
		// separate trace containing only that request, which is confusing
		// noise for whoever consumes the traces. So the tracing transport
		// is only attached when a span is already recording.
		cli.Transport = otelhttp.NewTransport(cli.Transport)
	}

	return cli
}
