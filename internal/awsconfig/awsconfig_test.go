// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package awsconfig

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/localcloud/localcloud/internal/httpclient"
)

func TestNew_defaults(t *testing.T) {
	t.Setenv("LOCALCLOUD_ENDPOINT", "")
	t.Setenv("LOCALCLOUD_PORT", "")

	cfg, err := New(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if cfg.BaseEndpoint == nil {
		t.Fatal("BaseEndpoint is nil; clients could reach real AWS")
	}
	if got := aws.ToString(cfg.BaseEndpoint); got != "http://localhost:4566" {
		t.Errorf("BaseEndpoint is %q, want the default edge URL", got)
	}
	if cfg.Region != DefaultRegion {
		t.Errorf("Region is %q, want %q", cfg.Region, DefaultRegion)
	}

	creds, err := cfg.Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("retrieving credentials: %s", err)
	}
	if creds.AccessKeyID != DefaultAccessKey || creds.SecretAccessKey != DefaultSecretKey {
		t.Errorf("credentials are %q/%q, want %q/%q",
			creds.AccessKeyID, creds.SecretAccessKey, DefaultAccessKey, DefaultSecretKey)
	}
}

func TestNew_edgeURLOverride(t *testing.T) {
	testcases := map[string]struct {
		opts     Options
		envURL   string
		expected string
	}{
		"explicit option": {
			opts:     Options{EdgeURL: "http://edge.internal:9000"},
			expected: "http://edge.internal:9000",
		},
		"environment": {
			envURL:   "http://localhost:4567",
			expected: "http://localhost:4567",
		},
		"option beats environment": {
			opts:     Options{EdgeURL: "http://edge.internal:9000"},
			envURL:   "http://localhost:4567",
			expected: "http://edge.internal:9000",
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("LOCALCLOUD_ENDPOINT", tc.envURL)
			t.Setenv("LOCALCLOUD_PORT", "")

			cfg, err := New(context.Background(), tc.opts)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if got := aws.ToString(cfg.BaseEndpoint); got != tc.expected {
				t.Errorf("BaseEndpoint is %q, want %q", got, tc.expected)
			}
		})
	}
}

func TestNew_projectHTTPClient(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotUA = req.Header.Get("User-Agent")
	}))
	defer srv.Close()

	cfg, err := New(context.Background(), Options{EdgeURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if cfg.HTTPClient == nil {
		t.Fatal("config carries no HTTP client")
	}

	req, err := http.NewRequest("GET", srv.URL, nil)
	if err != nil {
		t.Fatalf("building request: %s", err)
	}
	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	resp.Body.Close()

	if !strings.HasPrefix(gotUA, httpclient.DefaultApplicationName+"/") {
		t.Errorf("User-Agent is %q, want the %s product token",
			gotUA, httpclient.DefaultApplicationName)
	}
}

func TestNewS3Client_pathStyleForced(t *testing.T) {
	t.Setenv("LOCALCLOUD_ENDPOINT", "")
	t.Setenv("LOCALCLOUD_PORT", "")

	cfg, err := New(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// Even a caller explicitly asking for virtual-hosted addressing
	// must end up with path style.
	client := NewS3Client(cfg, func(options *s3.Options) {
		options.UsePathStyle = false
	})
	if !client.Options().UsePathStyle {
		t.Fatal("UsePathStyle is false; the edge cannot serve virtual-hosted requests")
	}
}

func TestNewDynamoDBClient_endpoint(t *testing.T) {
	cfg, err := New(context.Background(), Options{EdgeURL: "http://localhost:4566"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	client := NewDynamoDBClient(cfg)
	if got := aws.ToString(client.Options().BaseEndpoint); got != "http://localhost:4566" {
		t.Errorf("BaseEndpoint is %q, want the edge URL", got)
	}
}

func TestNewKMSClient_endpoint(t *testing.T) {
	cfg, err := New(context.Background(), Options{EdgeURL: "http://localhost:4566"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	client := NewKMSClient(cfg)
	if got := aws.ToString(client.Options().BaseEndpoint); got != "http://localhost:4566" {
		t.Errorf("BaseEndpoint is %q, want the edge URL", got)
	}
}
