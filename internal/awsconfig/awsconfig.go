// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

// Package awsconfig builds AWS SDK v2 configurations that are pinned at
// a localcloud edge instead of real AWS. Every client produced here
// carries a non-nil BaseEndpoint, static throwaway credentials and, for
// S3, forced path-style addressing, so nothing can ever escape to the
// real cloud by accident.
package awsconfig

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsbase "github.com/hashicorp/aws-sdk-go-base/v2"
	basediag "github.com/hashicorp/aws-sdk-go-base/v2/diag"
	baselogging "github.com/hashicorp/aws-sdk-go-base/v2/logging"
	"github.com/hashicorp/go-multierror"

	"github.com/localcloud/localcloud/internal/endpoints"
	"github.com/localcloud/localcloud/internal/httpclient"
	"github.com/localcloud/localcloud/internal/logging"
	"github.com/localcloud/localcloud/version"
)

// Static credentials accepted by the edge. The edge parses signatures
// but never verifies them, so any value works; these match what moto
// and LocalStack document.
const (
	DefaultAccessKey = "test"
	DefaultSecretKey = "test"
	DefaultRegion    = "us-east-1"
)

// Options adjusts the configuration built by New. The zero value is a
// working configuration against a default local edge.
type Options struct {
	// EdgeURL overrides the edge base URL. Empty means the value
	// resolved from the environment, falling back to
	// endpoints.DefaultEdgeURL.
	EdgeURL string

	// Region is the region clients report in their credential scope.
	// Empty means DefaultRegion.
	Region string

	// AccessKey and SecretKey override the throwaway credentials.
	AccessKey string
	SecretKey string

	// MaxRetries caps SDK retry attempts. Zero means the SDK default.
	MaxRetries int
}

func (o Options) withDefaults() Options {
	if o.EdgeURL == "" {
		o.EdgeURL = endpoints.EdgeURLFromEnv()
	}
	if o.Region == "" {
		o.Region = DefaultRegion
	}
	if o.AccessKey == "" {
		o.AccessKey = DefaultAccessKey
	}
	if o.SecretKey == "" {
		o.SecretKey = DefaultSecretKey
	}
	return o
}

// New builds an aws.Config aimed at the local edge. All credential and
// account validation is skipped: the target is a simulator, not AWS.
func New(ctx context.Context, opts Options) (aws.Config, error) {
	opts = opts.withDefaults()

	ctx, baselog := attachLoggerToContext(ctx)

	cfg := &awsbase.Config{
		AccessKey:               opts.AccessKey,
		SecretKey:               opts.SecretKey,
		Region:                  opts.Region,
		CallerName:              "localcloud",
		CallerDocumentationURL:  "https://github.com/localcloud/localcloud",
		MaxRetries:              opts.MaxRetries,
		SkipCredsValidation:     true,
		SkipRequestingAccountId: true,

		// The edge runs on the same machine; never consult the
		// instance metadata service.
		EC2MetadataServiceEnableState: imds.ClientDisabled,

		// The shared client carries the project user agent and, when a
		// trace span is active, the OpenTelemetry transport.
		HTTPClient: httpclient.New(ctx),

		HTTPProxyMode: awsbase.HTTPProxyModeSeparate,
		APNInfo: &awsbase.APNInfo{
			PartnerName: "localcloud",
			Products: []awsbase.UserAgentProduct{
				{Name: httpclient.DefaultApplicationName, Version: version.String()},
			},
		},
		Logger: baselog,
	}

	_, awsConfig, awsDiags := awsbase.GetAwsConfig(ctx, cfg)

	var errs *multierror.Error
	for _, d := range awsDiags {
		if d.Severity() == basediag.SeverityError {
			errs = multierror.Append(errs, fmt.Errorf("%s: %s", d.Summary(), d.Detail()))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return aws.Config{}, fmt.Errorf("building AWS configuration for the local edge: %w", err)
	}

	awsConfig.BaseEndpoint = aws.String(opts.EdgeURL)

	return awsConfig, nil
}

func attachLoggerToContext(ctx context.Context) (context.Context, baselogging.HcLogger) {
	ctx, baselog := baselogging.NewHcLogger(ctx, logging.HCLogger().Named("awsconfig"))
	ctx = baselogging.RegisterLogger(ctx, baselog)
	return ctx, baselog
}

// NewS3Client returns an S3 client for the local edge. Path-style
// addressing is applied after all caller option functions, so it cannot
// be switched off: virtual-hosted addressing would require per-bucket
// DNS entries that a local edge does not have.
func NewS3Client(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
	fns := make([]func(*s3.Options), 0, len(optFns)+1)
	fns = append(fns, optFns...)
	fns = append(fns, func(options *s3.Options) {
		options.UsePathStyle = true
	})
	return s3.NewFromConfig(cfg, fns...)
}

// NewDynamoDBClient returns a DynamoDB client for the local edge.
func NewDynamoDBClient(cfg aws.Config, optFns ...func(*dynamodb.Options)) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg, optFns...)
}

// NewKMSClient returns a KMS client for the local edge.
func NewKMSClient(cfg aws.Config, optFns ...func(*kms.Options)) *kms.Client {
	return kms.NewFromConfig(cfg, optFns...)
}
