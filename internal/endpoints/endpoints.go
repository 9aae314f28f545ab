// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

// Package endpoints is the registry of AWS service aliases that the edge
// server can stand in for, along with the resolution of each alias to
// the single local edge URL.
//
// The alias names follow the endpoint configuration keys of the
// Terraform AWS provider, so the map produced by Local can be dropped
// straight into a provider "endpoints" block to point an entire
// configuration at a running edge.
package endpoints

import (
	"fmt"
	"os"
	"sort"
)

// ServiceAlias is the provider-facing name of an AWS service, such as
// "s3" or "cloudformation".
type ServiceAlias string

// DefaultEdgeURL is where a locally running edge server listens when
// nothing overrides it.
const DefaultEdgeURL = "http://localhost:4566"

// DefaultEdgePort is the port component of DefaultEdgeURL.
const DefaultEdgePort = 4566

// Environment variables honored by EdgeURLFromEnv.
const (
	envEndpoint = "LOCALCLOUD_ENDPOINT"
	envPort     = "LOCALCLOUD_PORT"
)

// serviceAliases is the fixed registry of aliases the edge answers for.
// Keep this sorted; All relies on the order being stable.
var serviceAliases = []ServiceAlias{
	"accessanalyzer",
	"acm",
	"apigateway",
	"applicationautoscaling",
	"athena",
	"autoscaling",
	"backup",
	"batch",
	"cloudformation",
	"cloudfront",
	"cloudtrail",
	"cloudwatch",
	"cloudwatchevents",
	"cloudwatchlogs",
	"codebuild",
	"codecommit",
	"codepipeline",
	"cognitoidentity",
	"cognitoidp",
	"configservice",
	"databasemigrationservice",
	"dynamodb",
	"ec2",
	"ecr",
	"ecs",
	"efs",
	"eks",
	"elasticache",
	"elasticbeanstalk",
	"elasticsearch",
	"elb",
	"elbv2",
	"emr",
	"events",
	"firehose",
	"glacier",
	"glue",
	"iam",
	"iot",
	"kafka",
	"kinesis",
	"kms",
	"lambda",
	"mediastore",
	"organizations",
	"quicksight",
	"ram",
	"rds",
	"redshift",
	"resourcegroups",
	"resourcegroupstaggingapi",
	"route53",
	"route53resolver",
	"s3",
	"s3control",
	"sagemaker",
	"secretsmanager",
	"servicediscovery",
	"servicequotas",
	"ses",
	"sns",
	"sqs",
	"ssm",
	"stepfunctions",
	"sts",
	"swf",
	"transcribe",
	"xray",
}

// All returns every known service alias, sorted, always as a fresh
// slice so callers may reorder or filter their copy.
func All() []ServiceAlias {
	ret := make([]ServiceAlias, len(serviceAliases))
	copy(ret, serviceAliases)
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

// Known returns true if alias is a service the edge answers for.
func Known(alias ServiceAlias) bool {
	for _, a := range serviceAliases {
		if a == alias {
			return true
		}
	}
	return false
}

// Local maps every known service alias to the single edge URL. An
// empty baseURL means DefaultEdgeURL. The map is rebuilt on each call,
// so callers may freely mutate the result.
func Local(baseURL string) map[ServiceAlias]string {
	if baseURL == "" {
		baseURL = DefaultEdgeURL
	}
	ret := make(map[ServiceAlias]string, len(serviceAliases))
	for _, alias := range serviceAliases {
		ret[alias] = baseURL
	}
	return ret
}

// EdgeURLFromEnv resolves the edge URL from the environment:
// LOCALCLOUD_ENDPOINT wins outright, LOCALCLOUD_PORT replaces only the
// port of the default URL, and with neither set the default applies.
func EdgeURLFromEnv() string {
	if v := os.Getenv(envEndpoint); v != "" {
		return v
	}
	if v := os.Getenv(envPort); v != "" {
		return fmt.Sprintf("http://localhost:%s", v)
	}
	return DefaultEdgeURL
}
