// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package cloudformation

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/localcloud/localcloud/internal/backends"
	"github.com/localcloud/localcloud/internal/services/core"
)

const jsonTemplate = `{
  "Description": "a test stack",
  "Parameters": {
    "Env": {"Type": "String", "Default": "dev"}
  },
  "Resources": {
    "Bucket": {"Type": "AWS::S3::Bucket"}
  },
  "Outputs": {
    "EnvName": {
      "Value": {"Ref": "Env"},
      "Export": {"Name": "app-env"}
    },
    "Region": {"Value": {"Ref": "AWS::Region"}}
  }
}`

const yamlTemplate = `
Description: a yaml stack
Resources:
  Bucket:
    Type: AWS::S3::Bucket
Outputs:
  StackName:
    Value: {Ref: "AWS::StackName"}
`

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	return NewBackend(backends.DefaultAccountID, backends.DefaultRegion)
}

func TestCreateStack(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	stack, err := backend.CreateStack("app", jsonTemplate, nil, map[string]string{"team": "infra"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if !strings.HasPrefix(stack.ID, "arn:aws:cloudformation:us-east-1:123456789012:stack/app/") {
		t.Errorf("wrong stack id %q", stack.ID)
	}
	if stack.Status != "CREATE_COMPLETE" {
		t.Errorf("wrong status %q", stack.Status)
	}
	if stack.Description != "a test stack" {
		t.Errorf("wrong description %q", stack.Description)
	}
	if stack.Parameters["Env"] != "dev" {
		t.Errorf("parameter default was not applied: %v", stack.Parameters)
	}

	want := []Output{
		{Key: "EnvName", Value: "dev", ExportName: "app-env"},
		{Key: "Region", Value: "us-east-1"},
	}
	if diff := cmp.Diff(want, stack.Outputs); diff != "" {
		t.Errorf("wrong outputs: %s", diff)
	}

	events, err := backend.DescribeStackEvents("app")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// Newest first.
	if events[0].Status != "CREATE_COMPLETE" || events[1].Status != "CREATE_IN_PROGRESS" {
		t.Errorf("wrong event order: %+v", events)
	}
	if events[1].Reason != "User Initiated" {
		t.Errorf("wrong event reason %q", events[1].Reason)
	}
}

func TestCreateStack_yamlTemplate(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	stack, err := backend.CreateStack("yaml-app", yamlTemplate, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if stack.Description != "a yaml stack" {
		t.Errorf("wrong description %q", stack.Description)
	}
	want := []Output{{Key: "StackName", Value: "yaml-app"}}
	if diff := cmp.Diff(want, stack.Outputs); diff != "" {
		t.Errorf("wrong outputs: %s", diff)
	}
}

func TestCreateStack_errors(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	if _, err := backend.CreateStack("app", jsonTemplate, nil, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	tests := map[string]struct {
		name     string
		body     string
		wantCode string
	}{
		"duplicate name": {
			name:     "app",
			body:     jsonTemplate,
			wantCode: "AlreadyExistsException",
		},
		"empty template": {
			name:     "empty",
			body:     "",
			wantCode: "ValidationError",
		},
		"malformed template": {
			name:     "broken",
			body:     "{Outputs: [}",
			wantCode: "ValidationError",
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := backend.CreateStack(test.name, test.body, nil, nil)
			var apiErr *core.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != test.wantCode {
				t.Errorf("expected %s, got %v", test.wantCode, err)
			}
		})
	}
}

func TestCreateStack_duplicateExport(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	if _, err := backend.CreateStack("first", jsonTemplate, nil, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	_, err := backend.CreateStack("second", jsonTemplate, nil, nil)
	var apiErr *core.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "ValidationError" {
		t.Fatalf("expected ValidationError for a duplicate export, got %v", err)
	}
	if !strings.Contains(apiErr.Message, "app-env") {
		t.Errorf("error does not name the export: %s", apiErr.Message)
	}
}

func TestUpdateStack(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	if _, err := backend.CreateStack("app", jsonTemplate, nil, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// Same template and parameters is a no-op error.
	_, err := backend.UpdateStack("app", jsonTemplate, map[string]string{"Env": "dev"})
	var apiErr *core.APIError
	if !errors.As(err, &apiErr) || !strings.Contains(apiErr.Message, "No updates") {
		t.Fatalf("expected a no-updates error, got %v", err)
	}

	stack, err := backend.UpdateStack("app", "", map[string]string{"Env": "prod"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if stack.Status != "UPDATE_COMPLETE" {
		t.Errorf("wrong status %q", stack.Status)
	}
	if stack.Parameters["Env"] != "prod" {
		t.Errorf("parameters were not updated: %v", stack.Parameters)
	}
	if stack.Updated.IsZero() {
		t.Error("update time was not set")
	}

	// The export follows the new parameter value.
	exports, _, err := backend.ListExports("")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(exports) != 1 || exports[0].Value != "prod" {
		t.Errorf("wrong exports after update: %+v", exports)
	}

	if _, err := backend.UpdateStack("missing", jsonTemplate, nil); err == nil {
		t.Error("expected an error updating an unknown stack")
	}
}

func TestDeleteStack(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	stack, err := backend.CreateStack("app", jsonTemplate, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	backend.DeleteStack("app")
	backend.DeleteStack("never-existed")

	if _, err := backend.DescribeStacks("app"); err == nil {
		t.Error("expected an error describing a deleted stack by name")
	}

	// The full stack id still finds it.
	stacks, err := backend.DescribeStacks(stack.ID)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(stacks) != 1 || stacks[0].Status != "DELETE_COMPLETE" {
		t.Errorf("wrong deleted stack: %+v", stacks)
	}

	summaries := backend.ListStacks()
	if len(summaries) != 1 || summaries[0].Deleted.IsZero() {
		t.Errorf("deleted stack is missing from ListStacks: %+v", summaries)
	}

	// Its exports are released.
	exports, _, err := backend.ListExports("")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(exports) != 0 {
		t.Errorf("exports survived the delete: %+v", exports)
	}

	events, err := backend.DescribeStackEvents("app")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(events) != 4 || events[0].Status != "DELETE_COMPLETE" {
		t.Errorf("wrong events for a deleted stack: %+v", events)
	}
}

// exportingTemplate builds a template with one exported output.
func exportingTemplate(exportName, value string) string {
	return fmt.Sprintf(`{"Outputs": {"Out": {"Value": %q, "Export": {"Name": %q}}}}`, value, exportName)
}

func TestUpdateStack_rejectedExportClashLeavesStackUntouched(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	if _, err := backend.CreateStack("first", exportingTemplate("export-x", "1"), nil, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	originalBody := exportingTemplate("export-y", "2")
	if _, err := backend.CreateStack("second", originalBody, nil, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	_, err := backend.UpdateStack("second", exportingTemplate("export-x", "3"), nil)
	var apiErr *core.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "ValidationError" {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	// Both original exports survive the rejected update.
	exports, _, err := backend.ListExports("")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	names := map[string]string{}
	for _, e := range exports {
		names[e.Name] = e.Value
	}
	want := map[string]string{"export-x": "1", "export-y": "2"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("wrong exports after rejected update: %s", diff)
	}

	// The stack itself keeps its template, outputs and status.
	stacks, err := backend.DescribeStacks("second")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	got := stacks[0]
	if got.TemplateBody != originalBody {
		t.Errorf("template changed by a rejected update: %q", got.TemplateBody)
	}
	if got.Status != "CREATE_COMPLETE" {
		t.Errorf("status changed by a rejected update: %q", got.Status)
	}
	if len(got.Outputs) != 1 || got.Outputs[0].ExportName != "export-y" {
		t.Errorf("outputs changed by a rejected update: %+v", got.Outputs)
	}
	if !got.Updated.IsZero() {
		t.Error("update time set by a rejected update")
	}
}

func TestCreateStack_duplicateExportWithinStack(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	body := `{"Outputs": {
		"A": {"Value": "1", "Export": {"Name": "dup"}},
		"B": {"Value": "2", "Export": {"Name": "dup"}}
	}}`
	_, err := backend.CreateStack("app", body, nil, nil)
	var apiErr *core.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "ValidationError" {
		t.Fatalf("expected ValidationError for a duplicate export within one stack, got %v", err)
	}
	if !strings.Contains(apiErr.Message, "dup") {
		t.Errorf("error does not name the export: %s", apiErr.Message)
	}

	// Nothing was claimed.
	exports, _, err := backend.ListExports("")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(exports) != 0 {
		t.Errorf("exports leaked from a rejected create: %+v", exports)
	}
}

func TestDeleteStack_byID(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	stack, err := backend.CreateStack("app", yamlTemplate, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	backend.DeleteStack(stack.ID)

	if _, err := backend.DescribeStacks("app"); err == nil {
		t.Error("stack survived a delete by id")
	}
}

func TestDescribeStacks_missing(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	_, err := backend.DescribeStacks("missing")
	var apiErr *core.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "ValidationError" {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if apiErr.Message != "Stack with id missing does not exist" {
		t.Errorf("wrong message %q", apiErr.Message)
	}
}

func TestGetTemplate(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	if _, err := backend.CreateStack("app", yamlTemplate, nil, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	body, err := backend.GetTemplate("app")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if body != yamlTemplate {
		t.Errorf("wrong template body %q", body)
	}

	if _, err := backend.GetTemplate("missing"); err == nil {
		t.Error("expected an error for an unknown stack")
	}
}

func TestListExports_paging(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	for i := 0; i < ListExportsPageSize+5; i++ {
		body := fmt.Sprintf(`{"Outputs": {"Out": {"Value": "v", "Export": {"Name": "export-%04d"}}}}`, i)
		if _, err := backend.CreateStack(fmt.Sprintf("stack-%04d", i), body, nil, nil); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
	}

	page, next, err := backend.ListExports("")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(page) != ListExportsPageSize {
		t.Fatalf("expected a full page, got %d exports", len(page))
	}
	if next == "" {
		t.Fatal("expected a next token")
	}

	page, next, err = backend.ListExports(next)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(page) != 5 || next != "" {
		t.Errorf("wrong last page: %d exports, token %q", len(page), next)
	}

	if _, _, err := backend.ListExports("bogus"); err == nil {
		t.Error("expected an error for a bad token")
	}
}

func TestCreateChangeSet_create(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	cs, err := backend.CreateChangeSet("app", "initial", jsonTemplate, "CREATE", "first rollout", nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if !strings.HasPrefix(cs.ID, "arn:aws:cloudformation:us-east-1:123456789012:changeSet/initial/") {
		t.Errorf("wrong change set id %q", cs.ID)
	}
	if cs.Status != "CREATE_COMPLETE" || cs.ExecutionStatus != "AVAILABLE" {
		t.Errorf("wrong status %q/%q", cs.Status, cs.ExecutionStatus)
	}

	stacks, err := backend.DescribeStacks("app")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if stacks[0].Status != "REVIEW_IN_PROGRESS" {
		t.Errorf("staging a create should park the stack in review, got %q", stacks[0].Status)
	}
	if len(stacks[0].Outputs) != 0 {
		t.Errorf("staged stack should have no outputs yet: %v", stacks[0].Outputs)
	}
}

func TestCreateChangeSet_noChanges(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	if _, err := backend.CreateStack("app", jsonTemplate, nil, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	cs, err := backend.CreateChangeSet("app", "noop", jsonTemplate, "UPDATE", "", map[string]string{"Env": "dev"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if cs.Status != "FAILED" || cs.ExecutionStatus != "UNAVAILABLE" {
		t.Errorf("wrong status %q/%q", cs.Status, cs.ExecutionStatus)
	}
	if !strings.Contains(cs.StatusReason, "didn't contain changes") {
		t.Errorf("wrong status reason %q", cs.StatusReason)
	}

	err = backend.ExecuteChangeSet("noop")
	var apiErr *core.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "InvalidChangeSetStatus" {
		t.Errorf("expected InvalidChangeSetStatus, got %v", err)
	}
}

func TestCreateChangeSet_errors(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	if _, err := backend.CreateStack("app", jsonTemplate, nil, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	tests := map[string]struct {
		stack    string
		csType   string
		wantCode string
	}{
		"update of a missing stack": {
			stack:    "ghost",
			csType:   "UPDATE",
			wantCode: "ValidationError",
		},
		"create over an existing stack": {
			stack:    "app",
			csType:   "CREATE",
			wantCode: "AlreadyExistsException",
		},
		"bogus type": {
			stack:    "app",
			csType:   "REPLACE",
			wantCode: "ValidationError",
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := backend.CreateChangeSet(test.stack, "cs", yamlTemplate, test.csType, "", nil)
			var apiErr *core.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != test.wantCode {
				t.Errorf("expected %s, got %v", test.wantCode, err)
			}
		})
	}
}

func TestExecuteChangeSet_create(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	cs, err := backend.CreateChangeSet("app", "initial", jsonTemplate, "CREATE", "", map[string]string{"Env": "prod"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := backend.ExecuteChangeSet("initial"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	stacks, err := backend.DescribeStacks("app")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	stack := stacks[0]
	if stack.Status != "CREATE_COMPLETE" {
		t.Errorf("wrong status %q", stack.Status)
	}
	if stack.Parameters["Env"] != "prod" {
		t.Errorf("staged parameters were not applied: %v", stack.Parameters)
	}
	want := []Output{
		{Key: "EnvName", Value: "prod", ExportName: "app-env"},
		{Key: "Region", Value: "us-east-1"},
	}
	if diff := cmp.Diff(want, stack.Outputs); diff != "" {
		t.Errorf("wrong outputs: %s", diff)
	}

	described, err := backend.DescribeChangeSet(cs.ID)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if described.ExecutionStatus != "EXECUTE_COMPLETE" {
		t.Errorf("wrong execution status %q", described.ExecutionStatus)
	}
}

func TestExecuteChangeSet_update(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	if _, err := backend.CreateStack("app", exportingTemplate("app-env", "dev"), nil, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := backend.CreateChangeSet("app", "promote", exportingTemplate("app-env", "prod"), "UPDATE", "", nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := backend.ExecuteChangeSet("promote"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	stacks, err := backend.DescribeStacks("app")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	stack := stacks[0]
	if stack.Status != "UPDATE_COMPLETE" {
		t.Errorf("wrong status %q", stack.Status)
	}
	if stack.Updated.IsZero() {
		t.Error("executing an update should stamp the update time")
	}
	exports, _, err := backend.ListExports("")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(exports) != 1 || exports[0].Value != "prod" {
		t.Errorf("export was not re-registered: %v", exports)
	}
}

func TestExecuteChangeSet_exportClashLeavesStackUntouched(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	if _, err := backend.CreateStack("first", exportingTemplate("export-x", "1"), nil, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := backend.CreateStack("second", exportingTemplate("export-y", "2"), nil, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := backend.CreateChangeSet("second", "steal", exportingTemplate("export-x", "3"), "UPDATE", "", nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	err := backend.ExecuteChangeSet("steal")
	var apiErr *core.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "ValidationError" {
		t.Fatalf("expected ValidationError for the export clash, got %v", err)
	}

	exports, _, err := backend.ListExports("")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(exports) != 2 {
		t.Errorf("rejected execution dropped exports: %v", exports)
	}
	stacks, err := backend.DescribeStacks("second")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if stacks[0].Status != "CREATE_COMPLETE" {
		t.Errorf("rejected execution changed the stack status to %q", stacks[0].Status)
	}
}

func TestChangeSetLifecycle(t *testing.T) {
	t.Parallel()
	backend := newTestBackend(t)

	if _, err := backend.CreateStack("app", yamlTemplate, nil, nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	first, err := backend.CreateChangeSet("app", "first", jsonTemplate, "UPDATE", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := backend.CreateChangeSet("app", "second", exportingTemplate("x", "1"), "UPDATE", "", nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	sets := backend.ListChangeSets("app")
	if len(sets) != 2 || sets[0].Name != "first" || sets[1].Name != "second" {
		t.Fatalf("wrong change set list: %v", sets)
	}
	if got := backend.ListChangeSets("other"); len(got) != 0 {
		t.Errorf("expected no change sets for an unknown stack, got %v", got)
	}

	backend.DeleteChangeSet(first.ID)
	if _, err := backend.DescribeChangeSet("first"); err == nil {
		t.Error("expected an error describing a deleted change set")
	}
	// Deleting again is a no-op.
	backend.DeleteChangeSet("first")

	if sets := backend.ListChangeSets("app"); len(sets) != 1 || sets[0].Name != "second" {
		t.Errorf("wrong change set list after delete: %v", sets)
	}
}
