// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package cloudformation

import (
	"net/http"
	"sort"
	"time"

	"github.com/localcloud/localcloud/internal/backends"
	"github.com/localcloud/localcloud/internal/services/core"
)

const xmlns = "http://cloudformation.amazonaws.com/doc/2010-05-15/"

// Service exposes the CloudFormation backend over the AWS query
// protocol.
type Service struct {
	registry *backends.Registry[*Backend]
}

// New returns the CloudFormation service with empty state.
func New() *Service {
	return &Service{registry: backends.NewRegistry(NewBackend)}
}

// Name returns the service id used in credential scopes.
func (s *Service) Name() string {
	return "cloudformation"
}

// Reset drops all CloudFormation state.
func (s *Service) Reset() {
	s.registry.Reset()
}

// Backend returns the backend for an account and region.
func (s *Service) Backend(accountID, region string) *Backend {
	return s.registry.Get(accountID, region)
}

// Handle serves one query-protocol request.
func (s *Service) Handle(w http.ResponseWriter, req *http.Request, scope core.Scope) {
	params, err := core.ParseRequest(req)
	if err != nil {
		core.WriteError(w, core.ValidationError("%s", err))
		return
	}

	backend := s.Backend(scope.AccountID, scope.Region)
	action := params.Action()

	result, err := s.dispatch(backend, action, params)
	if err != nil {
		core.WriteError(w, err)
		return
	}
	core.WriteResponse(w, action, xmlns, result)
}

func (s *Service) dispatch(backend *Backend, action string, params core.Params) (any, error) {
	switch action {
	case "CreateStack":
		stack, err := backend.CreateStack(
			params.Get("StackName"),
			params.Get("TemplateBody"),
			keyValueList(params, "Parameters", "ParameterKey", "ParameterValue"),
			keyValueList(params, "Tags", "Key", "Value"),
		)
		if err != nil {
			return nil, err
		}
		return createStackResult{StackId: stack.ID}, nil
	case "UpdateStack":
		stack, err := backend.UpdateStack(
			params.Get("StackName"),
			params.Get("TemplateBody"),
			keyValueList(params, "Parameters", "ParameterKey", "ParameterValue"),
		)
		if err != nil {
			return nil, err
		}
		return updateStackResult{StackId: stack.ID}, nil
	case "DeleteStack":
		backend.DeleteStack(params.Get("StackName"))
		return nil, nil
	case "DescribeStacks":
		stacks, err := backend.DescribeStacks(params.Get("StackName"))
		if err != nil {
			return nil, err
		}
		return describeStacksResult{Stacks: stacksXML(stacks)}, nil
	case "ListStacks":
		return listStacksResult{StackSummaries: summariesXML(backend.ListStacks())}, nil
	case "DescribeStackEvents":
		events, err := backend.DescribeStackEvents(params.Get("StackName"))
		if err != nil {
			return nil, err
		}
		return describeStackEventsResult{StackEvents: eventsXML(events)}, nil
	case "GetTemplate":
		body, err := backend.GetTemplate(params.Get("StackName"))
		if err != nil {
			return nil, err
		}
		return getTemplateResult{TemplateBody: body}, nil
	case "CreateChangeSet":
		cs, err := backend.CreateChangeSet(
			params.Get("StackName"),
			params.Get("ChangeSetName"),
			params.Get("TemplateBody"),
			params.Get("ChangeSetType"),
			params.Get("Description"),
			keyValueList(params, "Parameters", "ParameterKey", "ParameterValue"),
		)
		if err != nil {
			return nil, err
		}
		return createChangeSetResult{Id: cs.ID, StackId: cs.StackID}, nil
	case "DescribeChangeSet":
		cs, err := backend.DescribeChangeSet(params.Get("ChangeSetName"))
		if err != nil {
			return nil, err
		}
		return describeChangeSetResult(cs), nil
	case "ExecuteChangeSet":
		if err := backend.ExecuteChangeSet(params.Get("ChangeSetName")); err != nil {
			return nil, err
		}
		return nil, nil
	case "DeleteChangeSet":
		backend.DeleteChangeSet(params.Get("ChangeSetName"))
		return nil, nil
	case "ListChangeSets":
		return listChangeSetsResult{Summaries: changeSetSummariesXML(backend.ListChangeSets(params.Get("StackName")))}, nil
	case "ListExports":
		exports, next, err := backend.ListExports(params.Get("NextToken"))
		if err != nil {
			return nil, err
		}
		return listExportsResult{Exports: exportsXML(exports), NextToken: next}, nil
	default:
		return nil, core.NewError("InvalidAction", "The action %s is not valid for this web service.", action)
	}
}

// keyValueList collects a list of key/value structures, such as
// Parameters.member.1.ParameterKey / .ParameterValue, into a map.
func keyValueList(params core.Params, prefix, keyName, valueName string) map[string]string {
	ret := map[string]string{}
	for _, elem := range params.IndexedPrefixes(prefix) {
		ret[params.Get(elem+"."+keyName)] = params.Get(elem + "." + valueName)
	}
	return ret
}

type createStackResult struct {
	StackId string `xml:"StackId"`
}

type updateStackResult struct {
	StackId string `xml:"StackId"`
}

type parameterXML struct {
	ParameterKey   string `xml:"ParameterKey"`
	ParameterValue string `xml:"ParameterValue"`
}

type tagXML struct {
	Key   string `xml:"Key"`
	Value string `xml:"Value"`
}

type outputXML struct {
	OutputKey   string `xml:"OutputKey"`
	OutputValue string `xml:"OutputValue"`
	Description string `xml:"Description,omitempty"`
	ExportName  string `xml:"ExportName,omitempty"`
}

type stackXML struct {
	StackId         string         `xml:"StackId"`
	StackName       string         `xml:"StackName"`
	Description     string         `xml:"Description,omitempty"`
	StackStatus     string         `xml:"StackStatus"`
	CreationTime    string         `xml:"CreationTime"`
	LastUpdatedTime string         `xml:"LastUpdatedTime,omitempty"`
	Parameters      []parameterXML `xml:"Parameters>member"`
	Tags            []tagXML       `xml:"Tags>member"`
	Outputs         []outputXML    `xml:"Outputs>member"`
}

func stacksXML(stacks []*Stack) []stackXML {
	ret := make([]stackXML, 0, len(stacks))
	for _, stack := range stacks {
		entry := stackXML{
			StackId:      stack.ID,
			StackName:    stack.Name,
			Description:  stack.Description,
			StackStatus:  stack.Status,
			CreationTime: stack.Created.Format(time.RFC3339),
		}
		if !stack.Updated.IsZero() {
			entry.LastUpdatedTime = stack.Updated.Format(time.RFC3339)
		}
		for key, value := range stack.Parameters {
			entry.Parameters = append(entry.Parameters, parameterXML{ParameterKey: key, ParameterValue: value})
		}
		sortParameters(entry.Parameters)
		for key, value := range stack.Tags {
			entry.Tags = append(entry.Tags, tagXML{Key: key, Value: value})
		}
		sortTags(entry.Tags)
		for _, output := range stack.Outputs {
			entry.Outputs = append(entry.Outputs, outputXML{
				OutputKey:   output.Key,
				OutputValue: output.Value,
				Description: output.Description,
				ExportName:  output.ExportName,
			})
		}
		ret = append(ret, entry)
	}
	return ret
}

func sortParameters(params []parameterXML) {
	sort.Slice(params, func(i, j int) bool { return params[i].ParameterKey < params[j].ParameterKey })
}

func sortTags(tags []tagXML) {
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
}

type describeStacksResult struct {
	Stacks []stackXML `xml:"Stacks>member"`
}

type createChangeSetResult struct {
	Id      string `xml:"Id"`
	StackId string `xml:"StackId"`
}

type changeSetXML struct {
	ChangeSetId     string         `xml:"ChangeSetId"`
	ChangeSetName   string         `xml:"ChangeSetName"`
	StackId         string         `xml:"StackId"`
	StackName       string         `xml:"StackName"`
	Description     string         `xml:"Description,omitempty"`
	Status          string         `xml:"Status"`
	ExecutionStatus string         `xml:"ExecutionStatus"`
	StatusReason    string         `xml:"StatusReason,omitempty"`
	CreationTime    string         `xml:"CreationTime"`
	Parameters      []parameterXML `xml:"Parameters>member"`
}

func describeChangeSetResult(cs *ChangeSet) changeSetXML {
	entry := changeSetXML{
		ChangeSetId:     cs.ID,
		ChangeSetName:   cs.Name,
		StackId:         cs.StackID,
		StackName:       cs.StackName,
		Description:     cs.Description,
		Status:          cs.Status,
		ExecutionStatus: cs.ExecutionStatus,
		StatusReason:    cs.StatusReason,
		CreationTime:    cs.Created.Format(time.RFC3339),
	}
	for key, value := range cs.Parameters {
		entry.Parameters = append(entry.Parameters, parameterXML{ParameterKey: key, ParameterValue: value})
	}
	sortParameters(entry.Parameters)
	return entry
}

type changeSetSummaryXML struct {
	ChangeSetId     string `xml:"ChangeSetId"`
	ChangeSetName   string `xml:"ChangeSetName"`
	StackId         string `xml:"StackId"`
	StackName       string `xml:"StackName"`
	Description     string `xml:"Description,omitempty"`
	Status          string `xml:"Status"`
	ExecutionStatus string `xml:"ExecutionStatus"`
	StatusReason    string `xml:"StatusReason,omitempty"`
	CreationTime    string `xml:"CreationTime"`
}

func changeSetSummariesXML(sets []*ChangeSet) []changeSetSummaryXML {
	ret := make([]changeSetSummaryXML, 0, len(sets))
	for _, cs := range sets {
		ret = append(ret, changeSetSummaryXML{
			ChangeSetId:     cs.ID,
			ChangeSetName:   cs.Name,
			StackId:         cs.StackID,
			StackName:       cs.StackName,
			Description:     cs.Description,
			Status:          cs.Status,
			ExecutionStatus: cs.ExecutionStatus,
			StatusReason:    cs.StatusReason,
			CreationTime:    cs.Created.Format(time.RFC3339),
		})
	}
	return ret
}

type listChangeSetsResult struct {
	Summaries []changeSetSummaryXML `xml:"Summaries>member"`
}

type stackSummaryXML struct {
	StackId             string `xml:"StackId"`
	StackName           string `xml:"StackName"`
	StackStatus         string `xml:"StackStatus"`
	CreationTime        string `xml:"CreationTime"`
	DeletionTime        string `xml:"DeletionTime,omitempty"`
	TemplateDescription string `xml:"TemplateDescription,omitempty"`
}

func summariesXML(stacks []*Stack) []stackSummaryXML {
	ret := make([]stackSummaryXML, 0, len(stacks))
	for _, stack := range stacks {
		entry := stackSummaryXML{
			StackId:             stack.ID,
			StackName:           stack.Name,
			StackStatus:         stack.Status,
			CreationTime:        stack.Created.Format(time.RFC3339),
			TemplateDescription: stack.Description,
		}
		if !stack.Deleted.IsZero() {
			entry.DeletionTime = stack.Deleted.Format(time.RFC3339)
		}
		ret = append(ret, entry)
	}
	return ret
}

type listStacksResult struct {
	StackSummaries []stackSummaryXML `xml:"StackSummaries>member"`
}

type eventXML struct {
	EventId              string `xml:"EventId"`
	StackId              string `xml:"StackId"`
	StackName            string `xml:"StackName"`
	LogicalResourceId    string `xml:"LogicalResourceId"`
	ResourceType         string `xml:"ResourceType"`
	ResourceStatus       string `xml:"ResourceStatus"`
	ResourceStatusReason string `xml:"ResourceStatusReason,omitempty"`
	Timestamp            string `xml:"Timestamp"`
}

func eventsXML(events []Event) []eventXML {
	ret := make([]eventXML, 0, len(events))
	for _, e := range events {
		ret = append(ret, eventXML{
			EventId:              e.ID,
			StackId:              e.StackID,
			StackName:            e.StackName,
			LogicalResourceId:    e.LogicalID,
			ResourceType:         e.Type,
			ResourceStatus:       e.Status,
			ResourceStatusReason: e.Reason,
			Timestamp:            e.Timestamp.Format(time.RFC3339),
		})
	}
	return ret
}

type describeStackEventsResult struct {
	StackEvents []eventXML `xml:"StackEvents>member"`
}

type getTemplateResult struct {
	TemplateBody string `xml:"TemplateBody"`
}

type exportXML struct {
	ExportingStackId string `xml:"ExportingStackId"`
	Name             string `xml:"Name"`
	Value            string `xml:"Value"`
}

func exportsXML(exports []Export) []exportXML {
	ret := make([]exportXML, 0, len(exports))
	for _, e := range exports {
		ret = append(ret, exportXML{ExportingStackId: e.StackID, Name: e.Name, Value: e.Value})
	}
	return ret
}

type listExportsResult struct {
	Exports   []exportXML `xml:"Exports>member"`
	NextToken string      `xml:"NextToken,omitempty"`
}
