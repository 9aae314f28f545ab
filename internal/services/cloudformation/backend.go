// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

// Package cloudformation simulates the CloudFormation stack lifecycle.
// Stacks move through their status transitions synchronously; every
// transition is recorded as a stack event, and stack outputs with an
// Export block feed a region-wide export table.
package cloudformation

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/localcloud/localcloud/internal/services/core"
)

// ListExportsPageSize is how many exports one ListExports page carries.
const ListExportsPageSize = 100

// Stack is one CloudFormation stack.
type Stack struct {
	ID           string
	Name         string
	TemplateBody string
	Description  string
	Status       string
	StatusReason string
	Parameters   map[string]string
	Tags         map[string]string
	Outputs      []Output
	Created      time.Time
	Updated      time.Time
	Deleted      time.Time

	accountID string
	region    string
	template  *template
}

// Output is one stack output, optionally exported region-wide.
type Output struct {
	Key         string
	Value       string
	Description string
	ExportName  string
}

// Event is one stack event.
type Event struct {
	ID        string
	StackID   string
	StackName string
	LogicalID string
	Type      string
	Status    string
	Reason    string
	Timestamp time.Time
}

// Export is one region-wide exported output value.
type Export struct {
	StackID string
	Name    string
	Value   string
}

// ChangeSet is a staged create or update waiting to be executed
// against a stack.
type ChangeSet struct {
	ID              string
	Name            string
	Type            string
	StackID         string
	StackName       string
	TemplateBody    string
	Description     string
	Parameters      map[string]string
	Status          string
	ExecutionStatus string
	StatusReason    string
	Created         time.Time

	template *template
}

// Backend holds all CloudFormation state for one (account, region)
// pair.
type Backend struct {
	mu sync.Mutex

	accountID string
	region    string

	stacks     map[string]*Stack
	deleted    []*Stack
	events     map[string][]Event
	exports    map[string]Export
	changeSets map[string]*ChangeSet
}

// NewBackend returns an empty CloudFormation backend.
func NewBackend(accountID, region string) *Backend {
	return &Backend{
		accountID:  accountID,
		region:     region,
		stacks:     make(map[string]*Stack),
		events:     make(map[string][]Event),
		exports:    make(map[string]Export),
		changeSets: make(map[string]*ChangeSet),
	}
}

// CreateStack creates a stack from a template body and returns it. The
// stack passes through CREATE_IN_PROGRESS and lands in CREATE_COMPLETE
// immediately; both transitions appear in the event log.
func (b *Backend) CreateStack(name, templateBody string, parameters, tags map[string]string) (*Stack, error) {
	tpl, err := parseTemplate(templateBody)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.stacks[name]; ok {
		return nil, core.NewError("AlreadyExistsException", "Stack [%s] already exists", name)
	}

	stack := &Stack{
		ID:           fmt.Sprintf("arn:aws:cloudformation:%s:%s:stack/%s/%s", b.region, b.accountID, name, uuid.NewString()),
		Name:         name,
		TemplateBody: templateBody,
		Description:  tpl.Description,
		Tags:         tags,
		Created:      time.Now().UTC(),
		accountID:    b.accountID,
		region:       b.region,
		template:     tpl,
	}
	stack.Parameters, err = tpl.resolveParameters(parameters)
	if err != nil {
		return nil, err
	}
	stack.Outputs = tpl.outputs(stack)

	if err := b.validateExports(stack.ID, stack.Outputs); err != nil {
		return nil, err
	}
	b.registerExports(stack)

	b.stacks[name] = stack
	b.transition(stack, "CREATE_IN_PROGRESS", "User Initiated")
	b.transition(stack, "CREATE_COMPLETE", "")
	return stack, nil
}

// validateExports checks that the outputs' export names are unique,
// both within the stack itself and against the region's export table.
// Names the stack already owns do not count as clashes.
func (b *Backend) validateExports(stackID string, outputs []Output) error {
	seen := map[string]struct{}{}
	for _, output := range outputs {
		if output.ExportName == "" {
			continue
		}
		if _, ok := seen[output.ExportName]; ok {
			return core.ValidationError("Export with name %s is already exported. Rollback requested by user.", output.ExportName)
		}
		seen[output.ExportName] = struct{}{}
		if existing, ok := b.exports[output.ExportName]; ok && existing.StackID != stackID {
			return core.ValidationError("Export with name %s is already exported. Rollback requested by user.", output.ExportName)
		}
	}
	return nil
}

// registerExports claims the stack's export names. The outputs must
// have passed validateExports already.
func (b *Backend) registerExports(stack *Stack) {
	for _, output := range stack.Outputs {
		if output.ExportName != "" {
			b.exports[output.ExportName] = Export{
				StackID: stack.ID,
				Name:    output.ExportName,
				Value:   output.Value,
			}
		}
	}
}

func (b *Backend) dropExports(stack *Stack) {
	for name, export := range b.exports {
		if export.StackID == stack.ID {
			delete(b.exports, name)
		}
	}
}

// transition moves a stack to a new status and logs an event for it.
func (b *Backend) transition(stack *Stack, status, reason string) {
	stack.Status = status
	stack.StatusReason = reason
	b.events[stack.ID] = append(b.events[stack.ID], Event{
		ID:        uuid.NewString(),
		StackID:   stack.ID,
		StackName: stack.Name,
		LogicalID: stack.Name,
		Type:      "AWS::CloudFormation::Stack",
		Status:    status,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}

// UpdateStack replaces a stack's template and parameters.
func (b *Backend) UpdateStack(name, templateBody string, parameters map[string]string) (*Stack, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stack, ok := b.stacks[name]
	if !ok {
		return nil, stackNotFound(name)
	}
	if templateBody == "" {
		templateBody = stack.TemplateBody
	}
	if templateBody == stack.TemplateBody && parametersEqual(parameters, stack.Parameters) {
		return nil, core.ValidationError("No updates are to be performed.")
	}

	tpl, err := parseTemplate(templateBody)
	if err != nil {
		return nil, err
	}
	resolved, err := tpl.resolveParameters(parameters)
	if err != nil {
		return nil, err
	}

	// Evaluate the new outputs on a staged copy so a rejected update
	// leaves the stack and its current exports untouched.
	staged := *stack
	staged.Parameters = resolved
	outputs := tpl.outputs(&staged)
	if err := b.validateExports(stack.ID, outputs); err != nil {
		return nil, err
	}

	b.dropExports(stack)
	stack.TemplateBody = templateBody
	stack.Description = tpl.Description
	stack.Parameters = resolved
	stack.template = tpl
	stack.Outputs = outputs
	stack.Updated = time.Now().UTC()
	b.registerExports(stack)

	b.transition(stack, "UPDATE_IN_PROGRESS", "User Initiated")
	b.transition(stack, "UPDATE_COMPLETE", "")
	return stack, nil
}

func parametersEqual(supplied, current map[string]string) bool {
	if len(supplied) != len(current) {
		return false
	}
	for k, v := range supplied {
		if current[k] != v {
			return false
		}
	}
	return true
}

// DeleteStack removes a stack, addressed by name or full stack id.
// Deleting an unknown stack is a no-op, like the real service. Deleted
// stacks stay visible to ListStacks.
func (b *Backend) DeleteStack(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stack, ok := b.stacks[name]
	if !ok {
		for _, s := range b.stacks {
			if s.ID == name {
				stack, ok = s, true
				break
			}
		}
	}
	if !ok {
		return
	}
	b.transition(stack, "DELETE_IN_PROGRESS", "User Initiated")
	b.transition(stack, "DELETE_COMPLETE", "")
	stack.Deleted = time.Now().UTC()
	b.dropExports(stack)
	delete(b.stacks, stack.Name)
	b.deleted = append(b.deleted, stack)
}

// DescribeStacks returns live stacks, either all of them or the one
// named. The name may also be a full stack id, which finds deleted
// stacks too.
func (b *Backend) DescribeStacks(name string) ([]*Stack, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if name == "" {
		ret := make([]*Stack, 0, len(b.stacks))
		for _, stack := range b.stacks {
			ret = append(ret, stack)
		}
		sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
		return ret, nil
	}

	if stack, ok := b.stacks[name]; ok {
		return []*Stack{stack}, nil
	}
	for _, stack := range b.deleted {
		if stack.ID == name {
			return []*Stack{stack}, nil
		}
	}
	return nil, stackNotFound(name)
}

func stackNotFound(name string) error {
	return core.ValidationError("Stack with id %s does not exist", name)
}

// ListStacks returns every stack, deleted ones included.
func (b *Backend) ListStacks() []*Stack {
	b.mu.Lock()
	defer b.mu.Unlock()

	ret := make([]*Stack, 0, len(b.stacks)+len(b.deleted))
	for _, stack := range b.stacks {
		ret = append(ret, stack)
	}
	ret = append(ret, b.deleted...)
	sort.Slice(ret, func(i, j int) bool { return ret[i].Created.Before(ret[j].Created) })
	return ret
}

// DescribeStackEvents returns a stack's events, newest first.
func (b *Backend) DescribeStackEvents(name string) ([]Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stack, ok := b.stacks[name]
	if !ok {
		found := false
		for _, s := range b.deleted {
			if s.Name == name || s.ID == name {
				stack, found = s, true
				break
			}
		}
		if !found {
			return nil, stackNotFound(name)
		}
	}

	events := b.events[stack.ID]
	ret := make([]Event, len(events))
	for i, e := range events {
		ret[len(events)-1-i] = e
	}
	return ret, nil
}

// GetTemplate returns the template body a stack was created or last
// updated with.
func (b *Backend) GetTemplate(name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stack, ok := b.stacks[name]
	if !ok {
		return "", stackNotFound(name)
	}
	return stack.TemplateBody, nil
}

// ListExports returns the region's exports sorted by name, paged.
func (b *Backend) ListExports(nextToken string) ([]Export, string, error) {
	offset := 0
	if nextToken != "" {
		var err error
		offset, err = strconv.Atoi(nextToken)
		if err != nil || offset < 0 {
			return nil, "", core.ValidationError("Request parameter NextToken is invalid")
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	exports := make([]Export, 0, len(b.exports))
	for _, export := range b.exports {
		exports = append(exports, export)
	}
	sort.Slice(exports, func(i, j int) bool { return exports[i].Name < exports[j].Name })

	if offset >= len(exports) {
		return nil, "", nil
	}
	end := offset + ListExportsPageSize
	if end >= len(exports) {
		return exports[offset:], "", nil
	}
	return exports[offset:end], strconv.Itoa(end), nil
}

// noChangesReason is the service's wording for a change set that has
// nothing to apply.
const noChangesReason = "The submitted information didn't contain changes. Submit different information to create a change set."

// CreateChangeSet stages a create or update against a stack without
// applying it. A CREATE-type change set registers the stack in
// REVIEW_IN_PROGRESS; an UPDATE-type change set whose template and
// parameters match the stack's current ones is created FAILED with an
// UNAVAILABLE execution status.
func (b *Backend) CreateChangeSet(stackName, changeSetName, templateBody, changeSetType, description string, parameters map[string]string) (*ChangeSet, error) {
	tpl, err := parseTemplate(templateBody)
	if err != nil {
		return nil, err
	}
	if changeSetType == "" {
		changeSetType = "CREATE"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var stack *Stack
	switch changeSetType {
	case "UPDATE":
		var ok bool
		stack, ok = b.stacks[stackName]
		if !ok {
			return nil, stackNotFound(stackName)
		}
	case "CREATE":
		if _, ok := b.stacks[stackName]; ok {
			return nil, core.NewError("AlreadyExistsException", "Stack [%s] already exists", stackName)
		}
		stack = &Stack{
			ID:        fmt.Sprintf("arn:aws:cloudformation:%s:%s:stack/%s/%s", b.region, b.accountID, stackName, uuid.NewString()),
			Name:      stackName,
			Created:   time.Now().UTC(),
			accountID: b.accountID,
			region:    b.region,
		}
		b.stacks[stackName] = stack
		b.transition(stack, "REVIEW_IN_PROGRESS", "User Initiated")
	default:
		return nil, core.ValidationError("ChangeSetType %s is invalid", changeSetType)
	}

	cs := &ChangeSet{
		ID:           fmt.Sprintf("arn:aws:cloudformation:%s:%s:changeSet/%s/%s", b.region, b.accountID, changeSetName, uuid.NewString()),
		Name:         changeSetName,
		Type:         changeSetType,
		StackID:      stack.ID,
		StackName:    stack.Name,
		TemplateBody: templateBody,
		Description:  description,
		Parameters:   parameters,
		Created:      time.Now().UTC(),
		template:     tpl,
	}
	if changeSetType == "UPDATE" && templateBody == stack.TemplateBody && parametersEqual(parameters, stack.Parameters) {
		cs.Status = "FAILED"
		cs.ExecutionStatus = "UNAVAILABLE"
		cs.StatusReason = noChangesReason
	} else {
		cs.Status = "CREATE_COMPLETE"
		cs.ExecutionStatus = "AVAILABLE"
	}
	b.changeSets[cs.ID] = cs
	return cs, nil
}

// findChangeSet looks a change set up by full id or by name. The
// caller holds the lock.
func (b *Backend) findChangeSet(nameOrID string) (*ChangeSet, error) {
	if cs, ok := b.changeSets[nameOrID]; ok {
		return cs, nil
	}
	for _, cs := range b.changeSets {
		if cs.Name == nameOrID {
			return cs, nil
		}
	}
	return nil, core.NewError("ChangeSetNotFound", "ChangeSet [%s] does not exist", nameOrID)
}

// DescribeChangeSet returns a change set by name or full id.
func (b *Backend) DescribeChangeSet(nameOrID string) (*ChangeSet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.findChangeSet(nameOrID)
}

// ExecuteChangeSet applies a change set to its stack and marks it
// EXECUTE_COMPLETE. Only change sets in the AVAILABLE execution status
// can run.
func (b *Backend) ExecuteChangeSet(nameOrID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cs, err := b.findChangeSet(nameOrID)
	if err != nil {
		return err
	}
	if cs.ExecutionStatus != "AVAILABLE" {
		return core.NewError("InvalidChangeSetStatus", "ChangeSet [%s] cannot be executed in its current execution status of %s", cs.ID, cs.ExecutionStatus)
	}

	stack, ok := b.stacks[cs.StackName]
	if !ok || stack.ID != cs.StackID {
		return stackNotFound(cs.StackName)
	}

	resolved, err := cs.template.resolveParameters(cs.Parameters)
	if err != nil {
		return err
	}
	staged := *stack
	staged.Parameters = resolved
	outputs := cs.template.outputs(&staged)
	if err := b.validateExports(stack.ID, outputs); err != nil {
		return err
	}

	b.dropExports(stack)
	stack.TemplateBody = cs.TemplateBody
	stack.Description = cs.template.Description
	stack.Parameters = resolved
	stack.template = cs.template
	stack.Outputs = outputs
	b.registerExports(stack)

	if cs.Type == "CREATE" {
		b.transition(stack, "CREATE_IN_PROGRESS", "User Initiated")
		b.transition(stack, "CREATE_COMPLETE", "")
	} else {
		stack.Updated = time.Now().UTC()
		b.transition(stack, "UPDATE_IN_PROGRESS", "User Initiated")
		b.transition(stack, "UPDATE_COMPLETE", "")
	}
	cs.ExecutionStatus = "EXECUTE_COMPLETE"
	return nil
}

// DeleteChangeSet removes a change set by name or full id. Unknown
// change sets are a no-op, like DeleteStack.
func (b *Backend) DeleteChangeSet(nameOrID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cs, err := b.findChangeSet(nameOrID)
	if err != nil {
		return
	}
	delete(b.changeSets, cs.ID)
}

// ListChangeSets returns the change sets staged for a stack, oldest
// first. An empty name returns all of them.
func (b *Backend) ListChangeSets(stackName string) []*ChangeSet {
	b.mu.Lock()
	defer b.mu.Unlock()

	ret := make([]*ChangeSet, 0, len(b.changeSets))
	for _, cs := range b.changeSets {
		if stackName == "" || cs.StackName == stackName || cs.StackID == stackName {
			ret = append(ret, cs)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Created.Before(ret[j].Created) })
	return ret
}
