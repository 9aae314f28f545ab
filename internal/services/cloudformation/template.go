// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

package cloudformation

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/localcloud/localcloud/internal/services/core"
)

// template is the parsed form of a stack template body. YAML is a
// superset of JSON, so one decoder covers both encodings.
type template struct {
	Description string                       `yaml:"Description"`
	Parameters  map[string]templateParameter `yaml:"Parameters"`
	Resources   map[string]templateResource  `yaml:"Resources"`
	Outputs     map[string]templateOutput    `yaml:"Outputs"`
}

type templateParameter struct {
	Type    string `yaml:"Type"`
	Default any    `yaml:"Default"`
}

type templateResource struct {
	Type       string         `yaml:"Type"`
	Properties map[string]any `yaml:"Properties"`
}

type templateOutput struct {
	Description string          `yaml:"Description"`
	Value       any             `yaml:"Value"`
	Export      *templateExport `yaml:"Export"`
}

type templateExport struct {
	Name any `yaml:"Name"`
}

func parseTemplate(body string) (*template, error) {
	if body == "" {
		return nil, core.ValidationError("TemplateBody must not be empty")
	}
	var tpl template
	if err := yaml.Unmarshal([]byte(body), &tpl); err != nil {
		return nil, core.ValidationError("Template format error: %s", err)
	}
	return &tpl, nil
}

// resolveParameters merges supplied parameter values over template
// defaults. A parameter with neither is an error.
func (t *template) resolveParameters(supplied map[string]string) (map[string]string, error) {
	resolved := map[string]string{}
	for name, param := range t.Parameters {
		if value, ok := supplied[name]; ok {
			resolved[name] = value
			continue
		}
		if param.Default != nil {
			resolved[name] = fmt.Sprintf("%v", param.Default)
			continue
		}
		return nil, core.ValidationError("Missing parameter %s", name)
	}
	return resolved, nil
}

// outputs evaluates the template's Outputs section against the stack's
// resolved parameters, in stable key order.
func (t *template) outputs(stack *Stack) []Output {
	names := make([]string, 0, len(t.Outputs))
	for name := range t.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	ret := make([]Output, 0, len(names))
	for _, name := range names {
		out := t.Outputs[name]
		output := Output{
			Key:         name,
			Value:       stack.resolve(out.Value),
			Description: out.Description,
		}
		if out.Export != nil {
			output.ExportName = stack.resolve(out.Export.Name)
		}
		ret = append(ret, output)
	}
	return ret
}

// resolve evaluates an output value. Plain scalars pass through;
// Ref and Fn::Sub-free intrinsics beyond Ref are not simulated and
// render as their parameter lookup or empty.
func (s *Stack) resolve(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]any:
		if ref, ok := v["Ref"].(string); ok {
			return s.resolveRef(ref)
		}
		return ""
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (s *Stack) resolveRef(ref string) string {
	switch ref {
	case "AWS::StackName":
		return s.Name
	case "AWS::StackId":
		return s.ID
	case "AWS::Region":
		return s.region
	case "AWS::AccountId":
		return s.accountID
	default:
		return s.Parameters[ref]
	}
}
