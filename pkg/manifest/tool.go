package manifest

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// InputType controls how a declarative input is written to the page.
type InputType string

const (
	InputText       InputType = "text"
	InputNumber     InputType = "number"
	InputSelect     InputType = "select"      // choose by option value
	InputSelectText InputType = "select_text" // choose by visible option text
	InputCheckbox   InputType = "checkbox"
)

// OutputType controls how text read from the page is coerced.
type OutputType string

const (
	OutputText    OutputType = "text"
	OutputNumber  OutputType = "number"
	OutputBoolean OutputType = "boolean"
	OutputDate    OutputType = "date"
)

// ToolDefinition is one entry of an adapter's tool catalog.
type ToolDefinition struct {
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description" json:"description"`
	InputSchema *Schema          `yaml:"input_schema" json:"input_schema"`
	Declarative *DeclarativeSpec `yaml:"declarative,omitempty" json:"declarative,omitempty"`
	ReadOnly    bool             `yaml:"read_only" json:"read_only"`
}

// IsDeclarative reports whether the tool runs from a recipe.
func (t *ToolDefinition) IsDeclarative() bool {
	return t.Declarative != nil
}

// Validate checks the definition.
func (t *ToolDefinition) Validate() error {
	if err := ValidateToolName(t.Name); err != nil {
		return err
	}
	if t.Description == "" {
		return fmt.Errorf("tool %s: description cannot be empty", t.Name)
	}
	if t.InputSchema != nil && t.InputSchema.Type != "" && t.InputSchema.Type != "object" {
		return fmt.Errorf("tool %s: input_schema must describe an object", t.Name)
	}
	if err := t.InputSchema.Compile(); err != nil {
		return fmt.Errorf("tool %s: input_schema: %w", t.Name, err)
	}
	if t.Declarative != nil {
		if err := t.Declarative.Validate(); err != nil {
			return fmt.Errorf("tool %s: %w", t.Name, err)
		}
	}
	return nil
}

// InputField maps one tool argument onto a form control.
type InputField struct {
	Options  map[string]string `yaml:"options,omitempty"`
	Name     string            `yaml:"-"`
	Selector string            `yaml:"selector"`
	Type     InputType         `yaml:"type"`
	Required bool              `yaml:"required"`
}

// OutputField maps one result key onto a page element.
type OutputField struct {
	Name      string     `yaml:"-"`
	Selector  string     `yaml:"selector"`
	Type      OutputType `yaml:"type"`
	Attribute string     `yaml:"attribute,omitempty"`
	Optional  bool       `yaml:"optional"`
}

// InputFields keeps inputs in declaration order.
type InputFields []InputField

// UnmarshalYAML decodes a mapping of name to field, preserving key order.
func (f *InputFields) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: inputs must be a mapping", node.Line)
	}
	out := make(InputFields, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var field InputField
		if err := node.Content[i+1].Decode(&field); err != nil {
			return err
		}
		field.Name = node.Content[i].Value
		if field.Type == "" {
			field.Type = InputText
		}
		out = append(out, field)
	}
	*f = out
	return nil
}

// OutputFields keeps outputs in declaration order.
type OutputFields []OutputField

// UnmarshalYAML decodes a mapping of name to field, preserving key order.
func (f *OutputFields) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: outputs must be a mapping", node.Line)
	}
	out := make(OutputFields, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var field OutputField
		if err := node.Content[i+1].Decode(&field); err != nil {
			return err
		}
		field.Name = node.Content[i].Value
		if field.Type == "" {
			field.Type = OutputText
		}
		out = append(out, field)
	}
	*f = out
	return nil
}

// SubmitSpec describes how the form is submitted.
type SubmitSpec struct {
	Selector          string `yaml:"selector"`
	DoneSelector      string `yaml:"done_selector,omitempty"`
	WaitForNavigation bool   `yaml:"wait_for_navigation"`
}

// DeclarativeSpec is a data-only recipe: navigate, fill, submit, read.
type DeclarativeSpec struct {
	URL           string       `yaml:"url"`
	ReadySelector string       `yaml:"ready_selector,omitempty"`
	FirstClick    string       `yaml:"first_click,omitempty"`
	Inputs        InputFields  `yaml:"inputs"`
	Submit        SubmitSpec   `yaml:"submit"`
	Outputs       OutputFields `yaml:"outputs"`
	TimeoutMS     int          `yaml:"timeout_ms,omitempty"`
}

// Timeout returns the per-step timeout, zero meaning the capability default.
func (d *DeclarativeSpec) Timeout() time.Duration {
	return time.Duration(d.TimeoutMS) * time.Millisecond
}

// Validate checks that the recipe can be executed.
func (d *DeclarativeSpec) Validate() error {
	if d.URL == "" {
		return fmt.Errorf("declarative url cannot be empty")
	}
	for _, in := range d.Inputs {
		if in.Selector == "" {
			return fmt.Errorf("input %s: selector cannot be empty", in.Name)
		}
		switch in.Type {
		case InputText, InputNumber, InputSelect, InputSelectText, InputCheckbox:
		default:
			return fmt.Errorf("input %s: unknown type %q", in.Name, in.Type)
		}
	}
	if d.Submit.Selector == "" {
		return fmt.Errorf("submit selector cannot be empty")
	}
	for _, out := range d.Outputs {
		if out.Selector == "" {
			return fmt.Errorf("output %s: selector cannot be empty", out.Name)
		}
		switch out.Type {
		case OutputText, OutputNumber, OutputBoolean, OutputDate:
		default:
			return fmt.Errorf("output %s: unknown type %q", out.Name, out.Type)
		}
	}
	return nil
}

type catalogFile struct {
	Tools []*ToolDefinition `yaml:"tools"`
}

// LoadCatalog reads and validates a tools.yaml file.
func LoadCatalog(path string) ([]*ToolDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and validates catalog bytes.
func ParseCatalog(data []byte) ([]*ToolDefinition, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tool catalog: %w", err)
	}
	seen := make(map[string]bool, len(file.Tools))
	for _, t := range file.Tools {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("invalid tool catalog: %w", err)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("invalid tool catalog: duplicate tool %q", t.Name)
		}
		seen[t.Name] = true
	}
	return file.Tools, nil
}
