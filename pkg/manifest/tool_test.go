package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/sitebridge/pkg/types"
)

const eligibilityCatalog = `
tools:
  - name: check_eligibility
    description: Check benefits eligibility
    read_only: true
    input_schema:
      type: object
      required: [householdSize, monthlyIncome]
      properties:
        householdSize: {type: integer, minimum: 1, maximum: 20}
        monthlyIncome: {type: number, minimum: 0}
        state: {type: string, enum: [CA, NY]}
        zip: {type: string, pattern: '^[0-9]{5}$'}
    declarative:
      url: https://benefits.example.gov/check
      ready_selector: "#form"
      inputs:
        monthlyIncome: {selector: "#income", type: number, required: true}
        householdSize: {selector: "#household", type: number, required: true}
        state: {selector: "#state", type: select}
      submit:
        selector: "#submit"
        done_selector: "#result"
      outputs:
        message: {selector: "#result .msg"}
        eligible: {selector: "#result .msg", type: boolean}
        benefit: {selector: "#amount", type: number, optional: true}
`

func TestParseCatalog(t *testing.T) {
	tools, err := ParseCatalog([]byte(eligibilityCatalog))
	require.NoError(t, err)
	require.Len(t, tools, 1)

	tool := tools[0]
	assert.True(t, tool.IsDeclarative())
	spec := tool.Declarative

	names := []string{}
	for _, in := range spec.Inputs {
		names = append(names, in.Name)
	}
	assert.Equal(t, []string{"monthlyIncome", "householdSize", "state"}, names, "inputs keep declaration order")
	assert.Equal(t, InputSelect, spec.Inputs[2].Type)

	outs := []string{}
	for _, out := range spec.Outputs {
		outs = append(outs, out.Name)
	}
	assert.Equal(t, []string{"message", "eligible", "benefit"}, outs)
	assert.Equal(t, OutputText, spec.Outputs[0].Type, "type defaults to text")
	assert.True(t, spec.Outputs[2].Optional)
}

func TestParseCatalogRejectsBrokenRecipes(t *testing.T) {
	tests := []struct {
		name    string
		catalog string
	}{
		{"missing submit", `
tools:
  - name: t
    description: d
    declarative:
      url: https://a.test
      inputs: {x: {selector: "#x"}}
`},
		{"input without selector", `
tools:
  - name: t
    description: d
    declarative:
      url: https://a.test
      inputs: {x: {required: true}}
      submit: {selector: "#go"}
`},
		{"unknown output type", `
tools:
  - name: t
    description: d
    declarative:
      url: https://a.test
      submit: {selector: "#go"}
      outputs: {x: {selector: "#x", type: money}}
`},
		{"duplicate", `
tools:
  - {name: t, description: d}
  - {name: t, description: d}
`},
		{"bad name", `
tools:
  - {name: Bad-Name, description: d}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.catalog))
			assert.Error(t, err)
		})
	}
}

func TestSchemaValidateArgs(t *testing.T) {
	tools, err := ParseCatalog([]byte(eligibilityCatalog))
	require.NoError(t, err)
	schema := tools[0].InputSchema

	tests := []struct {
		args    map[string]any
		name    string
		wantErr string
	}{
		{name: "valid json numbers", args: map[string]any{"householdSize": float64(3), "monthlyIncome": 1200.5}},
		{name: "valid ints", args: map[string]any{"householdSize": 3, "monthlyIncome": 0, "state": "CA"}},
		{name: "missing required", args: map[string]any{"householdSize": 3}, wantErr: "missing property 'monthlyIncome'"},
		{name: "null required", args: map[string]any{"householdSize": 3, "monthlyIncome": nil}, wantErr: "missing property 'monthlyIncome'"},
		{name: "wrong type", args: map[string]any{"householdSize": "three", "monthlyIncome": 1}, wantErr: "householdSize: got string, want integer"},
		{name: "fractional integer", args: map[string]any{"householdSize": 2.5, "monthlyIncome": 1}, wantErr: "householdSize: got number, want integer"},
		{name: "below minimum", args: map[string]any{"householdSize": 0, "monthlyIncome": 1}, wantErr: "householdSize: minimum: got 0, want 1"},
		{name: "enum", args: map[string]any{"householdSize": 1, "monthlyIncome": 1, "state": "TX"}, wantErr: "state: value must be one of"},
		{name: "optional null skipped", args: map[string]any{"householdSize": 1, "monthlyIncome": 1, "state": nil}},
		{name: "ecma pattern", args: map[string]any{"householdSize": 1, "monthlyIncome": 1, "zip": "12345"}},
		{name: "pattern", args: map[string]any{"householdSize": 1, "monthlyIncome": 1, "zip": "abc"}, wantErr: "zip: 'abc' does not match pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.ValidateArgs(tt.args)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, types.CodeValidation, types.CodeOf(err))
		})
	}
}

func TestCatalogRejectsInvalidPattern(t *testing.T) {
	_, err := ParseCatalog([]byte(`
tools:
  - name: lookup
    description: Look up a record
    input_schema:
      type: object
      properties:
        id: {type: string, pattern: '([a-z'}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input_schema")
}

func TestSchemaECMAPattern(t *testing.T) {
	// \cJ is an ECMA-262 control escape that RE2 does not accept.
	s := &Schema{Type: "object", Properties: map[string]*Schema{
		"code": {Type: "string", Pattern: `^\d{3}$`},
		"sep":  {Type: "string", Pattern: `^\cJ$`},
	}}
	require.NoError(t, s.Compile())

	assert.NoError(t, s.ValidateArgs(map[string]any{"code": "123", "sep": "\n"}))

	err := s.ValidateArgs(map[string]any{"code": "١٢٣"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code:")
	assert.Equal(t, types.CodeValidation, types.CodeOf(err))
}

func TestSchemaJSON(t *testing.T) {
	var nilSchema *Schema
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(nilSchema.JSON()))

	min := 1.0
	s := &Schema{Type: "object", Properties: map[string]*Schema{"n": {Type: "integer", Minimum: &min}}}
	assert.JSONEq(t, `{"type":"object","properties":{"n":{"type":"integer","minimum":1}}}`, string(s.JSON()))
}
