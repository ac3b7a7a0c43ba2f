package declarative

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/entrhq/sitebridge/pkg/manifest"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		typ  manifest.OutputType
		want any
	}{
		{name: "affirmative sentence", raw: "Yes, you are eligible", typ: manifest.OutputBoolean, want: true},
		{name: "approved", raw: "APPROVED", typ: manifest.OutputBoolean, want: true},
		{name: "negation wins", raw: "You are not eligible", typ: manifest.OutputBoolean, want: false},
		{name: "negated approval", raw: "Application not yet approved", typ: manifest.OutputBoolean, want: false},
		{name: "contraction", raw: "You aren't eligible", typ: manifest.OutputBoolean, want: false},
		{name: "unrelated no after approval", raw: "Approved - no further documents required", typ: manifest.OutputBoolean, want: true},
		{name: "unrelated no after eligible", raw: "You are eligible. No action needed.", typ: manifest.OutputBoolean, want: true},
		{name: "ineligible", raw: "Ineligible", typ: manifest.OutputBoolean, want: false},
		{name: "unrelated text", raw: "Pending review", typ: manifest.OutputBoolean, want: false},
		{name: "currency", raw: "$1,234.50", typ: manifest.OutputNumber, want: 1234.5},
		{name: "spaced number", raw: " 2 500 ", typ: manifest.OutputNumber, want: 2500.0},
		{name: "unparseable number", raw: "N/A", typ: manifest.OutputNumber, want: nil},
		{name: "date passthrough", raw: "03/05/2024", typ: manifest.OutputDate, want: "03/05/2024"},
		{name: "text passthrough", raw: "Eligible", typ: manifest.OutputText, want: "Eligible"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Coerce(tt.raw, tt.typ))
		})
	}
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "3", Stringify(float64(3)))
	assert.Equal(t, "2500.75", Stringify(2500.75))
	assert.Equal(t, "7", Stringify(7))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "x", Stringify("x"))
}
