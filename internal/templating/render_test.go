package templating

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		content string
		vars    map[string]string
		want    string
	}{
		{"plain value", "Hello {{name}}", map[string]string{"name": "Ana"}, "Hello Ana"},
		{"missing value blanks", "Pay here: {{paymentLink}}.", nil, "Pay here: ."},
		{"fallback when missing", `Hi {{name|"Guest"}}`, nil, "Hi Guest"},
		{"fallback when empty", `Hi {{name|"Guest"}}`, map[string]string{"name": ""}, "Hi Guest"},
		{"value beats fallback", `Hi {{name|"Guest"}}`, map[string]string{"name": "Ana"}, "Hi Ana"},
		{"empty fallback", `Hi {{name|""}}!`, nil, "Hi !"},
		{"whitespace tolerated", `{{ name | "x" }} {{ code }}`, map[string]string{"code": "7"}, "x 7"},
		{"repeated", "{{a}}-{{a}}", map[string]string{"a": "1"}, "1-1"},
		{"unclosed left alone", "Hello {{name", map[string]string{"name": "Ana"}, "Hello {{name"},
		{"unquoted fallback left alone", "Hi {{name|Guest}}", map[string]string{"name": "Ana"}, "Hi {{name|Guest}}"},
		{"bad name left alone", "{{first-name}}", map[string]string{"first-name": "Ana"}, "{{first-name}}"},
		{"empty braces left alone", "{{}}", nil, "{{}}"},
		{
			"confirmation scenario",
			`Hi {{customerName|"there"}}, confirmation {{code}}`,
			map[string]string{"code": "ABC123"},
			"Hi there, confirmation ABC123",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.content, tt.vars))
		})
	}
}

func TestRenderIsIdempotentOnRenderedOutput(t *testing.T) {
	vars := map[string]string{"name": "Ana", "table": "12"}
	once := Render(`<p>{{name|"Guest"}} at table {{table}} {{ missing }}</p>`, vars)
	assert.Equal(t, once, Render(once, vars))
	assert.Equal(t, once, Render(once, nil))
}

func TestRenderDoesNotRecurseIntoValues(t *testing.T) {
	out := Render("{{a}}", map[string]string{"a": "{{b}}", "b": "nope"})
	assert.Equal(t, "{{b}}", out)
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders(`Hi {{ name }}, {{code|"none"}} {{name}} {{bad-one}}`)
	assert.Equal(t, []string{"code", "name"}, got)
	assert.Empty(t, Placeholders("no variables"))
}
