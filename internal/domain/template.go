package domain

import "time"

// TemplateEngine selects how a template's placeholders are expanded.
type TemplateEngine string

const (
	// EngineSimple expands {{key}} and {{key|"default"}} only.
	EngineSimple TemplateEngine = "simple"
	// EngineLiquid runs the full Liquid language with custom filters.
	EngineLiquid TemplateEngine = "liquid"
)

// Template is a named, reusable email body. Saving under an existing name
// overwrites it.
type Template struct {
	Name        string         `json:"name" db:"name"`
	Subject     string         `json:"subject" db:"subject"`
	HTMLContent string         `json:"html_content" db:"html_content"`
	TextContent string         `json:"text_content,omitempty" db:"text_content"`
	Variables   []string       `json:"variables" db:"variables"`
	Engine      TemplateEngine `json:"engine" db:"engine"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// EffectiveEngine defaults an unset engine to EngineSimple.
func (t *Template) EffectiveEngine() TemplateEngine {
	if t.Engine == "" {
		return EngineSimple
	}
	return t.Engine
}

// RenderedContent is a template after variable substitution.
type RenderedContent struct {
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body,omitempty"`
}
