package templating

import (
	"fmt"
	"sort"

	"github.com/ignite/mailflow/internal/domain"
)

// Engine renders stored templates with whichever syntax they declare.
type Engine struct {
	liquid *LiquidEngine
}

// NewEngine creates an Engine.
func NewEngine() *Engine {
	return &Engine{liquid: NewLiquidEngine()}
}

// Compile checks that a template can be rendered at all. Simple templates
// always compile; liquid templates are parsed.
func (e *Engine) Compile(tpl *domain.Template) error {
	if tpl.EffectiveEngine() != domain.EngineLiquid {
		return nil
	}
	for part, src := range parts(tpl) {
		if err := e.liquid.Compile(src); err != nil {
			return fmt.Errorf("template %s %s: %w", tpl.Name, part, err)
		}
	}
	return nil
}

// RenderTemplate expands subject, HTML and text bodies.
func (e *Engine) RenderTemplate(tpl *domain.Template, vars map[string]string) (domain.RenderedContent, error) {
	if tpl.EffectiveEngine() != domain.EngineLiquid {
		return domain.RenderedContent{
			Subject:  Render(tpl.Subject, vars),
			HTMLBody: Render(tpl.HTMLContent, vars),
			TextBody: Render(tpl.TextContent, vars),
		}, nil
	}

	var out domain.RenderedContent
	var err error
	if out.Subject, err = e.liquid.Render(tpl.Name+"/subject", tpl.Subject, vars); err != nil {
		return out, fmt.Errorf("render %s subject: %w", tpl.Name, err)
	}
	if out.HTMLBody, err = e.liquid.Render(tpl.Name+"/html", tpl.HTMLContent, vars); err != nil {
		return out, fmt.Errorf("render %s html: %w", tpl.Name, err)
	}
	if out.TextBody, err = e.liquid.Render(tpl.Name+"/text", tpl.TextContent, vars); err != nil {
		return out, fmt.Errorf("render %s text: %w", tpl.Name, err)
	}
	return out, nil
}

// RenderStrict renders like RenderTemplate but reports variables the
// caller did not supply. Simple templates list them instead of failing.
func (e *Engine) RenderStrict(tpl *domain.Template, vars map[string]string) (domain.RenderedContent, []string, error) {
	var missing []string
	for _, name := range Variables(tpl) {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if tpl.EffectiveEngine() == domain.EngineLiquid && len(missing) > 0 {
		for part, src := range parts(tpl) {
			if _, err := e.liquid.RenderStrict(src, vars); err != nil {
				return domain.RenderedContent{}, missing, fmt.Errorf("template %s %s: %w", tpl.Name, part, err)
			}
		}
	}
	out, err := e.RenderTemplate(tpl, vars)
	return out, missing, err
}

// Forget evicts cached parses after a template is overwritten or deleted.
func (e *Engine) Forget(name string) {
	for _, part := range []string{"/subject", "/html", "/text"} {
		e.liquid.Forget(name + part)
	}
}

// Variables lists every variable a template references.
func Variables(tpl *domain.Template) []string {
	seen := map[string]struct{}{}
	for _, src := range parts(tpl) {
		var names []string
		if tpl.EffectiveEngine() == domain.EngineLiquid {
			names = LiquidVariables(src)
		} else {
			names = Placeholders(src)
		}
		for _, n := range names {
			seen[n] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// UndeclaredVariables returns the referenced variables missing from
// tpl.Variables. Names in implicit are always considered declared.
func UndeclaredVariables(tpl *domain.Template, implicit ...string) []string {
	declared := map[string]bool{}
	for _, v := range tpl.Variables {
		declared[v] = true
	}
	for _, v := range implicit {
		declared[v] = true
	}
	var out []string
	for _, v := range Variables(tpl) {
		if !declared[v] {
			out = append(out, v)
		}
	}
	return out
}

func parts(tpl *domain.Template) map[string]string {
	p := map[string]string{"subject": tpl.Subject, "html": tpl.HTMLContent}
	if tpl.TextContent != "" {
		p["text"] = tpl.TextContent
	}
	return p
}
