package agents

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"text/template"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// PromptRegistry renders the prompt for an agent.
type PromptRegistry interface {
	Render(agent string, data any) (string, error)
}

// TemplatePrompts renders prompts from text/template files. The template
// for an agent is its name with dashes replaced by underscores plus ".tmpl".
type TemplatePrompts struct {
	tmpl *template.Template
}

var (
	defaultPrompts     *TemplatePrompts
	defaultPromptsOnce sync.Once
)

// DefaultPrompts returns the embedded templates. It panics if they fail to
// parse.
func DefaultPrompts() *TemplatePrompts {
	defaultPromptsOnce.Do(func() {
		p, err := ParsePrompts(promptFS, "prompts/*.tmpl")
		if err != nil {
			panic(err)
		}
		defaultPrompts = p
	})
	return defaultPrompts
}

// ParsePrompts parses every template in fsys matching pattern.
func ParsePrompts(fsys fs.FS, pattern string) (*TemplatePrompts, error) {
	tmpl, err := template.New("prompts").Funcs(promptFuncs).ParseFS(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	return &TemplatePrompts{tmpl: tmpl}, nil
}

// Render implements PromptRegistry.
func (p *TemplatePrompts) Render(agent string, data any) (string, error) {
	name := strings.ReplaceAll(agent, "-", "_") + ".tmpl"
	t := p.tmpl.Lookup(name)
	if t == nil {
		return "", fmt.Errorf("no prompt template for agent %s", agent)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

var promptFuncs = template.FuncMap{
	"join": strings.Join,
	"clip": clip,
	"add1": func(i int) int { return i + 1 },
	"citationTitles": func(cs []schema.Citation) string {
		if len(cs) == 0 {
			return "none"
		}
		titles := make([]string, 0, len(cs))
		for _, c := range cs {
			titles = append(titles, c.SourceTitle)
		}
		return strings.Join(titles, ", ")
	},
}

// clip cuts s to n runes and marks the cut with "...".
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
