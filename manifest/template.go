package manifest

import (
	"maps"
	"os"
	"strings"
	"text/template"
)

// templateEngine renders manifest values with the defines as data.
type templateEngine struct {
	defines map[string]string
	funcs   template.FuncMap
}

// newTemplateEngine creates a new engine with the provided global definitions.
//
// Besides the defines, templates can read the environment with
// {{ env "NAME" }}, and fall back to a value with {{ env "NAME" | default "x" }}.
func newTemplateEngine(defines map[string]string) *templateEngine {
	d := make(map[string]string, len(defines))
	maps.Copy(d, defines)
	return &templateEngine{
		defines: d,
		funcs: template.FuncMap{
			"env": os.Getenv,
			"default": func(fallback, v string) string {
				if v == "" {
					return fallback
				}
				return v
			},
		},
	}
}

// render executes the provided text as a template using the engine's definitions.
// If the text does not contain "{{", it is returned as-is.
func (e *templateEngine) render(name, text string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	t, err := template.New(name).Funcs(e.funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := t.Execute(&buf, e.defines); err != nil {
		return "", err
	}
	return buf.String(), nil
}
