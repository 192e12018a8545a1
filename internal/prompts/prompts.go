// Package prompts renders the instructions sent to the generation backend.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Template names.
const (
	SystemTemplate   = "system.tmpl"
	ScaffoldTemplate = "scaffold.tmpl"
	PlanTemplate     = "plan.tmpl"
	CodeGenTemplate  = "codegen.tmpl"
)

var templates = template.Must(template.New("prompts").Option("missingkey=error").ParseFS(templateFS, "templates/*.tmpl"))

// Data feeds every template. Fields a template does not reference are ignored.
type Data struct {
	Language string
	Specs    string
	Scaffold string
	Filename string
	Fence    string
}

// Render executes the named template.
func Render(name string, data Data) (string, error) {
	if data.Fence == "" {
		data.Fence = strings.ToLower(data.Language)
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("prompts: render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// System renders the system prompt for language.
func System(language string) (string, error) {
	return Render(SystemTemplate, Data{Language: language})
}
