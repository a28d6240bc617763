// Package prompt renders the built-in analysis prompt templates.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/kiranshivaraju/docsift/pkg/models"
)

var (
	ErrUnknownPrompt = errors.New("unknown prompt template")
	ErrEmptyPrompt   = errors.New("prompt is empty")
)

// Template ids.
const (
	General    = "general"
	Comparison = "comparison"
	Extraction = "extraction"
	MultipleAI = "multiple_ai"
	Custom     = "custom"
)

var sources = map[string]string{
	General: `You are a document analyst. Read the document provided by the user and write a concise
summary covering its purpose, key facts and any action items.
{{- if .Text}}

Additional instructions: {{.Text}}{{end}}`,

	Comparison: `You are a document analyst. The user provides {{if .Vars.count}}{{.Vars.count}} {{end}}documents,
each under a "=== Document N ===" header. Compare them: list what changed, what was added, what was
removed and any contradictions between them.
{{- if .Text}}

Focus: {{.Text}}{{end}}`,

	Extraction: `Extract the following information from the document provided by the user and answer as
a list of "field: value" lines. Use "unknown" for anything the document does not state.

Fields: {{.Text}}`,

	MultipleAI: `You are one of several independent reviewers of the same document. Give your own
analysis of the document provided by the user without hedging.
{{- if .Text}}

Question: {{.Text}}{{end}}`,

	Custom: `{{.Text}}`,
}

var templates = func() map[string]*template.Template {
	out := make(map[string]*template.Template, len(sources))
	for id, src := range sources {
		out[id] = template.Must(template.New(id).Option("missingkey=zero").Parse(src))
	}
	return out
}()

type data struct {
	Text string
	Vars map[string]string
}

// Resolve renders the template id with the caller's free text and variables.
// An empty id renders text verbatim.
func Resolve(id, text string, vars map[string]string) (string, error) {
	if id == "" {
		id = Custom
	}
	tmpl, ok := templates[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPrompt, id)
	}
	if id == Extraction && strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: extraction needs a field list", ErrEmptyPrompt)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data{Text: strings.TrimSpace(text), Vars: vars}); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", id, err)
	}
	out := strings.TrimSpace(buf.String())
	if out == "" {
		return "", ErrEmptyPrompt
	}
	return out, nil
}

// DefaultFor returns the template used for kind when the caller names none.
func DefaultFor(kind models.JobKind) string {
	switch kind {
	case models.JobKindComparison:
		return Comparison
	case models.JobKindMultipleAI:
		return MultipleAI
	case models.JobKindCustom:
		return Custom
	default:
		return General
	}
}

// IDs lists the available template ids.
func IDs() []string {
	ids := make([]string, 0, len(templates))
	for id := range templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
