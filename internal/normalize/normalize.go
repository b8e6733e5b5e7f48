// Package normalize cleans model-generated chapter text for display.
//
// The backend hands back chapter text in several shapes: plain prose, prose
// wrapped in fenced code blocks, whole JSON documents, or prose with JSON
// scaffolding leaking through. Normalize runs an ordered pipeline of small
// stages over the text; every stage is safe when its pattern is absent.
package normalize

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Stage is one named step of the pipeline. Apply returns the transformed text
// and done=true when the pipeline must stop and return out verbatim.
type Stage struct {
	Name  string
	Apply func(text string) (out string, done bool)
}

// Pipeline runs its stages in order over one piece of text.
type Pipeline struct {
	stages []Stage
}

var (
	fencePattern       = regexp.MustCompile("```[A-Za-z0-9_+-]*")
	titleKeyPattern    = regexp.MustCompile(`"title":\s*"[^"]*",?`)
	summaryKeyPattern  = regexp.MustCompile(`"summary":\s*"[^"]*",?`)
	takeawaysPattern   = regexp.MustCompile(`"key_takeaways":\s*\[[\s\S]*?\],?`)
	contentOpenPattern = regexp.MustCompile(`"content":\s*"`)
	trailingClosePat   = regexp.MustCompile(`"\}$`)
)

// The built-in stages, in the order the default pipeline runs them.
var (
	// Fences drops ``` markers along with any language tag.
	Fences = Stage{Name: "fences", Apply: func(text string) (string, bool) {
		return fencePattern.ReplaceAllString(text, ""), false
	}}

	// TripleQuotes removes """ delimiters.
	TripleQuotes = Stage{Name: "triple-quotes", Apply: func(text string) (string, bool) {
		return strings.ReplaceAll(text, `"""`, ""), false
	}}

	// JSONDocument ends the pipeline with the content of a whole JSON object.
	JSONDocument = Stage{Name: "json-document", Apply: jsonDocument}

	// JSONKeys strips title, summary, key_takeaways and content scaffolding.
	JSONKeys = Stage{Name: "json-keys", Apply: func(text string) (string, bool) {
		text = titleKeyPattern.ReplaceAllString(text, "")
		text = summaryKeyPattern.ReplaceAllString(text, "")
		text = takeawaysPattern.ReplaceAllString(text, "")
		text = contentOpenPattern.ReplaceAllString(text, "")
		text = trailingClosePat.ReplaceAllString(text, "")
		return text, false
	}}

	UnescapeQuotes = Stage{Name: "unescape-quotes", Apply: func(text string) (string, bool) {
		return strings.ReplaceAll(text, `\"`, `"`), false
	}}

	Trim = Stage{Name: "trim", Apply: func(text string) (string, bool) {
		return strings.TrimSpace(text), false
	}}
)

var defaultPipeline = New(Fences, TripleQuotes, JSONDocument, JSONKeys, UnescapeQuotes, Trim)

// New copies stages, so later changes to the slice do not leak in.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: append([]Stage(nil), stages...)}
}

// Default returns the pipeline used for chapter output.
func Default() *Pipeline {
	return defaultPipeline
}

// Stages lists stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, 0, len(p.stages))
	for _, stage := range p.stages {
		names = append(names, stage.Name)
	}
	return names
}

// Run applies each stage to the output of the previous one. A stage that
// reports done ends the run with its output.
func (p *Pipeline) Run(raw string) string {
	text := raw
	for _, stage := range p.stages {
		out, done := stage.Apply(text)
		if done {
			return out
		}
		text = out
	}
	return text
}

// Normalize runs the default pipeline over raw.
func Normalize(raw string) string {
	return defaultPipeline.Run(raw)
}

// NormalizePtr treats a nil input as empty text.
func NormalizePtr(raw *string) string {
	if raw == nil {
		return ""
	}
	return Normalize(*raw)
}

// jsonDocument returns the designated text field of a whole-document JSON
// object verbatim. Anything that only looks like an object falls through.
func jsonDocument(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return text, false
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return text, false
	}
	for _, key := range []string{"content", "chapter_content"} {
		if value, ok := fieldText(parsed[key]); ok {
			return value, true
		}
	}
	return text, false
}

// fieldText mirrors truthiness: empty strings, false, zero and null do not count.
func fieldText(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, v != ""
	case bool:
		if !v {
			return "", false
		}
	case float64:
		if v == 0 {
			return "", false
		}
	}
	blob, err := json.Marshal(value)
	if err != nil {
		return "", false
	}
	return string(blob), true
}
