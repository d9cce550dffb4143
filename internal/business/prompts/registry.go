// Package prompts holds the versioned prompt templates used by the LLM
// stages. Prompts are data: the pipeline records the template ID in the
// audit trail so every response stays reproducible.
package prompts

import (
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/anders-planck/parseur/internal/core"
)

// Key addresses one template. An empty DocumentType is the generic fallback
// used when no type-specific template exists.
type Key struct {
	Stage        core.Stage
	DocumentType core.DocumentType
	Version      int
}

// Template is a renderable prompt with a stable ID.
type Template struct {
	ID   string
	Key  Key
	Text string

	once   sync.Once
	parsed *template.Template
	err    error
}

// Render substitutes vars into the template.
func (t *Template) Render(vars map[string]string) (string, error) {
	t.once.Do(func() {
		t.parsed, t.err = template.New(t.ID).Option("missingkey=zero").Parse(t.Text)
	})
	if t.err != nil {
		return "", fmt.Errorf("parse template %s: %w", t.ID, t.err)
	}
	var b strings.Builder
	if err := t.parsed.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("render template %s: %w", t.ID, err)
	}
	return b.String(), nil
}

// Registry resolves templates by stage and document type, preferring the
// highest registered version and falling back to the generic template.
type Registry struct {
	mu        sync.RWMutex
	templates map[Key]*Template
}

// NewRegistry builds a registry preloaded with the built-in templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[Key]*Template)}
	for _, t := range builtinTemplates() {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a template.
func (r *Registry) Register(t *Template) {
	t.ID = fmt.Sprintf("%s/%s/v%d",
		strings.ToLower(string(t.Key.Stage)), typeSlug(t.Key.DocumentType), t.Key.Version)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Key] = t
}

// Resolve finds the newest template for (stage, docType), falling back to
// the generic one when the type has no dedicated prompt.
func (r *Registry) Resolve(stage core.Stage, docType core.DocumentType) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t := r.latest(stage, docType); t != nil {
		return t, nil
	}
	if t := r.latest(stage, ""); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("no prompt template registered for stage %s", stage)
}

func (r *Registry) latest(stage core.Stage, docType core.DocumentType) *Template {
	var best *Template
	for k, t := range r.templates {
		if k.Stage != stage || k.DocumentType != docType {
			continue
		}
		if best == nil || k.Version > best.Key.Version {
			best = t
		}
	}
	return best
}

func typeSlug(t core.DocumentType) string {
	if t == "" {
		return "generic"
	}
	return strings.ToLower(string(t))
}
