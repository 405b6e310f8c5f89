// Package llm holds the interchangeable text-generation providers used by
// translation, summarization and script writing.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderQwen   = "qwen"
)

// Names lists the closed set of supported providers.
var Names = []string{ProviderOpenAI, ProviderGemini, ProviderQwen}

var ErrUnknownProvider = errors.New("llm: unknown provider")

// Generator turns a prompt into text.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Registry resolves providers by name.
type Registry struct {
	generators map[string]Generator
}

// NewRegistry indexes the given generators by Name. Nil entries are skipped
// so callers can pass providers that failed to configure.
func NewRegistry(generators ...Generator) *Registry {
	r := &Registry{generators: make(map[string]Generator, len(generators))}
	for _, g := range generators {
		if g == nil {
			continue
		}
		r.generators[g.Name()] = g
	}
	return r
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Generator, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if g, ok := r.generators[key]; ok {
		return g, nil
	}
	known := false
	for _, n := range Names {
		if n == key {
			known = true
			break
		}
	}
	if known {
		return nil, fmt.Errorf("llm: provider %q is not configured (missing credentials?)", key)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownProvider, name)
}

// Available lists configured provider names.
func (r *Registry) Available() []string {
	out := make([]string, 0, len(r.generators))
	for name := range r.generators {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
