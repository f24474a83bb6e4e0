package source

import (
	"fmt"
	"slices"
	"strings"

	"news_sync/internal/domain"
)

// Registry resolves configured providers by id and language.
type Registry struct {
	sources []Source
	byID    map[string]Source
}

func NewRegistry(sources ...Source) (*Registry, error) {
	r := &Registry{byID: make(map[string]Source, len(sources))}
	for _, s := range sources {
		if s == nil {
			continue
		}
		key := normalizeID(s.ID())
		if key == "" {
			return nil, fmt.Errorf("source id is empty")
		}
		if _, exists := r.byID[key]; exists {
			return nil, fmt.Errorf("duplicate source id %q", s.ID())
		}
		r.byID[key] = s
		r.sources = append(r.sources, s)
	}
	return r, nil
}

// Lookup returns the source with the given id.
func (r *Registry) Lookup(id string) (Source, bool) {
	s, ok := r.byID[normalizeID(id)]
	return s, ok
}

// ForLanguage returns every source serving lang, in configuration order.
func (r *Registry) ForLanguage(lang domain.Language) []Source {
	var out []Source
	for _, s := range r.sources {
		if slices.Contains(s.Languages(), lang) {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) All() []Source {
	return slices.Clone(r.sources)
}

func (r *Registry) Len() int {
	return len(r.sources)
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
