package provider

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps a string discriminator to an adapter.
// It is built once at startup and read-only afterwards.
type Registry struct {
	byName map[string]Provider
}

// NewRegistry registers providers by Name(). Later duplicates replace earlier ones.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{byName: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.byName[strings.ToLower(p.Name())] = p
	}
	return r
}

// Lookup resolves name (case-insensitive) to a registered provider.
func (r *Registry) Lookup(name string) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if r != nil {
		if p, ok := r.byName[key]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// Known reports whether name is registered, without resolving it.
func (r *Registry) Known(name string) bool {
	_, err := r.Lookup(name)
	return err == nil
}

// Names lists registered discriminators in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byName))
	for k := range r.byName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
