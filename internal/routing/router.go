// Package routing resolves execution lanes to model capability endpoints.
//
// A router is built once at startup from a default route plus optional
// per-lane overrides. Canonical routes are keyed quick, complex, and
// review; alias keys (fast, rapid, full, orchestrator, reviewer, audit,
// governance) point at the same route instances, so an override to a
// canonical route is visible through every alias.
package routing

import (
	"fmt"
	"sort"
	"strings"
)

// Canonical route keys.
const (
	KeyDefault = "default"
	KeyQuick   = "quick"
	KeyComplex = "complex"
	KeyReview  = "review"
)

// routeAliases maps each canonical key to its alias keys.
var routeAliases = map[string][]string{
	KeyQuick:   {"fast", "rapid"},
	KeyComplex: {"full", "orchestrator"},
	KeyReview:  {"reviewer", "audit", "governance"},
}

// ModelRoute is a resolved capability endpoint.
type ModelRoute struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Override specifies a partial route; unset fields inherit from the
// default route.
type Override struct {
	Provider  string `koanf:"provider" json:"provider,omitempty"`
	Model     string `koanf:"model" json:"model,omitempty"`
	MaxTokens int    `koanf:"max_tokens" json:"max_tokens,omitempty"`
}

// Router maps lane keys to model routes. Immutable after construction.
type Router struct {
	def    *ModelRoute
	routes map[string]*ModelRoute
}

// NewRouter builds a router from a default route and canonical-key
// overrides. Override keys other than quick, complex, or review are a
// configuration error.
func NewRouter(def ModelRoute, overrides map[string]Override) (*Router, error) {
	if def.Provider == "" || def.Model == "" {
		return nil, fmt.Errorf("routing.default: provider and model are required, got provider=%q model=%q", def.Provider, def.Model)
	}

	r := &Router{
		def:    &def,
		routes: make(map[string]*ModelRoute),
	}

	// Case-fold override keys up front so a key like "Quick" is applied
	// rather than sliding past both the build loop and validation.
	normalized := make(map[string]Override, len(overrides))
	for key, ov := range overrides {
		lower := strings.ToLower(strings.TrimSpace(key))
		if _, dup := normalized[lower]; dup {
			return nil, fmt.Errorf("routing.overrides.%s: duplicate route key after case folding", key)
		}
		normalized[lower] = ov
	}

	canonical := []string{KeyQuick, KeyComplex, KeyReview}
	for _, key := range canonical {
		route := def
		if ov, ok := normalized[key]; ok {
			if ov.Provider != "" {
				route.Provider = ov.Provider
			}
			if ov.Model != "" {
				route.Model = ov.Model
			}
			if ov.MaxTokens != 0 {
				route.MaxTokens = ov.MaxTokens
			}
		}
		shared := route
		r.routes[key] = &shared
		for _, alias := range routeAliases[key] {
			r.routes[alias] = &shared
		}
	}

	for key := range normalized {
		if _, ok := r.routes[key]; !ok {
			return nil, fmt.Errorf("routing.overrides.%s: unknown route key, expected one of quick, complex, review", key)
		}
	}

	return r, nil
}

// Resolve returns the route for a lane key. An empty key returns the
// default route. Lookup is case-insensitive and falls back to substring
// heuristics before settling on the default.
func (r *Router) Resolve(key string) *ModelRoute {
	if key == "" || strings.EqualFold(key, KeyDefault) {
		return r.def
	}

	lower := strings.ToLower(key)
	if route, ok := r.routes[lower]; ok {
		return route
	}

	switch {
	case strings.Contains(lower, "quick"):
		return r.routes[KeyQuick]
	case strings.Contains(lower, "complex"), strings.Contains(lower, "full"):
		return r.routes[KeyComplex]
	case strings.Contains(lower, "review"), strings.Contains(lower, "audit"), strings.Contains(lower, "governance"):
		return r.routes[KeyReview]
	}

	return r.def
}

// Keys returns all registered route keys, sorted, for diagnostics.
func (r *Router) Keys() []string {
	keys := make([]string, 0, len(r.routes)+1)
	keys = append(keys, KeyDefault)
	for k := range r.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
