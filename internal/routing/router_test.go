package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultRoute() ModelRoute {
	return ModelRoute{Provider: "openai", Model: "gpt-4o-mini", MaxTokens: 4096}
}

func TestNewRouter_RequiresDefault(t *testing.T) {
	_, err := NewRouter(ModelRoute{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "routing.default")
}

func TestNewRouter_UnknownOverrideKey(t *testing.T) {
	_, err := NewRouter(defaultRoute(), map[string]Override{
		"premium": {Model: "gpt-4o"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "routing.overrides.premium")
}

func TestResolve_DefaultRoute(t *testing.T) {
	r, err := NewRouter(defaultRoute(), nil)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", r.Resolve("").Model)
	assert.Equal(t, "gpt-4o-mini", r.Resolve("default").Model)
	assert.Equal(t, "gpt-4o-mini", r.Resolve("something-else").Model)
}

func TestResolve_OverrideInheritance(t *testing.T) {
	r, err := NewRouter(defaultRoute(), map[string]Override{
		"complex": {Model: "gpt-4o", MaxTokens: 16384},
	})
	require.NoError(t, err)

	route := r.Resolve("complex")
	assert.Equal(t, "openai", route.Provider) // inherited
	assert.Equal(t, "gpt-4o", route.Model)
	assert.Equal(t, 16384, route.MaxTokens)

	// Untouched canonical routes equal the default.
	assert.Equal(t, defaultRoute(), *r.Resolve("quick"))
}

func TestResolve_AliasesShareRouteInstance(t *testing.T) {
	r, err := NewRouter(defaultRoute(), map[string]Override{
		"review": {Model: "o3-mini"},
	})
	require.NoError(t, err)

	review := r.Resolve("review")
	assert.Same(t, review, r.Resolve("reviewer"))
	assert.Same(t, review, r.Resolve("audit"))
	assert.Same(t, review, r.Resolve("governance"))
	assert.Same(t, r.Resolve("quick"), r.Resolve("fast"))
	assert.Same(t, r.Resolve("quick"), r.Resolve("rapid"))
	assert.Same(t, r.Resolve("complex"), r.Resolve("full"))
	assert.Same(t, r.Resolve("complex"), r.Resolve("orchestrator"))
}

func TestNewRouter_CaseInsensitiveOverrideKeys(t *testing.T) {
	r, err := NewRouter(defaultRoute(), map[string]Override{
		"Quick": {Model: "gpt-4o-nano"},
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-nano", r.Resolve("quick").Model)

	_, err = NewRouter(defaultRoute(), map[string]Override{
		"quick": {Model: "a"},
		"QUICK": {Model: "b"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate route key")
}

func TestResolve_CaseInsensitive(t *testing.T) {
	r, err := NewRouter(defaultRoute(), nil)
	require.NoError(t, err)

	assert.Same(t, r.Resolve("quick"), r.Resolve("Quick"))
	assert.Same(t, r.Resolve("review"), r.Resolve("REVIEW"))
}

func TestResolve_SubstringHeuristics(t *testing.T) {
	r, err := NewRouter(defaultRoute(), nil)
	require.NoError(t, err)

	assert.Same(t, r.Resolve("quick"), r.Resolve("my-quick-lane"))
	assert.Same(t, r.Resolve("complex"), r.Resolve("complex_v2"))
	assert.Same(t, r.Resolve("complex"), r.Resolve("fully-loaded"))
	assert.Same(t, r.Resolve("review"), r.Resolve("security-audit"))
	assert.Equal(t, r.def, r.Resolve("unrelated"))
}
