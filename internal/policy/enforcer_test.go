package policy

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

// fakeClock is a mutable time source for window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNormalizeOperation(t *testing.T) {
	keys := NormalizeOperation("Generate_Deliverable", Metadata{Type: "Story", Lane: "Quick"})
	assert.Equal(t, []string{
		"generate_deliverable",
		"generate_deliverable:story",
		"generate_deliverable@quick",
	}, keys)

	keys = NormalizeOperation("execute_quick_lane", Metadata{Lane: "quick"})
	assert.Equal(t, []string{"execute_quick_lane", "execute_quick_lane@quick"}, keys)

	keys = NormalizeOperation("save_deliverable", Metadata{})
	assert.Equal(t, []string{"save_deliverable"}, keys)
}

func TestAssess_QuotaExhaustion(t *testing.T) {
	clock := newFakeClock()
	e := NewEnforcer(&Config{
		Operations: map[string]Rule{
			"deploy": {MaxExecutionsPerHour: intPtr(3)},
		},
	}, nil, WithClock(clock.Now))

	keys := NormalizeOperation("deploy", Metadata{})

	for i := 0; i < 3; i++ {
		a, err := e.Assess("deploy", keys)
		require.NoError(t, err, "call %d", i+1)
		require.NotNil(t, a)
		require.NotNil(t, a.Commit)
		a.Commit()
	}

	_, err := e.Assess("deploy", keys)
	var violation *ViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "deploy", violation.Operation)
	assert.Greater(t, violation.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, violation.RetryAfter, time.Hour)

	// After the window elapses the operation succeeds again.
	clock.Advance(time.Hour + time.Minute)
	a, err := e.Assess("deploy", keys)
	require.NoError(t, err)
	require.NotNil(t, a)
	a.Commit()
}

func TestAssess_ZeroLimitAlwaysViolates(t *testing.T) {
	e := NewEnforcer(&Config{
		Operations: map[string]Rule{
			"dangerous_op": {MaxExecutionsPerHour: intPtr(0)},
		},
	}, nil)

	for i := 0; i < 3; i++ {
		_, err := e.Assess("dangerous_op", NormalizeOperation("dangerous_op", Metadata{}))
		var violation *ViolationError
		require.ErrorAs(t, err, &violation)
		assert.Contains(t, violation.Message, "disabled")
		assert.Zero(t, violation.RetryAfter)
	}
	assert.Equal(t, 0, e.WindowCount())
}

func TestAssess_EscalationWithoutLimit(t *testing.T) {
	e := NewEnforcer(&Config{
		Operations: map[string]Rule{
			"execute_complex_lane": {Escalate: true},
		},
	}, nil)

	a, err := e.Assess("execute_complex_lane", NormalizeOperation("execute_complex_lane", Metadata{Lane: "complex"}))
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.True(t, a.RequiresEscalation)
	assert.Nil(t, a.Commit, "nothing to count without a limit")
}

func TestAssess_NoMatchingRule(t *testing.T) {
	e := NewEnforcer(&Config{
		Operations: map[string]Rule{
			"other_op": {MaxExecutionsPerHour: intPtr(1)},
		},
	}, nil)

	a, err := e.Assess("unconstrained", NormalizeOperation("unconstrained", Metadata{}))
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestAssess_MostSpecificKeyWins(t *testing.T) {
	e := NewEnforcer(&Config{
		Operations: map[string]Rule{
			"generate_deliverable":       {MaxExecutionsPerHour: intPtr(100)},
			"generate_deliverable@quick": {MaxExecutionsPerHour: intPtr(1)},
		},
	}, nil)

	keys := NormalizeOperation("generate_deliverable", Metadata{Lane: "quick"})

	a, err := e.Assess("generate_deliverable", keys)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "generate_deliverable@quick", a.Key)
	a.Commit()

	_, err = e.Assess("generate_deliverable", keys)
	var violation *ViolationError
	require.ErrorAs(t, err, &violation)
}

func TestAssess_WildcardFallback(t *testing.T) {
	e := NewEnforcer(&Config{
		Operations: map[string]Rule{
			"*": {MaxExecutionsPerHour: intPtr(1)},
		},
	}, nil)

	a, err := e.Assess("anything", NormalizeOperation("anything", Metadata{}))
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "anything", a.Key, "wildcard quota tracked per base operation")
	a.Commit()

	// A different operation gets its own wildcard window.
	b, err := e.Assess("something_else", NormalizeOperation("something_else", Metadata{}))
	require.NoError(t, err)
	require.NotNil(t, b)
}

func TestAssess_DefaultsKeyedPerOperation(t *testing.T) {
	e := NewEnforcer(&Config{
		Defaults: &Rule{MaxExecutionsPerHour: intPtr(1)},
	}, nil)

	a, err := e.Assess("op_a", NormalizeOperation("op_a", Metadata{}))
	require.NoError(t, err)
	require.NotNil(t, a)
	a.Commit()

	_, err = e.Assess("op_a", NormalizeOperation("op_a", Metadata{}))
	var violation *ViolationError
	require.ErrorAs(t, err, &violation)

	// op_b shares the default policy but not op_a's window.
	b, err := e.Assess("op_b", NormalizeOperation("op_b", Metadata{}))
	require.NoError(t, err)
	require.NotNil(t, b)
}

func TestAssess_ReservesSlotBeforeCommit(t *testing.T) {
	e := NewEnforcer(&Config{
		Operations: map[string]Rule{
			"deploy": {MaxExecutionsPerHour: intPtr(1)},
		},
	}, nil)

	keys := NormalizeOperation("deploy", Metadata{})

	a, err := e.Assess("deploy", keys)
	require.NoError(t, err)
	require.NotNil(t, a)

	// The slot is held from assessment, not from commit: a second
	// caller arriving before the first commits is already over limit.
	_, err = e.Assess("deploy", keys)
	var violation *ViolationError
	require.ErrorAs(t, err, &violation)

	a.Commit()
	_, err = e.Assess("deploy", keys)
	require.ErrorAs(t, err, &violation)
}

func TestAssess_ReleaseReturnsSlot(t *testing.T) {
	e := NewEnforcer(&Config{
		Operations: map[string]Rule{
			"deploy": {MaxExecutionsPerHour: intPtr(1)},
		},
	}, nil)

	keys := NormalizeOperation("deploy", Metadata{})

	a, err := e.Assess("deploy", keys)
	require.NoError(t, err)
	require.NotNil(t, a.Release)
	a.Release()
	a.Release() // second release is a no-op

	b, err := e.Assess("deploy", keys)
	require.NoError(t, err, "released slot is available again")
	b.Commit()
	b.Release() // after commit the reservation stays charged

	_, err = e.Assess("deploy", keys)
	var violation *ViolationError
	require.ErrorAs(t, err, &violation)
}

func TestAssess_ConcurrentCallersNeverOvershoot(t *testing.T) {
	const limit = 50
	e := NewEnforcer(&Config{
		Operations: map[string]Rule{
			"hot_op": {MaxExecutionsPerHour: intPtr(limit)},
		},
	}, nil)

	keys := NormalizeOperation("hot_op", Metadata{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := e.Assess("hot_op", keys)
			if err != nil {
				var violation *ViolationError
				if !errors.As(err, &violation) {
					t.Errorf("unexpected error kind: %v", err)
				}
				return
			}
			a.Commit()
			mu.Lock()
			allowed++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, allowed, "exactly the limit may pass, never more")

	// Every subsequent sequential call must now violate.
	_, err := e.Assess("hot_op", keys)
	var violation *ViolationError
	require.ErrorAs(t, err, &violation)
}

func TestEviction(t *testing.T) {
	clock := newFakeClock()
	limit := 10
	e := NewEnforcer(&Config{
		Defaults: &Rule{MaxExecutionsPerHour: &limit},
	}, nil, WithClock(clock.Now))

	// Fill past the eviction threshold.
	for i := 0; i < evictionThreshold+10; i++ {
		op := "op_" + string(rune('a'+i%26)) + time.Duration(i).String()
		a, err := e.Assess(op, []string{op})
		require.NoError(t, err)
		a.Commit()
	}
	require.Greater(t, e.WindowCount(), evictionThreshold)

	// All windows are stale after an hour; the next assessment triggers
	// opportunistic eviction.
	clock.Advance(time.Hour + time.Second)
	_, err := e.Assess("fresh_op", []string{"fresh_op"})
	require.NoError(t, err)
	assert.LessOrEqual(t, e.WindowCount(), 1)
}
