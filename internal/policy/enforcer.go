package policy

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// windowDuration is the rolling usage window length.
	windowDuration = time.Hour

	// evictionThreshold triggers opportunistic stale-window eviction.
	evictionThreshold = 1000

	wildcardKey = "*"
)

// Metadata is the operation metadata used to expand policy keys.
type Metadata struct {
	// Type scopes the operation to a deliverable or payload type.
	Type string

	// Lane is the execution lane chosen for the request.
	Lane string
}

// NormalizeOperation expands an operation name plus metadata into the
// case-normalized key forms a rule can match, least specific first:
// the bare name, name:<type>, and name@<lane>.
func NormalizeOperation(name string, meta Metadata) []string {
	base := strings.ToLower(strings.TrimSpace(name))
	keys := []string{base}

	if t := strings.ToLower(strings.TrimSpace(meta.Type)); t != "" {
		keys = appendUnique(keys, base+":"+t)
	}
	if l := strings.ToLower(strings.TrimSpace(meta.Lane)); l != "" {
		keys = appendUnique(keys, base+"@"+l)
	}
	return keys
}

func appendUnique(keys []string, key string) []string {
	for _, k := range keys {
		if k == key {
			return keys
		}
	}
	return append(keys, key)
}

// ViolationError reports a hard policy rejection: the operation is
// disabled or its hourly quota is exhausted.
type ViolationError struct {
	Operation  string
	Key        string
	Message    string
	RetryAfter time.Duration
}

func (e *ViolationError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("policy violation for %s (rule %s): %s, retry in %s", e.Operation, e.Key, e.Message, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("policy violation for %s (rule %s): %s", e.Operation, e.Key, e.Message)
}

// Assessment is a successful policy check. When the rule carries a
// quota the usage slot is reserved inside Assess, so concurrent callers
// can never all pass the same under-limit check. The caller must then
// settle the reservation exactly once: Commit keeps it, Release returns
// it when the operation is abandoned before executing. Only the first
// of the two calls takes effect.
type Assessment struct {
	// Key is the resolved rule key usage is tracked under.
	Key string

	// RequiresEscalation is set when the rule demands pre-approval.
	// The enforcer does not itself decide approval; the caller combines
	// this with its approval-mode settings.
	RequiresEscalation bool

	// Commit keeps the reserved usage slot. Nil when the rule tracks
	// no usage.
	Commit func()

	// Release returns the reserved slot. Nil when the rule tracks no
	// usage.
	Release func()
}

type usageWindow struct {
	start time.Time
	count int
}

// Enforcer gates operations against a policy config with per-key hourly
// usage windows. Safe for concurrent use.
type Enforcer struct {
	cfg    *Config
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*usageWindow
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) { e.now = now }
}

// NewEnforcer creates an enforcer over a loaded policy config.
func NewEnforcer(cfg *Config, logger *zap.Logger, opts ...Option) *Enforcer {
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Enforcer{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		windows: make(map[string]*usageWindow),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Assess checks an operation against the policy. keys are the expanded
// forms from NormalizeOperation; the first key must be the base name.
//
// Returns (nil, nil) when no rule applies: the operation is unrestricted.
// Returns a *ViolationError when the operation is disabled or over quota.
// Otherwise returns an Assessment whose Commit or Release closure (if
// any) must be invoked by the caller once it proceeds or aborts.
func (e *Enforcer) Assess(operation string, keys []string) (*Assessment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.windows) > evictionThreshold {
		e.evictStaleLocked()
	}

	rule, resolvedKey := e.resolveRule(operation, keys)
	if rule == nil {
		return nil, nil
	}

	if rule.MaxExecutionsPerHour != nil && *rule.MaxExecutionsPerHour == 0 {
		return nil, &ViolationError{
			Operation: operation,
			Key:       resolvedKey,
			Message:   "operation disabled by policy (max_executions_per_hour: 0)",
		}
	}

	a := &Assessment{
		Key:                resolvedKey,
		RequiresEscalation: rule.Escalate,
	}

	if rule.MaxExecutionsPerHour == nil {
		return a, nil
	}

	limit := *rule.MaxExecutionsPerHour
	now := e.now()

	w := e.windows[resolvedKey]
	used := 0
	if w != nil && now.Sub(w.start) < windowDuration {
		used = w.count
	}
	if used >= limit {
		retry := windowDuration
		if w != nil {
			retry = windowDuration - now.Sub(w.start)
		}
		return nil, &ViolationError{
			Operation:  operation,
			Key:        resolvedKey,
			Message:    fmt.Sprintf("hourly quota of %d exhausted", limit),
			RetryAfter: retry,
		}
	}

	// Reserve the slot before the mutex is dropped; otherwise two
	// callers could both observe the same under-limit count and both
	// charge the window past the limit.
	if w == nil || now.Sub(w.start) >= windowDuration {
		w = &usageWindow{start: now}
		e.windows[resolvedKey] = w
	}
	w.count++

	var once sync.Once
	a.Commit = func() {
		// Consuming the once pins the reservation, making a later
		// Release a no-op.
		once.Do(func() {})
	}
	a.Release = func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.windows[resolvedKey] == w && w.count > 0 {
				w.count--
			}
		})
	}
	return a, nil
}

// resolveRule walks keys most-specific-last so a name@lane or name:type
// rule beats the bare operation rule, then tries the wildcard, then the
// defaults bucket keyed per base operation.
func (e *Enforcer) resolveRule(operation string, keys []string) (*Rule, string) {
	base := strings.ToLower(strings.TrimSpace(operation))

	var rule *Rule
	resolvedKey := ""
	for _, key := range keys {
		if r, ok := e.cfg.Operations[key]; ok {
			matched := r
			rule = &matched
			resolvedKey = key
		}
	}
	if rule != nil {
		return rule, resolvedKey
	}

	if r, ok := e.cfg.Operations[wildcardKey]; ok {
		// Wildcard quotas are tracked per base operation.
		return &r, base
	}

	if e.cfg.Defaults != nil {
		// Default quotas must not bleed across unrelated operations, so
		// the window key stays the base name.
		r := *e.cfg.Defaults
		return &r, base
	}

	return nil, ""
}

// evictStaleLocked drops windows older than the window duration. Caller
// holds e.mu.
func (e *Enforcer) evictStaleLocked() {
	now := e.now()
	evicted := 0
	for key, w := range e.windows {
		if now.Sub(w.start) >= windowDuration {
			delete(e.windows, key)
			evicted++
		}
	}
	if evicted > 0 {
		e.logger.Debug("evicted stale policy windows", zap.Int("evicted", evicted), zap.Int("remaining", len(e.windows)))
	}
}

// WindowCount reports the number of live usage windows, for diagnostics.
func (e *Enforcer) WindowCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.windows)
}
