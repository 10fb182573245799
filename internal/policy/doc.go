// Package policy enforces operation execution policies.
//
// A policy document (YAML or JSON) maps operation keys to rules that
// rate-limit executions per rolling hour and optionally demand escalation
// (explicit pre-approval). Keys are case-insensitive and matched against
// normalized operation identifiers in three forms:
//
//	name            bare operation
//	name:<type>     operation scoped to a metadata type
//	name@<lane>     operation scoped to an execution lane
//
// Rule resolution walks the keys most-specific-last, falls back to a "*"
// wildcard rule, and finally to the defaults bucket. Default quotas are
// tracked per base operation name so unrelated operations sharing the
// default policy never consume each other's window.
//
// The enforcer's check-then-commit sequence is atomic: a quota slot is
// reserved under the enforcer mutex inside Assess, so concurrent callers
// cannot both observe "under limit" and both commit. Callers keep the
// slot with Commit or return it with Release when they abort. Usage
// windows are created lazily and evicted opportunistically once the map
// grows past a bound.
package policy
