// Package orchestrator composes the lane classifier, scale estimator,
// operation policy enforcer, model router, and phase transition machine
// into the flowd request pipeline.
//
// # Execution flow
//
// execute_workflow classifies the request into a lane, records the
// decision in the project's lane history, gates the chosen lane through
// the policy enforcer combined with the runtime's approval settings, and
// then executes:
//
//   - quick lane: a lane-scoped capability client is constructed (lazily,
//     memoized, under a bounded init timeout) and the quick-lane executor
//     renders a templated response. Any failure to construct or
//     initialize the quick lane is a soft condition: it is logged,
//     reported in the response as quick_lane.available=false, and the
//     request transparently continues on the complex path. The quick
//     executor's Execute is never invoked in that case.
//
//   - complex lane: phases run in fixed order through the phase machine;
//     deliverables produced by each phase are persisted through a
//     policy-gated save_deliverable operation.
//
// transition_phase delegates to the phase machine directly.
//
// All non-fatal failures surface as structured errors at the tool-call
// boundary; a single bad request never crashes the process.
package orchestrator
