// Package classifier decides which execution lane a free-text work request
// should take and estimates its organizational scale.
//
// # Overview
//
// Every incoming request is scored against two lanes:
//
//	quick   - templated, single-deliverable execution
//	complex - full multi-phase deliberation
//
// Classification is a pure function over the request text plus a typed
// request context. It extracts boolean/count factors (keyword hits, scope
// patterns, length, question marks, action verbs), accumulates weighted
// scores for each lane, and picks a lane with a confidence value and a
// deterministic rationale assembled from the factors that contributed to
// the winning side.
//
// The scale estimator assigns an ordinal level 0-4 describing the request's
// blast radius. The level feeds a bonus back into lane scoring and is kept
// on the decision for audit trails. A secondary refinement based on the
// classifier's score gap is attached as a diagnostic signal only; the
// keyword-weighted estimate is the canonical level surfaced to callers.
package classifier
