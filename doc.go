// Package quarry is a distributed execution runtime for physical query
// plans. A plan is a tree of relational operators (scans, filters,
// projections, joins, aggregates, sorts) with explicit data-movement
// boundaries; the runtime cuts it into stages at those boundaries,
// executes one task per partition per stage, and streams the merged
// result back to the client.
//
// The building blocks live in subpackages: plan describes and validates
// operator trees, engine evaluates them batch-at-a-time within a task,
// exchange moves data between stages, and cluster schedules stages and
// collects results.
package quarry
