// Package backend is the engine-abstraction layer: a uniform set of
// dataframe-style operations (select, filter, resample, join,
// group_aggregate, materialize) with identical observable semantics on
// three interchangeable execution strategies: eager local, lazy
// partitioned over an in-process worker pool, and lazy distributed via a
// cluster driver.
//
// Analysis code holds Handles and never names an engine beyond choosing
// one per session. Correctness-critical invariants (resample boundary
// policy, canonical aggregation order, ordering guarantees) are defined
// once here so an energy-assessment result does not depend on where it
// was computed.
package backend
