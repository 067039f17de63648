// Package optim provides the domain model and shared plumbing for the
// inventory optimization engine.
//
// # Reading Guide
//
// Start with these files to understand the engine:
//   - types.go: SKU records, snapshots, forecasts, plans, results and alerts
//   - config.go: configuration groups and their validation
//   - rng.go: partitioned, seeded randomness for reproducible searches
//
// # Architecture
//
// The optim package defines value types; the components live in sub-packages:
//   - optim/snapshot/: Data Snapshot Store and the Data Collector with its sources
//   - optim/genetic/: generic genetic-algorithm engine (no inventory semantics)
//   - optim/demand/: demand forecasting and alert detection
//   - optim/cost/: plan scoring, fitness strategies, rolling telemetry
//   - optim/inventory/: the optimization cycle and the publication cache
//   - optim/trace/: bounded in-memory record of recent cycles
//
// Data flows one way: snapshot → forecast/alerts → search → score → publish.
// Every value handed between components is immutable once shared; shared state
// is replaced by swapping a pointer, never edited in place.
package optim
