// Package engine registers fact resolvers and runs them in dependency order.
//
// # Overview
//
// A resolution pass turns raw system data into a tree of facts:
//
//  1. Detect - the platform detector produces base identity (os.family,
//     os.name, kernel, ...). It runs first and unconditionally.
//  2. Filter - confinements of each resolver are evaluated against the facts
//     resolved so far.
//  3. Resolve - applicable resolvers run once their inputs are available,
//     independent ones in parallel.
//  4. Merge - write-sets are merged first-resolved-wins into the pass store.
//  5. Query - the store is frozen into an immutable facts.Tree.
//
// # Resolvers
//
// A Resolver declares an Info (name, produced paths, dependencies,
// confinements, priority) and implements Resolve. Resolvers never write to
// the store themselves; they return a facts.Set which the Scheduler merges
// under a single lock.
//
//	r := engine.NewFunc(engine.Info{
//		Name:     "identity",
//		Produces: []string{"identity"},
//		Confines: []engine.Confinement{engine.Equal("kernel", "Linux")},
//	}, resolveIdentity)
//
// # Registration
//
// Registry.Register validates each resolver and rebuilds the dependency
// graph. Duplicate names, dependency cycles (including cycles through
// confinement paths) and confinements on a resolver's own output are
// configuration errors, reported before any pass runs.
//
// # Scheduling
//
// Scheduler.ResolveAll repeatedly selects the resolvers whose producers have
// all finished. Those whose required dependencies are absent or whose
// confinements fail are skipped without error. The remaining ones run in a
// bounded pool; their results are merged highest priority first, then in
// registration order, so two passes over an unchanged host give identical
// trees.
//
// # Error Handling
//
// Errors are classified with EngineError:
//
//   - configuration: broken registry, fatal
//   - unavailable: data could not be obtained, the facts stay absent
//   - timeout: an unavailable error caused by a deadline
//   - internal: a resolver bug such as a panic
//
// Use IsConfiguration and IsUnavailable to classify errors.
package engine
