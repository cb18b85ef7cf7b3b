// Package facts holds the fact namespace: dotted paths, typed values, the
// per-pass Store that resolvers merge into, and the immutable Tree that is
// handed to the query and output layers.
//
// Paths are dot separated. Numeric segments denote list indices, so
// networking.interfaces.eth0.bindings.0.address is the first IPv4 binding
// of eth0. Reading a branch with Tree.Get returns a list value when its
// children are exactly 0..n-1 and a map value otherwise.
//
// A Store is write-once per path. Merge never replaces an existing value,
// which gives first-resolved-wins semantics when the caller merges results
// in priority order.
package facts
