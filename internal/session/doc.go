// Package session holds per-client proxy state.
//
// A browsing client talks to a single proxy origin, so cookie jars and
// web storage that would normally be partitioned per origin are mirrored
// server-side, keyed by an opaque session token. The store is in-memory
// and process-scoped; it bounds both staleness (TTL) and size (LRU
// capacity) with a combined eviction sweep.
//
// The Store interface keeps call sites independent of the backing
// implementation, so an externally backed store can replace MemoryStore
// without touching the transformer or pipeline.
package session
