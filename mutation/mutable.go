// Package mutation implements the mutable-object/op layer on top of
// package object: MutationOp and its two subtypes, and the per-op
// causal OpHeader a Store computes at save time (spec §3, §4.4).
package mutation

import (
	"hypermesh/hashing"
	"hypermesh/object"
)

// MutableObject is implemented by any hashed object whose state
// advances through a stream of MutationOps (spec §4.4 step 4 "Flush
// mutation queues"). SaveQueuedOps is invoked by the store after the
// mutable (or any of its direct literal dependencies) is saved; it is
// expected to enqueue/new-save any ops the mutable has accumulated
// locally since its last flush.
type MutableObject interface {
	object.HashedObject
	SaveQueuedOps(saver OpSaver) error
}

// OpSaver is the narrow slice of Store a MutableObject needs to flush
// its queued ops without importing package store (which itself depends
// on package mutation), avoiding an import cycle.
type OpSaver interface {
	SaveWithContext(op object.HashedObject, ctx *object.Context) (hashing.Hash, error)
}
