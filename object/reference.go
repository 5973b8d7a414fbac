package object

import "hypermesh/hashing"

// HashReference is a non-ownership pointer to another hashed object: it
// literalizes as a `type: "reference"` dependency rather than embedding
// the target's literal (spec §3 "HashReference").
type HashReference[T HashedObject] struct {
	TargetHash hashing.Hash
	TargetClass string
}

// NewHashReference builds a reference to the object identified by hash
// and className, without requiring the target to be loaded.
func NewHashReference[T HashedObject](hash hashing.Hash, className string) *HashReference[T] {
	return &HashReference[T]{TargetHash: hash, TargetClass: className}
}

// ReferenceTo builds a reference to an already-hashed object.
func ReferenceTo[T HashedObject](target T) *HashReference[T] {
	return &HashReference[T]{TargetHash: LastHash(target), TargetClass: target.ClassName()}
}

// Hash satisfies hashing.Hashable: a HashedSet/HashedMap of references
// orders and dedupes by the referenced target's hash.
func (r *HashReference[T]) Hash() hashing.Hash { return r.TargetHash }

func (r *HashReference[T]) refHash() hashing.Hash    { return r.TargetHash }
func (r *HashReference[T]) refClassName() string     { return r.TargetClass }

// reference is implemented by HashReference[T] for any T; the
// literalizer type-switches on this narrower interface so it doesn't
// need to know the referenced class at compile time.
type reference interface {
	refHash() hashing.Hash
	refClassName() string
}
