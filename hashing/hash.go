package hashing

import (
	"crypto/sha256"
	"encoding/hex"
)

// H computes the canonical hash of v: the SHA-256 digest of its
// canonical textual rendering, hex-encoded lowercase. This is the
// default hash used throughout hypermesh unless a hashed object
// overrides it with a custom hash (e.g. Identity, see package identity).
//
// Hashing itself is an out-of-core collaborator per spec §1 ("the
// cryptographic primitives... are out of scope"); SHA-256 is the
// concrete stdlib choice satisfying that interface for this module,
// grounded in the teacher's own use of crypto/sha256 for content
// hashes (core/transaction_hash.go, core/merkle_tree_operations.go).
func H(v any) Hash {
	b, err := Canonicalize(v)
	if err != nil {
		panic(err)
	}
	sum := sha256.Sum256(b)
	return Hash(hex.EncodeToString(sum[:]))
}

// HSeed computes a seeded hash: the seed is concatenated into the
// preimage ahead of the canonical rendering of v. Derived-id generation
// does not use it; that goes through HBytes.
func HSeed(v any, seed string) Hash {
	b, err := Canonicalize(v)
	if err != nil {
		panic(err)
	}
	h := sha256.New()
	h.Write([]byte(seed))
	h.Write(b)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// HBytes hashes a raw byte string directly, used by derived-id
// generation where the preimage is already a concatenated string
// ("#" + parentId + "." + path) rather than a canonical value.
func HBytes(b []byte) Hash {
	sum := sha256.Sum256(b)
	return Hash(hex.EncodeToString(sum[:]))
}
