package object

import (
	"fmt"

	"hypermesh/hashing"
)

// FromContextWithValidation reconstructs the object at hash and applies
// the four checks spec §4.2 requires before trusting it: (1) Deliteralize,
// (2) recomputed-hash equality, (3) author signature verification, and
// (4) class-specific Validate(). It is explicitly not reentrant on a
// shared context (spec §5).
func FromContextWithValidation(hash hashing.Hash, ctx *Context) (HashedObject, error) {
	obj, err := Deliteralize(hash, ctx)
	if err != nil {
		return nil, err
	}

	scratch := NewContext()
	scratch.Resources = ctx.Resources
	recomputed, err := Literalize(obj, scratch)
	if err != nil {
		return nil, err
	}
	if recomputed != hash {
		return nil, fmt.Errorf("%w: recomputed %s, declared %s", ErrWrongHash, recomputed, hash)
	}

	if author := Author(obj); author != nil {
		sig := LastSignature(obj)
		if sig == "" {
			return nil, ErrMissingSignature
		}
		auth, ok := author.(Authenticator)
		if !ok {
			return nil, fmt.Errorf("%w: author class %s cannot verify signatures", ErrBadSignature, author.ClassName())
		}
		verified, verr := auth.VerifySignature(hash, sig)
		if verr != nil {
			return nil, verr
		}
		if !verified {
			return nil, ErrBadSignature
		}
	}

	referenced := referencedObjects(hash, ctx)
	if err := obj.Validate(referenced); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return obj, nil
}

// referencedObjects collects every already-resolved object that hash's
// literal depends on via a by-hash reference, keyed by that hash, for
// use by a class's Validate().
func referencedObjects(hash hashing.Hash, ctx *Context) map[hashing.Hash]HashedObject {
	out := make(map[hashing.Hash]HashedObject)
	lit, ok := ctx.Literals[hash]
	if !ok {
		return out
	}
	for _, dep := range lit.Dependencies {
		if dep.Type != DepReference {
			continue
		}
		if obj, ok := ctx.Objects[dep.Hash]; ok {
			out[dep.Hash] = obj
		}
	}
	return out
}
