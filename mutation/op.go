package mutation

import (
	"fmt"

	"hypermesh/hashing"
	"hypermesh/object"
)

const MutationOpClassName = "hhs.MutationOp"

func init() {
	object.RegisterClass(MutationOpClassName, func() object.HashedObject { return &MutationOp{} })
}

// MutationOp is a single step applied to a MutableObject (spec §3
// "MutationOp"). PrevOps are its direct causal predecessors within the
// same target's op chain; CausalOps are cross-object preconditions —
// if any of them is later invalidated, this op must cascade-invalidate
// too (spec §4.4.1).
type MutationOp struct {
	object.Base

	TargetObject *object.HashReference[MutableObject]
	PrevOps      *object.Set[*object.HashReference[*MutationOp]]
	CausalOps    *object.Set[*object.HashReference[*MutationOp]]
}

// NewMutationOp builds an op against target, causally chained after
// prevOps (each already saved, so its reference carries its last
// known hash) and, optionally, causally dependent on causalOps from
// other mutables' chains.
func NewMutationOp(target MutableObject, prevOps []*MutationOp, causalOps ...*MutationOp) *MutationOp {
	return NewMutationOpFromRefs(object.ReferenceTo[MutableObject](target), opRefs(prevOps), opRefs(causalOps))
}

// NewMutationOpFromRefs is the hash-level constructor used by the store
// when synthesizing ops (e.g. cascaded invalidations) from already-known
// references rather than live, loaded objects.
func NewMutationOpFromRefs(target *object.HashReference[MutableObject], prevOps, causalOps []*object.HashReference[*MutationOp]) *MutationOp {
	op := &MutationOp{
		TargetObject: target,
		PrevOps:      object.NewSet(prevOps...),
	}
	if len(causalOps) > 0 {
		op.CausalOps = object.NewSet(causalOps...)
	}
	return op
}

func opRefs(ops []*MutationOp) []*object.HashReference[*MutationOp] {
	refs := make([]*object.HashReference[*MutationOp], len(ops))
	for i, op := range ops {
		refs[i] = object.ReferenceTo(op)
	}
	return refs
}

func (op *MutationOp) ClassName() string { return MutationOpClassName }

func (op *MutationOp) Init() {
	if op.PrevOps == nil {
		op.PrevOps = object.NewSet[*object.HashReference[*MutationOp]]()
	}
}

// Validate enforces the one invariant every MutationOp needs: a
// target. Subtypes call this before checking their own fields.
func (op *MutationOp) Validate(referenced map[hashing.Hash]object.HashedObject) error {
	if op.TargetObject == nil || op.TargetObject.TargetHash == "" {
		return fmt.Errorf("mutation: op has no targetObject")
	}
	return nil
}

// IsCausalDependent reports whether op declares causalHash among its
// cross-object preconditions.
func (op *MutationOp) IsCausalDependent(causalHash hashing.Hash) bool {
	if op.CausalOps == nil {
		return false
	}
	for _, ref := range op.CausalOps.OrderedMembers() {
		if ref.TargetHash == causalHash {
			return true
		}
	}
	return false
}
