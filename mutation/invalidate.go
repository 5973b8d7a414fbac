package mutation

import (
	"fmt"

	"hypermesh/hashing"
	"hypermesh/object"
)

const (
	InvalidateAfterOpClassName   = "hhs.InvalidateAfterOp"
	CascadedInvalidateOpClassName = "hhs.CascadedInvalidateOp"
)

func init() {
	object.RegisterClass(InvalidateAfterOpClassName, func() object.HashedObject { return &InvalidateAfterOp{} })
	object.RegisterClass(CascadedInvalidateOpClassName, func() object.HashedObject { return &CascadedInvalidateOp{} })
}

// InvalidateAfterOp is itself a MutationOp against TargetObject's op
// chain (so "inv.targetObject == newOp.targetObject" in the causal
// maintenance algorithm compares apples to apples), carrying an extra
// pair of fields that bound which descendants of TargetOp survive:
// every descendant that is not an ancestor of TerminalOps must be
// invalidated (spec §3 "InvalidateAfterOp").
type InvalidateAfterOp struct {
	MutationOp

	TargetOp    *object.HashReference[*MutationOp]
	TerminalOps *object.Set[*object.HashReference[*MutationOp]]
}

// NewInvalidateAfterOp marks targetOp as the invalidation boundary
// within sameTarget's op chain: every descendant of targetOp that is
// not an ancestor of terminalOps becomes invalid.
func NewInvalidateAfterOp(sameTarget MutableObject, prevOps []*MutationOp, targetOp *MutationOp, terminalOps ...*MutationOp) *InvalidateAfterOp {
	return NewInvalidateAfterOpFromRefs(object.ReferenceTo[MutableObject](sameTarget), opRefs(prevOps), object.ReferenceTo(targetOp), opRefs(terminalOps))
}

// NewInvalidateAfterOpFromRefs is the hash-level constructor the store
// uses when it only holds references, not loaded objects.
func NewInvalidateAfterOpFromRefs(sameTarget *object.HashReference[MutableObject], prevOps []*object.HashReference[*MutationOp], targetOp *object.HashReference[*MutationOp], terminalOps []*object.HashReference[*MutationOp]) *InvalidateAfterOp {
	return &InvalidateAfterOp{
		MutationOp:  *NewMutationOpFromRefs(sameTarget, prevOps, nil),
		TargetOp:    targetOp,
		TerminalOps: object.NewSet(terminalOps...),
	}
}

func (op *InvalidateAfterOp) ClassName() string { return InvalidateAfterOpClassName }

func (op *InvalidateAfterOp) Init() {
	op.MutationOp.Init()
	if op.TerminalOps == nil {
		op.TerminalOps = object.NewSet[*object.HashReference[*MutationOp]]()
	}
}

func (op *InvalidateAfterOp) Validate(referenced map[hashing.Hash]object.HashedObject) error {
	if err := op.MutationOp.Validate(referenced); err != nil {
		return err
	}
	if op.TargetOp == nil || op.TargetOp.TargetHash == "" {
		return fmt.Errorf("mutation: invalidate-after op has no targetOp")
	}
	return nil
}

// CascadedInvalidateOp is store-synthesized, never constructed by
// application code directly: it records that CascadedFrom (an op that
// was a valid consequence of some other op) has been invalidated, and
// Reason names the InvalidateAfterOp or CascadedInvalidateOp that
// caused it (spec §3 "CascadedInvalidateOp", §4.4.1).
type CascadedInvalidateOp struct {
	MutationOp

	CascadedFrom *object.HashReference[*MutationOp]
	Reason       *object.HashReference[*MutationOp]
}

// NewCascadedInvalidateOp builds the CascadedInvalidateOp the causal
// maintenance algorithm synthesizes when consequence's causal
// precondition is invalidated by reason (spec §4.4.1 "CascadedInvalidateOp.create").
func NewCascadedInvalidateOp(sameTarget MutableObject, consequence, reason *MutationOp) *CascadedInvalidateOp {
	return NewCascadedInvalidateOpFromRefs(object.ReferenceTo[MutableObject](sameTarget), object.ReferenceTo(consequence), object.ReferenceTo(reason))
}

// NewCascadedInvalidateOpFromRefs is the hash-level constructor the
// store uses: consequence becomes both the single PrevOps predecessor
// (it causally precedes its own invalidation) and CascadedFrom.
func NewCascadedInvalidateOpFromRefs(sameTarget *object.HashReference[MutableObject], consequence, reason *object.HashReference[*MutationOp]) *CascadedInvalidateOp {
	return &CascadedInvalidateOp{
		MutationOp:   *NewMutationOpFromRefs(sameTarget, []*object.HashReference[*MutationOp]{consequence}, nil),
		CascadedFrom: consequence,
		Reason:       reason,
	}
}

func (op *CascadedInvalidateOp) ClassName() string { return CascadedInvalidateOpClassName }

func (op *CascadedInvalidateOp) Init() { op.MutationOp.Init() }

func (op *CascadedInvalidateOp) Validate(referenced map[hashing.Hash]object.HashedObject) error {
	if err := op.MutationOp.Validate(referenced); err != nil {
		return err
	}
	if op.CascadedFrom == nil || op.Reason == nil {
		return fmt.Errorf("mutation: cascaded-invalidate op missing cascadedFrom/reason")
	}
	return nil
}
