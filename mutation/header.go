package mutation

import (
	"sort"

	"hypermesh/hashing"
)

// OpHeader is the per-op causal digest a Store computes at save time
// (spec §3 "OpHeader", §4.4 step 3d): it pins opHash and folds in every
// direct predecessor's own headerHash, so two ops with identical
// content but different causal histories never collide, and a sync
// protocol outside the core can exchange headerHash alone as a compact
// causal fingerprint.
type OpHeader struct {
	OpHash        hashing.Hash
	PrevOpHeaders map[hashing.Hash]*OpHeader
	HeaderHash    hashing.Hash
}

// ComputeOpHeader builds the header for opHash given the already-saved
// headers of its direct prevOps (by prevOp hash). headerHash is
// deterministic over opHash and the ascending-sorted set of predecessor
// headerHashes (spec §4.4 step 3d).
func ComputeOpHeader(opHash hashing.Hash, prevOpHeaders map[hashing.Hash]*OpHeader) *OpHeader {
	sorted := make([]string, 0, len(prevOpHeaders))
	for _, h := range prevOpHeaders {
		sorted = append(sorted, string(h.HeaderHash))
	}
	sort.Strings(sorted)
	prevHeaderHashes := make([]any, len(sorted))
	for i, s := range sorted {
		prevHeaderHashes[i] = s
	}

	headerHash := hashing.H(map[string]any{
		"opHash":           string(opHash),
		"prevHeaderHashes": prevHeaderHashes,
	})

	return &OpHeader{
		OpHash:        opHash,
		PrevOpHeaders: prevOpHeaders,
		HeaderHash:    headerHash,
	}
}
