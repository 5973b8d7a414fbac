package object

// Clone literalizes obj into a fresh context and deliteralizes a new
// instance from it (spec §4.2 "Clone"). The clone's signing intent
// (shouldSignOnSave) and last-recorded signature are copied over
// per-subobject by hash, matching the original's authored state.
func Clone(obj HashedObject) (HashedObject, error) {
	srcCtx := NewContext()
	hash, err := Literalize(obj, srcCtx)
	if err != nil {
		return nil, err
	}

	dstCtx := NewContext()
	dstCtx.Literals = srcCtx.Literals
	clone, err := Deliteralize(hash, dstCtx)
	if err != nil {
		return nil, err
	}

	for h, original := range srcCtx.Objects {
		cloned, ok := dstCtx.Objects[h]
		if !ok {
			continue
		}
		if ShouldSignOnSave(original) {
			SetAuthor(cloned, Author(original), true)
		}
		if sig := LastSignature(original); sig != "" {
			SetLastSignature(cloned, sig)
		}
	}
	return clone, nil
}
