package object

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"

	"hypermesh/hashing"
)

// Literalize walks obj's fields and registers its full literal tree
// (obj plus every nested hashed object and reference) into ctx,
// returning the root hash (spec §4.2).
func Literalize(obj HashedObject, ctx *Context) (hashing.Hash, error) {
	return literalizeInto(obj, ctx, "")
}

func literalizeInto(obj HashedObject, ctx *Context, path string) (hashing.Hash, error) {
	fields, deps, err := literalizeFields(obj, ctx, path)
	if err != nil {
		return "", err
	}

	value := map[string]any{
		"_type":  "hashed_object",
		"_class": obj.ClassName(),
		"_fields": fields,
		"_flags":  []any{},
	}

	var h hashing.Hash
	if ch, ok := obj.(customHasher); ok {
		if custom, handled := ch.CustomHash(ctx); handled {
			h = custom
		}
	}
	if h == "" {
		h = hashing.H(value)
	}

	lit := &Literal{Hash: h, Value: value, Dependencies: dedupeDeps(deps)}

	// Chain the event relay of every direct embedded subobject under
	// obj's own relay, so mutation events emitted by a descendant
	// mutable bubble up to a root observer (spec §4.3). Only direct
	// literal dependencies are chained here; transitively promoted
	// ones are reached by following the chain link by link.
	for _, dep := range deps {
		if dep.Type != DepLiteral || !dep.Direct {
			continue
		}
		if child, ok := ctx.Objects[dep.Hash]; ok {
			RelayOf(obj).ChildRelay(dep.Path, child)
		}
	}

	if author := Author(obj); author != nil {
		authorHash, aerr := literalizeInto(author, ctx, path+".author")
		if aerr != nil {
			return "", aerr
		}
		lit.Author = &authorHash
		if ShouldSignOnSave(obj) {
			signer, ok := author.(Signer)
			if !ok {
				return "", fmt.Errorf("object: author %s does not implement Signer", author.ClassName())
			}
			sig, serr := signer.SignHash(h)
			if serr != nil {
				return "", serr
			}
			lit.Signature = sig
			SetLastSignature(obj, sig)
		}
	}

	ctx.Literals[h] = lit
	ctx.aliasOrStore(h, obj)
	SetLastHash(obj, h)
	if path == "" {
		ctx.RootHashes = append(ctx.RootHashes, h)
	}
	return h, nil
}

// literalizeFields walks obj's exported, non-anonymous struct fields
// (the "_"-prefix skip rule from spec §4.2 maps naturally onto Go's
// exported/unexported field visibility) and returns the _fields value
// plus the accumulated dependency list.
func literalizeFields(obj HashedObject, ctx *Context, path string) (map[string]any, []Dependency, error) {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return nil, nil, fmt.Errorf("%w: literalize requires a non-nil pointer, got %T", ErrInvalidLiteral, obj)
	}
	elem := v.Elem()

	fields := make(map[string]any)
	var deps []Dependency

	for _, fv := range flattenedFields(elem) {
		// A nil pointer/interface/map/slice field is treated as an
		// absent optional field — omitted from _fields — rather than
		// a rejected null value; only an explicit null *inside* a
		// populated structure (e.g. a slice element) is rejected.
		switch fv.value.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
			if fv.value.IsNil() {
				continue
			}
		}
		fieldPath := fv.name
		if path != "" {
			fieldPath = path + "." + fv.name
		}
		value, fdeps, err := literalizeAny(fv.value.Interface(), ctx, fieldPath)
		if err != nil {
			return nil, nil, fmt.Errorf("field %s: %w", fv.name, err)
		}
		fields[fv.name] = value
		deps = append(deps, fdeps...)
	}
	return fields, deps, nil
}

type namedField struct {
	name  string
	value reflect.Value
}

var baseType = reflect.TypeOf(Base{})

// flattenedFields returns every exported, literalizable field of elem,
// recursing into anonymous embedded structs other than object.Base
// (which carries the object's private bookkeeping state and is always
// skipped) so that a "subtype" built by embedding — e.g.
// InvalidateAfterOp embedding MutationOp — exposes its parent's fields
// as if they were its own, mirroring Go's own field-promotion rules.
func flattenedFields(elem reflect.Value) []namedField {
	t := elem.Type()
	var out []namedField
	for i := 0; i < elem.NumField(); i++ {
		sf := t.Field(i)
		fv := elem.Field(i)
		if sf.Anonymous {
			if sf.Type == baseType {
				continue
			}
			if fv.Kind() == reflect.Struct {
				out = append(out, flattenedFields(fv)...)
			}
			continue
		}
		if !sf.IsExported() || !fv.CanInterface() {
			continue
		}
		out = append(out, namedField{name: sf.Name, value: fv})
	}
	return out
}

// literalizeAny recursively literalizes a single value: a primitive, a
// nested hashed object, a reference, an ordered collection, or a slice.
func literalizeAny(v any, ctx *Context, path string) (any, []Dependency, error) {
	if v == nil {
		return nil, nil, fmt.Errorf("%w: null field at %s", ErrInvalidLiteral, path)
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr && rv.IsNil() {
		return nil, nil, fmt.Errorf("%w: nil pointer field at %s", ErrInvalidLiteral, path)
	}

	switch val := v.(type) {
	case bool, string, int, int64, uint64, float64, hashing.Hash:
		return v, nil, nil
	case []byte:
		return hex.EncodeToString(val), nil, nil
	}

	if ho, ok := v.(HashedObject); ok {
		childHash, err := literalizeInto(ho, ctx, path)
		if err != nil {
			return nil, nil, err
		}
		childLit := ctx.Literals[childHash]
		deps := []Dependency{{Path: path, Hash: childHash, ClassName: ho.ClassName(), Type: DepLiteral, Direct: true}}
		for _, cd := range childLit.Dependencies {
			deps = append(deps, Dependency{
				Path:      path + "." + cd.Path,
				Hash:      cd.Hash,
				ClassName: cd.ClassName,
				Type:      cd.Type,
				Direct:    false,
			})
		}
		return map[string]any{"_type": "hashed_object_dependency", "_hash": string(childHash)}, deps, nil
	}

	if ref, ok := v.(reference); ok {
		dep := Dependency{Path: path, Hash: ref.refHash(), ClassName: ref.refClassName(), Type: DepReference, Direct: true}
		return map[string]any{
			"_type":  "hashed_object_reference",
			"_hash":  string(ref.refHash()),
			"_class": ref.refClassName(),
		}, []Dependency{dep}, nil
	}

	if oc, ok := v.(orderedCollection); ok {
		items := oc.orderedForLiteral()
		return literalizeSlice(items, ctx, path)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		items := make([]any, n)
		for i := 0; i < n; i++ {
			items[i] = rv.Index(i).Interface()
		}
		return literalizeSlice(items, ctx, path)
	}

	return nil, nil, fmt.Errorf("%w: unsupported field type %T at %s", ErrInvalidLiteral, v, path)
}

func literalizeSlice(items []any, ctx *Context, path string) (any, []Dependency, error) {
	out := make([]any, len(items))
	var deps []Dependency
	for i, item := range items {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		value, idefs, err := literalizeAny(item, ctx, itemPath)
		if err != nil {
			return nil, nil, err
		}
		out[i] = value
		deps = append(deps, idefs...)
	}
	return out, deps, nil
}

// dedupeDeps removes exact duplicate dependency entries while
// preserving the first occurrence's ordering, then sorts for
// deterministic literal comparison in tests.
func dedupeDeps(deps []Dependency) []Dependency {
	seen := make(map[Dependency]bool, len(deps))
	out := make([]Dependency, 0, len(deps))
	for _, d := range deps {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}
