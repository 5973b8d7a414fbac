package object

import (
	"encoding/hex"
	"fmt"
	"reflect"

	"hypermesh/hashing"
)

// Deliteralize reconstructs the hashed object identified by hash from
// ctx, recursively deliteralizing its dependencies first. It is
// reentrant-idempotent: a hash already present in ctx.Objects is
// returned directly (spec §4.2).
func Deliteralize(hash hashing.Hash, ctx *Context) (HashedObject, error) {
	if obj, ok := ctx.Objects[hash]; ok {
		return obj, nil
	}
	lit, ok := ctx.Literals[hash]
	if !ok {
		return nil, fmt.Errorf("%w: literal %s not present in context", ErrInvalidLiteral, hash)
	}

	className := lit.ClassName()
	ctor, ok := lookupClass(className)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, className)
	}
	obj := ctor()

	fieldsRaw, _ := lit.Value["_fields"].(map[string]any)
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return nil, fmt.Errorf("%w: constructor for %s returned a nil/non-pointer value", ErrInvalidLiteral, className)
	}
	elem := v.Elem()

	// flattenedFields enumerates fields the same way literalization did,
	// including those promoted up from an embedded "subtype" struct
	// (e.g. MutationOp's fields inside InvalidateAfterOp); FieldByName
	// resolves the promotion chain back down to the right storage slot.
	for _, nf := range flattenedFields(elem) {
		raw, present := fieldsRaw[nf.name]
		if !present {
			continue
		}
		fv := elem.FieldByName(nf.name)
		if err := assignField(fv, raw, ctx); err != nil {
			return nil, fmt.Errorf("object: field %s of %s: %w", nf.name, className, err)
		}
	}

	if lit.Author != nil {
		authorObj, err := Deliteralize(*lit.Author, ctx)
		if err != nil {
			return nil, fmt.Errorf("object: author of %s: %w", className, err)
		}
		SetAuthor(obj, authorObj, false)
		if lit.Signature != "" {
			SetLastSignature(obj, lit.Signature)
		}
	}

	SetLastHash(obj, hash)
	ctx.aliasOrStore(hash, obj)
	obj.Init()
	return obj, nil
}

func assignField(fv reflect.Value, raw any, ctx *Context) error {
	if raw == nil {
		return nil
	}
	switch fv.Kind() {
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.Uint8 {
			s, ok := raw.(string)
			if !ok {
				return fmt.Errorf("%w: expected hex string for byte slice", ErrInvalidLiteral)
			}
			b, err := hex.DecodeString(s)
			if err != nil {
				return err
			}
			fv.SetBytes(b)
			return nil
		}
		items, ok := raw.([]any)
		if !ok {
			return fmt.Errorf("%w: expected array literal for slice field", ErrInvalidLiteral)
		}
		out := reflect.MakeSlice(fv.Type(), len(items), len(items))
		for i, it := range items {
			if err := assignField(out.Index(i), it, ctx); err != nil {
				return err
			}
		}
		fv.Set(out)
		return nil
	case reflect.Ptr:
		return assignPointerField(fv, raw, ctx)
	default:
		return setPrimitive(fv, raw)
	}
}

func assignPointerField(fv reflect.Value, raw any, ctx *Context) error {
	elemType := fv.Type().Elem()
	newPtr := reflect.New(elemType)

	if m, ok := raw.(map[string]any); ok {
		switch m["_type"] {
		case "hashed_object_reference":
			if _, ok := newPtr.Interface().(reference); ok {
				hashStr, _ := m["_hash"].(string)
				className, _ := m["_class"].(string)
				newPtr.Elem().FieldByName("TargetHash").Set(reflect.ValueOf(hashing.Hash(hashStr)))
				newPtr.Elem().FieldByName("TargetClass").Set(reflect.ValueOf(className))
				fv.Set(newPtr)
				return nil
			}
		case "hashed_object_dependency":
			hashStr, _ := m["_hash"].(string)
			child, err := Deliteralize(hashing.Hash(hashStr), ctx)
			if err != nil {
				return err
			}
			cv := reflect.ValueOf(child)
			if !cv.Type().AssignableTo(fv.Type()) {
				return fmt.Errorf("%w: %s not assignable to %s", ErrInvalidLiteral, cv.Type(), fv.Type())
			}
			fv.Set(cv)
			return nil
		}
	}

	if cb, ok := newPtr.Interface().(collectionBuilder); ok {
		items, _ := raw.([]any)
		if err := cb.buildFromLiteral(items, ctx); err != nil {
			return err
		}
		fv.Set(newPtr)
		return nil
	}

	return fmt.Errorf("%w: unsupported pointer field of type %s", ErrInvalidLiteral, fv.Type())
}

func setPrimitive(fv reflect.Value, raw any) error {
	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(fv.Type()) {
		fv.Set(rv)
		return nil
	}
	if rv.Type().ConvertibleTo(fv.Type()) && isNumericKind(rv.Kind()) && isNumericKind(fv.Kind()) {
		fv.Set(rv.Convert(fv.Type()))
		return nil
	}
	return fmt.Errorf("%w: cannot assign %s into %s", ErrInvalidLiteral, rv.Type(), fv.Type())
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
