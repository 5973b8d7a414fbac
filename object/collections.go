package object

import (
	"fmt"
	"reflect"

	"hypermesh/hashing"
)

// orderedCollection is implemented by Set and Map: anything whose
// literal form is an array built from a canonically-ordered member
// list (spec §3, §8 invariant 2).
type orderedCollection interface {
	orderedForLiteral() []any
}

// collectionBuilder lets Deliteralize hand a freshly-parsed literal
// array back to a Set/Map so it can reconstruct typed members without
// the generic machinery living outside package-level generics.
type collectionBuilder interface {
	orderedCollection
	buildFromLiteral(items []any, ctx *Context) error
}

// reconstructHashable rebuilds a single Hashable member (a HashReference
// or a nested HashedObject) of static type T from its literal form.
func reconstructHashable[T hashing.Hashable](raw any, ctx *Context) (T, error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil || t.Kind() != reflect.Ptr {
		return zero, fmt.Errorf("object: unsupported hashable element type %T", zero)
	}
	newPtr := reflect.New(t.Elem())

	if m, ok := raw.(map[string]any); ok {
		switch m["_type"] {
		case "hashed_object_reference":
			if _, ok := newPtr.Interface().(reference); ok {
				hashStr, _ := m["_hash"].(string)
				className, _ := m["_class"].(string)
				newPtr.Elem().FieldByName("TargetHash").Set(reflect.ValueOf(hashing.Hash(hashStr)))
				newPtr.Elem().FieldByName("TargetClass").Set(reflect.ValueOf(className))
				result, ok := newPtr.Interface().(T)
				if !ok {
					return zero, fmt.Errorf("object: %T does not satisfy element type", newPtr.Interface())
				}
				return result, nil
			}
		case "hashed_object_dependency":
			hashStr, _ := m["_hash"].(string)
			child, err := Deliteralize(hashing.Hash(hashStr), ctx)
			if err != nil {
				return zero, err
			}
			result, ok := child.(T)
			if !ok {
				return zero, fmt.Errorf("object: %T does not satisfy element type", child)
			}
			return result, nil
		}
	}
	return zero, fmt.Errorf("object: cannot reconstruct hashable element from %T", raw)
}

// Set is a HashedSet specialised for use as a literalizable field: its
// members literalize in ascending-hash order regardless of insertion
// order.
type Set[T hashing.Hashable] struct {
	*hashing.HashedSet[T]
}

// NewSet builds a Set from the given members.
func NewSet[T hashing.Hashable](members ...T) *Set[T] {
	return &Set[T]{HashedSet: hashing.NewHashedSet(members...)}
}

func (s *Set[T]) orderedForLiteral() []any {
	members := s.OrderedMembers()
	out := make([]any, len(members))
	for i, m := range members {
		out[i] = m
	}
	return out
}

func (s *Set[T]) buildFromLiteral(items []any, ctx *Context) error {
	if s.HashedSet == nil {
		s.HashedSet = hashing.NewHashedSet[T]()
	}
	for _, raw := range items {
		v, err := reconstructHashable[T](raw, ctx)
		if err != nil {
			return err
		}
		s.Add(v)
	}
	return nil
}

// Map is a HashedMap specialised for use as a literalizable field: its
// entries literalize as (keyHash, valueHash)-ordered pairs.
type Map[K hashing.Hashable, V hashing.Hashable] struct {
	*hashing.HashedMap[K, V]
}

// NewMap builds an empty Map.
func NewMap[K hashing.Hashable, V hashing.Hashable]() *Map[K, V] {
	return &Map[K, V]{HashedMap: hashing.NewHashedMap[K, V]()}
}

func (m *Map[K, V]) orderedForLiteral() []any {
	entries := m.OrderedEntries()
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = []any{e.Key, e.Value}
	}
	return out
}

func (m *Map[K, V]) buildFromLiteral(items []any, ctx *Context) error {
	if m.HashedMap == nil {
		m.HashedMap = hashing.NewHashedMap[K, V]()
	}
	for _, raw := range items {
		pair, ok := raw.([]any)
		if !ok || len(pair) != 2 {
			return fmt.Errorf("object: malformed map entry literal %#v", raw)
		}
		k, err := reconstructHashable[K](pair[0], ctx)
		if err != nil {
			return err
		}
		v, err := reconstructHashable[V](pair[1], ctx)
		if err != nil {
			return err
		}
		m.Set(k, v)
	}
	return nil
}
