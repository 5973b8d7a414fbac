package object

import (
	"reflect"

	"hypermesh/hashing"
)

// HashedObject is the abstract base every content-addressed type
// implements. Concrete types embed Base (which supplies the sealed
// base() method, promoted through the embedding) and implement
// ClassName(); Init() and Validate() may be overridden by shadowing the
// embedded Base's default no-op implementations (spec §3, §4.2).
type HashedObject interface {
	ClassName() string
	Init()
	Validate(referenced map[hashing.Hash]HashedObject) error
	base() *Base
}

// customHasher is implemented by types (e.g. identity.Identity) whose
// hash is not simply H(literal.value) — spec §3 "unless customHash is
// defined".
type customHasher interface {
	CustomHash(ctx *Context) (hashing.Hash, bool)
}

// Authenticator is implemented by author types capable of verifying a
// signature produced over an object's hash (spec §6, §4.2 step 3).
type Authenticator interface {
	HashedObject
	VerifySignature(hash hashing.Hash, signature string) (bool, error)
}

// Signer is implemented by an author capable of producing the
// signature a Store attaches on save (spec §4.4 step 3b).
type Signer interface {
	SignHash(hash hashing.Hash) (string, error)
}

// Base is embedded by every concrete hashed-object type. Its fields are
// unexported, matching spec §4.2's "fields whose name starts with _ are
// not literalized" — in idiomatic Go, unexported fields play that role
// naturally: reflection-based literalization only ever sees a struct's
// exported fields.
type Base struct {
	id             *string
	lastHash       hashing.Hash
	lastSignature  string
	derivedFields  []string
	resources      *Resources
	author         HashedObject
	shouldSignOnSave bool
	cascadeMutableContentEvents bool
	relay *Relay
}

func (b *Base) base() *Base { return b }

// Init is the default post-deliteralization hook; concrete types
// override it by defining their own Init() method, which shadows this
// one for interface dispatch.
func (b *Base) Init() {}

// Validate is the default class-invariant check; concrete types
// override it to enforce their own invariants (spec §4.2 step 4).
func (b *Base) Validate(referenced map[hashing.Hash]HashedObject) error { return nil }

// ID returns the object's id, if one has been assigned.
func (b *Base) ID() *string { return b.id }

// SetID assigns id to the object and cascades to every derived field
// (spec §4.2 "Derived fields"): setId(id) recomputes the id of every
// child listed in _derivedFields as H("#" + id + "." + fieldName),
// recursively.
func SetID(obj HashedObject, id string) {
	b := obj.base()
	b.id = &id
	for _, fieldName := range b.derivedFields {
		child := fieldByName(obj, fieldName)
		if child == nil {
			continue
		}
		childID := hashing.HBytes([]byte("#" + id + "." + fieldName))
		SetID(child, string(childID))
	}
}

// CheckDerivedField reports whether the named field's current child
// object id matches the value derived from obj's own id (spec §8
// invariant 3).
func CheckDerivedField(obj HashedObject, fieldName string) bool {
	b := obj.base()
	if b.id == nil {
		return false
	}
	child := fieldByName(obj, fieldName)
	if child == nil {
		return false
	}
	want := string(hashing.HBytes([]byte("#" + *b.id + "." + fieldName)))
	got := child.base().id
	return got != nil && *got == want
}

// SetDerivedFields records which field names have ids derived from
// obj's own id.
func SetDerivedFields(obj HashedObject, fields ...string) {
	obj.base().derivedFields = append([]string{}, fields...)
}

// Author returns the object's author identity, if any.
func Author(obj HashedObject) HashedObject { return obj.base().author }

// SetAuthor assigns the object's author. signOnSave controls whether
// the store signs the object's hash with the author's private key when
// saving (spec §4.4 step 3b).
func SetAuthor(obj HashedObject, author HashedObject, signOnSave bool) {
	b := obj.base()
	b.author = author
	b.shouldSignOnSave = signOnSave
}

// ShouldSignOnSave reports the signing intent set via SetAuthor.
func ShouldSignOnSave(obj HashedObject) bool { return obj.base().shouldSignOnSave }

// LastHash returns the hash memoized at the last (de)literalization.
func LastHash(obj HashedObject) hashing.Hash { return obj.base().lastHash }

// SetLastHash memoizes the object's hash.
func SetLastHash(obj HashedObject, h hashing.Hash) { obj.base().lastHash = h }

// LastSignature returns the signature recorded at the last load, if any.
func LastSignature(obj HashedObject) string { return obj.base().lastSignature }

// SetLastSignature records a signature against the object.
func SetLastSignature(obj HashedObject, sig string) { obj.base().lastSignature = sig }

// GetResources returns the object's Resources descriptor, if any.
func GetResources(obj HashedObject) *Resources { return obj.base().resources }

// SetResources assigns r to obj and cascades it to every direct
// hashed-object subfield (spec §5 "setting it propagates to direct
// subobjects").
func SetResources(obj HashedObject, r *Resources) {
	obj.base().resources = r
	for _, child := range directChildObjects(obj) {
		SetResources(child, r)
	}
}

// SetCascadeMutableContentEvents toggles whether mutation events from
// mutable *contents* of obj (as opposed to structural changes of obj
// itself) propagate up through the event relay (spec §4.3).
func SetCascadeMutableContentEvents(obj HashedObject, cascade bool) {
	obj.base().cascadeMutableContentEvents = cascade
}

// CascadeMutableContentEvents reports the current toggle state.
func CascadeMutableContentEvents(obj HashedObject) bool {
	return obj.base().cascadeMutableContentEvents
}

// fieldByName returns the exported field named name if it holds a
// HashedObject, else nil.
func fieldByName(obj HashedObject, name string) HashedObject {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return nil
	}
	fv := v.Elem().FieldByName(name)
	if !fv.IsValid() || !fv.CanInterface() {
		return nil
	}
	if ho, ok := fv.Interface().(HashedObject); ok && ho != nil {
		if rv := reflect.ValueOf(ho); rv.Kind() != reflect.Ptr || !rv.IsNil() {
			return ho
		}
	}
	return nil
}

// directChildObjects returns every exported field of obj that is
// itself a (non-nil) HashedObject — the direct subobjects resources
// and id-derivation cascade through.
func directChildObjects(obj HashedObject) []HashedObject {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return nil
	}
	var out []HashedObject
	for _, nf := range flattenedFields(v.Elem()) {
		if ho, ok := nf.value.Interface().(HashedObject); ok && ho != nil {
			if rv := reflect.ValueOf(ho); rv.Kind() != reflect.Ptr || !rv.IsNil() {
				out = append(out, ho)
			}
		}
	}
	return out
}
