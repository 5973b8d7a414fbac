package hashing_test

import (
	"testing"

	"hypermesh/hashing"
)

func TestHIsDeterministicAndOrderSensitiveOnlyForArrays(t *testing.T) {
	a := map[string]any{"b": int64(2), "a": int64(1)}
	b := map[string]any{"a": int64(1), "b": int64(2)}
	if hashing.H(a) != hashing.H(b) {
		t.Fatal("H must be insensitive to map key insertion order")
	}

	arr1 := []any{int64(1), int64(2)}
	arr2 := []any{int64(2), int64(1)}
	if hashing.H(arr1) == hashing.H(arr2) {
		t.Fatal("H must be sensitive to array element order")
	}
}

func TestHRejectsNil(t *testing.T) {
	if _, err := hashing.Canonicalize(nil); err == nil {
		t.Fatal("Canonicalize(nil) should reject, got nil error")
	}
}

func TestHSeedVariesBySeed(t *testing.T) {
	v := "same-value"
	if hashing.HSeed(v, "seed-a") == hashing.HSeed(v, "seed-b") {
		t.Fatal("HSeed with different seeds must diverge")
	}
	if hashing.HSeed(v, "seed-a") != hashing.HSeed(v, "seed-a") {
		t.Fatal("HSeed must be deterministic for the same seed")
	}
}

func TestHBytesIsDeterministicAndInputSensitive(t *testing.T) {
	if hashing.HBytes([]byte("x")) != hashing.HBytes([]byte("x")) {
		t.Fatal("HBytes must be deterministic")
	}
	if hashing.HBytes([]byte("x")) != hashing.HBytes([]byte("y")) {
		// overwhelmingly likely, not a hash-collision assertion
	} else {
		t.Fatal("HBytes of distinct inputs collided")
	}
}

func TestIntAndFloatCanonicalizeToTheSamePreimage(t *testing.T) {
	if hashing.H(int64(3)) != hashing.H(float64(3)) {
		t.Fatal("whole-valued floats must canonicalize identically to the equivalent integer")
	}
}
