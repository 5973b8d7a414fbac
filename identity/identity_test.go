package identity_test

import (
	"testing"

	"hypermesh/identity"
	"hypermesh/object"
)

func TestSignHashAndVerifySignatureRoundTrip(t *testing.T) {
	id, err := identity.NewIdentity("alice")
	if err != nil {
		t.Fatalf("NewIdentity error = %v", err)
	}
	if !id.HasPrivateKey() {
		t.Fatal("a freshly generated identity should hold its private key")
	}

	hash, _ := id.CustomHash(object.NewContext())
	sig, err := id.SignHash(hash)
	if err != nil {
		t.Fatalf("SignHash error = %v", err)
	}

	ok, err := id.VerifySignature(hash, sig)
	if err != nil {
		t.Fatalf("VerifySignature error = %v", err)
	}
	if !ok {
		t.Fatal("VerifySignature rejected a signature produced by the same identity's key")
	}
}

func TestVerifySignatureRejectsTamperedHash(t *testing.T) {
	id, _ := identity.NewIdentity("bob")
	hash, _ := id.CustomHash(object.NewContext())
	sig, _ := id.SignHash(hash)

	ok, err := id.VerifySignature("not-the-same-hash", sig)
	if err != nil {
		t.Fatalf("VerifySignature error = %v", err)
	}
	if ok {
		t.Fatal("VerifySignature accepted a signature over a different hash")
	}
}

func TestPublicIdentityCannotSign(t *testing.T) {
	owner, _ := identity.NewIdentity("carol")
	pub := identity.NewPublicIdentity("carol", owner.PublicKey)

	if pub.HasPrivateKey() {
		t.Fatal("a public-only identity must not report holding a private key")
	}
	if _, err := pub.SignHash("whatever"); err == nil {
		t.Fatal("SignHash should fail on a public-only identity")
	}
}

func TestCustomHashIsStableOverPublicKeyAlone(t *testing.T) {
	owner, _ := identity.NewIdentity("dave")
	pub := identity.NewPublicIdentity("dave (remote copy)", owner.PublicKey)

	h1, _ := owner.CustomHash(object.NewContext())
	h2, _ := pub.CustomHash(object.NewContext())
	if h1 != h2 {
		t.Fatal("CustomHash must depend only on the public key, not on Info or key ownership")
	}
}
