// Package identity implements the Identity hashed object: an
// authorship credential whose hash is derived from its public key
// alone, so it is stable without requiring the private key to be
// present (spec §6 "Identity literal & signature").
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"hypermesh/hashing"
	"hypermesh/object"
)

const ClassName = "hhs.Identity"

func init() {
	object.RegisterClass(ClassName, func() object.HashedObject { return &Identity{} })
}

// Identity is a hashed object carrying an embedded public key and,
// optionally, the private key pair held only by its owner (spec §3
// "Lifecycle").
type Identity struct {
	object.Base

	Info      string
	PublicKey string // hex-encoded ed25519 public key

	privateKey ed25519.PrivateKey // unexported: never literalized, never leaves the owning process
}

// NewIdentity generates a fresh ed25519 keypair and wraps it in an
// Identity the caller owns (can sign with).
func NewIdentity(info string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	id := &Identity{
		Info:       info,
		PublicKey:  hex.EncodeToString(pub),
		privateKey: priv,
	}
	return id, nil
}

// NewPublicIdentity builds an Identity that only knows the public key
// (e.g. reconstructed from a remote peer's literal) and cannot sign.
func NewPublicIdentity(info, publicKeyHex string) *Identity {
	return &Identity{Info: info, PublicKey: publicKeyHex}
}

func (id *Identity) ClassName() string { return ClassName }

func (id *Identity) Init() {}

// CustomHash makes an Identity's hash stable over its public key alone
// (spec §3 invariant, §6): hash(Identity) = H(publicKeyCanonicalValue).
func (id *Identity) CustomHash(ctx *object.Context) (hashing.Hash, bool) {
	return hashing.H(map[string]any{"_type": "hashed_object", "_class": ClassName, "_fields": map[string]any{"PublicKey": id.PublicKey}, "_flags": []any{}}), true
}

// HasPrivateKey reports whether this process holds the signing key.
func (id *Identity) HasPrivateKey() bool { return id.privateKey != nil }

// SignHash implements object.Signer: it signs the hex-encoded hash
// bytes with the embedded private key (spec §6 "Signatures on authored
// objects are produced by signing the object's hash (hex)").
func (id *Identity) SignHash(hash hashing.Hash) (string, error) {
	if id.privateKey == nil {
		return "", fmt.Errorf("identity: no private key available to sign")
	}
	sig := ed25519.Sign(id.privateKey, []byte(hash))
	return hex.EncodeToString(sig), nil
}

// VerifySignature implements object.Authenticator.
func (id *Identity) VerifySignature(hash hashing.Hash, signature string) (bool, error) {
	pub, err := hex.DecodeString(id.PublicKey)
	if err != nil {
		return false, fmt.Errorf("identity: malformed public key: %w", err)
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false, fmt.Errorf("identity: malformed signature: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(hash), sig), nil
}

// Validate enforces the one class invariant Identity needs: a
// well-formed, correctly sized public key.
func (id *Identity) Validate(referenced map[hashing.Hash]object.HashedObject) error {
	pub, err := hex.DecodeString(id.PublicKey)
	if err != nil {
		return fmt.Errorf("identity: malformed public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("identity: public key has wrong length %d", len(pub))
	}
	return nil
}
