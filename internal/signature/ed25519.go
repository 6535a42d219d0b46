package signature

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const (
	Ed25519PublicKeySize = 32
	Ed25519SignatureSize = 64
	SeedSize             = 32
)

// Ed25519PublicKey is a compressed Edwards point.
type Ed25519PublicKey [Ed25519PublicKeySize]byte

// Ed25519PublicKeyFromBytes copies b into a public key after checking its length.
func Ed25519PublicKeyFromBytes(b []byte) (Ed25519PublicKey, error) {
	var pk Ed25519PublicKey
	if len(b) != Ed25519PublicKeySize {
		return pk, Errorf(KindKeyInvalid, "ed25519 public key", "expected %d bytes, got %d", Ed25519PublicKeySize, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// MustEd25519PublicKey wraps library-produced bytes and panics if they are malformed.
func MustEd25519PublicKey(b []byte) Ed25519PublicKey {
	return mustNotFail(Ed25519PublicKeyFromBytes(b))
}

func (pk Ed25519PublicKey) Bytes() []byte {
	return pk[:]
}

func (pk Ed25519PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// Ed25519Signature is a fixed-width RFC 8032 signature (R || S).
type Ed25519Signature [Ed25519SignatureSize]byte

// Ed25519SignatureFromBytes copies b into a signature after checking its length.
func Ed25519SignatureFromBytes(b []byte) (Ed25519Signature, error) {
	var sig Ed25519Signature
	if len(b) != Ed25519SignatureSize {
		return sig, Errorf(KindSignatureInvalid, "ed25519 signature", "expected %d bytes, got %d", Ed25519SignatureSize, len(b))
	}
	copy(sig[:], b)
	return sig, nil
}

// MustEd25519Signature wraps library-produced bytes and panics if they are malformed.
func MustEd25519Signature(b []byte) Ed25519Signature {
	return mustNotFail(Ed25519SignatureFromBytes(b))
}

func (sig Ed25519Signature) Bytes() []byte {
	return sig[:]
}

// Seed is the 32-byte secret an Ed25519 keypair is expanded from. It formats
// as a redacted placeholder so it cannot leak through logs.
type Seed struct {
	b [SeedSize]byte
}

// SeedFromBytes copies b into a Seed after checking its length.
func SeedFromBytes(b []byte) (*Seed, error) {
	if len(b) != SeedSize {
		return nil, Errorf(KindKeyInvalid, "seed", "expected %d bytes, got %d", SeedSize, len(b))
	}
	s := &Seed{}
	copy(s.b[:], b)
	return s, nil
}

// Bytes returns a copy of the seed material.
func (s *Seed) Bytes() []byte {
	out := make([]byte, SeedSize)
	copy(out, s.b[:])
	return out
}

// Equal compares two seeds in constant time.
func (s *Seed) Equal(other *Seed) bool {
	return subtle.ConstantTimeCompare(s.b[:], other.b[:]) == 1
}

// Zeroize wipes the seed material.
func (s *Seed) Zeroize() {
	clear(s.b[:])
}

func (s *Seed) String() string {
	return "Seed(REDACTED)"
}

func (s *Seed) GoString() string {
	return s.String()
}

func (s *Seed) Format(f fmt.State, _ rune) {
	fmt.Fprint(f, s.String())
}
