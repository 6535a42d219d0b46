// Package hsm signs with keys held inside a hardware security module. A
// Session owns one authenticated channel to the module and serializes every
// request over it; signers for individual keys share the session.
package hsm

import (
	"context"
	"errors"
	"fmt"
)

// KeyID identifies an object inside the module.
type KeyID uint16

// Algorithm is the module's tag for an asymmetric key type. Values follow
// the YubiHSM 2 numbering.
type Algorithm uint8

const (
	AlgorithmUnknown Algorithm = 0
	AlgorithmEcP256  Algorithm = 12
	AlgorithmEcK256  Algorithm = 15
	AlgorithmEd25519 Algorithm = 46
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmEcP256:
		return "ecp256"
	case AlgorithmEcK256:
		return "eck256"
	case AlgorithmEd25519:
		return "ed25519"
	default:
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
}

// ParseAlgorithm is the inverse of Algorithm.String for the supported tags.
func ParseAlgorithm(s string) (Algorithm, error) {
	for _, a := range []Algorithm{AlgorithmEcP256, AlgorithmEcK256, AlgorithmEd25519} {
		if a.String() == s {
			return a, nil
		}
	}
	return AlgorithmUnknown, fmt.Errorf("unknown algorithm %q", s)
}

var (
	ErrObjectNotFound = errors.New("hsm: object not found")
	ErrAuthFailed     = errors.New("hsm: authentication failed")
	ErrSessionClosed  = errors.New("hsm: session closed")
	ErrWrongAlgorithm = errors.New("hsm: operation not supported by key algorithm")
)

// PublicKeyRecord is what the module reports for an asymmetric object.
// Bytes is the raw 32-byte key for Ed25519 and the 64-byte x||y point for
// EC keys, as the device returns them.
type PublicKeyRecord struct {
	Algorithm Algorithm
	Bytes     []byte
}

// Connector opens authenticated sessions to a module. The session
// handshake and channel encryption are the connector's business.
type Connector interface {
	CreateSession(ctx context.Context, authKeyID KeyID, password string) (Transport, error)
}

// Transport is one open session. Implementations need not be safe for
// concurrent use; Session guarantees requests never overlap.
type Transport interface {
	GetPublicKey(ctx context.Context, keyID KeyID) (PublicKeyRecord, error)
	// SignEdDSA signs msg with an Ed25519 key and returns the 64-byte signature.
	SignEdDSA(ctx context.Context, keyID KeyID, msg []byte) ([]byte, error)
	// SignECDSA signs a precomputed digest with an EC key and returns the
	// DER-encoded signature.
	SignECDSA(ctx context.Context, keyID KeyID, digest []byte) ([]byte, error)
	Close() error
}
