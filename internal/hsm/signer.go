package hsm

import (
	"context"
	"crypto/sha256"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/glinharesb/signatory-go/internal/metrics"
	"github.com/glinharesb/signatory-go/internal/signature"
)

type (
	P256Asn1Signer       = ECDSASigner[signature.NistP256, signature.Asn1Signature[signature.NistP256]]
	P256FixedSigner      = ECDSASigner[signature.NistP256, signature.FixedSignature[signature.NistP256]]
	Secp256k1Asn1Signer  = ECDSASigner[signature.Secp256k1, signature.Asn1Signature[signature.Secp256k1]]
	Secp256k1FixedSigner = ECDSASigner[signature.Secp256k1, signature.FixedSignature[signature.Secp256k1]]
)

var _ signature.Signer[signature.Ed25519PublicKey, signature.Ed25519Signature] = (*Ed25519Signer)(nil)

var _ signature.Signer[signature.ECDSAPublicKey[signature.NistP256], signature.Asn1Signature[signature.NistP256]] = (*P256Asn1Signer)(nil)

// Ed25519Signer signs with an Ed25519 key held by the module.
type Ed25519Signer struct {
	session *Session
	keyID   KeyID
}

// NewEd25519Signer binds keyID on session. It fetches the public key once
// and fails with KindInvalidKey, without issuing any sign request, if the
// object is not an Ed25519 key.
func NewEd25519Signer(session *Session, keyID KeyID) (*Ed25519Signer, error) {
	s := &Ed25519Signer{session: session, keyID: keyID}
	if _, err := s.PublicKey(); err != nil {
		return nil, err
	}
	return s, nil
}

// Ed25519Signer is shorthand for NewEd25519Signer(s, keyID).
func (s *Session) Ed25519Signer(keyID KeyID) (*Ed25519Signer, error) {
	return NewEd25519Signer(s, keyID)
}

func (s *Ed25519Signer) KeyID() KeyID {
	return s.keyID
}

// PublicKey re-reads the key from the module and checks its algorithm on
// every call.
func (s *Ed25519Signer) PublicKey() (signature.Ed25519PublicKey, error) {
	b, err := s.session.publicKey(s.keyID, AlgorithmEd25519)
	if err != nil {
		return signature.Ed25519PublicKey{}, err
	}
	pk, err := signature.Ed25519PublicKeyFromBytes(b)
	if err != nil {
		return signature.Ed25519PublicKey{}, signature.NewError(signature.KindProvider, "hsm: public key", err)
	}
	return pk, nil
}

func (s *Ed25519Signer) Sign(msg []byte) (signature.Ed25519Signature, error) {
	var raw []byte
	err := s.session.do(metrics.OpSign, func(ctx context.Context, t Transport) error {
		var err error
		raw, err = t.SignEdDSA(ctx, s.keyID, msg)
		return err
	})
	if err != nil {
		return signature.Ed25519Signature{}, err
	}
	sig, err := signature.Ed25519SignatureFromBytes(raw)
	if err != nil {
		return signature.Ed25519Signature{}, signature.NewError(signature.KindProvider, "hsm: sign", err)
	}
	return sig, nil
}

// ECDSASigner signs SHA-256 digests with an EC key held by the module and
// returns signatures in the encoding S.
type ECDSASigner[C signature.Curve, S signature.ECDSASignature[C]] struct {
	session *Session
	keyID   KeyID
}

// NewECDSASigner binds keyID on session. The object's algorithm tag must
// match curve C, otherwise construction fails with KindInvalidKey before any
// sign request is sent.
func NewECDSASigner[C signature.Curve, S signature.ECDSASignature[C]](session *Session, keyID KeyID) (*ECDSASigner[C, S], error) {
	s := &ECDSASigner[C, S]{session: session, keyID: keyID}
	if _, err := s.PublicKey(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ECDSASigner[C, S]) KeyID() KeyID {
	return s.keyID
}

func (s *ECDSASigner[C, S]) PublicKey() (signature.ECDSAPublicKey[C], error) {
	b, err := s.session.publicKey(s.keyID, curveAlgorithm[C]())
	if err != nil {
		return signature.ECDSAPublicKey[C]{}, err
	}
	// Modules report the bare x||y point.
	var curve C
	if len(b) == 2*curve.ScalarSize() {
		b = append([]byte{0x04}, b...)
	}
	pk, err := signature.ECDSAPublicKeyFromBytes[C](b)
	if err != nil {
		return signature.ECDSAPublicKey[C]{}, signature.NewError(signature.KindProvider, "hsm: public key", err)
	}
	return pk, nil
}

func (s *ECDSASigner[C, S]) Sign(msg []byte) (S, error) {
	var zero S
	digest := sha256.Sum256(msg)

	var der []byte
	err := s.session.do(metrics.OpSign, func(ctx context.Context, t Transport) error {
		var err error
		der, err = t.SignECDSA(ctx, s.keyID, digest[:])
		return err
	})
	if err != nil {
		return zero, err
	}

	asn1Sig, err := signature.Asn1SignatureFromBytes[C](der)
	if err != nil {
		return zero, signature.NewError(signature.KindProvider, "hsm: sign", err)
	}
	r, ss := asn1Sig.Scalars()
	if curveAlgorithm[C]() == AlgorithmEcK256 {
		ss = normalizeLowS(ss)
	}
	sig, err := signature.ECDSASignatureFromScalars[C, S](r, ss)
	if err != nil {
		return zero, signature.NewError(signature.KindProvider, "hsm: sign", err)
	}
	return sig, nil
}

func curveAlgorithm[C signature.Curve]() Algorithm {
	var c C
	switch any(c).(type) {
	case signature.NistP256:
		return AlgorithmEcP256
	case signature.Secp256k1:
		return AlgorithmEcK256
	default:
		return AlgorithmUnknown
	}
}

var (
	secp256k1N     = secp256k1.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// normalizeLowS maps s to n-s when s is in the upper half of the group, so
// device signatures match the low-S form software signers produce.
func normalizeLowS(s *big.Int) *big.Int {
	if s.Cmp(secp256k1HalfN) > 0 {
		return new(big.Int).Sub(secp256k1N, s)
	}
	return s
}
