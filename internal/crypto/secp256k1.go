package crypto

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/glinharesb/signatory-go/internal/pkcs8"
	"github.com/glinharesb/signatory-go/internal/signature"
)

type (
	Secp256k1PublicKey = signature.ECDSAPublicKey[signature.Secp256k1]
	Secp256k1Asn1      = signature.Asn1Signature[signature.Secp256k1]
	Secp256k1Fixed     = signature.FixedSignature[signature.Secp256k1]

	Secp256k1Asn1Signer    = Secp256k1Signer[Secp256k1Asn1]
	Secp256k1FixedSigner   = Secp256k1Signer[Secp256k1Fixed]
	Secp256k1Asn1Verifier  = Secp256k1Verifier[Secp256k1Asn1]
	Secp256k1FixedVerifier = Secp256k1Verifier[Secp256k1Fixed]
)

var (
	_ signature.Signer[Secp256k1PublicKey, Secp256k1Asn1]    = (*Secp256k1Asn1Signer)(nil)
	_ signature.Signer[Secp256k1PublicKey, Secp256k1Fixed]   = (*Secp256k1FixedSigner)(nil)
	_ signature.Verifier[Secp256k1PublicKey, Secp256k1Asn1]  = Secp256k1Asn1Verifier{}
	_ signature.Verifier[Secp256k1PublicKey, Secp256k1Fixed] = Secp256k1FixedVerifier{}
)

// Secp256k1Signer signs SHA-256 digests with deterministic (RFC 6979) ECDSA
// over secp256k1. Signatures are always low-S.
type Secp256k1Signer[S signature.ECDSASignature[signature.Secp256k1]] struct {
	key *secp256k1.PrivateKey
	pub Secp256k1PublicKey
}

// NewSecp256k1Signer builds a signer from a raw 32-byte big-endian scalar.
// Zero or out-of-range scalars are rejected with KindKeyInvalid.
func NewSecp256k1Signer[S signature.ECDSASignature[signature.Secp256k1]](secret []byte) (*Secp256k1Signer[S], error) {
	const op = "ecdsa secp256k1: new signer"
	if len(secret) != 32 {
		return nil, signature.Errorf(signature.KindKeyInvalid, op, "expected 32 bytes, got %d", len(secret))
	}
	var k secp256k1.ModNScalar
	if overflow := k.SetByteSlice(secret); overflow || k.IsZero() {
		return nil, signature.Errorf(signature.KindKeyInvalid, op, "scalar out of range")
	}
	return newSecp256k1Signer[S](secp256k1.NewPrivateKey(&k)), nil
}

// NewSecp256k1SignerFromPKCS8 loads an unencrypted secp256k1 PKCS#8 document.
func NewSecp256k1SignerFromPKCS8[S signature.ECDSASignature[signature.Secp256k1]](doc *pkcs8.Document) (*Secp256k1Signer[S], error) {
	const op = "ecdsa secp256k1: from pkcs8"
	decoded, err := decodeKey(doc, pkcs8.AlgorithmECDSASecp256k1, op)
	if err != nil {
		return nil, err
	}
	key, ok := decoded.(*secp256k1.PrivateKey)
	if !ok {
		return nil, signature.Errorf(signature.KindKeyInvalid, op, "decoded %T", decoded)
	}
	return newSecp256k1Signer[S](key), nil
}

func newSecp256k1Signer[S signature.ECDSASignature[signature.Secp256k1]](key *secp256k1.PrivateKey) *Secp256k1Signer[S] {
	return &Secp256k1Signer[S]{
		key: key,
		pub: signature.MustECDSAPublicKey[signature.Secp256k1](key.PubKey().SerializeCompressed()),
	}
}

// GenerateSecp256k1PKCS8 creates a fresh secp256k1 key and returns it as a PKCS#8 document.
func GenerateSecp256k1PKCS8() (*pkcs8.Document, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate secp256k1 key: %w", err)
	}
	return pkcs8.Encode(key)
}

// PublicKey returns the compressed SEC1 point.
func (s *Secp256k1Signer[S]) PublicKey() (Secp256k1PublicKey, error) {
	return s.pub, nil
}

func (s *Secp256k1Signer[S]) Sign(msg []byte) (S, error) {
	digest := sha256.Sum256(msg)
	der := ecdsa.Sign(s.key, digest[:]).Serialize()
	asn1Sig := signature.MustAsn1Signature[signature.Secp256k1](der)
	r, ss := asn1Sig.Scalars()
	return signature.MustECDSASignature[signature.Secp256k1, S](r, ss), nil
}

// Secp256k1Verifier checks secp256k1 signatures in the encoding S. High-S
// signatures are accepted.
type Secp256k1Verifier[S signature.ECDSASignature[signature.Secp256k1]] struct{}

func (Secp256k1Verifier[S]) Verify(key Secp256k1PublicKey, msg []byte, sig S) error {
	const op = "ecdsa secp256k1: verify"
	pub, err := secp256k1.ParsePubKey(key.Bytes())
	if err != nil {
		return signature.NewError(signature.KindSignatureInvalid, op, nil)
	}
	r, s := sig.Scalars()
	var rs, ss secp256k1.ModNScalar
	if !setScalar(&rs, r) || !setScalar(&ss, s) {
		return signature.NewError(signature.KindSignatureInvalid, op, nil)
	}
	digest := sha256.Sum256(msg)
	if !ecdsa.NewSignature(&rs, &ss).Verify(digest[:], pub) {
		return signature.NewError(signature.KindSignatureInvalid, op, nil)
	}
	return nil
}

func setScalar(dst *secp256k1.ModNScalar, v *big.Int) bool {
	if v.Sign() <= 0 || v.BitLen() > 256 {
		return false
	}
	var buf [32]byte
	v.FillBytes(buf[:])
	overflow := dst.SetBytes(&buf)
	return overflow == 0 && !dst.IsZero()
}
