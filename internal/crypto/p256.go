package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/glinharesb/signatory-go/internal/pkcs8"
	"github.com/glinharesb/signatory-go/internal/signature"
)

type (
	P256PublicKey = signature.ECDSAPublicKey[signature.NistP256]
	P256Asn1      = signature.Asn1Signature[signature.NistP256]
	P256Fixed     = signature.FixedSignature[signature.NistP256]

	P256Asn1Signer    = P256Signer[P256Asn1]
	P256FixedSigner   = P256Signer[P256Fixed]
	P256Asn1Verifier  = P256Verifier[P256Asn1]
	P256FixedVerifier = P256Verifier[P256Fixed]
)

var (
	_ signature.Signer[P256PublicKey, P256Asn1]    = (*P256Asn1Signer)(nil)
	_ signature.Signer[P256PublicKey, P256Fixed]   = (*P256FixedSigner)(nil)
	_ signature.Verifier[P256PublicKey, P256Asn1]  = P256Asn1Verifier{}
	_ signature.Verifier[P256PublicKey, P256Fixed] = P256FixedVerifier{}
)

// P256Signer signs SHA-256 digests with ECDSA over NIST P-256 and emits
// signatures in the encoding S. Signatures are randomized.
type P256Signer[S signature.ECDSASignature[signature.NistP256]] struct {
	key *ecdsa.PrivateKey
	pub P256PublicKey
}

// NewP256SignerFromPKCS8 loads an unencrypted P-256 PKCS#8 document.
func NewP256SignerFromPKCS8[S signature.ECDSASignature[signature.NistP256]](doc *pkcs8.Document) (*P256Signer[S], error) {
	const op = "ecdsa p256: from pkcs8"
	decoded, err := decodeKey(doc, pkcs8.AlgorithmECDSAP256, op)
	if err != nil {
		return nil, err
	}
	key, ok := decoded.(*ecdsa.PrivateKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, signature.Errorf(signature.KindKeyInvalid, op, "decoded %T", decoded)
	}
	pub, err := key.PublicKey.ECDH()
	if err != nil {
		return nil, signature.NewError(signature.KindKeyInvalid, op, err)
	}
	return &P256Signer[S]{
		key: key,
		pub: signature.MustECDSAPublicKey[signature.NistP256](pub.Bytes()),
	}, nil
}

// GenerateP256PKCS8 creates a fresh P-256 key and returns it as a PKCS#8 document.
func GenerateP256PKCS8() (*pkcs8.Document, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ecdsa key: %w", err)
	}
	return pkcs8.Encode(key)
}

// PublicKey returns the uncompressed SEC1 point.
func (s *P256Signer[S]) PublicKey() (P256PublicKey, error) {
	return s.pub, nil
}

func (s *P256Signer[S]) Sign(msg []byte) (S, error) {
	digest := sha256.Sum256(msg)
	r, ss, err := ecdsa.Sign(rand.Reader, s.key, digest[:])
	if err != nil {
		var zero S
		return zero, fmt.Errorf("ecdsa sign: %w", err)
	}
	return signature.MustECDSASignature[signature.NistP256, S](r, ss), nil
}

// P256Verifier checks P-256 signatures in the encoding S.
type P256Verifier[S signature.ECDSASignature[signature.NistP256]] struct{}

func (P256Verifier[S]) Verify(key P256PublicKey, msg []byte, sig S) error {
	const op = "ecdsa p256: verify"
	pub, err := parseP256PublicKey(key.Bytes())
	if err != nil {
		return signature.NewError(signature.KindSignatureInvalid, op, nil)
	}
	digest := sha256.Sum256(msg)
	r, s := sig.Scalars()
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return signature.NewError(signature.KindSignatureInvalid, op, nil)
	}
	return nil
}

func parseP256PublicKey(point []byte) (*ecdsa.PublicKey, error) {
	if len(point) > 0 && point[0] == 0x04 {
		return ecdsa.ParseUncompressedPublicKey(elliptic.P256(), point)
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), point)
	if x == nil {
		return nil, fmt.Errorf("invalid compressed point")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}
