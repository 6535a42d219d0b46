package signature

import (
	"encoding/hex"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// Curve is a phantom type parameter selecting the elliptic curve an ECDSA
// key or signature belongs to.
type Curve interface {
	Name() string
	ScalarSize() int
}

// NistP256 is the NIST P-256 (secp256r1) curve.
type NistP256 struct{}

func (NistP256) Name() string    { return "P-256" }
func (NistP256) ScalarSize() int { return 32 }

// Secp256k1 is the SEC 2 Koblitz curve used by Bitcoin and Ethereum.
type Secp256k1 struct{}

func (Secp256k1) Name() string    { return "secp256k1" }
func (Secp256k1) ScalarSize() int { return 32 }

func scalarSize[C Curve]() int {
	var c C
	return c.ScalarSize()
}

func curveName[C Curve]() string {
	var c C
	return c.Name()
}

// ECDSAPublicKey is a SEC1-encoded point on curve C, either compressed or
// uncompressed. Values are comparable with ==.
type ECDSAPublicKey[C Curve] struct {
	point string
}

// ECDSAPublicKeyFromBytes validates the SEC1 framing of b. Whether the point
// is actually on the curve is checked by the primitive library at use.
func ECDSAPublicKeyFromBytes[C Curve](b []byte) (ECDSAPublicKey[C], error) {
	n := scalarSize[C]()
	op := curveName[C]() + " public key"
	switch {
	case len(b) == 1+n && (b[0] == 0x02 || b[0] == 0x03):
	case len(b) == 1+2*n && b[0] == 0x04:
	default:
		return ECDSAPublicKey[C]{}, Errorf(KindKeyInvalid, op, "malformed SEC1 point (%d bytes)", len(b))
	}
	return ECDSAPublicKey[C]{point: string(b)}, nil
}

// MustECDSAPublicKey wraps library-produced bytes and panics if they are malformed.
func MustECDSAPublicKey[C Curve](b []byte) ECDSAPublicKey[C] {
	return mustNotFail(ECDSAPublicKeyFromBytes[C](b))
}

func (pk ECDSAPublicKey[C]) Bytes() []byte {
	return []byte(pk.point)
}

// Compressed reports whether the point uses the 33-byte compressed form.
func (pk ECDSAPublicKey[C]) Compressed() bool {
	return len(pk.point) > 0 && pk.point[0] != 0x04
}

func (pk ECDSAPublicKey[C]) IsZero() bool {
	return pk.point == ""
}

func (pk ECDSAPublicKey[C]) String() string {
	return hex.EncodeToString([]byte(pk.point))
}

// Asn1Signature is a DER-encoded ECDSA-Sig-Value over curve C.
type Asn1Signature[C Curve] struct {
	der string
}

// Asn1SignatureFromBytes strictly parses b as SEQUENCE { INTEGER r, INTEGER s }.
func Asn1SignatureFromBytes[C Curve](b []byte) (Asn1Signature[C], error) {
	if _, _, err := parseDER[C](b); err != nil {
		return Asn1Signature[C]{}, err
	}
	return Asn1Signature[C]{der: string(b)}, nil
}

// MustAsn1Signature wraps library-produced DER and panics if it is malformed.
func MustAsn1Signature[C Curve](b []byte) Asn1Signature[C] {
	return mustNotFail(Asn1SignatureFromBytes[C](b))
}

func (sig Asn1Signature[C]) Bytes() []byte {
	return []byte(sig.der)
}

// Scalars returns r and s.
func (sig Asn1Signature[C]) Scalars() (r, s *big.Int) {
	r, s, err := parseDER[C]([]byte(sig.der))
	if err != nil {
		panic("signature: stored DER failed to re-parse: " + err.Error())
	}
	return r, s
}

// FixedSignature is the r || s encoding over curve C, each scalar padded to
// the curve's scalar size.
type FixedSignature[C Curve] struct {
	raw string
}

// FixedSignatureFromBytes checks the length of b and that neither scalar is zero.
func FixedSignatureFromBytes[C Curve](b []byte) (FixedSignature[C], error) {
	n := scalarSize[C]()
	op := curveName[C]() + " fixed signature"
	if len(b) != 2*n {
		return FixedSignature[C]{}, Errorf(KindSignatureInvalid, op, "expected %d bytes, got %d", 2*n, len(b))
	}
	r := new(big.Int).SetBytes(b[:n])
	s := new(big.Int).SetBytes(b[n:])
	if r.Sign() == 0 || s.Sign() == 0 {
		return FixedSignature[C]{}, Errorf(KindSignatureInvalid, op, "zero scalar")
	}
	return FixedSignature[C]{raw: string(b)}, nil
}

func (sig FixedSignature[C]) Bytes() []byte {
	return []byte(sig.raw)
}

func (sig FixedSignature[C]) Scalars() (r, s *big.Int) {
	n := scalarSize[C]()
	return new(big.Int).SetBytes([]byte(sig.raw[:n])), new(big.Int).SetBytes([]byte(sig.raw[n:]))
}

// ECDSASignature is satisfied by exactly the two encodings of curve C. Signers
// and verifiers are instantiated with one of them, so a verifier for one
// encoding cannot be handed the other.
type ECDSASignature[C Curve] interface {
	Asn1Signature[C] | FixedSignature[C]
	Bytes() []byte
	Scalars() (r, s *big.Int)
}

// ECDSASignatureFromScalars encodes (r, s) as S.
func ECDSASignatureFromScalars[C Curve, S ECDSASignature[C]](r, s *big.Int) (S, error) {
	var out S
	var v any
	switch any(out).(type) {
	case Asn1Signature[C]:
		der, err := encodeDER[C](r, s)
		if err != nil {
			return out, err
		}
		v = Asn1Signature[C]{der: string(der)}
	case FixedSignature[C]:
		raw, err := encodeFixed[C](r, s)
		if err != nil {
			return out, err
		}
		v = FixedSignature[C]{raw: string(raw)}
	}
	return v.(S), nil
}

// MustECDSASignature is ECDSASignatureFromScalars for library-produced scalars.
func MustECDSASignature[C Curve, S ECDSASignature[C]](r, s *big.Int) S {
	return mustNotFail(ECDSASignatureFromScalars[C, S](r, s))
}

// ECDSASignatureFromBytes parses b in the encoding selected by S.
func ECDSASignatureFromBytes[C Curve, S ECDSASignature[C]](b []byte) (S, error) {
	var out S
	var v any
	var err error
	switch any(out).(type) {
	case Asn1Signature[C]:
		v, err = Asn1SignatureFromBytes[C](b)
	case FixedSignature[C]:
		v, err = FixedSignatureFromBytes[C](b)
	}
	if err != nil {
		return out, err
	}
	return v.(S), nil
}

func parseDER[C Curve](b []byte) (r, s *big.Int, err error) {
	op := curveName[C]() + " asn1 signature"
	r, s = new(big.Int), new(big.Int)
	var inner cryptobyte.String
	input := cryptobyte.String(b)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, nil, Errorf(KindSignatureInvalid, op, "malformed DER")
	}
	limit := 8 * scalarSize[C]()
	if r.Sign() <= 0 || s.Sign() <= 0 || r.BitLen() > limit || s.BitLen() > limit {
		return nil, nil, Errorf(KindSignatureInvalid, op, "scalar out of range")
	}
	return r, s, nil
}

func encodeDER[C Curve](r, s *big.Int) ([]byte, error) {
	limit := 8 * scalarSize[C]()
	if r.Sign() <= 0 || s.Sign() <= 0 || r.BitLen() > limit || s.BitLen() > limit {
		return nil, Errorf(KindSignatureInvalid, curveName[C]()+" asn1 signature", "scalar out of range")
	}
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	der, err := b.Bytes()
	if err != nil {
		return nil, Errorf(KindSignatureInvalid, curveName[C]()+" asn1 signature", "encode: %w", err)
	}
	return der, nil
}

func encodeFixed[C Curve](r, s *big.Int) ([]byte, error) {
	n := scalarSize[C]()
	if r.Sign() <= 0 || s.Sign() <= 0 || r.BitLen() > 8*n || s.BitLen() > 8*n {
		return nil, Errorf(KindSignatureInvalid, curveName[C]()+" fixed signature", "scalar out of range")
	}
	out := make([]byte, 2*n)
	r.FillBytes(out[:n])
	s.FillBytes(out[n:])
	return out, nil
}
