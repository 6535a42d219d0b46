package pkcs8

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/glinharesb/signatory-go/internal/signature"
)

const ecPrivKeyVersion = 1

var tagECPublicKey = asn1.Tag(1).ContextSpecific().Constructed()

// crypto/x509 has no secp256k1 support, so the RFC 5915 ECPrivateKey inside
// the PrivateKeyInfo is built and read here.
func marshalSecp256k1(key *secp256k1.PrivateKey) ([]byte, error) {
	scalar := key.Key.Bytes()
	pub := key.PubKey().SerializeUncompressed()

	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Uint64(0)
		b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidECPublicKey)
			b.AddASN1ObjectIdentifier(oidCurveSecp256k)
		})
		b.AddASN1(asn1.OCTET_STRING, func(b *cryptobyte.Builder) {
			b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1Uint64(ecPrivKeyVersion)
				b.AddASN1OctetString(scalar[:])
				b.AddASN1(tagECPublicKey, func(b *cryptobyte.Builder) {
					b.AddASN1BitString(pub)
				})
			})
		})
	})
	return b.Bytes()
}

func parseSecp256k1(der []byte) (*secp256k1.PrivateKey, error) {
	fail := func(msg string) (*secp256k1.PrivateKey, error) {
		return nil, signature.Errorf(signature.KindEncoding, "pkcs8: secp256k1", "%s", msg)
	}

	input := cryptobyte.String(der)
	var (
		info, algID, wrapped, ecKey cryptobyte.String
		version                     int64
		scalar                      []byte
	)
	if !input.ReadASN1(&info, asn1.SEQUENCE) ||
		!info.ReadASN1Integer(&version) ||
		!info.ReadASN1(&algID, asn1.SEQUENCE) ||
		!info.ReadASN1(&wrapped, asn1.OCTET_STRING) {
		return fail("malformed PrivateKeyInfo")
	}
	if !wrapped.ReadASN1(&ecKey, asn1.SEQUENCE) ||
		!ecKey.ReadASN1Integer(&version) ||
		!ecKey.ReadASN1Bytes(&scalar, asn1.OCTET_STRING) {
		return fail("malformed ECPrivateKey")
	}
	if version != ecPrivKeyVersion {
		return fail("unsupported ECPrivateKey version")
	}
	if len(scalar) == 0 || len(scalar) > 32 {
		return fail("private scalar has wrong length")
	}

	var k secp256k1.ModNScalar
	if overflow := k.SetByteSlice(scalar); overflow || k.IsZero() {
		return fail("private scalar out of range")
	}
	return secp256k1.NewPrivateKey(&k), nil
}
