// Package pkcs11 drives a module through its PKCS#11 library. The connector
// itself needs cgo and is only built with the pkcs11 tag; this file holds the
// attribute and signature conversions it relies on.
package pkcs11

import (
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/glinharesb/signatory-go/internal/hsm"
)

var (
	oidNamedCurveP256      = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
	oidNamedCurveSecp256k1 = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
	oidEd25519             = asn1.ObjectIdentifier{1, 3, 101, 112}
)

// PIN builds the user PIN for authKeyID the way YubiHSM's PKCS#11 module
// expects it: four hex digits of the auth key id followed by the password.
func PIN(authKeyID hsm.KeyID, password string) string {
	return fmt.Sprintf("%04x%s", uint16(authKeyID), password)
}

// objectID is the CKA_ID of keyID, big-endian.
func objectID(keyID hsm.KeyID) []byte {
	return []byte{byte(keyID >> 8), byte(keyID)}
}

// curveAlgorithm maps CKA_EC_PARAMS to an algorithm tag. Edwards keys may
// carry either the curve OID or the printable curve name.
func curveAlgorithm(params []byte) (hsm.Algorithm, error) {
	s := cryptobyte.String(params)
	var oid asn1.ObjectIdentifier
	if s.ReadASN1ObjectIdentifier(&oid) {
		switch {
		case oid.Equal(oidNamedCurveP256):
			return hsm.AlgorithmEcP256, nil
		case oid.Equal(oidNamedCurveSecp256k1):
			return hsm.AlgorithmEcK256, nil
		case oid.Equal(oidEd25519):
			return hsm.AlgorithmEd25519, nil
		}
		return hsm.AlgorithmUnknown, fmt.Errorf("unsupported curve %s", oid)
	}

	s = cryptobyte.String(params)
	var name cryptobyte.String
	if s.ReadASN1(&name, cbasn1.PrintableString) && string(name) == "edwards25519" {
		return hsm.AlgorithmEd25519, nil
	}
	return hsm.AlgorithmUnknown, errors.New("malformed EC parameters")
}

// unwrapPoint strips the DER OCTET STRING that CKA_EC_POINT carries and, for
// EC keys, the uncompressed point prefix, leaving what hsm.PublicKeyRecord
// expects. Some libraries return the bare point instead.
func unwrapPoint(alg hsm.Algorithm, attr []byte) ([]byte, error) {
	s := cryptobyte.String(attr)
	var inner cryptobyte.String
	if s.ReadASN1(&inner, cbasn1.OCTET_STRING) && s.Empty() {
		if p, err := bareKey(alg, inner); err == nil {
			return p, nil
		}
	}
	return bareKey(alg, attr)
}

func bareKey(alg hsm.Algorithm, point []byte) ([]byte, error) {
	switch alg {
	case hsm.AlgorithmEd25519:
		if len(point) != 32 {
			return nil, fmt.Errorf("ed25519 point: got %d bytes", len(point))
		}
		return point, nil
	case hsm.AlgorithmEcP256, hsm.AlgorithmEcK256:
		if len(point) != 65 || point[0] != 0x04 {
			return nil, fmt.Errorf("%s point: not an uncompressed point", alg)
		}
		return point[1:], nil
	}
	return nil, fmt.Errorf("unsupported algorithm %s", alg)
}

// rawToDER re-encodes the r||s output of CKM_ECDSA as an ASN.1 signature.
func rawToDER(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("ecdsa signature: odd length %d", len(raw))
	}
	half := len(raw) / 2
	r := new(big.Int).SetBytes(raw[:half])
	s := new(big.Int).SetBytes(raw[half:])

	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	return b.Bytes()
}
