package main

import (
	"fmt"

	"github.com/glinharesb/signatory-go/internal/crypto"
	"github.com/glinharesb/signatory-go/internal/hsm"
	"github.com/glinharesb/signatory-go/internal/pkcs8"
	"github.com/glinharesb/signatory-go/internal/signature"
)

// ECDSA signature encodings selectable with --format.
const (
	formatASN1  = "asn1"
	formatFixed = "fixed"
)

type byteser interface {
	Bytes() []byte
}

// rawSigner hides a signer's key and signature types behind byte slices
// so commands can print whatever a backend returns.
type rawSigner interface {
	PublicKey() ([]byte, error)
	Sign(msg []byte) ([]byte, error)
}

type erased[K, S byteser] struct {
	s signature.Signer[K, S]
}

func (e erased[K, S]) PublicKey() ([]byte, error) {
	pk, err := e.s.PublicKey()
	if err != nil {
		return nil, err
	}
	return pk.Bytes(), nil
}

func (e erased[K, S]) Sign(msg []byte) ([]byte, error) {
	sig, err := e.s.Sign(msg)
	if err != nil {
		return nil, err
	}
	return sig.Bytes(), nil
}

func erase[K, S byteser](s signature.Signer[K, S], err error) (rawSigner, error) {
	if err != nil {
		return nil, err
	}
	return erased[K, S]{s: s}, nil
}

var algorithms = []pkcs8.Algorithm{
	pkcs8.AlgorithmEd25519,
	pkcs8.AlgorithmECDSAP256,
	pkcs8.AlgorithmECDSASecp256k1,
}

func parseAlgorithm(name string) (pkcs8.Algorithm, error) {
	for _, a := range algorithms {
		if a.String() == name {
			return a, nil
		}
	}
	return pkcs8.AlgorithmUnknown, fmt.Errorf("unknown algorithm %q (want ed25519, ecdsa-p256 or ecdsa-secp256k1)", name)
}

func checkFormat(format string) error {
	if format != formatASN1 && format != formatFixed {
		return fmt.Errorf("unknown signature format %q (want asn1 or fixed)", format)
	}
	return nil
}

func generate(alg pkcs8.Algorithm) (*pkcs8.Document, error) {
	switch alg {
	case pkcs8.AlgorithmEd25519:
		return crypto.GenerateEd25519PKCS8()
	case pkcs8.AlgorithmECDSAP256:
		return crypto.GenerateP256PKCS8()
	case pkcs8.AlgorithmECDSASecp256k1:
		return crypto.GenerateSecp256k1PKCS8()
	}
	return nil, fmt.Errorf("cannot generate %s keys", alg)
}

func softwareSigner(doc *pkcs8.Document, format string) (rawSigner, error) {
	fixed := format == formatFixed
	switch doc.Algorithm() {
	case pkcs8.AlgorithmEd25519:
		return erase[signature.Ed25519PublicKey, signature.Ed25519Signature](crypto.NewEd25519SignerFromPKCS8(doc))
	case pkcs8.AlgorithmECDSAP256:
		if fixed {
			return erase[crypto.P256PublicKey, crypto.P256Fixed](crypto.NewP256SignerFromPKCS8[crypto.P256Fixed](doc))
		}
		return erase[crypto.P256PublicKey, crypto.P256Asn1](crypto.NewP256SignerFromPKCS8[crypto.P256Asn1](doc))
	case pkcs8.AlgorithmECDSASecp256k1:
		if fixed {
			return erase[crypto.Secp256k1PublicKey, crypto.Secp256k1Fixed](crypto.NewSecp256k1SignerFromPKCS8[crypto.Secp256k1Fixed](doc))
		}
		return erase[crypto.Secp256k1PublicKey, crypto.Secp256k1Asn1](crypto.NewSecp256k1SignerFromPKCS8[crypto.Secp256k1Asn1](doc))
	}
	return nil, fmt.Errorf("no software provider for %s keys", doc.Algorithm())
}

func hsmSigner(session *hsm.Session, keyID hsm.KeyID, alg hsm.Algorithm, format string) (rawSigner, error) {
	fixed := format == formatFixed
	switch alg {
	case hsm.AlgorithmEd25519:
		return erase[signature.Ed25519PublicKey, signature.Ed25519Signature](hsm.NewEd25519Signer(session, keyID))
	case hsm.AlgorithmEcP256:
		if fixed {
			return erase[crypto.P256PublicKey, crypto.P256Fixed](hsm.NewECDSASigner[signature.NistP256, crypto.P256Fixed](session, keyID))
		}
		return erase[crypto.P256PublicKey, crypto.P256Asn1](hsm.NewECDSASigner[signature.NistP256, crypto.P256Asn1](session, keyID))
	case hsm.AlgorithmEcK256:
		if fixed {
			return erase[crypto.Secp256k1PublicKey, crypto.Secp256k1Fixed](hsm.NewECDSASigner[signature.Secp256k1, crypto.Secp256k1Fixed](session, keyID))
		}
		return erase[crypto.Secp256k1PublicKey, crypto.Secp256k1Asn1](hsm.NewECDSASigner[signature.Secp256k1, crypto.Secp256k1Asn1](session, keyID))
	}
	return nil, fmt.Errorf("no hsm signer for %s keys", alg)
}

func verify(alg pkcs8.Algorithm, format string, pub, msg, sig []byte) error {
	fixed := format == formatFixed
	switch alg {
	case pkcs8.AlgorithmEd25519:
		pk, err := signature.Ed25519PublicKeyFromBytes(pub)
		if err != nil {
			return err
		}
		s, err := signature.Ed25519SignatureFromBytes(sig)
		if err != nil {
			return err
		}
		return crypto.Ed25519Verifier{}.Verify(pk, msg, s)
	case pkcs8.AlgorithmECDSAP256:
		if fixed {
			return verifyECDSA[signature.NistP256, crypto.P256Fixed](crypto.P256FixedVerifier{}, pub, msg, sig)
		}
		return verifyECDSA[signature.NistP256, crypto.P256Asn1](crypto.P256Asn1Verifier{}, pub, msg, sig)
	case pkcs8.AlgorithmECDSASecp256k1:
		if fixed {
			return verifyECDSA[signature.Secp256k1, crypto.Secp256k1Fixed](crypto.Secp256k1FixedVerifier{}, pub, msg, sig)
		}
		return verifyECDSA[signature.Secp256k1, crypto.Secp256k1Asn1](crypto.Secp256k1Asn1Verifier{}, pub, msg, sig)
	}
	return fmt.Errorf("cannot verify %s signatures", alg)
}

func verifyECDSA[C signature.Curve, S signature.ECDSASignature[C]](v signature.Verifier[signature.ECDSAPublicKey[C], S], pub, msg, sig []byte) error {
	pk, err := signature.ECDSAPublicKeyFromBytes[C](pub)
	if err != nil {
		return err
	}
	s, err := signature.ECDSASignatureFromBytes[C, S](sig)
	if err != nil {
		return err
	}
	return v.Verify(pk, msg, s)
}
