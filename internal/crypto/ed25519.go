package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/glinharesb/signatory-go/internal/pkcs8"
	"github.com/glinharesb/signatory-go/internal/signature"
)

var (
	_ signature.Signer[signature.Ed25519PublicKey, signature.Ed25519Signature]   = (*Ed25519Signer)(nil)
	_ signature.Verifier[signature.Ed25519PublicKey, signature.Ed25519Signature] = Ed25519Verifier{}
)

// Ed25519Signer holds an expanded Ed25519 keypair in process memory.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  signature.Ed25519PublicKey
}

// NewEd25519Signer expands seed into a keypair. The seed is copied; the
// caller may zeroize its own value afterwards.
func NewEd25519Signer(seed *signature.Seed) (*Ed25519Signer, error) {
	if seed == nil {
		return nil, signature.Errorf(signature.KindKeyInvalid, "ed25519: from seed", "nil seed")
	}
	priv := ed25519.NewKeyFromSeed(seed.Bytes())
	return &Ed25519Signer{
		priv: priv,
		pub:  signature.MustEd25519PublicKey(priv.Public().(ed25519.PublicKey)),
	}, nil
}

// NewEd25519SignerFromPKCS8 loads an unencrypted Ed25519 PKCS#8 document.
func NewEd25519SignerFromPKCS8(doc *pkcs8.Document) (*Ed25519Signer, error) {
	key, err := decodeKey(doc, pkcs8.AlgorithmEd25519, "ed25519: from pkcs8")
	if err != nil {
		return nil, err
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok || len(priv) != ed25519.PrivateKeySize {
		return nil, signature.Errorf(signature.KindKeyInvalid, "ed25519: from pkcs8", "decoded %T", key)
	}
	return &Ed25519Signer{
		priv: priv,
		pub:  signature.MustEd25519PublicKey(priv.Public().(ed25519.PublicKey)),
	}, nil
}

// GenerateEd25519PKCS8 creates a fresh keypair from the system CSPRNG and
// returns it as a PKCS#8 document.
func GenerateEd25519PKCS8() (*pkcs8.Document, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return pkcs8.Encode(priv)
}

func (s *Ed25519Signer) PublicKey() (signature.Ed25519PublicKey, error) {
	return s.pub, nil
}

// Sign is deterministic: the same key and message always give the same signature.
func (s *Ed25519Signer) Sign(msg []byte) (signature.Ed25519Signature, error) {
	return signature.MustEd25519Signature(ed25519.Sign(s.priv, msg)), nil
}

// Ed25519Verifier checks RFC 8032 signatures.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(key signature.Ed25519PublicKey, msg []byte, sig signature.Ed25519Signature) error {
	if !ed25519.Verify(ed25519.PublicKey(key.Bytes()), msg, sig.Bytes()) {
		return signature.NewError(signature.KindSignatureInvalid, "ed25519: verify", nil)
	}
	return nil
}

// decodeKey checks doc is a plain document of the wanted algorithm and
// decodes it. Every failure is KindKeyInvalid.
func decodeKey(doc *pkcs8.Document, want pkcs8.Algorithm, op string) (any, error) {
	if doc == nil {
		return nil, signature.Errorf(signature.KindKeyInvalid, op, "nil document")
	}
	if doc.Encrypted() {
		return nil, signature.Errorf(signature.KindKeyInvalid, op, "document is encrypted")
	}
	if got := doc.Algorithm(); got != want {
		return nil, signature.Errorf(signature.KindKeyInvalid, op, "document holds %s, want %s", got, want)
	}
	key, err := doc.PrivateKey(nil)
	if err != nil {
		return nil, signature.NewError(signature.KindKeyInvalid, op, err)
	}
	return key, nil
}
