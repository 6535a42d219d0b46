// Package pkcs8 reads and writes PKCS#8 private key documents, plain or
// PBES2-encrypted, as DER or PEM.
package pkcs8

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	encasn1 "encoding/asn1"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/glinharesb/signatory-go/internal/signature"
)

const (
	pemTypePlain     = "PRIVATE KEY"
	pemTypeEncrypted = "ENCRYPTED PRIVATE KEY"
)

// Algorithm identifies the key algorithm a document carries.
type Algorithm int

const (
	AlgorithmUnknown Algorithm = iota
	AlgorithmEd25519
	AlgorithmECDSAP256
	AlgorithmECDSASecp256k1
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmEd25519:
		return "ed25519"
	case AlgorithmECDSAP256:
		return "ecdsa-p256"
	case AlgorithmECDSASecp256k1:
		return "ecdsa-secp256k1"
	default:
		return "unknown"
	}
}

var (
	oidEd25519       = encasn1.ObjectIdentifier{1, 3, 101, 112}
	oidECPublicKey   = encasn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidCurveP256     = encasn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
	oidCurveSecp256k = encasn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

// Document is the DER encoding of a PrivateKeyInfo or an
// EncryptedPrivateKeyInfo. It is immutable once constructed.
type Document struct {
	der       []byte
	encrypted bool
	alg       Algorithm
}

// FromDER checks the outer structure of der and returns a Document holding a
// copy of it.
func FromDER(der []byte) (*Document, error) {
	input := cryptobyte.String(der)
	var info cryptobyte.String
	if !input.ReadASN1(&info, asn1.SEQUENCE) || !input.Empty() {
		return nil, signature.Errorf(signature.KindEncoding, "pkcs8: parse", "not a DER SEQUENCE")
	}

	doc := &Document{der: bytes.Clone(der)}
	switch {
	case info.PeekASN1Tag(asn1.INTEGER):
		alg, err := readPlainAlgorithm(info)
		if err != nil {
			return nil, err
		}
		doc.alg = alg
	case info.PeekASN1Tag(asn1.SEQUENCE):
		var algID cryptobyte.String
		var payload cryptobyte.String
		if !info.ReadASN1(&algID, asn1.SEQUENCE) ||
			!info.ReadASN1(&payload, asn1.OCTET_STRING) ||
			!info.Empty() {
			return nil, signature.Errorf(signature.KindEncoding, "pkcs8: parse", "malformed EncryptedPrivateKeyInfo")
		}
		doc.encrypted = true
	default:
		return nil, signature.Errorf(signature.KindEncoding, "pkcs8: parse", "unrecognised PrivateKeyInfo")
	}
	return doc, nil
}

func readPlainAlgorithm(info cryptobyte.String) (Algorithm, error) {
	var (
		version int64
		algID   cryptobyte.String
		oid     encasn1.ObjectIdentifier
		key     cryptobyte.String
	)
	if !info.ReadASN1Integer(&version) ||
		!info.ReadASN1(&algID, asn1.SEQUENCE) ||
		!algID.ReadASN1ObjectIdentifier(&oid) ||
		!info.ReadASN1(&key, asn1.OCTET_STRING) {
		return AlgorithmUnknown, signature.Errorf(signature.KindEncoding, "pkcs8: parse", "malformed PrivateKeyInfo")
	}
	if version != 0 && version != 1 {
		return AlgorithmUnknown, signature.Errorf(signature.KindEncoding, "pkcs8: parse", "unsupported version %d", version)
	}

	switch {
	case oid.Equal(oidEd25519):
		return AlgorithmEd25519, nil
	case oid.Equal(oidECPublicKey):
		var curve encasn1.ObjectIdentifier
		if !algID.ReadASN1ObjectIdentifier(&curve) {
			return AlgorithmUnknown, nil
		}
		switch {
		case curve.Equal(oidCurveP256):
			return AlgorithmECDSAP256, nil
		case curve.Equal(oidCurveSecp256k):
			return AlgorithmECDSASecp256k1, nil
		}
	}
	return AlgorithmUnknown, nil
}

// ParsePEM decodes a single PRIVATE KEY or ENCRYPTED PRIVATE KEY block.
func ParsePEM(data []byte) (*Document, error) {
	block, rest := pem.Decode(data)
	if block == nil {
		return nil, signature.Errorf(signature.KindEncoding, "pkcs8: pem", "no PEM block found")
	}
	if len(bytes.TrimSpace(rest)) != 0 {
		return nil, signature.Errorf(signature.KindEncoding, "pkcs8: pem", "trailing data after PEM block")
	}
	doc, err := FromDER(block.Bytes)
	if err != nil {
		return nil, err
	}
	want := pemTypePlain
	if doc.encrypted {
		want = pemTypeEncrypted
	}
	if block.Type != want {
		return nil, signature.Errorf(signature.KindEncoding, "pkcs8: pem", "unexpected block type %q", block.Type)
	}
	return doc, nil
}

// ReadPEMFile reads and parses the PEM file at path. I/O failures are
// KindIO and wrap the underlying *fs.PathError.
func ReadPEMFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, signature.NewError(signature.KindIO, "pkcs8: read", err)
	}
	return ParsePEM(data)
}

// WritePEMFile writes the document to path via a temp file in the same
// directory and an atomic rename. The file is created with mode 0600.
func (d *Document) WritePEMFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return signature.NewError(signature.KindIO, "pkcs8: write", err)
	}
	tmpPath := tmp.Name()
	cleanup := func(cause error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return signature.NewError(signature.KindIO, "pkcs8: write", cause)
	}

	if err := tmp.Chmod(0600); err != nil {
		return cleanup(err)
	}
	if _, err := tmp.Write(d.PEM()); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return signature.NewError(signature.KindIO, "pkcs8: write", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return signature.NewError(signature.KindIO, "pkcs8: atomic rename", err)
	}
	return nil
}

// DER returns a copy of the document bytes.
func (d *Document) DER() []byte {
	return bytes.Clone(d.der)
}

// PEM returns the document wrapped in the matching PEM block.
func (d *Document) PEM() []byte {
	typ := pemTypePlain
	if d.encrypted {
		typ = pemTypeEncrypted
	}
	return pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: d.der})
}

// Algorithm reports the key algorithm. Encrypted documents report
// AlgorithmUnknown until decrypted.
func (d *Document) Algorithm() Algorithm {
	return d.alg
}

func (d *Document) Encrypted() bool {
	return d.encrypted
}

// Encode wraps key in an unencrypted PrivateKeyInfo. key is an
// ed25519.PrivateKey, a P-256 *ecdsa.PrivateKey or a *secp256k1.PrivateKey.
func Encode(key any) (*Document, error) {
	var (
		der []byte
		err error
	)
	switch k := key.(type) {
	case *secp256k1.PrivateKey:
		der, err = marshalSecp256k1(k)
	case ed25519.PrivateKey:
		der, err = pkcs8.MarshalPrivateKey(k, nil, nil)
	case *ecdsa.PrivateKey:
		if k.Curve != elliptic.P256() {
			return nil, signature.Errorf(signature.KindEncoding, "pkcs8: encode", "unsupported curve %s", k.Curve.Params().Name)
		}
		der, err = pkcs8.MarshalPrivateKey(k, nil, nil)
	default:
		return nil, signature.Errorf(signature.KindEncoding, "pkcs8: encode", "unsupported key type %T", key)
	}
	if err != nil {
		return nil, signature.NewError(signature.KindEncoding, "pkcs8: encode", err)
	}
	return FromDER(der)
}

// EncodeEncrypted wraps key in a PBES2 EncryptedPrivateKeyInfo
// (PBKDF2-SHA256, AES-256-CBC). secp256k1 keys are not supported because
// the encryption layer only round-trips key types crypto/x509 knows.
func EncodeEncrypted(key any, password []byte) (*Document, error) {
	if len(password) == 0 {
		return nil, signature.Errorf(signature.KindEncoding, "pkcs8: encrypt", "empty password")
	}
	switch k := key.(type) {
	case ed25519.PrivateKey:
	case *ecdsa.PrivateKey:
		if k.Curve != elliptic.P256() {
			return nil, signature.Errorf(signature.KindEncoding, "pkcs8: encrypt", "unsupported curve %s", k.Curve.Params().Name)
		}
	default:
		return nil, signature.Errorf(signature.KindEncoding, "pkcs8: encrypt", "unsupported key type %T", key)
	}
	der, err := pkcs8.MarshalPrivateKey(key, password, nil)
	if err != nil {
		return nil, signature.NewError(signature.KindEncoding, "pkcs8: encrypt", err)
	}
	return FromDER(der)
}

// PrivateKey decodes the key material. password is required for encrypted
// documents and ignored otherwise.
func (d *Document) PrivateKey(password []byte) (any, error) {
	if d.encrypted {
		if len(password) == 0 {
			return nil, signature.Errorf(signature.KindEncoding, "pkcs8: decode", "document is encrypted")
		}
		key, err := pkcs8.ParsePKCS8PrivateKey(d.der, password)
		if err != nil {
			return nil, signature.NewError(signature.KindEncoding, "pkcs8: decrypt", err)
		}
		return key, nil
	}

	if d.alg == AlgorithmECDSASecp256k1 {
		return parseSecp256k1(d.der)
	}
	key, err := pkcs8.ParsePKCS8PrivateKey(d.der)
	if err != nil {
		return nil, signature.NewError(signature.KindEncoding, "pkcs8: decode", err)
	}
	return key, nil
}

// Decrypt returns the unencrypted form of an encrypted document.
func (d *Document) Decrypt(password []byte) (*Document, error) {
	if !d.encrypted {
		return d, nil
	}
	key, err := d.PrivateKey(password)
	if err != nil {
		return nil, err
	}
	return Encode(key)
}

func (d *Document) String() string {
	if d.encrypted {
		return "pkcs8.Document(encrypted)"
	}
	return fmt.Sprintf("pkcs8.Document(%s)", d.alg)
}
