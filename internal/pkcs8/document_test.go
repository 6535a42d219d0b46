package pkcs8

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glinharesb/signatory-go/internal/signature"
)

func TestEncodeDetectsAlgorithm(t *testing.T) {
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	p256Key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	k1Key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	tests := []struct {
		name string
		key  any
		want Algorithm
	}{
		{"ed25519", edKey, AlgorithmEd25519},
		{"p256", p256Key, AlgorithmECDSAP256},
		{"secp256k1", k1Key, AlgorithmECDSASecp256k1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Encode(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.Algorithm())
			assert.False(t, doc.Encrypted())

			reparsed, err := FromDER(doc.DER())
			require.NoError(t, err)
			assert.Equal(t, tt.want, reparsed.Algorithm())
		})
	}
}

func TestUnsupportedCurve(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	_, err = Encode(key)
	assert.ErrorIs(t, err, signature.ErrEncoding)
}

func TestSecp256k1RoundTrip(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	doc, err := Encode(key)
	require.NoError(t, err)

	decoded, err := doc.PrivateKey(nil)
	require.NoError(t, err)
	got, ok := decoded.(*secp256k1.PrivateKey)
	require.True(t, ok)
	assert.Equal(t, key.Serialize(), got.Serialize())
}

func TestEncryptedRoundTrip(t *testing.T) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	doc, err := EncodeEncrypted(key, []byte("correct horse"))
	require.NoError(t, err)
	assert.True(t, doc.Encrypted())
	assert.Equal(t, AlgorithmUnknown, doc.Algorithm())

	_, err = doc.PrivateKey(nil)
	assert.ErrorIs(t, err, signature.ErrEncoding)

	_, err = doc.PrivateKey([]byte("wrong"))
	assert.ErrorIs(t, err, signature.ErrEncoding)

	plain, err := doc.Decrypt([]byte("correct horse"))
	require.NoError(t, err)
	assert.Equal(t, AlgorithmEd25519, plain.Algorithm())

	decoded, err := plain.PrivateKey(nil)
	require.NoError(t, err)
	assert.Equal(t, key, decoded)
}

func TestEncryptedSecp256k1Unsupported(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	_, err = EncodeEncrypted(key, []byte("pw"))
	assert.ErrorIs(t, err, signature.ErrEncoding)
}

func TestParsePEM(t *testing.T) {
	_, key, _ := ed25519.GenerateKey(rand.Reader)
	doc, err := Encode(key)
	require.NoError(t, err)

	parsed, err := ParsePEM(doc.PEM())
	require.NoError(t, err)
	assert.Equal(t, doc.DER(), parsed.DER())

	_, err = ParsePEM([]byte("not pem"))
	assert.ErrorIs(t, err, signature.ErrEncoding)

	twice := append(doc.PEM(), doc.PEM()...)
	_, err = ParsePEM(twice)
	assert.ErrorIs(t, err, signature.ErrEncoding)
}

func TestFromDERRejectsGarbage(t *testing.T) {
	for _, der := range [][]byte{nil, {0x30}, {0x04, 0x00}, {0x30, 0x00}} {
		_, err := FromDER(der)
		assert.ErrorIs(t, err, signature.ErrEncoding)
	}
}

func TestWriteAndReadPEMFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "k.pem")

	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	doc, err := Encode(key)
	require.NoError(t, err)
	require.NoError(t, doc.WritePEMFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := ReadPEMFile(path)
	require.NoError(t, err)
	assert.Equal(t, doc.DER(), got.DER())

	// No temp files are left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReadPEMFileMissing(t *testing.T) {
	_, err := ReadPEMFile(filepath.Join(t.TempDir(), "absent.pem"))
	assert.ErrorIs(t, err, signature.ErrIO)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
