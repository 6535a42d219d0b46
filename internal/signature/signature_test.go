package signature

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := NewError(KindIO, "keystore: load", fs.ErrNotExist)

	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.NotErrorIs(t, err, ErrEncoding)
	assert.Equal(t, KindIO, KindOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, "keystore: load: i/o error: file does not exist", err.Error())
}

func TestEd25519LengthValidation(t *testing.T) {
	_, err := Ed25519PublicKeyFromBytes(make([]byte, 31))
	require.ErrorIs(t, err, ErrKeyInvalid)

	_, err = Ed25519SignatureFromBytes(make([]byte, 65))
	require.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = SeedFromBytes(make([]byte, 16))
	require.ErrorIs(t, err, ErrKeyInvalid)
}

func TestMustPanicsOnMalformedLibraryOutput(t *testing.T) {
	assert.Panics(t, func() { MustEd25519Signature([]byte{1, 2, 3}) })
	assert.Panics(t, func() { MustECDSAPublicKey[NistP256]([]byte{0x05}) })
}

func TestSeedIsRedacted(t *testing.T) {
	raw := make([]byte, SeedSize)
	for i := range raw {
		raw[i] = 0xAB
	}
	seed, err := SeedFromBytes(raw)
	require.NoError(t, err)

	for _, out := range []string{
		fmt.Sprintf("%v", seed),
		fmt.Sprintf("%+v", seed),
		fmt.Sprintf("%#v", seed),
		fmt.Sprintf("%x", seed),
		fmt.Sprintf("%s", seed),
	} {
		assert.Equal(t, "Seed(REDACTED)", out)
	}

	other, _ := SeedFromBytes(raw)
	assert.True(t, seed.Equal(other))

	seed.Zeroize()
	assert.Equal(t, make([]byte, SeedSize), seed.Bytes())
	assert.False(t, seed.Equal(other))
}

func TestECDSAPublicKeyFraming(t *testing.T) {
	compressed := append([]byte{0x02}, make([]byte, 32)...)
	pk, err := ECDSAPublicKeyFromBytes[Secp256k1](compressed)
	require.NoError(t, err)
	assert.True(t, pk.Compressed())
	assert.Equal(t, compressed, pk.Bytes())

	uncompressed := append([]byte{0x04}, make([]byte, 64)...)
	pk2, err := ECDSAPublicKeyFromBytes[NistP256](uncompressed)
	require.NoError(t, err)
	assert.False(t, pk2.Compressed())

	same, _ := ECDSAPublicKeyFromBytes[NistP256](uncompressed)
	assert.True(t, pk2 == same)

	for _, bad := range [][]byte{
		nil,
		append([]byte{0x04}, make([]byte, 32)...),
		append([]byte{0x05}, make([]byte, 32)...),
		append([]byte{0x02}, make([]byte, 64)...),
	} {
		_, err := ECDSAPublicKeyFromBytes[NistP256](bad)
		assert.ErrorIs(t, err, ErrKeyInvalid)
	}
}

func TestECDSASignatureEncodingsRoundTrip(t *testing.T) {
	r := big.NewInt(0x1234)
	s := new(big.Int).Lsh(big.NewInt(1), 255)

	asn1Sig, err := ECDSASignatureFromScalars[NistP256, Asn1Signature[NistP256]](r, s)
	require.NoError(t, err)
	gotR, gotS := asn1Sig.Scalars()
	assert.Equal(t, 0, r.Cmp(gotR))
	assert.Equal(t, 0, s.Cmp(gotS))

	fixed, err := ECDSASignatureFromScalars[NistP256, FixedSignature[NistP256]](r, s)
	require.NoError(t, err)
	assert.Len(t, fixed.Bytes(), 64)
	gotR, gotS = fixed.Scalars()
	assert.Equal(t, 0, r.Cmp(gotR))
	assert.Equal(t, 0, s.Cmp(gotS))

	parsed, err := ECDSASignatureFromBytes[NistP256, Asn1Signature[NistP256]](asn1Sig.Bytes())
	require.NoError(t, err)
	assert.Equal(t, asn1Sig, parsed)
}

func TestECDSASignatureEncodingsAreNotInterchangeable(t *testing.T) {
	r, s := big.NewInt(7), big.NewInt(9)
	asn1Sig := MustECDSASignature[Secp256k1, Asn1Signature[Secp256k1]](r, s)
	fixed := MustECDSASignature[Secp256k1, FixedSignature[Secp256k1]](r, s)

	_, err := FixedSignatureFromBytes[Secp256k1](asn1Sig.Bytes())
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = Asn1SignatureFromBytes[Secp256k1](fixed.Bytes())
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestAsn1SignatureRejectsMalformedDER(t *testing.T) {
	valid := MustECDSASignature[NistP256, Asn1Signature[NistP256]](big.NewInt(1), big.NewInt(2)).Bytes()

	cases := map[string][]byte{
		"empty":          {},
		"trailing bytes": append(append([]byte{}, valid...), 0x00),
		"truncated":      valid[:len(valid)-1],
		"negative r":     {0x30, 0x06, 0x02, 0x01, 0xff, 0x02, 0x01, 0x01},
		"zero s":         {0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x00},
		"not a sequence": {0x31, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01},
	}
	for name, der := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Asn1SignatureFromBytes[NistP256](der)
			assert.ErrorIs(t, err, ErrSignatureInvalid)
		})
	}
}

func TestScalarTooLargeForCurve(t *testing.T) {
	big257 := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err := ECDSASignatureFromScalars[NistP256, FixedSignature[NistP256]](big257, big.NewInt(1))
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = FixedSignatureFromBytes[NistP256](make([]byte, 64))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}
