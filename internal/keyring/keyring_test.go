package keyring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glinharesb/signatory-go/internal/audit"
	"github.com/glinharesb/signatory-go/internal/crypto"
	"github.com/glinharesb/signatory-go/internal/hsm"
	"github.com/glinharesb/signatory-go/internal/keystore"
	"github.com/glinharesb/signatory-go/internal/metrics"
	"github.com/glinharesb/signatory-go/internal/signature"
)

type edRing = KeyRing[signature.Ed25519PublicKey, signature.Ed25519Signature]

var edLoader = Loader[signature.Ed25519PublicKey, signature.Ed25519Signature](crypto.NewEd25519SignerFromPKCS8)

func newSoftwareSigner(t *testing.T) *crypto.Ed25519Signer {
	t.Helper()
	doc, err := crypto.GenerateEd25519PKCS8()
	require.NoError(t, err)
	s, err := crypto.NewEd25519SignerFromPKCS8(doc)
	require.NoError(t, err)
	return s
}

func TestAddGetRemove(t *testing.T) {
	ring := New[signature.Ed25519PublicKey, signature.Ed25519Signature](nil)
	signer := newSoftwareSigner(t)

	require.NoError(t, ring.Add("baker", BackendSoftware, signer))
	assert.ErrorIs(t, ring.Add("baker", BackendSoftware, signer), ErrDuplicateKey)

	got, err := ring.Get("baker")
	require.NoError(t, err)
	assert.Same(t, signer, got)

	_, err = ring.Get("nobody")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, ring.Remove("baker"))
	assert.ErrorIs(t, ring.Remove("baker"), ErrKeyNotFound)
	assert.Empty(t, ring.IDs())
}

func TestIDsSorted(t *testing.T) {
	ring := New[signature.Ed25519PublicKey, signature.Ed25519Signature](nil)
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, ring.Add(id, BackendSoftware, newSoftwareSigner(t)))
	}
	assert.Equal(t, []string{"a", "b", "c"}, ring.IDs())
}

func TestSignAuditsAndCounts(t *testing.T) {
	a := audit.NewLogger(16, audit.DefaultRetain, nil)
	ring := New[signature.Ed25519PublicKey, signature.Ed25519Signature](a)
	signer := newSoftwareSigner(t)
	require.NoError(t, ring.Add("baker", BackendSoftware, signer))

	counter := metrics.OperationsTotal.WithLabelValues(metrics.OpRingSign, BackendSoftware, metrics.StatusSuccess)
	before := testutil.ToFloat64(counter)

	msg := []byte("block")
	sig, err := ring.Sign("baker", msg)
	require.NoError(t, err)
	pub, err := signer.PublicKey()
	require.NoError(t, err)
	assert.NoError(t, crypto.Ed25519Verifier{}.Verify(pub, msg, sig))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))

	_, err = ring.Sign("missing", msg)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	a.Close()
	entries := a.Query("baker", "Sign", time.Time{}, time.Time{}, 0)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusOK, entries[0].Status)
	assert.Equal(t, BackendSoftware, entries[0].Backend)
}

func TestMixedBackends(t *testing.T) {
	m := hsm.NewSoftModule()
	require.NoError(t, m.AddAuthKey(hsm.DefaultAuthKeyID, hsm.DefaultPassword))
	require.NoError(t, m.GenerateKey(1, hsm.AlgorithmEd25519))
	require.NoError(t, m.GenerateKey(2, hsm.AlgorithmEd25519))

	session, err := hsm.NewSession(context.Background(), m, hsm.DefaultAuthKeyID, hsm.DefaultPassword)
	require.NoError(t, err)
	defer session.Close()

	ring := New[signature.Ed25519PublicKey, signature.Ed25519Signature](nil)
	for i, id := range []hsm.KeyID{1, 2} {
		s, err := session.Ed25519Signer(id)
		require.NoError(t, err)
		require.NoError(t, ring.Add([]string{"hsm-1", "hsm-2"}[i], BackendHSM, s))
	}
	require.NoError(t, ring.Add("soft", BackendSoftware, newSoftwareSigner(t)))

	keys, err := ring.PublicKeys(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 3)
	assert.NotEqual(t, keys["hsm-1"], keys["hsm-2"])

	sig, err := ring.Sign("hsm-2", []byte("x"))
	require.NoError(t, err)
	assert.NoError(t, crypto.Ed25519Verifier{}.Verify(keys["hsm-2"], []byte("x"), sig))
}

type failingSigner struct{}

func (failingSigner) PublicKey() (signature.Ed25519PublicKey, error) {
	return signature.Ed25519PublicKey{}, signature.NewError(signature.KindProvider, "test", errors.New("device gone"))
}

func (failingSigner) Sign([]byte) (signature.Ed25519Signature, error) {
	return signature.Ed25519Signature{}, signature.NewError(signature.KindProvider, "test", errors.New("device gone"))
}

func TestPublicKeysReportsFailure(t *testing.T) {
	ring := New[signature.Ed25519PublicKey, signature.Ed25519Signature](nil)
	require.NoError(t, ring.Add("ok", BackendSoftware, newSoftwareSigner(t)))
	require.NoError(t, ring.Add("broken", BackendHSM, failingSigner{}))

	_, err := ring.PublicKeys(context.Background())
	assert.ErrorIs(t, err, signature.ErrProvider)
	assert.Contains(t, err.Error(), `"broken"`)

	_, err = ring.Sign("broken", []byte("x"))
	assert.ErrorIs(t, err, signature.ErrProvider)
}

func TestPublicKeysCanceled(t *testing.T) {
	ring := New[signature.Ed25519PublicKey, signature.Ed25519Signature](nil)
	require.NoError(t, ring.Add("a", BackendSoftware, newSoftwareSigner(t)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ring.PublicKeys(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadFromStore(t *testing.T) {
	store := keystore.NewMemoryStore()
	doc, err := crypto.GenerateEd25519PKCS8()
	require.NoError(t, err)
	label := keystore.MustParseLabel("validator")
	require.NoError(t, store.Store(label, doc))

	var ring *edRing = New[signature.Ed25519PublicKey, signature.Ed25519Signature](nil)
	require.NoError(t, ring.LoadFromStore(store, label, edLoader))
	assert.Equal(t, []string{"validator"}, ring.IDs())

	err = ring.LoadFromStore(store, keystore.MustParseLabel("absent"), edLoader)
	assert.ErrorIs(t, err, keystore.ErrKeyNotFound)

	p256, err := crypto.GenerateP256PKCS8()
	require.NoError(t, err)
	require.NoError(t, store.Store(keystore.MustParseLabel("p256"), p256))
	err = ring.LoadFromStore(store, keystore.MustParseLabel("p256"), edLoader)
	assert.ErrorIs(t, err, signature.ErrKeyInvalid)
}
