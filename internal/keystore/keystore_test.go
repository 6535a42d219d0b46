package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glinharesb/signatory-go/internal/pkcs8"
	"github.com/glinharesb/signatory-go/internal/signature"
)

func makeDoc(t *testing.T) *pkcs8.Document {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	doc, err := pkcs8.Encode(key)
	require.NoError(t, err)
	return doc
}

func TestParseLabel(t *testing.T) {
	valid := []string{"validator-1", "key.v2", "a", "UPPER_lower-123", strings.Repeat("x", 255)}
	for _, s := range valid {
		l, err := ParseLabel(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, l.String())
	}

	invalid := []string{
		"",
		"../escape",
		"a/b",
		`a\b`,
		"..",
		"x..y",
		".hidden",
		"nul\x00byte",
		"tab\there",
		strings.Repeat("x", 256),
	}
	for _, s := range invalid {
		_, err := ParseLabel(s)
		assert.ErrorIs(t, err, signature.ErrLabelInvalid, "%q", s)
	}
}

// storeContract runs the lifecycle every Store implementation must satisfy.
func storeContract(t *testing.T, store Store) {
	t.Helper()
	label := MustParseLabel("key-1")
	doc := makeDoc(t)

	require.NoError(t, store.Store(label, doc))

	got, err := store.Load(label)
	require.NoError(t, err)
	assert.Equal(t, doc.DER(), got.DER())

	// Overwrite replaces the previous document.
	doc2 := makeDoc(t)
	require.NoError(t, store.Store(label, doc2))
	got, err = store.Load(label)
	require.NoError(t, err)
	assert.Equal(t, doc2.DER(), got.DER())

	require.NoError(t, store.Store(MustParseLabel("key-0"), makeDoc(t)))
	labels, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []Label{"key-0", "key-1"}, labels)

	require.NoError(t, store.Delete(label))
	_, err = store.Load(label)
	assert.ErrorIs(t, err, signature.ErrIO)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	err = store.Delete(label)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	assert.ErrorIs(t, store.Store(Label("../x"), doc), signature.ErrLabelInvalid)
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestFsKeyStore(t *testing.T) {
	store, err := Create(filepath.Join(t.TempDir(), "nested", "keys"))
	require.NoError(t, err)
	storeContract(t, store)
}

func TestSystemStoreFileBackend(t *testing.T) {
	store, err := OpenSystemStore(keyring.Config{
		ServiceName:      "signatory-test",
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          t.TempDir(),
		FilePasswordFunc: keyring.FixedStringPrompt("test-password"),
	})
	require.NoError(t, err)
	storeContract(t, store)
}

func TestFsKeyStoreLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	store, err := Create(dir)
	require.NoError(t, err)

	doc := makeDoc(t)
	require.NoError(t, store.Store(MustParseLabel("validator"), doc))

	data, err := os.ReadFile(filepath.Join(store.Path(), "validator.pem"))
	require.NoError(t, err)
	assert.Equal(t, doc.PEM(), data)

	// Non-pem files and invalid names are not listed.
	require.NoError(t, os.WriteFile(filepath.Join(store.Path(), "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(store.Path(), ".hidden.pem"), []byte("x"), 0o600))
	labels, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []Label{"validator"}, labels)
}

func TestFsKeyStoreLoadCorrupt(t *testing.T) {
	store, err := Create(filepath.Join(t.TempDir(), "keys"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(store.Path(), "bad.pem"), []byte("garbage"), 0o600))

	_, err = store.Load(MustParseLabel("bad"))
	assert.ErrorIs(t, err, signature.ErrEncoding)
}

func TestOpenRejectsLoosenedPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no unix mode bits")
	}
	dir := filepath.Join(t.TempDir(), "keys")
	_, err := Create(dir)
	require.NoError(t, err)

	_, err = Open(dir)
	require.NoError(t, err)

	for _, mode := range []os.FileMode{0o755, 0o750, 0o701, 0o600, 0o777} {
		require.NoError(t, os.Chmod(dir, mode))
		_, err = Open(dir)
		assert.ErrorIs(t, err, signature.ErrPermissions, "mode %04o", mode)
	}

	// Create restores the owner-only mode.
	_, err = Create(dir)
	assert.NoError(t, err)
}

func TestOpenRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	_, err := Open(path)
	assert.ErrorIs(t, err, signature.ErrNotADirectory)
}

func TestOpenMissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, signature.ErrIO)
}

func TestOpenFollowsSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges")
	}
	base := t.TempDir()
	real := filepath.Join(base, "real")
	_, err := Create(real)
	require.NoError(t, err)
	link := filepath.Join(base, "link")
	require.NoError(t, os.Symlink(real, link))

	store, err := Open(link)
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(real)
	require.NoError(t, err)
	assert.Equal(t, want, store.Path())
}

func TestMemoryStoreConcurrentReadWrite(t *testing.T) {
	store := NewMemoryStore()
	doc := makeDoc(t)
	const n = 50

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			store.Store(Label(fmt.Sprintf("w-%d", i)), doc)
		}(i)
		go func() {
			defer wg.Done()
			store.List()
		}()
	}
	wg.Wait()

	labels, err := store.List()
	require.NoError(t, err)
	assert.Len(t, labels, n)
}
