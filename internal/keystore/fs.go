package keystore

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/glinharesb/signatory-go/internal/pkcs8"
	"github.com/glinharesb/signatory-go/internal/signature"
)

const (
	dirMode = 0o700
	fileExt = ".pem"
)

// FsKeyStore keeps one PEM-encoded PKCS#8 file per label directly under a
// root directory that must be owner-only (0700). There is no cross-process
// locking; concurrent writers to the same label race.
type FsKeyStore struct {
	root string
}

// Create makes dir (and parents) with mode 0700 if needed, then opens it.
func Create(dir string) (*FsKeyStore, error) {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, signature.NewError(signature.KindIO, "keystore: create", err)
	}
	// MkdirAll leaves an existing directory's mode alone and is subject to umask.
	if err := os.Chmod(dir, dirMode); err != nil {
		return nil, signature.NewError(signature.KindIO, "keystore: create", err)
	}
	return Open(dir)
}

// Open canonicalizes dir and checks that it is a directory with owner-only
// permissions. The check runs on every open so a store whose mode was
// loosened out of band is refused.
func Open(dir string) (*FsKeyStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, signature.NewError(signature.KindIO, "keystore: open", err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, signature.NewError(signature.KindIO, "keystore: open", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, signature.NewError(signature.KindIO, "keystore: open", err)
	}
	if !info.IsDir() {
		return nil, signature.Errorf(signature.KindNotADirectory, "keystore: open", "%s", root)
	}
	if err := checkMode(root, info); err != nil {
		return nil, err
	}

	log.Debug().Str("root", root).Msg("key store opened")
	return &FsKeyStore{root: root}, nil
}

// Path returns the canonical root directory.
func (s *FsKeyStore) Path() string {
	return s.root
}

func (s *FsKeyStore) path(label Label) (string, error) {
	if _, err := ParseLabel(string(label)); err != nil {
		return "", err
	}
	return filepath.Join(s.root, string(label)+fileExt), nil
}

// Store writes doc to <root>/<label>.pem, replacing any previous content.
func (s *FsKeyStore) Store(label Label, doc *pkcs8.Document) error {
	p, err := s.path(label)
	if err != nil {
		return err
	}
	if err := doc.WritePEMFile(p); err != nil {
		return err
	}
	log.Info().Str("label", string(label)).Msg("key stored")
	return nil
}

// Load reads <root>/<label>.pem. A missing file is a KindIO error matching
// ErrKeyNotFound; an unparsable one is KindEncoding.
func (s *FsKeyStore) Load(label Label) (*pkcs8.Document, error) {
	p, err := s.path(label)
	if err != nil {
		return nil, err
	}
	return pkcs8.ReadPEMFile(p)
}

// Delete removes <root>/<label>.pem. Deleting an absent label is an error.
func (s *FsKeyStore) Delete(label Label) error {
	p, err := s.path(label)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return signature.NewError(signature.KindIO, "keystore: delete", err)
	}
	log.Info().Str("label", string(label)).Msg("key deleted")
	return nil
}

// List returns the sorted labels of every *.pem file in the root. Files
// whose names are not valid labels are skipped.
func (s *FsKeyStore) List() ([]Label, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, signature.NewError(signature.KindIO, "keystore: list", err)
	}
	var labels []Label
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), fileExt)
		if !ok || !e.Type().IsRegular() {
			continue
		}
		l, err := ParseLabel(name)
		if err != nil {
			continue
		}
		labels = append(labels, l)
	}
	slices.Sort(labels)
	return labels, nil
}
