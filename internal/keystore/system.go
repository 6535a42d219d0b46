package keystore

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"

	"github.com/99designs/keyring"

	"github.com/glinharesb/signatory-go/internal/pkcs8"
	"github.com/glinharesb/signatory-go/internal/signature"
)

// DefaultServiceName is the keyring service items are stored under.
const DefaultServiceName = "signatory"

// SystemStore keeps PEM-encoded PKCS#8 documents in the operating system
// keyring (macOS Keychain, Secret Service, KWallet, Windows Credential
// Manager) or in keyring's encrypted file backend.
type SystemStore struct {
	ring keyring.Keyring
}

// OpenSystemStore opens the keyring described by cfg. An empty ServiceName
// defaults to DefaultServiceName.
func OpenSystemStore(cfg keyring.Config) (*SystemStore, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, signature.NewError(signature.KindIO, "keystore: open keyring", err)
	}
	return &SystemStore{ring: ring}, nil
}

func (s *SystemStore) Store(label Label, doc *pkcs8.Document) error {
	if _, err := ParseLabel(string(label)); err != nil {
		return err
	}
	err := s.ring.Set(keyring.Item{
		Key:         string(label),
		Data:        doc.PEM(),
		Label:       fmt.Sprintf("%s key %s", DefaultServiceName, label),
		Description: "PKCS#8 private key",
	})
	if err != nil {
		return signature.NewError(signature.KindIO, "keystore: store", err)
	}
	return nil
}

func (s *SystemStore) Load(label Label) (*pkcs8.Document, error) {
	item, err := s.ring.Get(string(label))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, notFound("keystore: load", label)
	}
	if err != nil {
		return nil, signature.NewError(signature.KindIO, "keystore: load", err)
	}
	return pkcs8.ParsePEM(item.Data)
}

func (s *SystemStore) Delete(label Label) error {
	err := s.ring.Remove(string(label))
	// The file backend reports a missing item as the raw os error.
	if errors.Is(err, keyring.ErrKeyNotFound) || errors.Is(err, fs.ErrNotExist) {
		return notFound("keystore: delete", label)
	}
	if err != nil {
		return signature.NewError(signature.KindIO, "keystore: delete", err)
	}
	return nil
}

func (s *SystemStore) List() ([]Label, error) {
	keys, err := s.ring.Keys()
	if err != nil {
		return nil, signature.NewError(signature.KindIO, "keystore: list", err)
	}
	labels := make([]Label, 0, len(keys))
	for _, k := range keys {
		if l, err := ParseLabel(k); err == nil {
			labels = append(labels, l)
		}
	}
	slices.Sort(labels)
	return labels, nil
}
