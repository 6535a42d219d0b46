package main

import (
	"errors"

	"github.com/glinharesb/signatory-go/internal/keyring"
	"github.com/glinharesb/signatory-go/internal/keystore"
	"github.com/glinharesb/signatory-go/internal/pkcs8"
	"github.com/glinharesb/signatory-go/internal/signature"
)

// ring holds erased signers, so one ring serves every algorithm and backend.
type ring = keyring.KeyRing[[]byte, []byte]

func newRing() *ring {
	return keyring.New[[]byte, []byte](nil)
}

var errLocked = errors.New("key is encrypted")

// loadStore registers every readable, unencrypted key in store and reports
// what each label holds: its algorithm name or "encrypted".
func loadStore(r *ring, store keystore.Store, labels []keystore.Label) (map[keystore.Label]string, map[keystore.Label]error) {
	kinds := make(map[keystore.Label]string, len(labels))
	failed := make(map[keystore.Label]error)
	for _, label := range labels {
		err := r.LoadFromStore(store, label, func(doc *pkcs8.Document) (signature.Signer[[]byte, []byte], error) {
			if doc.Encrypted() {
				kinds[label] = "encrypted"
				return nil, errLocked
			}
			kinds[label] = doc.Algorithm().String()
			return softwareSigner(doc, formatASN1)
		})
		if err != nil && !errors.Is(err, errLocked) {
			failed[label] = err
		}
	}
	return kinds, failed
}

// signWith signs msg through a ring holding only s, so the operation is
// recorded like any other key ring sign.
func signWith(id, backend string, s rawSigner, msg []byte) ([]byte, error) {
	r := newRing()
	if err := r.Add(id, backend, s); err != nil {
		return nil, err
	}
	return r.Sign(id, msg)
}
