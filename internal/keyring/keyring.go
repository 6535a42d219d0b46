// Package keyring maps application key ids to live signers, whichever
// backend holds the key. It does no cryptography of its own.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/glinharesb/signatory-go/internal/audit"
	"github.com/glinharesb/signatory-go/internal/keystore"
	"github.com/glinharesb/signatory-go/internal/metrics"
	"github.com/glinharesb/signatory-go/internal/pkcs8"
	"github.com/glinharesb/signatory-go/internal/signature"
)

// Backend names used for metrics and audit entries.
const (
	BackendSoftware = "software"
	BackendHSM      = "hsm"
)

var (
	ErrDuplicateKey = errors.New("keyring: duplicate key id")
	ErrKeyNotFound  = errors.New("keyring: key not found")
)

// probeLimit bounds concurrent public key lookups in PublicKeys.
const probeLimit = 8

type entry[K, S any] struct {
	signer  signature.Signer[K, S]
	backend string
}

// KeyRing holds signers producing keys of type K and signatures of type S.
// It is safe for concurrent use; signing calls run outside the ring's lock.
type KeyRing[K, S any] struct {
	mu    sync.RWMutex
	keys  map[string]entry[K, S]
	audit *audit.Logger
}

// New creates an empty ring. a may be nil.
func New[K, S any](a *audit.Logger) *KeyRing[K, S] {
	return &KeyRing[K, S]{
		keys:  make(map[string]entry[K, S]),
		audit: a,
	}
}

func (r *KeyRing[K, S]) Add(id, backend string, signer signature.Signer[K, S]) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.keys[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, id)
	}
	r.keys[id] = entry[K, S]{signer: signer, backend: backend}
	log.Debug().Str("key_id", id).Str("backend", backend).Msg("key added to ring")
	return nil
}

func (r *KeyRing[K, S]) Get(id string) (signature.Signer[K, S], error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	return e.signer, nil
}

func (r *KeyRing[K, S]) entry(id string) (entry[K, S], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.keys[id]
	if !ok {
		return entry[K, S]{}, fmt.Errorf("%w: %q", ErrKeyNotFound, id)
	}
	return e, nil
}

func (r *KeyRing[K, S]) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.keys[id]; !ok {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, id)
	}
	delete(r.keys, id)
	return nil
}

// IDs returns the key ids in sorted order.
func (r *KeyRing[K, S]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.keys))
	for id := range r.keys {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Sign signs msg with the key registered under id.
func (r *KeyRing[K, S]) Sign(id string, msg []byte) (S, error) {
	var zero S
	e, err := r.entry(id)
	if err != nil {
		return zero, err
	}

	start := time.Now()
	sig, err := e.signer.Sign(msg)
	metrics.RecordOperation(metrics.OpRingSign, e.backend, start, err)
	if r.audit != nil {
		status := audit.StatusOK
		if err != nil {
			status = audit.StatusError
		}
		r.audit.Log("Sign", e.backend, id, status, "", nil)
	}
	if err != nil {
		return zero, err
	}
	return sig, nil
}

// PublicKeys asks every signer for its public key. Signers on distinct
// backends are probed concurrently; the first failure cancels the rest.
func (r *KeyRing[K, S]) PublicKeys(ctx context.Context) (map[string]K, error) {
	r.mu.RLock()
	snapshot := make(map[string]entry[K, S], len(r.keys))
	for id, e := range r.keys {
		snapshot[id] = e
	}
	r.mu.RUnlock()

	var mu sync.Mutex
	out := make(map[string]K, len(snapshot))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(probeLimit)
	for id, e := range snapshot {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pk, err := e.signer.PublicKey()
			if err != nil {
				return fmt.Errorf("key %q: %w", id, err)
			}
			mu.Lock()
			out[id] = pk
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// PKCS8Loader builds a software signer from a decoded document.
type PKCS8Loader[K, S any] func(doc *pkcs8.Document) (signature.Signer[K, S], error)

// Loader adapts a concrete constructor such as
// crypto.NewEd25519SignerFromPKCS8 to a PKCS8Loader.
func Loader[K, S any, P signature.Signer[K, S]](fn func(*pkcs8.Document) (P, error)) PKCS8Loader[K, S] {
	return func(doc *pkcs8.Document) (signature.Signer[K, S], error) {
		p, err := fn(doc)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// LoadFromStore loads label from store and registers the resulting software
// signer under the label's name.
func (r *KeyRing[K, S]) LoadFromStore(store keystore.Store, label keystore.Label, load PKCS8Loader[K, S]) error {
	doc, err := store.Load(label)
	if err != nil {
		return err
	}
	signer, err := load(doc)
	if err != nil {
		return err
	}
	return r.Add(label.String(), BackendSoftware, signer)
}
