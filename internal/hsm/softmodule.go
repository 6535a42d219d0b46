package hsm

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	k1ecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/rs/zerolog/log"

	"github.com/glinharesb/signatory-go/internal/pkcs8"
)

// Auth keys are derived from passwords the way YubiHSM 2 tooling does.
const (
	authKeySalt       = "Yubico"
	authKeyIterations = 10000
	authKeyLen        = 32
)

// SoftModule is an in-process module for development and tests. It holds
// authentication keys and asymmetric objects in memory and implements
// Connector, so it can stand in for a device anywhere a Connector is taken.
type SoftModule struct {
	mu       sync.Mutex
	authKeys map[KeyID][]byte
	objects  map[KeyID]softObject
}

type softObject struct {
	alg  Algorithm
	priv any
}

var _ Connector = (*SoftModule)(nil)

func NewSoftModule() *SoftModule {
	return &SoftModule{
		authKeys: make(map[KeyID][]byte),
		objects:  make(map[KeyID]softObject),
	}
}

func deriveAuthKey(password string) ([]byte, error) {
	return pbkdf2.Key(sha256.New, password, []byte(authKeySalt), authKeyIterations, authKeyLen)
}

// AddAuthKey installs (or replaces) the authentication key id derived from password.
func (m *SoftModule) AddAuthKey(id KeyID, password string) error {
	key, err := deriveAuthKey(password)
	if err != nil {
		return fmt.Errorf("derive auth key: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authKeys[id] = key
	return nil
}

// GenerateKey creates a fresh asymmetric object. An existing object with the
// same id is replaced.
func (m *SoftModule) GenerateKey(id KeyID, alg Algorithm) error {
	var priv any
	var err error
	switch alg {
	case AlgorithmEd25519:
		_, priv, err = ed25519.GenerateKey(rand.Reader)
	case AlgorithmEcP256:
		priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case AlgorithmEcK256:
		priv, err = secp256k1.GeneratePrivateKey()
	default:
		return fmt.Errorf("generate key %d: unsupported algorithm %s", id, alg)
	}
	if err != nil {
		return fmt.Errorf("generate key %d: %w", id, err)
	}
	m.put(id, softObject{alg: alg, priv: priv})
	return nil
}

// PutKey imports an unencrypted PKCS#8 document as object id. The document's
// algorithm must agree with alg.
func (m *SoftModule) PutKey(id KeyID, alg Algorithm, doc *pkcs8.Document) error {
	if got, ok := algorithmOf(doc.Algorithm()); !ok || got != alg {
		return fmt.Errorf("put key %d: document holds %s, not %s", id, doc.Algorithm(), alg)
	}
	priv, err := doc.PrivateKey(nil)
	if err != nil {
		return fmt.Errorf("put key %d: %w", id, err)
	}
	m.put(id, softObject{alg: alg, priv: priv})
	return nil
}

func (m *SoftModule) put(id KeyID, obj softObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[id] = obj
	log.Debug().Uint16("key_id", uint16(id)).Stringer("algorithm", obj.alg).Msg("soft module object stored")
}

func (m *SoftModule) DeleteKey(id KeyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[id]; !ok {
		return fmt.Errorf("delete key %d: %w", id, ErrObjectNotFound)
	}
	delete(m.objects, id)
	return nil
}

func (m *SoftModule) object(id KeyID) (softObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[id]
	if !ok {
		return softObject{}, fmt.Errorf("key %d: %w", id, ErrObjectNotFound)
	}
	return obj, nil
}

// CreateSession checks password against auth key authKeyID in constant time.
func (m *SoftModule) CreateSession(ctx context.Context, authKeyID KeyID, password string) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	got, err := deriveAuthKey(password)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	want, ok := m.authKeys[authKeyID]
	m.mu.Unlock()
	if !ok {
		// Compare anyway so unknown ids cost the same as wrong passwords.
		want = make([]byte, authKeyLen)
	}
	if subtle.ConstantTimeCompare(got, want) != 1 || !ok {
		return nil, ErrAuthFailed
	}
	return &softSession{module: m}, nil
}

// softSession counts requests the way a device tracks its session
// sequence number.
type softSession struct {
	module *SoftModule
	seq    uint32
	closed bool
}

func (s *softSession) begin(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.seq++
	return nil
}

func (s *softSession) GetPublicKey(ctx context.Context, keyID KeyID) (PublicKeyRecord, error) {
	if err := s.begin(ctx); err != nil {
		return PublicKeyRecord{}, err
	}
	obj, err := s.module.object(keyID)
	if err != nil {
		return PublicKeyRecord{}, err
	}

	var b []byte
	switch k := obj.priv.(type) {
	case ed25519.PrivateKey:
		b = k.Public().(ed25519.PublicKey)
	case *ecdsa.PrivateKey:
		pub, err := k.PublicKey.ECDH()
		if err != nil {
			return PublicKeyRecord{}, err
		}
		b = pub.Bytes()[1:]
	case *secp256k1.PrivateKey:
		b = k.PubKey().SerializeUncompressed()[1:]
	}
	return PublicKeyRecord{Algorithm: obj.alg, Bytes: b}, nil
}

func (s *softSession) SignEdDSA(ctx context.Context, keyID KeyID, msg []byte) ([]byte, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	obj, err := s.module.object(keyID)
	if err != nil {
		return nil, err
	}
	k, ok := obj.priv.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key %d (%s): %w", keyID, obj.alg, ErrWrongAlgorithm)
	}
	return ed25519.Sign(k, msg), nil
}

func (s *softSession) SignECDSA(ctx context.Context, keyID KeyID, digest []byte) ([]byte, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	if len(digest) != sha256.Size {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", sha256.Size, len(digest))
	}
	obj, err := s.module.object(keyID)
	if err != nil {
		return nil, err
	}
	switch k := obj.priv.(type) {
	case *ecdsa.PrivateKey:
		return ecdsa.SignASN1(rand.Reader, k, digest)
	case *secp256k1.PrivateKey:
		return k1ecdsa.Sign(k, digest).Serialize(), nil
	default:
		return nil, fmt.Errorf("key %d (%s): %w", keyID, obj.alg, ErrWrongAlgorithm)
	}
}

func (s *softSession) Close() error {
	s.closed = true
	return nil
}
