//go:build pkcs11

package pkcs11

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/miekg/pkcs11"
	"github.com/rs/zerolog/log"

	"github.com/glinharesb/signatory-go/internal/hsm"
)

// PKCS#11 3.0 identifiers for Edwards keys.
const (
	ckkECEdwards uint = 0x00000040
	ckmEdDSA     uint = 0x00001057
)

func init() {
	hsm.RegisterConnector("pkcs11", openURL)
}

// Connector opens sessions on one slot of a PKCS#11 library.
type Connector struct {
	mu   sync.Mutex
	ctx  *pkcs11.Ctx
	slot uint
}

var _ hsm.Connector = (*Connector)(nil)

// New loads library and selects slot. A negative slot picks the first slot
// with a token present.
func New(library string, slot int) (*Connector, error) {
	p := pkcs11.New(library)
	if p == nil {
		return nil, fmt.Errorf("pkcs11: failed to load library %s", library)
	}
	if err := p.Initialize(); err != nil && !errors.Is(err, pkcs11.Error(pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED)) {
		p.Destroy()
		return nil, fmt.Errorf("pkcs11: initialize: %w", err)
	}

	c := &Connector{ctx: p}
	if slot >= 0 {
		c.slot = uint(slot)
		return c, nil
	}
	slots, err := p.GetSlotList(true)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("pkcs11: slot list: %w", err)
	}
	if len(slots) == 0 {
		_ = c.Close()
		return nil, errors.New("pkcs11: no slots with a token")
	}
	c.slot = slots[0]
	return c, nil
}

// openURL serves pkcs11:///path/to/library.so[?slot=N].
func openURL(u *url.URL) (hsm.Connector, error) {
	if u.Path == "" {
		return nil, errors.New("pkcs11: missing library path")
	}
	slot := -1
	if v := u.Query().Get("slot"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("pkcs11: slot: %w", err)
		}
		slot = int(n)
	}
	return New(u.Path, slot)
}

// Close finalizes the library. Sessions opened from c stop working.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return nil
	}
	err := c.ctx.Finalize()
	c.ctx.Destroy()
	c.ctx = nil
	return err
}

func (c *Connector) CreateSession(ctx context.Context, authKeyID hsm.KeyID, password string) (hsm.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return nil, hsm.ErrSessionClosed
	}

	sh, err := c.ctx.OpenSession(c.slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, fmt.Errorf("pkcs11: open session: %w", err)
	}
	// C_Logout affects every session of the application, so sessions only
	// ever log in.
	err = c.ctx.Login(sh, pkcs11.CKU_USER, PIN(authKeyID, password))
	if err != nil && !errors.Is(err, pkcs11.Error(pkcs11.CKR_USER_ALREADY_LOGGED_IN)) {
		_ = c.ctx.CloseSession(sh)
		if errors.Is(err, pkcs11.Error(pkcs11.CKR_PIN_INCORRECT)) {
			return nil, fmt.Errorf("pkcs11: login: %w", hsm.ErrAuthFailed)
		}
		return nil, fmt.Errorf("pkcs11: login: %w", err)
	}
	log.Debug().Uint("slot", c.slot).Msg("pkcs11 session opened")
	return &session{ctx: c.ctx, handle: sh}, nil
}

type session struct {
	ctx    *pkcs11.Ctx
	handle pkcs11.SessionHandle
	closed bool
}

func (s *session) begin(ctx context.Context) error {
	if s.closed {
		return hsm.ErrSessionClosed
	}
	return ctx.Err()
}

func (s *session) find(class uint, keyID hsm.KeyID) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(pkcs11.CKA_ID, objectID(keyID)),
	}
	if err := s.ctx.FindObjectsInit(s.handle, template); err != nil {
		return 0, fmt.Errorf("pkcs11: find init: %w", err)
	}
	objs, _, err := s.ctx.FindObjects(s.handle, 1)
	if finalErr := s.ctx.FindObjectsFinal(s.handle); err == nil {
		err = finalErr
	}
	if err != nil {
		return 0, fmt.Errorf("pkcs11: find: %w", err)
	}
	if len(objs) == 0 {
		return 0, fmt.Errorf("key %d: %w", keyID, hsm.ErrObjectNotFound)
	}
	return objs[0], nil
}

func (s *session) algorithm(obj pkcs11.ObjectHandle) (hsm.Algorithm, error) {
	attrs, err := s.ctx.GetAttributeValue(s.handle, obj, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, nil),
		pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, nil),
	})
	if err != nil {
		return hsm.AlgorithmUnknown, fmt.Errorf("pkcs11: key attributes: %w", err)
	}
	var keyType uint
	var params []byte
	for _, a := range attrs {
		switch a.Type {
		case pkcs11.CKA_KEY_TYPE:
			keyType = uint(bytesToUint(a.Value))
		case pkcs11.CKA_EC_PARAMS:
			params = a.Value
		}
	}
	switch keyType {
	case pkcs11.CKK_EC, ckkECEdwards:
		return curveAlgorithm(params)
	}
	return hsm.AlgorithmUnknown, fmt.Errorf("pkcs11: unsupported key type %#x", keyType)
}

func (s *session) GetPublicKey(ctx context.Context, keyID hsm.KeyID) (hsm.PublicKeyRecord, error) {
	if err := s.begin(ctx); err != nil {
		return hsm.PublicKeyRecord{}, err
	}
	obj, err := s.find(pkcs11.CKO_PUBLIC_KEY, keyID)
	if err != nil {
		return hsm.PublicKeyRecord{}, err
	}
	alg, err := s.algorithm(obj)
	if err != nil {
		return hsm.PublicKeyRecord{}, err
	}
	attrs, err := s.ctx.GetAttributeValue(s.handle, obj, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, nil),
	})
	if err != nil {
		return hsm.PublicKeyRecord{}, fmt.Errorf("pkcs11: ec point: %w", err)
	}
	point, err := unwrapPoint(alg, attrs[0].Value)
	if err != nil {
		return hsm.PublicKeyRecord{}, err
	}
	return hsm.PublicKeyRecord{Algorithm: alg, Bytes: point}, nil
}

func (s *session) SignEdDSA(ctx context.Context, keyID hsm.KeyID, msg []byte) ([]byte, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	obj, alg, err := s.privateKey(keyID)
	if err != nil {
		return nil, err
	}
	if alg != hsm.AlgorithmEd25519 {
		return nil, fmt.Errorf("key %d (%s): %w", keyID, alg, hsm.ErrWrongAlgorithm)
	}
	return s.sign(ckmEdDSA, obj, msg)
}

func (s *session) SignECDSA(ctx context.Context, keyID hsm.KeyID, digest []byte) ([]byte, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	obj, alg, err := s.privateKey(keyID)
	if err != nil {
		return nil, err
	}
	if alg != hsm.AlgorithmEcP256 && alg != hsm.AlgorithmEcK256 {
		return nil, fmt.Errorf("key %d (%s): %w", keyID, alg, hsm.ErrWrongAlgorithm)
	}
	raw, err := s.sign(pkcs11.CKM_ECDSA, obj, digest)
	if err != nil {
		return nil, err
	}
	return rawToDER(raw)
}

func (s *session) privateKey(keyID hsm.KeyID) (pkcs11.ObjectHandle, hsm.Algorithm, error) {
	obj, err := s.find(pkcs11.CKO_PRIVATE_KEY, keyID)
	if err != nil {
		return 0, hsm.AlgorithmUnknown, err
	}
	alg, err := s.algorithm(obj)
	return obj, alg, err
}

func (s *session) sign(mechanism uint, obj pkcs11.ObjectHandle, data []byte) ([]byte, error) {
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(mechanism, nil)}
	if err := s.ctx.SignInit(s.handle, mech, obj); err != nil {
		return nil, fmt.Errorf("pkcs11: sign init: %w", err)
	}
	sig, err := s.ctx.Sign(s.handle, data)
	if err != nil {
		return nil, fmt.Errorf("pkcs11: sign: %w", err)
	}
	return sig, nil
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.ctx.CloseSession(s.handle)
}

// bytesToUint decodes a CK_ULONG attribute in host byte order.
func bytesToUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
