package hsm

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/glinharesb/signatory-go/internal/metrics"
	"github.com/glinharesb/signatory-go/internal/signature"
)

const backendName = "hsm"

// Session is an authenticated channel to a module shared by any number of
// signers. Every request holds the session lock from send to response, so
// requests are totally ordered and callers block while another request is in
// flight. There is no queue, retry or timeout at this layer.
type Session struct {
	mu        sync.Mutex
	transport Transport
	authKeyID KeyID
}

// NewSession authenticates to the module behind connector. Failures are
// KindProvider and wrap the connector's error.
func NewSession(ctx context.Context, connector Connector, authKeyID KeyID, password string) (*Session, error) {
	start := time.Now()
	t, err := connector.CreateSession(ctx, authKeyID, password)
	metrics.RecordOperation(metrics.OpSession, backendName, start, err)
	if err != nil {
		return nil, signature.NewError(signature.KindProvider, "hsm: create session", err)
	}
	log.Debug().Uint16("auth_key_id", uint16(authKeyID)).Msg("hsm session established")
	return &Session{transport: t, authKeyID: authKeyID}, nil
}

// Open resolves rawURL through the connector registry and creates a session.
func Open(ctx context.Context, rawURL string, authKeyID KeyID, password string) (*Session, error) {
	connector, err := OpenConnector(rawURL)
	if err != nil {
		return nil, signature.NewError(signature.KindProvider, "hsm: open connector", err)
	}
	return NewSession(ctx, connector, authKeyID, password)
}

// do runs fn with exclusive use of the transport. Errors returned by fn are
// wrapped as KindProvider unless they already carry a kind.
func (s *Session) do(op string, fn func(ctx context.Context, t Transport) error) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.RecordLockWait(time.Since(start))

	var err error
	if s.transport == nil {
		err = signature.NewError(signature.KindProvider, "hsm: "+op, ErrSessionClosed)
	} else {
		err = fn(context.Background(), s.transport)
		if err != nil && signature.KindOf(err) == 0 {
			err = signature.NewError(signature.KindProvider, "hsm: "+op, err)
		}
	}
	metrics.RecordOperation(op, backendName, start, err)
	return err
}

// Close ends the session. Signers still holding it fail with KindProvider
// from then on. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport == nil {
		return nil
	}
	err := s.transport.Close()
	s.transport = nil
	if err != nil {
		return signature.NewError(signature.KindProvider, "hsm: close session", err)
	}
	log.Debug().Uint16("auth_key_id", uint16(s.authKeyID)).Msg("hsm session closed")
	return nil
}

// publicKey fetches keyID's record and checks its algorithm tag.
func (s *Session) publicKey(keyID KeyID, want Algorithm) ([]byte, error) {
	var rec PublicKeyRecord
	err := s.do(metrics.OpPublicKey, func(ctx context.Context, t Transport) error {
		var err error
		rec, err = t.GetPublicKey(ctx, keyID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec.Algorithm != want {
		return nil, signature.Errorf(signature.KindInvalidKey, "hsm: public key",
			"key %d is %s, want %s", keyID, rec.Algorithm, want)
	}
	return rec.Bytes, nil
}
