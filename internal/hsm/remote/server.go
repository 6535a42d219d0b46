package remote

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/stats"
	"google.golang.org/grpc/status"

	"github.com/glinharesb/signatory-go/internal/audit"
	"github.com/glinharesb/signatory-go/internal/hsm"
)

const auditBackend = "remote"

// Server exposes a Connector to remote clients. Each CreateSession opens a
// session on the underlying connector and hands its id back to the caller.
//
// Server is also a stats.Handler. Installed with grpc.StatsHandler, it
// closes the sessions a client connection opened once that connection ends,
// so clients that vanish without CloseSession do not pin device sessions.
type Server struct {
	connector hsm.Connector
	audit     *audit.Logger

	mu       sync.Mutex
	sessions map[string]*serverSession
}

// serverSession serializes requests on one underlying transport.
type serverSession struct {
	mu        sync.Mutex
	transport hsm.Transport
	authKeyID hsm.KeyID
	owner     *clientConn
}

// clientConn identifies one client connection. ended is guarded by Server.mu.
type clientConn struct {
	remote string
	ended  bool
}

type clientConnKey struct{}

var (
	_ moduleService = (*Server)(nil)
	_ stats.Handler = (*Server)(nil)
)

func NewServer(connector hsm.Connector, a *audit.Logger) *Server {
	return &Server{
		connector: connector,
		audit:     a,
		sessions:  make(map[string]*serverSession),
	}
}

func (s *Server) createSession(ctx context.Context, req *createSessionRequest) (*createSessionResponse, error) {
	authKeyID, err := keyID(req.AuthKeyID)
	if err != nil {
		return nil, err
	}
	meta := map[string]string{"auth_key_id": strconv.FormatUint(req.AuthKeyID, 10)}

	t, err := s.connector.CreateSession(ctx, authKeyID, req.Password)
	if err != nil {
		s.record(ctx, "CreateSession", "", err, meta)
		return nil, toStatus(err)
	}

	owner, _ := ctx.Value(clientConnKey{}).(*clientConn)
	id := uuid.NewString()
	s.mu.Lock()
	if owner != nil && owner.ended {
		s.mu.Unlock()
		_ = t.Close()
		return nil, status.Error(codes.Unavailable, "client connection closed")
	}
	s.sessions[id] = &serverSession{transport: t, authKeyID: authKeyID, owner: owner}
	s.mu.Unlock()

	s.record(ctx, "CreateSession", "", nil, meta)
	log.Debug().Str("session", id).Uint16("auth_key_id", uint16(authKeyID)).Msg("remote session opened")
	return &createSessionResponse{SessionID: id}, nil
}

func (s *Server) getPublicKey(ctx context.Context, req *getPublicKeyRequest) (*getPublicKeyResponse, error) {
	id, err := keyID(req.KeyID)
	if err != nil {
		return nil, err
	}
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	rec, err := sess.transport.GetPublicKey(ctx, id)
	sess.mu.Unlock()
	s.record(ctx, "GetPublicKey", keyLabel(req.KeyID), err, nil)
	if err != nil {
		return nil, toStatus(err)
	}
	return &getPublicKeyResponse{Algorithm: uint64(rec.Algorithm), PublicKey: rec.Bytes}, nil
}

func (s *Server) sign(ctx context.Context, req *signRequest) (*signResponse, error) {
	id, err := keyID(req.KeyID)
	if err != nil {
		return nil, err
	}
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	var sig []byte
	sess.mu.Lock()
	switch req.Mode {
	case signModeEdDSA:
		sig, err = sess.transport.SignEdDSA(ctx, id, req.Payload)
	case signModeECDSA:
		sig, err = sess.transport.SignECDSA(ctx, id, req.Payload)
	default:
		sess.mu.Unlock()
		return nil, status.Errorf(codes.InvalidArgument, "unknown sign mode %d", req.Mode)
	}
	sess.mu.Unlock()

	s.record(ctx, "Sign", keyLabel(req.KeyID), err, map[string]string{"mode": modeName(req.Mode)})
	if err != nil {
		return nil, toStatus(err)
	}
	return &signResponse{Signature: sig}, nil
}

func (s *Server) closeSession(ctx context.Context, _ *closeSessionRequest) (*closeSessionResponse, error) {
	id, err := sessionID(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return nil, status.Errorf(codes.FailedPrecondition, "session %s: %v", id, hsm.ErrSessionClosed)
	}

	sess.mu.Lock()
	err = sess.transport.Close()
	sess.mu.Unlock()
	s.record(ctx, "CloseSession", "", err, nil)
	if err != nil {
		return nil, toStatus(err)
	}
	log.Debug().Str("session", id).Msg("remote session closed")
	return &closeSessionResponse{}, nil
}

// Close ends every open session. It is called once the gRPC server has
// stopped accepting requests.
func (s *Server) Close() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*serverSession)
	s.mu.Unlock()

	var firstErr error
	for id, sess := range sessions {
		sess.mu.Lock()
		err := sess.transport.Close()
		sess.mu.Unlock()
		if err != nil {
			log.Warn().Err(err).Str("session", id).Msg("close remote session")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// TagConn attaches a connection identity that every RPC on the connection
// inherits.
func (s *Server) TagConn(ctx context.Context, info *stats.ConnTagInfo) context.Context {
	c := &clientConn{}
	if info != nil && info.RemoteAddr != nil {
		c.remote = info.RemoteAddr.String()
	}
	return context.WithValue(ctx, clientConnKey{}, c)
}

// HandleConn closes the sessions of a connection when it ends.
func (s *Server) HandleConn(ctx context.Context, cs stats.ConnStats) {
	if _, ok := cs.(*stats.ConnEnd); !ok {
		return
	}
	owner, ok := ctx.Value(clientConnKey{}).(*clientConn)
	if !ok {
		return
	}

	orphans := make(map[string]*serverSession)
	s.mu.Lock()
	owner.ended = true
	for id, sess := range s.sessions {
		if sess.owner == owner {
			orphans[id] = sess
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for id, sess := range orphans {
		sess.mu.Lock()
		err := sess.transport.Close()
		sess.mu.Unlock()
		if s.audit != nil {
			st := audit.StatusOK
			if err != nil {
				st = audit.StatusError
			}
			s.audit.Log("CloseSession", auditBackend, "", st, owner.remote, map[string]string{"reason": "disconnect"})
		}
		log.Debug().Err(err).Str("session", id).Str("peer", owner.remote).Msg("remote session reaped after disconnect")
	}
}

func (s *Server) TagRPC(ctx context.Context, _ *stats.RPCTagInfo) context.Context { return ctx }

func (s *Server) HandleRPC(context.Context, stats.RPCStats) {}

// Sessions reports the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) session(ctx context.Context) (*serverSession, error) {
	id, err := sessionID(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, status.Errorf(codes.FailedPrecondition, "session %s: %v", id, hsm.ErrSessionClosed)
	}
	return sess, nil
}

func (s *Server) record(ctx context.Context, op, keyID string, err error, meta map[string]string) {
	if s.audit == nil {
		return
	}
	st := audit.StatusOK
	if err != nil {
		st = audit.StatusError
	}
	s.audit.Log(op, auditBackend, keyID, st, peerAddr(ctx), meta)
}

func sessionID(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(SessionHeader)
	if len(values) == 0 || values[0] == "" {
		return "", status.Error(codes.Unauthenticated, "missing "+SessionHeader+" header")
	}
	return values[0], nil
}

func keyID(v uint64) (hsm.KeyID, error) {
	if v > math.MaxUint16 {
		return 0, status.Errorf(codes.OutOfRange, "key id %d out of range", v)
	}
	return hsm.KeyID(v), nil
}

func keyLabel(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func modeName(m uint64) string {
	switch m {
	case signModeEdDSA:
		return "eddsa"
	case signModeECDSA:
		return "ecdsa"
	default:
		return fmt.Sprintf("mode(%d)", m)
	}
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}
