package remote

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/glinharesb/signatory-go/internal/hsm"
)

func init() {
	hsm.RegisterConnector("grpc", openURL)
}

// Connector is the client side of the Module service. Sessions created
// through it share one gRPC connection.
type Connector struct {
	conn *grpc.ClientConn
}

var _ hsm.Connector = (*Connector)(nil)

// NewConnector creates a client for target. The connection is established
// lazily on the first call.
func NewConnector(target string, opts ...grpc.DialOption) (*Connector, error) {
	opts = append([]grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("remote: new client %s: %w", target, err)
	}
	return &Connector{conn: conn}, nil
}

// openURL serves grpc://host:port[?token=T][&tls=true].
func openURL(u *url.URL) (hsm.Connector, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("remote: %s: missing host", u.Redacted())
	}
	q := u.Query()
	useTLS := false
	if v := q.Get("tls"); v != "" {
		var err error
		if useTLS, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("remote: tls: %w", err)
		}
	}

	var opts []grpc.DialOption
	if useTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if token := q.Get("token"); token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerToken{token: token, secure: useTLS}))
	}
	return NewConnector(u.Host, opts...)
}

// Close tears down the connection. Transports created from c stop working.
func (c *Connector) Close() error {
	return c.conn.Close()
}

func (c *Connector) CreateSession(ctx context.Context, authKeyID hsm.KeyID, password string) (hsm.Transport, error) {
	resp := new(createSessionResponse)
	req := &createSessionRequest{AuthKeyID: uint64(authKeyID), Password: password}
	if err := c.conn.Invoke(ctx, methodCreateSession, req, resp); err != nil {
		return nil, fromStatus(err)
	}
	return &transport{conn: c.conn, id: resp.SessionID}, nil
}

type transport struct {
	conn *grpc.ClientConn
	id   string
}

func (t *transport) invoke(ctx context.Context, method string, req, resp message) error {
	ctx = metadata.AppendToOutgoingContext(ctx, SessionHeader, t.id)
	if err := t.conn.Invoke(ctx, method, req, resp); err != nil {
		return fromStatus(err)
	}
	return nil
}

func (t *transport) GetPublicKey(ctx context.Context, keyID hsm.KeyID) (hsm.PublicKeyRecord, error) {
	resp := new(getPublicKeyResponse)
	if err := t.invoke(ctx, methodGetPublicKey, &getPublicKeyRequest{KeyID: uint64(keyID)}, resp); err != nil {
		return hsm.PublicKeyRecord{}, err
	}
	if resp.Algorithm > 0xff {
		return hsm.PublicKeyRecord{}, fmt.Errorf("remote: algorithm tag %d out of range", resp.Algorithm)
	}
	return hsm.PublicKeyRecord{Algorithm: hsm.Algorithm(resp.Algorithm), Bytes: resp.PublicKey}, nil
}

func (t *transport) SignEdDSA(ctx context.Context, keyID hsm.KeyID, msg []byte) ([]byte, error) {
	return t.sign(ctx, keyID, signModeEdDSA, msg)
}

func (t *transport) SignECDSA(ctx context.Context, keyID hsm.KeyID, digest []byte) ([]byte, error) {
	return t.sign(ctx, keyID, signModeECDSA, digest)
}

func (t *transport) sign(ctx context.Context, keyID hsm.KeyID, mode uint64, payload []byte) ([]byte, error) {
	resp := new(signResponse)
	req := &signRequest{KeyID: uint64(keyID), Mode: mode, Payload: payload}
	if err := t.invoke(ctx, methodSign, req, resp); err != nil {
		return nil, err
	}
	return resp.Signature, nil
}

func (t *transport) Close() error {
	return t.invoke(context.Background(), methodCloseSession, &closeSessionRequest{}, &closeSessionResponse{})
}

// bearerToken attaches the shared server token to every call.
type bearerToken struct {
	token  string
	secure bool
}

func (b bearerToken) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}

func (b bearerToken) RequireTransportSecurity() bool {
	return b.secure
}
