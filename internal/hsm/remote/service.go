// Package remote carries the hsm Connector/Transport boundary over gRPC, so
// a module attached to one host can serve signers on another.
package remote

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/glinharesb/signatory-go/internal/hsm"
)

const (
	ServiceName = "signatory.hsm.v1.Module"

	methodCreateSession = "/" + ServiceName + "/CreateSession"
	methodGetPublicKey  = "/" + ServiceName + "/GetPublicKey"
	methodSign          = "/" + ServiceName + "/Sign"
	methodCloseSession  = "/" + ServiceName + "/CloseSession"

	// SessionHeader carries the session id on every call but CreateSession.
	SessionHeader = "x-hsm-session"
)

type moduleService interface {
	createSession(context.Context, *createSessionRequest) (*createSessionResponse, error)
	getPublicKey(context.Context, *getPublicKeyRequest) (*getPublicKeyResponse, error)
	sign(context.Context, *signRequest) (*signResponse, error)
	closeSession(context.Context, *closeSessionRequest) (*closeSessionResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*moduleService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSession", Handler: unaryHandler(methodCreateSession, moduleService.createSession)},
		{MethodName: "GetPublicKey", Handler: unaryHandler(methodGetPublicKey, moduleService.getPublicKey)},
		{MethodName: "Sign", Handler: unaryHandler(methodSign, moduleService.sign)},
		{MethodName: "CloseSession", Handler: unaryHandler(methodCloseSession, moduleService.closeSession)},
	},
}

func unaryHandler[Req, Resp any](method string, call func(moduleService, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		svc := srv.(moduleService)
		if interceptor == nil {
			return call(svc, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
			return call(svc, ctx, req.(*Req))
		})
	}
}

// Register attaches s to a gRPC server.
func Register(registrar grpc.ServiceRegistrar, s *Server) {
	registrar.RegisterService(&serviceDesc, s)
}

var sentinelCodes = []struct {
	err  error
	code codes.Code
}{
	{hsm.ErrObjectNotFound, codes.NotFound},
	{hsm.ErrAuthFailed, codes.Unauthenticated},
	{hsm.ErrSessionClosed, codes.FailedPrecondition},
	{hsm.ErrWrongAlgorithm, codes.InvalidArgument},
}

func toStatus(err error) error {
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return status.Error(sc.code, err.Error())
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// remoteError is a status received from the server, unwrapping to the hsm
// sentinel its code stands for.
type remoteError struct {
	st       *status.Status
	sentinel error
}

func (e *remoteError) Error() string {
	return "remote: " + e.st.Code().String() + ": " + e.st.Message()
}

func (e *remoteError) Unwrap() error { return e.sentinel }

func (e *remoteError) GRPCStatus() *status.Status { return e.st }

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, sc := range sentinelCodes {
		if st.Code() == sc.code {
			return &remoteError{st: st, sentinel: sc.err}
		}
	}
	switch st.Code() {
	case codes.Canceled:
		return &remoteError{st: st, sentinel: context.Canceled}
	case codes.DeadlineExceeded:
		return &remoteError{st: st, sentinel: context.DeadlineExceeded}
	}
	return &remoteError{st: st}
}
