package interceptor

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// HealthService is the standard health checking service. Load balancers
// probe it without credentials.
const HealthService = "grpc.health.v1.Health"

// AuthUnary rejects calls whose authorization header does not carry
// "Bearer <token>". Methods of the services listed in open skip the check.
func AuthUnary(token string, open ...string) grpc.UnaryServerInterceptor {
	want := []byte(token)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !isOpen(info.FullMethod, open) {
			got, err := bearer(ctx)
			if err != nil {
				return nil, err
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				return nil, status.Error(codes.Unauthenticated, "invalid token")
			}
		}
		return handler(ctx, req)
	}
}

func isOpen(fullMethod string, services []string) bool {
	for _, svc := range services {
		if strings.HasPrefix(fullMethod, "/"+svc+"/") {
			return true
		}
	}
	return false
}

func bearer(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", status.Error(codes.Unauthenticated, "missing authorization header")
	}
	token, ok := strings.CutPrefix(values[0], "Bearer ")
	if !ok {
		return "", status.Error(codes.Unauthenticated, "authorization header is not a bearer token")
	}
	return token, nil
}
