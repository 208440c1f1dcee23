package grpcserver

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	authorizationHeader  = "authorization"
	bearerPrefix         = "Bearer "
	errorUnauthenticated = "unauthenticated"
)

// TokenAuthInterceptor admits calls carrying "authorization: Bearer <token>".
// An empty token rejects every call.
func TokenAuthInterceptor(token string) grpc.UnaryServerInterceptor {
	expected := []byte(token)
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if len(expected) == 0 || !authorized(ctx, expected) {
			return nil, status.Error(codes.Unauthenticated, errorUnauthenticated)
		}
		return handler(ctx, request)
	}
}

func authorized(ctx context.Context, expected []byte) bool {
	incoming, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return false
	}
	for _, value := range incoming.Get(authorizationHeader) {
		presented, found := strings.CutPrefix(value, bearerPrefix)
		if found && subtle.ConstantTimeCompare([]byte(presented), expected) == 1 {
			return true
		}
	}
	return false
}
