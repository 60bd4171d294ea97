package grpcserver

import (
	"context"
	"strings"

	"github.com/MarkoPoloResearchLab/bookingledger/internal/httpapi"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	authorizationMetadata = "authorization"
	bearerPrefix          = "Bearer "

	errorUnauthenticated = "unauthenticated"
	errorForbidden       = "forbidden"
)

type callerContextKey struct{}

// caller is the authenticated identity behind one RPC.
type caller struct {
	userKey string
	actor   string
	isAdmin bool
}

// AuthInterceptor authenticates every unary call from the bearer token in the
// authorization metadata. Admin rights come from adminRole in the token roles.
func AuthInterceptor(parseToken httpapi.TokenParser, adminRole string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		incoming, _ := metadata.FromIncomingContext(ctx)
		values := incoming.Get(authorizationMetadata)
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, errorUnauthenticated)
		}
		rawToken, found := strings.CutPrefix(values[0], bearerPrefix)
		if !found || strings.TrimSpace(rawToken) == "" {
			return nil, status.Error(codes.Unauthenticated, errorUnauthenticated)
		}
		claims, err := parseToken(rawToken)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, errorUnauthenticated)
		}
		identity := caller{
			userKey: claims.UserKey(),
			actor:   claims.Actor(),
			isAdmin: adminRole != "" && claims.HasRole(adminRole),
		}
		return handler(context.WithValue(ctx, callerContextKey{}, identity), request)
	}
}

// WithBearerToken attaches token to outgoing calls made with ctx.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, authorizationMetadata, bearerPrefix+token)
}

func callerFrom(ctx context.Context) (caller, error) {
	identity, ok := ctx.Value(callerContextKey{}).(caller)
	if !ok {
		return caller{}, status.Error(codes.Unauthenticated, errorUnauthenticated)
	}
	return identity, nil
}

// requireUser allows admins and the user themselves.
func requireUser(ctx context.Context, userKey string) error {
	identity, err := callerFrom(ctx)
	if err != nil {
		return err
	}
	if !identity.isAdmin && identity.userKey != userKey {
		return status.Error(codes.PermissionDenied, errorForbidden)
	}
	return nil
}
