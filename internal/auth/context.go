package auth

import "context"

type contextKey string

const authenticationKey contextKey = "authentication"

func WithAuthentication(ctx context.Context, authentication *Authentication) context.Context {
	return context.WithValue(ctx, authenticationKey, authentication)
}

func AuthenticationFromContext(ctx context.Context) (*Authentication, bool) {
	authentication, ok := ctx.Value(authenticationKey).(*Authentication)

	return authentication, ok
}
