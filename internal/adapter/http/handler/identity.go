package handler

import "context"

type identityKey struct{}

// WithIdentity returns a context carrying the authenticated agent address.
func WithIdentity(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, identityKey{}, agent)
}

// IdentityFromContext returns the authenticated agent address, if any.
func IdentityFromContext(ctx context.Context) (string, bool) {
	agent, ok := ctx.Value(identityKey{}).(string)
	return agent, ok && agent != ""
}
