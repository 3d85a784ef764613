package dispatcher

import "context"

type clientKey struct{}

// DefaultClient names callers that did not identify themselves.
const DefaultClient = "local"

// WithClient tags ctx with the calling client (gateway and principal).
// The name lands in audit events and anomaly tracking.
func WithClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, clientKey{}, client)
}

// ClientFrom returns the client stored by WithClient.
func ClientFrom(ctx context.Context) string {
	if c, ok := ctx.Value(clientKey{}).(string); ok && c != "" {
		return c
	}
	return DefaultClient
}
