// Package identity carries the trusted caller identity through a request context.
package identity

import "context"

type callerKey struct{}

// WithCaller returns a context carrying the caller identity
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// Caller returns the caller identity stored in ctx
func Caller(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerKey{}).(string)
	if !ok || caller == "" {
		return "", false
	}
	return caller, true
}
