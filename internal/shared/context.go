package shared

import "context"

// Caller identifies the authenticated user acting on the ledger.
type Caller struct {
	UserID int64
	Name   string
}

// Valid reports whether the caller carries a user id.
func (c Caller) Valid() bool {
	return c.UserID > 0
}

// SystemCaller is used by scheduled jobs that act without a user.
var SystemCaller = Caller{Name: "system"}

type callerContextKey struct{}

// ContextWithCaller stores the caller in context.
func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext extracts the caller from context.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerContextKey{}).(Caller)
	return caller, ok && caller.Valid()
}
