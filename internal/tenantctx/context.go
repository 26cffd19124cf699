// Package tenantctx threads the caller identity and the resolved account
// scope through a single operation's execution. Every collaborator call is
// scoped by the account record id stored here.
package tenantctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Caller identifies who triggered an operation.
type Caller struct {
	TenantID snowflake.ID
	User     string
	Reason   string
	Comment  string
}

type callerKey struct{}

// AccountKey is the request context key for the resolved account record id.
type AccountKey struct{}

// WithCaller stores the caller identity in the context.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller identity, if set.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	caller, ok := ctx.Value(callerKey{}).(Caller)
	return caller, ok
}

// WithAccountID stores the resolved account record id in the context.
func WithAccountID(ctx context.Context, accountID snowflake.ID) context.Context {
	return context.WithValue(ctx, AccountKey{}, accountID)
}

// AccountIDFromContext returns the account record id from context, if set.
func AccountIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	switch typed := ctx.Value(AccountKey{}).(type) {
	case snowflake.ID:
		return typed, true
	case int64:
		return snowflake.ID(typed), true
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}
