// Package plugin implements the hook chain wrapped around every mutating
// entitlement operation.
package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

// OperationType names the wrapped operation for hooks that dispatch on it.
type OperationType string

const (
	OpCreateBaseEntitlement OperationType = "CREATE_BASE_ENTITLEMENT"
	OpCreateWithAddOns      OperationType = "CREATE_BASE_ENTITLEMENT_WITH_ADD_ONS"
	OpAddEntitlement        OperationType = "ADD_ENTITLEMENT"
	OpChangePlan            OperationType = "CHANGE_PLAN"
	OpCancel                OperationType = "CANCEL"
	OpPause                 OperationType = "PAUSE"
	OpResume                OperationType = "RESUME"
	OpTransfer              OperationType = "TRANSFER"
	OpSetBlockingState      OperationType = "SET_BLOCKING_STATE"
)

// OperationContext is the immutable request context handed to hooks. A
// before-hook that wants different parameters returns a fresh copy; the
// engine never shares one mutable context across hooks.
type OperationContext struct {
	Operation      OperationType
	AccountID      snowflake.ID
	BundleID       snowflake.ID
	SubscriptionID snowflake.ID
	ExternalKey    string
	// EffectiveDate, when set by a hook, overrides the caller's requested
	// date before resolution.
	EffectiveDate *time.Time
	Properties    map[string]string
}

// BeforeResult is one before-hook's verdict.
type BeforeResult struct {
	// Updated replaces the context for the rest of the chain; nil passes
	// the current context through unchanged.
	Updated *OperationContext
	// ShortCircuit ends the chain and skips the wrapped operation. Result
	// must then hold the value the caller receives.
	ShortCircuit bool
	Result       any
}

type BeforeHook interface {
	Name() string
	Before(ctx context.Context, op OperationContext) (BeforeResult, error)
}

type AfterHook interface {
	Name() string
	// After observes the committed result. It cannot alter it.
	After(ctx context.Context, op OperationContext, result any) error
}

// PostCommitHookError reports an after-hook failure. The wrapped operation
// has already committed; callers get the result alongside this error.
type PostCommitHookError struct {
	Hook string
	Err  error
}

func (e *PostCommitHookError) Error() string {
	return fmt.Sprintf("post-commit hook %q failed: %v", e.Hook, e.Err)
}

func (e *PostCommitHookError) Unwrap() error { return e.Err }

// ErrShortCircuitType reports a before-hook short-circuiting with a value
// of the wrong type for the wrapped operation.
type ErrShortCircuitType struct {
	Hook string
}

func (e *ErrShortCircuitType) Error() string {
	return fmt.Sprintf("hook %q short-circuited with an incompatible result type", e.Hook)
}

// Registry holds hooks in registration order.
type Registry struct {
	before []BeforeHook
	after  []AfterHook
}

type RegistryParam struct {
	fx.In

	Before []BeforeHook `group:"entitlement.hooks.before"`
	After  []AfterHook  `group:"entitlement.hooks.after"`
}

func NewRegistry(p RegistryParam) *Registry {
	return &Registry{before: p.Before, after: p.After}
}

// NewStaticRegistry builds a registry outside the fx graph, for tests and
// embedded use.
func NewStaticRegistry(before []BeforeHook, after []AfterHook) *Registry {
	return &Registry{before: before, after: after}
}

// Execute runs fn inside the hook chain. Before-hooks run in registration
// order and may rewrite the context or short-circuit; a before-hook error
// prevents fn from running. After-hooks run once fn has returned
// successfully; an after-hook error is wrapped in PostCommitHookError and
// returned together with fn's committed result.
func Execute[T any](ctx context.Context, reg *Registry, op OperationContext, fn func(context.Context, OperationContext) (T, error)) (T, error) {
	var zero T

	if reg != nil {
		for _, hook := range reg.before {
			verdict, err := hook.Before(ctx, op)
			if err != nil {
				return zero, fmt.Errorf("before hook %q: %w", hook.Name(), err)
			}
			if verdict.ShortCircuit {
				result, ok := verdict.Result.(T)
				if !ok {
					if verdict.Result == nil {
						return zero, nil
					}
					return zero, &ErrShortCircuitType{Hook: hook.Name()}
				}
				return result, nil
			}
			if verdict.Updated != nil {
				op = *verdict.Updated
			}
		}
	}

	result, err := fn(ctx, op)
	if err != nil {
		return zero, err
	}

	if reg != nil {
		for _, hook := range reg.after {
			if err := hook.After(ctx, op, result); err != nil {
				return result, &PostCommitHookError{Hook: hook.Name(), Err: err}
			}
		}
	}
	return result, nil
}
