package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type beforeFunc struct {
	name string
	fn   func(ctx context.Context, op OperationContext) (BeforeResult, error)
}

func (h beforeFunc) Name() string { return h.name }
func (h beforeFunc) Before(ctx context.Context, op OperationContext) (BeforeResult, error) {
	return h.fn(ctx, op)
}

type afterFunc struct {
	name string
	fn   func(ctx context.Context, op OperationContext, result any) error
}

func (h afterFunc) Name() string { return h.name }
func (h afterFunc) After(ctx context.Context, op OperationContext, result any) error {
	return h.fn(ctx, op, result)
}

func TestExecute_HooksRunInRegistrationOrder(t *testing.T) {
	var order []string
	reg := NewStaticRegistry(
		[]BeforeHook{
			beforeFunc{"first", func(ctx context.Context, op OperationContext) (BeforeResult, error) {
				order = append(order, "before-first")
				return BeforeResult{}, nil
			}},
			beforeFunc{"second", func(ctx context.Context, op OperationContext) (BeforeResult, error) {
				order = append(order, "before-second")
				return BeforeResult{}, nil
			}},
		},
		[]AfterHook{
			afterFunc{"third", func(ctx context.Context, op OperationContext, result any) error {
				order = append(order, "after-third")
				return nil
			}},
		},
	)

	result, err := Execute(context.Background(), reg, OperationContext{Operation: OpChangePlan}, func(ctx context.Context, op OperationContext) (string, error) {
		order = append(order, "operation")
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, []string{"before-first", "before-second", "operation", "after-third"}, order)
}

func TestExecute_BeforeHookRewritesContext(t *testing.T) {
	override := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	reg := NewStaticRegistry(
		[]BeforeHook{
			beforeFunc{"rewrite", func(ctx context.Context, op OperationContext) (BeforeResult, error) {
				updated := op
				updated.EffectiveDate = &override
				return BeforeResult{Updated: &updated}, nil
			}},
		},
		nil,
	)

	seen, err := Execute(context.Background(), reg, OperationContext{Operation: OpCancel}, func(ctx context.Context, op OperationContext) (*time.Time, error) {
		return op.EffectiveDate, nil
	})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, override, *seen)
}

func TestExecute_ShortCircuitSkipsOperation(t *testing.T) {
	invoked := false
	reg := NewStaticRegistry(
		[]BeforeHook{
			beforeFunc{"short", func(ctx context.Context, op OperationContext) (BeforeResult, error) {
				return BeforeResult{ShortCircuit: true, Result: "cached"}, nil
			}},
		},
		[]AfterHook{
			afterFunc{"never", func(ctx context.Context, op OperationContext, result any) error {
				t.Fatal("after hook must not run on short-circuit")
				return nil
			}},
		},
	)

	result, err := Execute(context.Background(), reg, OperationContext{}, func(ctx context.Context, op OperationContext) (string, error) {
		invoked = true
		return "real", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", result)
	assert.False(t, invoked)
}

func TestExecute_ShortCircuitWrongTypeFails(t *testing.T) {
	reg := NewStaticRegistry(
		[]BeforeHook{
			beforeFunc{"bad", func(ctx context.Context, op OperationContext) (BeforeResult, error) {
				return BeforeResult{ShortCircuit: true, Result: 42}, nil
			}},
		},
		nil,
	)

	_, err := Execute(context.Background(), reg, OperationContext{}, func(ctx context.Context, op OperationContext) (string, error) {
		return "real", nil
	})
	var typeErr *ErrShortCircuitType
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "bad", typeErr.Hook)
}

func TestExecute_BeforeErrorPreventsOperation(t *testing.T) {
	boom := errors.New("boom")
	invoked := false
	reg := NewStaticRegistry(
		[]BeforeHook{
			beforeFunc{"fail", func(ctx context.Context, op OperationContext) (BeforeResult, error) {
				return BeforeResult{}, boom
			}},
		},
		nil,
	)

	_, err := Execute(context.Background(), reg, OperationContext{}, func(ctx context.Context, op OperationContext) (string, error) {
		invoked = true
		return "real", nil
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, invoked)
}

func TestExecute_AfterErrorReportsPostCommitWithResult(t *testing.T) {
	boom := errors.New("observer down")
	reg := NewStaticRegistry(
		nil,
		[]AfterHook{
			afterFunc{"observer", func(ctx context.Context, op OperationContext, result any) error {
				return boom
			}},
			afterFunc{"never", func(ctx context.Context, op OperationContext, result any) error {
				t.Fatal("remaining after hooks must not run once one fails")
				return nil
			}},
		},
	)

	result, err := Execute(context.Background(), reg, OperationContext{}, func(ctx context.Context, op OperationContext) (string, error) {
		return "committed", nil
	})

	var postCommit *PostCommitHookError
	require.ErrorAs(t, err, &postCommit)
	assert.Equal(t, "observer", postCommit.Hook)
	assert.ErrorIs(t, err, boom)
	// The committed result still reaches the caller.
	assert.Equal(t, "committed", result)
}

func TestExecute_NilRegistryRunsOperation(t *testing.T) {
	result, err := Execute[int](context.Background(), nil, OperationContext{}, func(ctx context.Context, op OperationContext) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, result)
}
