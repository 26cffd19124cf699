package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

var ErrInvalidBlockingState = errors.New("invalid_blocking_state")

// BlockingAction is the operation class a check guards.
type BlockingAction string

const (
	ActionChange      BlockingAction = "CHANGE"
	ActionEntitlement BlockingAction = "ENTITLEMENT"
	ActionBilling     BlockingAction = "BILLING"
)

// Target carries the full blockable hierarchy for one subscription. A check
// walks account, then bundle, then subscription, and blocks if ANY level
// blocks.
type Target struct {
	AccountID      snowflake.ID
	BundleID       snowflake.ID
	SubscriptionID snowflake.ID
}

// BlockedActionError identifies the first level found blocking the action.
type BlockedActionError struct {
	Action        BlockingAction
	BlockableType BlockableType
	BlockableID   snowflake.ID
	Service       string
	StateName     string
}

func (e *BlockedActionError) Error() string {
	return fmt.Sprintf("operation blocked: action=%s level=%s id=%d service=%s state=%s",
		e.Action, e.BlockableType, e.BlockableID, e.Service, e.StateName)
}

// Checker evaluates the effective blocking state of a hierarchy at a point
// in time.
type Checker interface {
	CheckBlockedChange(ctx context.Context, target Target, asOf time.Time) error
	CheckBlockedEntitlement(ctx context.Context, target Target, asOf time.Time) error
	CheckBlockedBilling(ctx context.Context, target Target, asOf time.Time) error
	// IsEntitlementBlocked reports the aggregate flag without producing an
	// error, for deriving display state.
	IsEntitlementBlocked(ctx context.Context, target Target, asOf time.Time) (bool, error)
	// CurrentState returns the latest effective row one service wrote for
	// one blockable, or nil when the service never wrote any.
	CurrentState(ctx context.Context, blockableID snowflake.ID, blockableType BlockableType, service string, asOf time.Time) (*BlockingState, error)
}

// Writer appends blocking states. It is separate from Checker so read-side
// consumers do not see the mutation surface.
type Writer interface {
	Block(ctx context.Context, state BlockingState) (BlockingState, error)
	StatesForBlockable(ctx context.Context, blockableID snowflake.ID, blockableType BlockableType) ([]BlockingState, error)
	StatesForService(ctx context.Context, blockableID snowflake.ID, blockableType BlockableType, service string) ([]BlockingState, error)
}
