package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// BlockableType names the level a blocking state attaches to.
type BlockableType string

const (
	BlockableAccount      BlockableType = "ACCOUNT"
	BlockableBundle       BlockableType = "BUNDLE"
	BlockableSubscription BlockableType = "SUBSCRIPTION"
)

// Well-known entitlement states written by the engine itself. Plugins and
// external services record their own state names under their own service.
const (
	ServiceEntitlement = "entitlement-service"

	StateBlocked   = "ENT_BLOCKED"
	StateClear     = "ENT_CLEAR"
	StateCancelled = "ENT_CANCELLED"
)

// BlockingState is one append-only journal row. Rows are never updated or
// deleted; the effective state of a blockable is derived by replaying its
// rows in (effective_date, id) order.
type BlockingState struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id,string"`
	BlockableID   snowflake.ID  `gorm:"index:idx_blocking_target" json:"blockable_id,string"`
	BlockableType BlockableType `gorm:"index:idx_blocking_target" json:"blockable_type"`
	Service       string        `gorm:"index" json:"service"`
	StateName     string        `json:"state_name"`

	BlockChange      bool `json:"block_change"`
	BlockEntitlement bool `json:"block_entitlement"`
	BlockBilling     bool `json:"block_billing"`

	EffectiveDate time.Time `gorm:"index" json:"effective_date"`
	CreatedAt     time.Time `json:"created_at"`
}

func (BlockingState) TableName() string {
	return "blocking_states"
}

// IsBlockedEntitlement reports whether this row, taken as the current state,
// forbids entitlement-level operations.
func (b BlockingState) IsBlockedEntitlement() bool {
	return b.BlockEntitlement
}

func (b BlockingState) IsBlockedBilling() bool {
	return b.BlockBilling
}

func (b BlockingState) IsBlockedChange() bool {
	return b.BlockChange
}
