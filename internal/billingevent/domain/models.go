package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventType names one entitlement lifecycle transition.
type EventType string

const (
	EventEntitlementCreated     EventType = "ENTITLEMENT_CREATED"
	EventEntitlementChanged     EventType = "ENTITLEMENT_CHANGED"
	EventEntitlementCancelled   EventType = "ENTITLEMENT_CANCELLED"
	EventEntitlementPaused      EventType = "ENTITLEMENT_PAUSED"
	EventEntitlementResumed     EventType = "ENTITLEMENT_RESUMED"
	EventEntitlementTransferred EventType = "ENTITLEMENT_TRANSFERRED"
	EventBlockingStateSet       EventType = "BLOCKING_STATE_SET"
)

// EntitlementEvent is one outbox row. Rows are written alongside the
// mutation and drained by a background publisher; delivery is at-least-once
// and consumers dedupe on DedupeKey.
type EntitlementEvent struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id,string"`
	EventType      EventType         `gorm:"index;not null" json:"event_type"`
	AccountID      snowflake.ID      `gorm:"index" json:"account_id,string"`
	BundleID       snowflake.ID      `json:"bundle_id,string"`
	SubscriptionID snowflake.ID      `json:"subscription_id,string"`
	DedupeKey      string            `gorm:"uniqueIndex;not null" json:"dedupe_key"`
	EffectiveDate  time.Time         `json:"effective_date"`
	Payload        datatypes.JSONMap `gorm:"type:jsonb" json:"payload,omitempty"`
	PublishedAt    *time.Time        `gorm:"index" json:"published_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

func (EntitlementEvent) TableName() string {
	return "entitlement_events"
}
