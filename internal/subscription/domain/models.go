// Package domain contains persistence models for bundles and subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionState represents lifecycle states for a subscription.
type SubscriptionState string

const (
	SubscriptionStatePending   SubscriptionState = "PENDING"
	SubscriptionStateActive    SubscriptionState = "ACTIVE"
	SubscriptionStateCancelled SubscriptionState = "CANCELLED"
)

// ProductCategory distinguishes the base subscription from its add-ons.
type ProductCategory string

const (
	CategoryBase  ProductCategory = "BASE"
	CategoryAddOn ProductCategory = "ADD_ON"
)

// BillingActionPolicy governs when a cancellation's billing effect lands.
type BillingActionPolicy string

const (
	PolicyImmediate BillingActionPolicy = "IMMEDIATE"
	PolicyEndOfTerm BillingActionPolicy = "END_OF_TERM"
)

// Bundle groups one base subscription and its add-ons under one account.
// ExternalKey uniqueness is enforced among active bundles only, so there
// is no database unique index on it.
type Bundle struct {
	ID                   snowflake.ID  `gorm:"primaryKey"`
	AccountID            snowflake.ID  `gorm:"not null;index"`
	ExternalKey          string        `gorm:"type:text;not null;index"`
	OriginatingAccountID *snowflake.ID `gorm:""`
	CreatedAt            time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Bundle) TableName() string { return "bundles" }

// Subscription is one purchased plan under a bundle.
type Subscription struct {
	ID                 snowflake.ID      `gorm:"primaryKey"`
	BundleID           snowflake.ID      `gorm:"not null;index"`
	AccountID          snowflake.ID      `gorm:"not null;index"`
	Category           ProductCategory   `gorm:"type:text;not null"`
	State              SubscriptionState `gorm:"type:text;not null"`
	PlanName           string            `gorm:"type:text;not null"`
	PhaseName          string            `gorm:"type:text"`
	PriceList          string            `gorm:"type:text"`
	StartDate          time.Time         `gorm:"not null"`
	ChargedThroughDate *time.Time        `gorm:""`
	EffectiveEndDate   *time.Time        `gorm:""`
	RequestedEndDate   *time.Time        `gorm:""`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// PlanSpecifier selects a plan/phase/price-list from the catalog.
type PlanSpecifier struct {
	ProductCategory ProductCategory `json:"product_category"`
	PlanName        string          `json:"plan_name"`
	PhaseName       string          `json:"phase_name,omitempty"`
	PriceList       string          `json:"price_list,omitempty"`
}

// PriceOverride replaces a phase's catalog price at creation time.
type PriceOverride struct {
	PhaseName string  `json:"phase_name"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
}

// Specifier pairs a plan selector with optional price overrides. It is a
// request-time value and is never persisted as-is.
type Specifier struct {
	Plan      PlanSpecifier   `json:"plan"`
	Overrides []PriceOverride `json:"overrides,omitempty"`
}
