package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type ChangePlanRequest struct {
	SubscriptionID snowflake.ID
	Plan           PlanSpecifier
	Overrides      []PriceOverride
	RequestedDate  time.Time
	// Policy, when set, overrides the catalog-derived billing action.
	Policy *BillingActionPolicy
}

type CancelRequest struct {
	SubscriptionID snowflake.ID
	RequestedDate  time.Time
	Policy         BillingActionPolicy
	// RequestedEndDate records the caller's nominal request before clamping.
	RequestedEndDate *time.Time
}

type TransferBundleRequest struct {
	SourceAccountID   snowflake.ID
	DestAccountID     snowflake.ID
	ExternalKey       string
	RequestedDate     time.Time
	CancelImmediately bool
}

// AddOnDryRunStatus reports what would happen to one add-on if the base
// plan changed.
type AddOnDryRunStatus struct {
	SubscriptionID snowflake.ID `json:"subscription_id"`
	PlanName       string       `json:"plan_name"`
	Reason         string       `json:"reason"`
}

// Store is the subscription-base collaborator consumed by the entitlement
// engine. Every mutation is transactional and serialized per subscription.
type Store interface {
	CreateBundle(ctx context.Context, accountID snowflake.ID, externalKey string) (Bundle, error)
	CreateSubscription(ctx context.Context, bundleID snowflake.ID, spec Specifier, requestedDate time.Time) (Subscription, error)
	CreateBaseWithAddOns(ctx context.Context, bundleID snowflake.ID, specs []Specifier, requestedDate time.Time) (Subscription, error)
	ChangePlan(ctx context.Context, req ChangePlanRequest) (Subscription, error)
	Cancel(ctx context.Context, req CancelRequest) (Subscription, error)
	GetSubscriptionFromID(ctx context.Context, id snowflake.ID) (Subscription, error)
	GetBaseSubscription(ctx context.Context, bundleID snowflake.ID) (Subscription, error)
	GetSubscriptionsForBundle(ctx context.Context, bundleID snowflake.ID) ([]Subscription, error)
	GetSubscriptionsForAccount(ctx context.Context, accountID snowflake.ID) ([]Subscription, error)
	GetBundleFromID(ctx context.Context, id snowflake.ID) (Bundle, error)
	GetFirstActiveSubscriptionIDForKey(ctx context.Context, accountID snowflake.ID, externalKey string) (snowflake.ID, error)
	TransferBundle(ctx context.Context, req TransferBundleRequest) (Bundle, error)
	DryRunChangePlan(ctx context.Context, bundleID snowflake.ID, targetPlan string, requestedDate time.Time) ([]AddOnDryRunStatus, error)
}

var (
	ErrBundleNotFound        = errors.New("bundle_not_found")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrSubscriptionNotActive = errors.New("subscription_not_active")
	ErrNoBaseSubscription    = errors.New("no_base_subscription")
	ErrInvalidPlanName       = errors.New("invalid_plan_name")
	ErrInvalidPolicy         = errors.New("invalid_billing_policy")
)
