package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	blockingdomain "github.com/smallbiznis/entitle/internal/blocking/domain"
	subscriptiondomain "github.com/smallbiznis/entitle/internal/subscription/domain"
)

type CreateRequest struct {
	AccountID   snowflake.ID                 `json:"account_id,string"`
	ExternalKey string                       `json:"external_key"`
	Specifier   subscriptiondomain.Specifier `json:"specifier"`
	// EffectiveDate is a calendar date in the account's zone; nil means now.
	EffectiveDate *LocalDate `json:"effective_date,omitempty"`
}

type CreateWithAddOnsRequest struct {
	AccountID     snowflake.ID                   `json:"account_id,string"`
	ExternalKey   string                         `json:"external_key"`
	Specifiers    []subscriptiondomain.Specifier `json:"specifiers"`
	EffectiveDate *LocalDate                     `json:"effective_date,omitempty"`
}

type AddEntitlementRequest struct {
	BundleID      snowflake.ID                 `json:"bundle_id,string"`
	Specifier     subscriptiondomain.Specifier `json:"specifier"`
	EffectiveDate *LocalDate                   `json:"effective_date,omitempty"`
}

type ChangePlanRequest struct {
	SubscriptionID snowflake.ID                       `json:"subscription_id,string"`
	Plan           subscriptiondomain.PlanSpecifier   `json:"plan"`
	Overrides      []subscriptiondomain.PriceOverride `json:"overrides,omitempty"`
	EffectiveDate  *LocalDate                         `json:"effective_date,omitempty"`
}

type CancelRequest struct {
	SubscriptionID snowflake.ID `json:"subscription_id,string"`
	EffectiveDate  *LocalDate   `json:"effective_date,omitempty"`
}

type TransferRequest struct {
	SourceAccountID snowflake.ID `json:"source_account_id,string"`
	DestAccountID   snowflake.ID `json:"dest_account_id,string"`
	ExternalKey     string       `json:"external_key"`
	EffectiveDate   *LocalDate   `json:"effective_date,omitempty"`
}

type SetBlockingStateRequest struct {
	BlockableID   snowflake.ID                 `json:"blockable_id,string"`
	BlockableType blockingdomain.BlockableType `json:"blockable_type"`
	Service       string                       `json:"service"`
	StateName     string                       `json:"state_name"`

	BlockChange      bool `json:"block_change"`
	BlockEntitlement bool `json:"block_entitlement"`
	BlockBilling     bool `json:"block_billing"`

	EffectiveDate *LocalDate `json:"effective_date,omitempty"`
}

// TransferResult carries the destination bundle plus the per-subscription
// blocking-state outcome. BlockingErr is non-nil when some cancellation
// directives could not be appended after the transfer committed; there is
// no automatic reversal, so callers must surface it.
type TransferResult struct {
	BundleID    snowflake.ID `json:"bundle_id,string"`
	BlockingErr error        `json:"-"`
}

// Service is the entitlement engine. Every mutating operation resolves its
// effective date in the account's zone, authorizes against the blocking
// hierarchy, and runs inside the plugin hook chain.
type Service interface {
	CreateBaseEntitlement(ctx context.Context, req CreateRequest) (Entitlement, error)
	CreateBaseEntitlementWithAddOns(ctx context.Context, req CreateWithAddOnsRequest) ([]Entitlement, error)
	AddEntitlement(ctx context.Context, req AddEntitlementRequest) (Entitlement, error)

	ChangePlan(ctx context.Context, req ChangePlanRequest) (Entitlement, error)
	ChangePlanOverrideBillingPolicy(ctx context.Context, req ChangePlanRequest, policy subscriptiondomain.BillingActionPolicy) (Entitlement, error)

	CancelWithDate(ctx context.Context, req CancelRequest) (Entitlement, error)
	CancelWithPolicy(ctx context.Context, subscriptionID snowflake.ID, policy subscriptiondomain.BillingActionPolicy) (Entitlement, error)
	CancelWithDateOverrideBillingPolicy(ctx context.Context, req CancelRequest, policy subscriptiondomain.BillingActionPolicy) (Entitlement, error)

	Pause(ctx context.Context, bundleID snowflake.ID, effectiveDate *LocalDate) error
	Resume(ctx context.Context, bundleID snowflake.ID, effectiveDate *LocalDate) error

	SetBlockingState(ctx context.Context, req SetBlockingStateRequest) (blockingdomain.BlockingState, error)
	GetBlockingStates(ctx context.Context, blockableID snowflake.ID, blockableType blockingdomain.BlockableType, service string) ([]blockingdomain.BlockingState, error)

	TransferEntitlements(ctx context.Context, req TransferRequest) (TransferResult, error)
	TransferEntitlementsOverrideBillingPolicy(ctx context.Context, req TransferRequest, policy subscriptiondomain.BillingActionPolicy) (TransferResult, error)

	GetDryRunStatusForChange(ctx context.Context, bundleID snowflake.ID, targetPlan string, effectiveDate *LocalDate) ([]subscriptiondomain.AddOnDryRunStatus, error)

	GetEntitlementForID(ctx context.Context, id snowflake.ID) (Entitlement, error)
	GetAllEntitlementsForBundle(ctx context.Context, bundleID snowflake.ID) ([]Entitlement, error)
	GetAllEntitlementsForAccountID(ctx context.Context, accountID snowflake.ID) ([]Entitlement, error)
	GetAllEntitlementsForAccountIDAndExternalKey(ctx context.Context, accountID snowflake.ID, externalKey string) ([]Entitlement, error)
}

var (
	ErrInvalidLocalDate         = errors.New("invalid_local_date")
	ErrMissingBaseSpecifier     = errors.New("missing_base_specifier")
	ErrDuplicateBundleKey       = errors.New("duplicate_active_bundle_key")
	ErrInvalidBundleKey         = errors.New("invalid_bundle_key")
	ErrNoActiveBaseSubscription = errors.New("no_active_base_subscription")
	ErrEntitlementNotFound      = errors.New("entitlement_not_found")
)
