package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertBundle(ctx context.Context, db *gorm.DB, bundle *Bundle) error
	FindBundleByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Bundle, error)
	FindBundlesByAccountID(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]Bundle, error)

	InsertSubscription(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindSubscriptionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	// FindSubscriptionByIDForUpdate takes a row lock so concurrent
	// mutations on the same subscription serialize at the store.
	FindSubscriptionByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindSubscriptionsForBundle(ctx context.Context, db *gorm.DB, bundleID snowflake.ID) ([]Subscription, error)
	FindSubscriptionsByAccountID(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]Subscription, error)
	FindBaseSubscription(ctx context.Context, db *gorm.DB, bundleID snowflake.ID) (*Subscription, error)
	// FindFirstActiveSubscriptionIDForKey returns the id of the active base
	// subscription whose bundle carries the external key, or 0 when none.
	FindFirstActiveSubscriptionIDForKey(ctx context.Context, db *gorm.DB, accountID snowflake.ID, externalKey string) (snowflake.ID, error)
	UpdateSubscription(ctx context.Context, db *gorm.DB, subscription *Subscription) error
}
