package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/entitle/internal/clock"
	"github.com/smallbiznis/entitle/internal/subscription/domain"
	"github.com/smallbiznis/entitle/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newStore(t *testing.T, clk clock.Clock) domain.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Bundle{}, &domain.Subscription{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewStore(StoreParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
}

func basePlan() domain.Specifier {
	return domain.Specifier{Plan: domain.PlanSpecifier{
		ProductCategory: domain.CategoryBase,
		PlanName:        "gold-monthly",
		PhaseName:       "gold-monthly-evergreen",
	}}
}

func addOnPlan(name string) domain.Specifier {
	return domain.Specifier{Plan: domain.PlanSpecifier{
		ProductCategory: domain.CategoryAddOn,
		PlanName:        name,
	}}
}

func TestCreateSubscription_StateFollowsRequestedDate(t *testing.T) {
	now := time.Date(2024, time.April, 1, 10, 0, 0, 0, time.UTC)
	store := newStore(t, clock.NewFakeClock(now))
	ctx := context.Background()

	bundle, err := store.CreateBundle(ctx, 100, "key-a")
	require.NoError(t, err)

	active, err := store.CreateSubscription(ctx, bundle.ID, basePlan(), now)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStateActive, active.State)
	require.NotNil(t, active.ChargedThroughDate)
	assert.Equal(t, now.AddDate(0, 1, 0), *active.ChargedThroughDate)

	pending, err := store.CreateSubscription(ctx, bundle.ID, addOnPlan("support"), now.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatePending, pending.State)
}

func TestCreateBaseWithAddOns_RequiresBase(t *testing.T) {
	now := time.Date(2024, time.April, 1, 10, 0, 0, 0, time.UTC)
	store := newStore(t, clock.NewFakeClock(now))
	ctx := context.Background()

	bundle, err := store.CreateBundle(ctx, 100, "key-b")
	require.NoError(t, err)

	_, err = store.CreateBaseWithAddOns(ctx, bundle.ID, []domain.Specifier{addOnPlan("support")}, now)
	assert.ErrorIs(t, err, domain.ErrNoBaseSubscription)

	base, err := store.CreateBaseWithAddOns(ctx, bundle.ID, []domain.Specifier{basePlan(), addOnPlan("support")}, now)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryBase, base.Category)

	subscriptions, err := store.GetSubscriptionsForBundle(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Len(t, subscriptions, 2) // the add-on-only batch rolled back
}

func TestCancel_EndOfTermUsesChargedThroughDate(t *testing.T) {
	now := time.Date(2024, time.April, 1, 10, 0, 0, 0, time.UTC)
	store := newStore(t, clock.NewFakeClock(now))
	ctx := context.Background()

	bundle, err := store.CreateBundle(ctx, 100, "key-c")
	require.NoError(t, err)
	subscription, err := store.CreateSubscription(ctx, bundle.ID, basePlan(), now)
	require.NoError(t, err)

	cancelled, err := store.Cancel(ctx, domain.CancelRequest{
		SubscriptionID: subscription.ID,
		RequestedDate:  now,
		Policy:         domain.PolicyEndOfTerm,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStateCancelled, cancelled.State)
	require.NotNil(t, cancelled.EffectiveEndDate)
	assert.Equal(t, now.AddDate(0, 1, 0), *cancelled.EffectiveEndDate)

	// A second cancel is refused.
	_, err = store.Cancel(ctx, domain.CancelRequest{
		SubscriptionID: subscription.ID,
		RequestedDate:  now,
		Policy:         domain.PolicyImmediate,
	})
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotActive)
}

func TestCancel_EffectiveEndNeverBeforeStart(t *testing.T) {
	now := time.Date(2024, time.April, 1, 10, 0, 0, 0, time.UTC)
	store := newStore(t, clock.NewFakeClock(now))
	ctx := context.Background()

	bundle, err := store.CreateBundle(ctx, 100, "key-d")
	require.NoError(t, err)
	subscription, err := store.CreateSubscription(ctx, bundle.ID, basePlan(), now)
	require.NoError(t, err)

	cancelled, err := store.Cancel(ctx, domain.CancelRequest{
		SubscriptionID: subscription.ID,
		RequestedDate:  now.Add(-72 * time.Hour),
		Policy:         domain.PolicyImmediate,
	})
	require.NoError(t, err)
	require.NotNil(t, cancelled.EffectiveEndDate)
	assert.Equal(t, subscription.StartDate, *cancelled.EffectiveEndDate)
}

func TestChangePlan_RequiresActiveSubscription(t *testing.T) {
	now := time.Date(2024, time.April, 1, 10, 0, 0, 0, time.UTC)
	store := newStore(t, clock.NewFakeClock(now))
	ctx := context.Background()

	bundle, err := store.CreateBundle(ctx, 100, "key-e")
	require.NoError(t, err)
	subscription, err := store.CreateSubscription(ctx, bundle.ID, basePlan(), now)
	require.NoError(t, err)

	_, err = store.Cancel(ctx, domain.CancelRequest{
		SubscriptionID: subscription.ID,
		RequestedDate:  now,
		Policy:         domain.PolicyImmediate,
	})
	require.NoError(t, err)

	_, err = store.ChangePlan(ctx, domain.ChangePlanRequest{
		SubscriptionID: subscription.ID,
		Plan:           domain.PlanSpecifier{PlanName: "silver-monthly"},
		RequestedDate:  now,
	})
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotActive)
}

func TestGetFirstActiveSubscriptionIDForKey(t *testing.T) {
	now := time.Date(2024, time.April, 1, 10, 0, 0, 0, time.UTC)
	store := newStore(t, clock.NewFakeClock(now))
	ctx := context.Background()

	id, err := store.GetFirstActiveSubscriptionIDForKey(ctx, 100, "missing")
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(0), id)

	bundle, err := store.CreateBundle(ctx, 100, "key-f")
	require.NoError(t, err)
	base, err := store.CreateSubscription(ctx, bundle.ID, basePlan(), now)
	require.NoError(t, err)

	id, err = store.GetFirstActiveSubscriptionIDForKey(ctx, 100, "key-f")
	require.NoError(t, err)
	assert.Equal(t, base.ID, id)

	// Another account does not see the key.
	id, err = store.GetFirstActiveSubscriptionIDForKey(ctx, 200, "key-f")
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(0), id)
}

func TestTransferBundle_CopiesAndCancels(t *testing.T) {
	now := time.Date(2024, time.April, 1, 10, 0, 0, 0, time.UTC)
	store := newStore(t, clock.NewFakeClock(now))
	ctx := context.Background()

	bundle, err := store.CreateBundle(ctx, 100, "key-g")
	require.NoError(t, err)
	_, err = store.CreateBaseWithAddOns(ctx, bundle.ID, []domain.Specifier{basePlan(), addOnPlan("support")}, now)
	require.NoError(t, err)

	newBundle, err := store.TransferBundle(ctx, domain.TransferBundleRequest{
		SourceAccountID:   100,
		DestAccountID:     200,
		ExternalKey:       "key-g",
		RequestedDate:     now,
		CancelImmediately: true,
	})
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(200), newBundle.AccountID)
	assert.Equal(t, "key-g", newBundle.ExternalKey)
	require.NotNil(t, newBundle.OriginatingAccountID)
	assert.Equal(t, snowflake.ID(100), *newBundle.OriginatingAccountID)

	copied, err := store.GetSubscriptionsForBundle(ctx, newBundle.ID)
	require.NoError(t, err)
	require.Len(t, copied, 2)
	for _, subscription := range copied {
		assert.Equal(t, domain.SubscriptionStateActive, subscription.State)
		assert.Equal(t, snowflake.ID(200), subscription.AccountID)
	}

	source, err := store.GetSubscriptionsForBundle(ctx, bundle.ID)
	require.NoError(t, err)
	require.Len(t, source, 2)
	for _, subscription := range source {
		assert.Equal(t, domain.SubscriptionStateCancelled, subscription.State)
	}

	// The key now resolves to the destination account only.
	id, err := store.GetFirstActiveSubscriptionIDForKey(ctx, 100, "key-g")
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(0), id)
	id, err = store.GetFirstActiveSubscriptionIDForKey(ctx, 200, "key-g")
	require.NoError(t, err)
	assert.NotEqual(t, snowflake.ID(0), id)
}

func TestTransferBundle_UnknownKeyFails(t *testing.T) {
	now := time.Date(2024, time.April, 1, 10, 0, 0, 0, time.UTC)
	store := newStore(t, clock.NewFakeClock(now))

	_, err := store.TransferBundle(context.Background(), domain.TransferBundleRequest{
		SourceAccountID: 100,
		DestAccountID:   200,
		ExternalKey:     "nope",
		RequestedDate:   now,
	})
	assert.ErrorIs(t, err, domain.ErrBundleNotFound)
}
