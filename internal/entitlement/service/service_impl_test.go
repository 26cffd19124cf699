package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/smallbiznis/entitle/internal/account/domain"
	accountrepository "github.com/smallbiznis/entitle/internal/account/repository"
	accountservice "github.com/smallbiznis/entitle/internal/account/service"
	billingeventdomain "github.com/smallbiznis/entitle/internal/billingevent/domain"
	blockingdomain "github.com/smallbiznis/entitle/internal/blocking/domain"
	blockingrepository "github.com/smallbiznis/entitle/internal/blocking/repository"
	blockingservice "github.com/smallbiznis/entitle/internal/blocking/service"
	"github.com/smallbiznis/entitle/internal/clock"
	"github.com/smallbiznis/entitle/internal/config"
	"github.com/smallbiznis/entitle/internal/entitlement/domain"
	"github.com/smallbiznis/entitle/internal/entitlement/plugin"
	subscriptiondomain "github.com/smallbiznis/entitle/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/entitle/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/entitle/internal/subscription/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// eventRecorder captures published lifecycle events in order.
type eventRecorder struct {
	events []billingeventdomain.EntitlementEvent
}

func (r *eventRecorder) Publish(ctx context.Context, event billingeventdomain.EntitlementEvent) {
	r.events = append(r.events, event)
}

func (r *eventRecorder) ofType(eventType billingeventdomain.EventType) []billingeventdomain.EntitlementEvent {
	var out []billingeventdomain.EntitlementEvent
	for _, event := range r.events {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

type testEnv struct {
	svc      domain.Service
	store    subscriptiondomain.Store
	blocking *blockingservice.Service
	accounts accountdomain.Service
	events   *eventRecorder
	clk      *clock.FakeClock
}

func newTestEnv(t *testing.T, registry *plugin.Registry) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&accountdomain.Account{},
		&subscriptiondomain.Bundle{},
		&subscriptiondomain.Subscription{},
		&blockingdomain.BlockingState{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2024, time.April, 1, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	accounts := accountservice.NewService(accountservice.ServiceParam{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  accountrepository.Provide(),
	})
	store := subscriptionservice.NewStore(subscriptionservice.StoreParam{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  subscriptionrepository.Provide(),
	})
	blocking := blockingservice.New(blockingservice.ServiceParam{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  blockingrepository.Provide(),
	})

	events := &eventRecorder{}
	svc := New(ServiceParam{
		Log:      log,
		Store:    store,
		Accounts: accounts,
		Checker:  blockingservice.NewChecker(blocking),
		Writer:   blockingservice.NewWriter(blocking),
		Events:   events,
		Clock:    clk,
		Holder:   config.NewStaticEntitlementConfigHolder(config.DefaultEntitlementConfig()),
		Plugins:  registry,
	})

	return &testEnv{
		svc:      svc,
		store:    store,
		blocking: blocking,
		accounts: accounts,
		events:   events,
		clk:      clk,
	}
}

func (e *testEnv) newAccount(t *testing.T, externalKey string) accountdomain.Account {
	t.Helper()
	account, err := e.accounts.Create(context.Background(), accountdomain.CreateAccountRequest{
		ExternalKey: externalKey,
		Name:        externalKey,
		TimeZone:    "UTC",
	})
	require.NoError(t, err)
	return account
}

func (e *testEnv) createBase(t *testing.T, accountID snowflake.ID, externalKey string) domain.Entitlement {
	t.Helper()
	entitlement, err := e.svc.CreateBaseEntitlement(context.Background(), domain.CreateRequest{
		AccountID:   accountID,
		ExternalKey: externalKey,
		Specifier: subscriptiondomain.Specifier{Plan: subscriptiondomain.PlanSpecifier{
			ProductCategory: subscriptiondomain.CategoryBase,
			PlanName:        "gold-monthly",
		}},
	})
	require.NoError(t, err)
	return entitlement
}

func TestCreateBaseEntitlement_DuplicateActiveKeyRefused(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	account := env.newAccount(t, "acct-1")

	first := env.createBase(t, account.ID, "bundle-key")
	assert.Equal(t, domain.StateActive, first.State)
	assert.Equal(t, "bundle-key", first.ExternalKey)

	_, err := env.svc.CreateBaseEntitlement(ctx, domain.CreateRequest{
		AccountID:   account.ID,
		ExternalKey: "bundle-key",
		Specifier: subscriptiondomain.Specifier{Plan: subscriptiondomain.PlanSpecifier{
			ProductCategory: subscriptiondomain.CategoryBase,
			PlanName:        "silver-monthly",
		}},
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateBundleKey)

	// Once the active entitlement is cancelled the key is free again.
	_, err = env.svc.CancelWithPolicy(ctx, first.SubscriptionID, subscriptiondomain.PolicyImmediate)
	require.NoError(t, err)

	second := env.createBase(t, account.ID, "bundle-key")
	assert.NotEqual(t, first.BundleID, second.BundleID)
}

func TestCreateBaseEntitlement_RequiresBaseSpecifier(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.newAccount(t, "acct-1")

	_, err := env.svc.CreateBaseEntitlementWithAddOns(context.Background(), domain.CreateWithAddOnsRequest{
		AccountID: account.ID,
		Specifiers: []subscriptiondomain.Specifier{
			{Plan: subscriptiondomain.PlanSpecifier{ProductCategory: subscriptiondomain.CategoryAddOn, PlanName: "support"}},
		},
	})
	assert.ErrorIs(t, err, domain.ErrMissingBaseSpecifier)
}

func TestAddEntitlement_RequiresActiveBase(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	account := env.newAccount(t, "acct-1")
	base := env.createBase(t, account.ID, "bundle-key")

	addOn, err := env.svc.AddEntitlement(ctx, domain.AddEntitlementRequest{
		BundleID: base.BundleID,
		Specifier: subscriptiondomain.Specifier{Plan: subscriptiondomain.PlanSpecifier{
			PlanName: "support",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.CategoryAddOn, addOn.Category)
	assert.Equal(t, base.BundleID, addOn.BundleID)

	_, err = env.svc.CancelWithPolicy(ctx, base.SubscriptionID, subscriptiondomain.PolicyImmediate)
	require.NoError(t, err)

	_, err = env.svc.AddEntitlement(ctx, domain.AddEntitlementRequest{
		BundleID: base.BundleID,
		Specifier: subscriptiondomain.Specifier{Plan: subscriptiondomain.PlanSpecifier{
			PlanName: "another",
		}},
	})
	assert.ErrorIs(t, err, domain.ErrNoActiveBaseSubscription)
}

func TestChangePlan_RefusedWhenAccountBlocksChange(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	account := env.newAccount(t, "acct-1")
	base := env.createBase(t, account.ID, "bundle-key")

	_, err := env.svc.SetBlockingState(ctx, domain.SetBlockingStateRequest{
		BlockableID:   account.ID,
		BlockableType: blockingdomain.BlockableAccount,
		Service:       "overdue-service",
		StateName:     "OD1",
		BlockChange:   true,
	})
	require.NoError(t, err)

	env.clk.Advance(time.Minute)

	_, err = env.svc.ChangePlan(ctx, domain.ChangePlanRequest{
		SubscriptionID: base.SubscriptionID,
		Plan:           subscriptiondomain.PlanSpecifier{PlanName: "silver-monthly"},
	})
	var blocked *blockingdomain.BlockedActionError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, blockingdomain.ActionChange, blocked.Action)
	assert.Equal(t, blockingdomain.BlockableAccount, blocked.BlockableType)
	assert.Equal(t, "overdue-service", blocked.Service)

	// Clearing the account-level state unblocks the change.
	env.clk.Advance(time.Minute)
	_, err = env.svc.SetBlockingState(ctx, domain.SetBlockingStateRequest{
		BlockableID:   account.ID,
		BlockableType: blockingdomain.BlockableAccount,
		Service:       "overdue-service",
		StateName:     "CLEAR",
	})
	require.NoError(t, err)
	env.clk.Advance(time.Minute)

	changed, err := env.svc.ChangePlan(ctx, domain.ChangePlanRequest{
		SubscriptionID: base.SubscriptionID,
		Plan:           subscriptiondomain.PlanSpecifier{PlanName: "silver-monthly"},
	})
	require.NoError(t, err)
	assert.Equal(t, "silver-monthly", changed.PlanName)
}

func TestCancelWithDate_AppendsCancellationState(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	account := env.newAccount(t, "acct-1")
	base := env.createBase(t, account.ID, "bundle-key")

	env.clk.Advance(24 * time.Hour)

	cancelled, err := env.svc.CancelWithDate(ctx, domain.CancelRequest{
		SubscriptionID: base.SubscriptionID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, cancelled.State)

	states, err := env.svc.GetBlockingStates(ctx, base.SubscriptionID, blockingdomain.BlockableSubscription, "")
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, blockingdomain.StateCancelled, states[0].StateName)
	assert.Equal(t, "entitlement-service", states[0].Service)
	assert.True(t, states[0].BlockEntitlement)
	assert.True(t, states[0].BlockBilling)
	assert.False(t, states[0].BlockChange)

	assert.Len(t, env.events.ofType(billingeventdomain.EventEntitlementCancelled), 1)
}

func TestPause_SecondPauseIsNoOp(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	account := env.newAccount(t, "acct-1")
	base := env.createBase(t, account.ID, "bundle-key")

	env.clk.Advance(time.Hour)
	require.NoError(t, env.svc.Pause(ctx, base.BundleID, nil))

	env.clk.Advance(time.Hour)
	require.NoError(t, env.svc.Pause(ctx, base.BundleID, nil))

	states, err := env.svc.GetBlockingStates(ctx, base.BundleID, blockingdomain.BlockableBundle, "")
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, blockingdomain.StateBlocked, states[0].StateName)
	assert.True(t, states[0].BlockChange)
	assert.True(t, states[0].BlockEntitlement)
	assert.True(t, states[0].BlockBilling)

	assert.Len(t, env.events.ofType(billingeventdomain.EventEntitlementPaused), 1)
}

func TestResume_WithoutPauseIsNoOp(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	account := env.newAccount(t, "acct-1")
	base := env.createBase(t, account.ID, "bundle-key")

	require.NoError(t, env.svc.Resume(ctx, base.BundleID, nil))

	states, err := env.svc.GetBlockingStates(ctx, base.BundleID, blockingdomain.BlockableBundle, "")
	require.NoError(t, err)
	assert.Empty(t, states)
	assert.Empty(t, env.events.ofType(billingeventdomain.EventEntitlementResumed))
}

func TestPauseResume_ViewReflectsBlockedState(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	account := env.newAccount(t, "acct-1")
	base := env.createBase(t, account.ID, "bundle-key")

	env.clk.Advance(time.Hour)
	require.NoError(t, env.svc.Pause(ctx, base.BundleID, nil))
	env.clk.Advance(time.Minute)

	paused, err := env.svc.GetEntitlementForID(ctx, base.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateBlocked, paused.State)

	env.clk.Advance(time.Hour)
	require.NoError(t, env.svc.Resume(ctx, base.BundleID, nil))
	env.clk.Advance(time.Minute)

	resumed, err := env.svc.GetEntitlementForID(ctx, base.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, resumed.State)

	states, err := env.svc.GetBlockingStates(ctx, base.BundleID, blockingdomain.BlockableBundle, "entitlement-service")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, blockingdomain.StateBlocked, states[0].StateName)
	assert.Equal(t, blockingdomain.StateClear, states[1].StateName)
}

func TestTransferEntitlements_MovesBundleAndCancelsSource(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	source := env.newAccount(t, "acct-src")
	dest := env.newAccount(t, "acct-dst")

	base := env.createBase(t, source.ID, "bundle-key")
	_, err := env.svc.AddEntitlement(ctx, domain.AddEntitlementRequest{
		BundleID: base.BundleID,
		Specifier: subscriptiondomain.Specifier{Plan: subscriptiondomain.PlanSpecifier{
			PlanName: "support",
		}},
	})
	require.NoError(t, err)

	env.clk.Advance(time.Hour)

	result, err := env.svc.TransferEntitlements(ctx, domain.TransferRequest{
		SourceAccountID: source.ID,
		DestAccountID:   dest.ID,
		ExternalKey:     "bundle-key",
	})
	require.NoError(t, err)
	require.NoError(t, result.BlockingErr)
	assert.NotEqual(t, base.BundleID, result.BundleID)

	moved, err := env.svc.GetAllEntitlementsForBundle(ctx, result.BundleID)
	require.NoError(t, err)
	require.Len(t, moved, 2)
	for _, entitlement := range moved {
		assert.Equal(t, dest.ID, entitlement.AccountID)
		assert.Equal(t, domain.StateActive, entitlement.State)
		assert.Equal(t, "bundle-key", entitlement.ExternalKey)
	}

	// Every source subscription carries a cancellation directive that blocks
	// entitlement and billing but not change.
	sourceEntitlements, err := env.svc.GetAllEntitlementsForBundle(ctx, base.BundleID)
	require.NoError(t, err)
	require.Len(t, sourceEntitlements, 2)
	for _, entitlement := range sourceEntitlements {
		assert.Equal(t, domain.StateCancelled, entitlement.State)

		current, err := env.blocking.CurrentState(ctx, entitlement.SubscriptionID, blockingdomain.BlockableSubscription, "entitlement-service", env.clk.Now())
		require.NoError(t, err)
		require.NotNil(t, current)
		assert.Equal(t, blockingdomain.StateCancelled, current.StateName)
		assert.True(t, current.BlockEntitlement)
		assert.True(t, current.BlockBilling)
		assert.False(t, current.BlockChange)
	}

	assert.Len(t, env.events.ofType(billingeventdomain.EventEntitlementTransferred), 1)
}

func TestTransferEntitlements_UnknownKeyFails(t *testing.T) {
	env := newTestEnv(t, nil)
	source := env.newAccount(t, "acct-src")
	dest := env.newAccount(t, "acct-dst")

	_, err := env.svc.TransferEntitlements(context.Background(), domain.TransferRequest{
		SourceAccountID: source.ID,
		DestAccountID:   dest.ID,
		ExternalKey:     "no-such-key",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidBundleKey)
}

func TestTransferEntitlements_KeyOwnedByOtherAccountFails(t *testing.T) {
	env := newTestEnv(t, nil)
	owner := env.newAccount(t, "acct-owner")
	source := env.newAccount(t, "acct-src")
	dest := env.newAccount(t, "acct-dst")

	env.createBase(t, owner.ID, "bundle-key")

	_, err := env.svc.TransferEntitlements(context.Background(), domain.TransferRequest{
		SourceAccountID: source.ID,
		DestAccountID:   dest.ID,
		ExternalKey:     "bundle-key",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidBundleKey)
}

type denyHook struct{}

func (denyHook) Name() string { return "deny-all" }
func (denyHook) Before(ctx context.Context, op plugin.OperationContext) (plugin.BeforeResult, error) {
	return plugin.BeforeResult{ShortCircuit: true, Result: domain.Entitlement{ExternalKey: "denied"}}, nil
}

func TestPluginShortCircuit_NoBundleCreated(t *testing.T) {
	registry := plugin.NewStaticRegistry([]plugin.BeforeHook{denyHook{}}, nil)
	env := newTestEnv(t, registry)
	account := env.newAccount(t, "acct-1")

	entitlement, err := env.svc.CreateBaseEntitlement(context.Background(), domain.CreateRequest{
		AccountID:   account.ID,
		ExternalKey: "bundle-key",
		Specifier: subscriptiondomain.Specifier{Plan: subscriptiondomain.PlanSpecifier{
			ProductCategory: subscriptiondomain.CategoryBase,
			PlanName:        "gold-monthly",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "denied", entitlement.ExternalKey)

	// The hook intercepted before any row was written.
	id, err := env.store.GetFirstActiveSubscriptionIDForKey(context.Background(), account.ID, "bundle-key")
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(0), id)
	assert.Empty(t, env.events.events)
}

type failAfterHook struct{}

func (failAfterHook) Name() string { return "flaky-notifier" }
func (failAfterHook) After(ctx context.Context, op plugin.OperationContext, result any) error {
	return assert.AnError
}

func TestPluginAfterFailure_MutationSurvives(t *testing.T) {
	registry := plugin.NewStaticRegistry(nil, []plugin.AfterHook{failAfterHook{}})
	env := newTestEnv(t, registry)
	account := env.newAccount(t, "acct-1")

	entitlement, err := env.svc.CreateBaseEntitlement(context.Background(), domain.CreateRequest{
		AccountID:   account.ID,
		ExternalKey: "bundle-key",
		Specifier: subscriptiondomain.Specifier{Plan: subscriptiondomain.PlanSpecifier{
			ProductCategory: subscriptiondomain.CategoryBase,
			PlanName:        "gold-monthly",
		}},
	})
	var postCommit *plugin.PostCommitHookError
	require.ErrorAs(t, err, &postCommit)
	assert.Equal(t, "flaky-notifier", postCommit.Hook)

	// The entitlement committed despite the hook failure.
	assert.NotZero(t, entitlement.SubscriptionID)
	id, err := env.store.GetFirstActiveSubscriptionIDForKey(context.Background(), account.ID, "bundle-key")
	require.NoError(t, err)
	assert.Equal(t, entitlement.SubscriptionID, id)
}

func TestGetAllEntitlementsForAccountIDAndExternalKey(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	account := env.newAccount(t, "acct-1")

	env.createBase(t, account.ID, "key-a")
	env.createBase(t, account.ID, "key-b")

	all, err := env.svc.GetAllEntitlementsForAccountID(ctx, account.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := env.svc.GetAllEntitlementsForAccountIDAndExternalKey(ctx, account.ID, "key-b")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "key-b", filtered[0].ExternalKey)
}
