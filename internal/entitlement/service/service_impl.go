package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/entitle/internal/account/domain"
	billingeventdomain "github.com/smallbiznis/entitle/internal/billingevent/domain"
	blockingdomain "github.com/smallbiznis/entitle/internal/blocking/domain"
	"github.com/smallbiznis/entitle/internal/clock"
	"github.com/smallbiznis/entitle/internal/config"
	"github.com/smallbiznis/entitle/internal/entitlement/domain"
	"github.com/smallbiznis/entitle/internal/entitlement/plugin"
	subscriptiondomain "github.com/smallbiznis/entitle/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service is the entitlement operation executor. It resolves dates in the
// account's zone, authorizes against the blocking hierarchy, delegates the
// state change to the subscription store, appends resulting blocking
// states, and emits lifecycle events. Mutations run inside the plugin hook
// chain.
type Service struct {
	log *zap.Logger

	store    subscriptiondomain.Store
	accounts accountdomain.Service
	checker  blockingdomain.Checker
	writer   blockingdomain.Writer
	events   billingeventdomain.Publisher
	clock    clock.Clock
	holder   *config.EntitlementConfigHolder
	plugins  *plugin.Registry
}

type ServiceParam struct {
	fx.In

	Log      *zap.Logger
	Store    subscriptiondomain.Store
	Accounts accountdomain.Service
	Checker  blockingdomain.Checker
	Writer   blockingdomain.Writer
	Events   billingeventdomain.Publisher
	Clock    clock.Clock
	Holder   *config.EntitlementConfigHolder
	Plugins  *plugin.Registry
}

func New(p ServiceParam) domain.Service {
	return &Service{
		log: p.Log.Named("entitlement.service"),

		store:    p.Store,
		accounts: p.Accounts,
		checker:  p.Checker,
		writer:   p.Writer,
		events:   p.Events,
		clock:    p.Clock,
		holder:   p.Holder,
		plugins:  p.Plugins,
	}
}

func (s *Service) CreateBaseEntitlement(ctx context.Context, req domain.CreateRequest) (domain.Entitlement, error) {
	op := plugin.OperationContext{
		Operation:   plugin.OpCreateBaseEntitlement,
		AccountID:   req.AccountID,
		ExternalKey: req.ExternalKey,
	}
	return plugin.Execute(ctx, s.plugins, op, func(ctx context.Context, op plugin.OperationContext) (domain.Entitlement, error) {
		return s.createBase(ctx, domain.CreateWithAddOnsRequest{
			AccountID:     op.AccountID,
			ExternalKey:   op.ExternalKey,
			Specifiers:    []subscriptiondomain.Specifier{req.Specifier},
			EffectiveDate: req.EffectiveDate,
		}, op)
	})
}

func (s *Service) CreateBaseEntitlementWithAddOns(ctx context.Context, req domain.CreateWithAddOnsRequest) ([]domain.Entitlement, error) {
	op := plugin.OperationContext{
		Operation:   plugin.OpCreateWithAddOns,
		AccountID:   req.AccountID,
		ExternalKey: req.ExternalKey,
	}
	return plugin.Execute(ctx, s.plugins, op, func(ctx context.Context, op plugin.OperationContext) ([]domain.Entitlement, error) {
		base, err := s.createBase(ctx, req, op)
		if err != nil {
			return nil, err
		}
		return s.GetAllEntitlementsForBundle(ctx, base.BundleID)
	})
}

// createBase performs the shared creation path. The first specifier must
// select a BASE plan; the remainder become add-ons in the same bundle.
func (s *Service) createBase(ctx context.Context, req domain.CreateWithAddOnsRequest, op plugin.OperationContext) (domain.Entitlement, error) {
	if err := validateBaseSpecifiers(req.Specifiers); err != nil {
		return domain.Entitlement{}, err
	}

	externalKey := strings.TrimSpace(op.ExternalKey)
	if externalKey != "" {
		activeID, err := s.store.GetFirstActiveSubscriptionIDForKey(ctx, op.AccountID, externalKey)
		if err != nil {
			return domain.Entitlement{}, err
		}
		if activeID != 0 {
			return domain.Entitlement{}, domain.ErrDuplicateBundleKey
		}
	}

	loc, err := s.accounts.GetTimeZone(ctx, op.AccountID)
	if err != nil {
		return domain.Entitlement{}, err
	}
	now := s.clock.Now()
	effective := s.effectiveForOp(op, req.EffectiveDate, now, loc, now)

	bundle, err := s.store.CreateBundle(ctx, op.AccountID, externalKey)
	if err != nil {
		return domain.Entitlement{}, err
	}

	base, err := s.store.CreateBaseWithAddOns(ctx, bundle.ID, req.Specifiers, effective)
	if err != nil {
		return domain.Entitlement{}, err
	}

	s.events.Publish(ctx, billingeventdomain.EntitlementEvent{
		EventType:      billingeventdomain.EventEntitlementCreated,
		AccountID:      op.AccountID,
		BundleID:       bundle.ID,
		SubscriptionID: base.ID,
		EffectiveDate:  effective,
	})

	return s.view(ctx, base, bundle.ExternalKey)
}

func (s *Service) AddEntitlement(ctx context.Context, req domain.AddEntitlementRequest) (domain.Entitlement, error) {
	op := plugin.OperationContext{
		Operation: plugin.OpAddEntitlement,
		BundleID:  req.BundleID,
	}
	return plugin.Execute(ctx, s.plugins, op, func(ctx context.Context, op plugin.OperationContext) (domain.Entitlement, error) {
		bundle, err := s.store.GetBundleFromID(ctx, op.BundleID)
		if err != nil {
			return domain.Entitlement{}, err
		}

		base, err := s.store.GetBaseSubscription(ctx, bundle.ID)
		if err != nil {
			return domain.Entitlement{}, err
		}
		if base.State != subscriptiondomain.SubscriptionStateActive {
			return domain.Entitlement{}, domain.ErrNoActiveBaseSubscription
		}

		loc, err := s.accounts.GetTimeZone(ctx, bundle.AccountID)
		if err != nil {
			return domain.Entitlement{}, err
		}
		now := s.clock.Now()
		effective := s.effectiveForOp(op, req.EffectiveDate, base.StartDate, loc, now)

		target := blockingdomain.Target{
			AccountID:      bundle.AccountID,
			BundleID:       bundle.ID,
			SubscriptionID: base.ID,
		}
		if err := s.checker.CheckBlockedChange(ctx, target, now); err != nil {
			return domain.Entitlement{}, err
		}

		spec := req.Specifier
		spec.Plan.ProductCategory = subscriptiondomain.CategoryAddOn

		addOn, err := s.store.CreateSubscription(ctx, bundle.ID, spec, effective)
		if err != nil {
			return domain.Entitlement{}, err
		}

		s.events.Publish(ctx, billingeventdomain.EntitlementEvent{
			EventType:      billingeventdomain.EventEntitlementCreated,
			AccountID:      bundle.AccountID,
			BundleID:       bundle.ID,
			SubscriptionID: addOn.ID,
			EffectiveDate:  effective,
		})

		return s.view(ctx, addOn, bundle.ExternalKey)
	})
}

func (s *Service) ChangePlan(ctx context.Context, req domain.ChangePlanRequest) (domain.Entitlement, error) {
	return s.changePlan(ctx, req, nil)
}

func (s *Service) ChangePlanOverrideBillingPolicy(ctx context.Context, req domain.ChangePlanRequest, policy subscriptiondomain.BillingActionPolicy) (domain.Entitlement, error) {
	return s.changePlan(ctx, req, &policy)
}

func (s *Service) changePlan(ctx context.Context, req domain.ChangePlanRequest, policy *subscriptiondomain.BillingActionPolicy) (domain.Entitlement, error) {
	op := plugin.OperationContext{
		Operation:      plugin.OpChangePlan,
		SubscriptionID: req.SubscriptionID,
	}
	return plugin.Execute(ctx, s.plugins, op, func(ctx context.Context, op plugin.OperationContext) (domain.Entitlement, error) {
		subscription, err := s.store.GetSubscriptionFromID(ctx, op.SubscriptionID)
		if err != nil {
			return domain.Entitlement{}, err
		}

		loc, err := s.accounts.GetTimeZone(ctx, subscription.AccountID)
		if err != nil {
			return domain.Entitlement{}, err
		}
		now := s.clock.Now()
		effective := s.effectiveForOp(op, req.EffectiveDate, subscription.StartDate, loc, now)

		target := blockingdomain.Target{
			AccountID:      subscription.AccountID,
			BundleID:       subscription.BundleID,
			SubscriptionID: subscription.ID,
		}
		if err := s.checker.CheckBlockedChange(ctx, target, now); err != nil {
			return domain.Entitlement{}, err
		}

		changed, err := s.store.ChangePlan(ctx, subscriptiondomain.ChangePlanRequest{
			SubscriptionID: subscription.ID,
			Plan:           req.Plan,
			Overrides:      req.Overrides,
			RequestedDate:  effective,
			Policy:         policy,
		})
		if err != nil {
			return domain.Entitlement{}, err
		}

		s.events.Publish(ctx, billingeventdomain.EntitlementEvent{
			EventType:      billingeventdomain.EventEntitlementChanged,
			AccountID:      changed.AccountID,
			BundleID:       changed.BundleID,
			SubscriptionID: changed.ID,
			EffectiveDate:  effective,
		})

		return s.viewWithBundle(ctx, changed)
	})
}

func (s *Service) CancelWithDate(ctx context.Context, req domain.CancelRequest) (domain.Entitlement, error) {
	return s.cancel(ctx, req.SubscriptionID, req.EffectiveDate, subscriptiondomain.PolicyImmediate)
}

func (s *Service) CancelWithPolicy(ctx context.Context, subscriptionID snowflake.ID, policy subscriptiondomain.BillingActionPolicy) (domain.Entitlement, error) {
	return s.cancel(ctx, subscriptionID, nil, policy)
}

func (s *Service) CancelWithDateOverrideBillingPolicy(ctx context.Context, req domain.CancelRequest, policy subscriptiondomain.BillingActionPolicy) (domain.Entitlement, error) {
	return s.cancel(ctx, req.SubscriptionID, req.EffectiveDate, policy)
}

func (s *Service) cancel(ctx context.Context, subscriptionID snowflake.ID, requestedDate *domain.LocalDate, policy subscriptiondomain.BillingActionPolicy) (domain.Entitlement, error) {
	op := plugin.OperationContext{
		Operation:      plugin.OpCancel,
		SubscriptionID: subscriptionID,
	}
	return plugin.Execute(ctx, s.plugins, op, func(ctx context.Context, op plugin.OperationContext) (domain.Entitlement, error) {
		subscription, err := s.store.GetSubscriptionFromID(ctx, op.SubscriptionID)
		if err != nil {
			return domain.Entitlement{}, err
		}

		loc, err := s.accounts.GetTimeZone(ctx, subscription.AccountID)
		if err != nil {
			return domain.Entitlement{}, err
		}
		now := s.clock.Now()
		effective := s.effectiveForOp(op, requestedDate, subscription.StartDate, loc, now)

		target := blockingdomain.Target{
			AccountID:      subscription.AccountID,
			BundleID:       subscription.BundleID,
			SubscriptionID: subscription.ID,
		}
		if err := s.checker.CheckBlockedChange(ctx, target, now); err != nil {
			return domain.Entitlement{}, err
		}

		var requestedEnd *time.Time
		if requestedDate != nil {
			requested := effective
			requestedEnd = &requested
		}
		cancelled, err := s.store.Cancel(ctx, subscriptiondomain.CancelRequest{
			SubscriptionID:   subscription.ID,
			RequestedDate:    effective,
			Policy:           policy,
			RequestedEndDate: requestedEnd,
		})
		if err != nil {
			return domain.Entitlement{}, err
		}

		if _, err := s.writer.Block(ctx, blockingdomain.BlockingState{
			BlockableID:      cancelled.ID,
			BlockableType:    blockingdomain.BlockableSubscription,
			Service:          s.holder.Current().DefaultService,
			StateName:        blockingdomain.StateCancelled,
			BlockEntitlement: true,
			BlockBilling:     true,
			EffectiveDate:    effective,
		}); err != nil {
			return domain.Entitlement{}, err
		}

		s.events.Publish(ctx, billingeventdomain.EntitlementEvent{
			EventType:      billingeventdomain.EventEntitlementCancelled,
			AccountID:      cancelled.AccountID,
			BundleID:       cancelled.BundleID,
			SubscriptionID: cancelled.ID,
			EffectiveDate:  effective,
		})

		return s.viewWithBundle(ctx, cancelled)
	})
}

func (s *Service) SetBlockingState(ctx context.Context, req domain.SetBlockingStateRequest) (blockingdomain.BlockingState, error) {
	op := plugin.OperationContext{
		Operation: plugin.OpSetBlockingState,
	}
	return plugin.Execute(ctx, s.plugins, op, func(ctx context.Context, op plugin.OperationContext) (blockingdomain.BlockingState, error) {
		now := s.clock.Now()
		effective := now
		if req.EffectiveDate != nil {
			accountID, err := s.accountForBlockable(ctx, req.BlockableID, req.BlockableType)
			if err != nil {
				return blockingdomain.BlockingState{}, err
			}
			loc, err := s.accounts.GetTimeZone(ctx, accountID)
			if err != nil {
				return blockingdomain.BlockingState{}, err
			}
			effective = FromLocalDateAndReferenceTime(*req.EffectiveDate, now, loc, now)
		}

		state, err := s.writer.Block(ctx, blockingdomain.BlockingState{
			BlockableID:      req.BlockableID,
			BlockableType:    req.BlockableType,
			Service:          req.Service,
			StateName:        req.StateName,
			BlockChange:      req.BlockChange,
			BlockEntitlement: req.BlockEntitlement,
			BlockBilling:     req.BlockBilling,
			EffectiveDate:    effective,
		})
		if err != nil {
			return blockingdomain.BlockingState{}, err
		}

		s.events.Publish(ctx, billingeventdomain.EntitlementEvent{
			EventType:     billingeventdomain.EventBlockingStateSet,
			EffectiveDate: effective,
		})
		return state, nil
	})
}

func (s *Service) GetBlockingStates(ctx context.Context, blockableID snowflake.ID, blockableType blockingdomain.BlockableType, service string) ([]blockingdomain.BlockingState, error) {
	if service == "" {
		return s.writer.StatesForBlockable(ctx, blockableID, blockableType)
	}
	return s.writer.StatesForService(ctx, blockableID, blockableType, service)
}

func (s *Service) GetDryRunStatusForChange(ctx context.Context, bundleID snowflake.ID, targetPlan string, effectiveDate *domain.LocalDate) ([]subscriptiondomain.AddOnDryRunStatus, error) {
	bundle, err := s.store.GetBundleFromID(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	loc, err := s.accounts.GetTimeZone(ctx, bundle.AccountID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	effective := resolveEffective(effectiveDate, now, loc, now)
	return s.store.DryRunChangePlan(ctx, bundleID, targetPlan, effective)
}

func (s *Service) GetEntitlementForID(ctx context.Context, id snowflake.ID) (domain.Entitlement, error) {
	subscription, err := s.store.GetSubscriptionFromID(ctx, id)
	if err != nil {
		return domain.Entitlement{}, err
	}
	return s.viewWithBundle(ctx, subscription)
}

func (s *Service) GetAllEntitlementsForBundle(ctx context.Context, bundleID snowflake.ID) ([]domain.Entitlement, error) {
	bundle, err := s.store.GetBundleFromID(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	subscriptions, err := s.store.GetSubscriptionsForBundle(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	entitlements := make([]domain.Entitlement, 0, len(subscriptions))
	for _, subscription := range subscriptions {
		entitlement, err := s.view(ctx, subscription, bundle.ExternalKey)
		if err != nil {
			return nil, err
		}
		entitlements = append(entitlements, entitlement)
	}
	return entitlements, nil
}

func (s *Service) GetAllEntitlementsForAccountID(ctx context.Context, accountID snowflake.ID) ([]domain.Entitlement, error) {
	subscriptions, err := s.store.GetSubscriptionsForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	keys := make(map[snowflake.ID]string)
	entitlements := make([]domain.Entitlement, 0, len(subscriptions))
	for _, subscription := range subscriptions {
		key, ok := keys[subscription.BundleID]
		if !ok {
			bundle, err := s.store.GetBundleFromID(ctx, subscription.BundleID)
			if err != nil {
				return nil, err
			}
			key = bundle.ExternalKey
			keys[subscription.BundleID] = key
		}
		entitlement, err := s.view(ctx, subscription, key)
		if err != nil {
			return nil, err
		}
		entitlements = append(entitlements, entitlement)
	}
	return entitlements, nil
}

func (s *Service) GetAllEntitlementsForAccountIDAndExternalKey(ctx context.Context, accountID snowflake.ID, externalKey string) ([]domain.Entitlement, error) {
	entitlements, err := s.GetAllEntitlementsForAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	externalKey = strings.TrimSpace(externalKey)
	filtered := entitlements[:0]
	for _, entitlement := range entitlements {
		if entitlement.ExternalKey == externalKey {
			filtered = append(filtered, entitlement)
		}
	}
	return filtered, nil
}

// effectiveForOp resolves the operation's effective instant, honoring a
// hook-supplied override when present.
func (s *Service) effectiveForOp(op plugin.OperationContext, requested *domain.LocalDate, referenceTime time.Time, loc *time.Location, now time.Time) time.Time {
	if op.EffectiveDate != nil {
		override := domain.LocalDateOf(*op.EffectiveDate, loc)
		return FromLocalDateAndReferenceTime(override, referenceTime, loc, now)
	}
	return resolveEffective(requested, referenceTime, loc, now)
}

func (s *Service) accountForBlockable(ctx context.Context, blockableID snowflake.ID, blockableType blockingdomain.BlockableType) (snowflake.ID, error) {
	switch blockableType {
	case blockingdomain.BlockableAccount:
		return blockableID, nil
	case blockingdomain.BlockableBundle:
		bundle, err := s.store.GetBundleFromID(ctx, blockableID)
		if err != nil {
			return 0, err
		}
		return bundle.AccountID, nil
	case blockingdomain.BlockableSubscription:
		subscription, err := s.store.GetSubscriptionFromID(ctx, blockableID)
		if err != nil {
			return 0, err
		}
		return subscription.AccountID, nil
	default:
		return 0, blockingdomain.ErrInvalidBlockingState
	}
}

func (s *Service) viewWithBundle(ctx context.Context, subscription subscriptiondomain.Subscription) (domain.Entitlement, error) {
	bundle, err := s.store.GetBundleFromID(ctx, subscription.BundleID)
	if err != nil {
		return domain.Entitlement{}, err
	}
	return s.view(ctx, subscription, bundle.ExternalKey)
}

// view derives the externally visible state. BLOCKED is computed from the
// hierarchy, never read off the subscription row.
func (s *Service) view(ctx context.Context, subscription subscriptiondomain.Subscription, externalKey string) (domain.Entitlement, error) {
	state := domain.StateActive
	switch subscription.State {
	case subscriptiondomain.SubscriptionStatePending:
		state = domain.StatePending
	case subscriptiondomain.SubscriptionStateCancelled:
		state = domain.StateCancelled
	case subscriptiondomain.SubscriptionStateActive:
		blocked, err := s.checker.IsEntitlementBlocked(ctx, blockingdomain.Target{
			AccountID:      subscription.AccountID,
			BundleID:       subscription.BundleID,
			SubscriptionID: subscription.ID,
		}, s.clock.Now())
		if err != nil {
			return domain.Entitlement{}, err
		}
		if blocked {
			state = domain.StateBlocked
		}
	}

	return domain.Entitlement{
		SubscriptionID: subscription.ID,
		BundleID:       subscription.BundleID,
		AccountID:      subscription.AccountID,
		ExternalKey:    externalKey,
		Category:       subscription.Category,
		State:          state,
		PlanName:       subscription.PlanName,
		PhaseName:      subscription.PhaseName,
		PriceList:      subscription.PriceList,
		StartDate:      subscription.StartDate,
		EffectiveEnd:   subscription.EffectiveEndDate,
		RequestedEnd:   subscription.RequestedEndDate,
	}, nil
}

// validateBaseSpecifiers requires exactly one BASE specifier, first in the
// list.
func validateBaseSpecifiers(specs []subscriptiondomain.Specifier) error {
	if len(specs) == 0 {
		return domain.ErrMissingBaseSpecifier
	}
	baseCount := 0
	for _, spec := range specs {
		category := spec.Plan.ProductCategory
		if category == subscriptiondomain.CategoryBase || category == "" {
			baseCount++
		}
	}
	if baseCount != 1 {
		return domain.ErrMissingBaseSpecifier
	}
	first := specs[0].Plan.ProductCategory
	if first != subscriptiondomain.CategoryBase && first != "" {
		return domain.ErrMissingBaseSpecifier
	}
	return nil
}
