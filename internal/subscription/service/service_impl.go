package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/clock"
	"github.com/smallbiznis/entitle/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store implements the subscription-base collaborator on top of gorm. Per
// subscription serialization relies on SELECT ... FOR UPDATE inside one
// transaction per mutation.
type Store struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

type StoreParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

func NewStore(p StoreParam) domain.Store {
	return &Store{
		db:  p.DB,
		log: p.Log.Named("subscription.store"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Store) CreateBundle(ctx context.Context, accountID snowflake.ID, externalKey string) (domain.Bundle, error) {
	now := s.clock.Now()
	bundle := domain.Bundle{
		ID:          s.genID.Generate(),
		AccountID:   accountID,
		ExternalKey: strings.TrimSpace(externalKey),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertBundle(ctx, s.db, &bundle); err != nil {
		return domain.Bundle{}, err
	}
	return bundle, nil
}

func (s *Store) CreateSubscription(ctx context.Context, bundleID snowflake.ID, spec domain.Specifier, requestedDate time.Time) (domain.Subscription, error) {
	var created domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bundle, err := s.repo.FindBundleByID(ctx, tx, bundleID)
		if err != nil {
			return err
		}
		if bundle == nil {
			return domain.ErrBundleNotFound
		}

		subscription, err := s.buildSubscription(bundle, spec, requestedDate)
		if err != nil {
			return err
		}
		if err := s.repo.InsertSubscription(ctx, tx, &subscription); err != nil {
			return err
		}
		created = subscription
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	return created, nil
}

func (s *Store) CreateBaseWithAddOns(ctx context.Context, bundleID snowflake.ID, specs []domain.Specifier, requestedDate time.Time) (domain.Subscription, error) {
	var base domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bundle, err := s.repo.FindBundleByID(ctx, tx, bundleID)
		if err != nil {
			return err
		}
		if bundle == nil {
			return domain.ErrBundleNotFound
		}

		var foundBase bool
		for _, spec := range specs {
			subscription, err := s.buildSubscription(bundle, spec, requestedDate)
			if err != nil {
				return err
			}
			if err := s.repo.InsertSubscription(ctx, tx, &subscription); err != nil {
				return err
			}
			if subscription.Category == domain.CategoryBase && !foundBase {
				base = subscription
				foundBase = true
			}
		}
		if !foundBase {
			return domain.ErrNoBaseSubscription
		}
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	return base, nil
}

func (s *Store) ChangePlan(ctx context.Context, req domain.ChangePlanRequest) (domain.Subscription, error) {
	if strings.TrimSpace(req.Plan.PlanName) == "" {
		return domain.Subscription{}, domain.ErrInvalidPlanName
	}

	var changed domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindSubscriptionByIDForUpdate(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return domain.ErrSubscriptionNotFound
		}
		if subscription.State != domain.SubscriptionStateActive {
			return domain.ErrSubscriptionNotActive
		}

		subscription.PlanName = req.Plan.PlanName
		subscription.PhaseName = req.Plan.PhaseName
		subscription.PriceList = req.Plan.PriceList
		if subscription.Metadata == nil {
			subscription.Metadata = datatypes.JSONMap{}
		}
		subscription.Metadata["plan_changed_at"] = req.RequestedDate.Format(time.RFC3339)
		if req.Policy != nil {
			subscription.Metadata["change_billing_policy"] = string(*req.Policy)
		}
		if len(req.Overrides) > 0 {
			subscription.Metadata["price_overrides"] = req.Overrides
		}
		subscription.UpdatedAt = s.clock.Now()

		if err := s.repo.UpdateSubscription(ctx, tx, subscription); err != nil {
			return err
		}
		changed = *subscription
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	return changed, nil
}

func (s *Store) Cancel(ctx context.Context, req domain.CancelRequest) (domain.Subscription, error) {
	var cancelled domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindSubscriptionByIDForUpdate(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return domain.ErrSubscriptionNotFound
		}
		if subscription.State == domain.SubscriptionStateCancelled {
			return domain.ErrSubscriptionNotActive
		}

		sub, err := s.applyCancel(subscription, req)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateSubscription(ctx, tx, sub); err != nil {
			return err
		}
		cancelled = *sub
		return nil
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	return cancelled, nil
}

func (s *Store) GetSubscriptionFromID(ctx context.Context, id snowflake.ID) (domain.Subscription, error) {
	subscription, err := s.repo.FindSubscriptionByID(ctx, s.db, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	if subscription == nil {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	return *subscription, nil
}

func (s *Store) GetBaseSubscription(ctx context.Context, bundleID snowflake.ID) (domain.Subscription, error) {
	subscription, err := s.repo.FindBaseSubscription(ctx, s.db, bundleID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if subscription == nil {
		return domain.Subscription{}, domain.ErrNoBaseSubscription
	}
	return *subscription, nil
}

func (s *Store) GetSubscriptionsForBundle(ctx context.Context, bundleID snowflake.ID) ([]domain.Subscription, error) {
	return s.repo.FindSubscriptionsForBundle(ctx, s.db, bundleID)
}

func (s *Store) GetSubscriptionsForAccount(ctx context.Context, accountID snowflake.ID) ([]domain.Subscription, error) {
	return s.repo.FindSubscriptionsByAccountID(ctx, s.db, accountID)
}

func (s *Store) GetBundleFromID(ctx context.Context, id snowflake.ID) (domain.Bundle, error) {
	bundle, err := s.repo.FindBundleByID(ctx, s.db, id)
	if err != nil {
		return domain.Bundle{}, err
	}
	if bundle == nil {
		return domain.Bundle{}, domain.ErrBundleNotFound
	}
	return *bundle, nil
}

func (s *Store) GetFirstActiveSubscriptionIDForKey(ctx context.Context, accountID snowflake.ID, externalKey string) (snowflake.ID, error) {
	return s.repo.FindFirstActiveSubscriptionIDForKey(ctx, s.db, accountID, strings.TrimSpace(externalKey))
}

func (s *Store) TransferBundle(ctx context.Context, req domain.TransferBundleRequest) (domain.Bundle, error) {
	var newBundle domain.Bundle
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		activeID, err := s.repo.FindFirstActiveSubscriptionIDForKey(ctx, tx, req.SourceAccountID, req.ExternalKey)
		if err != nil {
			return err
		}
		if activeID == 0 {
			return domain.ErrBundleNotFound
		}

		baseSubscription, err := s.repo.FindSubscriptionByIDForUpdate(ctx, tx, activeID)
		if err != nil {
			return err
		}
		if baseSubscription == nil {
			return domain.ErrSubscriptionNotFound
		}

		sourceBundle, err := s.repo.FindBundleByID(ctx, tx, baseSubscription.BundleID)
		if err != nil {
			return err
		}
		if sourceBundle == nil || sourceBundle.AccountID != req.SourceAccountID {
			return domain.ErrBundleNotFound
		}

		now := s.clock.Now()
		sourceAccountID := req.SourceAccountID
		created := domain.Bundle{
			ID:                   s.genID.Generate(),
			AccountID:            req.DestAccountID,
			ExternalKey:          sourceBundle.ExternalKey,
			OriginatingAccountID: &sourceAccountID,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := s.repo.InsertBundle(ctx, tx, &created); err != nil {
			return err
		}

		subscriptions, err := s.repo.FindSubscriptionsForBundle(ctx, tx, sourceBundle.ID)
		if err != nil {
			return err
		}

		policy := domain.PolicyEndOfTerm
		if req.CancelImmediately {
			policy = domain.PolicyImmediate
		}

		for i := range subscriptions {
			source := subscriptions[i]
			if source.State == domain.SubscriptionStateCancelled {
				continue
			}

			copied := domain.Subscription{
				ID:                 s.genID.Generate(),
				BundleID:           created.ID,
				AccountID:          req.DestAccountID,
				Category:           source.Category,
				State:              domain.SubscriptionStateActive,
				PlanName:           source.PlanName,
				PhaseName:          source.PhaseName,
				PriceList:          source.PriceList,
				StartDate:          req.RequestedDate,
				ChargedThroughDate: termBoundary(req.RequestedDate),
				CreatedAt:          now,
				UpdatedAt:          now,
			}
			if err := s.repo.InsertSubscription(ctx, tx, &copied); err != nil {
				return err
			}

			cancelledSource, err := s.applyCancel(&source, domain.CancelRequest{
				SubscriptionID: source.ID,
				RequestedDate:  req.RequestedDate,
				Policy:         policy,
			})
			if err != nil {
				return err
			}
			if err := s.repo.UpdateSubscription(ctx, tx, cancelledSource); err != nil {
				return err
			}
		}

		newBundle = created
		return nil
	})
	if err != nil {
		return domain.Bundle{}, err
	}
	return newBundle, nil
}

func (s *Store) DryRunChangePlan(ctx context.Context, bundleID snowflake.ID, targetPlan string, _ time.Time) ([]domain.AddOnDryRunStatus, error) {
	if strings.TrimSpace(targetPlan) == "" {
		return nil, domain.ErrInvalidPlanName
	}

	subscriptions, err := s.repo.FindSubscriptionsForBundle(ctx, s.db, bundleID)
	if err != nil {
		return nil, err
	}

	statuses := make([]domain.AddOnDryRunStatus, 0, len(subscriptions))
	for _, subscription := range subscriptions {
		if subscription.Category != domain.CategoryAddOn {
			continue
		}
		reason := "RETAINED"
		if subscription.State != domain.SubscriptionStateActive {
			reason = "INACTIVE"
		}
		statuses = append(statuses, domain.AddOnDryRunStatus{
			SubscriptionID: subscription.ID,
			PlanName:       subscription.PlanName,
			Reason:         reason,
		})
	}
	return statuses, nil
}

func (s *Store) buildSubscription(bundle *domain.Bundle, spec domain.Specifier, requestedDate time.Time) (domain.Subscription, error) {
	if strings.TrimSpace(spec.Plan.PlanName) == "" {
		return domain.Subscription{}, domain.ErrInvalidPlanName
	}

	category := spec.Plan.ProductCategory
	if category == "" {
		category = domain.CategoryBase
	}

	state := domain.SubscriptionStateActive
	if requestedDate.After(s.clock.Now()) {
		state = domain.SubscriptionStatePending
	}

	now := s.clock.Now()
	subscription := domain.Subscription{
		ID:                 s.genID.Generate(),
		BundleID:           bundle.ID,
		AccountID:          bundle.AccountID,
		Category:           category,
		State:              state,
		PlanName:           spec.Plan.PlanName,
		PhaseName:          spec.Plan.PhaseName,
		PriceList:          spec.Plan.PriceList,
		StartDate:          requestedDate,
		ChargedThroughDate: termBoundary(requestedDate),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if len(spec.Overrides) > 0 {
		subscription.Metadata = datatypes.JSONMap{"price_overrides": spec.Overrides}
	}
	return subscription, nil
}

// applyCancel stamps the terminal state. The effective end never lands
// before the start date, and END_OF_TERM defers to the charged-through
// boundary when it is still ahead.
func (s *Store) applyCancel(subscription *domain.Subscription, req domain.CancelRequest) (*domain.Subscription, error) {
	effectiveEnd := req.RequestedDate
	switch req.Policy {
	case domain.PolicyImmediate, "":
	case domain.PolicyEndOfTerm:
		if subscription.ChargedThroughDate != nil && subscription.ChargedThroughDate.After(effectiveEnd) {
			effectiveEnd = *subscription.ChargedThroughDate
		}
	default:
		return nil, domain.ErrInvalidPolicy
	}
	if effectiveEnd.Before(subscription.StartDate) {
		effectiveEnd = subscription.StartDate
	}

	subscription.State = domain.SubscriptionStateCancelled
	subscription.EffectiveEndDate = &effectiveEnd
	if req.RequestedEndDate != nil {
		requested := *req.RequestedEndDate
		subscription.RequestedEndDate = &requested
	} else {
		requested := req.RequestedDate
		subscription.RequestedEndDate = &requested
	}
	subscription.UpdatedAt = s.clock.Now()
	return subscription, nil
}

// termBoundary seeds the charged-through date one period ahead. The billing
// collaborator advances it as invoices are generated.
func termBoundary(from time.Time) *time.Time {
	boundary := from.AddDate(0, 1, 0)
	return &boundary
}
