package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	billingeventdomain "github.com/smallbiznis/entitle/internal/billingevent/domain"
	blockingdomain "github.com/smallbiznis/entitle/internal/blocking/domain"
	"github.com/smallbiznis/entitle/internal/entitlement/domain"
	"github.com/smallbiznis/entitle/internal/entitlement/plugin"
	subscriptiondomain "github.com/smallbiznis/entitle/internal/subscription/domain"
	"go.uber.org/zap"
)

// Pause blocks the whole bundle: change, entitlement access, and billing.
// Pausing an already paused bundle is a no-op unless the operator enabled
// appendDuplicateStates.
func (s *Service) Pause(ctx context.Context, bundleID snowflake.ID, effectiveDate *domain.LocalDate) error {
	op := plugin.OperationContext{
		Operation: plugin.OpPause,
		BundleID:  bundleID,
	}
	_, err := plugin.Execute(ctx, s.plugins, op, func(ctx context.Context, op plugin.OperationContext) (struct{}, error) {
		bundle, err := s.store.GetBundleFromID(ctx, op.BundleID)
		if err != nil {
			return struct{}{}, err
		}
		base, err := s.store.GetBaseSubscription(ctx, bundle.ID)
		if err != nil {
			return struct{}{}, err
		}
		if base.State != subscriptiondomain.SubscriptionStateActive {
			return struct{}{}, domain.ErrNoActiveBaseSubscription
		}

		loc, err := s.accounts.GetTimeZone(ctx, bundle.AccountID)
		if err != nil {
			return struct{}{}, err
		}
		now := s.clock.Now()
		effective := s.effectiveForOp(op, effectiveDate, base.StartDate, loc, now)

		cfg := s.holder.Current()
		current, err := s.checker.CurrentState(ctx, bundle.ID, blockingdomain.BlockableBundle, cfg.DefaultService, now)
		if err != nil {
			return struct{}{}, err
		}
		alreadyPaused := current != nil && current.StateName == blockingdomain.StateBlocked
		if alreadyPaused && !cfg.AppendDuplicateStates {
			s.log.Debug("pause is a no-op, bundle already paused",
				zap.Int64("bundle_id", int64(bundle.ID)))
			return struct{}{}, nil
		}

		// Re-asserting our own pause skips the change check; anything else
		// blocking change still refuses the pause.
		if !alreadyPaused {
			target := blockingdomain.Target{
				AccountID:      bundle.AccountID,
				BundleID:       bundle.ID,
				SubscriptionID: base.ID,
			}
			if err := s.checker.CheckBlockedChange(ctx, target, now); err != nil {
				return struct{}{}, err
			}
		}

		if _, err := s.writer.Block(ctx, blockingdomain.BlockingState{
			BlockableID:      bundle.ID,
			BlockableType:    blockingdomain.BlockableBundle,
			Service:          cfg.DefaultService,
			StateName:        blockingdomain.StateBlocked,
			BlockChange:      true,
			BlockEntitlement: true,
			BlockBilling:     true,
			EffectiveDate:    effective,
		}); err != nil {
			return struct{}{}, err
		}

		s.events.Publish(ctx, billingeventdomain.EntitlementEvent{
			EventType:      billingeventdomain.EventEntitlementPaused,
			AccountID:      bundle.AccountID,
			BundleID:       bundle.ID,
			SubscriptionID: base.ID,
			EffectiveDate:  effective,
		})
		return struct{}{}, nil
	})
	return err
}

// Resume clears a pause. Resuming a bundle that is not paused is a no-op
// under the default policy.
func (s *Service) Resume(ctx context.Context, bundleID snowflake.ID, effectiveDate *domain.LocalDate) error {
	op := plugin.OperationContext{
		Operation: plugin.OpResume,
		BundleID:  bundleID,
	}
	_, err := plugin.Execute(ctx, s.plugins, op, func(ctx context.Context, op plugin.OperationContext) (struct{}, error) {
		bundle, err := s.store.GetBundleFromID(ctx, op.BundleID)
		if err != nil {
			return struct{}{}, err
		}
		base, err := s.store.GetBaseSubscription(ctx, bundle.ID)
		if err != nil {
			return struct{}{}, err
		}

		loc, err := s.accounts.GetTimeZone(ctx, bundle.AccountID)
		if err != nil {
			return struct{}{}, err
		}
		now := s.clock.Now()
		effective := s.effectiveForOp(op, effectiveDate, base.StartDate, loc, now)

		cfg := s.holder.Current()
		current, err := s.checker.CurrentState(ctx, bundle.ID, blockingdomain.BlockableBundle, cfg.DefaultService, now)
		if err != nil {
			return struct{}{}, err
		}
		paused := current != nil && current.StateName == blockingdomain.StateBlocked
		if !paused && !cfg.AppendDuplicateStates {
			s.log.Debug("resume is a no-op, bundle not paused",
				zap.Int64("bundle_id", int64(bundle.ID)))
			return struct{}{}, nil
		}

		if _, err := s.writer.Block(ctx, blockingdomain.BlockingState{
			BlockableID:   bundle.ID,
			BlockableType: blockingdomain.BlockableBundle,
			Service:       cfg.DefaultService,
			StateName:     blockingdomain.StateClear,
			EffectiveDate: effective,
		}); err != nil {
			return struct{}{}, err
		}

		s.events.Publish(ctx, billingeventdomain.EntitlementEvent{
			EventType:      billingeventdomain.EventEntitlementResumed,
			AccountID:      bundle.AccountID,
			BundleID:       bundle.ID,
			SubscriptionID: base.ID,
			EffectiveDate:  effective,
		})
		return struct{}{}, nil
	})
	return err
}
