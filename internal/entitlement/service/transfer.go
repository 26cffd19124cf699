package service

import (
	"context"
	"errors"

	billingeventdomain "github.com/smallbiznis/entitle/internal/billingevent/domain"
	blockingdomain "github.com/smallbiznis/entitle/internal/blocking/domain"
	"github.com/smallbiznis/entitle/internal/entitlement/domain"
	"github.com/smallbiznis/entitle/internal/entitlement/plugin"
	subscriptiondomain "github.com/smallbiznis/entitle/internal/subscription/domain"
	"go.uber.org/zap"
)

func (s *Service) TransferEntitlements(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
	return s.TransferEntitlementsOverrideBillingPolicy(ctx, req, subscriptiondomain.PolicyImmediate)
}

// TransferEntitlementsOverrideBillingPolicy moves the bundle identified by
// external key to the destination account, cancelling the source
// subscriptions under the given policy. The bundle copy commits as one
// transaction; the per-subscription cancellation directives afterwards are
// independent appends. A directive that fails to append is logged and
// reported via TransferResult.BlockingErr, never rolled back; there is no
// un-transfer.
func (s *Service) TransferEntitlementsOverrideBillingPolicy(ctx context.Context, req domain.TransferRequest, policy subscriptiondomain.BillingActionPolicy) (domain.TransferResult, error) {
	op := plugin.OperationContext{
		Operation:   plugin.OpTransfer,
		AccountID:   req.SourceAccountID,
		ExternalKey: req.ExternalKey,
	}
	return plugin.Execute(ctx, s.plugins, op, func(ctx context.Context, op plugin.OperationContext) (domain.TransferResult, error) {
		activeID, err := s.store.GetFirstActiveSubscriptionIDForKey(ctx, op.AccountID, op.ExternalKey)
		if err != nil {
			return domain.TransferResult{}, err
		}
		if activeID == 0 {
			return domain.TransferResult{}, domain.ErrInvalidBundleKey
		}

		base, err := s.store.GetSubscriptionFromID(ctx, activeID)
		if err != nil {
			return domain.TransferResult{}, err
		}
		sourceBundle, err := s.store.GetBundleFromID(ctx, base.BundleID)
		if err != nil {
			return domain.TransferResult{}, err
		}
		if sourceBundle.AccountID != op.AccountID {
			return domain.TransferResult{}, domain.ErrInvalidBundleKey
		}

		loc, err := s.accounts.GetTimeZone(ctx, op.AccountID)
		if err != nil {
			return domain.TransferResult{}, err
		}
		now := s.clock.Now()
		effective := s.effectiveForOp(op, req.EffectiveDate, base.StartDate, loc, now)

		// Snapshot before the transfer cancels them.
		sourceSubscriptions, err := s.store.GetSubscriptionsForBundle(ctx, sourceBundle.ID)
		if err != nil {
			return domain.TransferResult{}, err
		}

		newBundle, err := s.store.TransferBundle(ctx, subscriptiondomain.TransferBundleRequest{
			SourceAccountID:   op.AccountID,
			DestAccountID:     req.DestAccountID,
			ExternalKey:       op.ExternalKey,
			RequestedDate:     effective,
			CancelImmediately: policy == subscriptiondomain.PolicyImmediate,
		})
		if err != nil {
			return domain.TransferResult{}, err
		}

		// Independent appends past this point: the transfer has committed.
		service := s.holder.Current().DefaultService
		var blockingErrs []error
		for _, subscription := range sourceSubscriptions {
			_, err := s.writer.Block(ctx, blockingdomain.BlockingState{
				BlockableID:      subscription.ID,
				BlockableType:    blockingdomain.BlockableSubscription,
				Service:          service,
				StateName:        blockingdomain.StateCancelled,
				BlockEntitlement: true,
				BlockBilling:     true,
				EffectiveDate:    effective,
			})
			if err != nil {
				s.log.Error("transfer: cancellation blocking state not appended",
					zap.Int64("subscription_id", int64(subscription.ID)),
					zap.Int64("source_bundle_id", int64(sourceBundle.ID)),
					zap.Int64("new_bundle_id", int64(newBundle.ID)),
					zap.Error(err),
				)
				blockingErrs = append(blockingErrs, err)
			}
		}

		s.events.Publish(ctx, billingeventdomain.EntitlementEvent{
			EventType:      billingeventdomain.EventEntitlementTransferred,
			AccountID:      req.DestAccountID,
			BundleID:       newBundle.ID,
			SubscriptionID: base.ID,
			EffectiveDate:  effective,
		})

		return domain.TransferResult{
			BundleID:    newBundle.ID,
			BlockingErr: errors.Join(blockingErrs...),
		}, nil
	})
}
