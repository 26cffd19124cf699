package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct{}

// Provide builds the subscription repository.
func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) InsertBundle(ctx context.Context, db *gorm.DB, bundle *domain.Bundle) error {
	return db.WithContext(ctx).Create(bundle).Error
}

func (r *repository) FindBundleByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Bundle, error) {
	var bundle domain.Bundle
	err := db.WithContext(ctx).Where("id = ?", id).First(&bundle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &bundle, nil
}

func (r *repository) FindBundlesByAccountID(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]domain.Bundle, error) {
	var bundles []domain.Bundle
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at asc, id asc").
		Find(&bundles).Error
	return bundles, err
}

func (r *repository) InsertSubscription(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) FindSubscriptionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	var subscription domain.Subscription
	err := db.WithContext(ctx).Where("id = ?", id).First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repository) FindSubscriptionByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	var subscription domain.Subscription
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repository) FindSubscriptionsForBundle(ctx context.Context, db *gorm.DB, bundleID snowflake.ID) ([]domain.Subscription, error) {
	var subscriptions []domain.Subscription
	err := db.WithContext(ctx).
		Where("bundle_id = ?", bundleID).
		Order("created_at asc, id asc").
		Find(&subscriptions).Error
	return subscriptions, err
}

func (r *repository) FindSubscriptionsByAccountID(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]domain.Subscription, error) {
	var subscriptions []domain.Subscription
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at asc, id asc").
		Find(&subscriptions).Error
	return subscriptions, err
}

func (r *repository) FindBaseSubscription(ctx context.Context, db *gorm.DB, bundleID snowflake.ID) (*domain.Subscription, error) {
	var subscription domain.Subscription
	err := db.WithContext(ctx).
		Where("bundle_id = ? AND category = ?", bundleID, domain.CategoryBase).
		Order("created_at asc, id asc").
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repository) FindFirstActiveSubscriptionIDForKey(ctx context.Context, db *gorm.DB, accountID snowflake.ID, externalKey string) (snowflake.ID, error) {
	var row struct {
		ID snowflake.ID `gorm:"column:id"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT s.id
		 FROM subscriptions s
		 JOIN bundles b ON b.id = s.bundle_id
		 WHERE b.account_id = ? AND b.external_key = ?
		   AND s.category = ? AND s.state = ?
		 ORDER BY s.created_at ASC, s.id ASC
		 LIMIT 1`,
		accountID,
		externalKey,
		domain.CategoryBase,
		domain.SubscriptionStateActive,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.ID, nil
}

func (r *repository) UpdateSubscription(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET state = ?, plan_name = ?, phase_name = ?, price_list = ?,
		     charged_through_date = ?, effective_end_date = ?, requested_end_date = ?,
		     metadata = ?, updated_at = ?
		 WHERE id = ?`,
		subscription.State,
		subscription.PlanName,
		subscription.PhaseName,
		subscription.PriceList,
		subscription.ChargedThroughDate,
		subscription.EffectiveEndDate,
		subscription.RequestedEndDate,
		subscription.Metadata,
		subscription.UpdatedAt,
		subscription.ID,
	).Error
}
