package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/blocking/domain"
	"gorm.io/gorm"
)

type repository struct{}

// Provide builds the blocking-state repository.
func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) Append(ctx context.Context, db *gorm.DB, state *domain.BlockingState) error {
	return db.WithContext(ctx).Create(state).Error
}

func (r *repository) ListByBlockable(ctx context.Context, db *gorm.DB, blockableID snowflake.ID, blockableType domain.BlockableType) ([]domain.BlockingState, error) {
	var states []domain.BlockingState
	err := db.WithContext(ctx).
		Where("blockable_id = ? AND blockable_type = ?", blockableID, blockableType).
		Order("effective_date asc, id asc").
		Find(&states).Error
	return states, err
}

func (r *repository) ListEffective(ctx context.Context, db *gorm.DB, blockableID snowflake.ID, blockableType domain.BlockableType, asOf time.Time) ([]domain.BlockingState, error) {
	var states []domain.BlockingState
	err := db.WithContext(ctx).
		Where("blockable_id = ? AND blockable_type = ? AND effective_date <= ?", blockableID, blockableType, asOf).
		Order("effective_date asc, id asc").
		Find(&states).Error
	return states, err
}

func (r *repository) ListByService(ctx context.Context, db *gorm.DB, blockableID snowflake.ID, blockableType domain.BlockableType, service string) ([]domain.BlockingState, error) {
	var states []domain.BlockingState
	err := db.WithContext(ctx).
		Where("blockable_id = ? AND blockable_type = ? AND service = ?", blockableID, blockableType, service).
		Order("effective_date asc, id asc").
		Find(&states).Error
	return states, err
}
