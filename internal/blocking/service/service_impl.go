package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/blocking/domain"
	"github.com/smallbiznis/entitle/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service implements both the checker and the writer over the append-only
// journal.
type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

func New(p ServiceParam) *Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("blocking.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func NewChecker(s *Service) domain.Checker { return s }
func NewWriter(s *Service) domain.Writer   { return s }

func (s *Service) Block(ctx context.Context, state domain.BlockingState) (domain.BlockingState, error) {
	if strings.TrimSpace(state.Service) == "" || strings.TrimSpace(state.StateName) == "" {
		return domain.BlockingState{}, domain.ErrInvalidBlockingState
	}

	now := s.clock.Now()
	state.ID = s.genID.Generate()
	if state.EffectiveDate.IsZero() {
		state.EffectiveDate = now
	}
	state.CreatedAt = now

	if err := s.repo.Append(ctx, s.db, &state); err != nil {
		return domain.BlockingState{}, err
	}

	s.log.Info("blocking state appended",
		zap.String("blockable_type", string(state.BlockableType)),
		zap.Int64("blockable_id", int64(state.BlockableID)),
		zap.String("service", state.Service),
		zap.String("state", state.StateName),
	)
	return state, nil
}

func (s *Service) StatesForBlockable(ctx context.Context, blockableID snowflake.ID, blockableType domain.BlockableType) ([]domain.BlockingState, error) {
	return s.repo.ListByBlockable(ctx, s.db, blockableID, blockableType)
}

func (s *Service) StatesForService(ctx context.Context, blockableID snowflake.ID, blockableType domain.BlockableType, service string) ([]domain.BlockingState, error) {
	return s.repo.ListByService(ctx, s.db, blockableID, blockableType, service)
}

func (s *Service) CheckBlockedChange(ctx context.Context, target domain.Target, asOf time.Time) error {
	return s.check(ctx, target, asOf, domain.ActionChange)
}

func (s *Service) CheckBlockedEntitlement(ctx context.Context, target domain.Target, asOf time.Time) error {
	return s.check(ctx, target, asOf, domain.ActionEntitlement)
}

func (s *Service) CheckBlockedBilling(ctx context.Context, target domain.Target, asOf time.Time) error {
	return s.check(ctx, target, asOf, domain.ActionBilling)
}

func (s *Service) IsEntitlementBlocked(ctx context.Context, target domain.Target, asOf time.Time) (bool, error) {
	err := s.check(ctx, target, asOf, domain.ActionEntitlement)
	if err == nil {
		return false, nil
	}
	var blocked *domain.BlockedActionError
	if errors.As(err, &blocked) {
		return true, nil
	}
	return false, err
}

func (s *Service) CurrentState(ctx context.Context, blockableID snowflake.ID, blockableType domain.BlockableType, service string, asOf time.Time) (*domain.BlockingState, error) {
	rows, err := s.repo.ListEffective(ctx, s.db, blockableID, blockableType, asOf)
	if err != nil {
		return nil, err
	}
	var current *domain.BlockingState
	for i := range rows {
		if rows[i].Service == service {
			current = &rows[i]
		}
	}
	return current, nil
}

type level struct {
	blockableType domain.BlockableType
	blockableID   snowflake.ID
}

// check walks the hierarchy top down. Within one level the latest effective
// row per service is the current state for that service; the level blocks
// when any service's current row blocks the action.
func (s *Service) check(ctx context.Context, target domain.Target, asOf time.Time, action domain.BlockingAction) error {
	levels := []level{
		{domain.BlockableAccount, target.AccountID},
		{domain.BlockableBundle, target.BundleID},
		{domain.BlockableSubscription, target.SubscriptionID},
	}
	for _, lvl := range levels {
		if lvl.blockableID == 0 {
			continue
		}
		rows, err := s.repo.ListEffective(ctx, s.db, lvl.blockableID, lvl.blockableType, asOf)
		if err != nil {
			return err
		}
		for _, current := range currentByService(rows) {
			if blocksAction(current, action) {
				return &domain.BlockedActionError{
					Action:        action,
					BlockableType: lvl.blockableType,
					BlockableID:   lvl.blockableID,
					Service:       current.Service,
					StateName:     current.StateName,
				}
			}
		}
	}
	return nil
}

// currentByService keeps the last row per service. Input is ordered by
// (effective_date, id) so later entries supersede earlier ones.
func currentByService(rows []domain.BlockingState) map[string]domain.BlockingState {
	current := make(map[string]domain.BlockingState, len(rows))
	for _, row := range rows {
		current[row.Service] = row
	}
	return current
}

func blocksAction(state domain.BlockingState, action domain.BlockingAction) bool {
	switch action {
	case domain.ActionChange:
		return state.BlockChange
	case domain.ActionEntitlement:
		return state.BlockEntitlement
	case domain.ActionBilling:
		return state.BlockBilling
	default:
		return false
	}
}
