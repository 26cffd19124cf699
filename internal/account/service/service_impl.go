package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/account/domain"
	"github.com/smallbiznis/entitle/internal/clock"
	"github.com/smallbiznis/entitle/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

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

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("account.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateAccountRequest) (domain.Account, error) {
	externalKey := strings.TrimSpace(req.ExternalKey)
	if externalKey == "" {
		return domain.Account{}, domain.ErrInvalidExternalKey
	}

	tz := strings.TrimSpace(req.TimeZone)
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return domain.Account{}, domain.ErrInvalidTimeZone
	}

	now := s.clock.Now()
	account := domain.Account{
		ID:          s.genID.Generate(),
		ExternalKey: externalKey,
		Name:        strings.TrimSpace(req.Name),
		TimeZone:    tz,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Insert(ctx, s.db, &account); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Account{}, domain.ErrDuplicateExternalKey
		}
		return domain.Account{}, err
	}

	return account, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Account, error) {
	account, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return *account, nil
}

func (s *Service) GetTimeZone(ctx context.Context, id snowflake.ID) (*time.Location, error) {
	account, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(account.TimeZone)
	if err != nil {
		s.log.Warn("account has unresolvable time zone",
			zap.String("account_id", id.String()),
			zap.String("time_zone", account.TimeZone),
		)
		return nil, domain.ErrInvalidTimeZone
	}
	return loc, nil
}
