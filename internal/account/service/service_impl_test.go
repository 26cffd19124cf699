package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/entitle/internal/account/domain"
	"github.com/smallbiznis/entitle/internal/account/repository"
	"github.com/smallbiznis/entitle/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newAccountService(t *testing.T) domain.Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Account{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2024, time.April, 1, 10, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func TestCreate_DefaultsToUTC(t *testing.T) {
	svc := newAccountService(t)

	account, err := svc.Create(context.Background(), domain.CreateAccountRequest{
		ExternalKey: "acct-1",
		Name:        "Acme",
	})
	require.NoError(t, err)
	assert.Equal(t, "UTC", account.TimeZone)
	assert.NotZero(t, account.ID)
}

func TestCreate_RejectsInvalidInput(t *testing.T) {
	svc := newAccountService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateAccountRequest{ExternalKey: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidExternalKey)

	_, err = svc.Create(ctx, domain.CreateAccountRequest{
		ExternalKey: "acct-1",
		TimeZone:    "Mars/Olympus_Mons",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTimeZone)
}

func TestCreate_DuplicateExternalKeyRefused(t *testing.T) {
	svc := newAccountService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateAccountRequest{ExternalKey: "acct-1"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, domain.CreateAccountRequest{ExternalKey: "acct-1"})
	assert.ErrorIs(t, err, domain.ErrDuplicateExternalKey)
}

func TestGetTimeZone(t *testing.T) {
	svc := newAccountService(t)
	ctx := context.Background()

	account, err := svc.Create(ctx, domain.CreateAccountRequest{
		ExternalKey: "acct-1",
		TimeZone:    "America/New_York",
	})
	require.NoError(t, err)

	loc, err := svc.GetTimeZone(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	_, err = svc.GetTimeZone(ctx, snowflake.ID(999))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}
