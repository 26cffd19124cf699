package migration

import (
	accountdomain "github.com/smallbiznis/entitle/internal/account/domain"
	billingeventdomain "github.com/smallbiznis/entitle/internal/billingevent/domain"
	blockingdomain "github.com/smallbiznis/entitle/internal/blocking/domain"
	"github.com/smallbiznis/entitle/internal/config"
	"github.com/smallbiznis/entitle/internal/seed"
	subscriptiondomain "github.com/smallbiznis/entitle/internal/subscription/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// sqlite and mysql development setups rely on gorm's schema sync.
			if err := conn.AutoMigrate(
				&accountdomain.Account{},
				&subscriptiondomain.Bundle{},
				&subscriptiondomain.Subscription{},
				&blockingdomain.BlockingState{},
				&billingeventdomain.EntitlementEvent{},
			); err != nil {
				return err
			}
		}

		if cfg.DefaultAccountID != 0 {
			return seed.EnsureDefaultAccountWithID(conn, cfg.DefaultAccountID)
		}
		return seed.EnsureDefaultAccount(conn)
	}),
)
