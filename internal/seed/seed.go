// Package seed bootstraps the default account so a fresh install can serve
// requests without manual setup.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/entitle/internal/account/domain"
	"gorm.io/gorm"
)

const (
	defaultAccountKey  = "main"
	defaultAccountName = "Main"
	defaultTimeZone    = "UTC"
)

// EnsureDefaultAccount seeds the default account with a generated id.
func EnsureDefaultAccount(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}
	return ensureAccount(db, node.Generate())
}

// EnsureDefaultAccountWithID seeds the default account under a fixed id,
// for deployments that pin DEFAULT_ACCOUNT.
func EnsureDefaultAccountWithID(db *gorm.DB, id int64) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	return ensureAccount(db, snowflake.ID(id))
}

func ensureAccount(db *gorm.DB, id snowflake.ID) error {
	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing accountdomain.Account
		err := tx.Where("external_key = ?", defaultAccountKey).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		return tx.Create(&accountdomain.Account{
			ID:          id,
			ExternalKey: defaultAccountKey,
			Name:        defaultAccountName,
			TimeZone:    defaultTimeZone,
			CreatedAt:   now,
			UpdatedAt:   now,
		}).Error
	})
}
