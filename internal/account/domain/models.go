// Package domain contains persistence models for billing accounts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Account is the owner of bundles and subscriptions. TimeZone is the IANA
// zone used to resolve caller-supplied calendar dates.
type Account struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	ExternalKey string       `gorm:"type:text;not null;uniqueIndex"`
	Name        string       `gorm:"type:text;not null"`
	TimeZone    string       `gorm:"type:text;not null;default:'UTC'"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }
