package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateAccountRequest struct {
	ExternalKey string `json:"external_key"`
	Name        string `json:"name"`
	TimeZone    string `json:"time_zone"`
}

type Service interface {
	Create(ctx context.Context, req CreateAccountRequest) (Account, error)
	GetByID(ctx context.Context, id snowflake.ID) (Account, error)
	// GetTimeZone resolves the account's IANA time zone into a location.
	GetTimeZone(ctx context.Context, id snowflake.ID) (*time.Location, error)
}

var (
	ErrAccountNotFound      = errors.New("account_not_found")
	ErrInvalidExternalKey   = errors.New("invalid_external_key")
	ErrInvalidTimeZone      = errors.New("invalid_time_zone")
	ErrDuplicateExternalKey = errors.New("duplicate_account_external_key")
)
