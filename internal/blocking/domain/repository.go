package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the append-only journal. There is no update or delete:
// correcting a state means appending a newer row.
type Repository interface {
	Append(ctx context.Context, db *gorm.DB, state *BlockingState) error
	// ListByBlockable returns every row for one target ordered by
	// (effective_date ASC, id ASC). Ties on effective_date resolve by
	// insertion order because ids are monotonic.
	ListByBlockable(ctx context.Context, db *gorm.DB, blockableID snowflake.ID, blockableType BlockableType) ([]BlockingState, error)
	// ListEffective filters ListByBlockable down to rows whose effective
	// date is not after asOf.
	ListEffective(ctx context.Context, db *gorm.DB, blockableID snowflake.ID, blockableType BlockableType, asOf time.Time) ([]BlockingState, error)
	ListByService(ctx context.Context, db *gorm.DB, blockableID snowflake.ID, blockableType BlockableType, service string) ([]BlockingState, error)
}
