package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/pkg/db/pagination"
)

// Publisher records lifecycle events for downstream consumers. Publish is
// fire-and-forget from the caller's point of view: a recording failure is
// logged, never propagated, because events are informational and must not
// fail the mutation they describe.
type Publisher interface {
	Publish(ctx context.Context, event EntitlementEvent)
}

type ListEventsRequest struct {
	EventType string
	AccountID snowflake.ID
	PageToken string
	PageSize  int
}

type ListEventsResponse struct {
	Events   []EntitlementEvent   `json:"events"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

// Reader serves the operator-facing event feed, newest first.
type Reader interface {
	List(ctx context.Context, req ListEventsRequest) (ListEventsResponse, error)
}
