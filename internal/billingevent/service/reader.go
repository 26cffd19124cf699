package service

import (
	"context"
	"time"

	"github.com/smallbiznis/entitle/internal/billingevent/domain"
	"github.com/smallbiznis/entitle/pkg/db/option"
	"github.com/smallbiznis/entitle/pkg/db/pagination"
	"github.com/smallbiznis/entitle/pkg/repository"
	"gorm.io/gorm"
)

type reader struct {
	repo repository.Repository[domain.EntitlementEvent]
}

func NewReader(db *gorm.DB) domain.Reader {
	return &reader{repo: repository.ProvideStore[domain.EntitlementEvent](db)}
}

func (r *reader) List(ctx context.Context, req domain.ListEventsRequest) (domain.ListEventsResponse, error) {
	filter := &domain.EntitlementEvent{
		EventType: domain.EventType(req.EventType),
		AccountID: req.AccountID,
	}

	size := req.PageSize
	if size <= 0 {
		size = 10
	}

	rows, err := r.repo.Find(ctx, filter,
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  size,
		}),
		option.WithSortBy("created_at desc, id desc"),
	)
	if err != nil {
		return domain.ListEventsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, int32(size), func(event *domain.EntitlementEvent) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        event.ID.String(),
			CreatedAt: event.CreatedAt.Format(time.RFC3339Nano),
		})
		return token
	})

	if len(rows) > size {
		rows = rows[:size]
	}
	events := make([]domain.EntitlementEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, *row)
	}
	return domain.ListEventsResponse{Events: events, PageInfo: pageInfo}, nil
}
