package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/entitle/internal/billingevent/domain"
	"github.com/smallbiznis/entitle/internal/clock"
	"github.com/smallbiznis/entitle/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "entitle",
	Subsystem: "events",
	Name:      "published_total",
	Help:      "Lifecycle events drained from the outbox.",
}, []string{"event_type"})

func init() {
	prometheus.MustRegister(eventsPublished)
}

// Publisher writes lifecycle events to the outbox table and drains them in
// the background. Losing an event is acceptable only in the sense that the
// write failure is logged; a recorded event is delivered at least once.
type Publisher struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock

	done chan struct{}
}

type PublisherParam struct {
	fx.In

	Lifecycle fx.Lifecycle
	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
}

func NewPublisher(p PublisherParam) domain.Publisher {
	publisher := &Publisher{
		db:    p.DB,
		log:   p.Log.Named("billingevent.publisher"),
		genID: p.GenID,
		clock: p.Clock,
		done:  make(chan struct{}),
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go publisher.drainLoop()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(publisher.done)
			return nil
		},
	})

	return publisher
}

func (p *Publisher) Publish(ctx context.Context, event domain.EntitlementEvent) {
	now := p.clock.Now()
	event.ID = p.genID.Generate()
	if event.DedupeKey == "" {
		event.DedupeKey = uuid.NewString()
	}
	if event.EffectiveDate.IsZero() {
		event.EffectiveDate = now
	}
	event.CreatedAt = now

	if event.AccountID == 0 {
		if accountID, ok := tenantctx.AccountIDFromContext(ctx); ok {
			event.AccountID = accountID
		}
	}

	if caller, ok := tenantctx.CallerFromContext(ctx); ok {
		if event.Payload == nil {
			event.Payload = datatypes.JSONMap{}
		}
		if caller.User != "" {
			event.Payload["created_by"] = caller.User
		}
		if caller.Reason != "" {
			event.Payload["reason"] = caller.Reason
		}
		if caller.Comment != "" {
			event.Payload["comment"] = caller.Comment
		}
	}

	if err := p.db.WithContext(ctx).Create(&event).Error; err != nil {
		p.log.Error("record lifecycle event",
			zap.String("event_type", string(event.EventType)),
			zap.Int64("subscription_id", int64(event.SubscriptionID)),
			zap.Error(err),
		)
	}
}

func (p *Publisher) drainLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.drainOnce(context.Background()); err != nil {
				p.log.Warn("drain outbox", zap.Error(err))
			}
		}
	}
}

func (p *Publisher) drainOnce(ctx context.Context) error {
	var pending []domain.EntitlementEvent
	err := p.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("created_at asc, id asc").
		Limit(100).
		Find(&pending).Error
	if err != nil {
		return err
	}

	for _, event := range pending {
		p.log.Info("lifecycle event",
			zap.String("event_type", string(event.EventType)),
			zap.Int64("account_id", int64(event.AccountID)),
			zap.Int64("bundle_id", int64(event.BundleID)),
			zap.Int64("subscription_id", int64(event.SubscriptionID)),
			zap.String("dedupe_key", event.DedupeKey),
		)

		now := p.clock.Now()
		err := p.db.WithContext(ctx).
			Model(&domain.EntitlementEvent{}).
			Where("id = ? AND published_at IS NULL", event.ID).
			Update("published_at", now).Error
		if err != nil {
			return err
		}
		eventsPublished.WithLabelValues(string(event.EventType)).Inc()
	}
	return nil
}
