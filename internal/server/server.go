package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	accountdomain "github.com/smallbiznis/entitle/internal/account/domain"
	billingeventdomain "github.com/smallbiznis/entitle/internal/billingevent/domain"
	"github.com/smallbiznis/entitle/internal/config"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	"github.com/smallbiznis/entitle/internal/observability"
	"github.com/smallbiznis/entitle/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.TracingMiddleware())
	r.Use(observability.LoggingMiddleware(log))
	r.Use(CallerMiddleware())
	r.Use(ErrorHandlingMiddleware())
	return r
}

// CallerMiddleware lifts the audit headers and the account scope into the
// request context so every lifecycle event records who asked and why.
func CallerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		user := strings.TrimSpace(c.GetHeader("X-Created-By"))
		reason := strings.TrimSpace(c.GetHeader("X-Reason"))
		comment := strings.TrimSpace(c.GetHeader("X-Comment"))
		if user != "" || reason != "" || comment != "" {
			ctx = tenantctx.WithCaller(ctx, tenantctx.Caller{
				User:    user,
				Reason:  reason,
				Comment: comment,
			})
		}
		if raw := strings.TrimSpace(c.GetHeader("X-Account-Id")); raw != "" {
			if accountID, err := snowflake.ParseString(raw); err == nil {
				ctx = tenantctx.WithAccountID(ctx, accountID)
			}
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	accountSvc     accountdomain.Service
	entitlementSvc entitlementdomain.Service
	eventReader    billingeventdomain.Reader
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	AccountSvc     accountdomain.Service
	EntitlementSvc entitlementdomain.Service
	EventReader    billingeventdomain.Reader
}

func New(p ServerParams) *Server {
	s := &Server{
		engine:         p.Gin,
		accountSvc:     p.AccountSvc,
		entitlementSvc: p.EntitlementSvc,
		eventReader:    p.EventReader,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.engine

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.POST("/accounts", s.CreateAccount)
		api.GET("/accounts/:id", s.GetAccount)
		api.GET("/accounts/:id/entitlements", s.ListAccountEntitlements)

		api.POST("/entitlements", s.CreateEntitlement)
		api.GET("/entitlements/:id", s.GetEntitlement)
		api.POST("/entitlements/:id/change", s.ChangePlan)
		api.POST("/entitlements/:id/cancel", s.CancelEntitlement)

		api.GET("/bundles/:id/entitlements", s.ListBundleEntitlements)
		api.POST("/bundles/:id/addons", s.AddEntitlement)
		api.POST("/bundles/:id/pause", s.PauseBundle)
		api.POST("/bundles/:id/resume", s.ResumeBundle)
		api.GET("/bundles/:id/change-dry-run", s.DryRunChangePlan)

		api.POST("/transfers", s.TransferEntitlements)

		api.POST("/blocking-states", s.SetBlockingState)
		api.GET("/blocking-states", s.GetBlockingStates)

		api.GET("/events", s.ListEvents)
	}
}

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(New),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)
