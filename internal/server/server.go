package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/botledger/internal/audit/domain"
	"github.com/smallbiznis/botledger/internal/cache"
	"github.com/smallbiznis/botledger/internal/config"
	creditdomain "github.com/smallbiznis/botledger/internal/credit/domain"
	"github.com/smallbiznis/botledger/internal/gate"
	"github.com/smallbiznis/botledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/botledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/botledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/botledger/internal/observability/tracing"
	organizationdomain "github.com/smallbiznis/botledger/internal/organization/domain"
	plandomain "github.com/smallbiznis/botledger/internal/plan/domain"
	"github.com/smallbiznis/botledger/internal/ratelimit"
	reengagementdomain "github.com/smallbiznis/botledger/internal/reengagement/domain"
	schedulerdomain "github.com/smallbiznis/botledger/internal/scheduler/domain"
	subscriptiondomain "github.com/smallbiznis/botledger/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/botledger/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.Middleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, s *Server, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	gate            *gate.Gate
	auditSvc        auditdomain.Service
	organizationSvc organizationdomain.Service
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	usageSvc        usagedomain.Service
	creditSvc       creditdomain.Service
	schedulerSvc    schedulerdomain.Service
	reengagementSvc reengagementdomain.Service
	cache           *cache.ResolverCache
	limiter         *ratelimit.CreditUsageLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Gate            *gate.Gate
	AuditSvc        auditdomain.Service `optional:"true"`
	OrganizationSvc organizationdomain.Service
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	UsageSvc        usagedomain.Service
	CreditSvc       creditdomain.Service
	SchedulerSvc    schedulerdomain.Service
	ReengagementSvc reengagementdomain.Service
	Cache           *cache.ResolverCache          `optional:"true"`
	Limiter         *ratelimit.CreditUsageLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		gate:            p.Gate,
		auditSvc:        p.AuditSvc,
		organizationSvc: p.OrganizationSvc,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		usageSvc:        p.UsageSvc,
		creditSvc:       p.CreditSvc,
		schedulerSvc:    p.SchedulerSvc,
		reengagementSvc: p.ReengagementSvc,
		cache:           p.Cache,
		limiter:         p.Limiter,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", AuditContext("operator"))

	// -------- Plans --------
	api.GET("/plans/features", s.ListPlanFeatures)
	api.PUT("/plans/:planType/limits", s.UpsertPlanLimit)

	// -------- Organizations --------
	api.POST("/orgs", s.CreateOrganization)

	org := api.Group("/orgs/:orgID", OrgContext())
	org.GET("", s.GetOrganization)

	// -------- Subscription --------
	org.POST("/subscription", s.CreateSubscription)
	org.GET("/subscription", s.GetSubscription)
	org.PUT("/subscription/plan", s.ChangePlan)

	// -------- Credits --------
	org.GET("/credits", s.GetCreditSummary)
	org.POST("/credits/usage", CreditUsageRateLimit(s.limiter, s.log), s.UseCredits)
	org.POST("/credits/grants", s.GrantCredits)
	org.POST("/credits/purchases", s.PurchaseCredits)
	org.POST("/credits/adjustments", s.AdjustCredits)
	org.GET("/credits/transactions", s.ListCreditTransactions)
	org.GET("/audit-logs", s.ListAuditLogs)

	// -------- Counter features --------
	org.GET("/usage/:feature", s.GetUsage)
	org.POST("/links/crawl", s.CrawlLinks)
	org.POST("/agents", s.CreateAgent)

	// -------- Schedules --------
	api.POST("/schedules", s.CreateSchedule)
	api.GET("/schedules", s.ListSchedules)
	api.POST("/schedules/cancel", s.CancelSchedule)
	api.DELETE("/schedules/:id", s.CancelScheduleByID)
	api.GET("/schedules/:id/cancelled", s.GetScheduleCancelled)
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/webhooks", AuditContext("webhook"))

	hooks.POST("/subscriptions/status", s.SubscriptionStatusWebhook)
	hooks.POST("/contacts/tagged", s.ContactTagged)
	hooks.POST("/contacts/replied", s.ContactReplied)
}
