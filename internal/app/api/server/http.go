package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/orchardpay/biller/docs"
	"github.com/orchardpay/biller/internal/app/api/handlers"
	mw "github.com/orchardpay/biller/internal/app/api/middleware"
	"github.com/orchardpay/biller/internal/app/service/charge"
	"github.com/orchardpay/biller/internal/app/service/ledger"
	plansvc "github.com/orchardpay/biller/internal/app/service/plan"
	"github.com/orchardpay/biller/internal/app/service/statistics"
	subsvc "github.com/orchardpay/biller/internal/app/service/subscription"
	"github.com/orchardpay/biller/internal/platform/chain"
	cfgpkg "github.com/orchardpay/biller/pkg/config"
	metrics "github.com/orchardpay/biller/pkg/metrics"
	"github.com/orchardpay/biller/pkg/permit"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Add request tracing middleware only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

func registerRoutes(
	r *gin.Engine,
	log *zap.SugaredLogger,
	cfg *cfgpkg.Config,
	plans *plansvc.Service,
	subs *subsvc.Service,
	lg *ledger.Service,
	executor *charge.Executor,
	stats *statistics.Service,
	codec *permit.Codec,
	signer *chain.Signer,
) {
	// Prometheus metrics
	if cfg != nil && cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return c.Request.URL.Path
			},
			Logger: log,
		})
		p.SetListenAddress(cfg.MetricsAddr)
		p.Use(r)

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}
	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub)
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Scheduler group: shared-secret auth for the external cron trigger.
	trigger := r.Group("/")
	trigger.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(), mw.TriggerAuthMiddleware(cfg.Billing.TriggerSecret))
	handlers.RegisterChargeRoutes(trigger, executor, subs)

	// Subscription lifecycle is driven by customers holding a signed
	// permission; possession of a valid signature is the credential.
	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterSubscriptionRoutes(apiV1, plans, subs, codec, signer)

	// Merchant group: JWT auth for plan management, the ledger and admin.
	merchant := r.Group("/api/v1")
	merchant.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(), mw.MerchantAuthMiddleware(cfg.Auth.MerchantJWTSecret))
	handlers.RegisterPlanRoutes(merchant, plans)
	handlers.RegisterLedgerRoutes(merchant, lg)
	handlers.RegisterAdminRoutes(merchant.Group("/admin"), lg, stats)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
