package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/payway/internal/clock"
	"github.com/smallbiznis/payway/internal/config"
	"github.com/smallbiznis/payway/internal/merchant"
	merchantdomain "github.com/smallbiznis/payway/internal/merchant/domain"
	"github.com/smallbiznis/payway/internal/observability"
	obsmiddleware "github.com/smallbiznis/payway/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/payway/internal/observability/metrics"
	"github.com/smallbiznis/payway/internal/operation"
	operationdomain "github.com/smallbiznis/payway/internal/operation/domain"
	"github.com/smallbiznis/payway/internal/psp"
	pspdomain "github.com/smallbiznis/payway/internal/psp/domain"
	"github.com/smallbiznis/payway/internal/ratelimit"
	"github.com/smallbiznis/payway/internal/transaction"
	transactiondomain "github.com/smallbiznis/payway/internal/transaction/domain"
	"github.com/smallbiznis/payway/internal/webhook"
	webhookdomain "github.com/smallbiznis/payway/internal/webhook/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	merchant.Module,
	transaction.Module,
	operation.Module,
	webhook.Module,
	psp.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
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
	engine      *gin.Engine
	cfg         config.Config
	db          *gorm.DB
	genID       *snowflake.Node
	clock       clock.Clock
	merchantSvc merchantdomain.Service
	txnSvc      transactiondomain.Service
	opSvc       operationdomain.Service
	webhookSvc  webhookdomain.Service
	pspSvc      pspdomain.Service
	pageLimiter *ratelimit.PaymentPageLimiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	GenID       *snowflake.Node
	Clock       clock.Clock
	MerchantSvc merchantdomain.Service
	TxnSvc      transactiondomain.Service
	OpSvc       operationdomain.Service
	WebhookSvc  webhookdomain.Service
	PSPSvc      pspdomain.Service
	PageLimiter *ratelimit.PaymentPageLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		genID:       p.GenID,
		clock:       p.Clock,
		merchantSvc: p.MerchantSvc,
		txnSvc:      p.TxnSvc,
		opSvc:       p.OpSvc,
		webhookSvc:  p.WebhookSvc,
		pspSvc:      p.PSPSvc,
		pageLimiter: p.PageLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerPublicRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.APIKeyRequired())

	api.POST("/transactions", s.CreateTransaction)
	api.GET("/transactions", s.ListTransactions)
	api.GET("/transactions/:id", s.GetTransaction)
	api.POST("/transactions/:id/cancel", s.CancelTransaction)
	api.POST("/transactions/:id/refund", s.RefundTransaction)
	api.GET("/transactions/:id/operations", s.ListTransactionOperations)

	api.GET("/operations", s.ListOperations)
	api.GET("/operations/stats", s.GetOperationStats)
	api.GET("/operations/:id", s.GetOperation)
	api.POST("/operations/:id/cancel", s.CancelOperation)

	api.GET("/webhooks", s.ListWebhooks)
	api.GET("/webhooks/stats", s.GetWebhookStats)
	api.POST("/webhooks/:id/retry", s.RetryWebhook)
}

func (s *Server) registerPublicRoutes() {
	s.engine.GET("/payment/:token", s.GetPaymentPage)
	s.engine.POST("/payment/:token/process", s.ProcessPayment)
	s.engine.POST("/payment/:token/cancel", s.CancelPayment)

	s.engine.POST("/callbacks/psp", s.ProcessorCallback)
}
