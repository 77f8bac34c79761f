// Package handler implements the merchant-facing REST API: payment
// authorization, capture, void, refund, transaction lookup, and
// settlement/dispute endpoints. Grounded on the teacher gateway's
// services/gateway/internal/handler package (DTO-per-endpoint, one
// HandleError helper every handler funnels through), generalized from a
// gRPC-status mapping to the typed apperror taxonomy since this gateway's
// services return apperror.Error directly rather than gRPC statuses.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/acquiro/gateway/internal/metrics"
	"github.com/acquiro/gateway/internal/middleware"
)

// ReadinessChecker reports whether the gateway's dependencies are
// reachable; cmd/gateway checks MySQL and Redis.
type ReadinessChecker func(ctx context.Context) error

// Router wires every merchant-facing endpoint to its middleware chain.
type Router struct {
	engine         *gin.Engine
	paymentH       *PaymentHandler
	transactionH   *TransactionHandler
	refundH        *RefundHandler
	refundListH    *RefundLister
	settlementH    *SettlementHandler
	authMW         *middleware.AuthMiddleware
	rateLimitMW    *middleware.RateLimitMiddleware
	tracingMW      *middleware.TracingMiddleware
	readinessCheck ReadinessChecker
}

// RouterConfig collects everything NewRouter needs to build the engine.
type RouterConfig struct {
	PaymentHandler     *PaymentHandler
	TransactionHandler *TransactionHandler
	RefundHandler      *RefundHandler
	RefundLister       *RefundLister
	SettlementHandler  *SettlementHandler
	AuthMW             *middleware.AuthMiddleware
	RateLimitMW        *middleware.RateLimitMiddleware
	TracingMW          *middleware.TracingMiddleware
	ReadinessCheck     ReadinessChecker
	Debug              bool
}

// NewRouter builds and configures the HTTP router.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	engine.Use(middleware.SecurityHeaders())
	engine.Use(otelgin.Middleware("acquiring-gateway"))
	engine.Use(metrics.GinMetricsMiddleware("acquiring-gateway"))

	r := &Router{
		engine:         engine,
		paymentH:       cfg.PaymentHandler,
		transactionH:   cfg.TransactionHandler,
		refundH:        cfg.RefundHandler,
		refundListH:    cfg.RefundLister,
		settlementH:    cfg.SettlementHandler,
		authMW:         cfg.AuthMW,
		rateLimitMW:    cfg.RateLimitMW,
		tracingMW:      cfg.TracingMW,
		readinessCheck: cfg.ReadinessCheck,
	}

	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	if r.tracingMW != nil {
		r.engine.Use(r.tracingMW.Handle())
	}

	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheckHandler)

	v1 := r.engine.Group("/api/v1")

	// Auth runs first so the rate limiter can key on the merchant.
	if r.authMW != nil {
		v1.Use(r.authMW.Handle())
	}
	if r.rateLimitMW != nil {
		v1.Use(r.rateLimitMW.Handle())
	}

	payments := v1.Group("/payments")
	{
		payments.POST("", r.paymentH.Authorize)
		payments.GET("/:id", r.transactionH.Get)
		payments.POST("/:id/capture", r.paymentH.Capture)
		payments.POST("/:id/void", r.paymentH.Void)
		payments.POST("/:id/refunds", r.refundH.Create)
		payments.GET("/:id/refunds", r.refundListH.List)
		payments.POST("/:id/disputes", r.settlementH.OpenDispute)
	}

	batches := v1.Group("/settlement-batches")
	{
		batches.POST("", r.settlementH.CreateBatch)
		batches.POST("/:id/reconcile", r.settlementH.Reconcile)
	}

	disputes := v1.Group("/disputes")
	{
		disputes.POST("/:id/resolve", r.settlementH.ResolveDispute)
	}
}

// Engine returns the underlying Gin engine for serving.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (r *Router) readinessCheckHandler(c *gin.Context) {
	if r.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.readinessCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
