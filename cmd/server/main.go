package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/payrelay/internal/auth"
	"github.com/ksred/payrelay/internal/config"
	"github.com/ksred/payrelay/internal/database"
	"github.com/ksred/payrelay/internal/gateway"
	"github.com/ksred/payrelay/internal/ledger"
	"github.com/ksred/payrelay/internal/orders"
	"github.com/ksred/payrelay/internal/reconcile"
	"github.com/ksred/payrelay/internal/signature"
	"github.com/ksred/payrelay/internal/webhook"
	"github.com/ksred/payrelay/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main wires the relay together and serves it with graceful shutdown
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	orderLedger, err := newLedger(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize ledger")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	dispatcher := webhook.NewDispatcher(256)
	dispatcherCtx, dispatcherCancel := context.WithCancel(context.Background())
	defer dispatcherCancel()
	go dispatcher.Start(dispatcherCtx)

	verifier := signature.NewVerifier(cfg.KeySecret, cfg.WebhookSecret)
	if !verifier.WebhookConfigured() {
		zlog.Warn().Msg("RAZORPAY_WEBHOOK_SECRET is not set, webhooks will be refused")
	}
	engine := reconcile.NewEngine(orderLedger, verifier, dispatcher)

	authService := auth.NewService(cfg.JWTSecret, cfg.APIClients)
	authHandlers := auth.NewGinHandlers(authService)

	orderService := orders.NewService(orderLedger, newGateway(cfg))
	orderHandlers := orders.NewGinHandlers(orderService, engine, cfg.KeyID)

	webhookHandlers := webhook.NewGinHandlers(engine)

	router.Use(middleware.CORS(cfg.CORSOrigins))

	setupRoutes(router, cfg, authHandlers, orderHandlers, webhookHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		zlog.Info().
			Str("port", cfg.Port).
			Str("ledger", cfg.LedgerDriver).
			Str("gateway", cfg.GatewayMode).
			Msg("payment relay listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding requests 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

func newLedger(cfg *config.Config) (ledger.Ledger, error) {
	if cfg.LedgerDriver == config.LedgerDriverSQLite {
		db, err := database.NewDatabase(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		return ledger.NewDatabaseLedger(db), nil
	}
	return ledger.NewMemoryLedger(), nil
}

func newGateway(cfg *config.Config) gateway.Client {
	if cfg.GatewayMode == config.GatewayModeFake {
		zlog.Warn().Msg("using fake payment gateway")
		return gateway.NewFakeClient()
	}
	return gateway.NewRazorpayClient(cfg.GatewayURL, cfg.KeyID, cfg.KeySecret, cfg.GatewayTimeout)
}

// setupRoutes configures all API endpoints and their handlers
// - Auth routes: public, exchange API credentials for a token
// - Order routes: protected by JWT authentication, rate limited per client
// - Payment callback and webhook: authenticated by gateway HMAC signatures
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	orderHandlers *orders.GinHandlers,
	webhookHandlers *webhook.GinHandlers,
) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		auth.Use(middleware.RateLimit())
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		orders := v1.Group("/orders")
		orders.Use(
			middleware.JWTAuth(cfg.JWTSecret),
			middleware.RequirePermission("orders"),
			middleware.RateLimit(),
		)
		{
			orders.POST("", orderHandlers.CreateOrderHandler())
			orders.GET("", orderHandlers.ListOrdersHandler())
			orders.GET("/:order_id", orderHandlers.GetOrderStatusHandler())
		}

		payments := v1.Group("/payments")
		payments.Use(middleware.RateLimit())
		{
			payments.POST("/callback", orderHandlers.PaymentCallbackHandler())
		}

		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/razorpay", webhookHandlers.WebhookHandler())
		}
	}
}
