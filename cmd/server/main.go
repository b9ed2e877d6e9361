package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baitalqudrat/backend/internal/config"
	"github.com/baitalqudrat/backend/internal/handler"
	appMiddleware "github.com/baitalqudrat/backend/internal/middleware"
	"github.com/baitalqudrat/backend/internal/repository"
	"github.com/baitalqudrat/backend/internal/service"
	"github.com/baitalqudrat/backend/pkg/payment"
	"github.com/baitalqudrat/backend/pkg/sms"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if present (for local development)
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	if os.Getenv("LOG_PRETTY") != "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	ctx := context.Background()

	// Initialize database
	db, err := repository.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database error")
	}
	defer db.Close()

	// Run migrations
	if err := repository.RunMigrations(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("migration error")
	}
	log.Info().Msg("database connected & migrated")

	// Repositories
	userRepo := repository.NewUserRepository(db)
	otpRepo := repository.NewOtpChallengeRepository(db)
	intentRepo := repository.NewPaymentIntentRepository(db)

	// External gateways. Without keys configured, development fallbacks keep
	// the flows exercisable end to end.
	var gateway payment.Gateway
	if cfg.MoyasarSecretKey != "" {
		gateway = payment.NewClient(cfg.MoyasarBaseURL, cfg.MoyasarSecretKey)
	} else {
		log.Warn().Msg("no payment gateway key configured, using mock gateway")
		gateway = payment.NewMockGateway()
	}

	var sender sms.Sender
	if cfg.TaqnyatAPIKey != "" {
		sender = sms.NewClient(cfg.TaqnyatBaseURL, cfg.TaqnyatAPIKey, cfg.TaqnyatSender)
	} else {
		log.Warn().Msg("no sms gateway key configured, logging messages instead")
		sender = sms.LogSender{}
	}

	// Services
	authSvc := service.NewAuthService(cfg.JWTSecret, cfg.AdminEmail, cfg.AdminPassword, userRepo)
	if err := authSvc.SeedAdmin(ctx); err != nil {
		log.Fatal().Err(err).Msg("admin seed error")
	}

	otpSvc := service.NewOtpService(otpRepo, userRepo, sender)
	reconcileSvc := service.NewReconciliationService(intentRepo, userRepo, gateway, cfg.CallbackURL)

	// Handlers
	authHandler := handler.NewAuthHandler(authSvc)
	otpHandler := handler.NewOtpHandler(otpSvc, authSvc)
	paymentHandler := handler.NewPaymentHandler(reconcileSvc)
	webhookHandler := handler.NewWebhookHandler(reconcileSvc)
	plansHandler := handler.NewPlansHandler()
	healthHandler := handler.NewHealthHandler(db)

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(appMiddleware.Recovery)
	r.Use(appMiddleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Global rate limiter (20 req/sec per IP, burst of 40)
	globalRL := appMiddleware.NewRateLimiter(20, 40)
	r.Use(globalRL.Middleware())

	// Health check and public routes (no auth)
	r.Get("/health", healthHandler.Check)
	r.Get("/api/plans", plansHandler.List)
	r.Post("/api/payment/webhook", webhookHandler.HandlePayment) // Public webhook

	// Credential issuance/verification and login, strictly rate limited
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.StrictRateLimiter())
		r.Post("/api/auth/login", authHandler.Login)
		r.Post("/api/otp/send", otpHandler.Send)
		r.Post("/api/otp/verify", otpHandler.Verify)
	})

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(authSvc))

		r.Post("/api/payment/checkout", paymentHandler.CreateCheckout)
		r.Post("/api/payment/verify", paymentHandler.VerifyPayment)
		r.Get("/api/payment/subscription", paymentHandler.GetSubscription)
	})

	// Start server
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Info().Str("addr", addr).Msg("backend listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}
