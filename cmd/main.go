package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auth_backend/internal/auth"
	"auth_backend/internal/config"
	forgotPassword "auth_backend/internal/http_server/handlers/forgot_password"
	"auth_backend/internal/http_server/handlers/me"
	"auth_backend/internal/http_server/handlers/refresh"
	resetPassword "auth_backend/internal/http_server/handlers/reset_password"
	"auth_backend/internal/http_server/handlers/signin"
	"auth_backend/internal/http_server/handlers/signup"
	"auth_backend/internal/lib/hasher"
	jwtlib "auth_backend/internal/lib/jwt"
	"auth_backend/internal/middleware/authn"
	rateLimit "auth_backend/internal/middleware/ratelimit"
	"auth_backend/internal/rabbitmq"
	"auth_backend/internal/storage/postgres"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad("./config/config.yaml")

	log := setupLogger(cfg.Env)

	log.Info("starting auth backend", slog.String("env", cfg.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("Shutdown signal received")
		cancel()
	}()

	storage, err := postgres.New(ctx, cfg)
	if err != nil {
		log.Error("failed to connect postgres", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer storage.Close()

	msgBroker, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
	if err != nil {
		log.Error("failed to connect rabbitmq", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer msgBroker.Close()

	tokenService := jwtlib.New(jwtlib.Secrets{
		Access:  cfg.Tokens.AccessTokenSecret,
		Refresh: cfg.Tokens.RefreshTokenSecret,
		Reset:   cfg.Tokens.ResetTokenSecret,
	})

	authService := auth.New(
		log,
		storage,
		storage,
		hasher.New(bcrypt.DefaultCost),
		tokenService,
		msgBroker,
		cfg.Tokens.AccessTokenTTL,
		cfg.Tokens.RefreshTokenTTL,
		cfg.Tokens.ResetTokenTTL,
		cfg.BaseURL,
	)

	router := setupRouter(log, authService, tokenService, storage)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", slog.String("err", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", slog.String("err", err.Error()))
	} else {
		log.Info("Server stopped gracefully")
	}

	log.Info("Main service stopped")
}

func setupRouter(
	log *slog.Logger,
	authService *auth.Auth,
	tokenService *jwtlib.Service,
	storage *postgres.PostgresRepo,
) *chi.Mux {
	validate := validator.New()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.With(rateLimit.SignUp()).Post("/signup",
		signup.New(log, validate, authService),
	)
	r.With(rateLimit.SignIn()).Post("/signin",
		signin.New(log, validate, authService),
	)
	r.With(rateLimit.Refresh()).Post("/refresh",
		refresh.New(log, validate, authService),
	)
	r.With(rateLimit.ForgotPassword()).Post("/forgot_password",
		forgotPassword.New(log, validate, authService),
	)
	r.With(rateLimit.ResetPassword()).Post("/reset_password",
		resetPassword.New(log, validate, authService),
	)

	r.Group(func(r chi.Router) {
		r.Use(authn.New(log, tokenService))

		r.Get("/me", me.New(log, storage))
	})

	return r
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
