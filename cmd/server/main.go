package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anonto42/nano-midea/engagement/internal/cache"
	"github.com/anonto42/nano-midea/engagement/internal/events"
	"github.com/anonto42/nano-midea/engagement/internal/metrics"
	"github.com/anonto42/nano-midea/engagement/internal/middleware"
	"github.com/anonto42/nano-midea/engagement/internal/router"
	"github.com/anonto42/nano-midea/engagement/internal/telemetry"
	"github.com/anonto42/nano-midea/engagement/internal/toggle"
	"github.com/anonto42/nano-midea/engagement/pkg/config"
	"github.com/anonto42/nano-midea/engagement/pkg/firebase"
	"github.com/anonto42/nano-midea/engagement/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.New("error", "").Fatal("Invalid configuration", zap.Error(err))
	}

	log := logger.New(cfg.LogLevel, cfg.LogFile)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName:  "engagement",
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.SamplingRate,
	})
	if err != nil {
		log.Warn("Tracing disabled", zap.Error(err))
	}
	if tp != nil {
		defer tp.Shutdown(context.Background())
		log.Info("Tracing enabled", zap.String("endpoint", cfg.OTLPEndpoint))
	}

	// Initialize Firebase when it provides auth or storage
	var fb *firebase.App
	if cfg.AuthProvider == "firebase" || cfg.StoreDriver == "firestore" {
		fb, err = firebase.InitFirebase(ctx, cfg.FirebaseCredentialsPath, cfg.FirebaseProjectID)
		if err != nil {
			log.Fatal("Failed to initialize Firebase", zap.Error(err))
		}
		log.Info("Firebase app and auth client initialized")
	}

	store, err := config.OpenStore(ctx, cfg, fb, log)
	if err != nil {
		log.Fatal("Failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Warn("Failed to close store", zap.Error(err))
		}
	}()

	m := metrics.New(prometheus.DefaultRegisterer)
	opts := []toggle.Option{
		toggle.WithMetrics(m),
		toggle.WithMaxAttempts(cfg.ToggleMaxAttempts),
	}

	if cfg.RedisAddr != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Warn("Relation cache disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			opts = append(opts, toggle.WithCache(cache.NewRedisRelationCache(rdb, cfg.RelationCacheTTL)))
			log.Info("Relation cache enabled", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.RelationCacheTTL))
		}
	}

	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(events.NATSConfig{URL: cfg.NATSURL, Name: "engagement"}, log)
		if err != nil {
			log.Warn("Relation events disabled", zap.Error(err))
		} else {
			defer pub.Close()
			opts = append(opts, toggle.WithPublisher(pub))
			log.Info("Relation events enabled", zap.String("url", cfg.NATSURL))
		}
	}

	svc := toggle.NewService(store, log, opts...)

	var auth echo.MiddlewareFunc
	if cfg.AuthProvider == "jwt" {
		auth = middleware.JWTAuthMiddleware([]byte(cfg.JWTSecret))
	} else {
		auth = middleware.FirebaseAuthMiddleware(fb.AuthClient)
	}

	e := router.New(router.Dependencies{
		Store:     store,
		Relations: svc,
		Auth:      auth,
		Logger:    log,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(e, "engagement-api"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Metrics server listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		log.Info("Server listening", zap.String("addr", server.Addr), zap.String("store", store.Name()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Metrics server shutdown failed", zap.Error(err))
	}
}
