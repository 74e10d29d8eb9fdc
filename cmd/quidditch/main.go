package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/model-collapse/quidditch/internal/config"
	"github.com/model-collapse/quidditch/internal/engine"
	logpkg "github.com/model-collapse/quidditch/internal/logger"
	"github.com/model-collapse/quidditch/internal/metrics"
	"github.com/model-collapse/quidditch/internal/pipeline/executor"
	"github.com/model-collapse/quidditch/internal/pipeline/registry"
	"github.com/model-collapse/quidditch/internal/pipeline/stage"
	"github.com/model-collapse/quidditch/internal/stages/rerank"
	"github.com/model-collapse/quidditch/internal/stages/similarity"
	"github.com/model-collapse/quidditch/internal/stages/spellcheck"
	"github.com/model-collapse/quidditch/internal/stages/synonyms"
	chiTransport "github.com/model-collapse/quidditch/internal/transport/chi"
	pipelineuc "github.com/model-collapse/quidditch/internal/usecase/pipeline"
	searchuc "github.com/model-collapse/quidditch/internal/usecase/search"
	"github.com/model-collapse/quidditch/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting quidditch API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("engine_url", cfg.Engine.BaseURL),
	)

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()

	// Stage registry with the built-in stages
	reg := registry.New(logger,
		registry.WithDefaultStageTimeout(time.Duration(cfg.Pipeline.StageTimeoutMillis)*time.Millisecond),
		registry.WithResolvedCacheSize(cfg.Pipeline.ResolvedCacheSize),
	)
	builtins := []stage.Spec{
		spellcheck.Spec(spellcheck.DefaultDictionary()),
		synonyms.Spec(synonyms.DefaultTable()),
		rerank.Spec(nil, 0),
		similarity.Spec(),
	}
	for _, sp := range builtins {
		if err := reg.RegisterStage(sp); err != nil {
			logger.Fatal("Failed to register built-in stage",
				zap.String("stage", sp.Name), zap.Error(err))
		}
	}

	// Optional worker pool for parallel filter evaluation
	var execOpts []executor.Option
	if cfg.Pipeline.FilterWorkers > 0 {
		pool, err := ants.NewPool(cfg.Pipeline.FilterWorkers, ants.WithNonblocking(false))
		if err != nil {
			logger.Fatal("Failed to create filter worker pool", zap.Error(err))
		}
		defer pool.Release()
		execOpts = append(execOpts, executor.WithFilterPool(pool))
	}
	exec := executor.New(logger, execOpts...)

	engineClient, err := engine.NewClient(engine.Config{
		BaseURL: cfg.Engine.BaseURL,
		Timeout: time.Duration(cfg.Engine.TimeoutSec) * time.Second,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create engine client", zap.Error(err))
	}

	// Use case services
	pipelineSvc := pipelineuc.New(reg, exec)
	searchSvc := searchuc.New(engineClient, reg, exec)

	// Create chi server
	server := chiTransport.NewServer(pipelineSvc, searchSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
