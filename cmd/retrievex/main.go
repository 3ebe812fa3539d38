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
	"go.uber.org/zap"

	"github.com/kailas-cloud/retrievex/internal/config"
	dbRedis "github.com/kailas-cloud/retrievex/internal/db/redis"
	"github.com/kailas-cloud/retrievex/internal/domain/profile"
	logpkg "github.com/kailas-cloud/retrievex/internal/logger"
	"github.com/kailas-cloud/retrievex/internal/metrics"
	"github.com/kailas-cloud/retrievex/internal/repository/docstore"
	"github.com/kailas-cloud/retrievex/internal/repository/semcache"
	chiTransport "github.com/kailas-cloud/retrievex/internal/transport/chi"
	openaiEmb "github.com/kailas-cloud/retrievex/internal/transport/openai"
	"github.com/kailas-cloud/retrievex/internal/transport/rerank"
	fusionuc "github.com/kailas-cloud/retrievex/internal/usecase/fusion"
	healthuc "github.com/kailas-cloud/retrievex/internal/usecase/health"
	retrieveuc "github.com/kailas-cloud/retrievex/internal/usecase/retrieve"
	thresholduc "github.com/kailas-cloud/retrievex/internal/usecase/threshold"
	"github.com/kailas-cloud/retrievex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting retrievex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterRetrievalMetrics()

	embedder := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	var reranker retrieveuc.Reranker
	var rerankerHealth healthuc.ComponentChecker
	if cfg.Reranker.BaseURL != "" {
		client := rerank.NewClient(&rerank.Config{
			BaseURL:      cfg.Reranker.BaseURL,
			APIKey:       cfg.Reranker.APIKey,
			Model:        cfg.Reranker.Model,
			Timeout:      time.Duration(cfg.Reranker.TimeoutMs) * time.Millisecond,
			RateLimitRPS: cfg.Reranker.RateLimitRPS,
			RateBurst:    cfg.Reranker.RateBurst,
			Logger:       logger,
		})
		reranker = &rerankAdapter{client: client}
		rerankerHealth = client
		logger.Info("Reranker client created", zap.String("base_url", cfg.Reranker.BaseURL))
	}

	docs := docstore.New(store, cfg.Database.IndexName, cfg.Database.KeyPrefix, cfg.Retrieval.MaxPerBackend)

	// Each backend call gets a slice of the request budget so a slow backend
	// cannot eat the whole of it.
	backendTimeout := time.Duration(cfg.Retrieval.RequestBudgetMs) * time.Millisecond * 6 / 10
	fuser := fusionuc.New(docs, docs, fusionuc.Config{
		RRFK:           cfg.Retrieval.RRFK,
		LexicalWeight:  cfg.Retrieval.LexicalWeight,
		VectorWeight:   cfg.Retrieval.VectorWeight,
		MaxPerBackend:  cfg.Retrieval.MaxPerBackend,
		BackendTimeout: backendTimeout,
	}, logger)

	profiles := thresholduc.New(map[profile.Bias]profile.Profile{
		profile.Balanced: {
			Bias:            profile.Balanced,
			CandidatePool:   cfg.Retrieval.Balanced.CandidatePoolSize,
			RerankThreshold: cfg.Retrieval.Balanced.RerankThreshold,
		},
		profile.HighRecall: {
			Bias:            profile.HighRecall,
			CandidatePool:   cfg.Retrieval.HighRecall.CandidatePoolSize,
			RerankThreshold: cfg.Retrieval.HighRecall.RerankThreshold,
		},
		profile.HighPrecision: {
			Bias:            profile.HighPrecision,
			CandidatePool:   cfg.Retrieval.HighPrecision.CandidatePoolSize,
			RerankThreshold: cfg.Retrieval.HighPrecision.RerankThreshold,
		},
	})

	cache := semcache.New(semcache.Config{
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		TTL:                 time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		MaxProbes:           cfg.Cache.MaxProbes,
		L1Size:              cfg.Cache.L1Size,
		SweepInterval:       time.Duration(cfg.Cache.SweepIntervalSec) * time.Second,
	}, store, metrics.CacheLookupsTotal, logger)
	cache.Start()
	defer cache.Stop()

	retrievalSvc := retrieveuc.New(embedder, fuser, reranker, profiles, cache, retrieveuc.Config{}, logger)

	healthSvc := healthuc.New(store, embedder, rerankerHealth)

	server := chiTransport.NewServer(retrievalSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.RegisterRoutes(r)

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

// rerankAdapter bridges the rerank HTTP client to the orchestrator contract.
type rerankAdapter struct {
	client *rerank.Client
}

func (a *rerankAdapter) Score(ctx context.Context, queryText string, docs []retrieveuc.RerankDoc) (map[string]float64, error) {
	out := make([]rerank.Document, len(docs))
	for i, d := range docs {
		out[i] = rerank.Document{ID: d.ID, Text: d.Text}
	}
	return a.client.Score(ctx, queryText, out)
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

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
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
