package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"smartvalue/internal/analysis"
	"smartvalue/internal/auth"
	"smartvalue/internal/broker"
	"smartvalue/internal/config"
	"smartvalue/internal/engine"
	"smartvalue/internal/httpapi"
	"smartvalue/internal/listview"
	"smartvalue/internal/scheduler"
	"smartvalue/internal/store"
	"smartvalue/internal/stream"
	"smartvalue/internal/util"
	"smartvalue/internal/watchlist"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("loading .env: %v", err)
	}

	// Load config.
	cfgPath := "config/smartvalue.yaml"
	if p := os.Getenv("SMARTVALUE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Setup logging.
	logFileName := fmt.Sprintf("/tmp/smartvalue-server-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("opening log file: %v", err)
	}
	defer logFile.Close()

	logger := util.NewLoggerTo(io.MultiWriter(os.Stdout, logFile), cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Create stores.
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("creating database directory: %v", err)
	}
	blobs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer blobs.Close()
	history := store.NewHistoryCache(cfg.Storage.DataDir)

	// Analyzer stack: Gemini behind the result caches.
	gemini, err := analysis.NewGeminiAnalyzer(ctx, analysis.GeminiConfig{
		APIKey:        cfg.Gemini.APIKey,
		Model:         cfg.Gemini.Model,
		BaseURL:       cfg.Gemini.BaseURL,
		Temperature:   *cfg.Gemini.Temperature,
		Timeout:       time.Duration(cfg.Gemini.TimeoutSec) * time.Second,
		RatePerMinute: cfg.Refresh.RateLimitPerMin,
		RetryAttempts: cfg.Refresh.RetryAttempts,
	}, logger)
	if err != nil {
		log.Fatalf("initializing analyzer: %v", err)
	}
	analyzer := analysis.NewCachedAnalyzer(gemini, blobs, history,
		time.Duration(cfg.Cache.MarketTTLMin)*time.Minute,
		time.Duration(cfg.Cache.HistoryTTLMin)*time.Minute,
		logger)

	wl := watchlist.NewStore(blobs, logger)
	opts := []engine.Option{engine.WithMaxWorkers(cfg.Refresh.MaxWorkers)}
	if cfg.Alpaca.APIKey != "" {
		mirror := broker.NewAlpacaMirror(
			cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Alpaca.WatchlistName, logger)
		opts = append(opts, engine.WithMirror(mirror))
		logger.Info("watchlist mirror enabled", "mirror", mirror.Name(), "watchlist", cfg.Alpaca.WatchlistName)
	}
	eng := engine.NewEngine(wl, analyzer, logger, opts...)

	sessions := auth.NewSessions()
	authSvc := auth.NewService(auth.NewBlobDirectory(blobs), logger)

	// Start gRPC event stream.
	grpcLis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
	if err != nil {
		log.Fatalf("listening for gRPC: %v", err)
	}
	grpcServer := grpc.NewServer()
	stream.NewServer(wl, sessions, logger).RegisterGRPC(grpcServer)
	go func() {
		logger.Info("gRPC server listening", "addr", grpcLis.Addr().String())
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	}()

	// Start HTTP server.
	srv := httpapi.NewServer(eng, authSvc, sessions, listview.NewRegistry(), logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Handler(),
	}
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	// Scheduled refreshes.
	var sched *scheduler.Scheduler
	if cfg.Refresh.Schedule != "" {
		sched = scheduler.New(ctx, logger)
		job := scheduler.NewRefreshJob(eng, cfg.Refresh.MarketHoursOnly, logger)
		if err := sched.AddJob(cfg.Refresh.Schedule, job); err != nil {
			log.Fatalf("scheduling refresh %q: %v", cfg.Refresh.Schedule, err)
		}
		sched.Start()
	}

	<-ctx.Done()
	logger.Info("shutting down smartvalue server")

	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	// Event streams only end when the client leaves, so do not wait for them.
	grpcServer.Stop()
	eng.Wait()
}
