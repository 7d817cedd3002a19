package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "swarmstream/internal/api/http"
	"swarmstream/internal/app"
	"swarmstream/internal/metrics"
	mongorepo "swarmstream/internal/repository/mongo"
	"swarmstream/internal/services/session"
	"swarmstream/internal/services/swarm/anacrolix"
	"swarmstream/internal/services/swarm/readiness"
	"swarmstream/internal/telemetry"
	"swarmstream/internal/usecase"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

const serviceName = "swarmstream"

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv(serviceName, ""))
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("storageMode", cfg.SwarmStorageMode),
		slog.Int64("memoryLimitBytes", cfg.SwarmMemoryLimitBytes),
		slog.String("dataDir", cfg.SwarmDataDir),
		slog.Duration("connectTimeout", cfg.SessionConnectTimeout),
		slog.Float64("readyThreshold", cfg.SessionReadyThreshold),
		slog.Bool("historyEnabled", cfg.HistoryEnabled),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		mongoClient *mongo.Client
		repo        *mongorepo.Repository
	)
	if cfg.HistoryEnabled {
		mongoClient, repo = connectHistory(rootCtx, cfg, logger)
	}

	engine, err := anacrolix.New(anacrolix.Config{
		DataDir:            cfg.SwarmDataDir,
		StorageMode:        cfg.SwarmStorageMode,
		MemoryLimitBytes:   cfg.SwarmMemoryLimitBytes,
		ListenPort:         cfg.SwarmListenPort,
		Trackers:           cfg.SwarmTrackers,
		PollInterval:       cfg.SwarmPollInterval,
		PrefixWindowPieces: cfg.SwarmPrefixWindowPieces,
		MaxConns:           cfg.SwarmMaxConns,
		NoUpload:           cfg.SwarmNoUpload,
	})
	if err != nil {
		logger.Error("swarm engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	manager := session.NewManager(engine, session.Config{
		ConnectTimeout: cfg.SessionConnectTimeout,
		Readiness: readiness.Config{
			Threshold:     cfg.SessionReadyThreshold,
			RequirePrefix: cfg.SessionRequirePrefix,
		},
		IdleEviction: cfg.SessionIdleEviction,
	}, session.WithLogger(logger))

	stopRecorder := func() {}
	options := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}

	if repo != nil {
		recorder := usecase.HistoryRecorder{Feed: manager, Repo: repo, Logger: logger, Buffer: 256}
		// Stopped before the manager so that shutdown does not overwrite
		// live records that restore relies on.
		stopRecorder = recorder.Start(context.Background())
		options = append(options, apihttp.WithHistory(usecase.ListHistory{Repo: repo}))

		if cfg.SessionRestore {
			// Restore in background so the HTTP server starts immediately.
			go func() {
				restoreUC := usecase.RestoreSessions{Repo: repo, Sessions: manager, Logger: logger}
				n, err := restoreUC.Execute(rootCtx)
				if err != nil {
					logger.Warn("restore sessions failed", slog.String("error", err.Error()))
				}
				if n > 0 {
					logger.Info("restored sessions", slog.Int("count", n))
				}
			}()
		}
	}

	handler := apihttp.NewServer(manager, options...)

	// Periodically update Prometheus gauges from session state.
	go updateSessionMetrics(rootCtx, manager, engine)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	handler.Close()
	stopRecorder()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("session manager shutdown error", slog.String("error", err.Error()))
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}

func connectHistory(rootCtx context.Context, cfg app.Config, logger *slog.Logger) (*mongo.Client, *mongorepo.Repository) {
	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoClient, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	repo := mongorepo.NewRepository(mongoClient, cfg.MongoDatabase, cfg.MongoCollection)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}
	return mongoClient, repo
}

func updateSessionMetrics(ctx context.Context, manager *session.Manager, engine *anacrolix.Engine) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var dlTotal, ulTotal, peersTotal int64
			for _, snap := range manager.ListSessions() {
				if snap.Status.IsTerminal() {
					continue
				}
				dlTotal += snap.DownloadRate
				ulTotal += snap.UploadRate
				peersTotal += int64(snap.Peers)
			}
			metrics.DownloadSpeedBytes.Set(float64(dlTotal))
			metrics.UploadSpeedBytes.Set(float64(ulTotal))
			metrics.PeersConnected.Set(float64(peersTotal))
			if usage, ok := engine.MemoryUsage(); ok {
				metrics.MemoryStorageBytes.Set(float64(usage.Bytes))
			}
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
