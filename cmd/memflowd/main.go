// memflowd is the memory tiering and decay daemon.
//
// Usage:
//
//	memflowd serve                       # start the daemon
//	memflowd serve --config memflow.yaml # with a config file
//	memflowd decay                       # run one decay batch and exit
//	memflowd version                     # print version info
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/BaSui01/memflow/compress"
	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/engine"
	"github.com/BaSui01/memflow/engine/decay"
	"github.com/BaSui01/memflow/engine/economics"
	"github.com/BaSui01/memflow/engine/feedback"
	"github.com/BaSui01/memflow/engine/router"
	"github.com/BaSui01/memflow/engine/scheduler"
	enginesignal "github.com/BaSui01/memflow/engine/signal"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

// Version info, injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:], false)
	case "decay":
		runServe(os.Args[2:], true)
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string, oneShot bool) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	_ = fs.Parse(args)

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("memflowd starting",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
		zap.String("database_driver", cfg.Database.Driver))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer func() { _ = st.Close() }()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		defer func() { _ = redisClient.Close() }()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, weights cache disabled", zap.Error(err))
			redisClient = nil
		}
	}
	weightsCache := store.NewWeightsCache(redisClient, cfg.Redis.WeightsTTL, logger)

	collector := metrics.NewCollector("memflow", logger)

	counter := compress.NewTokenCounter(cfg.Decay.Compressor.Encoding)
	var limiter *rate.Limiter
	if rps := cfg.Decay.Compressor.RequestsPerSecond; rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	compressor := compress.NewResilient(
		compress.NewTruncatingCompressor(counter),
		counter,
		cfg.Decay.Compressor.ToRetryPolicy(),
		limiter,
		logger,
	)

	extractor := enginesignal.NewExtractor(cfg.Signal.ToSignal(), enginesignal.NopSimilarityIndex{}, logger)
	rt := router.New(types.DefaultRouterWeights(), cfg.Router.ToThresholds(), logger)

	adapter := feedback.NewAdapter(cfg.Feedback.ToFeedback(), rt, st, weightsCache, collector, logger)
	if err := adapter.LoadWeights(ctx); err != nil {
		logger.Fatal("load router weights", zap.Error(err))
	}

	phases := cfg.Decay.ToPhaseConfig()
	if err := phases.Validate(); err != nil {
		logger.Fatal("invalid phase configuration", zap.Error(err))
	}
	manager := decay.NewManager(phases, cfg.Decay.ToStrengthParams(), compressor, counter, logger)
	tracker := economics.NewTracker(st.Ledger(), collector, logger)
	sched := scheduler.New(cfg.Scheduler.ToScheduler(), st.Records(), manager, tracker, collector, logger)

	if oneShot {
		summary, err := sched.RunOnce(ctx)
		if err != nil {
			logger.Fatal("decay batch failed", zap.Error(err))
		}
		logger.Info("decay batch complete",
			zap.Int("processed", summary.Processed),
			zap.Int("advanced", summary.Advanced),
			zap.Int("forgotten", summary.Forgotten),
			zap.Int("tokens_saved", summary.TokensSaved))
		return
	}

	engineCfg := cfg.Engine.ToEngine()
	if cfg.Engine.EpisodicTokenBudget == 0 {
		// Record creation clamps to the same episodic budget the phase
		// table uses, including any configured override.
		engineCfg.EpisodicTokenBudget = phases.Budgets[types.PhaseEpisodic]
	}
	eng := engine.New(engineCfg, extractor, rt, st, nil, counter, collector, logger)

	adapter.Start(ctx)
	defer adapter.Stop()

	if err := sched.Start(ctx); err != nil {
		logger.Fatal("start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	var httpServer *http.Server
	if cfg.Server.HTTPPort > 0 {
		api := NewServer(eng, adapter, tracker, logger)
		httpServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
			Handler: api.Routes(),
		}
		go func() {
			logger.Info("http api listening", zap.String("addr", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server", zap.Error(err))
			}
		}()
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			Handler: mux,
		}
		go func() {
			logger.Info("metrics listening", zap.String("addr", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	opts := []zap.Option{}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func printVersion() {
	fmt.Printf("memflowd %s\n", Version)
	fmt.Printf("  build time: %s\n", BuildTime)
	fmt.Printf("  git commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`memflowd - adaptive memory tiering and decay daemon

Usage:
  memflowd serve [--config memflow.yaml]   start the daemon
  memflowd decay [--config memflow.yaml]   run one decay batch and exit
  memflowd version                         print version info`)
}
