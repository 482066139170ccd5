// Package main is the entry point for the authorization service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/gatekeeper/internal/auth"
	"github.com/vyrodovalexey/gatekeeper/internal/authz"
	"github.com/vyrodovalexey/gatekeeper/internal/config"
	"github.com/vyrodovalexey/gatekeeper/internal/observability"
	"github.com/vyrodovalexey/gatekeeper/internal/ratelimit"
	"github.com/vyrodovalexey/gatekeeper/internal/routing"
	"github.com/vyrodovalexey/gatekeeper/internal/server"
	"github.com/vyrodovalexey/gatekeeper/internal/store"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)

	app, cleanup := initApplication(cfg, logger)
	defer cleanup()

	run(app, cfg, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("GATEKEEPER_CONFIG_PATH", "configs/gatekeeper.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("GATEKEEPER_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("GATEKEEPER_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("gatekeeper version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting gatekeeper",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}
	return cfg
}

// application holds the assembled service components.
type application struct {
	server *server.Server
}

// initApplication wires the store, credential verification, route
// matching, rate limiting and the HTTP front-end together. The returned
// cleanup function releases every backing resource.
func initApplication(cfg *config.Config, logger observability.Logger) (*application, func()) {
	metrics := observability.NewMetrics("gatekeeper")

	st, closeStore := initStore(cfg, logger, metrics)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
	}

	var nonces auth.NonceStore
	if redisClient != nil {
		nonces = auth.NewRedisNonceStore(redisClient, cfg.Auth.NonceTTL,
			auth.WithNonceStoreLogger(logger),
			auth.WithNonceStoreMetrics(metrics))
	} else {
		logger.Warn("redis disabled, using in-process nonce store; replay protection does not span instances")
		nonces = auth.NewMemoryNonceStore(cfg.Auth.NonceTTL)
	}

	verifier := auth.NewVerifier(st, nonces,
		auth.WithTimestampTolerance(cfg.Auth.TimestampTolerance),
		auth.WithVerifierLogger(logger),
	)

	extractor := auth.NewExtractor(
		auth.WithHeaderName(cfg.Auth.HeaderName),
		auth.WithQueryParamName(cfg.Auth.QueryParamName),
	)

	matcher := routing.NewMatcher(st, routing.WithMatcherLogger(logger))
	permissions := authz.NewPermissionChecker(st)

	engineOpts := []authz.EngineOption{
		authz.WithEngineLogger(logger),
		authz.WithEngineMetrics(metrics),
		authz.WithExtractor(extractor),
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		var counter ratelimit.Counter
		if redisClient != nil {
			counter = ratelimit.NewRedisCounter(redisClient, cfg.RateLimit.KeyPrefix)
		} else {
			logger.Warn("redis disabled, using in-process rate limit counter; caps are enforced per instance")
			counter = ratelimit.NewMemoryCounter()
		}
		limiter = ratelimit.NewLimiter(st, counter,
			ratelimit.WithCacheTTL(cfg.RateLimit.CacheTTL),
			ratelimit.WithFailOpen(cfg.RateLimit.FailOpen),
			ratelimit.WithLimiterLogger(logger),
			ratelimit.WithLimiterMetrics(metrics),
		)
		engineOpts = append(engineOpts, authz.WithRateLimiter(limiter))
	}

	engine := authz.NewEngine(matcher, verifier, st, permissions, engineOpts...)

	serverOpts := []server.Option{
		server.WithServerLogger(logger),
		server.WithServerMetrics(metrics),
		server.WithStorePinger(st),
	}
	if limiter != nil {
		serverOpts = append(serverOpts, server.WithUsageLimiter(limiter))
	}

	srv := server.New(&server.Config{
		Address:         cfg.Server.Address,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, engine, serverOpts...)

	cleanup := func() {
		_ = nonces.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
		closeStore()
	}

	return &application{server: srv}, cleanup
}

// initStore creates the configured backing store.
func initStore(cfg *config.Config, logger observability.Logger, metrics *observability.Metrics) (store.Store, func()) {
	switch cfg.Store.Type {
	case config.StoreTypePostgres:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.Postgres.ConnectTimeout)
		defer cancel()

		st, err := store.NewPostgresStore(ctx, &store.PostgresConfig{
			DSN:            cfg.Store.Postgres.DSN,
			MinConns:       cfg.Store.Postgres.MinConns,
			MaxConns:       cfg.Store.Postgres.MaxConns,
			ConnectTimeout: cfg.Store.Postgres.ConnectTimeout,
			Logger:         logger,
			Metrics:        metrics,
		})
		if err != nil {
			logger.Fatal("failed to connect to postgres", observability.Error(err))
		}
		return st, st.Close
	default:
		logger.Warn("using in-memory store; records do not survive restarts")
		st := store.NewMemoryStore()
		return st, st.Close
	}
}

// run starts the HTTP server and blocks until a termination signal.
func run(app *application, cfg *config.Config, logger observability.Logger) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", observability.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server failed", observability.Error(err))
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", observability.Error(err))
	}
	logger.Info("shutdown complete")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
