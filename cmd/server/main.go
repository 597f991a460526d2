// Command server starts the StudyHub API HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"studyhub/internal/api"
	"studyhub/internal/auth"
	"studyhub/internal/multipart"
	"studyhub/internal/observability/logging"
	"studyhub/internal/observability/metrics"
	"studyhub/internal/server"
	"studyhub/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	sessionStoreDriver := flag.String("session-store", "", "session store driver (memory, postgres, or redis)")
	sessionPostgresDSN := flag.String("session-postgres-dsn", "", "Postgres DSN for the session store")
	sessionRedisURL := flag.String("session-redis-url", "", "Redis URL for the session store (e.g. redis://localhost:6379/0)")
	sessionPurgeInterval := flag.Duration("session-purge-interval", 0, "interval between expired session sweeps")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	allowSelfSignup := flag.Bool("allow-self-signup", false, "allow unauthenticated students to register accounts")
	uploadDir := flag.String("upload-dir", "", "directory for uploaded documents")
	maxUploadBytes := flag.Int64("max-upload-bytes", 0, "maximum accepted upload size in bytes")
	scanWorkers := flag.Int("scan-workers", 0, "number of document scan workers")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	corsOrigins := flag.String("cors-allowed-origins", "", "comma separated origins allowed to call the API")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("STUDYHUB_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("STUDYHUB_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	allowSelfSignupValue := *allowSelfSignup
	if env, ok := os.LookupEnv("STUDYHUB_ALLOW_SELF_SIGNUP"); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			allowSelfSignupValue = value
		} else {
			logger.Warn("invalid STUDYHUB_ALLOW_SELF_SIGNUP", "value", env, "error", err)
		}
	}

	serverMode := modeValue(*mode, os.Getenv("STUDYHUB_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("STUDYHUB_ADDR"))

	tlsCertPath := firstNonEmpty(*tlsCert, os.Getenv("STUDYHUB_TLS_CERT"))
	tlsKeyPath := firstNonEmpty(*tlsKey, os.Getenv("STUDYHUB_TLS_KEY"))

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("STUDYHUB_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" && driver != "postgres" {
		logger.Error("production mode requires the postgres datastore driver", "driver", driver)
		os.Exit(1)
	}

	var (
		store                   storage.Repository
		storagePostgresDSN      string
		datastoreAcquireTimeout time.Duration
	)
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("STUDYHUB_DATA"))
		store, err = storage.NewStorage(dataFile)
	case "postgres":
		storagePostgresDSN = postgresDefaultDSN
		if storagePostgresDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.PostgresOption
		if maxConns := resolveInt(*postgresMaxConns, "STUDYHUB_POSTGRES_MAX_CONNS"); maxConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresMaxConnections(int32(maxConns)))
		}
		datastoreAcquireTimeout = resolveDuration(*postgresAcquireTimeout, "STUDYHUB_POSTGRES_ACQUIRE_TIMEOUT", 0)
		if datastoreAcquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(datastoreAcquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("STUDYHUB_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresStorage(storagePostgresDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	sessionConfig, err := resolveSessionStoreConfig(
		*sessionStoreDriver,
		os.Getenv("STUDYHUB_SESSION_STORE"),
		driver,
		storagePostgresDSN,
		firstNonEmpty(*sessionPostgresDSN, os.Getenv("STUDYHUB_SESSION_POSTGRES_DSN")),
		firstNonEmpty(*sessionRedisURL, os.Getenv("STUDYHUB_SESSION_REDIS_URL")),
	)
	if err != nil {
		logger.Error("failed to resolve session store", "error", err)
		os.Exit(1)
	}

	var (
		sessionStore  auth.SessionStore
		sessionCloser func(context.Context) error
	)
	switch sessionConfig.Driver {
	case "memory":
		sessionStore = auth.NewMemorySessionStore()
	case "postgres":
		pgStore, err := auth.NewPostgresSessionStore(sessionConfig.DSN)
		if err != nil {
			logger.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		sessionStore = pgStore
		sessionCloser = func(ctx context.Context) error { return pgStore.Close(ctx) }
	case "redis":
		redisStore, err := auth.NewRedisSessionStore(sessionConfig.DSN)
		if err != nil {
			logger.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		sessionStore = redisStore
		sessionCloser = func(context.Context) error { return redisStore.Close() }
	default:
		logger.Error("unsupported session store driver", "driver", sessionConfig.Driver)
		os.Exit(1)
	}

	sessions := auth.NewSessionManager(24*time.Hour, auth.WithStore(sessionStore))

	uploads := resolveUploadDir(*uploadDir, os.Getenv("STUDYHUB_UPLOAD_DIR"))
	if err := os.MkdirAll(uploads, 0o755); err != nil {
		logger.Error("failed to create upload directory", "dir", uploads, "error", err)
		os.Exit(1)
	}

	scanner := api.NewDocumentScanner(api.DocumentScannerConfig{
		Store:     store,
		UploadDir: uploads,
		Workers:   resolveInt(*scanWorkers, "STUDYHUB_SCAN_WORKERS"),
		Logger:    logging.WithComponent(logger, "scanner"),
	})
	scanner.Start()

	handler := api.NewHandler(store, sessions)
	handler.AllowSelfSignup = allowSelfSignupValue
	handler.Uploads = multipart.NewDecoder(uploads)
	handler.Scanner = scanner
	handler.UploadDir = uploads
	if maxBytes := resolveInt64(*maxUploadBytes, "STUDYHUB_MAX_UPLOAD_BYTES"); maxBytes > 0 {
		handler.MaxUploadBytes = maxBytes
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	purgeInterval := resolveDuration(*sessionPurgeInterval, "STUDYHUB_SESSION_PURGE_INTERVAL", 15*time.Minute)
	sessionPurgeStop := startSessionPurgeWorker(workerCtx, logging.WithComponent(logger, "session-purger"), sessions, purgeInterval)
	defer sessionPurgeStop()

	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(*globalRPS, "STUDYHUB_RATE_GLOBAL_RPS"),
		GlobalBurst:   resolveInt(*globalBurst, "STUDYHUB_RATE_GLOBAL_BURST"),
		LoginLimit:    resolveInt(*loginLimit, "STUDYHUB_RATE_LOGIN_LIMIT"),
		LoginWindow:   resolveDuration(*loginWindow, "STUDYHUB_RATE_LOGIN_WINDOW", time.Minute),
		RedisAddr:     firstNonEmpty(*redisAddr, os.Getenv("STUDYHUB_RATE_REDIS_ADDR")),
		RedisPassword: firstNonEmpty(*redisPassword, os.Getenv("STUDYHUB_RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*redisTimeout, "STUDYHUB_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	srv, err := server.New(handler, server.Config{
		Addr:        listenAddr,
		TLS:         server.TLSConfig{CertFile: tlsCertPath, KeyFile: tlsKeyPath},
		RateLimit:   rateCfg,
		CORS:        server.CORSConfig{AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("STUDYHUB_CORS_ALLOWED_ORIGINS")))},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ready := make(chan struct{})
	go func() {
		<-ready
		logger.Info("StudyHub API listening", "addr", listenAddr, "mode", serverMode)
		if tlsCertPath != "" && tlsKeyPath != "" {
			logger.Info("TLS enabled", "cert_file", tlsCertPath)
		}
		logger.Info("metrics endpoint available", "path", "/metrics")
	}()

	if err := srv.Run(runCtx, ready); err != nil {
		logger.Error("server error", "error", err)
	}

	workerCancel()
	sessionPurgeStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := scanner.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop document scanner", "error", err)
	}

	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(ctx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	} else if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	if sessionCloser != nil {
		if err := sessionCloser(ctx); err != nil {
			logger.Warn("failed to close session store", "error", err)
		}
	}

	logger.Info("server stopped")
}

type sessionStoreConfig struct {
	Driver string
	DSN    string
}

func resolveSessionStoreConfig(flagDriver, envDriver, storageDriver, storageDSN, sessionDSN, redisURL string) (sessionStoreConfig, error) {
	driver := strings.ToLower(strings.TrimSpace(flagDriver))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envDriver))
	}

	sessionDSN = strings.TrimSpace(sessionDSN)
	redisURL = strings.TrimSpace(redisURL)
	if driver == "" {
		switch {
		case redisURL != "":
			driver = "redis"
		case sessionDSN != "":
			driver = "postgres"
		case storageDriver == "postgres":
			driver = "postgres"
		default:
			driver = "memory"
		}
	}

	switch driver {
	case "", "memory":
		return sessionStoreConfig{Driver: "memory"}, nil
	case "postgres":
		if sessionDSN == "" {
			sessionDSN = strings.TrimSpace(storageDSN)
		}
		if sessionDSN == "" {
			return sessionStoreConfig{}, fmt.Errorf("postgres session store selected without DSN")
		}
		return sessionStoreConfig{Driver: "postgres", DSN: sessionDSN}, nil
	case "redis":
		if redisURL == "" {
			return sessionStoreConfig{}, fmt.Errorf("redis session store selected without URL")
		}
		return sessionStoreConfig{Driver: "redis", DSN: redisURL}, nil
	default:
		return sessionStoreConfig{}, fmt.Errorf("unsupported session store driver %q", driver)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolveUploadDir(flagValue, envValue string) string {
	if dir := strings.TrimSpace(flagValue); dir != "" {
		return dir
	}
	if dir := strings.TrimSpace(envValue); dir != "" {
		return dir
	}
	return "data/uploads"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("STUDYHUB_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt64(flagValue int64, envKey string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
