// Command server starts the Pulsecast API HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pulsecast/internal/api"
	"pulsecast/internal/auth"
	"pulsecast/internal/chat"
	"pulsecast/internal/hls"
	"pulsecast/internal/ingest"
	"pulsecast/internal/observability/logging"
	"pulsecast/internal/observability/metrics"
	"pulsecast/internal/server"
	"pulsecast/internal/serverutil"
	"pulsecast/internal/store"
	"pulsecast/internal/supervisor"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to the JSON catalog file")
	storageDriver := flag.String("storage-driver", "", "catalog driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	sessionStoreDriver := flag.String("session-store", "", "session store driver (memory or postgres)")
	sessionTTL := flag.Duration("session-ttl", 0, "session lifetime")
	sessionPurgeInterval := flag.Duration("session-purge-interval", 0, "interval between expired-session sweeps")
	storeRoot := flag.String("store-root", "", "root directory for HLS output")
	ingestHost := flag.String("ingest-host", "", "host[:port] of the RTMP ingest server")
	ffmpegBinary := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	chatDriver := flag.String("chat-driver", "", "chat log driver (file or redis)")
	chatRedisAddr := flag.String("chat-redis-addr", "", "Redis address for the chat log")
	chatRedisUsername := flag.String("chat-redis-username", "", "Redis username for the chat log")
	chatRedisPassword := flag.String("chat-redis-password", "", "Redis password for the chat log")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("PULSECAST_LOG_LEVEL"), "info"),
		Format: firstNonEmpty(*logFormat, os.Getenv("PULSECAST_LOG_FORMAT"), "json"),
	})

	listenAddr := firstNonEmpty(*addr, os.Getenv("PULSECAST_ADDR"), ":8080")
	root := firstNonEmpty(*storeRoot, os.Getenv("PULSECAST_STORE_ROOT"), "./streams")
	rtmpHost := firstNonEmpty(*ingestHost, os.Getenv("PULSECAST_INGEST_HOST"), "localhost")

	segments, err := hls.NewStore(root)
	if err != nil {
		logger.Error("open segment store", "error", err)
		os.Exit(1)
	}

	driver := strings.ToLower(firstNonEmpty(*storageDriver, os.Getenv("PULSECAST_STORAGE_DRIVER"), "json"))
	dsn := firstNonEmpty(*postgresDSN, os.Getenv("PULSECAST_POSTGRES_DSN"))
	var repo store.Repository
	switch driver {
	case "json":
		path := firstNonEmpty(*dataPath, os.Getenv("PULSECAST_DATA"), "./data/pulsecast.json")
		repo, err = store.NewStorage(path)
	case "postgres":
		repo, err = store.NewPostgresRepository(dsn,
			store.WithApplicationName(firstNonEmpty(*postgresAppName, os.Getenv("PULSECAST_POSTGRES_APP_NAME"), "pulsecast")),
		)
	default:
		err = fmt.Errorf("unknown storage driver %q", driver)
	}
	if err != nil {
		logger.Error("open catalog", "driver", driver, "error", err)
		os.Exit(1)
	}

	ttl := *sessionTTL
	if ttl <= 0 {
		ttl = parseDurationEnv("PULSECAST_SESSION_TTL", 7*24*time.Hour)
	}
	sessionDriver := strings.ToLower(firstNonEmpty(*sessionStoreDriver, os.Getenv("PULSECAST_SESSION_STORE"), "memory"))
	var sessionStore auth.SessionStore
	var sessionStoreCloser interface {
		Close(context.Context) error
	}
	switch sessionDriver {
	case "memory":
		sessionStore = auth.NewMemorySessionStore()
	case "postgres":
		pgStore, err := auth.NewPostgresSessionStore(firstNonEmpty(
			*postgresDSN, os.Getenv("PULSECAST_SESSION_POSTGRES_DSN"), dsn))
		if err != nil {
			logger.Error("open session store", "error", err)
			os.Exit(1)
		}
		sessionStore = pgStore
		sessionStoreCloser = pgStore
	default:
		logger.Error("unknown session store driver", "driver", sessionDriver)
		os.Exit(1)
	}
	sessions := auth.NewSessionManager(ttl, auth.WithStore(sessionStore))

	var chatLog chat.Log
	switch strings.ToLower(firstNonEmpty(*chatDriver, os.Getenv("PULSECAST_CHAT_DRIVER"), "file")) {
	case "file":
		chatLog = chat.NewFileLog(segments)
	case "redis":
		redisLog, err := chat.NewRedisLog(chat.RedisLogConfig{
			Addr:     firstNonEmpty(*chatRedisAddr, os.Getenv("PULSECAST_CHAT_REDIS_ADDR")),
			Username: firstNonEmpty(*chatRedisUsername, os.Getenv("PULSECAST_CHAT_REDIS_USERNAME")),
			Password: firstNonEmpty(*chatRedisPassword, os.Getenv("PULSECAST_CHAT_REDIS_PASSWORD")),
		})
		if err != nil {
			logger.Error("open chat log", "error", err)
			os.Exit(1)
		}
		defer redisLog.Close()
		chatLog = redisLog
	default:
		logger.Error("unknown chat driver", "driver", *chatDriver)
		os.Exit(1)
	}

	recorder := metrics.Default()
	launcher := &supervisor.ExecLauncher{
		Binary: firstNonEmpty(*ffmpegBinary, os.Getenv("PULSECAST_FFMPEG"), "ffmpeg"),
		Logger: logging.WithComponent(logger, "transcoder"),
	}
	registry := supervisor.NewRegistry(launcher, logging.WithComponent(logger, "supervisor"), recorder)

	handler := api.NewHandler(repo, sessions)
	handler.Segments = segments
	handler.Coordinator = ingest.NewCoordinator(repo, segments, registry, rtmpHost, logging.WithComponent(logger, "ingest"))
	handler.Chat = chatLog
	handler.Metrics = recorder
	handler.Logger = logging.WithComponent(logger, "api")

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: serverutil.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("PULSECAST_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("PULSECAST_TLS_KEY")),
		},
		Logger:  logging.WithComponent(logger, "http"),
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("configure server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	purgeInterval := *sessionPurgeInterval
	if purgeInterval <= 0 {
		purgeInterval = parseDurationEnv("PULSECAST_SESSION_PURGE_INTERVAL", time.Hour)
	}
	stopPurger := startSessionPurgeWorker(ctx, logging.WithComponent(logger, "sessions"), sessions, purgeInterval)

	logger.Info("server starting", "addr", listenAddr, "storage", driver, "storeRoot", root)
	runErr := srv.Run(ctx)

	stopPurger()
	registry.Shutdown()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := repo.Close(closeCtx); err != nil {
		logger.Warn("close catalog", "error", err)
	}
	if sessionStoreCloser != nil {
		if err := sessionStoreCloser.Close(closeCtx); err != nil {
			logger.Warn("close session store", "error", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("server stopped", "error", runErr)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func parseDurationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
