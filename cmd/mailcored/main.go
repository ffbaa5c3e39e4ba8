// Command mailcored is the mail-core process entrypoint: it loads
// configuration, wires the Domain Registry, Message Store, Authenticator,
// Local Delivery pipeline, and the three protocol listeners (SMTP, IMAP,
// POP3) together, then serves until SIGINT/SIGTERM, grounded on the
// teacher's services/smtp-server/main.go wiring (flag-parsed config path,
// zap JSON logger, pgxpool + redis clients, a Prometheus /metrics HTTP
// server, signal-driven graceful shutdown with a bounded timeout).
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/oonrumail/mailcore/internal/auth"
	"github.com/oonrumail/mailcore/internal/blobstore"
	"github.com/oonrumail/mailcore/internal/config"
	"github.com/oonrumail/mailcore/internal/delivery"
	"github.com/oonrumail/mailcore/internal/domain"
	"github.com/oonrumail/mailcore/internal/imap"
	"github.com/oonrumail/mailcore/internal/listener"
	"github.com/oonrumail/mailcore/internal/pop3"
	"github.com/oonrumail/mailcore/internal/smtp"
	"github.com/oonrumail/mailcore/internal/store"
	"github.com/oonrumail/mailcore/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging.Level)
	defer logger.Sync()

	logger.Info("starting mailcored", zap.String("hostname", cfg.Server.Hostname))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	redisClient := initRedis(cfg.Redis)
	defer redisClient.Close()

	blobs, err := initBlobstore(ctx, cfg.Storage, logger.Named("blobstore"))
	if err != nil {
		logger.Fatal("failed to initialize blobstore", zap.Error(err))
	}

	tenantStore := store.NewPGStore(dbPool, logger.Named("store"))

	domainRepo := domain.NewPGRepository(dbPool, logger.Named("domain-repo"))
	domainCache := domain.NewCache(domainRepo, logger.Named("domain-cache"), cfg.Registry.CacheTTL, cfg.Registry.RefreshCron)
	if err := domainCache.Start(ctx); err != nil {
		logger.Fatal("failed to start domain cache", zap.Error(err))
	}
	defer domainCache.Stop()
	if err := domain.ListenForChanges(ctx, dbPool, domainCache, logger.Named("domain-listen")); err != nil {
		logger.Warn("domain registry change notifications unavailable", zap.Error(err))
	}

	authCfg := auth.Config{
		Enabled:           cfg.Lockout.Enabled,
		MaxFailedAttempts: cfg.Lockout.MaxFailedAttempts,
		LockoutDuration:   time.Duration(cfg.Lockout.LockoutDurationMinutes) * time.Minute,
		ResetWindow:       time.Duration(cfg.Lockout.ResetWindowMinutes) * time.Minute,
	}
	authenticator := auth.New(tenantStore, redisClient, authCfg, nil, logger.Named("auth"))

	metrics := telemetry.New()
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics.Register(registry)

	deliveryPipeline := delivery.New(singleTenantResolver{store: tenantStore}, domainCache, blobs, nil, logger.Named("delivery"))

	tlsConfig, err := initTLS(cfg.TLS)
	if err != nil {
		logger.Fatal("failed to load TLS material", zap.Error(err))
	}

	smtpServer := smtp.NewServer(smtp.Config{
		Hostname:        cfg.Server.Hostname,
		SMTPAddr:        fmt.Sprintf("%s:%d", cfg.SMTP.Host, cfg.SMTP.Port),
		SubmissionAddr:  fmt.Sprintf("%s:%d", cfg.SMTP.Host, cfg.SMTP.SubmissionPort),
		MaxMessageBytes: int(cfg.Server.MaxMessageSizeBytes),
		MaxRecipients:   cfg.SMTP.MaxRecipients,
		ReadTimeout:     cfg.SMTP.ReadTimeout,
		WriteTimeout:    cfg.SMTP.WriteTimeout,
		TLSConfig:       tlsConfig,
	}, domainCache, deliveryPipeline, authenticator, metrics, logger.Named("smtp"))

	imapServer := imap.NewServer(imap.Config{
		Hostname:       cfg.Server.Hostname,
		Addr:           fmt.Sprintf("%s:%d", cfg.IMAP.Host, cfg.IMAP.Port),
		IdleTimeout:    cfg.IMAP.IdleTimeout,
		MaxConnections: cfg.IMAP.MaxConnections,
		TLSConfig:      tlsConfig,
	}, tenantStore, domainCache, authenticator, metrics, logger.Named("imap"))

	pop3Server := pop3.NewServer(pop3.Config{
		Hostname:       cfg.Server.Hostname,
		Addr:           fmt.Sprintf("%s:%d", cfg.POP3.Host, cfg.POP3.Port),
		IdleTimeout:    cfg.POP3.IdleTimeout,
		MaxConnections: cfg.POP3.MaxConnections,
		TLSConfig:      tlsConfig,
	}, tenantStore, domainCache, authenticator, metrics, logger.Named("pop3"))

	sup := listener.NewSupervisor(logger.Named("listener"))
	sup.Add("smtp", smtpServer, cfg.SMTP.Enabled)
	sup.Add("imap", imapServer, cfg.IMAP.Enabled)
	sup.Add("pop3", pop3Server, cfg.POP3.Enabled)

	if err := sup.Start(); err != nil {
		logger.Fatal("failed to start listeners", zap.Error(err))
	}

	metricsServer := initMetricsServer(cfg.Metrics, registry)
	go func() {
		logger.Info("starting metrics server", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop metrics server", zap.Error(err))
	}
	if err := sup.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop listeners", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

// singleTenantResolver is the TenantResolver for a single-database
// deployment: every domain.Record resolves to the one injected Store,
// since the Message Store already scopes rows by domain_id rather than
// by separate physical databases (Open Question decision, see DESIGN.md).
type singleTenantResolver struct {
	store store.Store
}

func (r singleTenantResolver) StoreFor(rec *domain.Record) (store.Store, error) {
	return r.store, nil
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

func initBlobstore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (blobstore.Blobstore, error) {
	switch cfg.Backend {
	case "s3":
		return blobstore.NewS3Blobstore(ctx, blobstore.S3Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		}, logger)
	default:
		root := cfg.FilesystemRoot
		if root == "" {
			root = "./data/attachments"
		}
		return blobstore.NewFilesystemBlobstore(root)
	}
}

func initTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS certificate: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func initMetricsServer(cfg config.MetricsConfig, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
