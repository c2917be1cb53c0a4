package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/palaver-chat/palaver/internal/api"
	"github.com/palaver-chat/palaver/internal/auth"
	"github.com/palaver-chat/palaver/internal/config"
	"github.com/palaver-chat/palaver/internal/db"
	"github.com/palaver-chat/palaver/internal/events"
	"github.com/palaver-chat/palaver/internal/metrics"
	"github.com/palaver-chat/palaver/internal/presence"
	"github.com/palaver-chat/palaver/internal/redis"
	"github.com/palaver-chat/palaver/internal/repositories"
	"github.com/palaver-chat/palaver/internal/scheduler"
	"github.com/palaver-chat/palaver/internal/signalqueue"
	"github.com/palaver-chat/palaver/internal/websocket"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:   "palaver-server",
		Short: "Palaver server, real-time chat messaging over websockets",
		Long: `Palaver server holds the websocket connections of chat clients.
It tracks who is online in a Redis set shared by every server process,
handles chat events sent over the socket, and delivers events published
on the Redis signal queue by other services.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	cfg.BindFlags(root.PersistentFlags())

	root.AddCommand(newVersionCmd())
	root.AddCommand(newMigrateCmd(cfg))
	root.AddCommand(newTokenCmd(cfg))
	root.AddCommand(newKeygenCmd(cfg))

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("palaver-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			database, err := db.New(db.Config{
				Driver:   cfg.DBDriver,
				DSN:      cfg.DBDSN,
				Logger:   logger,
				LogLevel: gormlogger.Warn,
			})
			if err != nil {
				return err
			}
			defer db.Close(database) //nolint:errcheck

			logger.Info("database schema is up to date", zap.String("db_driver", cfg.DBDriver))
			return nil
		},
	}
}

func newTokenCmd(cfg *config.Config) *cobra.Command {
	var (
		userID int64
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for a user (requires --jwt-private-key)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user-id must be a positive user id")
			}
			if cfg.JWTPrivateKeyPath == "" || cfg.JWTPublicKeyPath == "" {
				return fmt.Errorf("--jwt-private-key and --jwt-public-key are required to sign tokens")
			}

			mgr, err := auth.NewJWTManagerFromFiles(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTIssuer)
			if err != nil {
				return err
			}
			token, err := mgr.GenerateAccessToken(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user-id", 0, "Subject of the token")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenDuration, "Token lifetime")
	return cmd
}

func newKeygenCmd(cfg *config.Config) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA key pair for signing and verifying access tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := auth.NewJWTManagerGenerated(cfg.JWTIssuer)
			if err != nil {
				return err
			}
			privPEM, err := mgr.PrivateKeyPEM()
			if err != nil {
				return err
			}
			pubPEM, err := mgr.PublicKeyPEM()
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o700); err != nil {
				return fmt.Errorf("create key directory: %w", err)
			}
			privPath := filepath.Join(outDir, "jwt_private.pem")
			pubPath := filepath.Join(outDir, "jwt_public.pem")
			if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
				return fmt.Errorf("write private key: %w", err)
			}
			if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
				return fmt.Errorf("write public key: %w", err)
			}

			fmt.Printf("private key: %s\npublic key:  %s\n", privPath, pubPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outDir, "out", "./keys", "Directory receiving the PEM files")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Info("starting palaver server",
		zap.String("version", version),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("db_driver", cfg.DBDriver),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.String("log_level", cfg.LogLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Credentials ---
	var verifier *auth.JWTManager
	if cfg.GeneratedKeys() {
		logger.Warn("no --jwt-public-key configured, using a generated key pair; tokens from other issuers will be rejected")
		verifier, err = auth.NewJWTManagerGenerated(cfg.JWTIssuer)
	} else {
		verifier, err = auth.NewJWTManagerFromFiles(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTIssuer)
	}
	if err != nil {
		return err
	}

	// --- Stores ---
	database, err := db.New(db.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		Logger:   logger,
		LogLevel: gormlogger.Warn,
	})
	if err != nil {
		return err
	}
	defer db.Close(database) //nolint:errcheck

	rdb := redis.NewClient(redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close() //nolint:errcheck
	if err := redis.Ping(ctx, rdb); err != nil {
		return err
	}

	users := repositories.NewUserRepository(database)
	chats := repositories.NewChatRepository(database)
	presenceSet := presence.NewRedisSet(rdb, cfg.PresenceKey)
	queue := signalqueue.NewRedisQueue(rdb, cfg.QueueKey)

	// --- Messaging ---
	m := metrics.New()
	registry := websocket.NewRegistry(m, logger)
	handlers := events.New(users, chats, registry, events.NewInterestMap(), logger)
	wsServer := websocket.NewServer(websocket.Config{
		SendBufferSize: cfg.SendBufferSize,
		FrameTimeout:   cfg.FrameTimeout,
		PollTimeout:    cfg.PollTimeout,
	}, registry, handlers, presenceSet, queue, m, logger)

	if err := wsServer.Start(ctx); err != nil {
		return err
	}

	sched, err := scheduler.New(cfg.SampleInterval, queue, presenceSet, m, logger)
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}

	// --- HTTP ---
	router := api.NewRouter(api.RouterConfig{
		Verifier:   verifier,
		Server:     wsServer,
		Events:     handlers,
		Queue:      queue,
		Presence:   presenceSet,
		Users:      users,
		Metrics:    m,
		Logger:     logger,
		CookieName: cfg.AuthCookie,
		Checks: map[string]api.Check{
			"database": func(ctx context.Context) error { return db.Ping(ctx, database) },
			"redis":    func(ctx context.Context) error { return redis.Ping(ctx, rdb) },
		},
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
		cancel()
	}

	logger.Info("shutting down palaver server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Hijacked websocket connections are not tracked by http.Server, so the
	// messaging server closes them itself.
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown incomplete", zap.Error(err))
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket server shutdown incomplete", zap.Error(err))
	}
	if err := sched.Stop(); err != nil {
		logger.Warn("scheduler shutdown incomplete", zap.Error(err))
	}

	logger.Info("palaver server stopped")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
