package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/firealarmweb/firealarm/internal/api"
	"github.com/firealarmweb/firealarm/internal/chat"
	"github.com/firealarmweb/firealarm/internal/export"
	"github.com/firealarmweb/firealarm/internal/incident"
	"github.com/firealarmweb/firealarm/internal/logging"
	"github.com/firealarmweb/firealarm/internal/metrics"
	"github.com/firealarmweb/firealarm/internal/notifier"
	"github.com/firealarmweb/firealarm/internal/storage"
	"github.com/firealarmweb/firealarm/pkg/config"
)

const (
	envJWTSecret   = "FIREALARM_JWT_SECRET"
	envCSRFKey     = "FIREALARM_CSRF_KEY"
	envDatabaseDSN = "FIREALARM_DATABASE_DSN"
)

var (
	configFile string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "firealarm-server",
	Short: "Fire alarm incident server",
	Long: `firealarm-server serves the incident review API and the
responder chat stream on top of the alert windows written by the
sensor aggregation.`,
	SilenceUsage: true,
	RunE:         runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("firealarm-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every request")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	var cfg *Config
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	// Override with CLI flags and environment
	if httpAddr != "" {
		cfg.Server.HTTPAddress = httpAddr
	}
	if dsn := os.Getenv(envDatabaseDSN); dsn != "" {
		cfg.Database.DSN = dsn
	}
	cfg.Verbose = verbose
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	jwtSecret := os.Getenv(envJWTSecret)
	if jwtSecret == "" {
		return fmt.Errorf("%s environment variable is required", envJWTSecret)
	}
	csrfKey, err := csrfKeyFromEnv(jwtSecret)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	store, err := openStorage(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	exportLoc, err := export.LoadLocation(cfg.Incidents.ExportTimezone)
	if err != nil {
		return err
	}

	dispatcher, err := buildDispatcher(cfg.Notify, logger)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	incidents := incident.NewService(store,
		incident.WithLogger(logger.Named("incident")),
		incident.WithNotifier(dispatcher),
		incident.WithTolerance(duration(cfg.Incidents.CorrelationTolerance)),
		incident.WithExportLocation(exportLoc),
	)
	defer incidents.Wait()

	hubOpts := []chat.HubOption{chat.WithHubLogger(logger.Named("hub"))}
	if cfg.Chat.SendBuffer > 0 {
		hubOpts = append(hubOpts, chat.WithSendBuffer(cfg.Chat.SendBuffer))
	}
	hub := chat.NewHub(hubOpts...)
	chatSvc := chat.NewService(store, hub, chat.WithLogger(logger.Named("chat")))

	apiServer, err := api.New(&api.Config{
		Address:          cfg.Server.HTTPAddress,
		JWTSecret:        []byte(jwtSecret),
		CSRFKey:          csrfKey,
		TrustedOrigins:   cfg.Server.TrustedOrigins,
		UseSecureCookies: cfg.Server.SecureCookies,
		AccessTokenTTL:   duration(cfg.Auth.AccessTokenTTL),
		SessionTTL:       duration(cfg.Auth.SessionTTL),
		RateLimitPerIP:   cfg.Auth.RateLimitPerIP,
		RateLimitPerUser: cfg.Auth.RateLimitPerUser,
		LockoutThreshold: cfg.Auth.LockoutThreshold,
		LockoutDuration:  duration(cfg.Auth.LockoutDuration),
		StreamHeartbeat:  duration(cfg.Chat.HeartbeatInterval),
		StreamRetryMs:    cfg.Chat.RetryMs,
		ExportLocation:   exportLoc,
		Verbose:          cfg.Verbose,
	}, api.Deps{
		Storage:   store,
		Incidents: incidents,
		Chat:      chatSvc,
		Hub:       hub,
		Logger:    logger.Named("api"),
	})
	if err != nil {
		return fmt.Errorf("create API server: %w", err)
	}

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting firealarm-server",
		zap.String("version", config.Version),
		zap.String("database", cfg.Database.Driver),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return apiServer.Run(gctx)
	})
	if cfg.Server.MetricsAddress != "" {
		metricsServer := metrics.NewServer(cfg.Server.MetricsAddress, logger.Named("metrics"))
		g.Go(metricsServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run server: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStorage(cfg DatabaseConfig, logger *zap.Logger) (*storage.SQLStorage, error) {
	if cfg.Driver == storage.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	store := storage.NewSQLStorage(storage.Config{
		Driver:       cfg.Driver,
		Path:         cfg.Path,
		DSN:          cfg.DSN,
		MaxOpenConns: cfg.MaxOpenConns,
	})
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if err := store.EnsureAdminUser(); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure admin user: %w", err)
	}

	logger.Info("database initialized", zap.String("driver", cfg.Driver))
	return store, nil
}

func buildDispatcher(cfg NotifyConfig, logger *zap.Logger) (*notifier.Dispatcher, error) {
	d := notifier.NewDispatcherWithRateLimit(notifier.RateLimitConfig{
		PerMinute: cfg.RatePerMinute,
		Enabled:   true,
	})
	if cfg.SlackWebhookURL == "" {
		return d, nil
	}
	slack, err := notifier.NewSlackNotifier(notifier.SlackConfig{WebhookURL: cfg.SlackWebhookURL})
	if err != nil {
		return nil, fmt.Errorf("create slack notifier: %w", err)
	}
	d.Register(slack)
	logger.Info("slack notifications enabled")
	return d, nil
}

// csrfKeyFromEnv returns the 32-byte CSRF key, derived from the JWT secret when unset.
func csrfKeyFromEnv(jwtSecret string) ([]byte, error) {
	key := os.Getenv(envCSRFKey)
	if key == "" {
		sum := sha256.Sum256([]byte("csrf:" + jwtSecret))
		return sum[:], nil
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must be exactly 32 bytes, got %d", envCSRFKey, len(key))
	}
	return []byte(key), nil
}
