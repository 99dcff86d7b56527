package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zodiaclab/starledger/internal/httpapi"
	"github.com/zodiaclab/starledger/internal/oplog"
	"github.com/zodiaclab/starledger/internal/provider/horoscope"
	"github.com/zodiaclab/starledger/internal/store/gormstore"
	"github.com/zodiaclab/starledger/pkg/billing"
	"github.com/zodiaclab/starledger/pkg/wallet"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL       = "database-url"
	flagListenAddr        = "listen-addr"
	flagStartingBalance   = "starting-balance"
	flagFreeAccountID     = "free-account-id"
	flagLLMAPIKey         = "llm-api-key"
	flagLLMBaseURL        = "llm-base-url"
	flagProviderTimeout   = "provider-timeout"
	flagSessionSigningKey = "session-signing-key"
	flagSessionIssuer     = "session-issuer"
	flagAllowedOrigins    = "allowed-origins"
	flagHistoryLimit      = "history-limit"

	envPrefix = "STARLEDGER"

	defaultDatabaseURL = "sqlite://starledger.db"
	defaultListenAddr  = ":8080"
)

type runtimeConfig struct {
	DatabaseURL       string
	ListenAddr        string
	StartingBalance   int64
	FreeAccountID     string
	LLMAPIKey         string
	LLMBaseURL        string
	ProviderTimeout   time.Duration
	SessionSigningKey string
	SessionIssuer     string
	AllowedOrigins    []string
	HistoryLimit      int
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "starledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "starledgerd",
		Short:         "Star-currency wallet and astrology billing server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string (sqlite path or postgres URL)")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().Int64(flagStartingBalance, wallet.DefaultStartingBalance, "seed balance in stars for new accounts")
	cmd.Flags().String(flagFreeAccountID, "", "account id exempt from billing (optional)")
	cmd.Flags().String(flagLLMAPIKey, "", "generative language API key (required)")
	cmd.Flags().String(flagLLMBaseURL, "", "generative language API base URL (optional)")
	cmd.Flags().Duration(flagProviderTimeout, 45*time.Second, "content generation timeout")
	cmd.Flags().String(flagSessionSigningKey, "", "session JWT signing key (required)")
	cmd.Flags().String(flagSessionIssuer, "", "expected session JWT issuer")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().Int(flagHistoryLimit, 10, "entries returned by the history endpoint")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flags := []string{
		flagDatabaseURL, flagListenAddr, flagStartingBalance, flagFreeAccountID,
		flagLLMAPIKey, flagLLMBaseURL, flagProviderTimeout,
		flagSessionSigningKey, flagSessionIssuer, flagAllowedOrigins, flagHistoryLimit,
	}
	for _, flagName := range flags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.StartingBalance = v.GetInt64(flagStartingBalance)
	cfg.FreeAccountID = strings.TrimSpace(v.GetString(flagFreeAccountID))
	cfg.LLMAPIKey = strings.TrimSpace(v.GetString(flagLLMAPIKey))
	cfg.LLMBaseURL = strings.TrimSpace(v.GetString(flagLLMBaseURL))
	cfg.ProviderTimeout = v.GetDuration(flagProviderTimeout)
	cfg.SessionSigningKey = v.GetString(flagSessionSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagSessionIssuer))
	cfg.AllowedOrigins = httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.HistoryLimit = v.GetInt(flagHistoryLimit)

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("%s is required", flagDatabaseURL)
	}
	if cfg.LLMAPIKey == "" {
		return fmt.Errorf("%s is required", flagLLMAPIKey)
	}
	if cfg.SessionSigningKey == "" {
		return fmt.Errorf("%s is required", flagSessionSigningKey)
	}
	if cfg.StartingBalance < 0 {
		return fmt.Errorf("%s must not be negative", flagStartingBalance)
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }
	walletService, err := wallet.NewService(store, clock, cfg.StartingBalance,
		wallet.WithOperationLogger(oplog.NewWalletLogger(logger)),
	)
	if err != nil {
		return fmt.Errorf("wallet service init: %w", err)
	}

	provider, err := horoscope.NewClient(horoscope.Config{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
	}, horoscope.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("provider init: %w", err)
	}

	orchestratorOptions := []billing.OrchestratorOption{
		billing.WithProviderTimeout(cfg.ProviderTimeout),
		billing.WithAnomalyReporter(oplog.NewAnomalyLogger(logger)),
	}
	if cfg.FreeAccountID != "" {
		freeAccountID, err := wallet.NewAccountID(cfg.FreeAccountID)
		if err != nil {
			return fmt.Errorf("free account id: %w", err)
		}
		orchestratorOptions = append(orchestratorOptions, billing.WithFreeAccount(freeAccountID))
	}
	orchestrator, err := billing.NewOrchestrator(walletService, provider, orchestratorOptions...)
	if err != nil {
		return fmt.Errorf("orchestrator init: %w", err)
	}

	server, err := httpapi.NewServer(httpapi.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    cfg.AllowedOrigins,
		SessionSigningKey: cfg.SessionSigningKey,
		SessionIssuer:     cfg.SessionIssuer,
		HistoryLimit:      cfg.HistoryLimit,
	}, logger, walletService, orchestrator)
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}
	return server.Run(ctx)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "starledger.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(&gormstore.Account{}, &gormstore.LedgerEntry{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
