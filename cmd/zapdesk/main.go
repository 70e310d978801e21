// ZapDesk is a conversational customer-service engine for WhatsApp: a
// per-user flow state machine plus a response matching engine, fronted by a
// REST API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/zapdesk/zapdesk/internal/api"
	"github.com/zapdesk/zapdesk/internal/config"
	"github.com/zapdesk/zapdesk/internal/flow"
	"github.com/zapdesk/zapdesk/internal/match"
	"github.com/zapdesk/zapdesk/internal/messaging"
	"github.com/zapdesk/zapdesk/internal/metrics"
	"github.com/zapdesk/zapdesk/internal/store"
	"github.com/zapdesk/zapdesk/internal/twiliowhatsapp"
	"github.com/zapdesk/zapdesk/internal/util"
	"github.com/zapdesk/zapdesk/internal/whatsapp"
)

// Default configuration constants.
const (
	// DefaultStateDir is the default directory for ZapDesk state data.
	DefaultStateDir = "/var/lib/zapdesk"
	// DefaultDBFileName is the default SQLite database filename.
	DefaultDBFileName = "zapdesk.db"
	// DefaultConfigFileName is the default flow configuration filename.
	DefaultConfigFileName = "zapdesk.yaml"
	// DefaultSweepInterval is how often expired cache entries are purged.
	DefaultSweepInterval = 5 * time.Minute
)

// Config holds environment configuration.
type Config struct {
	DatabaseDSN string
	WhatsAppDSN string
	StateDir    string
	ConfigPath  string
	APIAddr     string
	Backend     string
	RedisAddr   string
}

// Flags holds command line flag values.
type Flags struct {
	configPath *string
	stateDir   *string
	dbDSN      *string
	waDSN      *string
	apiAddr    *string
	backend    *string
	redisAddr  *string
	qrOutput   *string
	numeric    *bool
}

func main() {
	initializeLogger()

	envConfig := loadEnvironmentConfig()
	flags := parseCommandLineFlags(envConfig)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("main: failed to create required directories", "error", err)
		os.Exit(1)
	}

	if err := run(flags); err != nil {
		slog.Error("main: ZapDesk failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("main: ZapDesk exited")
}

// initializeLogger sets up structured logging. ZAPDESK_DEBUG enables debug output.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("ZAPDESK_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from the environment and .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("main: no .env file loaded", "error", err)
	}

	cfg := Config{
		DatabaseDSN: os.Getenv("DATABASE_DSN"),
		WhatsAppDSN: os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:    os.Getenv("ZAPDESK_STATE_DIR"),
		ConfigPath:  os.Getenv("ZAPDESK_CONFIG"),
		APIAddr:     os.Getenv("API_ADDR"),
		Backend:     os.Getenv("MESSAGING_BACKEND"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
	}

	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(cfg.StateDir, DefaultConfigFileName)
	}
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("main: no database DSN provided, defaulting to SQLite", "path", cfg.DatabaseDSN)
	}
	if cfg.WhatsAppDSN == "" {
		cfg.WhatsAppDSN = "file:" + filepath.Join(cfg.StateDir, "whatsmeow.db") + "?_foreign_keys=on"
	}

	slog.Debug("main: environment loaded",
		"state_dir", cfg.StateDir,
		"config_path", cfg.ConfigPath,
		"database_dsn_set", cfg.DatabaseDSN != "",
		"backend", cfg.Backend,
		"redis_set", cfg.RedisAddr != "")
	return cfg
}

// parseCommandLineFlags parses command line arguments with environment defaults.
func parseCommandLineFlags(cfg Config) Flags {
	flags := Flags{
		configPath: flag.String("config", cfg.ConfigPath, "flow configuration file (overrides $ZAPDESK_CONFIG)"),
		stateDir:   flag.String("state-dir", cfg.StateDir, "state directory for ZapDesk data (overrides $ZAPDESK_STATE_DIR)"),
		dbDSN:      flag.String("db-dsn", cfg.DatabaseDSN, "database DSN for the application store (overrides $DATABASE_DSN)"),
		waDSN:      flag.String("wa-dsn", cfg.WhatsAppDSN, "database DSN for the WhatsApp session store (overrides $WHATSAPP_DB_DSN)"),
		apiAddr:    flag.String("api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)"),
		backend:    flag.String("backend", cfg.Backend, "messaging backend: whatsapp, twilio or none (overrides $MESSAGING_BACKEND)"),
		redisAddr:  flag.String("redis-addr", cfg.RedisAddr, "Redis address for the shared response cache (overrides $REDIS_ADDR)"),
		qrOutput:   flag.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:    flag.Bool("numeric-code", false, "use a numeric WhatsApp login code instead of a QR code"),
	}
	flag.Parse()

	if *flags.stateDir != cfg.StateDir {
		if *flags.dbDSN == cfg.DatabaseDSN && cfg.DatabaseDSN == filepath.Join(cfg.StateDir, DefaultDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		}
		if *flags.configPath == cfg.ConfigPath && cfg.ConfigPath == filepath.Join(cfg.StateDir, DefaultConfigFileName) {
			*flags.configPath = filepath.Join(*flags.stateDir, DefaultConfigFileName)
		}
	}
	return flags
}

// ensureDirectoriesExist creates the state directory for file-based storage.
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	return os.MkdirAll(stateDir, 0o755)
}

// openStore selects the store backend from the DSN.
func openStore(dsn string) (store.Store, error) {
	if dsn == "" {
		slog.Info("main: no database DSN, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// buildMessagingService constructs the configured transport. The returned
// webhook is non-nil only for transports fed over HTTP.
func buildMessagingService(flags Flags) (messaging.Service, *messaging.TwilioService, error) {
	switch *flags.backend {
	case "whatsapp":
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.waDSN)}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create whatsapp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, nil
	case "twilio":
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client)
		return svc, svc, nil
	case "", "none":
		slog.Info("main: no messaging backend configured, API simulation only")
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown messaging backend %q", *flags.backend)
	}
}

func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(*flags.dbDSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	cfg, err := config.Load(*flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	mgr := config.NewManager(*flags.configPath, cfg)

	registry := prometheus.NewRegistry()
	met := metrics.New(registry)

	matchOpts := []match.Option{match.WithMetrics(met)}
	if *flags.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *flags.redisAddr})
		matchOpts = append(matchOpts, match.WithCache(match.NewRedisCache(client, cfg.Matching.CacheTTL)))
		slog.Info("main: using Redis response cache", "addr", *flags.redisAddr)
	}
	matchEngine, err := match.NewEngine(st, cfg.Matching, matchOpts...)
	if err != nil {
		return fmt.Errorf("failed to create matching engine: %w", err)
	}
	matchEngine.StartSweeper(ctx, DefaultSweepInterval)

	flowEngine := flow.NewEngine(mgr, st, flow.WithMatcher(matchEngine), flow.WithMetrics(met))

	svc, twilioSvc, err := buildMessagingService(flags)
	if err != nil {
		return err
	}
	if svc != nil {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		defer svc.Stop()
		dispatcher := messaging.NewDispatcher(svc, flowEngine, st)
		go dispatcher.Run(ctx)
	}

	apiOpts := []api.Option{}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if twilioSvc != nil {
		apiOpts = append(apiOpts, api.WithWebhook(twilioSvc.WebhookHandler))
	}

	server := api.NewServer(st, mgr, flowEngine, matchEngine, registry, apiOpts...)
	slog.Info("main: ZapDesk started", "flows", len(cfg.Flows), "backend", *flags.backend)
	return server.Start(ctx)
}
