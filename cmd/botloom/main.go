package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BotLoom/BotLoom/internal/api"
	"github.com/BotLoom/BotLoom/internal/engine"
	"github.com/BotLoom/BotLoom/internal/lockfile"
	"github.com/BotLoom/BotLoom/internal/messaging"
	"github.com/BotLoom/BotLoom/internal/models"
	"github.com/BotLoom/BotLoom/internal/store"
	"github.com/BotLoom/BotLoom/internal/twiliowhatsapp"
	"github.com/BotLoom/BotLoom/internal/util"
	"github.com/BotLoom/BotLoom/internal/webhook"
	"github.com/BotLoom/BotLoom/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for BotLoom state data
	DefaultStateDir = "/var/lib/botloom"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "botloom.db"
	// DefaultShutdownTimeout bounds graceful HTTP shutdown on SIGTERM
	DefaultShutdownTimeout = 10 * time.Second
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("BotLoom failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("BotLoom exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir       string
	DatabaseDSN    string
	APIAddr        string
	Timezone       string
	ChannelAccount string
	WebhookTimeout string
	UseTwilio      bool
	Debug          bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput       *string
	numeric        *bool
	stateDir       *string
	dbDSN          *string
	apiAddr        *string
	timezone       *string
	channelAccount *string
	webhookTimeout *string
	useTwilio      *bool
}

// initializeLogger sets up structured logging; BOTLOOM_DEBUG enables debug level.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("BOTLOOM_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:       os.Getenv("BOTLOOM_STATE_DIR"),
		DatabaseDSN:    os.Getenv("BOTLOOM_DB_DSN"),
		APIAddr:        os.Getenv("BOTLOOM_API_ADDR"),
		Timezone:       os.Getenv("BOTLOOM_TIMEZONE"),
		ChannelAccount: os.Getenv("BOTLOOM_CHANNEL_ACCOUNT"),
		WebhookTimeout: os.Getenv("BOTLOOM_WEBHOOK_TIMEOUT"),
		UseTwilio:      util.ParseBoolEnv("BOTLOOM_USE_TWILIO", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No BOTLOOM_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Fall back to DATABASE_URL, then to SQLite in the state directory
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = os.Getenv("DATABASE_URL")
	}
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}

	slog.Debug("environment variables loaded",
		"BOTLOOM_STATE_DIR", config.StateDir,
		"BOTLOOM_DB_DSN_SET", config.DatabaseDSN != "",
		"BOTLOOM_API_ADDR", config.APIAddr,
		"BOTLOOM_TIMEZONE", config.Timezone,
		"BOTLOOM_CHANNEL_ACCOUNT", config.ChannelAccount,
		"BOTLOOM_WEBHOOK_TIMEOUT", config.WebhookTimeout,
		"BOTLOOM_USE_TWILIO", config.UseTwilio)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:       flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:        flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for BotLoom data (overrides $BOTLOOM_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseDSN, "database DSN for flow and session storage (overrides $BOTLOOM_DB_DSN or $DATABASE_URL)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $BOTLOOM_API_ADDR)"),
		timezone:       flag.String("timezone", config.Timezone, "IANA timezone for time routing nodes (overrides $BOTLOOM_TIMEZONE)"),
		channelAccount: flag.String("channel-account", config.ChannelAccount, "account ID that owns channel-inbound conversations (overrides $BOTLOOM_CHANNEL_ACCOUNT)"),
		webhookTimeout: flag.String("webhook-timeout", config.WebhookTimeout, "webhook request timeout as a Go duration (overrides $BOTLOOM_WEBHOOK_TIMEOUT)"),
		useTwilio:      flag.Bool("use-twilio", config.UseTwilio, "send and receive over Twilio instead of a direct WhatsApp session (overrides $BOTLOOM_USE_TWILIO)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"timezone", *flags.timezone,
		"channelAccount", *flags.channelAccount,
		"webhookTimeout", *flags.webhookTimeout,
		"useTwilio", *flags.useTwilio)

	// Keep a file-based DSN inside the chosen state directory
	if *flags.dbDSN == config.DatabaseDSN && config.DatabaseDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, store.DefaultDirPermissions); err != nil {
		return err
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release lock file", "error", err)
		}
	}()

	st, err := buildStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}()

	eng, err := buildEngine(st, flags)
	if err != nil {
		return err
	}

	msgService, apiOpts, err := buildMessagingService(flags)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := msgService.Stop(); err != nil {
			slog.Warn("Failed to stop messaging service", "error", err)
		}
	}()

	go consumeInbound(ctx, eng, msgService, *flags.channelAccount)

	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(eng, st, apiOpts...)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Bootstrapping BotLoom with configured modules")
		errCh <- server.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("Shutting down on signal", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// buildStore selects the SQL backend from the DSN shape.
func buildStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// buildEngine constructs the flow engine with timezone and webhook settings.
func buildEngine(st store.Store, flags Flags) (*engine.Engine, error) {
	var webhookOpts []webhook.Option
	if *flags.webhookTimeout != "" {
		d, err := time.ParseDuration(*flags.webhookTimeout)
		if err != nil {
			return nil, err
		}
		webhookOpts = append(webhookOpts, webhook.WithTimeout(d))
	}
	executor := webhook.NewExecutor(webhookOpts...)

	var engineOpts []engine.Option
	if *flags.timezone != "" {
		loc, err := time.LoadLocation(*flags.timezone)
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, engine.WithTimezone(loc))
	}

	return engine.New(st, st, executor, engineOpts...), nil
}

// buildMessagingService constructs the outbound channel adapter. The Twilio
// adapter is also handed to the API server so the inbound webhook can feed it.
func buildMessagingService(flags Flags) (messaging.Service, []api.Option, error) {
	if *flags.useTwilio {
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, err
		}
		svc := messaging.NewTwilioService(client)
		return svc, []api.Option{api.WithTwilioService(svc)}, nil
	}

	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, nil, err
	}
	return messaging.NewWhatsAppService(client), nil, nil
}

// consumeInbound runs each channel-delivered message through the engine and
// sends the resulting messages back over the same channel.
func consumeInbound(ctx context.Context, eng *engine.Engine, svc messaging.Service, accountID string) {
	for msg := range svc.Inbound() {
		req := models.TurnRequest{
			ContactKey: msg.From,
			Text:       msg.Body,
			SenderID:   msg.From,
			AccountID:  accountID,
		}
		result, err := eng.HandleTurn(ctx, req)
		if err != nil {
			slog.Error("main.consumeInbound: turn failed", "error", err, "from", msg.From)
			continue
		}
		if len(result.Messages) == 0 {
			continue
		}
		if err := svc.SendMessages(ctx, msg.From, result.Messages); err != nil {
			slog.Error("main.consumeInbound: failed to send responses", "error", err, "to", msg.From)
		}
	}
}
