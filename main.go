// Command tweetchat is a chat bot that lets users read their Twitter home
// timeline, post tweets and send direct messages from Twitch whispers or
// Telegram. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres (or SQLite) and runs idempotent migrations.
//   - Starts the enabled chat transports and routes each message through the
//     per-user session state machine.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /metrics and the
//     OAuth callback page.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/tweetchat/bot"
	"github.com/onnwee/tweetchat/chat"
	"github.com/onnwee/tweetchat/command"
	"github.com/onnwee/tweetchat/config"
	"github.com/onnwee/tweetchat/crypto"
	"github.com/onnwee/tweetchat/db"
	"github.com/onnwee/tweetchat/server"
	"github.com/onnwee/tweetchat/session"
	"github.com/onnwee/tweetchat/telemetry"
	"github.com/onnwee/tweetchat/twitchapi"
	"github.com/onnwee/tweetchat/twitter"
)

const version = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("tweetchat", version, cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("tweetchat exited with error", slog.Any("err", err))
		stop()
		shutdown()
		os.Exit(1)
	}
	slog.Info("shutting down")
}

func run(ctx context.Context, cfg *config.Config) error {
	database, driver, err := db.Connect(ctx, cfg.DBDsn)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	slog.Info("running database migrations", slog.String("driver", driver), slog.String("component", "db_migrate"))
	if err := db.Migrate(ctx, database, driver); err != nil {
		return err
	}

	var enc crypto.Encryptor
	if cfg.EncryptionKey != "" {
		aes, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
		if err != nil {
			return err
		}
		enc = aes
		slog.Info("credential encryption enabled", slog.String("key_id", aes.KeyID()), slog.String("component", "db_encryption"))
	}
	store := db.NewCredentialStore(database, driver, enc)

	auth, err := twitter.NewAuthorizer(twitter.AuthorizerConfig{
		ClientID:     cfg.TwitterClientID,
		ClientSecret: cfg.TwitterClientSecret,
		RedirectURL:  cfg.TwitterRedirectURI,
		Scopes:       cfg.TwitterScopes,
		AuthURL:      cfg.TwitterAuthURL,
		TokenURL:     cfg.TwitterTokenURL,
		APIBase:      cfg.TwitterAPIBase,
		PageSize:     cfg.TimelinePageSize,
	})
	if err != nil {
		return err
	}
	registry := session.NewRegistry(session.FromTwitter(auth), store)

	transports, err := buildTransports(ctx, cfg)
	if err != nil {
		return err
	}
	mux := chat.NewMux(transports...)
	router := bot.New(registry, command.NewResolver(), mux)

	handlers := server.NewHandlers(server.Options{
		DB:            store,
		SchemaVersion: schemaVersion(database, driver),
		Transports:    mux.Names(),
		BotName:       cfg.TwitchBotUsername,
	})
	go func() {
		if err := server.Start(ctx, server.NewMux(handlers), cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	slog.Info("starting chat transports", slog.Any("transports", mux.Names()))
	err = mux.Run(ctx, router.Dispatch)
	// Finish messages already queued before closing the database.
	router.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func buildTransports(ctx context.Context, cfg *config.Config) ([]chat.Transport, error) {
	var out []chat.Transport
	if cfg.Enabled(config.TransportTwitch) {
		tok := &twitchapi.UserToken{Token: cfg.TwitchOAuthToken, AuthBase: cfg.TwitchAuthBase}
		checkTwitchToken(ctx, tok)
		helix := &twitchapi.HelixClient{Token: tok, ClientID: cfg.TwitchClientID, BaseURL: cfg.TwitchHelixBase}
		t, err := chat.NewTwitchTransport(cfg.TwitchBotUsername, cfg.TwitchOAuthToken, helix)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if cfg.Enabled(config.TransportTelegram) {
		t, err := chat.NewTelegramTransport(cfg.TelegramBotToken)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// checkTwitchToken validates the bot token once at startup. Best-effort:
// replies fail later with a clear error if the token is unusable.
func checkTwitchToken(ctx context.Context, tok *twitchapi.UserToken) {
	ctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	info, err := tok.Info(ctx)
	if err != nil {
		slog.Warn("twitch token validation failed", slog.Any("err", err), slog.String("component", "chat_twitch"))
		return
	}
	if !info.HasScope(twitchapi.ScopeWhispers) {
		slog.Warn("twitch token lacks whisper scope, replies will be rejected",
			slog.String("scope", twitchapi.ScopeWhispers),
			slog.String("component", "chat_twitch"))
	}
	slog.Info("twitch token validated",
		slog.String("login", info.Login),
		slog.String("user_id", info.UserID),
		slog.String("component", "chat_twitch"))
}

// schemaVersion reports golang-migrate's version for Postgres; SQLite
// schemas are created in place and have no version table.
func schemaVersion(database *sql.DB, driver string) func() (uint, bool, error) {
	if driver != db.DriverPostgres {
		return nil
	}
	return func() (uint, bool, error) { return db.MigrationVersion(database) }
}

func setupLogging(level, format string) {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}
