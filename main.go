package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/echotools/playbot/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version  string = "1.0.0"
	commitID string = "dev"
)

func main() {
	semver := fmt.Sprintf("%s+%s", version, commitID)

	tmpLogger := server.NewJSONLogger(os.Stdout, zapcore.InfoLevel, server.JSONFormat)

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version":
			fmt.Println(semver)
			return
		case "admintoken":
			config, err := server.ParseArgs(tmpLogger, os.Args[1:])
			if err != nil {
				tmpLogger.Fatal("Failed to load config", zap.Error(err))
			}
			if config.Admin.SigningKey == "" {
				tmpLogger.Fatal("admin.signing_key is not set")
			}
			token, err := server.GenerateAdminToken(config.Admin.SigningKey, "admin", 24*time.Hour)
			if err != nil {
				tmpLogger.Fatal("Failed to sign admin token", zap.Error(err))
			}
			fmt.Println(token)
			return
		}
	}

	config, err := server.ParseArgs(tmpLogger, os.Args)
	if err != nil {
		tmpLogger.Fatal("Failed to load config", zap.Error(err))
	}
	logger := server.SetupLogging(tmpLogger, config)
	startupLogger := logger.With(zap.String("phase", "startup"))

	startupLogger.Info("Playbot starting", zap.String("version", semver))
	startupLogger.Info("Data directory", zap.String("path", config.DataDir))

	ctx, ctxCancelFn := context.WithCancel(context.Background())

	storage, err := server.OpenStorage(ctx, logger, config.Storage)
	if err != nil {
		startupLogger.Fatal("Failed to open storage", zap.String("backend", config.Storage.Backend), zap.Error(err))
	}

	bans, err := server.NewBanList(ctx, logger, storage)
	if err != nil {
		startupLogger.Fatal("Failed to load ban list", zap.Error(err))
	}
	store, err := server.NewPlayRequestStore(ctx, logger, storage)
	if err != nil {
		startupLogger.Fatal("Failed to load play requests", zap.Error(err))
	}
	catalog := server.NewGameCatalog(config.Games)

	metrics := server.NewLocalMetrics(logger, startupLogger, config)

	session, err := discordgo.New("Bot " + config.Discord.Token)
	if err != nil {
		startupLogger.Fatal("Failed to create Discord session", zap.Error(err))
	}

	presenter := server.NewDiscordPresenter(logger, server.NewSessionAdapter(session), config.Discord, catalog)
	lifecycle := server.NewPlayRequestLifecycle(logger, config.PlayRequests, store, bans, catalog, presenter, metrics)
	appbot := server.NewDiscordAppBot(ctx, logger, config.Discord, session, lifecycle, presenter, metrics)

	if err := session.Open(); err != nil {
		startupLogger.Fatal("Failed to open Discord session", zap.Error(err))
	}

	lifecycle.StartExpiry(ctx)

	var adminAPI *server.AdminAPI
	if config.Admin.Port > 0 {
		adminAPI = server.NewAdminAPI(logger, config.Admin, lifecycle)
		adminAPI.Start(startupLogger)
	}

	startupLogger.Info("Startup done", zap.Int("games", catalog.Len()), zap.Int("play_requests", store.Len()), zap.Int("bans", bans.Len()))

	// Wait for a termination signal, reloading the catalog on SIGHUP.
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range c {
		if sig != syscall.SIGHUP {
			break
		}
		if config.Config == "" {
			logger.Warn("Ignoring SIGHUP, no config file to reload")
			continue
		}
		games, err := server.LoadGames(config.Config)
		if err != nil {
			logger.Error("Failed to reload games", zap.Error(err))
			continue
		}
		if err := server.ValidateGameNames(games); err != nil {
			logger.Error("Refusing to reload the game catalog", zap.Error(err))
			continue
		}
		catalog.Replace(games)
		appbot.ReloadCommands()
		logger.Info("Game catalog reloaded", zap.Int("games", len(games)))
	}

	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if adminAPI != nil {
		adminAPI.Stop(shutdownCtx)
	}
	if err := session.Close(); err != nil {
		logger.Warn("Failed to close Discord session", zap.Error(err))
	}
	ctxCancelFn()
	metrics.Stop(logger)
	if err := storage.Close(); err != nil {
		logger.Warn("Failed to close storage", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	_ = logger.Sync()
}
