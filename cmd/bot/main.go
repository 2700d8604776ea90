// Package main provides the bot entry point.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/groovebox/internal/app/playback"
	"github.com/osa030/groovebox/internal/bot"
	"github.com/osa030/groovebox/internal/infra/config"
	"github.com/osa030/groovebox/internal/infra/logger"
	"github.com/osa030/groovebox/internal/infra/resolver"
	"github.com/osa030/groovebox/internal/infra/voicegw"
)

var (
	app        = kingpin.New("groovebox", "Discord music playback bot")
	configPath = app.Flag("config", "Path to config file").Default("config/bot.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}
	// Re-init with the configured output and level unless flags overrode them.
	if *logfile == "" {
		level := cfg.Log.Level
		if *verbose {
			level = "debug"
		}
		_ = logger.Init(logger.Config{Output: cfg.Log.Output, Level: level})
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Bot error: %v", err)
		os.Exit(1)
	}
}

// run executes the main bot logic. Using a separate function ensures defer
// statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	var settings resolver.Settings
	if err := cfg.DecodeResolverSettings(&settings); err != nil {
		return fmt.Errorf("invalid resolver settings: %w", err)
	}
	trackResolver := resolver.New(settings)

	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("failed to create gateway session: %w", err)
	}

	registry := playback.NewRegistry(cfg.SessionConfig(), trackResolver, voicegw.NewDialer(dg))

	b := bot.New(dg, registry, bot.Config{
		PlayRatePerMinute: cfg.Playback.PlayRatePerMinute,
	})
	if err := b.Start(); err != nil {
		return fmt.Errorf("failed to start bot: %w", err)
	}
	zlog.Info().Msg("Bot started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	zlog.Info().Msg("Received shutdown signal...")
	b.Stop()
	zlog.Info().Msg("Bot stopped")
	return nil
}
