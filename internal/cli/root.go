package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/crawlguard/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "crawlguard",
	Short: "Adaptive crawl resilience engine",
	Long: `crawlguard fetches pages politely and survives hostile sites: it paces
requests per domain, classifies failures, adapts with retry strategies and
blacklists domains that keep failing.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

// loadConfig loads .env and the config file. A missing default config file
// falls back to built-in defaults.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
			cfg = config.Default()
		} else {
			stylelog.InitDefault()
			slog.Error("Failed to load config", "error", err)
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	setupLogging(cfg.Logging)
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig) {
	slogLevel := slog.LevelInfo
	switch {
	case isDebug || cfg.Level == "debug":
		slogLevel = slog.LevelDebug
	case cfg.Level == "warn":
		slogLevel = slog.LevelWarn
	case cfg.Level == "error":
		slogLevel = slog.LevelError
	}

	if cfg.Format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})))
		return
	}
	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
}
