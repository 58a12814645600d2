package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/crawlguard/internal/control"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine with its monitoring HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	app, err := control.NewEngine(cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize engine", "error", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start engine", "error", err)
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- app.Serve()
	}()

	slog.Info("crawlguard started", "config", cfgPath, "port", cfg.Server.Port)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
	case err := <-serveErr:
		if err != nil {
			slog.Error("Monitor server failed", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		return err
	}
	return nil
}
