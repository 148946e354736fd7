package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	triageapp "github.com/edgevision/triage-server/internal/app"
	"github.com/edgevision/triage-server/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the triage API server",
	Long: `Start the triage API server to accept image uploads and serve the
per-user and review listings.

The server requires a configuration file (--config) that specifies:
- Object store connection and bucket
- Annotation tool endpoint, project and storage ids
- Retraining threshold and notebook execution settings

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

// defaultGracefulTimeout leaves room for in-flight uploads to finish
// before the process exits.
const defaultGracefulTimeout = 30 * time.Second

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address"))
	if err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
	err = viper.BindPFlag("config", serveCmd.Flags().Lookup("config"))
	if err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	address := viper.GetString("address")

	cfg, err := loadConfig(viper.GetString("config"))
	if err != nil {
		return err
	}

	app, err := triageapp.NewTriageApp(ctx,
		triageapp.WithConfig(cfg),
		triageapp.WithAddress(address),
	)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	// Start server in goroutine
	go func() {
		if err := app.Start(); err != nil {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return app.Stop(defaultGracefulTimeout)
}

// loadConfig loads and validates the configuration at the given path.
func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.Load(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"bucket", cfg.ObjectStore.Bucket,
		"annotation_tool", cfg.LabelStudio.BaseURL)
	return cfg, nil
}
