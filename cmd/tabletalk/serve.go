package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tabletalk-dev/tabletalk/pkg/logger"
	"github.com/tabletalk-dev/tabletalk/pkg/presenter"
	"github.com/tabletalk-dev/tabletalk/pkg/server"
)

// ServeConfig holds configuration for the serve command
type ServeConfig struct {
	Host string
	Port int
}

// NewServeConfig creates a new ServeConfig with default values
func NewServeConfig() *ServeConfig {
	return &ServeConfig{
		Host: "localhost",
		Port: 8080,
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start a local HTTP server exposing datasets, threads and question answering
as a JSON API under /api. Uploads, dataset selection and questions share one
session, which is also saved for later CLI commands.

The server will be available at http://localhost:8080 by default.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServeCommand(cmd.Context(), getServeConfigFromFlags(cmd))
	},
}

func init() {
	defaults := NewServeConfig()
	serveCmd.Flags().String("host", defaults.Host, "Host to bind the server to")
	serveCmd.Flags().Int("port", defaults.Port, "Port to bind the server to")

	viper.BindPFlag("serve.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("serve.port", serveCmd.Flags().Lookup("port"))
}

// getServeConfigFromFlags reads the serve.* keys, which flags override.
func getServeConfigFromFlags(_ *cobra.Command) *ServeConfig {
	config := NewServeConfig()
	if host := viper.GetString("serve.host"); host != "" {
		config.Host = host
	}
	if port := viper.GetInt("serve.port"); port != 0 {
		config.Port = port
	}
	return config
}

// validateServeConfig validates the serve configuration
func validateServeConfig(ctx context.Context, config *ServeConfig) error {
	if config.Host == "" {
		return errors.New("host cannot be empty")
	}

	if config.Host != "localhost" && config.Host != "0.0.0.0" {
		if ip := net.ParseIP(config.Host); ip == nil {
			if strings.Contains(config.Host, " ") || strings.Contains(config.Host, ":") {
				return errors.Errorf("invalid host: %s", config.Host)
			}
		}
	}

	if config.Port < 1 || config.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", config.Port)
	}

	if config.Port < 1024 {
		logger.G(ctx).WithField("port", config.Port).Warn("using privileged port (< 1024) may require elevated permissions")
	}

	return nil
}

func runServeCommand(ctx context.Context, config *ServeConfig) error {
	if err := validateServeConfig(ctx, config); err != nil {
		return errors.Wrap(err, "invalid server configuration")
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.runner(ctx)
	if err != nil {
		return err
	}
	sess, err := a.session(ctx)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(
		&server.ServerConfig{Host: config.Host, Port: config.Port},
		a.datasets,
		a.conversations,
		runner,
		server.WithSession(sess),
		server.WithStateFile(a.stateFile),
	)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	presenter.Success(fmt.Sprintf("API server starting on http://%s:%d/api", config.Host, config.Port))
	presenter.Info("Press Ctrl+C to stop the server")

	if err := srv.Start(ctx); err != nil {
		return err
	}

	presenter.Info("Server stopped")
	return nil
}
