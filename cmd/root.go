package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/porthorian/sessionguard/pkg/config"
	"github.com/spf13/cobra"
)

var BuildVersion = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "sessionguard",
	Short:         "SessionGuard CLI",
	Long:          "CLI for logging in to a session-based API and making resilient calls against it.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file. Every setting can also be set via SESSIONGUARD_* environment variables.")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of SessionGuard CLI",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
}

// Execute runs the CLI. Interrupts cancel the command's context, which ends
// any retry loop in progress.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// newLogger writes structured logs to w. Debug also enables the
// interceptor's V(1) retry decisions.
func newLogger(cfg config.LoggingConfig, w io.Writer) logr.Logger {
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return logr.FromSlogHandler(handler)
}

func slogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
