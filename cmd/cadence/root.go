package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/cadence/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// logLevel backs the default logger so that a config reload can change the
// level in place.
var logLevel = new(slog.LevelVar)

type rootOptions struct {
	configPath string
	envFiles   []string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "cadence",
		Short:         "Voice coaching backend",
		Long:          "cadence serves the voice mode of a coaching app: speech recognition, coach replies and spoken playback over a websocket.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			setupLogger(cmd.ErrOrStderr())
			return config.LoadDotEnv(opts.envFiles...)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files loaded before the config is expanded (default .env if present)")

	cmd.AddCommand(
		newServeCommand(opts),
		newTalkCommand(opts),
		newVoicesCommand(opts),
		newConfigCommand(opts),
	)
	return cmd
}

// loadConfig reads the config file and applies its log level.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", o.configPath)
		}
		return nil, err
	}
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	return cfg, nil
}

// ── Logger ────────────────────────────────────────────────────────────────────

func setupLogger(w io.Writer) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
