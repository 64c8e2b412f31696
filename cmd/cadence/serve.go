package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/cadence/internal/app"
	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/internal/store"
	"github.com/MrWong99/cadence/internal/store/memstore"
	"github.com/MrWong99/cadence/internal/store/postgres"
)

// storeConnectTimeout bounds connecting to and migrating the database.
const storeConnectTimeout = 30 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	// ── Configuration ─────────────────────────────────────────────────────────
	var running atomic.Pointer[app.App]
	watcher, err := config.NewWatcher(opts.configPath, func(old, new *config.Config) {
		applyReload(running.Load(), old, new)
	})
	if err != nil {
		return err
	}
	defer watcher.Stop()
	cfg := watcher.Current()
	logLevel.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("cadence starting",
		"version", version,
		"config", opts.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "cadence",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, checks, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}

	// ── Store ─────────────────────────────────────────────────────────────────
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}

	application, err := app.New(cfg, providers,
		app.WithStore(st),
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithHealthCheckers(checks...),
	)
	if err != nil {
		_ = st.Close()
		return err
	}
	running.Store(application)

	printStartupSummary(cfg)
	slog.Info("server ready, press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil {
		return err
	}
	slog.Info("goodbye")
	return nil
}

// applyReload takes over the parts of a changed config that do not need a
// restart. application is nil while the server is still starting.
func applyReload(application *app.App, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if (d.VoiceChanged || d.CoachChanged) && application != nil {
		application.ApplyConfig(new)
		slog.Info("config reloaded; new sessions use the updated voice and coach settings",
			"voice", d.VoiceChanged, "coach", d.CoachChanged)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.PostgresDSN == "" {
		slog.Info("using in-memory store")
		return memstore.New(), nil
	}
	ctx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
	defer cancel()
	st, err := postgres.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	slog.Info("using postgres store")
	return st, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         cadence · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM)
	printProvider("STT", cfg.Providers.STT)
	printProvider("TTS", cfg.Providers.TTS)
	printProvider("Dictation", cfg.Providers.Transcriber)
	backend := "memory"
	if cfg.Store.PostgresDSN != "" {
		backend = "postgres"
	}
	fmt.Printf("║  Store           : %-19s ║\n", backend)
	fmt.Printf("║  Voice style     : %-19s ║\n", cfg.Voice.Style)
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind string, e config.ProviderEntry) {
	value := e.Name
	switch {
	case value == "":
		value = "(not configured)"
	case e.Model != "":
		value = e.Name + " / " + e.Model
	}
	if n := len(e.Fallbacks); n > 0 && e.Name != "" {
		value = fmt.Sprintf("%s +%d", value, n)
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
