package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jinwktk/YomiageBotAlpha/internal/app"
	"github.com/jinwktk/YomiageBotAlpha/internal/config"
)

const shutdownGrace = 15 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and start reading chat aloud",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
}

func serve(ctx context.Context, out io.Writer, opts *options) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Discord.Token == "" {
		return errors.New("discord.token is required (or set DISCORD_TOKEN)")
	}

	slog.Info("yomiage starting",
		"config", opts.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)
	printStartupSummary(out, cfg)

	application, err := app.New(ctx, cfg, app.WithLogLevel(opts.level))
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	watcher, err := config.NewWatcher(opts.configPath, application.Reload)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         yomiage: startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Backend", cfg.Synthesis.Backend)
	printRow(w, "Backend URL", cfg.Synthesis.BaseURL)
	printRow(w, "Voice", fmt.Sprintf("model %d / %s", cfg.Voice.ModelID, cfg.Voice.Style))
	printRow(w, "Cache", fmt.Sprintf("%s (%s)", cfg.Cache.Root, cfg.Cache.MaxBytes))
	printRow(w, "Queue", fmt.Sprintf("%d, %s", cfg.Queue.Depth, cfg.Queue.Overflow))
	if len(cfg.Discord.GuildIDs) > 0 {
		printRow(w, "Guilds", fmt.Sprintf("%d allowed", len(cfg.Discord.GuildIDs)))
	} else {
		printRow(w, "Guilds", "(all)")
	}
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", label, value)
}
