// Command yomiage is the Discord read-aloud bot: it reads guild chat into
// voice channels through a Style-Bert-VITS2 server and keeps the synthesized
// clips in a local cache.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jinwktk/YomiageBotAlpha/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "yomiage: %v\n", err)
		return 1
	}
	return 0
}

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	level      *slog.LevelVar
}

func newRootCmd() *cobra.Command {
	opts := &options{level: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:           "yomiage",
		Short:         "Discord read-aloud bot backed by Style-Bert-VITS2",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), opts.level))
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newServeCmd(opts),
		newCacheCmd(opts),
		newBackendCmd(opts),
	)
	return root
}

// loadConfig reads the config file and applies its log level.
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found; copy config.example.yaml to get started", o.configPath)
		}
		return nil, err
	}
	o.level.Set(cfg.Server.LogLevel.Level())
	return cfg, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
