package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jinwktk/YomiageBotAlpha/internal/app"
	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts"
)

const checkTimeout = 10 * time.Second

func newBackendCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Inspect the synthesis backend",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Connect to the backend and list its models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			backend, err := app.NewBackendRegistry().CreateBackend(cfg.Synthesis)
			if err != nil {
				return err
			}
			checker, ok := backend.(tts.Checker)
			if !ok {
				return fmt.Errorf("backend %q cannot list its models", backend.Name())
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
			defer cancel()
			models, err := checker.Check(ctx)
			if err != nil {
				return fmt.Errorf("check %s at %s: %w", backend.Name(), cfg.Synthesis.BaseURL, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s at %s: %d models\n", backend.Name(), cfg.Synthesis.BaseURL, len(models))
			for _, m := range models {
				marker := " "
				if m.ID == cfg.Voice.ModelID {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %3d  %-20s  styles: %s\n", marker, m.ID, m.Name, strings.Join(m.Styles, ", "))
			}
			if !slices.ContainsFunc(models, func(m tts.ModelInfo) bool { return m.ID == cfg.Voice.ModelID }) {
				return fmt.Errorf("default voice model %d is not hosted by the backend", cfg.Voice.ModelID)
			}
			return nil
		},
	})
	return cmd
}
