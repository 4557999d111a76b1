package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jinwktk/YomiageBotAlpha/internal/app"
	"github.com/jinwktk/YomiageBotAlpha/internal/cache"
)

func newCacheCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the clip cache",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print cache size and usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd.Context(), opts, func(s *cache.Store) error {
				printCacheStats(cmd.OutOrStdout(), s.Root(), s.Stats())
				return nil
			})
		},
	}

	var expired bool
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete cached clips",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd.Context(), opts, func(s *cache.Store) error {
				if expired {
					n := s.PurgeExpired(cmd.Context())
					fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired clips\n", n)
					return nil
				}
				n, err := s.Purge(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d clips\n", n)
				return err
			})
		},
	}
	purge.Flags().BoolVar(&expired, "expired", false, "only delete clips older than cache.max_age")

	cmd.AddCommand(stats, purge)
	return cmd
}

func withCache(ctx context.Context, opts *options, fn func(*cache.Store) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	s, err := cache.Open(ctx, app.CacheConfig(cfg.Cache))
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func printCacheStats(w io.Writer, root string, st cache.Stats) {
	fmt.Fprintf(w, "root:        %s\n", root)
	fmt.Fprintf(w, "entries:     %s", humanize.Comma(int64(st.Entries)))
	if st.MaxEntries > 0 {
		fmt.Fprintf(w, " / %s", humanize.Comma(int64(st.MaxEntries)))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "size:        %s", humanize.Bytes(uint64(max(st.Bytes, 0))))
	if st.MaxBytes > 0 {
		fmt.Fprintf(w, " / %s", humanize.Bytes(uint64(st.MaxBytes)))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "compressed:  %d\n", st.Compressed)
	if !st.Oldest.IsZero() {
		fmt.Fprintf(w, "oldest:      %s\n", humanize.Time(st.Oldest))
	}
	if st.MaxAge > 0 {
		fmt.Fprintf(w, "max age:     %s\n", st.MaxAge.Round(time.Second))
	}
	fmt.Fprintf(w, "index:       %t\n", st.IndexAvailable)
}
