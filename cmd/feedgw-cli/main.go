// Package main provides the feedgw-cli command-line tool for the feed gateway.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	feedgateway "github.com/ferro-labs/feed-gateway"
	"github.com/ferro-labs/feed-gateway/feed"
	"github.com/ferro-labs/feed-gateway/graph"
	"github.com/ferro-labs/feed-gateway/internal/fetchlog"
	"github.com/ferro-labs/feed-gateway/internal/version"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "feedgw-cli",
		Short:         "feed gateway command line tool",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newValidateCmd(), newFetchCmd(), newFetchesCmd(), newVersionCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a gateway configuration file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := feedgateway.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := feedgateway.ValidateConfig(*cfg); err != nil {
				return fmt.Errorf("validation error: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "✓ Config is valid")
			fmt.Fprintf(out, "  Listen:      %s\n", cfg.Server.Addr)
			fmt.Fprintf(out, "  Upstream:    %s (user %s)\n", cfg.Upstream.BaseURL, cfg.Upstream.UserID)
			if cfg.Upstream.AccessToken == "" {
				fmt.Fprintln(out, "  Token:       not set, feed will serve null")
			}
			ttl := cfg.Cache.TTL()
			if ttl <= 0 {
				fmt.Fprintf(out, "  Cache:       %s, disabled\n", cfg.Cache.Backend)
			} else {
				fmt.Fprintf(out, "  Cache:       %s, ttl %s, max %d entries\n", cfg.Cache.Backend, ttl, cfg.Cache.Entries())
			}
			if cfg.FetchLog.Enabled() {
				fmt.Fprintf(out, "  Fetch log:   %s\n", cfg.FetchLog.Driver)
			}
			return nil
		},
	}
}

func newFetchCmd() *cobra.Command {
	var (
		server string
		limit  int
		pages  int
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Page through the feed served by a running feedgw",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fetcher, err := feed.NewHTTPFetcher(server, nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printed := 0
			loader := feed.NewLoader(fetcher,
				feed.WithLimit(limit),
				feed.WithOnChange(func(s feed.State) {
					for _, m := range s.Items[printed:] {
						printMedia(out, m)
					}
					printed = len(s.Items)
				}),
			)
			defer loader.Close()

			n, err := feed.Drain(cmd.Context(), loader, pages)
			if err != nil {
				return err
			}
			st := loader.State()
			fmt.Fprintf(out, "%d item(s) in %d page(s), more=%t\n", len(st.Items), n, st.HasMore)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "feedgw base URL or full feed endpoint URL")
	cmd.Flags().IntVar(&limit, "limit", graph.DefaultLimit, "items per page (1-50)")
	cmd.Flags().IntVar(&pages, "pages", 1, "maximum pages to fetch (0 for all)")
	return cmd
}

func printMedia(w io.Writer, m graph.Media) {
	caption := strings.Join(strings.Fields(m.Caption), " ")
	if len(caption) > 60 {
		caption = caption[:57] + "..."
	}
	fmt.Fprintf(w, "%-20s %-15s %s\n", m.ID, m.MediaType, caption)
}

func newFetchesCmd() *cobra.Command {
	var (
		driver string
		dsn    string
		limit  int
		status string
	)
	cmd := &cobra.Command{
		Use:   "fetches",
		Short: "List recent upstream fetches from the fetch log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := fetchlog.Open(driver, dsn)
			if err != nil {
				return fmt.Errorf("opening fetch log: %w", err)
			}
			defer func() { _ = store.Close() }()

			result, err := store.List(cmd.Context(), fetchlog.Query{Limit: limit, Status: status})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range result.Data {
				after := e.After
				if after == "" {
					after = "-"
				}
				fmt.Fprintf(out, "%s  %-12s %3d  limit=%-2d after=%-12s items=%-2d %dms\n",
					e.CreatedAt.Local().Format(time.DateTime), e.Status, e.HTTPStatus, e.Limit, after, e.Items, e.DurationMS)
			}
			fmt.Fprintf(out, "%d of %d fetch(es)\n", len(result.Data), result.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&driver, "driver", fetchlog.DriverSQLite, "fetch log driver (sqlite or postgres)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "fetch log DSN (sqlite file path or postgres URL)")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of rows to show")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (success, error, circuit_open)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "feedgw-cli %s\n", version.String())
		},
	}
}
