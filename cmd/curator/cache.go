package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/cli"
)

// maxFieldPreview bounds field values in `cache get` output; summaries can
// run to paragraphs.
const maxFieldPreview = 120

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the local metadata cache",
	}
	cmd.AddCommand(cacheStatsCmd())
	cmd.AddCommand(cacheGetCmd())
	return cmd
}

func cacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache size and freshness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openCache(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore(store)

			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatTitle("Metadata cache"))
			fmt.Fprintf(out, "  Entries:         %d\n", stats.Total)
			fmt.Fprintf(out, "  With identifier: %d\n", stats.WithISBN)
			if stats.Total == 0 {
				return nil
			}
			fmt.Fprintf(out, "  Oldest fetch:    %s\n", stats.OldestFetch.Format("2006-01-02"))
			fmt.Fprintf(out, "  Newest fetch:    %s\n", stats.NewestFetch.Format("2006-01-02"))

			day := 24 * time.Hour
			buckets, err := store.AgeHistogram(ctx, time.Now(), []time.Duration{30 * day, 90 * day, 180 * day})
			if err != nil {
				return err
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, cli.StyleTitle("Freshness"))
			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.SetStyle(table.StyleRounded)
			tw.AppendHeader(table.Row{"Age", "Entries"})
			for _, bucket := range buckets {
				tw.AppendRow(table.Row{bucket.Label, bucket.Count})
			}
			tw.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
			tw.Render()
			return nil
		},
	}
}

func cacheGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <barcode>",
		Short: "Show the cached entry for a barcode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openCache(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore(store)

			entry, err := store.GetByBarcode(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if entry == nil {
				fmt.Fprintln(out, cli.FormatWarning("No cache entry for "+args[0]))
				return nil
			}

			var lines []string
			if entry.ISBN != "" {
				lines = append(lines, "isbn: "+entry.ISBN)
			}
			lines = append(lines, "fetched: "+entry.FetchedAt.Format(time.RFC3339))
			lines = append(lines, "updated: "+entry.UpdatedAt.Format(time.RFC3339))

			keys := make([]string, 0, len(entry.Fields))
			for key := range entry.Fields {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				lines = append(lines, key+": "+preview(entry.Fields[key]))
			}

			fmt.Fprintln(out, cli.RenderBox("Cache entry "+entry.Barcode, strings.Join(lines, "\n")))
			return nil
		},
	}
}

func preview(value string) string {
	runes := []rune(value)
	if len(runes) <= maxFieldPreview {
		return value
	}
	return string(runes[:maxFieldPreview]) + "..."
}
