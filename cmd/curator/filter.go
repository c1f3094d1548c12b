package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/cli"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/filter"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/service"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/table"
)

func filterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter <table-file>",
		Short: "Re-run the candidate filter on an enriched table",
		Long: `Apply the threshold filter to an already-enriched table without touching
the cache or the metadata source. Rows are regrouped by call number, the
per-group statistics are recomputed, and the candidate column is rewritten.

Useful after tuning filter percentiles or floors: the enrichment results
stay as they are, only the candidate marks change.`,
		Args: cobra.ExactArgs(1),
		RunE: runFilter,
	}

	cmd.Flags().StringP("output", "o", "", "write the marked table here (default: in place)")
	cmd.Flags().String("report", "", "write a markdown report to this path")

	return cmd
}

func runFilter(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rules, err := cfg.CompileRules()
	if err != nil {
		return err
	}

	inputPath := args[0]
	outputPath, _ := cmd.Flags().GetString("output")
	reportPath, _ := cmd.Flags().GetString("report")
	if outputPath == "" {
		outputPath = inputPath
	}

	mapping := tableMapping(cfg)
	codec, err := table.CodecFor(inputPath, mapping)
	if err != nil {
		return err
	}
	outCodec := codec
	if outputPath != inputPath {
		if outCodec, err = table.CodecFor(outputPath, mapping); err != nil {
			return err
		}
	}

	tbl, err := codec.Load(inputPath)
	if err != nil {
		return fmt.Errorf("failed to load table: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatTitle("Filtering "+inputPath))

	thresholder := filter.New(cfg.Filter, rules, filterColumns(cfg))
	result := thresholder.Apply(tbl.Rows())

	if err := outCodec.Save(tbl, outputPath); err != nil {
		return fmt.Errorf("failed to save table: %w", err)
	}

	summary := &service.RunSummary{
		TotalRows:    tbl.Len(),
		StatusCounts: countStatuses(tbl.Rows()),
		Filter:       result,
	}
	if err := emitReport(cmd, summary, reportPath); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Marked %d candidate(s)", result.CandidateCount())))
	return nil
}
