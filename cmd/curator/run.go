package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/bookmeta"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/cli"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/engine"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <table-file>",
		Short: "Enrich a catalog export and mark review candidates",
		Long: `Run the full enrichment pipeline over a catalog export (.csv or .xlsx):
normalize identifiers, classify rows against the cache, fetch missing
metadata from the configured source, persist what was fetched, and mark
acquisition review candidates.

Progress is checkpointed beside the input file. Rerunning the same command
after an interruption resumes where the run stopped; --reset discards all
row statuses and starts over.`,
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}

	cmd.Flags().StringP("output", "o", "", "write the enriched table here (default: in place)")
	cmd.Flags().String("report", "", "write a markdown report to this path")
	cmd.Flags().Bool("reset", false, "clear row statuses and reprocess from scratch")
	cmd.Flags().Bool("force-refresh", false, "treat every cache hit as stale")
	cmd.Flags().Int("max-concurrent", 0, "override fetch.max_concurrent")
	cmd.Flags().Float64("qps", 0, "override fetch.qps")

	_ = viper.BindPFlag("classifier.force_refresh", cmd.Flags().Lookup("force-refresh"))
	_ = viper.BindPFlag("fetch.max_concurrent", cmd.Flags().Lookup("max-concurrent"))
	_ = viper.BindPFlag("fetch.qps", cmd.Flags().Lookup("qps"))

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	inputPath := args[0]
	outputPath, _ := cmd.Flags().GetString("output")
	reportPath, _ := cmd.Flags().GetString("report")
	reset, _ := cmd.Flags().GetBool("reset")

	source, err := bookmeta.NewClient(bookmeta.Config{
		BaseURL:   cfg.Source.BaseURL,
		APIKey:    cfg.Source.APIKey,
		UserAgent: cfg.Source.UserAgent,
		Timeout:   cfg.Source.Timeout,
	})
	if err != nil {
		return fmt.Errorf("metadata source not configured: %w", err)
	}

	store, err := openCache(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	eng, err := engine.New(cfg, source, store)
	if err != nil {
		return err
	}

	resumeHint := "curator run " + inputPath
	if outputPath != "" {
		resumeHint += " --output " + outputPath
	}
	handler := cli.NewInterruptHandler(cmd.ErrOrStderr(), resumeHint)
	ctx := handler.Watch(cmd.Context())

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatTitle("Enriching "+inputPath))

	summary, runErr := eng.Run(ctx, engine.RunOptions{
		InputPath:  inputPath,
		OutputPath: outputPath,
		Reset:      reset,
	})
	if summary != nil {
		if reportErr := emitReport(cmd, summary, reportPath); reportErr != nil && runErr == nil {
			runErr = reportErr
		}
	}
	if runErr != nil {
		if handler.WasInterrupted() {
			// The interrupt notice already told the operator how to resume.
			return nil
		}
		return runErr
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Run complete"))
	return nil
}
