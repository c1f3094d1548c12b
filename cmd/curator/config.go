package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/cli"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented sample configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				target = "curator.yaml"
			}
			target = config.ExpandPath(target)

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("failed to check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatSuccess("Wrote sample configuration to "+target))
			fmt.Fprintln(out, cli.FormatInfo("Set source.base_url (or CURATOR_SOURCE_BASE_URL) before running an enrichment"))
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "destination file (default: ./curator.yaml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing file")

	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if used := viper.ConfigFileUsed(); used != "" {
				fmt.Fprintln(out, "Config file: "+used)
			} else {
				fmt.Fprintln(out, "No config file found; defaults and environment in effect")
			}
			fmt.Fprintln(out, cli.FormatSuccess("Configuration valid"))
			return nil
		},
	}
}
