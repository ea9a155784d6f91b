package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/finance-qa/internal/config"
	"github.com/kyleking/finance-qa/internal/errors"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:        "config",
		Usage:       "Display the active configuration",
		Description: `Show the active configuration merged from defaults, the config file, .env, environment variables and command-line flags. The API key is masked.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := requireConfig(ctx)
			if err != nil {
				return err
			}

			return runConfig(cmd.Root().Writer, cfg)
		},
	}
}

func runConfig(w io.Writer, cfg *config.Config) error {
	if cfg == nil {
		return errors.NewConfigError("failed to load configuration", "")
	}

	cfg = cfg.Redacted()

	fmt.Fprintln(w, "====================")
	fmt.Fprintln(w, "Active Configuration:")

	fmt.Fprintln(w, "\nLLM:")
	fmt.Fprintf(w, "  Provider: %s\n", cfg.LLM.Provider)
	fmt.Fprintf(w, "  Model: %s\n", cfg.LLM.Model)
	fmt.Fprintf(w, "  Base URL: %s\n", getStringOrDefault(cfg.LLM.BaseURL, "(provider default)"))
	fmt.Fprintf(w, "  API Key: %s\n", getStringOrDefault(cfg.LLM.APIKey, "(not set)"))
	fmt.Fprintf(w, "  Table Temperature: %.1f\n", cfg.LLM.TableTemperature)
	fmt.Fprintf(w, "  SQL Temperature: %.1f\n", cfg.LLM.SQLTemperature)
	fmt.Fprintf(w, "  Max Tokens: %d\n", cfg.LLM.MaxTokens)
	fmt.Fprintf(w, "  Timeout: %s\n", cfg.LLM.Timeout)

	fmt.Fprintln(w, "\nDatabase:")
	fmt.Fprintf(w, "  Driver: %s\n", cfg.Database.Driver)
	fmt.Fprintf(w, "  DSN: %s\n", cfg.Database.DSN)
	fmt.Fprintf(w, "  Max Connections: %d\n", cfg.Database.MaxConnections)
	fmt.Fprintf(w, "  Query Timeout: %s\n", cfg.Database.QueryTimeout)

	if cfg.Database.MaxRows > 0 {
		fmt.Fprintf(w, "  Max Rows: %d\n", cfg.Database.MaxRows)
	}

	fmt.Fprintf(w, "  Read-only Guard: %t\n", cfg.Database.GuardEnabled)

	fmt.Fprintln(w, "\nCatalog:")
	fmt.Fprintf(w, "  Path: %s\n", getStringOrDefault(cfg.Catalog.Path, "(built-in)"))
	fmt.Fprintf(w, "  Field Source: %s\n", cfg.Catalog.FieldSource)
	fmt.Fprintf(w, "  Strict Tables: %t\n", cfg.Catalog.StrictTables)
	fmt.Fprintf(w, "  Strict Fields: %t\n", cfg.Catalog.StrictFields)

	fmt.Fprintln(w, "\nBatch:")
	fmt.Fprintf(w, "  Limit: %d\n", cfg.Batch.Limit)
	fmt.Fprintf(w, "  Skip Completed: %t\n", cfg.Batch.SkipCompleted)

	fmt.Fprintln(w, "\nLogging:")
	fmt.Fprintf(w, "  Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  Format: %s\n", cfg.Logging.Format)
	fmt.Fprintf(w, "  Output: %s\n", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		fmt.Fprintf(w, "  File: %s\n", cfg.Logging.File)
	}

	fmt.Fprintln(w, "\nDebug:")
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Debug.Enabled)
	fmt.Fprintf(w, "  Verbose: %t\n", cfg.Debug.Verbose)

	if cfg.Debug.Enabled {
		fmt.Fprintln(w, "\nRaw Configuration (JSON):")
		fmt.Fprintln(w, "==========================")

		jsonData, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}

		fmt.Fprintln(w, string(jsonData))
	}

	return nil
}

func getStringOrDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}

	return s
}
