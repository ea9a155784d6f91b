package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/finance-qa/internal/config"
	"github.com/kyleking/finance-qa/internal/errors"
	"github.com/kyleking/finance-qa/internal/logging"
)

type contextKey string

const configContextKey contextKey = "config"

var stringOverrides = []string{"config", "db-driver", "db-dsn", "catalog", "model", "provider", "log-level"}

var boolOverrides = []string{"verbose", "debug"}

// NewApp builds the root command with every subcommand attached
func NewApp() *cli.Command {
	return &cli.Command{
		Name:  "finance-qa",
		Usage: "Answer financial questions by generating SQL against a market database",
		Description: `finance-qa turns a natural-language question about Chinese securities into SQL.
It picks the relevant tables with an LLM, looks up their fields, generates a
read-only query and runs it against the configured database.

Examples:
  finance-qa init-db
  finance-qa ask "平安银行的股票代码是什么？"
  finance-qa batch --input questions.json --output answers.json --resume`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to the configuration file"},
			&cli.StringFlag{Name: "db-driver", Usage: "Database driver: duckdb, postgres or mysql"},
			&cli.StringFlag{Name: "db-dsn", Usage: "Database DSN (file path for duckdb)"},
			&cli.StringFlag{Name: "catalog", Usage: "Table metadata file (JSON or YAML)"},
			&cli.StringFlag{Name: "model", Usage: "LLM model name"},
			&cli.StringFlag{Name: "provider", Usage: "LLM provider: openai, anthropic or ollama"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn or error"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Verbose output"},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
		},
		Before: loadConfig,
		Commands: []*cli.Command{
			AskCommand(),
			BatchCommand(),
			TablesCommand(),
			InitDBCommand(),
			ConfigCommand(),
		},
	}
}

// Execute runs the CLI with the process arguments
func Execute() error {
	err := NewApp().Run(context.Background(), os.Args)
	if err != nil {
		printError(os.Stderr, err)
	}

	return err
}

// loadConfig resolves the configuration once and stores it on the context
func loadConfig(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	overrides := collectOverrides(cmd)

	cfg, err := config.LoadConfigWithOverrides(overrides)
	if err != nil {
		return ctx, errors.Wrap(err, errors.ErrTypeConfig, "failed to load configuration")
	}

	cfg.ExpandAllPaths()

	if cfg.Debug.Enabled {
		cfg.Logging.Level = "debug"
	} else if cfg.Debug.Verbose && (cfg.Logging.Level == "warn" || cfg.Logging.Level == "error") {
		cfg.Logging.Level = "info"
	}

	if err := logging.InitializeLogger(cfg.Logging); err != nil {
		logging.SetupFallbackLogger()
		logging.GetLogger().WarnWithErr("Falling back to stderr logging", err)
	}

	return withConfig(ctx, cfg), nil
}

func collectOverrides(cmd *cli.Command) map[string]interface{} {
	overrides := map[string]interface{}{}

	for _, name := range stringOverrides {
		if cmd.IsSet(name) {
			overrides[name] = cmd.String(name)
		}
	}

	for _, name := range boolOverrides {
		if cmd.IsSet(name) {
			overrides[name] = cmd.Bool(name)
		}
	}

	return overrides
}

// getConfigFromContext returns the configuration stored by loadConfig
func getConfigFromContext(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(configContextKey).(*config.Config)
	return cfg
}

// withConfig stores cfg for getConfigFromContext
func withConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

// requireConfig is getConfigFromContext for commands that cannot run without one
func requireConfig(ctx context.Context) (*config.Config, error) {
	cfg := getConfigFromContext(ctx)
	if cfg == nil {
		return nil, errors.NewConfigError("failed to load configuration", "")
	}

	return cfg, nil
}

// printError writes err and any suggestions attached to it
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	var structured *errors.Error
	if stderrors.As(err, &structured) && len(structured.Suggestions) > 0 {
		fmt.Fprintf(w, "Suggestions:\n  - %s\n", strings.Join(structured.Suggestions, "\n  - "))
	}
}
