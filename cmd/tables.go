package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/finance-qa/internal/catalog"
	"github.com/kyleking/finance-qa/internal/logging"
)

func TablesCommand() *cli.Command {
	return &cli.Command{
		Name:  "tables",
		Usage: "List the tables in the catalog",
		Description: `Show every table the pipeline may query, with its Chinese name and
description. Use --fields to include the columns.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "fields", Aliases: []string{"f"}, Usage: "Include each table's columns"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := requireConfig(ctx)
			if err != nil {
				return err
			}

			cat, err := loadCatalog(cfg, logging.GetLogger())
			if err != nil {
				return err
			}

			return RunTablesWithCatalog(cmd.Root().Writer, cat, cmd.Bool("fields"))
		},
	}
}

// RunTablesWithCatalog prints the tables of cat
func RunTablesWithCatalog(w io.Writer, cat *catalog.Catalog, withFields bool) error {
	fmt.Fprintf(w, "Catalog Tables (%d)\n", cat.Len())
	fmt.Fprintln(w, "==================")

	for _, table := range cat.Tables() {
		fmt.Fprintf(w, "\n%s  %s\n", table.Name, table.ChineseName)

		if table.Description != "" {
			fmt.Fprintf(w, "  %s\n", table.Description)
		}

		if !withFields {
			fmt.Fprintf(w, "  %d columns\n", len(table.Columns))
			continue
		}

		for _, field := range table.Columns {
			fmt.Fprintf(w, "  - %-28s %-10s %s\n", field.Name, field.Type, field.Description)
		}
	}

	return nil
}
