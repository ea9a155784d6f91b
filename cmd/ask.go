package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/finance-qa/internal/batch"
	"github.com/kyleking/finance-qa/internal/errors"
	"github.com/kyleking/finance-qa/internal/logging"
	"github.com/kyleking/finance-qa/internal/pipeline"
)

type askOptions struct {
	JSON    bool
	Spinner bool
}

func AskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer one question",
		ArgsUsage: "<question>",
		Description: `Run the full pipeline for a single question: pick tables, look up their
fields, generate SQL and execute it. Every stage is printed with its timing.

Examples:
  finance-qa ask "平安银行的股票代码是什么？"
  finance-qa ask --json "万科A在2021年12月31日的收盘价是多少？"`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the full run record as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return logging.LoggerMiddleware("ask", func() error {
				return runAsk(ctx, cmd)
			})
		},
	}
}

func runAsk(ctx context.Context, cmd *cli.Command) error {
	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question == "" {
		return errors.New(errors.ErrTypeValidation, "a question is required").
			WithSuggestion(`Usage: finance-qa ask "<question>"`)
	}

	cfg, err := requireConfig(ctx)
	if err != nil {
		return err
	}

	svc, err := initializeServices(cfg, logging.GetLogger())
	if err != nil {
		return err
	}
	defer svc.Close()

	opts := askOptions{JSON: cmd.Bool("json"), Spinner: !cmd.Bool("json")}

	return RunAskWithPipeline(ctx, cmd.Root().Writer, svc.pipeline, question, opts)
}

// RunAskWithPipeline answers question with answerer and prints the run.
// A failed run is printed and then returned as an error.
func RunAskWithPipeline(ctx context.Context, w io.Writer, answerer batch.Answerer, question string, opts askOptions) error {
	var s *spinner.Spinner
	if opts.Spinner {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond,
			spinner.WithWriter(os.Stderr),
			spinner.WithSuffix(" Thinking..."),
		)
		s.Start()
	}

	run := answerer.Run(ctx, question)

	if s != nil {
		s.Stop()
	}

	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")

		if err := enc.Encode(run); err != nil {
			return errors.Wrap(err, errors.ErrTypeInternal, "failed to encode run")
		}
	} else {
		printRun(w, run)
	}

	if !run.Completed() {
		if run.Err != nil {
			return run.Err
		}

		return errors.New(errors.ErrTypeInternal, run.Error)
	}

	return nil
}

func printRun(w io.Writer, run *pipeline.Run) {
	fmt.Fprintf(w, "Question: %s\n", run.Question)
	fmt.Fprintf(w, "Type: %s\n", run.Type)
	fmt.Fprintf(w, "Run: %s\n\n", run.ID)

	fmt.Fprintln(w, "Steps:")

	for _, step := range run.Steps {
		marker := "✓"
		if step.Status != pipeline.StatusCompleted {
			marker = "✗"
		}

		fmt.Fprintf(w, "  %s %-15s %s\n", marker, step.Name, step.Duration.Round(time.Millisecond))

		if step.Error != "" {
			fmt.Fprintf(w, "      %s\n", step.Error)
		}
	}

	if run.SQL != "" {
		fmt.Fprintf(w, "\nSQL:\n  %s\n", strings.ReplaceAll(run.SQL, "\n", "\n  "))
	}

	if run.Completed() {
		fmt.Fprintf(w, "\nAnswer (%d rows):\n  %s\n", len(run.Answer.Rows), run.Answer.Text())
	} else {
		fmt.Fprintf(w, "\nFailed: %s\n", run.Error)
	}

	fmt.Fprintf(w, "\nCompleted in %s\n", run.Duration().Round(time.Millisecond))
}
