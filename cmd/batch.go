package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/finance-qa/internal/batch"
	"github.com/kyleking/finance-qa/internal/errors"
	"github.com/kyleking/finance-qa/internal/logging"
)

type batchOptions struct {
	Input  string
	Output string
	Log    string
	Limit  int
	Resume bool
}

func BatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "Answer every question in a question document",
		Description: `Process a JSON array of question groups in order and write each question's
status and answer back into the document. Press Ctrl-C once to pause after the
current question; the partial document is still written. Run again with
--resume to continue where it stopped.

Examples:
  finance-qa batch --input questions.json --output answers.json
  finance-qa batch --input questions.json --limit 1
  finance-qa batch --input answers.json --resume --log run-log.json`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "Question document to read", Required: true},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Where to write the answered document (defaults to the input)"},
			&cli.StringFlag{Name: "log", Usage: "Where to write the execution log"},
			&cli.IntFlag{Name: "limit", Usage: "Stop after this many questions (0 for no limit)"},
			&cli.BoolFlag{Name: "resume", Usage: "Skip questions already marked completed"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return logging.LoggerMiddleware("batch", func() error {
				return runBatch(ctx, cmd)
			})
		},
	}
}

func runBatch(ctx context.Context, cmd *cli.Command) error {
	cfg, err := requireConfig(ctx)
	if err != nil {
		return err
	}

	opts := batchOptions{
		Input:  cmd.String("input"),
		Output: cmd.String("output"),
		Log:    cmd.String("log"),
		Limit:  cfg.Batch.Limit,
		Resume: cfg.Batch.SkipCompleted,
	}

	if cmd.IsSet("limit") {
		opts.Limit = int(cmd.Int("limit"))
	}

	if cmd.IsSet("resume") {
		opts.Resume = cmd.Bool("resume")
	}

	logger := logging.GetLogger()

	svc, err := initializeServices(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)

	defer signal.Stop(interrupts)

	_, err = RunBatchWithAnswerer(ctx, cmd.Root().Writer, svc.pipeline, opts, interrupts, logger)

	return err
}

// RunBatchWithAnswerer runs the document at opts.Input through answerer.
// The first value on interrupts pauses the batch after the question in
// flight; the second cancels it. The document is written in either case.
func RunBatchWithAnswerer(
	ctx context.Context,
	w io.Writer,
	answerer batch.Answerer,
	opts batchOptions,
	interrupts <-chan os.Signal,
	logger *logging.Logger,
) (*batch.Summary, error) {
	if opts.Limit < 0 {
		return nil, errors.New(errors.ErrTypeValidation, "limit must not be negative")
	}

	groups, err := batch.LoadDocument(opts.Input)
	if err != nil {
		return nil, err
	}

	output := opts.Output
	if output == "" {
		output = opts.Input
	}

	runnerOpts := []batch.Option{
		batch.WithLimit(opts.Limit),
		batch.WithLogger(logger),
		batch.WithProgressFunc(func(p batch.Progress) {
			fmt.Fprintf(w, "[%d/%d] %s %s\n", p.Completed, p.Total, p.Group, p.Question)
		}),
	}

	if opts.Resume {
		runnerOpts = append(runnerOpts, batch.WithSkipCompleted())
	}

	runner := batch.NewRunner(answerer, runnerOpts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go watchInterrupts(ctx, w, interrupts, runner, cancel)

	fmt.Fprintf(w, "Processing %d questions from %s\n", batch.CountQuestions(groups), opts.Input)

	summary, runErr := runner.Run(ctx, groups)

	if err := batch.SaveDocument(output, groups); err != nil {
		return summary, err
	}

	if opts.Log != "" {
		if err := batch.SaveLog(opts.Log, runner.Log()); err != nil {
			return summary, err
		}
	}

	if summary != nil {
		printSummary(w, summary, output)
	}

	return summary, runErr
}

func watchInterrupts(ctx context.Context, w io.Writer, interrupts <-chan os.Signal, runner *batch.Runner, cancel context.CancelFunc) {
	paused := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-interrupts:
			if paused {
				cancel()
				fmt.Fprintln(w, "Canceling...")

				return
			}

			paused = true

			runner.Pause()
			fmt.Fprintln(w, "Pausing after the current question (interrupt again to cancel)...")
		}
	}
}

func printSummary(w io.Writer, s *batch.Summary, output string) {
	fmt.Fprintln(w, "\nBatch Summary")
	fmt.Fprintln(w, "=============")
	fmt.Fprintf(w, "Progress: %d/%d\n", s.Completed, s.Total)
	fmt.Fprintf(w, "Processed: %d (succeeded %d, failed %d)\n", s.Processed, s.Succeeded, s.Failed)

	if s.Skipped > 0 {
		fmt.Fprintf(w, "Skipped: %d already completed\n", s.Skipped)
	}

	switch {
	case s.Finished:
		fmt.Fprintln(w, "State: finished")
	case s.LimitReached:
		fmt.Fprintln(w, "State: limit reached")
	case s.Paused:
		fmt.Fprintln(w, "State: paused (rerun with --resume to continue)")
	default:
		fmt.Fprintln(w, "State: stopped")
	}

	fmt.Fprintf(w, "Duration: %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Output: %s\n", output)
}
