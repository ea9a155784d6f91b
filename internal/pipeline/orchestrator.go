// Package pipeline turns a natural-language question into SQL and runs it.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kyleking/finance-qa/internal/catalog"
	"github.com/kyleking/finance-qa/internal/classifier"
	"github.com/kyleking/finance-qa/internal/errors"
	"github.com/kyleking/finance-qa/internal/logging"
	"github.com/kyleking/finance-qa/internal/storage"
)

// TableSelector picks the tables a question needs
type TableSelector interface {
	SelectTables(ctx context.Context, question string) ([]string, error)
}

// FieldResolver returns the columns of each table
type FieldResolver interface {
	GetFields(ctx context.Context, tables []string) (catalog.FieldMap, error)
}

// SQLGenerator writes the SQL answering a question
type SQLGenerator interface {
	GenerateSQL(ctx context.Context, question string, tables []string, fields catalog.FieldMap) (string, error)
}

// SQLExecutor runs a statement. Failures are reported in the result.
type SQLExecutor interface {
	ExecuteSQL(ctx context.Context, sql string) storage.ExecutionResult
}

// Orchestrator runs the four stages in order for each question
type Orchestrator struct {
	classifier *classifier.Classifier
	selector   TableSelector
	resolver   FieldResolver
	generator  SQLGenerator
	executor   SQLExecutor
	logger     *logging.Logger
	now        func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClassifier replaces the default keyword classifier
func WithClassifier(c *classifier.Classifier) Option {
	return func(o *Orchestrator) {
		o.classifier = c
	}
}

// WithLogger sets the logger runs are reported to
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an orchestrator from its four stages
func New(
	selector TableSelector,
	resolver FieldResolver,
	generator SQLGenerator,
	executor SQLExecutor,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		classifier: classifier.Default(),
		selector:   selector,
		resolver:   resolver,
		generator:  generator,
		executor:   executor,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Run answers one question. It always returns a finished run whose status
// is completed or error; the first failing stage ends the run.
func (o *Orchestrator) Run(ctx context.Context, question string) *Run {
	run := &Run{
		ID:        uuid.New().String(),
		Question:  question,
		Type:      o.classifier.Classify(question),
		Status:    StatusProcessing,
		Steps:     make([]Step, 0, len(Stages())),
		StartedAt: o.now(),
	}

	logger := o.logger.WithFields(map[string]interface{}{
		"run_id":        run.ID,
		"question_type": string(run.Type),
	})
	logger.Debug("Starting pipeline run")

	var (
		tables []string
		fields catalog.FieldMap
		sql    string
		result storage.ExecutionResult
	)

	ok := o.stage(ctx, run, logger, StageAnalyzeTables, func(ctx context.Context) (any, error) {
		var err error
		tables, err = o.selector.SelectTables(ctx, question)

		return tables, err
	}) && o.stage(ctx, run, logger, StageGetFields, func(ctx context.Context) (any, error) {
		var err error
		fields, err = o.resolver.GetFields(ctx, tables)

		return fields, err
	}) && o.stage(ctx, run, logger, StageGenerateSQL, func(ctx context.Context) (any, error) {
		var err error
		sql, err = o.generator.GenerateSQL(ctx, question, tables, fields)
		run.SQL = sql

		return sql, err
	}) && o.stage(ctx, run, logger, StageExecuteSQL, func(ctx context.Context) (any, error) {
		result = o.executor.ExecuteSQL(ctx, sql)
		if !result.OK() {
			errType := result.ErrorType
			if errType == "" {
				errType = errors.ErrTypeSQLExecution
			}

			return result, errors.New(errType, result.Message)
		}

		return result, nil
	})

	run.FinishedAt = o.now()

	if ok {
		run.Status = StatusCompleted
		run.Answer = &Answer{Columns: result.Columns, Rows: result.Rows}
	}

	logger.WithFields(map[string]interface{}{
		"status":      string(run.Status),
		"steps":       len(run.Steps),
		"duration_ms": run.Duration().Milliseconds(),
	}).Info("Pipeline run finished")

	return run
}

// stage runs fn as the named stage and records its step. It reports whether
// the run may continue.
func (o *Orchestrator) stage(
	ctx context.Context,
	run *Run,
	logger *logging.Logger,
	name string,
	fn func(context.Context) (any, error),
) bool {
	step := Step{Name: name, Status: StatusProcessing, StartTime: o.now()}

	var (
		result any
		err    error
	)

	if ctxErr := ctx.Err(); ctxErr != nil {
		err = errors.Wrap(ctxErr, errors.ErrTypeCanceled, "run canceled before "+name)
	} else {
		result, err = o.call(ctx, name, fn)
	}

	step.Duration = o.now().Sub(step.StartTime)
	step.Result = result

	stageLogger := logger.WithFields(map[string]interface{}{
		"stage":       name,
		"duration_ms": step.Duration.Milliseconds(),
	})

	if err != nil {
		step.Status = StatusError
		step.Error = err.Error()
		run.Steps = append(run.Steps, step)
		run.Status = StatusError
		run.Error = err.Error()
		run.Err = err

		stageLogger.WarnWithErr("Stage failed", err)

		return false
	}

	step.Status = StatusCompleted
	run.Steps = append(run.Steps, step)

	stageLogger.Debug("Stage completed")

	return true
}

// call invokes fn, turning a panic into an internal error
func (o *Orchestrator) call(ctx context.Context, name string, fn func(context.Context) (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.Newf(errors.ErrTypeInternal, "panic in %s: %v", name, r)
		}
	}()

	return fn(ctx)
}
