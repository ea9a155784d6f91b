package query

import (
	"context"

	"github.com/kyleking/finance-qa/internal/catalog"
	"github.com/kyleking/finance-qa/internal/errors"
	"github.com/kyleking/finance-qa/internal/llm"
	"github.com/kyleking/finance-qa/internal/logging"
)

// DefaultGenerationTemperature is lower than selection to keep SQL stable
const DefaultGenerationTemperature = 0.3

// SQLGenerator asks the LLM for one SQL statement answering a question
type SQLGenerator struct {
	llm         llm.Service
	temperature float64
	logger      *logging.Logger
}

// NewSQLGenerator creates a generator calling service at the given temperature
func NewSQLGenerator(service llm.Service, temperature float64, logger *logging.Logger) *SQLGenerator {
	return &SQLGenerator{llm: service, temperature: temperature, logger: logger}
}

// GenerateSQL returns the model's SQL with any Markdown fence removed.
// The statement is not checked here; execution applies the guard.
func (g *SQLGenerator) GenerateSQL(
	ctx context.Context,
	question string,
	tables []string,
	fields catalog.FieldMap,
) (string, error) {
	resp, err := g.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			llm.System(sqlGenerationSystemPrompt),
			llm.User(buildSQLGenerationPrompt(question, tables, fields)),
		},
		Temperature: g.temperature,
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrTypeSQLGeneration, "SQL generation request failed")
	}

	sql := stripCodeFence(resp.Content)
	if sql == "" {
		return "", errors.New(errors.ErrTypeSQLGeneration, "model returned no SQL")
	}

	g.logger.WithField("sql", sql).Debug("Generated SQL")

	return sql, nil
}
