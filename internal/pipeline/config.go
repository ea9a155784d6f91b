package pipeline

import (
	"github.com/kyleking/finance-qa/internal/catalog"
	"github.com/kyleking/finance-qa/internal/config"
	"github.com/kyleking/finance-qa/internal/errors"
	"github.com/kyleking/finance-qa/internal/llm"
	"github.com/kyleking/finance-qa/internal/logging"
	"github.com/kyleking/finance-qa/internal/query"
	"github.com/kyleking/finance-qa/internal/storage"
)

// Field sources selectable through catalog.field_source
const (
	FieldSourceMetadata = "metadata"
	FieldSourceDatabase = "database"
)

// NewFromConfig wires the production stages: LLM-backed table selection and
// SQL generation, catalog or live-schema field resolution, and exec.
func NewFromConfig(
	cfg *config.Config,
	cat *catalog.Catalog,
	service llm.Service,
	exec *storage.Executor,
	logger *logging.Logger,
) (*Orchestrator, error) {
	selector := query.NewTableSelector(service, cat, query.SelectorOptions{
		Temperature:  cfg.LLM.TableTemperature,
		StrictTables: cfg.Catalog.StrictTables,
		Logger:       logger,
	})

	generator := query.NewSQLGenerator(service, cfg.LLM.SQLTemperature, logger)

	var resolver FieldResolver

	switch cfg.Catalog.FieldSource {
	case "", FieldSourceMetadata:
		resolver = cat
	case FieldSourceDatabase:
		resolver = storage.NewSchemaIntrospector(exec.DB(), cat, cfg.Catalog.StrictFields, logger)
	default:
		return nil, errors.NewConfigError("unknown field source "+cfg.Catalog.FieldSource, "catalog.field_source")
	}

	return New(selector, resolver, generator, exec, WithLogger(logger)), nil
}
