package cmd

import (
	"fmt"

	"github.com/kyleking/finance-qa/internal/catalog"
	"github.com/kyleking/finance-qa/internal/config"
	"github.com/kyleking/finance-qa/internal/llm"
	"github.com/kyleking/finance-qa/internal/logging"
	"github.com/kyleking/finance-qa/internal/pipeline"
	"github.com/kyleking/finance-qa/internal/storage"
)

// services holds the long-lived dependencies of a pipeline run
type services struct {
	catalog  *catalog.Catalog
	executor *storage.Executor
	pipeline *pipeline.Orchestrator
}

func (s *services) Close() error {
	return s.executor.Close()
}

// loadCatalog returns the configured catalog, or the built-in one
func loadCatalog(cfg *config.Config, logger *logging.Logger) (*catalog.Catalog, error) {
	opts := []catalog.Option{
		catalog.WithStrictFields(cfg.Catalog.StrictFields),
		catalog.WithLogger(logger),
	}

	if cfg.Catalog.Path == "" {
		return catalog.Default(opts...), nil
	}

	return catalog.Load(cfg.Catalog.Path, opts...)
}

// initializeStorage opens the configured database
func initializeStorage(cfg *config.Config, logger *logging.Logger) (*storage.Executor, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	exec, err := storage.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	return exec, nil
}

// initializeServices wires catalog, database, LLM client and pipeline
func initializeServices(cfg *config.Config, logger *logging.Logger) (*services, error) {
	cat, err := loadCatalog(cfg, logger)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClientFromApp(cfg.LLM)
	if err != nil {
		return nil, err
	}

	exec, err := initializeStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	orchestrator, err := pipeline.NewFromConfig(cfg, cat, client, exec, logger)
	if err != nil {
		exec.Close()
		return nil, err
	}

	return &services{catalog: cat, executor: exec, pipeline: orchestrator}, nil
}
