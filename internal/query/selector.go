package query

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kyleking/finance-qa/internal/catalog"
	"github.com/kyleking/finance-qa/internal/errors"
	"github.com/kyleking/finance-qa/internal/llm"
	"github.com/kyleking/finance-qa/internal/logging"
)

// DefaultSelectionTemperature favours some variety in table choice
const DefaultSelectionTemperature = 0.7

// SelectorOptions tune table selection
type SelectorOptions struct {
	Temperature float64
	// StrictTables rejects replies naming tables outside the catalog.
	// When false such names pass through with a warning.
	StrictTables bool
	Logger       *logging.Logger
}

// DefaultSelectorOptions returns strict selection at the default temperature
func DefaultSelectorOptions() SelectorOptions {
	return SelectorOptions{Temperature: DefaultSelectionTemperature, StrictTables: true}
}

// TableSelector asks the LLM which catalog tables a question needs
type TableSelector struct {
	llm     llm.Service
	catalog *catalog.Catalog
	opts    SelectorOptions
}

// NewTableSelector creates a table selector over the given catalog
func NewTableSelector(service llm.Service, cat *catalog.Catalog, opts SelectorOptions) *TableSelector {
	return &TableSelector{llm: service, catalog: cat, opts: opts}
}

// SelectTables returns the table names the model chose, in reply order with
// duplicates removed. An empty list means the question lacks information.
func (s *TableSelector) SelectTables(ctx context.Context, question string) ([]string, error) {
	resp, err := s.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			llm.System(tableSelectionSystemPrompt),
			llm.User(buildTableSelectionPrompt(question, s.catalog.Tables())),
		},
		Temperature: s.opts.Temperature,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.GetType(err), "table selection request failed")
	}

	tables, err := parseTableList(resp.Content)
	if err != nil {
		return nil, err
	}

	if unknown := s.catalog.Unknown(tables); len(unknown) > 0 {
		if s.opts.StrictTables {
			return nil, errors.NewUnknownTablesError(unknown)
		}

		s.opts.Logger.WithField("tables", unknown).Warn("Model selected tables outside the catalog")
	}

	s.opts.Logger.WithField("tables", tables).Debug("Selected tables")

	return tables, nil
}

// parseTableList decodes a reply that must be a JSON array of strings,
// optionally wrapped in a Markdown code fence.
func parseTableList(reply string) ([]string, error) {
	var raw []string
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &raw); err != nil {
		return nil, errors.NewResponseParseError(reply, err)
	}

	seen := make(map[string]bool, len(raw))
	tables := make([]string, 0, len(raw))

	for _, name := range raw {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}

		seen[name] = true
		tables = append(tables, name)
	}

	return tables, nil
}
