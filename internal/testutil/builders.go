package testutil

import (
	"github.com/kyleking/finance-qa/internal/catalog"
	"github.com/kyleking/finance-qa/internal/errors"
	"github.com/kyleking/finance-qa/internal/storage"
)

// TableOption is a functional option for configuring test tables
type TableOption func(*catalog.Table)

// WithChineseName sets the table's Chinese name
func WithChineseName(name string) TableOption {
	return func(t *catalog.Table) {
		t.ChineseName = name
	}
}

// WithDescription sets the table description
func WithDescription(desc string) TableOption {
	return func(t *catalog.Table) {
		t.Description = desc
	}
}

// WithColumns replaces the table's columns
func WithColumns(columns ...catalog.Field) TableOption {
	return func(t *catalog.Table) {
		t.Columns = columns
	}
}

// NewTestTable creates the securities master table with sensible defaults
// and applies any provided options.
func NewTestTable(opts ...TableOption) catalog.Table {
	table := catalog.Table{
		Name:        TestTable,
		ChineseName: "证券主表",
		Description: "A股证券基本信息",
		Columns:     NewTestFields(),
	}

	for _, opt := range opts {
		opt(&table)
	}

	return table
}

// NewTestFields returns a short securities master column list
func NewTestFields() []catalog.Field {
	return []catalog.Field{
		{Name: "InnerCode", Type: "INTEGER", Description: "证券内部编码"},
		{Name: "SecuCode", Type: "VARCHAR", Description: "证券代码"},
		{Name: "SecuAbbr", Type: "VARCHAR", Description: "证券简称"},
	}
}

// NewTestCatalog builds a catalog from tables keyed by name, defaulting to
// the single test table
func NewTestCatalog(tables ...catalog.Table) *catalog.Catalog {
	if len(tables) == 0 {
		tables = []catalog.Table{NewTestTable()}
	}

	byName := make(map[string]catalog.Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}

	cat, err := catalog.New(byName)
	if err != nil {
		panic(err)
	}

	return cat
}

// SuccessResult builds a successful execution result
func SuccessResult(columns []string, rows ...map[string]any) storage.ExecutionResult {
	if rows == nil {
		rows = []map[string]any{}
	}

	return storage.ExecutionResult{
		Status:  storage.StatusSuccess,
		Columns: columns,
		Rows:    rows,
	}
}

// ErrorResult builds a failed execution result
func ErrorResult(message string) storage.ExecutionResult {
	return storage.ExecutionResult{
		Status:    storage.StatusError,
		Message:   message,
		ErrorType: errors.ErrTypeSQLExecution,
	}
}
