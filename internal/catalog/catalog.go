// Package catalog holds the fixed set of queryable tables and their field
// metadata, loaded once at startup.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kyleking/finance-qa/internal/errors"
	"github.com/kyleking/finance-qa/internal/logging"
)

//go:embed table_metadata.json
var defaultMetadata []byte

// Field describes one column of a catalog table
type Field struct {
	Name        string `json:"name"        yaml:"name"`
	Type        string `json:"type"        yaml:"type"`
	Description string `json:"description" yaml:"description"`
}

// Table is a catalog entry keyed by its qualified name (schema.table)
type Table struct {
	Name        string  `json:"-"            yaml:"-"`
	ChineseName string  `json:"chinese_name" yaml:"chinese_name"`
	Description string  `json:"description"  yaml:"description"`
	Columns     []Field `json:"columns"      yaml:"columns"`
}

// FieldMap maps each requested table name to its fields
type FieldMap map[string][]Field

// document is the on-disk metadata layout
type document struct {
	Tables map[string]Table `json:"tables" yaml:"tables"`
}

// Catalog is immutable after Load and safe for concurrent readers.
type Catalog struct {
	tables map[string]Table
	names  []string
	strict bool
	logger *logging.Logger
}

// Option configures a Catalog
type Option func(*Catalog)

// WithStrictFields makes GetFields fail on tables outside the catalog instead
// of returning an empty field list for them.
func WithStrictFields(strict bool) Option {
	return func(c *Catalog) {
		c.strict = strict
	}
}

// WithLogger sets the logger used for warnings
func WithLogger(logger *logging.Logger) Option {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// Load reads the metadata document at path. An empty path loads the
// built-in finance catalog.
func Load(path string, opts ...Option) (*Catalog, error) {
	if path == "" {
		return Parse(defaultMetadata, "json", opts...)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeFileSystem, "failed to read catalog %s", path)
	}

	format := "json"
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		format = "yaml"
	}

	return Parse(data, format, opts...)
}

// Default returns the built-in finance catalog.
func Default(opts ...Option) *Catalog {
	c, err := Parse(defaultMetadata, "json", opts...)
	if err != nil {
		panic(fmt.Sprintf("embedded table metadata is invalid: %v", err))
	}

	return c
}

// Parse builds a catalog from a metadata document in the given format
// ("json" or "yaml").
func Parse(data []byte, format string, opts ...Option) (*Catalog, error) {
	var doc document

	var err error

	switch format {
	case "yaml":
		err = yaml.Unmarshal(data, &doc)
	case "json":
		err = json.Unmarshal(data, &doc)
	default:
		return nil, errors.Newf(errors.ErrTypeCatalog, "unsupported catalog format: %s", format)
	}

	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeCatalog, "failed to parse catalog")
	}

	return New(doc.Tables, opts...)
}

// New builds a catalog from tables keyed by qualified name.
func New(tables map[string]Table, opts ...Option) (*Catalog, error) {
	if len(tables) == 0 {
		return nil, errors.New(errors.ErrTypeCatalog, "catalog has no tables").
			WithSuggestion("Check the \"tables\" key of the metadata document")
	}

	c := &Catalog{tables: make(map[string]Table, len(tables))}

	for name, table := range tables {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New(errors.ErrTypeCatalog, "catalog contains a table with an empty name")
		}

		table.Name = name
		table.Columns = append([]Field(nil), table.Columns...)
		c.tables[name] = table
		c.names = append(c.names, name)
	}

	sort.Strings(c.names)

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Len returns the number of tables
func (c *Catalog) Len() int {
	return len(c.names)
}

// Names returns the table names in sorted order
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// Tables returns every table sorted by name
func (c *Catalog) Tables() []Table {
	out := make([]Table, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.tables[name])
	}

	return out
}

// Lookup returns the table with the given qualified name
func (c *Catalog) Lookup(name string) (Table, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// Contains reports whether name is a catalog table
func (c *Catalog) Contains(name string) bool {
	_, ok := c.tables[name]
	return ok
}

// Unknown returns the names that are not in the catalog, in input order.
func (c *Catalog) Unknown(names []string) []string {
	var unknown []string

	for _, name := range names {
		if !c.Contains(name) {
			unknown = append(unknown, name)
		}
	}

	return unknown
}

// Validate returns a catalog error naming every unknown table.
func (c *Catalog) Validate(names []string) error {
	if unknown := c.Unknown(names); len(unknown) > 0 {
		return errors.NewUnknownTablesError(unknown)
	}

	return nil
}

// GetFields returns the field metadata for each requested table. Tables
// outside the catalog map to an empty list unless the catalog is strict.
func (c *Catalog) GetFields(_ context.Context, tables []string) (FieldMap, error) {
	fields := make(FieldMap, len(tables))

	for _, name := range tables {
		table, ok := c.tables[name]
		if !ok {
			if c.strict {
				return nil, errors.NewUnknownTablesError([]string{name})
			}

			c.logger.WithField("table", name).Warn("Table not in catalog, no fields available")
			fields[name] = []Field{}

			continue
		}

		fields[name] = append([]Field(nil), table.Columns...)
	}

	return fields, nil
}
