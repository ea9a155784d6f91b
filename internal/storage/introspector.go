package storage

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/kyleking/finance-qa/internal/catalog"
	"github.com/kyleking/finance-qa/internal/errors"
	"github.com/kyleking/finance-qa/internal/logging"
)

// SchemaIntrospector resolves fields from the live database instead of the
// catalog's static metadata. Descriptions come from the catalog when present.
type SchemaIntrospector struct {
	db      *sqlx.DB
	catalog *catalog.Catalog
	strict  bool
	logger  *logging.Logger
}

type columnRow struct {
	Name string `db:"column_name"`
	Type string `db:"data_type"`
}

// NewSchemaIntrospector creates a resolver over db. cat may be nil.
func NewSchemaIntrospector(db *sqlx.DB, cat *catalog.Catalog, strict bool, logger *logging.Logger) *SchemaIntrospector {
	return &SchemaIntrospector{db: db, catalog: cat, strict: strict, logger: logger}
}

// GetFields returns the columns of each "schema.table" name in ordinal order.
// A table with no columns gets an empty list, or an error when strict.
func (s *SchemaIntrospector) GetFields(ctx context.Context, tables []string) (catalog.FieldMap, error) {
	q := s.db.Rebind(`
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`)

	fields := make(catalog.FieldMap, len(tables))

	for _, name := range tables {
		schema, table := splitTableName(name)

		var rows []columnRow
		if err := s.db.SelectContext(ctx, &rows, q, schema, table); err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeDatabase, "failed to read columns of %s", name)
		}

		if len(rows) == 0 {
			if s.strict {
				return nil, errors.NewUnknownTablesError([]string{name})
			}

			s.logger.WithField("table", name).Warn("Table not found in database, resolving no fields")
		}

		fields[name] = s.describe(name, rows)
	}

	return fields, nil
}

func (s *SchemaIntrospector) describe(name string, rows []columnRow) []catalog.Field {
	descriptions := map[string]string{}

	if s.catalog != nil {
		if t, ok := s.catalog.Lookup(name); ok {
			for _, c := range t.Columns {
				descriptions[strings.ToLower(c.Name)] = c.Description
			}
		}
	}

	out := make([]catalog.Field, 0, len(rows))
	for _, r := range rows {
		out = append(out, catalog.Field{
			Name:        r.Name,
			Type:        strings.ToUpper(r.Type),
			Description: descriptions[strings.ToLower(r.Name)],
		})
	}

	return out
}

// splitTableName splits "schema.table"; a bare name gets the "main" schema
func splitTableName(name string) (string, string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}

	return "main", name
}
