package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kyleking/finance-qa/internal/errors"
	"github.com/kyleking/finance-qa/internal/logging"
	"github.com/kyleking/finance-qa/internal/query"

	_ "github.com/go-sql-driver/mysql"  // MySQL driver
	_ "github.com/lib/pq"               // PostgreSQL driver
	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
)

// Supported database drivers
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Execution statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ExecutionResult is the tagged outcome of running one statement.
// Exactly one of Rows or Message is meaningful, depending on Status.
type ExecutionResult struct {
	Status    string           `json:"status"`
	Columns   []string         `json:"columns,omitempty"`
	Rows      []map[string]any `json:"rows,omitempty"`
	Truncated bool             `json:"truncated,omitempty"`
	Message   string           `json:"message,omitempty"`
	ErrorType errors.ErrorType `json:"error_type,omitempty"`
	Duration  time.Duration    `json:"duration"`
}

// OK reports whether the statement ran successfully
func (r ExecutionResult) OK() bool {
	return r.Status == StatusSuccess
}

// Guard vets a statement before it reaches the database
type Guard interface {
	Check(statement string) error
}

// Executor runs generated SQL against a shared database handle
type Executor struct {
	db      *sqlx.DB
	driver  string
	guard   Guard
	timeout time.Duration
	maxRows int
	logger  *logging.Logger
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithGuard replaces the statement guard. A nil guard disables checking.
func WithGuard(g Guard) ExecutorOption {
	return func(e *Executor) {
		e.guard = g
	}
}

// WithQueryTimeout bounds each statement. Zero means no deadline.
func WithQueryTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithMaxRows caps the rows collected per statement. Zero means no cap.
func WithMaxRows(n int) ExecutorOption {
	return func(e *Executor) {
		e.maxRows = n
	}
}

// WithLogger sets the executor's logger
func WithLogger(logger *logging.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor wraps an open handle. The read-only guard is on unless
// WithGuard(nil) is passed.
func NewExecutor(db *sqlx.DB, opts ...ExecutorOption) *Executor {
	e := &Executor{
		db:     db,
		driver: db.DriverName(),
		guard:  query.NewGuard(db.DriverName()),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// openDB opens and pings a pooled handle for driver
func openDB(driver, dsn string, pool poolSettings) (*sqlx.DB, error) {
	switch driver {
	case DriverDuckDB:
		if dsn != "" && dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, errors.Wrap(err, errors.ErrTypeFileSystem, "failed to create database directory")
			}
		}
	case DriverPostgres, DriverMySQL:
	default:
		return nil, errors.Newf(errors.ErrTypeConfig, "unsupported database driver: %s", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to open database")
	}

	db.SetMaxOpenConns(pool.maxOpen)
	db.SetMaxIdleConns(pool.maxIdle)
	db.SetConnMaxLifetime(pool.maxLifetime)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to ping database").
			WithSuggestion("Check the database DSN and that the server is reachable")
	}

	if driver == DriverDuckDB {
		if err := restrictDuckDB(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return db, nil
}

// duckDBRestrictions cut the engine off from the host filesystem and
// extensions, then freeze the configuration so statements cannot undo it.
var duckDBRestrictions = []string{
	"SET GLOBAL enable_external_access = false",
	"SET GLOBAL lock_configuration = true",
}

func restrictDuckDB(db *sqlx.DB) error {
	for _, stmt := range duckDBRestrictions {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrapf(err, errors.ErrTypeDatabase, "failed to apply %q", stmt)
		}
	}

	return nil
}

// readOnlyTx reports whether statements for driver run inside a read-only
// transaction. DuckDB rejects read-only transaction options.
func readOnlyTx(driver string) bool {
	return driver == DriverPostgres || driver == DriverMySQL
}

// DB returns the underlying handle
func (e *Executor) DB() *sqlx.DB {
	return e.db
}

// Driver returns the driver name the handle was opened with
func (e *Executor) Driver() string {
	return e.driver
}

// Close closes the database handle
func (e *Executor) Close() error {
	if e.db != nil {
		return e.db.Close()
	}

	return nil
}

// Initialize applies pending migrations. Only the local DuckDB store is
// migrated; external databases are used as they are.
func (e *Executor) Initialize(ctx context.Context) error {
	if e.driver != DriverDuckDB {
		return errors.Newf(errors.ErrTypeConfig, "migrations are only supported for %s, not %s", DriverDuckDB, e.driver)
	}

	manager := NewMigrationManager(e.db, e.logger)
	if err := manager.MigrateUp(ctx); err != nil {
		return errors.Wrap(err, errors.ErrTypeDatabase, "failed to run migrations")
	}

	return nil
}

// ExecuteSQL runs one statement and returns its rows or the failure as a
// result. It never returns a Go error and never panics.
func (e *Executor) ExecuteSQL(ctx context.Context, statement string) (result ExecutionResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result = failure(errors.Newf(errors.ErrTypeInternal, "panic during execution: %v", r))
		}

		result.Duration = time.Since(start)

		e.logger.WithFields(map[string]interface{}{
			"status":      result.Status,
			"rows":        len(result.Rows),
			"duration_ms": result.Duration.Milliseconds(),
		}).Debug("Executed SQL")
	}()

	if e.guard != nil {
		if err := e.guard.Check(statement); err != nil {
			return failure(err)
		}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	rows, release, err := e.query(ctx, statement)
	if err != nil {
		return failure(errors.Wrap(err, errors.ErrTypeSQLExecution, "query failed"))
	}
	defer release()
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return failure(errors.Wrap(err, errors.ErrTypeSQLExecution, "failed to read columns"))
	}

	result = ExecutionResult{
		Status:  StatusSuccess,
		Columns: columns,
		Rows:    make([]map[string]any, 0),
	}

	for rows.Next() {
		if e.maxRows > 0 && len(result.Rows) >= e.maxRows {
			result.Truncated = true
			break
		}

		row := make(map[string]any, len(columns))
		if err := rows.MapScan(row); err != nil {
			return failure(errors.Wrap(err, errors.ErrTypeSQLExecution, "failed to scan row"))
		}

		for k, v := range row {
			row[k] = normalizeValue(v)
		}

		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return failure(errors.Wrap(err, errors.ErrTypeSQLExecution, "row iteration failed"))
	}

	return result
}

// query runs statement, inside a read-only transaction where the driver
// supports one. release ends that transaction and must run after rows close.
func (e *Executor) query(ctx context.Context, statement string) (*sqlx.Rows, func(), error) {
	if !readOnlyTx(e.driver) {
		rows, err := e.db.QueryxContext(ctx, statement)
		return rows, func() {}, err
	}

	tx, err := e.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, err
	}

	rows, err := tx.QueryxContext(ctx, statement)
	if err != nil {
		_ = tx.Rollback()
		return nil, nil, err
	}

	return rows, func() { _ = tx.Rollback() }, nil
}

func failure(err error) ExecutionResult {
	return ExecutionResult{
		Status:    StatusError,
		Message:   err.Error(),
		ErrorType: errors.GetType(err),
	}
}

// normalizeValue turns driver values into JSON-friendly ones
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format("2006-01-02")
		}

		return val.Format(time.RFC3339)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Sprint(val)
		}

		return val
	case float32:
		return normalizeValue(float64(val))
	case interface{ Float64() float64 }:
		return normalizeValue(val.Float64())
	default:
		return v
	}
}
