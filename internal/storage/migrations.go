package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kyleking/finance-qa/internal/logging"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// MigrationManager handles schema migrations of the local DuckDB store
type MigrationManager struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *sqlx.DB, logger *logging.Logger) *MigrationManager {
	return &MigrationManager{db: db, logger: logger}
}

// GetMigrations returns all available migrations in order
func (m *MigrationManager) GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Finance schemas and tables",
			Up: `
				CREATE SCHEMA IF NOT EXISTS constantdb;
				CREATE SCHEMA IF NOT EXISTS astockmarketquotesdb;
				CREATE SCHEMA IF NOT EXISTS astockfinancedb;
				CREATE SCHEMA IF NOT EXISTS astockindustrydb;

				CREATE TABLE IF NOT EXISTS constantdb.secumain (
					InnerCode INTEGER PRIMARY KEY,
					CompanyCode INTEGER NOT NULL,
					SecuCode VARCHAR NOT NULL,
					ChiName VARCHAR,
					SecuAbbr VARCHAR,
					SecuMarket INTEGER,
					SecuCategory INTEGER,
					ListedDate DATE
				);

				CREATE TABLE IF NOT EXISTS constantdb.hk_secumain (
					InnerCode INTEGER PRIMARY KEY,
					CompanyCode INTEGER NOT NULL,
					SecuCode VARCHAR NOT NULL,
					ChiName VARCHAR,
					SecuAbbr VARCHAR,
					ListedDate DATE
				);

				CREATE TABLE IF NOT EXISTS astockmarketquotesdb.qt_dailyquote (
					InnerCode INTEGER NOT NULL,
					TradingDay DATE NOT NULL,
					PrevClosePrice DOUBLE,
					OpenPrice DOUBLE,
					HighPrice DOUBLE,
					LowPrice DOUBLE,
					ClosePrice DOUBLE,
					ChangePCT DOUBLE,
					TurnoverVolume BIGINT,
					TurnoverValue DOUBLE,
					TurnoverRate DOUBLE,
					PRIMARY KEY (InnerCode, TradingDay)
				);

				CREATE TABLE IF NOT EXISTS astockfinancedb.lc_balancesheetall (
					CompanyCode INTEGER NOT NULL,
					EndDate DATE NOT NULL,
					InfoPublDate DATE,
					TotalAssets DOUBLE,
					TotalLiability DOUBLE,
					TotalShareholderEquity DOUBLE
				);

				CREATE TABLE IF NOT EXISTS astockfinancedb.lc_incomestatementall (
					CompanyCode INTEGER NOT NULL,
					EndDate DATE NOT NULL,
					InfoPublDate DATE,
					TotalOperatingRevenue DOUBLE,
					OperatingProfit DOUBLE,
					NetProfit DOUBLE
				);

				CREATE TABLE IF NOT EXISTS astockindustrydb.lc_exgindustry (
					CompanyCode INTEGER NOT NULL,
					InfoPublDate DATE,
					Standard INTEGER,
					FirstIndustryName VARCHAR,
					SecondIndustryName VARCHAR,
					IfPerformed INTEGER
				);

				CREATE INDEX IF NOT EXISTS idx_secumain_secucode ON constantdb.secumain(SecuCode);
				CREATE INDEX IF NOT EXISTS idx_secumain_company ON constantdb.secumain(CompanyCode);
				CREATE INDEX IF NOT EXISTS idx_balancesheet_company ON astockfinancedb.lc_balancesheetall(CompanyCode, EndDate);
				CREATE INDEX IF NOT EXISTS idx_income_company ON astockfinancedb.lc_incomestatementall(CompanyCode, EndDate);
			`,
			Down: `
				DROP SCHEMA IF EXISTS astockindustrydb CASCADE;
				DROP SCHEMA IF EXISTS astockfinancedb CASCADE;
				DROP SCHEMA IF EXISTS astockmarketquotesdb CASCADE;
				DROP SCHEMA IF EXISTS constantdb CASCADE;
			`,
		},
		{
			Version:     2,
			Description: "Demo securities, quotes and statements",
			Up: `
				INSERT INTO constantdb.secumain VALUES
					(3, 3, '000001', '平安银行股份有限公司', '平安银行', 90, 1, DATE '1991-04-03'),
					(11, 11, '000002', '万科企业股份有限公司', '万科A', 90, 1, DATE '1991-01-29'),
					(1120, 1381, '600036', '招商银行股份有限公司', '招商银行', 83, 1, DATE '2002-04-09');

				INSERT INTO constantdb.hk_secumain VALUES
					(1000546, 1000546, '00700', '腾讯控股有限公司', '腾讯控股', DATE '2004-06-16');

				INSERT INTO astockmarketquotesdb.qt_dailyquote VALUES
					(3, DATE '2021-12-30', 16.81, 16.82, 16.98, 16.70, 16.93, 0.71, 88650123, 1497260000.0, 0.46),
					(3, DATE '2021-12-31', 16.93, 16.95, 16.99, 16.36, 16.48, -2.66, 159520000, 2644090000.0, 0.82),
					(11, DATE '2021-12-30', 19.83, 19.85, 20.10, 19.70, 20.00, 0.86, 55310000, 1104570000.0, 0.57),
					(11, DATE '2021-12-31', 20.00, 20.05, 20.29, 19.90, 20.23, 1.15, 61280000, 1233660000.0, 0.63),
					(1120, DATE '2021-12-31', 49.20, 49.27, 49.62, 48.51, 48.84, -0.73, 40870000, 2000670000.0, 0.20);

				INSERT INTO astockfinancedb.lc_balancesheetall VALUES
					(3, DATE '2021-12-31', DATE '2022-03-10', 4921381000000.0, 4525285000000.0, 396096000000.0),
					(11, DATE '2021-12-31', DATE '2022-03-31', 1938638000000.0, 1574993000000.0, 363645000000.0),
					(1381, DATE '2021-12-31', DATE '2022-03-19', 9249021000000.0, 8417660000000.0, 831361000000.0);

				INSERT INTO astockfinancedb.lc_incomestatementall VALUES
					(3, DATE '2021-12-31', DATE '2022-03-10', 169383000000.0, 47087000000.0, 36336000000.0),
					(11, DATE '2021-12-31', DATE '2022-03-31', 452798000000.0, 49617000000.0, 38070000000.0),
					(1381, DATE '2021-12-31', DATE '2022-03-19', 331253000000.0, 150327000000.0, 120834000000.0);

				INSERT INTO astockindustrydb.lc_exgindustry VALUES
					(3, DATE '2021-07-01', 38, '金融', '银行', 1),
					(11, DATE '2021-07-01', 38, '房地产', '房地产开发', 1),
					(1381, DATE '2021-07-01', 38, '金融', '银行', 1);
			`,
			Down: `
				DELETE FROM astockindustrydb.lc_exgindustry;
				DELETE FROM astockfinancedb.lc_incomestatementall;
				DELETE FROM astockfinancedb.lc_balancesheetall;
				DELETE FROM astockmarketquotesdb.qt_dailyquote;
				DELETE FROM constantdb.hk_secumain;
				DELETE FROM constantdb.secumain;
			`,
		},
	}
}

// InitializeMigrationTable creates the migration tracking table
func (m *MigrationManager) InitializeMigrationTable(ctx context.Context) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`

	_, err := m.db.ExecContext(ctx, createTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	return nil
}

// GetAppliedMigrations returns a list of applied migration versions
func (m *MigrationManager) GetAppliedMigrations(ctx context.Context) ([]int, error) {
	var versions []int

	err := m.db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}

	return versions, nil
}

// IsMigrationApplied checks if a specific migration version has been applied
func (m *MigrationManager) IsMigrationApplied(ctx context.Context, version int) (bool, error) {
	var count int

	err := m.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version)
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}

	return count > 0, nil
}

// ApplyMigration applies a single migration
func (m *MigrationManager) ApplyMigration(ctx context.Context, migration Migration) error {
	applied, err := m.IsMigrationApplied(ctx, migration.Version)
	if err != nil {
		return err
	}

	if applied {
		return fmt.Errorf("migration %d already applied", migration.Version)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		migration.Version, migration.Description)
	if err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	return tx.Commit()
}

// RollbackMigration rolls back a single migration
func (m *MigrationManager) RollbackMigration(ctx context.Context, migration Migration) error {
	applied, err := m.IsMigrationApplied(ctx, migration.Version)
	if err != nil {
		return err
	}

	if !applied {
		return fmt.Errorf("migration %d not applied", migration.Version)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %d: %w", migration.Version, err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", migration.Version)
	if err != nil {
		return fmt.Errorf("failed to remove migration record %d: %w", migration.Version, err)
	}

	return tx.Commit()
}

// MigrateUp applies all pending migrations
func (m *MigrationManager) MigrateUp(ctx context.Context) error {
	if err := m.InitializeMigrationTable(ctx); err != nil {
		return err
	}

	appliedVersions, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	appliedMap := make(map[int]bool)
	for _, version := range appliedVersions {
		appliedMap[version] = true
	}

	migrations := m.GetMigrations()
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for _, migration := range migrations {
		if appliedMap[migration.Version] {
			continue
		}

		m.logger.Infof("Applying migration %d: %s", migration.Version, migration.Description)

		if err := m.ApplyMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// MigrateDown rolls back migrations to a specific version
func (m *MigrationManager) MigrateDown(ctx context.Context, targetVersion int) error {
	appliedVersions, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	migrationMap := make(map[int]Migration)
	for _, migration := range m.GetMigrations() {
		migrationMap[migration.Version] = migration
	}

	sort.Sort(sort.Reverse(sort.IntSlice(appliedVersions)))

	for _, version := range appliedVersions {
		if version <= targetVersion {
			break
		}

		migration, exists := migrationMap[version]
		if !exists {
			return fmt.Errorf("migration %d not found", version)
		}

		m.logger.Infof("Rolling back migration %d: %s", version, migration.Description)

		if err := m.RollbackMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", version, err)
		}
	}

	return nil
}

// GetMigrationStatus returns the current migration status
func (m *MigrationManager) GetMigrationStatus(ctx context.Context) (map[int]MigrationStatus, error) {
	if err := m.InitializeMigrationTable(ctx); err != nil {
		return nil, err
	}

	var applied []MigrationStatus

	err := m.db.SelectContext(ctx, &applied,
		"SELECT version, description, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}

	appliedMap := make(map[int]MigrationStatus, len(applied))
	for _, s := range applied {
		appliedMap[s.Version] = s
	}

	status := make(map[int]MigrationStatus)

	for _, migration := range m.GetMigrations() {
		s := MigrationStatus{
			Version:     migration.Version,
			Description: migration.Description,
		}

		if rec, ok := appliedMap[migration.Version]; ok {
			s.Applied = true
			s.AppliedAt = rec.AppliedAt
		}

		status[migration.Version] = s
	}

	return status, nil
}

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version     int       `json:"version"      db:"version"`
	Description string    `json:"description"  db:"description"`
	Applied     bool      `json:"applied"      db:"-"`
	AppliedAt   time.Time `json:"applied_at"   db:"applied_at"`
}
