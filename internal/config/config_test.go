package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Empty(t, cfg.LLM.BaseURL)
	assert.Equal(t, "glm-4-plus", cfg.LLM.Model)
	assert.InDelta(t, 0.7, cfg.LLM.TableTemperature, 1e-9)
	assert.InDelta(t, 0.3, cfg.LLM.SQLTemperature, 1e-9)
	assert.Empty(t, cfg.LLM.APIKey)
	assert.Equal(t, "duckdb", cfg.Database.Driver)
	assert.Equal(t, "~/.config/finance-qa/finance.duckdb", cfg.Database.DSN)
	assert.Equal(t, 10, cfg.Database.MaxConnections)
	assert.Equal(t, "30s", cfg.Database.QueryTimeout)
	assert.Equal(t, 0, cfg.Database.MaxRows)
	assert.True(t, cfg.Database.GuardEnabled)
	assert.True(t, cfg.Catalog.StrictTables)
	assert.False(t, cfg.Catalog.StrictFields)
	assert.Equal(t, "metadata", cfg.Catalog.FieldSource)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.False(t, cfg.Debug.Enabled)

	assert.NoError(t, validateConfig(cfg))
}

func TestDefaultConfigIgnoresEnvironment(t *testing.T) {
	t.Setenv("FINANCE_QA_LLM_MODEL", "from-env")

	assert.Equal(t, "glm-4-plus", DefaultConfig().LLM.Model)
}

func TestLoadConfigFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")

	testConfig := map[string]interface{}{
		"llm": map[string]interface{}{
			"model":             "glm-4-air",
			"table_temperature": 0.5,
		},
		"database": map[string]interface{}{
			"dsn":             "/custom/path/finance.duckdb",
			"max_connections": 20,
			"query_timeout":   "60s",
		},
		"logging": map[string]interface{}{
			"level":  "debug",
			"format": "json",
		},
	}

	data, err := json.MarshalIndent(testConfig, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, data, 0600))

	config := DefaultConfig()
	require.NoError(t, loadConfigFromFile(config, configPath))

	assert.Equal(t, "glm-4-air", config.LLM.Model)
	assert.InDelta(t, 0.5, config.LLM.TableTemperature, 1e-9)
	assert.Equal(t, "/custom/path/finance.duckdb", config.Database.DSN)
	assert.Equal(t, 20, config.Database.MaxConnections)
	assert.Equal(t, "60s", config.Database.QueryTimeout)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)

	// Keys absent from the file keep their defaults
	assert.True(t, config.Database.GuardEnabled)
	assert.InDelta(t, 0.3, config.LLM.SQLTemperature, 1e-9)
	assert.Equal(t, "duckdb", config.Database.Driver)
}

func TestLoadConfigFromYAMLFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	content := `
llm:
  provider: ollama
  base_url: http://localhost:11434
  model: qwen2.5
database:
  driver: postgres
  dsn: postgres://finance@localhost/finance?sslmode=disable
  guard_enabled: false
catalog:
  strict_tables: false
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	config := DefaultConfig()
	require.NoError(t, loadConfigFromFile(config, configPath))

	assert.Equal(t, "ollama", config.LLM.Provider)
	assert.Equal(t, "qwen2.5", config.LLM.Model)
	assert.Equal(t, "postgres", config.Database.Driver)
	assert.False(t, config.Database.GuardEnabled)
	assert.False(t, config.Catalog.StrictTables)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestLoadConfigFromFileInvalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "invalid json", file: "config.json", content: "invalid json"},
		{name: "invalid yaml", file: "config.yml", content: "llm: [unclosed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(configPath, []byte(tt.content), 0600))

			err := loadConfigFromFile(DefaultConfig(), configPath)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "failed to parse config file")
		})
	}
}

func TestApplyEnvironmentOverrides(t *testing.T) {
	envVars := map[string]string{
		"FINANCE_QA_LLM_PROVIDER":        "anthropic",
		"FINANCE_QA_LLM_API_KEY":         "secret",
		"FINANCE_QA_LLM_SQL_TEMPERATURE": "0.1",
		"FINANCE_QA_DB_DRIVER":           "mysql",
		"FINANCE_QA_DB_MAX_ROWS":         "500",
		"FINANCE_QA_DB_GUARD_ENABLED":    "false",
		"FINANCE_QA_LOG_LEVEL":           "warn",
		"FINANCE_QA_DEBUG":               "true",
	}

	for key, value := range envVars {
		t.Setenv(key, value)
	}

	config := DefaultConfig()
	config.Database.DSN = "/from/file.duckdb"

	require.NoError(t, applyEnvironmentOverrides(config))

	assert.Equal(t, "anthropic", config.LLM.Provider)
	assert.Equal(t, "secret", config.LLM.APIKey)
	assert.InDelta(t, 0.1, config.LLM.SQLTemperature, 1e-9)
	assert.Equal(t, "mysql", config.Database.Driver)
	assert.Equal(t, 500, config.Database.MaxRows)
	assert.False(t, config.Database.GuardEnabled)
	assert.Equal(t, "warn", config.Logging.Level)
	assert.True(t, config.Debug.Enabled)

	// Unset variables do not clobber earlier layers
	assert.Equal(t, "/from/file.duckdb", config.Database.DSN)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := DefaultConfig()

	overrides := map[string]interface{}{
		"db-dsn":    "/flag/finance.duckdb",
		"catalog":   "/flag/table_metadata.json",
		"model":     "glm-4-flash",
		"log-level": "error",
		"verbose":   true,
		"debug":     true,
		"config":    "/ignored/here.json",
	}

	require.NoError(t, applyFlagOverrides(config, overrides))

	assert.Equal(t, "/flag/finance.duckdb", config.Database.DSN)
	assert.Equal(t, "/flag/table_metadata.json", config.Catalog.Path)
	assert.Equal(t, "glm-4-flash", config.LLM.Model)
	assert.Equal(t, "error", config.Logging.Level)
	assert.True(t, config.Debug.Verbose)
	assert.True(t, config.Debug.Enabled)

	err := applyFlagOverrides(config, map[string]interface{}{"bogus": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag override")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name          string
		modifyConfig  func(*Config)
		expectError   bool
		errorContains string
	}{
		{
			name:         "valid config",
			modifyConfig: func(_ *Config) {},
		},
		{
			name:          "invalid log level",
			modifyConfig:  func(c *Config) { c.Logging.Level = "invalid" },
			expectError:   true,
			errorContains: "invalid log level",
		},
		{
			name:          "invalid log format",
			modifyConfig:  func(c *Config) { c.Logging.Format = "invalid" },
			expectError:   true,
			errorContains: "invalid log format",
		},
		{
			name:          "invalid log output",
			modifyConfig:  func(c *Config) { c.Logging.Output = "invalid" },
			expectError:   true,
			errorContains: "invalid log output",
		},
		{
			name:          "invalid provider",
			modifyConfig:  func(c *Config) { c.LLM.Provider = "bard" },
			expectError:   true,
			errorContains: "invalid llm provider",
		},
		{
			name:          "invalid driver",
			modifyConfig:  func(c *Config) { c.Database.Driver = "oracle" },
			expectError:   true,
			errorContains: "invalid database driver",
		},
		{
			name:          "invalid field source",
			modifyConfig:  func(c *Config) { c.Catalog.FieldSource = "guess" },
			expectError:   true,
			errorContains: "invalid field source",
		},
		{
			name:          "invalid database timeout",
			modifyConfig:  func(c *Config) { c.Database.QueryTimeout = "invalid" },
			expectError:   true,
			errorContains: "invalid database query timeout",
		},
		{
			name:          "invalid llm timeout",
			modifyConfig:  func(c *Config) { c.LLM.Timeout = "soon" },
			expectError:   true,
			errorContains: "invalid llm timeout",
		},
		{
			name:          "temperature out of range",
			modifyConfig:  func(c *Config) { c.LLM.TableTemperature = 3 },
			expectError:   true,
			errorContains: "table_temperature",
		},
		{
			name:          "invalid max connections",
			modifyConfig:  func(c *Config) { c.Database.MaxConnections = -1 },
			expectError:   true,
			errorContains: "database max connections must be positive",
		},
		{
			name:          "negative max rows",
			modifyConfig:  func(c *Config) { c.Database.MaxRows = -5 },
			expectError:   true,
			errorContains: "max rows cannot be negative",
		},
		{
			name:          "negative batch limit",
			modifyConfig:  func(c *Config) { c.Batch.Limit = -1 },
			expectError:   true,
			errorContains: "batch limit cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modifyConfig(config)

			err := validateConfig(config)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	homeDir := os.Getenv("HOME")
	if homeDir == "" {
		t.Skip("HOME environment variable not set")
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "absolute path", input: "/absolute/path", expected: "/absolute/path"},
		{name: "relative path", input: "relative/path", expected: "relative/path"},
		{name: "home directory only", input: "~", expected: homeDir},
		{
			name:     "home directory with path",
			input:    "~/config/file.json",
			expected: filepath.Join(homeDir, "config/file.json"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandPath(tt.input))
		})
	}
}

func TestConfigExpandAllPaths(t *testing.T) {
	homeDir := os.Getenv("HOME")
	if homeDir == "" {
		t.Skip("HOME environment variable not set")
	}

	config := &Config{
		Database: DatabaseConfig{Driver: "duckdb", DSN: "~/db/finance.duckdb"},
		Catalog:  CatalogConfig{Path: "~/meta/table_metadata.json"},
		Logging:  LoggingConfig{File: "~/logs/app.log"},
	}

	config.ExpandAllPaths()

	assert.Equal(t, filepath.Join(homeDir, "db/finance.duckdb"), config.Database.DSN)
	assert.Equal(t, filepath.Join(homeDir, "meta/table_metadata.json"), config.Catalog.Path)
	assert.Equal(t, filepath.Join(homeDir, "logs/app.log"), config.Logging.File)

	// Network DSNs are left alone
	pg := &Config{Database: DatabaseConfig{Driver: "postgres", DSN: "~user@host"}}
	pg.ExpandAllPaths()
	assert.Equal(t, "~user@host", pg.Database.DSN)
}

func TestLoadConfigWithOverrides(t *testing.T) {
	t.Setenv("FINANCE_QA_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	config, err := LoadConfigWithOverrides(nil)
	require.NoError(t, err)

	defaultConfig := DefaultConfig()
	assert.Equal(t, defaultConfig.Database.DSN, config.Database.DSN)
	assert.Equal(t, defaultConfig.LLM.Model, config.LLM.Model)

	configPath := filepath.Join(t.TempDir(), "explicit.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"llm":{"model":"from-file"}}`), 0600))

	config, err = LoadConfigWithOverrides(map[string]interface{}{
		"config":    configPath,
		"log-level": "debug",
	})
	require.NoError(t, err)
	assert.Equal(t, "from-file", config.LLM.Model)
	assert.Equal(t, "debug", config.Logging.Level)

	_, err = LoadConfigWithOverrides(map[string]interface{}{"log-level": "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("FINANCE_QA_TEST_DOTENV=loaded\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("FINANCE_QA_TEST_DOTENV") })

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("FINANCE_QA_TEST_DOTENV"))

	assert.NoError(t, loadDotEnv(filepath.Join(dir, "absent.env")))
}

func TestEnvironmentRestoresDefaultsOverFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"catalog": {"strict_tables": false},
		"database": {"guard_enabled": false, "max_rows": 100},
		"llm": {"model": "from-file"}
	}`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	t.Setenv("FINANCE_QA_CONFIG", configPath)
	t.Setenv("FINANCE_QA_CATALOG_STRICT_TABLES", "true")
	t.Setenv("FINANCE_QA_DB_GUARD_ENABLED", "true")
	t.Setenv("FINANCE_QA_DB_MAX_ROWS", "0")
	t.Setenv("FINANCE_QA_LLM_MODEL", "glm-4-plus")

	config, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, config.Catalog.StrictTables)
	assert.True(t, config.Database.GuardEnabled)
	assert.Equal(t, 0, config.Database.MaxRows)
	assert.Equal(t, "glm-4-plus", config.LLM.Model)
}

func TestEnvironmentLeavesFileValuesWhenUnset(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"database": {"guard_enabled": false, "query_timeout": "5s"}}`), 0600))

	t.Setenv("FINANCE_QA_CONFIG", configPath)

	config, err := LoadConfig()
	require.NoError(t, err)

	assert.False(t, config.Database.GuardEnabled)
	assert.Equal(t, "5s", config.Database.QueryTimeout)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestDurations(t *testing.T) {
	config := DefaultConfig()

	queryTimeout, err := config.Database.QueryTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, queryTimeout)

	lifetime, err := config.Database.ConnMaxLifetimeDuration()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, lifetime)

	llmTimeout, err := config.LLM.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, llmTimeout)

	config.Database.QueryTimeout = ""
	queryTimeout, err = config.Database.QueryTimeoutDuration()
	require.NoError(t, err)
	assert.Zero(t, queryTimeout)

	config.LLM.Timeout = "soon"
	_, err = config.LLM.TimeoutDuration()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestRedacted(t *testing.T) {
	config := DefaultConfig()
	config.LLM.APIKey = "sk-real"

	redacted := config.Redacted()
	assert.Equal(t, "********", redacted.LLM.APIKey)
	assert.Equal(t, "sk-real", config.LLM.APIKey)
}
