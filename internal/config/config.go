package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	appName   = "finance-qa"
	envPrefix = "FINANCE_QA_"
)

// Config represents the application configuration
type Config struct {
	LLM      LLMConfig      `json:"llm"      yaml:"llm"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Catalog  CatalogConfig  `json:"catalog"  yaml:"catalog"`
	Batch    BatchConfig    `json:"batch"    yaml:"batch"`
	Logging  LoggingConfig  `json:"logging"  yaml:"logging"`
	Debug    DebugConfig    `json:"debug"    yaml:"debug"`
}

// LLMConfig configures the chat-completion endpoint used by table selection
// and SQL generation.
type LLMConfig struct {
	Provider         string  `json:"provider"          yaml:"provider"          env:"LLM_PROVIDER"          envDefault:"openai"` // openai (any compatible endpoint), anthropic, ollama
	BaseURL          string  `json:"base_url"          yaml:"base_url"          env:"LLM_BASE_URL"`
	Model            string  `json:"model"             yaml:"model"             env:"LLM_MODEL"             envDefault:"glm-4-plus"`
	APIKey           string  `json:"api_key,omitempty" yaml:"api_key,omitempty" env:"LLM_API_KEY"`
	TableTemperature float64 `json:"table_temperature" yaml:"table_temperature" env:"LLM_TABLE_TEMPERATURE" envDefault:"0.7"`
	SQLTemperature   float64 `json:"sql_temperature"   yaml:"sql_temperature"   env:"LLM_SQL_TEMPERATURE"   envDefault:"0.3"`
	MaxTokens        int     `json:"max_tokens"        yaml:"max_tokens"        env:"LLM_MAX_TOKENS"        envDefault:"1024"`
	Timeout          string  `json:"timeout"           yaml:"timeout"           env:"LLM_TIMEOUT"           envDefault:"60s"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver          string `json:"driver"             yaml:"driver"             env:"DB_DRIVER"             envDefault:"duckdb"`
	DSN             string `json:"dsn"                yaml:"dsn"                env:"DB_DSN"                envDefault:"~/.config/finance-qa/finance.duckdb"`
	MaxConnections  int    `json:"max_connections"    yaml:"max_connections"    env:"DB_MAX_CONNECTIONS"    envDefault:"10"`
	MaxIdleConns    int    `json:"max_idle_conns"     yaml:"max_idle_conns"     env:"DB_MAX_IDLE_CONNS"     envDefault:"5"`
	ConnMaxLifetime string `json:"conn_max_lifetime"  yaml:"conn_max_lifetime"  env:"DB_CONN_MAX_LIFETIME"  envDefault:"30m"`
	QueryTimeout    string `json:"query_timeout"      yaml:"query_timeout"      env:"DB_QUERY_TIMEOUT"      envDefault:"30s"`
	MaxRows         int    `json:"max_rows"           yaml:"max_rows"           env:"DB_MAX_ROWS"           envDefault:"0"`
	GuardEnabled    bool   `json:"guard_enabled"      yaml:"guard_enabled"      env:"DB_GUARD_ENABLED"      envDefault:"true"`
}

// CatalogConfig controls where table metadata comes from and how strictly
// table names are checked against it.
type CatalogConfig struct {
	Path         string `json:"path"          yaml:"path"          env:"CATALOG_PATH"`
	StrictTables bool   `json:"strict_tables" yaml:"strict_tables" env:"CATALOG_STRICT_TABLES" envDefault:"true"`
	StrictFields bool   `json:"strict_fields" yaml:"strict_fields" env:"CATALOG_STRICT_FIELDS" envDefault:"false"`
	FieldSource  string `json:"field_source"  yaml:"field_source"  env:"CATALOG_FIELD_SOURCE"  envDefault:"metadata"` // metadata, database
}

// BatchConfig represents batch runner configuration
type BatchConfig struct {
	Limit         int  `json:"limit"          yaml:"limit"          env:"BATCH_LIMIT"          envDefault:"0"`
	SkipCompleted bool `json:"skip_completed" yaml:"skip_completed" env:"BATCH_SKIP_COMPLETED" envDefault:"false"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `json:"level"      yaml:"level"      env:"LOG_LEVEL"      envDefault:"info"`                                // debug, info, warn, error
	Format    string `json:"format"     yaml:"format"     env:"LOG_FORMAT"     envDefault:"text"`                                // text, json
	Output    string `json:"output"     yaml:"output"     env:"LOG_OUTPUT"     envDefault:"stderr"`                              // stdout, stderr, file
	File      string `json:"file"       yaml:"file"       env:"LOG_FILE"       envDefault:"~/.config/finance-qa/logs/app.log"` // log file path when output is file
	AddSource bool   `json:"add_source" yaml:"add_source" env:"LOG_ADD_SOURCE" envDefault:"false"`
}

// DebugConfig represents debug configuration
type DebugConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" env:"DEBUG"   envDefault:"false"`
	Verbose bool `json:"verbose" yaml:"verbose" env:"VERBOSE" envDefault:"false"`
}

// DefaultConfig returns the configuration built from defaults alone,
// ignoring the process environment.
func DefaultConfig() *Config {
	config := &Config{}
	// Defaults are static tag values; parsing an empty environment cannot fail.
	_ = env.ParseWithOptions(config, env.Options{
		Prefix:      envPrefix,
		Environment: map[string]string{},
	})

	return config
}

// LoadConfig loads configuration from file, environment variables, and command-line flags
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides(nil)
}

// LoadConfigWithOverrides loads configuration with optional command-line flag overrides.
// Precedence, lowest first: defaults, config file, .env file, environment, flags.
func LoadConfigWithOverrides(flagOverrides map[string]interface{}) (*Config, error) {
	config := DefaultConfig()

	configPath := getConfigPath()
	if path, ok := flagOverrides["config"].(string); ok && path != "" {
		configPath = expandPath(path)
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// A .env file in the working directory is optional
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	if err := applyEnvironmentOverrides(config); err != nil {
		return nil, err
	}

	if flagOverrides != nil {
		if err := applyFlagOverrides(config, flagOverrides); err != nil {
			return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
		}
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadDotEnv exports variables from a dotenv file without overriding values
// already present in the environment.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}

	return nil
}

// applyEnvironmentOverrides applies environment variables to the configuration.
// Defaults are already in place, so the default tag is swapped for one no field
// carries: a set variable always wins and an unset one leaves the file value.
func applyEnvironmentOverrides(config *Config) error {
	if err := env.ParseWithOptions(config, env.Options{
		Prefix:              envPrefix,
		DefaultValueTagName: "envOverrideDefault",
	}); err != nil {
		return fmt.Errorf("failed to parse environment variables: %w", err)
	}

	return nil
}

// loadConfigFromFile loads configuration from a JSON or YAML file.
// Keys missing from the file keep their current values.
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	fileConfig := *config

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fileConfig)
	default:
		err = json.Unmarshal(data, &fileConfig)
	}

	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	*config = fileConfig

	return nil
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]interface{}) error {
	for key, value := range overrides {
		switch key {
		case "db-driver":
			if str, ok := value.(string); ok && str != "" {
				config.Database.Driver = str
			}
		case "db-dsn":
			if str, ok := value.(string); ok && str != "" {
				config.Database.DSN = str
			}
		case "catalog":
			if str, ok := value.(string); ok && str != "" {
				config.Catalog.Path = str
			}
		case "model":
			if str, ok := value.(string); ok && str != "" {
				config.LLM.Model = str
			}
		case "provider":
			if str, ok := value.(string); ok && str != "" {
				config.LLM.Provider = str
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "verbose":
			if b, ok := value.(bool); ok {
				config.Debug.Verbose = b
			}
		case "debug":
			if b, ok := value.(bool); ok {
				config.Debug.Enabled = b
			}
		case "config":
			// consumed by LoadConfigWithOverrides
		default:
			return fmt.Errorf("unknown flag override: %s", key)
		}
	}

	return nil
}

// validateConfig validates the configuration for common errors
func validateConfig(config *Config) error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			config.Logging.Level,
		)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.Logging.Format)
	}

	validLogOutputs := map[string]bool{
		"stdout": true, "stderr": true, "file": true,
	}
	if !validLogOutputs[strings.ToLower(config.Logging.Output)] {
		return fmt.Errorf(
			"invalid log output: %s (must be stdout, stderr, or file)",
			config.Logging.Output,
		)
	}

	validProviders := map[string]bool{
		"openai": true, "anthropic": true, "ollama": true,
	}
	if !validProviders[strings.ToLower(config.LLM.Provider)] {
		return fmt.Errorf(
			"invalid llm provider: %s (must be openai, anthropic, or ollama)",
			config.LLM.Provider,
		)
	}

	validDrivers := map[string]bool{
		"duckdb": true, "postgres": true, "mysql": true,
	}
	if !validDrivers[strings.ToLower(config.Database.Driver)] {
		return fmt.Errorf(
			"invalid database driver: %s (must be duckdb, postgres, or mysql)",
			config.Database.Driver,
		)
	}

	validFieldSources := map[string]bool{
		"metadata": true, "database": true,
	}
	if !validFieldSources[strings.ToLower(config.Catalog.FieldSource)] {
		return fmt.Errorf(
			"invalid field source: %s (must be metadata or database)",
			config.Catalog.FieldSource,
		)
	}

	if _, err := config.Database.QueryTimeoutDuration(); err != nil {
		return fmt.Errorf("invalid database query timeout: %w", err)
	}

	if _, err := config.Database.ConnMaxLifetimeDuration(); err != nil {
		return fmt.Errorf("invalid connection max lifetime: %w", err)
	}

	if _, err := config.LLM.TimeoutDuration(); err != nil {
		return fmt.Errorf("invalid llm timeout: %w", err)
	}

	for name, temp := range map[string]float64{
		"table_temperature": config.LLM.TableTemperature,
		"sql_temperature":   config.LLM.SQLTemperature,
	} {
		if temp < 0 || temp > 2 {
			return fmt.Errorf("%s must be between 0 and 2: %v", name, temp)
		}
	}

	if config.Database.MaxConnections <= 0 {
		return fmt.Errorf(
			"database max connections must be positive: %d",
			config.Database.MaxConnections,
		)
	}

	if config.Database.MaxRows < 0 {
		return fmt.Errorf("database max rows cannot be negative: %d", config.Database.MaxRows)
	}

	if config.Batch.Limit < 0 {
		return fmt.Errorf("batch limit cannot be negative: %d", config.Batch.Limit)
	}

	return nil
}

// Redacted returns a copy safe for display, with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.LLM.APIKey != "" {
		out.LLM.APIKey = "********"
	}

	return &out
}

// QueryTimeoutDuration parses query_timeout. An empty value means no deadline.
func (c DatabaseConfig) QueryTimeoutDuration() (time.Duration, error) {
	return parseDuration(c.QueryTimeout, "query_timeout")
}

// ConnMaxLifetimeDuration parses conn_max_lifetime. An empty value means no limit.
func (c DatabaseConfig) ConnMaxLifetimeDuration() (time.Duration, error) {
	return parseDuration(c.ConnMaxLifetime, "conn_max_lifetime")
}

// TimeoutDuration parses the LLM request timeout. An empty value yields zero.
func (c LLMConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration(c.Timeout, "timeout")
}

func parseDuration(value, field string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", field, value, err)
	}

	return d, nil
}

// getConfigPath returns the path to the configuration file
func getConfigPath() string {
	if configPath := os.Getenv(envPrefix + "CONFIG"); configPath != "" {
		return expandPath(configPath)
	}

	return filepath.Join(GetConfigDir(), "config.json")
}

// expandPath expands ~ to home directory in file paths
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	if c.Database.Driver == "duckdb" {
		c.Database.DSN = expandPath(c.Database.DSN)
	}

	c.Catalog.Path = expandPath(c.Catalog.Path)
	c.Logging.File = expandPath(c.Logging.File)
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", appName)
	}

	return filepath.Join(homeDir, ".config", appName)
}

// EnsureDirectories creates necessary directories for the configuration
func (c *Config) EnsureDirectories() error {
	var dirs []string
	if c.Database.Driver == "duckdb" && c.Database.DSN != "" {
		dirs = append(dirs, filepath.Dir(c.Database.DSN))
	}

	if strings.EqualFold(c.Logging.Output, "file") {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}

	for _, dir := range dirs {
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	return nil
}
