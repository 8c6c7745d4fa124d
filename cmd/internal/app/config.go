package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendAuto     = "auto"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Config contains all runtime configuration. Sources are layered:
// defaults, then an optional YAML file, then JAM_* environment variables,
// then command line flags.
type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`

	// DBBackend is one of auto, postgres, sqlite, memory. Auto picks
	// Postgres when DatabaseURL is set, else SQLite when SQLitePath is set,
	// else memory.
	DBBackend     string `yaml:"db_backend"`
	DatabaseURL   string `yaml:"database_url"`
	DBSchema      string `yaml:"db_schema"`
	DBMaxConns    int32  `yaml:"db_max_conns"`
	DBMinConns    int32  `yaml:"db_min_conns"`
	DBAutoMigrate bool   `yaml:"db_auto_migrate"`
	SQLitePath    string `yaml:"sqlite_path"`

	// If true, /readyz returns 503 unless a persistent backend is reachable.
	ReadinessRequireDB bool `yaml:"readiness_require_db"`

	CORSAllowedOrigins   []string `yaml:"cors_allowed_origins"`
	CORSAllowCredentials bool     `yaml:"cors_allow_credentials"`
	CORSMaxAgeSeconds    int      `yaml:"cors_max_age_seconds"`

	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,

		DBBackend:     BackendAuto,
		DBSchema:      "jam",
		DBMaxConns:    10,
		DBAutoMigrate: true,

		CORSAllowedOrigins: []string{"*"},
		CORSMaxAgeSeconds:  600,

		MetricsEnabled: true,
	}
}

// LoadConfig applies JAM_* environment variables over base.
func LoadConfig(base Config) Config {
	return Config{
		HTTPAddr:  EnvString("JAM_HTTP_ADDR", base.HTTPAddr),
		LogLevel:  EnvString("JAM_LOG_LEVEL", base.LogLevel),
		LogFormat: EnvString("JAM_LOG_FORMAT", base.LogFormat),

		ReadHeaderTimeout: EnvDuration("JAM_HTTP_READ_HEADER_TIMEOUT", base.ReadHeaderTimeout),
		ReadTimeout:       EnvDuration("JAM_HTTP_READ_TIMEOUT", base.ReadTimeout),
		WriteTimeout:      EnvDuration("JAM_HTTP_WRITE_TIMEOUT", base.WriteTimeout),
		IdleTimeout:       EnvDuration("JAM_HTTP_IDLE_TIMEOUT", base.IdleTimeout),
		MaxHeaderBytes:    EnvInt("JAM_HTTP_MAX_HEADER_BYTES", base.MaxHeaderBytes),

		DBBackend:     EnvString("JAM_DB_BACKEND", base.DBBackend),
		DatabaseURL:   EnvString("JAM_DATABASE_URL", base.DatabaseURL),
		DBSchema:      EnvString("JAM_DB_SCHEMA", base.DBSchema),
		DBMaxConns:    EnvInt32("JAM_DB_MAX_CONNS", base.DBMaxConns),
		DBMinConns:    EnvInt32("JAM_DB_MIN_CONNS", base.DBMinConns),
		DBAutoMigrate: EnvBool("JAM_DB_AUTO_MIGRATE", base.DBAutoMigrate),
		SQLitePath:    EnvString("JAM_SQLITE_PATH", base.SQLitePath),

		ReadinessRequireDB: EnvBool("JAM_READINESS_REQUIRE_DB", base.ReadinessRequireDB),

		CORSAllowedOrigins:   EnvCSV("JAM_CORS_ALLOWED_ORIGINS", base.CORSAllowedOrigins),
		CORSAllowCredentials: EnvBool("JAM_CORS_ALLOW_CREDENTIALS", base.CORSAllowCredentials),
		CORSMaxAgeSeconds:    EnvInt("JAM_CORS_MAX_AGE_SECONDS", base.CORSMaxAgeSeconds),

		MetricsEnabled: EnvBool("JAM_METRICS_ENABLED", base.MetricsEnabled),
	}
}

// LoadConfigFile overlays the YAML file at path onto base. Keys absent from
// the file keep their base values.
func LoadConfigFile(path string, base Config) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := base
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ParseFlags builds the runtime Config for the server binary.
func ParseFlags(name string, args []string) (Config, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)

	configPath := fs.String("config", EnvString("JAM_CONFIG", ""), "YAML config file")
	addr := fs.String("addr", "", "HTTP listen address")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	logFormat := fs.String("log-format", "", "json or pretty")
	backend := fs.String("db", "", "storage backend: auto, postgres, sqlite or memory")
	dsn := fs.String("database-url", "", "Postgres connection string")
	sqlitePath := fs.String("sqlite", "", "SQLite database file")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	base := DefaultConfig()
	if *configPath != "" {
		fileCfg, err := LoadConfigFile(*configPath, base)
		if err != nil {
			return Config{}, err
		}
		base = fileCfg
	}
	cfg := LoadConfig(base)

	override := func(flag string, dst *string, v string) {
		if fs.Changed(flag) {
			*dst = v
		}
	}
	override("addr", &cfg.HTTPAddr, *addr)
	override("log-level", &cfg.LogLevel, *logLevel)
	override("log-format", &cfg.LogFormat, *logFormat)
	override("db", &cfg.DBBackend, *backend)
	override("database-url", &cfg.DatabaseURL, *dsn)
	override("sqlite", &cfg.SQLitePath, *sqlitePath)

	return cfg, cfg.Validate()
}

// Validate rejects unusable combinations.
func (c Config) Validate() error {
	switch c.backend() {
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("config: postgres backend needs JAM_DATABASE_URL")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("config: sqlite backend needs JAM_SQLITE_PATH")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown db backend %q", c.DBBackend)
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "json", "pretty", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	return nil
}

// backend resolves BackendAuto.
func (c Config) backend() string {
	b := strings.ToLower(strings.TrimSpace(c.DBBackend))
	if b != "" && b != BackendAuto {
		return b
	}
	switch {
	case strings.TrimSpace(c.DatabaseURL) != "":
		return BackendPostgres
	case strings.TrimSpace(c.SQLitePath) != "":
		return BackendSQLite
	default:
		return BackendMemory
	}
}
