package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// ControlDBConfig holds control-plane store configuration. The control plane
// (projects and memberships) always lives in a local SQLite file, separate
// from any project data store.
type ControlDBConfig struct {
	Path     string
	LogLevel logger.LogLevel
}

// ProjectDBConfig holds defaults for project data stores.
type ProjectDBConfig struct {
	// DataDir is where embedded project database files are created when no
	// explicit path is supplied.
	DataDir string
	// TemplatePath points at the versioned template database copied for each
	// new embedded project. Missing template is a startup-time fatal error.
	TemplatePath    string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey      string
	ExpirationHours int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Prefix string
}

// Config holds all configuration
type Config struct {
	ServiceName string
	ControlDB   ControlDBConfig
	ProjectDB   ProjectDBConfig
	Server      ServerConfig
	JWT         JWTConfig
	Log         LogConfig
	Metrics     MetricsConfig
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not returning error as .env file is optional
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	config := &Config{
		ServiceName: serviceName,
		ControlDB: ControlDBConfig{
			Path:     getEnv("CONTROL_DB_PATH", "data/control.db"),
			LogLevel: getEnvAsLogLevel("CONTROL_DB_LOG_LEVEL", logger.Warn),
		},
		ProjectDB: ProjectDBConfig{
			DataDir:         getEnv("PROJECT_DATA_DIR", "data/projects"),
			TemplatePath:    getEnv("PROJECT_TEMPLATE_PATH", "data/template.db"),
			MaxIdleConns:    getEnvAsInt("PROJECT_DB_MAX_IDLE_CONNS", 5),
			MaxOpenConns:    getEnvAsInt("PROJECT_DB_MAX_OPEN_CONNS", 15),
			ConnMaxLifetime: getEnvAsDuration("PROJECT_DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("PROJECT_DB_LOG_LEVEL", logger.Warn),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("APP_ENV", "development"),
		},
		JWT: JWTConfig{
			SigningKey:      getEnv("JWT_SIGNING_KEY", "defaultsecretkey"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", serviceName),
		},
	}

	return config, nil
}

// Validate checks startup-time invariants. The embedded template artifact
// must exist before the service accepts requests; its absence is a
// configuration error, never a per-request failure.
func (c *Config) Validate() error {
	info, err := os.Stat(c.ProjectDB.TemplatePath)
	if err != nil {
		return fmt.Errorf("project template database not found at %q: %w", c.ProjectDB.TemplatePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("project template path %q is a directory", c.ProjectDB.TemplatePath)
	}
	return nil
}

// LogConfig returns the configuration as a zap logger-friendly format
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("control_db_path", c.ControlDB.Path),
		zap.String("project_data_dir", c.ProjectDB.DataDir),
		zap.String("project_template", c.ProjectDB.TemplatePath),
		zap.String("server_port", c.Server.Port),
	}
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as log levels
func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
