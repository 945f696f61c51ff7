package app

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/formsync/pkg/constants"
	"github.com/agentstation/formsync/pkg/errors"
)

// Config holds the application configuration loaded from config files,
// environment variables and .env files.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Format  string

	// Config file
	ConfigFile string

	// Sources
	SchemaPath   string
	DatabasePath string

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// LoadConfig loads configuration from all sources in order of precedence:
//  1. Command-line flags (applied later by setupCommand)
//  2. Environment variables (FORMSYNC_SCHEMA, FORMSYNC_DATABASE, ...)
//  3. .env files
//  4. Config file (.formsync.yaml in the working or home directory)
//  5. Defaults
func LoadConfig() (*Config, error) {
	return loadConfig(os.Getenv(constants.EnvPrefix + "_CONFIG"))
}

func loadConfig(configFile string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetEnvPrefix(constants.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.SetDefault("format", constants.DefaultFormat)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WrapParse("yaml", configFile, err)
		}
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigType("yaml")
		v.SetConfigName(constants.ConfigFileName)

		// a missing default config file is fine
		_ = v.ReadInConfig()
	}

	return &Config{
		Verbose: v.GetBool("verbose"),
		Quiet:   v.GetBool("quiet"),
		NoColor: v.GetBool("no-color") || os.Getenv("NO_COLOR") != "",
		Format:  v.GetString("format"),

		ConfigFile: v.ConfigFileUsed(),

		SchemaPath:   v.GetString("schema"),
		DatabasePath: v.GetString("database"),

		LogLevel:  v.GetString("log-level"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "auto"),
		LogOutput: getEnvOrDefault("LOG_OUTPUT", "stderr"),
	}, nil
}

// UpdateFromFlags updates config values from parsed command flags, so
// flag values take precedence over config file and env vars.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// UpdateSources overrides the schema and database paths when set.
func (c *Config) UpdateSources(schemaPath, databasePath string) {
	if schemaPath != "" {
		c.SchemaPath = schemaPath
	}
	if databasePath != "" {
		c.DatabasePath = databasePath
	}
}

// merge copies the file-derived settings of other into c.
func (c *Config) merge(other *Config) {
	c.ConfigFile = other.ConfigFile
	c.UpdateSources(other.SchemaPath, other.DatabasePath)
	if other.Format != "" {
		c.Format = other.Format
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// loadEnvFiles loads environment variables from .env files.
// .env.local is loaded first so its values win over .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
