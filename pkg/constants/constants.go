// Package constants provides shared constants used throughout the formsync codebase.
// This includes timeouts, file permissions, reserved document keys and
// defaults that should be consistent across the application.
package constants

import "time"

// Timeout constants
const (
	// CommandTimeout is the default timeout for CLI commands
	CommandTimeout = 2 * time.Minute

	// ShutdownTimeout bounds cleanup after a failed command
	ShutdownTimeout = 5 * time.Second

	// SQLiteBusyTimeout is how long SQLite waits on a locked database
	SQLiteBusyTimeout = 5 * time.Second

	// ConnMaxLifetime is the maximum lifetime of a pooled database connection
	ConnMaxLifetime = 5 * time.Minute
)

// File permission constants define standard Unix file permissions
const (
	// DirPermissions is the default permission for created directories (rwxr-xr-x)
	DirPermissions = 0755

	// FilePermissions is the default permission for created files (rw-r--r--)
	FilePermissions = 0644
)

// Document and store constants
const (
	// IDKey is the input document key carrying an entity's identity
	IDKey = "id"

	// FirstID is the first identity assigned by stores to unsaved entities
	FirstID int64 = 1

	// MaxOpenConns caps the SQLite connection pool
	MaxOpenConns = 25

	// MaxIdleConns caps idle SQLite connections
	MaxIdleConns = 5
)

// CLI defaults
const (
	// ConfigFileName is the base name of the optional config file
	ConfigFileName = ".formsync"

	// EnvPrefix prefixes environment variables read by viper
	EnvPrefix = "FORMSYNC"

	// DefaultFormat is the default output format for CLI commands
	DefaultFormat = "json"
)
