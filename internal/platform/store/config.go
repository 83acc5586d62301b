package store

import "time"

// Config says which backends Open connects and how
type Config struct {
	// AppName is reported as application_name and in ClickHouse client info
	AppName string

	PG   PGConfig
	CH   CHConfig
	Lite LiteConfig
}

// PGConfig holds the Postgres pool settings
type PGConfig struct {
	Enabled  bool
	URL      string
	MaxConns int32

	// LogSQL traces statements; SlowQueryMs raises slow ones to warn
	LogSQL      bool
	SlowQueryMs int

	ConnectRetries int           // 20 when zero, backoff capped at 2s
	PingTimeout    time.Duration // 3s when zero
}

// CHConfig holds the ClickHouse DSN; Role defaults to AppName
type CHConfig struct {
	Enabled bool
	URL     string
	Role    string
}

// LiteConfig points at the registry SQLite file
type LiteConfig struct {
	Enabled bool
	Path    string
}
