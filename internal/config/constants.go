package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const (
	CleanupJobInterval    = 5 * time.Minute
	CompletedSessionGrace = 10 * time.Minute
	ArchiveRetention      = 7 * 24 * time.Hour
)

// Session codes
const (
	SessionCodeLength      = 4
	SessionCodeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	SessionCodeMaxAttempts = 32
)

// Gateway limits
const (
	MaxFramesPerSecond     = 20
	MaxFramePayloadBytes   = 16 << 10
	MaxDecodeErrorsPerConn = 5
	ClientEventBuffer      = 64
)

// SSE observers
const SSEHeartbeatInterval = 30 * time.Second
