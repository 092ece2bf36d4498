package config

import (
	"time"

	"github.com/girvel/storagenode/internal/util"
)

// Bytes per KiB
const KiB = 1024

// Default configuration constants. See [Config] for field descriptions.
const (
	// DefaultChunkSize bounds every read/write buffer used when streaming
	// uploads to disk and files back to clients
	DefaultChunkSize = 8 * KiB

	DefaultAddr = ":8000"

	DefaultLogLvl = util.InfoLevel

	// DefaultWebDAV leaves the /dav/ view of the storage root disabled
	DefaultWebDAV = false

	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultShutdownTimeout is how long in-flight requests get to finish
	// after a termination signal
	DefaultShutdownTimeout = 10 * time.Second
)

// CLI/env verbosity values mapped onto [util.LogLevel] by [ConfigOverride.LogLvl]
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)

// Environment variables read by [LoadEnvOverride]
const (
	EnvRoot      = "FS_BASE_PATH"
	EnvChunkSize = "CHUNK_SIZE"
	EnvAddr      = "LISTEN_ADDR"
	EnvVerbose   = "LOG_VERBOSE"
	EnvWebDAV    = "WEBDAV"
)
