// Package config defines the admin server's flag-parsed configuration
// record. It follows a flat struct populated by the standard flag
// package rather than a viper/cobra configuration framework —
// cmd/admin-server/main.go parses os.Args into this struct directly.
package config

import (
	"flag"
	"fmt"
	"time"
)

// Config is every recognized server option.
type Config struct {
	Host string
	Port int

	MaxConnections int
	ThreadPoolSize int

	HandshakeTimeoutMS int
	ReadTimeoutMS      int
	SessionTimeoutMS   int

	CipherEnableProduction bool
	CipherEnableLegacy     bool
	CipherEnableNull       bool

	KeyStoreBackend string // "memory" | "file"
	KeyStoreFile    string

	QueueCapacityScripts int
	QueueCapacityBytes   int

	SecurityMismatchWindowMS    int
	SecurityMismatchThreshold   int
	SecurityErrorWindowMS       int
	SecurityErrorThreshold      int

	ShutdownGraceMS int

	MetricsAddr string
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		Host: "0.0.0.0",
		Port: 8443,

		MaxConnections: 100,
		ThreadPoolSize: 10,

		HandshakeTimeoutMS: 30000,
		ReadTimeoutMS:      30000,
		SessionTimeoutMS:   300000,

		CipherEnableProduction: true,
		CipherEnableLegacy:     false,
		CipherEnableNull:       false,

		KeyStoreBackend: "memory",

		QueueCapacityScripts: 64,
		QueueCapacityBytes:   1048576,

		SecurityMismatchWindowMS:  60000,
		SecurityMismatchThreshold: 3,
		SecurityErrorWindowMS:     300000,
		SecurityErrorThreshold:    10,

		ShutdownGraceMS: 5000,

		MetricsAddr: ":9090",
	}
}

// Parse registers flags for every Config field onto fs (use flag.CommandLine
// in production, a fresh flag.FlagSet in tests) seeded with d, then parses
// args.
func Parse(fs *flag.FlagSet, d Config, args []string) (Config, error) {
	c := d

	fs.StringVar(&c.Host, "host", d.Host, "listen address")
	fs.IntVar(&c.Port, "port", d.Port, "listen port")

	fs.IntVar(&c.MaxConnections, "max-connections", d.MaxConnections, "maximum concurrent sessions")
	fs.IntVar(&c.ThreadPoolSize, "thread-pool-size", d.ThreadPoolSize, "fixed worker pool size")

	fs.IntVar(&c.HandshakeTimeoutMS, "handshake-timeout-ms", d.HandshakeTimeoutMS, "PSK handshake deadline")
	fs.IntVar(&c.ReadTimeoutMS, "read-timeout-ms", d.ReadTimeoutMS, "per-request read deadline")
	fs.IntVar(&c.SessionTimeoutMS, "session-timeout-ms", d.SessionTimeoutMS, "idle-between-requests deadline")

	fs.BoolVar(&c.CipherEnableProduction, "cipher-enable-production", d.CipherEnableProduction, "enable Production-tier ciphersuites")
	fs.BoolVar(&c.CipherEnableLegacy, "cipher-enable-legacy", d.CipherEnableLegacy, "enable Legacy (SHA-1) ciphersuites")
	fs.BoolVar(&c.CipherEnableNull, "cipher-enable-null", d.CipherEnableNull, "enable NULL (no confidentiality) ciphersuites")

	fs.StringVar(&c.KeyStoreBackend, "key-store", d.KeyStoreBackend, "key store backend: memory or file")
	fs.StringVar(&c.KeyStoreFile, "key-store-file", d.KeyStoreFile, "path to the file-backed key store")

	fs.IntVar(&c.QueueCapacityScripts, "queue-capacity-scripts", d.QueueCapacityScripts, "per-identity script queue capacity")
	fs.IntVar(&c.QueueCapacityBytes, "queue-capacity-bytes", d.QueueCapacityBytes, "per-identity script queue byte cap")

	fs.IntVar(&c.SecurityMismatchWindowMS, "security-mismatch-window-ms", d.SecurityMismatchWindowMS, "PSK mismatch sliding window")
	fs.IntVar(&c.SecurityMismatchThreshold, "security-mismatch-threshold", d.SecurityMismatchThreshold, "PSK mismatch alert threshold")
	fs.IntVar(&c.SecurityErrorWindowMS, "security-error-window-ms", d.SecurityErrorWindowMS, "APDU error sliding window")
	fs.IntVar(&c.SecurityErrorThreshold, "security-error-threshold", d.SecurityErrorThreshold, "APDU error alert threshold")

	fs.IntVar(&c.ShutdownGraceMS, "shutdown-grace-ms", d.ShutdownGraceMS, "graceful shutdown grace period")

	fs.StringVar(&c.MetricsAddr, "metrics-addr", d.MetricsAddr, "address to serve /metrics on")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ErrConfigInvalid wraps a specific configuration defect.
type ErrConfigInvalid struct {
	Reason string
}

func (e *ErrConfigInvalid) Error() string {
	return fmt.Sprintf("config: invalid configuration: %s", e.Reason)
}

// Validate checks cross-field constraints Parse cannot express as simple
// flag defaults.
func (c Config) Validate() error {
	if !c.CipherEnableProduction && !c.CipherEnableLegacy && !c.CipherEnableNull {
		return &ErrConfigInvalid{Reason: "at least one cipher tier must be enabled"}
	}
	if c.KeyStoreBackend == "file" && c.KeyStoreFile == "" {
		return &ErrConfigInvalid{Reason: "key-store=file requires key-store-file"}
	}
	if c.MaxConnections <= 0 {
		return &ErrConfigInvalid{Reason: "max-connections must be positive"}
	}
	if c.ThreadPoolSize <= 0 {
		return &ErrConfigInvalid{Reason: "thread-pool-size must be positive"}
	}
	return nil
}

func (c Config) HandshakeTimeout() time.Duration { return time.Duration(c.HandshakeTimeoutMS) * time.Millisecond }
func (c Config) ReadTimeout() time.Duration      { return time.Duration(c.ReadTimeoutMS) * time.Millisecond }
func (c Config) SessionTimeout() time.Duration   { return time.Duration(c.SessionTimeoutMS) * time.Millisecond }
func (c Config) ShutdownGrace() time.Duration    { return time.Duration(c.ShutdownGraceMS) * time.Millisecond }
func (c Config) SecurityMismatchWindow() time.Duration {
	return time.Duration(c.SecurityMismatchWindowMS) * time.Millisecond
}
func (c Config) SecurityErrorWindow() time.Duration {
	return time.Duration(c.SecurityErrorWindowMS) * time.Millisecond
}
