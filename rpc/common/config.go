package common

import (
	"fmt"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultMinPageServerConns  = 5
	DefaultMaxPageServerConns  = 20
	DefaultMinSafekeeperConns  = 3
	DefaultMaxSafekeeperConns  = 10
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultAcquireTimeout      = time.Second
	DefaultRequestTimeout      = 10 * time.Second
	DefaultCacheCapacity       = 1024
	DefaultPageServerURL       = "http://localhost:9997"
	DefaultSafekeeperEndpoint  = "localhost:5433"
)

// helper functions for consistent formatting of the String() methods
func addSection(sb *strings.Builder, title string) {
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
}

func addField(sb *strings.Builder, name, value string) {
	sb.WriteString(fmt.Sprintf("  %-24s: %s\n", name, value))
}

// --------------------------------------------------------------------------
// Connection pool configuration
// --------------------------------------------------------------------------

// PoolConfig holds the sizing and timing parameters of the connection pool
type PoolConfig struct {
	// (min, max) connections to the page server
	MinPageServerConns int
	MaxPageServerConns int

	// (min, max) connections to the safekeeper
	MinSafekeeperConns int
	MaxSafekeeperConns int

	// HealthCheckInterval is the period of the background health sweep
	HealthCheckInterval time.Duration

	// AcquireTimeout is the default wait for a connection lease
	AcquireTimeout time.Duration
}

// DefaultPoolConfig returns the default pool configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinPageServerConns:  DefaultMinPageServerConns,
		MaxPageServerConns:  DefaultMaxPageServerConns,
		MinSafekeeperConns:  DefaultMinSafekeeperConns,
		MaxSafekeeperConns:  DefaultMaxSafekeeperConns,
		HealthCheckInterval: DefaultHealthCheckInterval,
		AcquireTimeout:      DefaultAcquireTimeout,
	}
}

// Validate checks the pool limits
func (c *PoolConfig) Validate() error {
	if c.MinPageServerConns < 0 || c.MinSafekeeperConns < 0 {
		return fmt.Errorf("minimum connection counts must not be negative")
	}
	if c.MaxPageServerConns < 1 || c.MaxSafekeeperConns < 1 {
		return fmt.Errorf("maximum connection counts must be at least 1")
	}
	if c.MinPageServerConns > c.MaxPageServerConns {
		return fmt.Errorf("page server pool: min (%d) > max (%d)", c.MinPageServerConns, c.MaxPageServerConns)
	}
	if c.MinSafekeeperConns > c.MaxSafekeeperConns {
		return fmt.Errorf("safekeeper pool: min (%d) > max (%d)", c.MinSafekeeperConns, c.MaxSafekeeperConns)
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("health check interval must be positive")
	}
	return nil
}

// String returns a formatted string representation of the pool configuration
func (c *PoolConfig) String() string {
	var sb strings.Builder

	addSection(&sb, "Connection Pool")
	addField(&sb, "Page Server (min/max)", fmt.Sprintf("%d / %d", c.MinPageServerConns, c.MaxPageServerConns))
	addField(&sb, "Safekeeper (min/max)", fmt.Sprintf("%d / %d", c.MinSafekeeperConns, c.MaxSafekeeperConns))
	addField(&sb, "Health Check Interval", c.HealthCheckInterval.String())
	addField(&sb, "Acquire Timeout", c.AcquireTimeout.String())

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration
// --------------------------------------------------------------------------

// SocketConf holds socket buffer sizes (0 = system default)
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds tcp specific socket options
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// ClientTransportConfig describes how to reach the safekeeper byte stream
type ClientTransportConfig struct {
	// Transport is one of tcp, unix
	Transport string
	// Endpoint is host:port for tcp or a socket path for unix
	Endpoint string
	// Timeout bounds one round trip on the stream (0 = no timeout)
	Timeout time.Duration
	// Serializer is one of binary, json, gob (must match the log keeper)
	Serializer string
	SocketConf
	TCPConf
}

// ClientConfig holds everything a client needs to reach the two remote services
type ClientConfig struct {
	// PageServerURL is the base url of the page server (e.g. http://localhost:9997)
	PageServerURL string

	// Safekeeper transport settings
	Safekeeper ClientTransportConfig

	// RequestTimeout bounds a single network round trip (0 = no timeout)
	RequestTimeout time.Duration
}

// DefaultClientConfig returns the default client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PageServerURL: DefaultPageServerURL,
		Safekeeper: ClientTransportConfig{
			Transport:  "tcp",
			Endpoint:   DefaultSafekeeperEndpoint,
			Serializer: "binary",
			TCPConf: TCPConf{
				TCPNoDelay:   true,
				TCPLingerSec: -1,
			},
		},
		RequestTimeout: DefaultRequestTimeout,
	}
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection(&sb, "Remote Services")
	addField(&sb, "Page Server", c.PageServerURL)
	addField(&sb, "Safekeeper", fmt.Sprintf("%s://%s", c.Safekeeper.Transport, c.Safekeeper.Endpoint))
	addField(&sb, "Request Timeout", c.RequestTimeout.String())
	addField(&sb, "Serializer", c.Safekeeper.Serializer)

	if c.Safekeeper.Transport == "tcp" {
		addSection(&sb, "Safekeeper Socket")
		addField(&sb, "TCP NoDelay", fmt.Sprintf("%t", c.Safekeeper.TCPNoDelay))
		addField(&sb, "TCP KeepAlive", fmt.Sprintf("%d sec", c.Safekeeper.TCPKeepAliveSec))
		addField(&sb, "Write Buffer", fmt.Sprintf("%d bytes", c.Safekeeper.WriteBufferSize))
		addField(&sb, "Read Buffer", fmt.Sprintf("%d bytes", c.Safekeeper.ReadBufferSize))
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// Storage configuration (pool + clients + cache)
// --------------------------------------------------------------------------

// StorageConfig is the complete configuration consumed by the storage engine
type StorageConfig struct {
	Pool          PoolConfig
	Client        ClientConfig
	CacheCapacity int
	LogLevel      string
}

// DefaultStorageConfig returns the default storage configuration
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Pool:          DefaultPoolConfig(),
		Client:        DefaultClientConfig(),
		CacheCapacity: DefaultCacheCapacity,
		LogLevel:      "info",
	}
}

// String returns a formatted string representation of the storage configuration
func (c *StorageConfig) String() string {
	var sb strings.Builder
	sb.WriteString(c.Client.String())
	sb.WriteString(c.Pool.String())
	addSection(&sb, "Page Cache")
	addField(&sb, "Capacity", fmt.Sprintf("%d pages", c.CacheCapacity))
	addSection(&sb, "Logging")
	addField(&sb, "Log Level", c.LogLevel)
	return sb.String()
}

// --------------------------------------------------------------------------
// Reference server configuration
// --------------------------------------------------------------------------

// ServerConfig holds the configuration of the in-memory reference peers
type ServerConfig struct {
	// PageServerEndpoint is the http listen address of the page server
	PageServerEndpoint string

	// SafekeeperTransport is one of tcp, unix
	SafekeeperTransport string

	// SafekeeperEndpoint is the listen address (or socket path) of the safekeeper
	SafekeeperEndpoint string

	// SafekeeperSerializer is one of binary, json, gob
	SafekeeperSerializer string

	// TimeoutSecond bounds reads and writes on safekeeper connections (0 = none)
	TimeoutSecond int64

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the server configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection(&sb, "Page Server")
	addField(&sb, "Endpoint", c.PageServerEndpoint)

	addSection(&sb, "Safekeeper")
	addField(&sb, "Endpoint", fmt.Sprintf("%s://%s", c.SafekeeperTransport, c.SafekeeperEndpoint))
	addField(&sb, "Serializer", c.SafekeeperSerializer)
	addField(&sb, "Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	addSection(&sb, "Logging")
	addField(&sb, "Log Level", c.LogLevel)

	return sb.String()
}
