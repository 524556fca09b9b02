package util

import (
	"fmt"
	"github.com/ValentinKolb/dStor/lib/storage"
	"github.com/ValentinKolb/dStor/lib/types"
	"github.com/ValentinKolb/dStor/rpc/common"
	"github.com/ValentinKolb/dStor/rpc/serializer"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strconv"
	"strings"
	"time"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (e.g. DSTOR_PAGESERVER_URL)
	EnvPrefix = "dstor"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupStorageFlags adds the connection, pool and cache flags to a command
func SetupStorageFlags(cmd *cobra.Command) {
	defaults := common.DefaultStorageConfig()

	key := "timeout"
	cmd.PersistentFlags().Int(key, int(defaults.Client.RequestTimeout/time.Second), WrapString("The timeout in seconds of a single request to a peer"))

	key = "pageserver-url"
	cmd.PersistentFlags().String(key, defaults.Client.PageServerURL, WrapString("The base url of the page server"))

	key = "safekeeper-endpoint"
	cmd.PersistentFlags().String(key, defaults.Client.Safekeeper.Endpoint, WrapString("The address of the safekeeper (host:port for tcp, socket path for unix)"))

	key = "safekeeper-transport"
	cmd.PersistentFlags().String(key, defaults.Client.Safekeeper.Transport, WrapString("The transport used to reach the safekeeper (tcp, unix)"))

	key = "serializer"
	cmd.PersistentFlags().String(key, defaults.Client.Safekeeper.Serializer, WrapString(fmt.Sprintf("The serializer of the safekeeper protocol (%s)", strings.Join(serializer.Names(), ", "))))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the write buffer of safekeeper connections (in KB)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the read buffer of safekeeper connections (in KB)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY on safekeeper connections"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval of safekeeper connections (in seconds, 0 = system default)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, -1, WrapString("The linger time of safekeeper connections (in seconds, -1 = system default)"))

	key = "pool-pageserver-min"
	cmd.PersistentFlags().Int(key, defaults.Pool.MinPageServerConns, WrapString("Number of page server connections created at startup"))

	key = "pool-pageserver-max"
	cmd.PersistentFlags().Int(key, defaults.Pool.MaxPageServerConns, WrapString("Maximum number of page server connections"))

	key = "pool-safekeeper-min"
	cmd.PersistentFlags().Int(key, defaults.Pool.MinSafekeeperConns, WrapString("Number of safekeeper connections created at startup"))

	key = "pool-safekeeper-max"
	cmd.PersistentFlags().Int(key, defaults.Pool.MaxSafekeeperConns, WrapString("Maximum number of safekeeper connections"))

	key = "pool-health-interval"
	cmd.PersistentFlags().Duration(key, defaults.Pool.HealthCheckInterval, WrapString("How often idle connections are health checked (e.g. 30s)"))

	key = "pool-acquire-timeout"
	cmd.PersistentFlags().Duration(key, defaults.Pool.AcquireTimeout, WrapString("How long to wait for a free connection before a new one is created (e.g. 1s)"))

	key = "cache-capacity"
	cmd.PersistentFlags().Int(key, defaults.CacheCapacity, WrapString("Number of pages held by the page cache"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetStorageConfig reads the storage configuration from viper
func GetStorageConfig() common.StorageConfig {
	timeout := time.Duration(viper.GetInt("timeout")) * time.Second

	return common.StorageConfig{
		Pool: common.PoolConfig{
			MinPageServerConns:  viper.GetInt("pool-pageserver-min"),
			MaxPageServerConns:  viper.GetInt("pool-pageserver-max"),
			MinSafekeeperConns:  viper.GetInt("pool-safekeeper-min"),
			MaxSafekeeperConns:  viper.GetInt("pool-safekeeper-max"),
			HealthCheckInterval: viper.GetDuration("pool-health-interval"),
			AcquireTimeout:      viper.GetDuration("pool-acquire-timeout"),
		},
		Client: common.ClientConfig{
			PageServerURL: viper.GetString("pageserver-url"),
			Safekeeper: common.ClientTransportConfig{
				Transport:  viper.GetString("safekeeper-transport"),
				Endpoint:   viper.GetString("safekeeper-endpoint"),
				Timeout:    timeout,
				Serializer: viper.GetString("serializer"),
				SocketConf: common.SocketConf{
					WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
					ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
				},
				TCPConf: common.TCPConf{
					TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
					TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
					TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
				},
			},
			RequestTimeout: timeout,
		},
		CacheCapacity: viper.GetInt("cache-capacity"),
		LogLevel:      viper.GetString("log-level"),
	}
}

// OpenEngine initializes the loggers and opens a storage engine for config
func OpenEngine(config common.StorageConfig) (*storage.Engine, error) {
	if err := common.InitLoggers(config.LogLevel); err != nil {
		return nil, err
	}

	connPool, err := storage.NewConnectionPool(config)
	if err != nil {
		return nil, err
	}

	engine, err := storage.NewEngine(config, connPool)
	if err != nil {
		connPool.Shutdown()
		return nil, err
	}

	if err := engine.Open(); err != nil {
		_ = engine.Close()
		return nil, err
	}
	return engine, nil
}

// ParseTimeline accepts a numeric timeline id or a timeline name
func ParseTimeline(arg string) types.TimelineID {
	if id, err := strconv.ParseUint(arg, 10, 64); err == nil {
		return types.TimelineID(id)
	}
	return types.TimelineFromName(arg)
}

// ParsePageID parses a timeline (id or name) and a page number
func ParsePageID(timeline, page string) (types.PageID, error) {
	number, err := strconv.ParseUint(page, 10, 32)
	if err != nil {
		return types.PageID{}, fmt.Errorf("page must be a number below 2^32: %w", err)
	}
	return types.PageID{Timeline: ParseTimeline(timeline), Number: types.PageNumber(number)}, nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
