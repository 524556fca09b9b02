package serve

import (
	"context"
	"errors"
	"fmt"
	cmdUtil "github.com/ValentinKolb/dStor/cmd/util"
	"github.com/ValentinKolb/dStor/rpc/common"
	"github.com/ValentinKolb/dStor/rpc/serializer"
	"github.com/ValentinKolb/dStor/rpc/server"
	"github.com/ValentinKolb/dStor/rpc/transport"
	"github.com/ValentinKolb/dStor/rpc/transport/tcp"
	"github.com/ValentinKolb/dStor/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start the in-memory reference page server and safekeeper",
		Long: `Start an in-memory page server (http) and an in-memory safekeeper (tcp or unix) for local runs and tests. Nothing is persisted.

The configuration can be set via command line flags or environment variables. The format of the environment variables is DSTOR_<flag> (e.g. DSTOR_SAFEKEEPER_ENDPOINT=localhost:5433)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "pageserver-endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:9997", cmdUtil.WrapString("The address on which the page server will listen (http)"))

	key = "safekeeper-endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:5433", cmdUtil.WrapString("The address on which the safekeeper will listen (e.g. 0.0.0.0:5433, /tmp/dstor.sock)"))

	key = "safekeeper-transport"
	ServeCmd.PersistentFlags().String(key, "tcp", cmdUtil.WrapString("The transport of the safekeeper (tcp, unix)"))

	key = "serializer"
	ServeCmd.PersistentFlags().String(key, "binary", cmdUtil.WrapString(fmt.Sprintf("The serializer of the safekeeper protocol (%s)", strings.Join(serializer.Names(), ", "))))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 0, cmdUtil.WrapString("Read and write timeout of safekeeper connections in seconds (0 = none)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.PageServerEndpoint = viper.GetString("pageserver-endpoint")
	serveCmdConfig.SafekeeperEndpoint = viper.GetString("safekeeper-endpoint")
	serveCmdConfig.SafekeeperTransport = viper.GetString("safekeeper-transport")
	serveCmdConfig.SafekeeperSerializer = viper.GetString("serializer")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.TimeoutSecond < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts both peers and blocks until one fails or the process is interrupted
func run(_ *cobra.Command, _ []string) error {
	s, err := serializer.FromName(serveCmdConfig.SafekeeperSerializer)
	if err != nil {
		return err
	}

	var t transport.IRPCServerTransport
	switch serveCmdConfig.SafekeeperTransport {
	case "tcp":
		t = tcp.NewTCPServerTransport()
	case "unix":
		t = unix.NewUnixServerTransport()
	default:
		return fmt.Errorf("invalid transport %s", serveCmdConfig.SafekeeperTransport)
	}

	pageServer, err := server.NewPageServer(*serveCmdConfig)
	if err != nil {
		return err
	}
	safekeeper := server.NewSafekeeperServer(*serveCmdConfig, t, s)

	fmt.Println(serveCmdConfig.String())

	errCh := make(chan error, 2)
	go func() { errCh <- pageServer.Serve() }()
	go func() { errCh <- safekeeper.Serve() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		server.Logger.Infof("Shutting down")
	case err = <-errCh:
		if err == nil {
			err = errors.New("server stopped unexpectedly")
		}
	}

	return errors.Join(err, pageServer.Close(), safekeeper.Close())
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(cmdUtil.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
