package cmd

import (
	"fmt"
	"github.com/ValentinKolb/dStor/cmd/client"
	"github.com/ValentinKolb/dStor/cmd/serve"
	"github.com/spf13/cobra"
	"os"
	"runtime"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dstor",
		Short: "compute-side client of a separated page and log storage",
		Long: fmt.Sprintf(`dStor (v%s)

The compute-side storage client of a database whose pages live on a remote
page server and whose write-ahead log is streamed to a remote safekeeper.
It pools connections to both peers, caches pages locally and appends WAL
records synchronously or through an asynchronous queue.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dStor",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dStor v%s (%s, %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(client.TimelineCommands)
	RootCmd.AddCommand(client.PageCommands)
	RootCmd.AddCommand(client.WalCommands)
	RootCmd.AddCommand(client.StatsCmd)
	RootCmd.AddCommand(client.PerfCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
