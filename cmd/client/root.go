package client

import (
	"github.com/ValentinKolb/dStor/cmd/util"
	"github.com/ValentinKolb/dStor/lib/storage"
	"github.com/spf13/cobra"
)

var (
	engine *storage.Engine

	// TimelineCommands represents the timeline command group
	TimelineCommands = &cobra.Command{
		Use:                "timeline",
		Short:              "Create and delete timelines",
		PersistentPreRunE:  setupEngine,
		PersistentPostRunE: closeEngine,
	}

	// PageCommands represents the page command group
	PageCommands = &cobra.Command{
		Use:                "page",
		Short:              "Read and write pages through the page cache",
		PersistentPreRunE:  setupEngine,
		PersistentPostRunE: closeEngine,
	}

	// WalCommands represents the wal command group
	WalCommands = &cobra.Command{
		Use:                "wal",
		Short:              "Append records to the write-ahead log",
		PersistentPreRunE:  setupEngine,
		PersistentPostRunE: closeEngine,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	for _, group := range []*cobra.Command{TimelineCommands, PageCommands, WalCommands, StatsCmd, PerfCmd} {
		util.SetupStorageFlags(group)
	}

	// Add subcommands
	TimelineCommands.AddCommand(timelineCreateCmd)
	TimelineCommands.AddCommand(timelineDeleteCmd)

	PageCommands.AddCommand(pageReadCmd)
	PageCommands.AddCommand(pageWriteCmd)

	WalCommands.AddCommand(walAppendCmd)
}

// setupEngine opens the storage engine used by all client commands
func setupEngine(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	engine, err = util.OpenEngine(util.GetStorageConfig())
	return err
}

// closeEngine writes back dirty pages and closes all connections
func closeEngine(_ *cobra.Command, _ []string) error {
	if engine == nil {
		return nil
	}
	return engine.Close()
}
