package client

import (
	"fmt"
	"github.com/ValentinKolb/dStor/cmd/util"
	"github.com/ValentinKolb/dStor/lib/pool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
)

var (
	// StatsCmd connects to both peers and prints the pool and cache statistics
	StatsCmd = &cobra.Command{
		Use:                "stats",
		Short:              "Print connection pool and page cache statistics",
		Long:               `Opens the connection pool against the configured peers, runs one health check and prints the resulting statistics. With --prometheus the metrics are written in prometheus text format.`,
		PersistentPreRunE:  setupEngine,
		PersistentPostRunE: closeEngine,
		RunE:               runStats,
	}
)

func init() {
	StatsCmd.Flags().Bool("prometheus", false, util.WrapString("Write the metrics in prometheus text format"))
}

func runStats(_ *cobra.Command, _ []string) error {
	engine.Pool().HealthCheck()

	if viper.GetBool("prometheus") {
		engine.Pool().WritePrometheus(os.Stdout)
		engine.Cache().WriteMetrics(os.Stdout)
		return nil
	}

	config := util.GetStorageConfig()
	fmt.Println(config.String())

	stats := engine.PoolStats()
	fmt.Println("Connection Pool:")
	printTypeStats(pool.PageServer, stats.PageServer)
	printTypeStats(pool.Safekeeper, stats.Safekeeper)

	cacheStats := engine.CacheStats()
	fmt.Println("Page Cache:")
	fmt.Printf("  %-12s%d / %d pages (%d dirty)\n", "used", cacheStats.Len, cacheStats.Capacity, cacheStats.Dirty)
	fmt.Printf("  %-12shits=%d misses=%d evictions=%d writebacks=%d\n", "counters",
		cacheStats.Hits, cacheStats.Misses, cacheStats.Evictions, cacheStats.WriteBacks)
	return nil
}

func printTypeStats(kind pool.Kind, s pool.TypeStats) {
	fmt.Printf("  %-12stotal=%d available=%d leased=%d (min %d, max %d) requests=%d hits=%d hit-rate=%.2f\n",
		kind, s.Total, s.Available, s.Leased, s.Min, s.Max, s.Requests, s.Hits, s.HitRate)
}
