package client

import (
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/dStor/cmd/util"
	"github.com/ValentinKolb/dStor/lib/storage"
	"github.com/ValentinKolb/dStor/lib/types"
	"github.com/ValentinKolb/dStor/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	// PerfCmd benchmarks the storage engine against running peers
	PerfCmd = &cobra.Command{
		Use:                "perf",
		Short:              "Performance testing tool for the page server and the safekeeper",
		PersistentPreRunE:  setupEngine,
		PersistentPostRunE: closeEngine,
		PreRunE:            processPerfConfig,
		RunE:               runPerf,
	}
	perfTimelinePrefix = "__perf"
	perfRecordSizeKB   = 1
	perfNumThreads     = 10
	perfPageSpread     = 100
	perfSkip           = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	PerfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. read-miss,append-async)"))
	key = "threads"
	PerfCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "record-size"
	PerfCmd.Flags().Int(key, 1, util.WrapString("How large the WAL records of the append tests should be (in KB)"))
	key = "pages"
	PerfCmd.Flags().Int(key, 100, util.WrapString("How many different pages the read tests use (should fit the cache for read-hit)"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfRecordSizeKB = viper.GetInt("record-size")
	perfPageSpread = viper.GetInt("pages")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfPageSpread < 1 {
		return fmt.Errorf("pages must be at least 1")
	}
	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	config := util.GetStorageConfig()

	fmt.Println("Performance testing tool for dStor peers")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)

	readTimeline, err := engine.CreateTimeline(perfTimelinePrefix + "-read")
	if err != nil {
		return fmt.Errorf("failed to create benchmark timeline: %w", err)
	}
	defer func() {
		if err := engine.DeleteTimeline(readTimeline); err != nil {
			log.Printf("(cleanup) - error deleting timeline: %v\n", err)
		}
	}()

	results["read-hit"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip("read-hit") {
			return
		}

		// warm the cache
		for i := 0; i < perfPageSpread; i++ {
			if _, err := engine.ReadPage(pageID(readTimeline, i)); err != nil {
				log.Printf("(read-hit) - error reading page: %v\n", err)
			}
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if _, err := engine.ReadPage(pageID(readTimeline, counter)); err != nil {
					log.Printf("(read-hit) - error reading page: %v\n", err)
				}
				counter++
			}
		})
	})
	printResult("read-hit", results["read-hit"])

	results["read-miss"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip("read-miss") {
			return
		}

		// every read targets a page that was never read before
		var next atomic.Uint32
		next.Store(uint32(perfPageSpread))

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				id := types.PageID{Timeline: readTimeline, Number: types.PageNumber(next.Add(1))}
				if _, err := engine.ReadPage(id); err != nil {
					log.Printf("(read-miss) - error reading page: %v\n", err)
				}
			}
		})
	})
	printResult("read-miss", results["read-miss"])

	for _, mode := range []storage.AppendMode{storage.Sync, storage.Async} {
		test := "append-" + mode.String()
		results[test] = benchmarkAppend(test, mode)
		printResult(test, results[test])
	}
	if err := engine.Flush(); err != nil {
		log.Printf("(append-async) - error flushing: %v\n", err)
	}
	async := engine.AsyncStats()
	fmt.Printf("%-20s%d sent, %d failed, %d dropped\n", "async-delivery", async.AsyncSent, async.AsyncFailed, async.AsyncDropped)

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// benchmarkAppend appends records from parallel goroutines. Each goroutine writes
// to its own timeline so the LSNs of one timeline stay in order. Async appends
// measure the time to queue a record, not its delivery.
func benchmarkAppend(test string, mode storage.AppendMode) testing.BenchmarkResult {
	return testing.Benchmark(func(b *testing.B) {
		if shouldSkip(test) {
			return
		}

		record := make([]byte, perfRecordSizeKB*1024)

		var workers atomic.Int32
		var timelines []types.TimelineID
		var timelinesMu sync.Mutex

		b.Cleanup(func() {
			for _, timeline := range timelines {
				if err := engine.DeleteTimeline(timeline); err != nil {
					log.Printf("(%s) - error deleting timeline: %v\n", test, err)
				}
			}
		})

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			name := fmt.Sprintf("%s-%s-%d-%d", perfTimelinePrefix, test, time.Now().UnixNano(), workers.Add(1))
			timeline, err := engine.CreateTimeline(name)
			if err != nil {
				log.Printf("(%s) - error creating timeline: %v\n", test, err)
				return
			}

			timelinesMu.Lock()
			timelines = append(timelines, timeline)
			timelinesMu.Unlock()

			for pb.Next() {
				if err := engine.AppendRecord(timeline, 0, record, mode); err != nil {
					log.Printf("(%s) - error appending record: %v\n", test, err)
				}
			}
		})
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// pageID returns the i-th page of the read test (with wraparound)
func pageID(timeline types.TimelineID, i int) types.PageID {
	return types.PageID{Timeline: timeline, Number: types.PageNumber(i % perfPageSpread)}
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config common.StorageConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"PageServerURL", "SafekeeperEndpoint", "Transport", "Serializer",
		"PageServerConns", "SafekeeperConns", "CacheCapacity",
		"Threads", "RecordSizeKB", "Pages",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"

		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			config.Client.PageServerURL,
			config.Client.Safekeeper.Endpoint,
			config.Client.Safekeeper.Transport,
			config.Client.Safekeeper.Serializer,
			fmt.Sprintf("%d-%d", config.Pool.MinPageServerConns, config.Pool.MaxPageServerConns),
			fmt.Sprintf("%d-%d", config.Pool.MinSafekeeperConns, config.Pool.MaxSafekeeperConns),
			strconv.Itoa(config.CacheCapacity),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfRecordSizeKB),
			strconv.Itoa(perfPageSpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
