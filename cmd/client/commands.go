package client

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dStor/cmd/util"
	"github.com/ValentinKolb/dStor/lib/remote"
	"github.com/ValentinKolb/dStor/lib/storage"
	"github.com/ValentinKolb/dStor/lib/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
)

var (
	timelineCreateCmd = &cobra.Command{
		Use:   "create [name]",
		Short: "Creates a timeline on the page server and the safekeeper",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timeline, err := engine.CreateTimeline(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("name=%s, timeline=%d\n", args[0], timeline)
			return nil
		},
	}
	timelineDeleteCmd = &cobra.Command{
		Use:   "delete [timeline]",
		Short: "Deletes a timeline (by id or name) on the page server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timeline := util.ParseTimeline(args[0])
			if err := engine.DeleteTimeline(timeline); err != nil {
				return err
			}
			fmt.Printf("timeline=%d deleted successfully\n", timeline)
			return nil
		},
	}
	pageReadCmd = &cobra.Command{
		Use:   "read [timeline] [page]",
		Short: "Reads a page and prints a hex dump of its contents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := util.ParsePageID(args[0], args[1])
			if err != nil {
				return err
			}
			page, err := engine.ReadPage(id)
			if err != nil {
				return err
			}

			if raw, _ := cmd.Flags().GetBool("raw"); raw {
				_, err = os.Stdout.Write(page[:])
				return err
			}

			// trailing zeros are not printed
			used := len(bytes.TrimRight(page[:], "\x00"))
			fmt.Printf("page=%s, used=%d bytes\n", id, used)
			fmt.Print(hex.Dump(page[:used]))
			return nil
		},
	}
	pageWriteCmd = &cobra.Command{
		Use:   "write [timeline] [page] [data]",
		Short: "Writes a page and flushes it to the safekeeper as a page image record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := util.ParsePageID(args[0], args[1])
			if err != nil {
				return err
			}
			if len(args[2]) > types.PageSize {
				return fmt.Errorf("data must not exceed %d bytes", types.PageSize)
			}

			var page types.Page
			copy(page[:], args[2])
			if err := engine.WritePage(id, page); err != nil {
				return err
			}
			if err := engine.Flush(); err != nil {
				return err
			}
			fmt.Printf("page=%s written successfully\n", id)
			return nil
		},
	}
	walAppendCmd = &cobra.Command{
		Use:   "append [timeline] [data]",
		Short: "Appends a record to the write-ahead log (set --lsn if the timeline already has records)",
		Long: `Appends a record to the write-ahead log and waits for the acknowledgment.

Without --lsn the record gets the next LSN this process knows for the timeline,
which starts at 1. The safekeeper only accepts increasing LSNs, so appending to a
timeline that already holds records needs --lsn set above its last LSN.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			timeline := util.ParseTimeline(args[0])
			lsn := types.LSN(viper.GetUint64("lsn"))
			explicit := lsn != 0
			if !explicit {
				lsn = engine.NextLSN(timeline)
			}
			if err := engine.AppendRecord(timeline, lsn, []byte(args[1]), storage.Sync); err != nil {
				if !explicit && errors.Is(err, remote.ErrRejected) {
					return fmt.Errorf("%w (the timeline may already hold records, pass a higher --lsn)", err)
				}
				return err
			}
			fmt.Printf("timeline=%d, lsn=%d appended successfully\n", timeline, lsn)
			return nil
		},
	}
)

func init() {
	pageReadCmd.Flags().Bool("raw", false, util.WrapString("Write the raw page bytes to stdout instead of a hex dump"))
	walAppendCmd.Flags().Uint64("lsn", 0, util.WrapString("The LSN of the record, must be above the last LSN of the timeline (0 = next LSN known to this process)"))
}
