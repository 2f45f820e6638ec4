package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-btag/pkg/app/dump"
)

var (
	dumpBlockSize string
	dumpClass     string
	dumpStart     int64
	dumpCount     int64
)

var dumpCmd = &cobra.Command{
	Use:   "dump [path]",
	Short: "Decode the block tags stored in a file or device",
	Long: `Decode the block tag at the start of every block of a file or device and
check each block's CRC.

Examples:
  # Dump every block of a device file
  btag dump /tmp/btag/stream00-dev000.dat

  # Dump 16 blocks starting at block 128 as JSON
  btag dump /dev/sdb --class disk --block-size 512 --start 128 --count 16 -o json`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDump(args[0])
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().StringVarP(&dumpBlockSize, "block-size", "b", "", "device block size (512, 4KiB); defaults to block_size from config")
	dumpCmd.Flags().StringVar(&dumpClass, "class", "", "device class (file, disk); defaults to device_class from config")
	dumpCmd.Flags().Int64Var(&dumpStart, "start", 0, "first block to decode")
	dumpCmd.Flags().Int64Var(&dumpCount, "count", 0, "number of blocks to decode (0 = to end of file)")
}

func runDump(path string) error {
	ctx := newContext()

	request := &dump.Request{
		Path:      path,
		BlockSize: orDefault(dumpBlockSize, strconv.FormatUint(uint64(config.BlockSize), 10)),
		Class:     orDefault(dumpClass, config.DeviceClass),
		Start:     dumpStart,
		Count:     dumpCount,
	}

	response, err := dump.Handle(ctx, request)
	if err != nil {
		return err
	}

	return dump.FormatOutput(ctx.Out(), response, ctx.OutputFormat)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
