package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/deploymenttheory/go-btag/pkg/app/exercise"
)

var (
	exerciseDir          string
	exerciseDevices      int
	exerciseRecords      int
	exerciseBlockSize    string
	exerciseRecordBlocks int
	exerciseStreams      int
	exercisePasses       int
	exerciseTimeout      time.Duration
)

var exerciseCmd = &cobra.Command{
	Use:   "exercise",
	Short: "Write, re-read and verify tagged blocks across devices",
	Long: `Write tagged records round-robin across a set of device files, then read
them back and verify every block tag, block CRC and write-order link.

Each stream owns its own devices and runs concurrently with the others.

Examples:
  # Two streams of four devices, 64 records of 4 blocks each
  btag exercise --dir /tmp/btag --streams 2 --devices 4 --records 64 --record-blocks 4

  # Verify every write immediately and compare every field
  btag exercise --dir /tmp/btag --read-after-write --verify all`,

	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExercise()
	},
}

func init() {
	rootCmd.AddCommand(exerciseCmd)

	exerciseCmd.Flags().StringVarP(&exerciseDir, "dir", "d", "", "directory device files are created in")
	exerciseCmd.Flags().IntVar(&exerciseDevices, "devices", 4, "output devices per stream")
	exerciseCmd.Flags().IntVar(&exerciseRecords, "records", 32, "records written to each device per pass")
	exerciseCmd.Flags().StringVarP(&exerciseBlockSize, "block-size", "b", "", "device block size (512, 4KiB); defaults to block_size from config")
	exerciseCmd.Flags().IntVar(&exerciseRecordBlocks, "record-blocks", 1, "device blocks per write")
	exerciseCmd.Flags().IntVar(&exerciseStreams, "streams", 1, "concurrent streams")
	exerciseCmd.Flags().IntVar(&exercisePasses, "passes", 1, "write/read passes")
	exerciseCmd.Flags().DurationVar(&exerciseTimeout, "timeout", 0, "cancel the run after this long (0 for no limit)")

	// Config-backed flags override btag-config.yaml and BTAG_* variables
	exerciseCmd.Flags().String("class", "file", "device class (file, disk)")
	exerciseCmd.Flags().StringSlice("verify", nil, "block tag fields to verify on reread (quick, all, -field)")
	exerciseCmd.Flags().Bool("read-after-write", false, "verify each record right after it is written")
	exerciseCmd.Flags().String("hostname", "", "hostname stamped into block tags")
	exerciseCmd.Flags().String("trigger", "", "script run when corruption is detected")
	exerciseCmd.Flags().Int("history", 32, "I/O requests kept per stream for diagnostics")

	bindFlag("device_class", "class")
	bindFlag("verify_flags", "verify")
	bindFlag("read_after_write", "read-after-write")
	bindFlag("hostname", "hostname")
	bindFlag("trigger_script", "trigger")
	bindFlag("history_size", "history")

	_ = exerciseCmd.MarkFlagRequired("dir")
}

func bindFlag(key, flag string) {
	cobra.CheckErr(viper.BindPFlag(key, exerciseCmd.Flags().Lookup(flag)))
}

func runExercise() error {
	ctx := newContext()
	if exerciseTimeout > 0 {
		var cancel func()
		ctx, cancel = ctx.WithTimeout(exerciseTimeout)
		defer cancel()
	}
	ctx.SetProgress(func(message string, percent int) {
		ctx.Logger.Info().Int("percent", percent).Msg(message)
	})

	request := &exercise.Request{
		Dir:            exerciseDir,
		Devices:        exerciseDevices,
		Records:        exerciseRecords,
		BlockSize:      orDefault(exerciseBlockSize, strconv.FormatUint(uint64(config.BlockSize), 10)),
		RecordBlocks:   exerciseRecordBlocks,
		Streams:        exerciseStreams,
		Passes:         exercisePasses,
		ReadAfterWrite: config.ReadAfterWrite,
		Class:          config.DeviceClass,
		VerifyFlags:    config.VerifyFlags,
		Hostname:       config.Hostname,
		TriggerScript:  config.TriggerScript,
		HistorySize:    config.HistorySize,
	}

	response, err := exercise.Handle(ctx, request)
	if response != nil {
		if ferr := exercise.FormatOutput(ctx.Out(), response, ctx.OutputFormat); ferr != nil && err == nil {
			err = ferr
		}
	}
	return err
}
