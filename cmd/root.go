package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-btag/internal/device"
	"github.com/deploymenttheory/go-btag/pkg/app"
)

var (
	// Global output flags only
	verbose      bool
	quiet        bool
	noColor      bool
	outputFormat string

	// config is loaded once before any subcommand runs
	config *device.Config
)

var rootCmd = &cobra.Command{
	Use:   "btag",
	Short: "Block tag stamping and write-order verification",
	Long: `btag writes self-describing blocks to files or disks and verifies them.

Every block starts with a 128-byte block tag recording its location, write
time and writer. A 28-byte write-order extension names the write issued just
before it, so a reader can check that the earlier write is still on disk and
was not written after the block that references it.

Commands:
  exercise    Write, re-read and verify tagged blocks across devices
  dump        Decode the block tags stored in a file or device
  config      Show the effective configuration`,
	Version:       "0.1.0-dev",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := device.LoadConfig()
		if err != nil {
			return err
		}
		config = cfg
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored log output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
}

// newContext creates the application context from the global flags
func newContext() *app.Context {
	ctx := app.NewContext()
	ctx.OutputFormat = outputFormat
	ctx.Verbose = verbose
	ctx.Quiet = quiet
	ctx.NoColor = noColor
	ctx.ConfigureLogger()
	return ctx
}

// exitCode maps verification failures to exit status 2
func exitCode(err error) int {
	var appErr *app.CommonError
	if errors.As(err, &appErr) && appErr.Code == app.ErrCodeVerification {
		return 2
	}
	return 1
}
