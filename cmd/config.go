package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging defaults, btag-config.yaml and BTAG_*
environment variables.

The config file is searched for in ., ./config, $HOME/.btag and /etc/btag.`,

	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfig()
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig() error {
	ctx := newContext()
	out := ctx.Out()

	if used := viper.ConfigFileUsed(); used != "" {
		ctx.Logger.Info().Str("file", used).Msg("using config file")
	}

	switch ctx.OutputFormat {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(config)
	case "yaml", "table":
		encoder := yaml.NewEncoder(out)
		defer encoder.Close()
		encoder.SetIndent(2)
		return encoder.Encode(config)
	default:
		return fmt.Errorf("unsupported output format: %s", ctx.OutputFormat)
	}
}
