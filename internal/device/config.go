package device

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/deploymenttheory/go-btag/internal/types"
)

// Config holds the device and verification settings shared by all commands
type Config struct {
	BlockSize      uint32   `mapstructure:"block_size" json:"block_size" yaml:"block_size"`
	DeviceClass    string   `mapstructure:"device_class" json:"device_class" yaml:"device_class"`
	Hostname       string   `mapstructure:"hostname" json:"hostname" yaml:"hostname"`
	Serial         string   `mapstructure:"serial" json:"serial" yaml:"serial"`
	VerifyFlags    []string `mapstructure:"verify_flags" json:"verify_flags" yaml:"verify_flags"`
	ReadAfterWrite bool     `mapstructure:"read_after_write" json:"read_after_write" yaml:"read_after_write"`
	TriggerScript  string   `mapstructure:"trigger_script" json:"trigger_script" yaml:"trigger_script"`
	HistorySize    int      `mapstructure:"history_size" json:"history_size" yaml:"history_size"`
}

// LoadConfig loads configuration using Viper. A missing config file is not
// an error; defaults and BTAG_* environment variables apply.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("btag-config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("$HOME/.btag")
	viper.AddConfigPath("/etc/btag")

	hostname, _ := os.Hostname()

	// Set defaults
	viper.SetDefault("block_size", 4096)
	viper.SetDefault("device_class", "file")
	viper.SetDefault("hostname", hostname)
	viper.SetDefault("serial", "")
	viper.SetDefault("verify_flags", []string{"quick"})
	viper.SetDefault("read_after_write", false)
	viper.SetDefault("trigger_script", "")
	viper.SetDefault("history_size", 32)

	// Allow environment variables
	viper.SetEnvPrefix("BTAG")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the configuration values
func (c *Config) Validate() error {
	if c.BlockSize < types.BlockTagWithWriteOrderSize {
		return fmt.Errorf("block_size %d is smaller than a block tag (%d bytes)", c.BlockSize, types.BlockTagWithWriteOrderSize)
	}
	if _, err := types.ParseDeviceClass(c.DeviceClass); err != nil {
		return err
	}
	if _, err := types.ParseVerifyFlags(c.VerifyFlags); err != nil {
		return err
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("history_size must not be negative")
	}
	return nil
}

// Class returns the parsed device class
func (c *Config) Class() types.DeviceClass {
	class, _ := types.ParseDeviceClass(c.DeviceClass)
	return class
}

// Flags returns the parsed verify flags
func (c *Config) Flags() types.VerifyFlags {
	flags, _ := types.ParseVerifyFlags(c.VerifyFlags)
	return flags
}
