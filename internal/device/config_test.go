package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-btag/internal/types"
)

func TestConfig_Validate(t *testing.T) {
	valid := Config{BlockSize: 4096, DeviceClass: "file", VerifyFlags: []string{"quick"}, HistorySize: 8}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"block too small", func(c *Config) { c.BlockSize = 128 }, true},
		{"bad class", func(c *Config) { c.DeviceClass = "tape" }, true},
		{"bad verify flag", func(c *Config) { c.VerifyFlags = []string{"nope"} }, true},
		{"negative history", func(c *Config) { c.HistorySize = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Parsed(t *testing.T) {
	cfg := Config{DeviceClass: "disk", VerifyFlags: []string{"all", "-crc32"}}
	assert.Equal(t, types.DeviceClassDisk, cfg.Class())
	assert.Equal(t, types.VerifyAll&^types.VerifyCRC32, cfg.Flags())
}

func TestLoadConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	content := "block_size: 512\ndevice_class: disk\nverify_flags: [all]\nhistory_size: 4\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "btag-config.yaml"), []byte(content), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	t.Setenv("BTAG_TRIGGER_SCRIPT", "/usr/local/bin/on-corruption")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, uint32(512), cfg.BlockSize)
	assert.Equal(t, types.DeviceClassDisk, cfg.Class())
	assert.Equal(t, types.VerifyAll, cfg.Flags())
	assert.Equal(t, 4, cfg.HistorySize)
	assert.Equal(t, "/usr/local/bin/on-corruption", cfg.TriggerScript)
	assert.False(t, cfg.ReadAfterWrite)
}
