package exercise

import (
	"time"

	"github.com/spf13/afero"
)

// Request represents a write/verify exercise across a set of file devices
type Request struct {
	// Dir is the directory device files are created in
	Dir string

	// Devices is the number of output devices per stream
	Devices int

	// Records is the number of records written to each device per pass
	Records int

	// BlockSize is the device block size, e.g. "4096" or "4KiB"
	BlockSize string

	// RecordBlocks is the number of device blocks per write
	RecordBlocks int

	// Streams is the number of concurrent streams; each owns its devices
	Streams int

	Passes         int
	ReadAfterWrite bool
	Class          string
	VerifyFlags    []string
	Hostname       string
	TriggerScript  string
	HistorySize    int

	// Fs is the filesystem devices are created on; nil means the OS filesystem
	Fs afero.Fs
}

// Response represents the outcome of an exercise run
type Response struct {
	RunID        string         `json:"run_id" yaml:"run_id"`
	Streams      []StreamResult `json:"streams" yaml:"streams"`
	TotalErrors  int            `json:"total_errors" yaml:"total_errors"`
	TotalWarning int            `json:"total_warnings" yaml:"total_warnings"`
	Elapsed      time.Duration  `json:"elapsed" yaml:"elapsed"`
}

// StreamResult holds the counters of one stream
type StreamResult struct {
	Stream       int      `json:"stream" yaml:"stream"`
	Devices      []string `json:"devices" yaml:"devices"`
	Passes       int      `json:"passes" yaml:"passes"`
	Writes       int64    `json:"writes" yaml:"writes"`
	Reads        int64    `json:"reads" yaml:"reads"`
	BytesWritten uint64   `json:"bytes_written" yaml:"bytes_written"`
	BytesRead    uint64   `json:"bytes_read" yaml:"bytes_read"`
	Verified     int64    `json:"write_order_verified" yaml:"write_order_verified"`
	Errors       int      `json:"errors" yaml:"errors"`
	Warnings     int      `json:"warnings" yaml:"warnings"`
}
