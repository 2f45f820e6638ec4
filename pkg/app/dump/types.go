package dump

import (
	"github.com/spf13/afero"

	"github.com/deploymenttheory/go-btag/internal/types"
)

// Request represents a block tag dump request
type Request struct {
	Path      string
	BlockSize string
	Class     string

	// Start is the first block to decode, Count the number of blocks (0 = all)
	Start int64
	Count int64

	// Fs is the filesystem the path is opened on; nil means the OS filesystem
	Fs afero.Fs
}

// Response represents the decoded tags of a file
type Response struct {
	Path      string      `json:"path" yaml:"path"`
	BlockSize uint32      `json:"block_size" yaml:"block_size"`
	Class     string      `json:"device_class" yaml:"device_class"`
	Tags      []TagRecord `json:"tags" yaml:"tags"`
	Invalid   int         `json:"invalid" yaml:"invalid"`
	CRCErrors int         `json:"crc_errors" yaml:"crc_errors"`
}

// TagRecord is the printable form of one decoded block tag
type TagRecord struct {
	Block        int64            `json:"block" yaml:"block"`
	Offset       int64            `json:"offset" yaml:"offset"`
	Location     uint64           `json:"location" yaml:"location"`
	Identity     uint64           `json:"identity" yaml:"identity"`
	Serial       string           `json:"serial" yaml:"serial"`
	Hostname     string           `json:"hostname" yaml:"hostname"`
	Version      uint8            `json:"version" yaml:"version"`
	PatternType  string           `json:"pattern_type" yaml:"pattern_type"`
	Flags        string           `json:"flags" yaml:"flags"`
	WriteStart   uint32           `json:"write_start" yaml:"write_start"`
	WriteSecs    uint32           `json:"write_secs" yaml:"write_secs"`
	WriteUsecs   uint32           `json:"write_usecs" yaml:"write_usecs"`
	Pattern      uint32           `json:"pattern" yaml:"pattern"`
	Generation   uint32           `json:"generation" yaml:"generation"`
	ProcessID    uint32           `json:"process_id" yaml:"process_id"`
	JobID        uint32           `json:"job_id" yaml:"job_id"`
	ThreadNumber uint32           `json:"thread_number" yaml:"thread_number"`
	RecordIndex  uint32           `json:"record_index" yaml:"record_index"`
	RecordSize   uint32           `json:"record_size" yaml:"record_size"`
	RecordNumber uint32           `json:"record_number" yaml:"record_number"`
	CRC32        uint32           `json:"crc32" yaml:"crc32"`
	CRCValid     bool             `json:"crc_valid" yaml:"crc_valid"`
	WriteOrder   *WriteOrderEntry `json:"write_order,omitempty" yaml:"write_order,omitempty"`
	Error        string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// WriteOrderEntry is the printable form of a write-order extension
type WriteOrderEntry struct {
	DeviceIndex uint8  `json:"device_index" yaml:"device_index"`
	Unset       bool   `json:"unset" yaml:"unset"`
	WriteSize   uint32 `json:"write_size" yaml:"write_size"`
	WriteOffset int64  `json:"write_offset" yaml:"write_offset"`
	WriteSecs   uint32 `json:"write_secs" yaml:"write_secs"`
	WriteUsecs  uint32 `json:"write_usecs" yaml:"write_usecs"`
	CRC32       uint32 `json:"crc32" yaml:"crc32"`
}

// newTagRecord converts a decoded tag for output, interpreting the location
// and identity unions for class
func newTagRecord(block int64, offset int64, tag *types.BlockTag, class types.DeviceClass, crcValid bool) TagRecord {
	rec := TagRecord{
		Block:        block,
		Offset:       offset,
		Location:     tag.LBA(),
		Identity:     tag.DevID(),
		Serial:       tag.SerialString(),
		Hostname:     tag.HostnameString(),
		Version:      tag.Version,
		PatternType:  tag.PatternType.String(),
		Flags:        tag.Flags.String(),
		WriteStart:   tag.WriteStart,
		WriteSecs:    tag.WriteSecs,
		WriteUsecs:   tag.WriteUsecs,
		Pattern:      tag.Pattern,
		Generation:   tag.Generation,
		ProcessID:    tag.ProcessID,
		JobID:        tag.JobID,
		ThreadNumber: tag.ThreadNumber,
		RecordIndex:  tag.RecordIndex,
		RecordSize:   tag.RecordSize,
		RecordNumber: tag.RecordNumber,
		CRC32:        tag.CRC32,
		CRCValid:     crcValid,
	}
	if class == types.DeviceClassFile {
		rec.Location = tag.Offset()
		rec.Identity = tag.Inode()
	}
	if wo := tag.WriteOrder; wo != nil {
		rec.WriteOrder = &WriteOrderEntry{
			DeviceIndex: wo.DeviceIndex,
			Unset:       wo.IsUnset(),
			WriteSize:   wo.WriteSize,
			WriteOffset: wo.WriteOffset,
			WriteSecs:   wo.WriteSecs,
			WriteUsecs:  wo.WriteUsecs,
			CRC32:       wo.CRC32,
		}
	}
	return rec
}
