package services

import (
	"fmt"
	"time"

	"github.com/deploymenttheory/go-btag/internal/interfaces"
	"github.com/deploymenttheory/go-btag/internal/managers/writeorder"
	"github.com/deploymenttheory/go-btag/internal/parsers/btag"
	"github.com/deploymenttheory/go-btag/internal/types"
	"github.com/deploymenttheory/go-btag/pkg/checksum"
)

// BtagStamper writes the previous-write provenance into blocks about to be
// written.
type BtagStamper struct{}

// NewBtagStamper creates a new stamper
func NewBtagStamper() *BtagStamper {
	return &BtagStamper{}
}

// Stamp copies the last recorded write into the tag's extension. An unset
// entry is stamped as is, which exempts the block from causality checks.
func (s *BtagStamper) Stamp(tag *types.BlockTag, log *writeorder.Log) {
	last := log.Last()
	tag.WriteOrder = &last
	tag.OpaqueDataType = types.OpaqueWriteOrderType
	tag.OpaqueDataSize = types.WriteOrderExtensionSize
	tag.Flags |= types.BtagFlagOpaque
}

// StampBlock stamps tag, encodes it into the start of block and seals the
// block CRC. The CRC is computed last so it covers the extension bytes.
func (s *BtagStamper) StampBlock(block []byte, tag *types.BlockTag, log *writeorder.Log) (uint32, error) {
	s.Stamp(tag, log)
	tag.CRC32 = 0
	if err := btag.EncodeBlockTag(tag, block); err != nil {
		return 0, fmt.Errorf("failed to encode block tag: %w", err)
	}
	crc, err := checksum.SealBlock(block)
	if err != nil {
		return 0, fmt.Errorf("failed to seal block: %w", err)
	}
	tag.CRC32 = crc
	return crc, nil
}

// BlockTagTemplate holds the tag fields that stay constant for a thread's
// write pass. Build fills in the per-block fields.
type BlockTagTemplate struct {
	Hostname     string
	PatternType  types.PatternType
	Flags        types.BtagFlags
	WriteStart   uint32
	Pattern      uint32
	Generation   uint32
	ProcessID    uint32
	JobID        uint32
	ThreadNumber uint32
	StepOffset   uint64
}

// Build returns the tag for the block at byte offset on dev. recordSize is
// the size of the write the block belongs to.
func (tt *BlockTagTemplate) Build(dev interfaces.Device, offset int64, recordSize, recordIndex, recordNumber uint32, now time.Time) *types.BlockTag {
	tag := &types.BlockTag{
		Signature:    types.BtagSignature,
		Version:      types.BtagVersion,
		PatternType:  tt.PatternType,
		Flags:        tt.Flags,
		WriteStart:   tt.WriteStart,
		WriteSecs:    uint32(now.Unix()),
		WriteUsecs:   uint32(now.Nanosecond() / 1000),
		Pattern:      tt.Pattern,
		Generation:   tt.Generation,
		ProcessID:    tt.ProcessID,
		JobID:        tt.JobID,
		ThreadNumber: tt.ThreadNumber,
		DeviceSize:   dev.BlockSize(),
		RecordIndex:  recordIndex,
		RecordSize:   recordSize,
		RecordNumber: recordNumber,
		StepOffset:   tt.StepOffset,
	}
	tag.SetSerial(dev.Serial())
	tag.SetHostname(tt.Hostname)
	if tag.Flags.Has(types.BtagFlagOpaque) {
		tag.OpaqueDataType = types.OpaqueWriteOrderType
		tag.OpaqueDataSize = types.WriteOrderExtensionSize
	}

	if dev.Class() == types.DeviceClassFile {
		tag.Flags |= types.BtagFlagFile
		tag.SetOffset(uint64(offset))
		tag.SetInode(dev.Identity())
	} else {
		tag.Flags &^= types.BtagFlagFile
		tag.SetLBA(uint64(offset) / uint64(dev.BlockSize()))
		tag.SetDevID(dev.Identity())
	}
	return tag
}
