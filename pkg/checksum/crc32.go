// Package checksum computes and verifies the CRC-32 that seals every tagged
// block. The checksum covers the block tag (minus its own CRC field), the
// write-order extension and the data pattern that follows.
package checksum

import (
	"fmt"
	"hash/crc32"

	"github.com/deploymenttheory/go-btag/internal/parsers/btag"
	"github.com/deploymenttheory/go-btag/internal/types"
)

// CRCError reports a block whose stored checksum does not match its contents.
type CRCError struct {
	// BufferOffset is the offset of the failing block within the verified buffer
	BufferOffset int
	Expected     uint32
	Computed     uint32
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("CRC mismatch at buffer offset %d: stored 0x%08x, computed 0x%08x",
		e.BufferOffset, e.Expected, e.Computed)
}

// BlockCRC computes the checksum of a single tagged block
func BlockCRC(block []byte) uint32 {
	crc := crc32.ChecksumIEEE(block[:types.BtagCRCOffset])
	return crc32.Update(crc, crc32.IEEETable, block[types.BlockTagSize:])
}

// SealBlock computes the checksum of block and stores it in the tag
func SealBlock(block []byte) (uint32, error) {
	if len(block) < types.BlockTagSize {
		return 0, fmt.Errorf("%w: %d bytes", types.ErrShortBuffer, len(block))
	}
	crc := BlockCRC(block)
	btag.PutCRC32(block, crc)
	return crc, nil
}

// VerifyBlock checks the stored checksum of a single block
func VerifyBlock(block []byte) error {
	if len(block) < types.BlockTagSize {
		return fmt.Errorf("%w: %d bytes", types.ErrShortBuffer, len(block))
	}
	stored := btag.CRC32(block)
	if computed := BlockCRC(block); computed != stored {
		return &CRCError{Expected: stored, Computed: computed}
	}
	return nil
}

// VerifyBuffer checks every blockSize block in buf and returns the first
// failure.
func VerifyBuffer(buf []byte, blockSize uint32) error {
	if blockSize < types.BlockTagSize {
		return fmt.Errorf("block size %d is smaller than a block tag", blockSize)
	}
	for off := 0; off+int(blockSize) <= len(buf); off += int(blockSize) {
		if err := VerifyBlock(buf[off : off+int(blockSize)]); err != nil {
			if crcErr, ok := err.(*CRCError); ok {
				crcErr.BufferOffset = off
			}
			return err
		}
	}
	return nil
}
