// Package types implements the data structures of the block tag (btag)
// record written in-band with every data block.
package types

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Block Tag Layout
// The block tag occupies the first 128 bytes of every device block. When the
// opaque flag is set, a write-order extension follows immediately after it.

const (
	// BtagSignature is the magic value stored in every block tag.
	BtagSignature uint32 = 0xBADCAFEE

	// BtagVersion1 is the first (and current) block tag version.
	BtagVersion1 uint8 = 1

	// BtagVersion is the version written by this implementation.
	BtagVersion = BtagVersion1

	// BlockTagSize is the size of the fixed block tag in bytes.
	BlockTagSize = 128

	// WriteOrderExtensionSize is the size of the write-order trailer in bytes.
	WriteOrderExtensionSize = 28

	// BlockTagWithWriteOrderSize is the size of a tag carrying its extension.
	BlockTagWithWriteOrderSize = BlockTagSize + WriteOrderExtensionSize

	// BtagSerialSize is the size of the NUL-padded serial number field.
	BtagSerialSize = 16

	// BtagHostnameSize is the size of the NUL-padded host name field.
	BtagHostnameSize = 24

	// BtagCRCOffset is the byte offset of the tag checksum.
	BtagCRCOffset = 124

	// DeviceIndexUnset means no previous write has been recorded.
	DeviceIndexUnset uint8 = 0xFF

	// MaxDeviceCount is the number of addressable device indexes.
	MaxDeviceCount = int(DeviceIndexUnset)
)

var (
	// ErrBadSignature is returned when a block does not start with a block tag.
	ErrBadSignature = errors.New("invalid block tag signature")

	// ErrInvalidOpaqueData is returned when the opaque type or size does not
	// describe a write-order extension although the opaque flag is set.
	ErrInvalidOpaqueData = errors.New("invalid block tag opaque data")

	// ErrShortBuffer is returned when a buffer cannot hold a block tag.
	ErrShortBuffer = errors.New("buffer too small for block tag")
)

// DeviceClass selects how the location and identity unions are interpreted.
// The class is a property of the device, not of an individual block.
type DeviceClass int

const (
	// DeviceClassDisk addresses blocks by LBA and identifies the device by devid
	DeviceClassDisk DeviceClass = iota
	// DeviceClassFile addresses blocks by byte offset and identifies the file by inode
	DeviceClassFile
)

// String returns the device class name
func (c DeviceClass) String() string {
	switch c {
	case DeviceClassDisk:
		return "disk"
	case DeviceClassFile:
		return "file"
	default:
		return fmt.Sprintf("DeviceClass(%d)", int(c))
	}
}

// ParseDeviceClass converts a configuration string into a DeviceClass
func ParseDeviceClass(s string) (DeviceClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disk", "block":
		return DeviceClassDisk, nil
	case "file", "":
		return DeviceClassFile, nil
	default:
		return 0, fmt.Errorf("unknown device class %q", s)
	}
}

// PatternType describes the data pattern stored after the block tag.
type PatternType uint8

const (
	PatternTypeNone        PatternType = 0x00
	PatternTypeIOT         PatternType = 0x01
	PatternTypeIncr        PatternType = 0x02
	PatternTypePattern     PatternType = 0x03
	PatternTypePatternFile PatternType = 0x04
	PatternTypeMask        PatternType = 0x0F

	// PatternTypeLBData is set when logical block data prefixes the pattern
	PatternTypeLBData PatternType = 0x40
	// PatternTypeTimestamp is set when the pattern carries a timestamp
	PatternTypeTimestamp PatternType = 0x80
)

// Base returns the pattern type without flag bits
func (p PatternType) Base() PatternType {
	return p & PatternTypeMask
}

// HasLBData reports whether the logical block data flag is set
func (p PatternType) HasLBData() bool {
	return p&PatternTypeLBData != 0
}

// HasTimestamp reports whether the timestamp flag is set
func (p PatternType) HasTimestamp() bool {
	return p&PatternTypeTimestamp != 0
}

// String renders the base type followed by any flag bits
func (p PatternType) String() string {
	var name string
	switch p.Base() {
	case PatternTypeNone:
		name = "none"
	case PatternTypeIOT:
		name = "IOT"
	case PatternTypeIncr:
		name = "incrementing"
	case PatternTypePattern:
		name = "pattern"
	case PatternTypePatternFile:
		name = "pattern file"
	default:
		name = fmt.Sprintf("unknown(%d)", uint8(p.Base()))
	}
	if p.HasLBData() {
		name += ", lbdata"
	}
	if p.HasTimestamp() {
		name += ", timestamp"
	}
	return name
}

// BtagFlags holds the block tag flag bits.
type BtagFlags uint16

const (
	BtagFlagFile    BtagFlags = 0x01 // file offset instead of disk LBA
	BtagFlagOpaque  BtagFlags = 0x02 // opaque extension follows the tag
	BtagFlagPrefix  BtagFlags = 0x04 // prefix string precedes the pattern
	BtagFlagRandom  BtagFlags = 0x08 // random I/O, otherwise sequential
	BtagFlagReverse BtagFlags = 0x10 // reverse direction, otherwise forward
)

// Has reports whether every bit in f is set
func (b BtagFlags) Has(f BtagFlags) bool {
	return b&f == f
}

// String renders the flags the way diagnostics print them
func (b BtagFlags) String() string {
	parts := make([]string, 0, 5)
	if b.Has(BtagFlagFile) {
		parts = append(parts, "file")
	} else {
		parts = append(parts, "disk")
	}
	if b.Has(BtagFlagOpaque) {
		parts = append(parts, "opaque")
	}
	if b.Has(BtagFlagPrefix) {
		parts = append(parts, "prefix")
	}
	if b.Has(BtagFlagRandom) {
		parts = append(parts, "random")
	} else {
		parts = append(parts, "sequential")
	}
	if b.Has(BtagFlagReverse) {
		parts = append(parts, "reverse")
	} else {
		parts = append(parts, "forward")
	}
	return strings.Join(parts, ",")
}

// OpaqueDataType identifies the trailer following the block tag.
type OpaqueDataType uint8

const (
	OpaqueNoDataType     OpaqueDataType = 0
	OpaqueWriteOrderType OpaqueDataType = 1
)

// String returns the opaque data type name
func (o OpaqueDataType) String() string {
	switch o {
	case OpaqueNoDataType:
		return "no data"
	case OpaqueWriteOrderType:
		return "write order"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}

// BlockTag is the in-memory form of the 128-byte block tag.
// The location (lba/offset) and identity (devid/inode) fields are unions on
// the wire; use the named accessors for the device class at hand.
type BlockTag struct {
	locator  uint64
	identity uint64

	Serial   [BtagSerialSize]byte
	Hostname [BtagHostnameSize]byte

	Signature   uint32
	Version     uint8
	PatternType PatternType
	Flags       BtagFlags

	// WriteStart is when the write pass started; WriteSecs and WriteUsecs
	// record when this block was written.
	WriteStart uint32
	WriteSecs  uint32
	WriteUsecs uint32

	Pattern      uint32
	Generation   uint32
	ProcessID    uint32
	JobID        uint32
	ThreadNumber uint32
	DeviceSize   uint32
	RecordIndex  uint32
	RecordSize   uint32
	RecordNumber uint32
	StepOffset   uint64

	OpaqueDataType OpaqueDataType
	OpaqueDataSize uint16
	CRC32          uint32

	// WriteOrder is the decoded extension, nil when the opaque flag is clear.
	WriteOrder *WriteOrderExtension
}

// LBA returns the logical block address of a disk-class tag
func (t *BlockTag) LBA() uint64 { return t.locator }

// SetLBA sets the logical block address of a disk-class tag
func (t *BlockTag) SetLBA(lba uint64) { t.locator = lba }

// Offset returns the file offset of a file-class tag
func (t *BlockTag) Offset() uint64 { return t.locator }

// SetOffset sets the file offset of a file-class tag
func (t *BlockTag) SetOffset(offset uint64) { t.locator = offset }

// DevID returns the device id of a disk-class tag
func (t *BlockTag) DevID() uint64 { return t.identity }

// SetDevID sets the device id of a disk-class tag
func (t *BlockTag) SetDevID(devid uint64) { t.identity = devid }

// Inode returns the inode of a file-class tag
func (t *BlockTag) Inode() uint64 { return t.identity }

// SetInode sets the inode of a file-class tag
func (t *BlockTag) SetInode(inode uint64) { t.identity = inode }

// ByteOffset normalizes the tag location into a byte offset
func (t *BlockTag) ByteOffset(class DeviceClass, blockSize uint32) int64 {
	if class == DeviceClassDisk {
		return int64(t.LBA() * uint64(blockSize))
	}
	return int64(t.Offset())
}

// Class returns the device class recorded in the tag flags
func (t *BlockTag) Class() DeviceClass {
	if t.Flags.Has(BtagFlagFile) {
		return DeviceClassFile
	}
	return DeviceClassDisk
}

// SetSerial stores s NUL-padded, truncating to the field size
func (t *BlockTag) SetSerial(s string) {
	t.Serial = [BtagSerialSize]byte{}
	copy(t.Serial[:], s)
}

// SerialString returns the serial without NUL padding
func (t *BlockTag) SerialString() string {
	return trimNUL(t.Serial[:])
}

// SetHostname stores s NUL-padded, truncating to the field size
func (t *BlockTag) SetHostname(s string) {
	t.Hostname = [BtagHostnameSize]byte{}
	copy(t.Hostname[:], s)
}

// HostnameString returns the host name without NUL padding
func (t *BlockTag) HostnameString() string {
	return trimNUL(t.Hostname[:])
}

// HasWriteOrder reports whether the tag carries a write-order extension
func (t *BlockTag) HasWriteOrder() bool {
	return t.Flags.Has(BtagFlagOpaque) && t.WriteOrder != nil
}

// EncodedSize returns the number of bytes the tag occupies on the wire
func (t *BlockTag) EncodedSize() int {
	if t.WriteOrder != nil {
		return BlockTagWithWriteOrderSize
	}
	return BlockTagSize
}

// Clone returns a deep copy of the tag
func (t *BlockTag) Clone() *BlockTag {
	c := *t
	if t.WriteOrder != nil {
		wo := *t.WriteOrder
		c.WriteOrder = &wo
	}
	return &c
}

func trimNUL(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// WriteTimeAfter reports whether time a is strictly later than time b.
// Seconds are compared first, microseconds break ties.
func WriteTimeAfter(aSecs, aUsecs, bSecs, bUsecs uint32) bool {
	if aSecs != bSecs {
		return aSecs > bSecs
	}
	return aUsecs > bUsecs
}
