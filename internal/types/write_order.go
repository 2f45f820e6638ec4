package types

import "fmt"

// WriteOrderExtension is the 28-byte trailer describing the write issued
// before the block that carries it.
type WriteOrderExtension struct {
	// Index of the output device the previous write went to.
	// DeviceIndexUnset means there is nothing to verify.
	DeviceIndex uint8

	// Size in bytes of the previous write
	WriteSize uint32

	// Byte offset of the previous write, normalized for disk devices
	WriteOffset int64

	// Timestamp of the previous write
	WriteSecs  uint32
	WriteUsecs uint32

	// CRC of the first block of the previous write
	CRC32 uint32
}

// UnsetWriteOrder returns the sentinel entry meaning "no previous write"
func UnsetWriteOrder() WriteOrderExtension {
	return WriteOrderExtension{DeviceIndex: DeviceIndexUnset}
}

// IsUnset reports whether the entry is the sentinel. All other fields of a
// sentinel entry are unspecified.
func (w WriteOrderExtension) IsUnset() bool {
	return w.DeviceIndex == DeviceIndexUnset
}

// String returns a one line summary of the entry
func (w WriteOrderExtension) String() string {
	if w.IsUnset() {
		return "write order: unset"
	}
	return fmt.Sprintf("write order: device %d, offset %d, size %d, time %d.%06d, crc 0x%08x",
		w.DeviceIndex, w.WriteOffset, w.WriteSize, w.WriteSecs, w.WriteUsecs, w.CRC32)
}

// WriteRecord describes a completed write handed to the write-order log.
type WriteRecord struct {
	DeviceIndex uint8
	Class       DeviceClass

	// BlockSize is the device block size used to normalize disk LBAs
	BlockSize uint32

	// Location is the LBA for disk devices or the byte offset for files
	Location uint64

	Size       uint32
	WriteSecs  uint32
	WriteUsecs uint32
	CRC32      uint32
}

// ByteOffset returns the record location as a byte offset
func (r WriteRecord) ByteOffset() int64 {
	if r.Class == DeviceClassDisk {
		return int64(r.Location * uint64(r.BlockSize))
	}
	return int64(r.Location)
}

// Extension converts the record into the extension stamped into later blocks
func (r WriteRecord) Extension() WriteOrderExtension {
	return WriteOrderExtension{
		DeviceIndex: r.DeviceIndex,
		WriteSize:   r.Size,
		WriteOffset: r.ByteOffset(),
		WriteSecs:   r.WriteSecs,
		WriteUsecs:  r.WriteUsecs,
		CRC32:       r.CRC32,
	}
}
