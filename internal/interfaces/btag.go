// File: internal/interfaces/btag.go
package interfaces

import (
	"context"
	"io"

	"github.com/deploymenttheory/go-btag/internal/types"
)

// Device is a test device whose backing store can be re-read independently
// of the buffer currently being verified.
type Device interface {
	io.ReaderAt

	// Name returns the path or name used in diagnostics
	Name() string

	// Class returns whether the device is addressed by LBA or by file offset
	Class() types.DeviceClass

	// BlockSize returns the size of one device block in bytes
	BlockSize() uint32

	// Identity returns the device id (disk) or inode (file)
	Identity() uint64

	// Serial returns the device serial number, possibly empty
	Serial() string

	// Size returns the size of the device in bytes
	Size() int64
}

// WritableDevice is a Device that accepts writes
type WritableDevice interface {
	Device
	io.WriterAt

	// Sync flushes written data to the backing store
	Sync() error
}

// DeviceResolver maps write-order device indexes onto open devices
type DeviceResolver interface {
	// Resolve returns the device at index for the given I/O direction
	Resolve(dir types.IODirection, index uint8) (Device, bool)

	// DeviceName returns the name of the device at index, if in range
	DeviceName(dir types.IODirection, index uint8) (string, bool)

	// Count returns the number of devices for the direction
	Count(dir types.IODirection) int
}

// BufferVerifier checks the checksum of every blockSize block in buf
type BufferVerifier func(buf []byte, blockSize uint32) error

// HistoryDumper writes the recent I/O history of a device thread
type HistoryDumper interface {
	DumpHistory(w io.Writer) error
}

// TriggerEvent describes the failure passed to a trigger collaborator
type TriggerEvent struct {
	Device string
	Offset int64
	Size   uint32
	Reason string
}

// TriggerRunner runs an external action when corruption is detected
type TriggerRunner interface {
	RunTrigger(ctx context.Context, event TriggerEvent) error
}
