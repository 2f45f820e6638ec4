package device

import (
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/deploymenttheory/go-btag/internal/interfaces"
	"github.com/deploymenttheory/go-btag/internal/types"
)

var _ interfaces.WritableDevice = (*FileDevice)(nil)

// FileDevice is a test device backed by a file on an afero filesystem.
// Regular files and raw disk nodes are both opened this way; the class
// decides whether block tags carry an LBA or a byte offset.
type FileDevice struct {
	fs        afero.Fs
	file      afero.File
	path      string
	class     types.DeviceClass
	blockSize uint32
	identity  uint64
	serial    string
	size      int64
}

// DeviceOptions configures how a FileDevice is opened
type DeviceOptions struct {
	Class     types.DeviceClass
	BlockSize uint32

	// Size preallocates the file when creating it; 0 keeps the current size
	Size int64

	// Identity overrides the device id or inode; 0 derives one from the path
	Identity uint64

	// Serial overrides the device serial; empty generates one
	Serial string

	// Create creates the file when it does not exist
	Create bool
}

// OpenFileDevice opens path on fs as a test device
func OpenFileDevice(fs afero.Fs, path string, opts DeviceOptions) (*FileDevice, error) {
	if path == "" {
		return nil, fmt.Errorf("device path cannot be empty")
	}
	if opts.BlockSize < types.BlockTagWithWriteOrderSize {
		return nil, fmt.Errorf("block size %d is smaller than a block tag (%d bytes)", opts.BlockSize, types.BlockTagWithWriteOrderSize)
	}

	flags := os.O_RDWR
	if opts.Create {
		flags |= os.O_CREATE
	}
	file, err := fs.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", path, err)
	}

	if opts.Size > 0 {
		if err := file.Truncate(opts.Size); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to size device %s: %w", path, err)
		}
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat device %s: %w", path, err)
	}

	d := &FileDevice{
		fs:        fs,
		file:      file,
		path:      path,
		class:     opts.Class,
		blockSize: opts.BlockSize,
		identity:  opts.Identity,
		serial:    opts.Serial,
		size:      info.Size(),
	}
	if d.identity == 0 {
		d.identity = pathIdentity(path)
	}
	if d.serial == "" {
		d.serial = NewSerial()
	}
	return d, nil
}

// NewSerial returns a random serial that fits the block tag serial field
func NewSerial() string {
	s := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(s[:types.BtagSerialSize])
}

func pathIdentity(path string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(path))
	return h.Sum64()
}

// ReadAt reads from the device backing store
func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	return d.file.ReadAt(p, off)
}

// WriteAt writes to the device backing store
func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	n, err := d.file.WriteAt(p, off)
	if end := off + int64(n); end > d.size {
		d.size = end
	}
	return n, err
}

// Sync flushes the device
func (d *FileDevice) Sync() error {
	return d.file.Sync()
}

// Close closes the device
func (d *FileDevice) Close() error {
	return d.file.Close()
}

func (d *FileDevice) Name() string             { return d.path }
func (d *FileDevice) Class() types.DeviceClass { return d.class }
func (d *FileDevice) BlockSize() uint32        { return d.blockSize }
func (d *FileDevice) Identity() uint64         { return d.identity }
func (d *FileDevice) Serial() string           { return d.serial }
func (d *FileDevice) Size() int64              { return d.size }

// Blocks returns the number of whole blocks on the device
func (d *FileDevice) Blocks() uint64 {
	return uint64(d.size) / uint64(d.blockSize)
}
