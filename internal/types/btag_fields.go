package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownVerifyFlag is returned when a verify flag name is not recognized.
var ErrUnknownVerifyFlag = errors.New("unknown block tag verify flag")

// VerifyFlags selects which block tag fields are compared during verification.
type VerifyFlags uint32

const (
	VerifyLocation VerifyFlags = 1 << iota
	VerifyIdentity
	VerifySerial
	VerifyHostname
	VerifySignature
	VerifyVersion
	VerifyPatternType
	VerifyFlagBits
	VerifyWriteStart
	VerifyWriteSecs
	VerifyWriteUsecs
	VerifyPattern
	VerifyGeneration
	VerifyProcessID
	VerifyJobID
	VerifyThreadNumber
	VerifyDeviceSize
	VerifyRecordIndex
	VerifyRecordSize
	VerifyRecordNumber
	VerifyStepOffset
	VerifyOpaqueDataType
	VerifyOpaqueDataSize
	VerifyCRC32
	VerifyWriteOrder

	// VerifyAll compares every field
	VerifyAll = VerifyWriteOrder<<1 - 1

	// VerifyQuick skips the fields only known right after the write
	VerifyQuick = VerifyAll &^ (VerifyWriteSecs | VerifyWriteUsecs | VerifyCRC32 | VerifyWriteOrder)
)

var verifyFlagNames = map[string]VerifyFlags{
	"lba":              VerifyLocation,
	"offset":           VerifyLocation,
	"devid":            VerifyIdentity,
	"inode":            VerifyIdentity,
	"serial":           VerifySerial,
	"hostname":         VerifyHostname,
	"signature":        VerifySignature,
	"version":          VerifyVersion,
	"pattern_type":     VerifyPatternType,
	"flags":            VerifyFlagBits,
	"write_start":      VerifyWriteStart,
	"write_secs":       VerifyWriteSecs,
	"write_usecs":      VerifyWriteUsecs,
	"pattern":          VerifyPattern,
	"generation":       VerifyGeneration,
	"process_id":       VerifyProcessID,
	"job_id":           VerifyJobID,
	"thread_number":    VerifyThreadNumber,
	"device_size":      VerifyDeviceSize,
	"record_index":     VerifyRecordIndex,
	"record_size":      VerifyRecordSize,
	"record_number":    VerifyRecordNumber,
	"step_offset":      VerifyStepOffset,
	"opaque_data_type": VerifyOpaqueDataType,
	"opaque_data_size": VerifyOpaqueDataSize,
	"crc32":            VerifyCRC32,
	"write_order":      VerifyWriteOrder,
	"all":              VerifyAll,
	"quick":            VerifyQuick,
}

// ParseVerifyFlags builds a flag set from names. A name prefixed with '-'
// clears its bits; an empty list yields VerifyQuick.
func ParseVerifyFlags(names []string) (VerifyFlags, error) {
	if len(names) == 0 {
		return VerifyQuick, nil
	}
	var flags VerifyFlags
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		clear := strings.HasPrefix(name, "-")
		name = strings.TrimPrefix(name, "-")
		f, ok := verifyFlagNames[name]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownVerifyFlag, raw)
		}
		if clear {
			flags &^= f
		} else {
			flags |= f
		}
	}
	return flags, nil
}

// Has reports whether every bit in f is set
func (v VerifyFlags) Has(f VerifyFlags) bool {
	return v&f == f
}

// Names returns the sorted names of the individual flags that are set
func (v VerifyFlags) Names() []string {
	var names []string
	for name, f := range verifyFlagNames {
		if f == VerifyAll || f == VerifyQuick {
			continue
		}
		// lba/offset and devid/inode share a bit; report the first spelling only
		if name == "offset" || name == "inode" {
			continue
		}
		if v.Has(f) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// FieldKind describes how a field value is stored on the wire.
type FieldKind int

const (
	FieldKindUint FieldKind = iota
	FieldKindInt
	FieldKindBytes
)

// FieldDescriptor describes one field of a fixed-layout record: where it
// lives, how wide it is and how to get or set it on the in-memory value.
// The same descriptors drive the wire codec and the diagnostic output.
type FieldDescriptor[T any] struct {
	Name     string
	FileName string // name used for file-class tags, empty if same as Name
	Offset   int
	Width    int
	Kind     FieldKind
	Flag     VerifyFlags

	get   func(*T) uint64
	set   func(*T, uint64)
	bytes func(*T) []byte
}

// DisplayName returns the field name for the given device class
func (f FieldDescriptor[T]) DisplayName(class DeviceClass) string {
	if class == DeviceClassFile && f.FileName != "" {
		return f.FileName
	}
	return f.Name
}

// Get returns the numeric value of the field
func (f FieldDescriptor[T]) Get(v *T) uint64 {
	if f.get == nil {
		return 0
	}
	return f.get(v)
}

// Set assigns the numeric value of the field
func (f FieldDescriptor[T]) Set(v *T, x uint64) {
	if f.set != nil {
		f.set(v, x)
	}
}

// Bytes returns the backing array of a byte field, nil for numeric fields
func (f FieldDescriptor[T]) Bytes(v *T) []byte {
	if f.bytes == nil {
		return nil
	}
	return f.bytes(v)
}

// Text returns a byte field as a string up to its first NUL
func (f FieldDescriptor[T]) Text(v *T) string {
	return trimNUL(f.Bytes(v))
}

// Format renders the field value for diagnostics
func (f FieldDescriptor[T]) Format(v *T) string {
	switch f.Kind {
	case FieldKindBytes:
		return fmt.Sprintf("%q", f.Text(v))
	case FieldKindInt:
		x := int64(f.Get(v))
		return fmt.Sprintf("%d (0x%x)", x, uint64(x))
	default:
		x := f.Get(v)
		return fmt.Sprintf("%d (0x%0*x)", x, f.Width*2, x)
	}
}

// BlockTagFields lists every block tag field in wire order.
var BlockTagFields = []FieldDescriptor[BlockTag]{
	{Name: "LBA", FileName: "File Offset", Offset: 0, Width: 8, Flag: VerifyLocation,
		get: func(t *BlockTag) uint64 { return t.locator }, set: func(t *BlockTag, x uint64) { t.locator = x }},
	{Name: "Device ID", FileName: "Inode Number", Offset: 8, Width: 8, Flag: VerifyIdentity,
		get: func(t *BlockTag) uint64 { return t.identity }, set: func(t *BlockTag, x uint64) { t.identity = x }},
	{Name: "Serial Number", Offset: 16, Width: BtagSerialSize, Kind: FieldKindBytes, Flag: VerifySerial,
		bytes: func(t *BlockTag) []byte { return t.Serial[:] }},
	{Name: "Host Name", Offset: 32, Width: BtagHostnameSize, Kind: FieldKindBytes, Flag: VerifyHostname,
		bytes: func(t *BlockTag) []byte { return t.Hostname[:] }},
	{Name: "Signature", Offset: 56, Width: 4, Flag: VerifySignature,
		get: func(t *BlockTag) uint64 { return uint64(t.Signature) }, set: func(t *BlockTag, x uint64) { t.Signature = uint32(x) }},
	{Name: "Version", Offset: 60, Width: 1, Flag: VerifyVersion,
		get: func(t *BlockTag) uint64 { return uint64(t.Version) }, set: func(t *BlockTag, x uint64) { t.Version = uint8(x) }},
	{Name: "Pattern Type", Offset: 61, Width: 1, Flag: VerifyPatternType,
		get: func(t *BlockTag) uint64 { return uint64(t.PatternType) }, set: func(t *BlockTag, x uint64) { t.PatternType = PatternType(x) }},
	{Name: "Flags", Offset: 62, Width: 2, Flag: VerifyFlagBits,
		get: func(t *BlockTag) uint64 { return uint64(t.Flags) }, set: func(t *BlockTag, x uint64) { t.Flags = BtagFlags(x) }},
	{Name: "Write Pass Start", Offset: 64, Width: 4, Flag: VerifyWriteStart,
		get: func(t *BlockTag) uint64 { return uint64(t.WriteStart) }, set: func(t *BlockTag, x uint64) { t.WriteStart = uint32(x) }},
	{Name: "Write Timestamp", Offset: 68, Width: 4, Flag: VerifyWriteSecs,
		get: func(t *BlockTag) uint64 { return uint64(t.WriteSecs) }, set: func(t *BlockTag, x uint64) { t.WriteSecs = uint32(x) }},
	{Name: "Write Timestamp (usecs)", Offset: 72, Width: 4, Flag: VerifyWriteUsecs,
		get: func(t *BlockTag) uint64 { return uint64(t.WriteUsecs) }, set: func(t *BlockTag, x uint64) { t.WriteUsecs = uint32(x) }},
	{Name: "Pattern", Offset: 76, Width: 4, Flag: VerifyPattern,
		get: func(t *BlockTag) uint64 { return uint64(t.Pattern) }, set: func(t *BlockTag, x uint64) { t.Pattern = uint32(x) }},
	{Name: "Generation", Offset: 80, Width: 4, Flag: VerifyGeneration,
		get: func(t *BlockTag) uint64 { return uint64(t.Generation) }, set: func(t *BlockTag, x uint64) { t.Generation = uint32(x) }},
	{Name: "Process ID", Offset: 84, Width: 4, Flag: VerifyProcessID,
		get: func(t *BlockTag) uint64 { return uint64(t.ProcessID) }, set: func(t *BlockTag, x uint64) { t.ProcessID = uint32(x) }},
	{Name: "Job ID", Offset: 88, Width: 4, Flag: VerifyJobID,
		get: func(t *BlockTag) uint64 { return uint64(t.JobID) }, set: func(t *BlockTag, x uint64) { t.JobID = uint32(x) }},
	{Name: "Thread Number", Offset: 92, Width: 4, Flag: VerifyThreadNumber,
		get: func(t *BlockTag) uint64 { return uint64(t.ThreadNumber) }, set: func(t *BlockTag, x uint64) { t.ThreadNumber = uint32(x) }},
	{Name: "Device Size", Offset: 96, Width: 4, Flag: VerifyDeviceSize,
		get: func(t *BlockTag) uint64 { return uint64(t.DeviceSize) }, set: func(t *BlockTag, x uint64) { t.DeviceSize = uint32(x) }},
	{Name: "Record Index", Offset: 100, Width: 4, Flag: VerifyRecordIndex,
		get: func(t *BlockTag) uint64 { return uint64(t.RecordIndex) }, set: func(t *BlockTag, x uint64) { t.RecordIndex = uint32(x) }},
	{Name: "Record Size", Offset: 104, Width: 4, Flag: VerifyRecordSize,
		get: func(t *BlockTag) uint64 { return uint64(t.RecordSize) }, set: func(t *BlockTag, x uint64) { t.RecordSize = uint32(x) }},
	{Name: "Record Number", Offset: 108, Width: 4, Flag: VerifyRecordNumber,
		get: func(t *BlockTag) uint64 { return uint64(t.RecordNumber) }, set: func(t *BlockTag, x uint64) { t.RecordNumber = uint32(x) }},
	{Name: "Step Offset", Offset: 112, Width: 8, Flag: VerifyStepOffset,
		get: func(t *BlockTag) uint64 { return t.StepOffset }, set: func(t *BlockTag, x uint64) { t.StepOffset = x }},
	{Name: "Opaque Data Type", Offset: 120, Width: 1, Flag: VerifyOpaqueDataType,
		get: func(t *BlockTag) uint64 { return uint64(t.OpaqueDataType) }, set: func(t *BlockTag, x uint64) { t.OpaqueDataType = OpaqueDataType(x) }},
	{Name: "Opaque Data Size", Offset: 122, Width: 2, Flag: VerifyOpaqueDataSize,
		get: func(t *BlockTag) uint64 { return uint64(t.OpaqueDataSize) }, set: func(t *BlockTag, x uint64) { t.OpaqueDataSize = uint16(x) }},
	{Name: "CRC-32", Offset: BtagCRCOffset, Width: 4, Flag: VerifyCRC32,
		get: func(t *BlockTag) uint64 { return uint64(t.CRC32) }, set: func(t *BlockTag, x uint64) { t.CRC32 = uint32(x) }},
}

// WriteOrderFields lists the write-order extension fields. Offsets are
// relative to the start of the extension (BlockTagSize on the wire).
var WriteOrderFields = []FieldDescriptor[WriteOrderExtension]{
	{Name: "Device Index", Offset: 0, Width: 1, Flag: VerifyWriteOrder,
		get: func(w *WriteOrderExtension) uint64 { return uint64(w.DeviceIndex) }, set: func(w *WriteOrderExtension, x uint64) { w.DeviceIndex = uint8(x) }},
	{Name: "Write Size", Offset: 4, Width: 4, Flag: VerifyWriteOrder,
		get: func(w *WriteOrderExtension) uint64 { return uint64(w.WriteSize) }, set: func(w *WriteOrderExtension, x uint64) { w.WriteSize = uint32(x) }},
	{Name: "Write Offset", Offset: 8, Width: 8, Kind: FieldKindInt, Flag: VerifyWriteOrder,
		get: func(w *WriteOrderExtension) uint64 { return uint64(w.WriteOffset) }, set: func(w *WriteOrderExtension, x uint64) { w.WriteOffset = int64(x) }},
	{Name: "Write Timestamp", Offset: 16, Width: 4, Flag: VerifyWriteOrder,
		get: func(w *WriteOrderExtension) uint64 { return uint64(w.WriteSecs) }, set: func(w *WriteOrderExtension, x uint64) { w.WriteSecs = uint32(x) }},
	{Name: "Write Timestamp (usecs)", Offset: 20, Width: 4, Flag: VerifyWriteOrder,
		get: func(w *WriteOrderExtension) uint64 { return uint64(w.WriteUsecs) }, set: func(w *WriteOrderExtension, x uint64) { w.WriteUsecs = uint32(x) }},
	{Name: "CRC-32", Offset: 24, Width: 4, Flag: VerifyWriteOrder,
		get: func(w *WriteOrderExtension) uint64 { return uint64(w.CRC32) }, set: func(w *WriteOrderExtension, x uint64) { w.CRC32 = uint32(x) }},
}

// FieldMismatch is one field that differs between an expected and a
// received block tag.
type FieldMismatch struct {
	Field    string `json:"field" yaml:"field"`
	Offset   int    `json:"offset" yaml:"offset"`
	Width    int    `json:"width" yaml:"width"`
	Expected string `json:"expected" yaml:"expected"`
	Received string `json:"received" yaml:"received"`

	// Device names resolved for device index mismatches
	ExpectedDevice string `json:"expected_device,omitempty" yaml:"expected_device,omitempty"`
	ReceivedDevice string `json:"received_device,omitempty" yaml:"received_device,omitempty"`
}

// String renders the mismatch as a single diff line
func (m FieldMismatch) String() string {
	s := fmt.Sprintf("%s (offset %d, %d bytes): expected %s, received %s",
		m.Field, m.Offset, m.Width, m.Expected, m.Received)
	if m.ExpectedDevice != "" || m.ReceivedDevice != "" {
		s += fmt.Sprintf(" [expected device %s, received device %s]",
			orUnknown(m.ExpectedDevice), orUnknown(m.ReceivedDevice))
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "<unknown>"
	}
	return s
}
