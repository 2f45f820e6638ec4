package exercise

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/deploymenttheory/go-btag/internal/device"
	"github.com/deploymenttheory/go-btag/internal/interfaces"
	"github.com/deploymenttheory/go-btag/internal/parsers/btag"
	"github.com/deploymenttheory/go-btag/internal/services"
	"github.com/deploymenttheory/go-btag/internal/types"
	"github.com/deploymenttheory/go-btag/pkg/checksum"
)

// basePattern is XORed with the pass number to get each pass's fill pattern
const basePattern uint32 = 0x39c39c39

// unpredictableFields are only known at write time, so a reread cannot
// build an expected value for them. The block CRC is checked separately.
const unpredictableFields = types.VerifyWriteSecs | types.VerifyWriteUsecs | types.VerifyCRC32

// StreamConfig configures one stream of the exercise
type StreamConfig struct {
	Index          int
	Dir            string
	Devices        int
	Records        int
	BlockSize      uint32
	RecordBlocks   int
	Class          types.DeviceClass
	Flags          types.VerifyFlags
	ReadAfterWrite bool
	Hostname       string
	JobID          uint32
	HistorySize    int

	Trigger     interfaces.TriggerRunner
	Diagnostics io.Writer
	Fs          afero.Fs
	Logger      zerolog.Logger
}

// Stream owns a set of output devices and the hooks that stamp and verify
// them. A Stream is driven by exactly one goroutine.
type Stream struct {
	cfg      StreamConfig
	devices  []*device.FileDevice
	table    *device.Table
	hooks    *services.BtagHooks
	history  *History
	template services.BlockTagTemplate
	buf      []byte
	pass     int
	result   StreamResult
}

// NewStream creates the stream's device files and wires its hooks
func NewStream(cfg StreamConfig) (*Stream, error) {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if err := cfg.Fs.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create device directory: %w", err)
	}

	recordSize := int64(cfg.BlockSize) * int64(cfg.RecordBlocks)
	s := &Stream{
		cfg:     cfg,
		table:   device.NewTable(nil, nil),
		history: NewHistory(cfg.HistorySize),
		buf:     make([]byte, recordSize),
		result:  StreamResult{Stream: cfg.Index},
		template: services.BlockTagTemplate{
			Hostname:     cfg.Hostname,
			PatternType:  types.PatternTypePattern,
			Flags:        types.BtagFlagOpaque,
			ProcessID:    uint32(os.Getpid()),
			JobID:        cfg.JobID,
			ThreadNumber: uint32(cfg.Index + 1),
		},
	}

	for i := 0; i < cfg.Devices; i++ {
		path := filepath.Join(cfg.Dir, fmt.Sprintf("stream%02d-dev%03d.dat", cfg.Index, i))
		dev, err := device.OpenFileDevice(cfg.Fs, path, device.DeviceOptions{
			Class:     cfg.Class,
			BlockSize: cfg.BlockSize,
			Size:      recordSize * int64(cfg.Records),
			Create:    true,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.devices = append(s.devices, dev)
		s.table.AddOutput(dev)
		s.table.AddInput(dev)
		s.result.Devices = append(s.result.Devices, path)
	}

	reporter := services.NewDiagnosticReporter(cfg.Diagnostics, cfg.Logger)
	reporter.History = s.history
	reporter.Trigger = cfg.Trigger

	hooks, err := services.NewBtagHooks(s.table, cfg.Devices, services.VerifyOptions{}, reporter, cfg.Logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.hooks = hooks
	return s, nil
}

// Devices returns the stream's devices in device index order
func (s *Stream) Devices() []*device.FileDevice {
	return s.devices
}

// RecordSize returns the size of one write in bytes
func (s *Stream) RecordSize() uint32 {
	return s.cfg.BlockSize * uint32(s.cfg.RecordBlocks)
}

// Result returns the stream counters
func (s *Stream) Result() StreamResult {
	return s.result
}

// Run executes passes write passes, each followed by a read pass
func (s *Stream) Run(ctx context.Context, passes int) error {
	for p := 0; p < passes; p++ {
		if err := s.WritePass(ctx); err != nil {
			return err
		}
		if err := s.ReadPass(ctx); err != nil {
			return err
		}
	}
	return nil
}

// WritePass writes every record of every device, round-robin across
// devices, stamping each block with the previous write.
func (s *Stream) WritePass(ctx context.Context) error {
	s.pass++
	s.result.Passes = s.pass
	if err := s.hooks.StartPass(len(s.devices)); err != nil {
		return err
	}
	s.hooks.Options = services.VerifyOptions{
		Direction:      types.IODirectionWrite,
		ReadAfterWrite: s.cfg.ReadAfterWrite,
		Flags:          types.VerifyAll,
	}

	s.template.WriteStart = uint32(time.Now().Unix())
	s.template.Generation = uint32(s.pass)
	s.template.Pattern = basePattern ^ uint32(s.pass)

	recordSize := s.RecordSize()
	bs := int(s.cfg.BlockSize)
	tags := make([]*types.BlockTag, s.cfg.RecordBlocks)

	for r := 0; r < s.cfg.Records; r++ {
		for d, dev := range s.devices {
			if err := ctx.Err(); err != nil {
				return err
			}

			offset := int64(r) * int64(recordSize)
			now := time.Now()
			for i := range tags {
				block := s.buf[i*bs : (i+1)*bs]
				fillPattern(block[types.BlockTagWithWriteOrderSize:], s.template.Pattern)
				tags[i] = s.template.Build(dev, offset+int64(i*bs), recordSize, uint32(i*bs), uint32(r+1), now)
				if _, err := s.hooks.StampBeforeWrite(block, tags[i]); err != nil {
					return err
				}
			}

			if _, err := dev.WriteAt(s.buf, offset); err != nil {
				return fmt.Errorf("write to %s at offset %d failed: %w", dev.Name(), offset, err)
			}
			s.result.Writes++
			s.result.BytesWritten += uint64(recordSize)

			first := tags[0]
			location := first.Offset()
			if dev.Class() == types.DeviceClassDisk {
				location = first.LBA()
			}
			s.hooks.RecordAfterWrite(types.WriteRecord{
				DeviceIndex: uint8(d),
				Class:       dev.Class(),
				BlockSize:   dev.BlockSize(),
				Location:    location,
				Size:        recordSize,
				WriteSecs:   first.WriteSecs,
				WriteUsecs:  first.WriteUsecs,
				CRC32:       first.CRC32,
			})
			s.history.Add(HistoryEntry{
				Direction:  types.IODirectionWrite,
				Device:     dev.Name(),
				Offset:     offset,
				Size:       recordSize,
				WriteSecs:  first.WriteSecs,
				WriteUsecs: first.WriteUsecs,
				CRC32:      first.CRC32,
			})

			if s.cfg.ReadAfterWrite {
				expected := make([]*types.BlockTag, len(tags))
				for i, t := range tags {
					expected[i] = t.Clone()
				}
				if err := s.verifyRecord(ctx, dev, offset, expected); err != nil {
					return err
				}
			}
		}
	}

	for _, dev := range s.devices {
		if err := dev.Sync(); err != nil {
			return fmt.Errorf("failed to sync %s: %w", dev.Name(), err)
		}
	}
	s.cfg.Logger.Debug().Int("pass", s.pass).Int64("writes", s.result.Writes).Msg("write pass complete")
	return nil
}

// ReadPass re-reads every record written in the last write pass and runs
// the opaque, field, CRC and write-order checks on it.
func (s *Stream) ReadPass(ctx context.Context) error {
	flags := s.cfg.Flags
	if flags == 0 {
		flags = types.VerifyAll
	}
	flags &^= unpredictableFields
	s.hooks.Options = services.VerifyOptions{
		Direction:      types.IODirectionRead,
		ReadAfterWrite: s.cfg.ReadAfterWrite,
		RereadPass:     true,
		InputOnly:      flags == 0,
		Flags:          flags,
	}

	recordSize := s.RecordSize()
	bs := int(s.cfg.BlockSize)
	expected := make([]*types.BlockTag, s.cfg.RecordBlocks)

	for r := 0; r < s.cfg.Records; r++ {
		for _, dev := range s.devices {
			if err := ctx.Err(); err != nil {
				return err
			}
			offset := int64(r) * int64(recordSize)
			for i := range expected {
				expected[i] = s.template.Build(dev, offset+int64(i*bs), recordSize, uint32(i*bs), uint32(r+1), time.Time{})
			}
			if err := s.verifyRecord(ctx, dev, offset, expected); err != nil {
				return err
			}
		}
	}
	s.cfg.Logger.Debug().Int("pass", s.pass).Int64("reads", s.result.Reads).Int("errors", s.result.Errors).Msg("read pass complete")
	return nil
}

// verifyRecord reads one record back and verifies each of its blocks.
// Only I/O failures are returned; verification failures are counted.
func (s *Stream) verifyRecord(ctx context.Context, dev *device.FileDevice, offset int64, expected []*types.BlockTag) error {
	recordSize := s.RecordSize()
	bs := int(s.cfg.BlockSize)

	n, err := dev.ReadAt(s.buf, offset)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(s.buf)) {
		return fmt.Errorf("read from %s at offset %d failed: %w", dev.Name(), offset, err)
	}
	s.result.Reads++
	s.result.BytesRead += uint64(recordSize)

	var first *types.BlockTag
	for i := range expected {
		block := s.buf[i*bs : (i+1)*bs]

		header, err := btag.DecodeBlockTagHeader(block)
		if err != nil {
			s.countError(err, dev, offset+int64(i*bs), "invalid block tag")
			continue
		}
		if err := s.hooks.VerifyOpaqueType(header); err != nil {
			s.countError(err, dev, offset+int64(i*bs), "invalid opaque data")
			continue
		}
		received, err := btag.DecodeBlockTag(block)
		if err != nil {
			s.countError(err, dev, offset+int64(i*bs), "invalid block tag")
			continue
		}
		if err := checksum.VerifyBlock(block); err != nil {
			s.countError(err, dev, offset+int64(i*bs), "block CRC error")
			continue
		}
		if s.hooks.VerifyFields(ctx, expected[i], received) > 0 {
			s.result.Errors++
		}
		if i == 0 {
			first = received
		}
	}

	s.history.Add(HistoryEntry{Direction: types.IODirectionRead, Device: dev.Name(), Offset: offset, Size: recordSize})

	// Every block of a record carries the same extension, so one check covers the write
	if first == nil {
		return nil
	}
	result := s.hooks.VerifyWriteOrder(ctx, first, recordSize)
	switch result.Status {
	case types.WriteOrderSuccess:
		if first.WriteOrder != nil && !first.WriteOrder.IsUnset() {
			s.result.Verified++
		}
	case types.WriteOrderWarning:
		s.result.Warnings++
	case types.WriteOrderFailure:
		s.result.Errors++
	}
	return nil
}

func (s *Stream) countError(err error, dev *device.FileDevice, offset int64, msg string) {
	s.result.Errors++
	s.cfg.Logger.Error().Err(err).Str("device", dev.Name()).Int64("offset", offset).Msg(msg)
}

// Close closes every device of the stream
func (s *Stream) Close() error {
	return s.table.Close()
}

// fillPattern fills buf with the 32-bit pattern in wire byte order
func fillPattern(buf []byte, pattern uint32) {
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], pattern)
	for i := range buf {
		buf[i] = word[i%4]
	}
}
