package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/deploymenttheory/go-btag/internal/interfaces"
	"github.com/deploymenttheory/go-btag/internal/parsers/btag"
	"github.com/deploymenttheory/go-btag/internal/types"
	"github.com/deploymenttheory/go-btag/pkg/checksum"
)

// WriteOrderVerifier checks that the write referenced by a block's
// extension exists on its device and happened no later than the block.
// It keeps a scratch buffer between calls and must not be shared between
// threads.
type WriteOrderVerifier struct {
	Devices interfaces.DeviceResolver

	// VerifyBuffer runs the whole-buffer CRC pass over the re-read data.
	// Nil uses checksum.VerifyBuffer.
	VerifyBuffer interfaces.BufferVerifier

	Logger zerolog.Logger

	scratch []byte
}

// NewWriteOrderVerifier creates a verifier resolving indexes through devices
func NewWriteOrderVerifier(devices interfaces.DeviceResolver, logger zerolog.Logger) *WriteOrderVerifier {
	return &WriteOrderVerifier{
		Devices:      devices,
		VerifyBuffer: checksum.VerifyBuffer,
		Logger:       logger,
	}
}

// VerifyWriteOrder runs the causality check for current, the tag of a block
// that was just read. transferSize is the size of the read that produced it.
func (v *WriteOrderVerifier) VerifyWriteOrder(ctx context.Context, opts VerifyOptions, current *types.BlockTag, transferSize uint32) types.WriteOrderResult {
	if current == nil || !current.HasWriteOrder() || current.WriteOrder.IsUnset() {
		return types.WriteOrderResult{Status: types.WriteOrderSuccess, DeviceIndex: types.DeviceIndexUnset}
	}
	wo := *current.WriteOrder

	result := types.WriteOrderResult{DeviceIndex: wo.DeviceIndex}

	dev, ok := v.resolve(opts.Direction, wo.DeviceIndex)
	if !ok {
		// Device context is torn down during cleanup, so this is not corruption
		result.Status = types.WriteOrderWarning
		result.Reason = types.ReasonDeviceUnresolved
		result.Message = fmt.Sprintf("unable to resolve %s device index %d", opts.Direction, wo.DeviceIndex)
		v.Logger.Warn().Uint8("device_index", wo.DeviceIndex).Str("direction", opts.Direction.String()).
			Msg("write order device not found, skipping verification")
		return result
	}
	result.Device = dev.Name()

	if err := ctx.Err(); err != nil {
		result.Status = types.WriteOrderWarning
		result.Reason = types.ReasonReadError
		result.Err = err
		result.Message = "verification cancelled"
		return result
	}

	if wo.WriteSize == 0 || wo.WriteOffset < 0 {
		return v.fail(result, types.ReasonFieldMismatch, nil, wo.WriteOffset,
			fmt.Sprintf("invalid previous write for device %s: offset %d, size %d", dev.Name(), wo.WriteOffset, wo.WriteSize))
	}

	buf := v.scratchBuffer(int(wo.WriteSize))
	n, err := dev.ReadAt(buf, wo.WriteOffset)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		result.Err = err
		return v.fail(result, types.ReasonReadError, nil, wo.WriteOffset,
			fmt.Sprintf("failed to re-read %d bytes at offset %d from device %s: %v", len(buf), wo.WriteOffset, dev.Name(), err))
	}

	dsize := dev.BlockSize()
	if dsize == 0 {
		dsize = uint32(len(buf))
	}

	verifyBuffer := v.VerifyBuffer
	if verifyBuffer == nil {
		verifyBuffer = checksum.VerifyBuffer
	}
	if err := verifyBuffer(buf, dsize); err != nil {
		result.Err = err
		errOffset := wo.WriteOffset
		var crcErr *checksum.CRCError
		if errors.As(err, &crcErr) {
			errOffset += int64(crcErr.BufferOffset)
		}
		return v.fail(result, types.ReasonCRCError, nil, errOffset,
			fmt.Sprintf("CRC error for device %s at offset %d", dev.Name(), errOffset))
	}

	return v.verifySubBlocks(result, dev, current, wo, buf, dsize, transferSize)
}

// verifySubBlocks checks each device block covered by the previous write.
// Exact timestamp and CRC only apply to the first block; every block must
// have been written no later than current.
func (v *WriteOrderVerifier) verifySubBlocks(result types.WriteOrderResult, dev interfaces.Device, current *types.BlockTag,
	wo types.WriteOrderExtension, buf []byte, dsize uint32, transferSize uint32) types.WriteOrderResult {

	expectOffset := wo.WriteOffset
	remaining := int64(wo.WriteSize)

	for off := 0; remaining > 0 && off < len(buf); off += int(dsize) {
		end := off + int(dsize)
		if end > len(buf) {
			end = len(buf)
		}

		tag, err := btag.DecodeBlockTag(buf[off:end])
		if err != nil {
			result.Err = err
			return v.fail(result, types.ReasonDecodeError, nil, expectOffset,
				fmt.Sprintf("invalid block tag on device %s at offset %d: %v", dev.Name(), expectOffset, err))
		}
		if off == 0 {
			result.PreviousTag = tag
		}

		var mismatches []types.FieldMismatch
		if got := tag.ByteOffset(dev.Class(), dsize); got != expectOffset {
			mismatches = append(mismatches, extMismatch(2, fmt.Sprintf("%d", expectOffset), fmt.Sprintf("%d", got)))
		}
		if tag.RecordSize != wo.WriteSize {
			mismatches = append(mismatches, extMismatch(1, fmt.Sprintf("%d", wo.WriteSize), fmt.Sprintf("%d", tag.RecordSize)))
		}
		if off == 0 {
			if tag.WriteSecs != wo.WriteSecs {
				mismatches = append(mismatches, extMismatch(3, fmt.Sprintf("%d", wo.WriteSecs), fmt.Sprintf("%d", tag.WriteSecs)))
			}
			if tag.WriteUsecs != wo.WriteUsecs {
				mismatches = append(mismatches, extMismatch(4, fmt.Sprintf("%d", wo.WriteUsecs), fmt.Sprintf("%d", tag.WriteUsecs)))
			}
			if tag.CRC32 != wo.CRC32 {
				mismatches = append(mismatches, extMismatch(5, fmt.Sprintf("0x%08x", wo.CRC32), fmt.Sprintf("0x%08x", tag.CRC32)))
			}
		}
		if len(mismatches) > 0 {
			result.Mismatches = mismatches
			return v.fail(result, types.ReasonFieldMismatch, tag, expectOffset,
				fmt.Sprintf("previous write mismatch on device %s at offset %d", dev.Name(), expectOffset))
		}

		if types.WriteTimeAfter(tag.WriteSecs, tag.WriteUsecs, current.WriteSecs, current.WriteUsecs) {
			result.Mismatches = []types.FieldMismatch{{
				Field:    "Write Timestamp",
				Offset:   68,
				Width:    8,
				Expected: fmt.Sprintf("<= %d.%06d", current.WriteSecs, current.WriteUsecs),
				Received: fmt.Sprintf("%d.%06d", tag.WriteSecs, tag.WriteUsecs),
			}}
			return v.fail(result, types.ReasonOrderingViolation, tag, expectOffset,
				fmt.Sprintf("previous write on device %s at offset %d is newer than the current block", dev.Name(), expectOffset))
		}

		expectOffset += int64(dsize)
		remaining -= int64(dsize)
	}

	result.Status = types.WriteOrderSuccess
	v.Logger.Debug().Str("device", dev.Name()).Int64("offset", wo.WriteOffset).Uint32("size", wo.WriteSize).
		Uint32("transfer_size", transferSize).Msg("write order verified")
	return result
}

func (v *WriteOrderVerifier) fail(result types.WriteOrderResult, reason types.WriteOrderReason, tag *types.BlockTag, offset int64, msg string) types.WriteOrderResult {
	result.Status = types.WriteOrderFailure
	result.Reason = reason
	result.ErrorTag = tag
	result.ErrorOffset = offset
	result.Message = msg
	v.Logger.Error().Str("device", result.Device).Int64("offset", offset).Str("reason", reason.String()).Msg(msg)
	return result
}

func (v *WriteOrderVerifier) resolve(dir types.IODirection, index uint8) (interfaces.Device, bool) {
	if v.Devices == nil {
		return nil, false
	}
	return v.Devices.Resolve(dir, index)
}

// scratchBuffer returns a buffer of size bytes, growing the retained buffer
// when needed.
func (v *WriteOrderVerifier) scratchBuffer(size int) []byte {
	if cap(v.scratch) < size {
		v.scratch = make([]byte, size)
	}
	return v.scratch[:size]
}

func extMismatch(field int, expected, received string) types.FieldMismatch {
	f := types.WriteOrderFields[field]
	return types.FieldMismatch{
		Field:    "Write Order " + f.Name,
		Offset:   types.BlockTagSize + f.Offset,
		Width:    f.Width,
		Expected: expected,
		Received: received,
	}
}
