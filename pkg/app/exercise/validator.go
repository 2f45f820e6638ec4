package exercise

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"

	"github.com/deploymenttheory/go-btag/internal/types"
	"github.com/deploymenttheory/go-btag/pkg/app"
	"github.com/deploymenttheory/go-btag/pkg/app/dump"
)

// Validate validates an exercise request
func (r *Request) Validate() error {
	if r.Dir == "" {
		return app.NewError(app.ErrCodeInvalidInput, "device directory is required", nil)
	}

	if r.Devices < 1 || r.Devices > types.MaxDeviceCount {
		return app.NewError(app.ErrCodeInvalidInput, "devices must be between 1 and 255", nil)
	}

	if r.Records < 1 {
		return app.NewError(app.ErrCodeInvalidInput, "records must be at least 1", nil)
	}

	if r.RecordBlocks < 1 {
		return app.NewError(app.ErrCodeInvalidInput, "record blocks must be at least 1", nil)
	}

	if r.Streams < 1 || r.Streams > 64 {
		return app.NewError(app.ErrCodeInvalidInput, "streams must be between 1 and 64", nil)
	}

	if r.Passes < 1 {
		return app.NewError(app.ErrCodeInvalidInput, "passes must be at least 1", nil)
	}

	blockSize, err := dump.ParseBlockSize(r.BlockSize)
	if err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid block size", err)
	}

	// Block tags carry the record size in 32 bits
	if recordSize := uint64(blockSize) * uint64(r.RecordBlocks); recordSize > math.MaxUint32 {
		return app.NewError(app.ErrCodeInvalidInput,
			fmt.Sprintf("record size %s exceeds %s", humanize.IBytes(recordSize), humanize.IBytes(math.MaxUint32)), nil)
	}

	if _, err := types.ParseDeviceClass(r.Class); err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid device class", err)
	}

	if _, err := types.ParseVerifyFlags(r.VerifyFlags); err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid verify flags", err)
	}

	if r.HistorySize < 0 {
		return app.NewError(app.ErrCodeInvalidInput, "history size must not be negative", nil)
	}

	return nil
}
