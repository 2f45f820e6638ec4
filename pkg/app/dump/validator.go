package dump

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/deploymenttheory/go-btag/internal/types"
	"github.com/deploymenttheory/go-btag/pkg/app"
)

// Validate validates a dump request
func (r *Request) Validate() error {
	if r.Path == "" {
		return app.NewError(app.ErrCodeInvalidInput, "file path is required", nil)
	}

	if _, err := ParseBlockSize(r.BlockSize); err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid block size", err)
	}

	if _, err := types.ParseDeviceClass(r.Class); err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid device class", err)
	}

	if r.Start < 0 {
		return app.NewError(app.ErrCodeInvalidInput, "start block must not be negative", nil)
	}
	if r.Count < 0 {
		return app.NewError(app.ErrCodeInvalidInput, "block count must not be negative", nil)
	}

	return nil
}

// ParseBlockSize converts a size string like "4096" or "4KiB" into bytes
// and checks that a block can hold a tag with its extension.
func ParseBlockSize(size string) (uint32, error) {
	if size == "" {
		return 0, fmt.Errorf("empty block size")
	}
	n, err := humanize.ParseBytes(size)
	if err != nil {
		return 0, err
	}
	if n < types.BlockTagWithWriteOrderSize {
		return 0, fmt.Errorf("block size %d is smaller than a block tag (%d bytes)", n, types.BlockTagWithWriteOrderSize)
	}
	if n > 1<<30 {
		return 0, fmt.Errorf("block size %s is too large", humanize.IBytes(n))
	}
	return uint32(n), nil
}
