package dump

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/deploymenttheory/go-btag/internal/parsers/btag"
	"github.com/deploymenttheory/go-btag/internal/types"
	"github.com/deploymenttheory/go-btag/pkg/app"
	"github.com/deploymenttheory/go-btag/pkg/checksum"
)

// Handle decodes the block tags of a file
func Handle(ctx *app.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	blockSize, _ := ParseBlockSize(req.BlockSize)
	class, _ := types.ParseDeviceClass(req.Class)

	fs := req.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	file, err := fs.OpenFile(req.Path, os.O_RDONLY, 0)
	if err != nil {
		return nil, app.NewError(app.ErrCodeDeviceAccess, "failed to open file", err)
	}
	defer file.Close()

	ctx.Log(fmt.Sprintf("Dumping block tags from %s (block size %d)", req.Path, blockSize))

	response := &Response{
		Path:      req.Path,
		BlockSize: blockSize,
		Class:     class.String(),
	}

	buf := make([]byte, blockSize)
	for block := req.Start; req.Count == 0 || block < req.Start+req.Count; block++ {
		if err := ctx.Err(); err != nil {
			return response, app.NewError(app.ErrCodeCancelled, "dump cancelled", err)
		}

		offset := block * int64(blockSize)
		n, err := file.ReadAt(buf, offset)
		if n < len(buf) {
			if err == nil || errors.Is(err, io.EOF) {
				break
			}
			return response, app.NewError(app.ErrCodeDeviceAccess, fmt.Sprintf("failed to read block %d", block), err)
		}

		tag, err := btag.DecodeBlockTag(buf)
		if err != nil {
			response.Invalid++
			response.Tags = append(response.Tags, TagRecord{Block: block, Offset: offset, Error: err.Error()})
			continue
		}

		crcValid := checksum.VerifyBlock(buf) == nil
		if !crcValid {
			response.CRCErrors++
		}
		response.Tags = append(response.Tags, newTagRecord(block, offset, tag, class, crcValid))
	}

	ctx.Log(fmt.Sprintf("Decoded %d block(s), %d invalid, %d CRC error(s)", len(response.Tags), response.Invalid, response.CRCErrors))
	return response, nil
}
