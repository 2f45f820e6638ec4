package btag

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-btag/internal/types"
)

// wireOrder is the byte order of block tags on disk, regardless of host.
var wireOrder = binary.LittleEndian

// DecodeBlockTag parses the block tag at the start of data. When the opaque
// flag is set the write-order extension is decoded as well.
func DecodeBlockTag(data []byte) (*types.BlockTag, error) {
	tag, err := DecodeBlockTagHeader(data)
	if err != nil {
		return nil, err
	}

	if err := ValidateOpaque(tag); err != nil {
		return nil, err
	}

	if tag.Flags.Has(types.BtagFlagOpaque) {
		wo, err := DecodeWriteOrder(data[types.BlockTagSize:])
		if err != nil {
			return nil, fmt.Errorf("failed to parse write order extension: %w", err)
		}
		tag.WriteOrder = wo
	}

	return tag, nil
}

// DecodeBlockTagHeader parses the fixed 128-byte tag and checks its
// signature. The opaque description is not validated and no extension is
// decoded.
func DecodeBlockTagHeader(data []byte) (*types.BlockTag, error) {
	if len(data) < types.BlockTagSize {
		return nil, fmt.Errorf("%w: %d bytes, need %d", types.ErrShortBuffer, len(data), types.BlockTagSize)
	}

	tag := &types.BlockTag{}
	for _, f := range types.BlockTagFields {
		field := data[f.Offset : f.Offset+f.Width]
		if f.Kind == types.FieldKindBytes {
			copy(f.Bytes(tag), field)
			continue
		}
		f.Set(tag, readUint(field))
	}

	if tag.Signature != types.BtagSignature {
		return nil, fmt.Errorf("%w: got 0x%08X, want 0x%08X", types.ErrBadSignature, tag.Signature, types.BtagSignature)
	}
	return tag, nil
}

// DecodeWriteOrder parses a write-order extension from the start of data
func DecodeWriteOrder(data []byte) (*types.WriteOrderExtension, error) {
	if len(data) < types.WriteOrderExtensionSize {
		return nil, fmt.Errorf("%w: %d bytes, need %d", types.ErrShortBuffer, len(data), types.WriteOrderExtensionSize)
	}

	wo := &types.WriteOrderExtension{}
	for _, f := range types.WriteOrderFields {
		f.Set(wo, readUint(data[f.Offset:f.Offset+f.Width]))
	}
	return wo, nil
}

// ValidateOpaque checks that a tag claiming an opaque trailer describes a
// write-order extension. A violation is structural corruption, not a data
// mismatch.
func ValidateOpaque(tag *types.BlockTag) error {
	if !tag.Flags.Has(types.BtagFlagOpaque) {
		return nil
	}
	if tag.OpaqueDataType != types.OpaqueWriteOrderType {
		return fmt.Errorf("%w: opaque data type %d, expected %d (%s)",
			types.ErrInvalidOpaqueData, uint8(tag.OpaqueDataType), uint8(types.OpaqueWriteOrderType), types.OpaqueWriteOrderType)
	}
	if tag.OpaqueDataSize != types.WriteOrderExtensionSize {
		return fmt.Errorf("%w: opaque data size %d, expected %d",
			types.ErrInvalidOpaqueData, tag.OpaqueDataSize, types.WriteOrderExtensionSize)
	}
	return nil
}

func readUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(wireOrder.Uint16(b))
	case 4:
		return uint64(wireOrder.Uint32(b))
	case 8:
		return wireOrder.Uint64(b)
	default:
		panic(fmt.Sprintf("btag: unsupported field width %d", len(b)))
	}
}
