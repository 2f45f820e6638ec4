package btag

import (
	"fmt"

	"github.com/deploymenttheory/go-btag/internal/types"
)

// EncodeBlockTag serializes tag into the start of data. The extension is
// written when tag.WriteOrder is set. Reserved bytes are zeroed.
func EncodeBlockTag(tag *types.BlockTag, data []byte) error {
	size := tag.EncodedSize()
	if len(data) < size {
		return fmt.Errorf("%w: %d bytes, need %d", types.ErrShortBuffer, len(data), size)
	}

	clear(data[:types.BlockTagSize])
	for _, f := range types.BlockTagFields {
		field := data[f.Offset : f.Offset+f.Width]
		if f.Kind == types.FieldKindBytes {
			copy(field, f.Bytes(tag))
			continue
		}
		writeUint(field, f.Get(tag))
	}

	if tag.WriteOrder != nil {
		return EncodeWriteOrder(tag.WriteOrder, data[types.BlockTagSize:])
	}
	return nil
}

// EncodeWriteOrder serializes an extension into the start of data
func EncodeWriteOrder(wo *types.WriteOrderExtension, data []byte) error {
	if len(data) < types.WriteOrderExtensionSize {
		return fmt.Errorf("%w: %d bytes, need %d", types.ErrShortBuffer, len(data), types.WriteOrderExtensionSize)
	}

	clear(data[:types.WriteOrderExtensionSize])
	for _, f := range types.WriteOrderFields {
		writeUint(data[f.Offset:f.Offset+f.Width], f.Get(wo))
	}
	return nil
}

// PutCRC32 stores crc into the checksum field of an encoded tag
func PutCRC32(data []byte, crc uint32) {
	wireOrder.PutUint32(data[types.BtagCRCOffset:types.BtagCRCOffset+4], crc)
}

// CRC32 reads the checksum field of an encoded tag
func CRC32(data []byte) uint32 {
	return wireOrder.Uint32(data[types.BtagCRCOffset : types.BtagCRCOffset+4])
}

func writeUint(b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		wireOrder.PutUint16(b, uint16(v))
	case 4:
		wireOrder.PutUint32(b, uint32(v))
	case 8:
		wireOrder.PutUint64(b, v)
	default:
		panic(fmt.Sprintf("btag: unsupported field width %d", len(b)))
	}
}
