package btag

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-btag/internal/types"
)

// createTestBlockTag returns a file-class tag with every field populated
func createTestBlockTag() *types.BlockTag {
	tag := &types.BlockTag{
		Signature:      types.BtagSignature,
		Version:        types.BtagVersion,
		PatternType:    types.PatternTypePattern | types.PatternTypeLBData,
		Flags:          types.BtagFlagFile | types.BtagFlagOpaque,
		WriteStart:     1700000000,
		WriteSecs:      1700000010,
		WriteUsecs:     123456,
		Pattern:        0x39c39c39,
		Generation:     3,
		ProcessID:      4242,
		JobID:          7,
		ThreadNumber:   2,
		DeviceSize:     512,
		RecordIndex:    1024,
		RecordSize:     4096,
		RecordNumber:   9,
		StepOffset:     65536,
		OpaqueDataType: types.OpaqueWriteOrderType,
		OpaqueDataSize: types.WriteOrderExtensionSize,
		CRC32:          0xDEADBEEF,
		WriteOrder: &types.WriteOrderExtension{
			DeviceIndex: 2,
			WriteSize:   4096,
			WriteOffset: 8192,
			WriteSecs:   1700000009,
			WriteUsecs:  999999,
			CRC32:       0x12345678,
		},
	}
	tag.SetOffset(1 << 33)
	tag.SetInode(0x0102030405060708)
	tag.SetSerial("SERIAL0123456789")
	tag.SetHostname("testhost.example.com")
	return tag
}

func TestDecodeBlockTag_RoundTrip(t *testing.T) {
	tag := createTestBlockTag()
	buf := make([]byte, 512)
	require.NoError(t, EncodeBlockTag(tag, buf))

	got, err := DecodeBlockTag(buf)
	require.NoError(t, err)
	assert.Equal(t, tag, got)
	assert.Equal(t, "SERIAL0123456789", got.SerialString())
	assert.Equal(t, "testhost.example.com", got.HostnameString())
}

func TestDecodeBlockTag_WithoutExtension(t *testing.T) {
	tag := createTestBlockTag()
	tag.Flags &^= types.BtagFlagOpaque
	tag.OpaqueDataType = types.OpaqueNoDataType
	tag.OpaqueDataSize = 0
	tag.WriteOrder = nil

	buf := make([]byte, types.BlockTagSize)
	require.NoError(t, EncodeBlockTag(tag, buf))

	got, err := DecodeBlockTag(buf)
	require.NoError(t, err)
	assert.Nil(t, got.WriteOrder)
	assert.False(t, got.HasWriteOrder())
}

func TestEncodeBlockTag_WireLayout(t *testing.T) {
	tag := createTestBlockTag()
	buf := make([]byte, 512)
	require.NoError(t, EncodeBlockTag(tag, buf))

	le := binary.LittleEndian
	assert.Equal(t, uint64(1<<33), le.Uint64(buf[0:8]))
	assert.Equal(t, uint64(0x0102030405060708), le.Uint64(buf[8:16]))
	assert.Equal(t, "SERIAL0123456789", string(buf[16:32]))
	assert.Equal(t, []byte{0xEE, 0xAF, 0xDC, 0xBA}, buf[56:60], "signature is little-endian")
	assert.Equal(t, byte(types.BtagVersion), buf[60])
	assert.Equal(t, uint16(types.BtagFlagFile|types.BtagFlagOpaque), le.Uint16(buf[62:64]))
	assert.Equal(t, uint32(1700000010), le.Uint32(buf[68:72]))
	assert.Equal(t, uint32(4096), le.Uint32(buf[104:108]))
	assert.Equal(t, uint64(65536), le.Uint64(buf[112:120]))
	assert.Equal(t, byte(types.OpaqueWriteOrderType), buf[120])
	assert.Equal(t, byte(0), buf[121], "reserved byte")
	assert.Equal(t, uint16(28), le.Uint16(buf[122:124]))
	assert.Equal(t, uint32(0xDEADBEEF), le.Uint32(buf[124:128]))

	// Extension
	assert.Equal(t, byte(2), buf[128])
	assert.Equal(t, []byte{0, 0, 0}, buf[129:132], "extension padding")
	assert.Equal(t, uint32(4096), le.Uint32(buf[132:136]))
	assert.Equal(t, uint64(8192), le.Uint64(buf[136:144]))
	assert.Equal(t, uint32(1700000009), le.Uint32(buf[144:148]))
	assert.Equal(t, uint32(999999), le.Uint32(buf[148:152]))
	assert.Equal(t, uint32(0x12345678), le.Uint32(buf[152:156]))
}

func TestEncodeBlockTag_ClearsStaleBytes(t *testing.T) {
	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = 0xA5
	}
	tag := createTestBlockTag()
	tag.SetHostname("h")
	require.NoError(t, EncodeBlockTag(tag, buf))

	assert.Equal(t, byte(0), buf[33], "hostname tail")
	assert.Equal(t, byte(0), buf[121], "reserved byte")
	assert.Equal(t, byte(0xA5), buf[types.BlockTagWithWriteOrderSize], "data after the extension is untouched")
}

func TestDecodeBlockTag_Errors(t *testing.T) {
	valid := make([]byte, 512)
	require.NoError(t, EncodeBlockTag(createTestBlockTag(), valid))

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{
			name:    "short buffer",
			mutate:  func(b []byte) []byte { return b[:100] },
			wantErr: types.ErrShortBuffer,
		},
		{
			name: "bad signature",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[56:60], 0xCAFEBABE)
				return b
			},
			wantErr: types.ErrBadSignature,
		},
		{
			name: "wrong opaque type",
			mutate: func(b []byte) []byte {
				b[120] = 5
				return b
			},
			wantErr: types.ErrInvalidOpaqueData,
		},
		{
			name: "wrong opaque size",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint16(b[122:124], 32)
				return b
			},
			wantErr: types.ErrInvalidOpaqueData,
		},
		{
			name:    "extension truncated",
			mutate:  func(b []byte) []byte { return b[:140] },
			wantErr: types.ErrShortBuffer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := append([]byte(nil), valid...)
			_, err := DecodeBlockTag(tt.mutate(buf))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestDecodeBlockTagHeader_SkipsOpaqueValidation(t *testing.T) {
	buf := make([]byte, 512)
	require.NoError(t, EncodeBlockTag(createTestBlockTag(), buf))
	buf[120] = 9

	tag, err := DecodeBlockTagHeader(buf)
	require.NoError(t, err)
	assert.Nil(t, tag.WriteOrder)
	assert.ErrorIs(t, ValidateOpaque(tag), types.ErrInvalidOpaqueData)
}

func TestValidateOpaque_NoFlag(t *testing.T) {
	tag := &types.BlockTag{OpaqueDataType: 9, OpaqueDataSize: 3}
	assert.NoError(t, ValidateOpaque(tag))
}

func TestPutCRC32(t *testing.T) {
	buf := make([]byte, types.BlockTagSize)
	PutCRC32(buf, 0xCAFEF00D)
	assert.Equal(t, uint32(0xCAFEF00D), CRC32(buf))
	assert.Equal(t, []byte{0x0D, 0xF0, 0xFE, 0xCA}, buf[124:128])
}
