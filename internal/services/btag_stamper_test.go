package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-btag/internal/parsers/btag"
	"github.com/deploymenttheory/go-btag/internal/types"
	"github.com/deploymenttheory/go-btag/pkg/checksum"
)

func TestStamp_EmptyLogStampsSentinel(t *testing.T) {
	log := newTestLog(t, 2)
	tag := &types.BlockTag{}

	NewBtagStamper().Stamp(tag, log)

	require.NotNil(t, tag.WriteOrder)
	assert.True(t, tag.WriteOrder.IsUnset())
	assert.True(t, tag.Flags.Has(types.BtagFlagOpaque))
	assert.Equal(t, types.OpaqueWriteOrderType, tag.OpaqueDataType)
	assert.Equal(t, uint16(types.WriteOrderExtensionSize), tag.OpaqueDataSize)
}

func TestStamp_CopiesLastWrite(t *testing.T) {
	log := newTestLog(t, 2)
	log.Record(types.WriteRecord{DeviceIndex: 1, Class: types.DeviceClassFile, Location: 8192, Size: 4096, WriteSecs: 7, CRC32: 0xFEED})
	tag := &types.BlockTag{}

	NewBtagStamper().Stamp(tag, log)
	assert.Equal(t, types.WriteOrderExtension{DeviceIndex: 1, WriteSize: 4096, WriteOffset: 8192, WriteSecs: 7, CRC32: 0xFEED}, *tag.WriteOrder)

	// The stamped value is a copy
	log.Record(types.WriteRecord{DeviceIndex: 0, Location: 0, Size: 512})
	assert.Equal(t, uint8(1), tag.WriteOrder.DeviceIndex)
}

func TestStampBlock_CRCCoversExtension(t *testing.T) {
	td := createTestDevices(t, 1, types.DeviceClassFile, 512)
	log := newTestLog(t, 1)
	log.Record(types.WriteRecord{DeviceIndex: 0, Class: types.DeviceClassFile, Location: 0, Size: 512, WriteSecs: 1})

	tmpl := testTemplate()
	tag := tmpl.Build(td.devs[0], 512, 512, 0, 2, time.Unix(2, 0))
	block := make([]byte, 512)

	crc, err := NewBtagStamper().StampBlock(block, tag, log)
	require.NoError(t, err)
	assert.Equal(t, crc, tag.CRC32)
	assert.Equal(t, crc, btag.CRC32(block))
	require.NoError(t, checksum.VerifyBlock(block))

	decoded, err := btag.DecodeBlockTag(block)
	require.NoError(t, err)
	assert.Equal(t, tag, decoded)

	block[types.BlockTagSize+8] ^= 0x01
	assert.Error(t, checksum.VerifyBlock(block), "extension bytes are covered by the CRC")
}

func TestStampBlock_ShortBlock(t *testing.T) {
	_, err := NewBtagStamper().StampBlock(make([]byte, 130), &types.BlockTag{}, newTestLog(t, 1))
	assert.ErrorIs(t, err, types.ErrShortBuffer)
}

func TestBlockTagTemplate_Build(t *testing.T) {
	now := time.Unix(1700000000, 123456789)

	t.Run("file", func(t *testing.T) {
		td := createTestDevices(t, 1, types.DeviceClassFile, 512)
		dev := td.devs[0]
		tmpl := testTemplate()
		tag := tmpl.Build(dev, 2048, 1024, 512, 4, now)

		assert.Equal(t, types.BtagSignature, tag.Signature)
		assert.Equal(t, types.BtagVersion, tag.Version)
		assert.Equal(t, types.DeviceClassFile, tag.Class())
		assert.Equal(t, uint64(2048), tag.Offset())
		assert.Equal(t, dev.Identity(), tag.Inode())
		assert.Equal(t, dev.Serial(), tag.SerialString())
		assert.Equal(t, "testhost", tag.HostnameString())
		assert.Equal(t, uint32(1700000000), tag.WriteSecs)
		assert.Equal(t, uint32(123456), tag.WriteUsecs)
		assert.Equal(t, uint32(512), tag.DeviceSize)
		assert.Equal(t, uint32(1024), tag.RecordSize)
		assert.Equal(t, uint32(512), tag.RecordIndex)
		assert.Equal(t, uint32(4), tag.RecordNumber)
		assert.Equal(t, types.OpaqueWriteOrderType, tag.OpaqueDataType)
		assert.Nil(t, tag.WriteOrder, "the extension is filled in when stamped")
	})

	t.Run("disk", func(t *testing.T) {
		td := createTestDevices(t, 1, types.DeviceClassDisk, 512)
		dev := td.devs[0]
		tmpl := testTemplate()
		tmpl.Flags |= types.BtagFlagFile
		tag := tmpl.Build(dev, 2048, 512, 0, 1, now)

		assert.Equal(t, types.DeviceClassDisk, tag.Class())
		assert.Equal(t, uint64(4), tag.LBA())
		assert.Equal(t, dev.Identity(), tag.DevID())
	})
}
