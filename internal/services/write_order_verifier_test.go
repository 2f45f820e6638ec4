package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-btag/internal/device"
	"github.com/deploymenttheory/go-btag/internal/managers/writeorder"
	"github.com/deploymenttheory/go-btag/internal/types"
)

var readOpts = VerifyOptions{Direction: types.IODirectionRead, RereadPass: true}

type testDevices struct {
	table *device.Table
	devs  []*device.FileDevice
}

func createTestDevices(t *testing.T, n int, class types.DeviceClass, blockSize uint32) *testDevices {
	t.Helper()
	fs := afero.NewMemMapFs()
	td := &testDevices{table: device.NewTable(nil, nil)}
	for i := 0; i < n; i++ {
		dev, err := device.OpenFileDevice(fs, fmt.Sprintf("/dev%d.dat", i), device.DeviceOptions{
			Class:     class,
			BlockSize: blockSize,
			Size:      64 * int64(blockSize),
			Create:    true,
		})
		require.NoError(t, err)
		td.devs = append(td.devs, dev)
		td.table.AddInput(dev)
		td.table.AddOutput(dev)
	}
	t.Cleanup(func() { td.table.Close() })
	return td
}

func testTemplate() BlockTagTemplate {
	return BlockTagTemplate{
		Hostname:    "testhost",
		PatternType: types.PatternTypeIOT,
		Flags:       types.BtagFlagOpaque,
		WriteStart:  5,
		Generation:  1,
		ProcessID:   100,
	}
}

// writeTestRecord writes a record of blocks device blocks at offset, stamps
// it from log and records it. It returns the tag of every block.
func writeTestRecord(t *testing.T, td *testDevices, log *writeorder.Log, devIndex int, offset int64, blocks int, now time.Time) []*types.BlockTag {
	t.Helper()
	dev := td.devs[devIndex]
	bs := int(dev.BlockSize())
	size := uint32(bs * blocks)
	tmpl := testTemplate()
	stamper := NewBtagStamper()

	buf := make([]byte, bs*blocks)
	tags := make([]*types.BlockTag, blocks)
	for i := range tags {
		tags[i] = tmpl.Build(dev, offset+int64(i*bs), size, uint32(i*bs), 1, now)
		_, err := stamper.StampBlock(buf[i*bs:(i+1)*bs], tags[i], log)
		require.NoError(t, err)
	}
	_, err := dev.WriteAt(buf, offset)
	require.NoError(t, err)

	location := uint64(offset)
	if dev.Class() == types.DeviceClassDisk {
		location /= uint64(bs)
	}
	log.Record(types.WriteRecord{
		DeviceIndex: uint8(devIndex),
		Class:       dev.Class(),
		BlockSize:   dev.BlockSize(),
		Location:    location,
		Size:        size,
		WriteSecs:   tags[0].WriteSecs,
		WriteUsecs:  tags[0].WriteUsecs,
		CRC32:       tags[0].CRC32,
	})
	return tags
}

func newTestLog(t *testing.T, n int) *writeorder.Log {
	t.Helper()
	log, err := writeorder.NewLog(n)
	require.NoError(t, err)
	return log
}

func TestVerifyWriteOrder_SentinelExempt(t *testing.T) {
	v := NewWriteOrderVerifier(nil, zerolog.Nop())

	tests := []struct {
		name string
		tag  *types.BlockTag
	}{
		{"nil tag", nil},
		{"no extension", &types.BlockTag{}},
		{"unset extension", &types.BlockTag{Flags: types.BtagFlagOpaque, WriteOrder: &types.WriteOrderExtension{DeviceIndex: types.DeviceIndexUnset, WriteSize: 4096}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.VerifyWriteOrder(context.Background(), readOpts, tt.tag, 4096)
			assert.Equal(t, types.WriteOrderSuccess, result.Status)
			assert.Equal(t, types.DeviceIndexUnset, result.DeviceIndex)
		})
	}
}

func TestVerifyWriteOrder_UnresolvedDeviceWarns(t *testing.T) {
	td := createTestDevices(t, 2, types.DeviceClassFile, 512)
	v := NewWriteOrderVerifier(td.table, zerolog.Nop())

	tag := &types.BlockTag{Flags: types.BtagFlagOpaque, WriteOrder: &types.WriteOrderExtension{DeviceIndex: 5, WriteSize: 512}}
	result := v.VerifyWriteOrder(context.Background(), readOpts, tag, 512)

	assert.Equal(t, types.WriteOrderWarning, result.Status)
	assert.Equal(t, types.ReasonDeviceUnresolved, result.Reason)
	assert.False(t, result.IsFailure())
}

func TestVerifyWriteOrder_CancelledContextWarns(t *testing.T) {
	td := createTestDevices(t, 1, types.DeviceClassFile, 512)
	v := NewWriteOrderVerifier(td.table, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tag := &types.BlockTag{Flags: types.BtagFlagOpaque, WriteOrder: &types.WriteOrderExtension{DeviceIndex: 0, WriteSize: 512}}
	result := v.VerifyWriteOrder(ctx, readOpts, tag, 512)
	assert.Equal(t, types.WriteOrderWarning, result.Status)
	assert.ErrorIs(t, result.Err, context.Canceled)
}

func TestVerifyWriteOrder_InvalidExtension(t *testing.T) {
	td := createTestDevices(t, 1, types.DeviceClassFile, 512)
	v := NewWriteOrderVerifier(td.table, zerolog.Nop())

	for _, wo := range []types.WriteOrderExtension{
		{DeviceIndex: 0, WriteSize: 0},
		{DeviceIndex: 0, WriteSize: 512, WriteOffset: -512},
	} {
		wo := wo
		tag := &types.BlockTag{Flags: types.BtagFlagOpaque, WriteOrder: &wo}
		result := v.VerifyWriteOrder(context.Background(), readOpts, tag, 512)
		assert.Equal(t, types.WriteOrderFailure, result.Status)
		assert.Equal(t, types.ReasonFieldMismatch, result.Reason)
	}
}

func TestVerifyWriteOrder_SequentialRecords(t *testing.T) {
	td := createTestDevices(t, 3, types.DeviceClassFile, 4096)
	log := newTestLog(t, 3)
	v := NewWriteOrderVerifier(td.table, zerolog.Nop())
	base := time.Unix(1000, 0)

	first := writeTestRecord(t, td, log, 2, 0, 1, base)
	second := writeTestRecord(t, td, log, 2, 4096, 1, base.Add(time.Millisecond))
	third := writeTestRecord(t, td, log, 2, 8192, 1, base.Add(2*time.Millisecond))

	assert.True(t, first[0].WriteOrder.IsUnset(), "first write of a pass has no predecessor")
	assert.Equal(t, int64(0), second[0].WriteOrder.WriteOffset)
	require.Equal(t, int64(4096), third[0].WriteOrder.WriteOffset)
	assert.Equal(t, uint8(2), third[0].WriteOrder.DeviceIndex)

	result := v.VerifyWriteOrder(context.Background(), readOpts, third[0], 4096)
	assert.Equal(t, types.WriteOrderSuccess, result.Status, result.Message)
	assert.Equal(t, "/dev2.dat", result.Device)
	require.NotNil(t, result.PreviousTag)
	assert.Equal(t, second[0].CRC32, result.PreviousTag.CRC32)
}

func TestVerifyWriteOrder_Monotonicity(t *testing.T) {
	tests := []struct {
		name       string
		usecs      uint32
		wantStatus types.WriteOrderStatus
	}{
		{"current earlier than previous", 400, types.WriteOrderFailure},
		{"same instant", 500, types.WriteOrderSuccess},
		{"current later than previous", 600, types.WriteOrderSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			td := createTestDevices(t, 1, types.DeviceClassFile, 512)
			log := newTestLog(t, 1)
			v := NewWriteOrderVerifier(td.table, zerolog.Nop())

			writeTestRecord(t, td, log, 0, 0, 1, time.Unix(10, 500*1000))

			last := log.Last()
			current := &types.BlockTag{
				Flags:      types.BtagFlagOpaque | types.BtagFlagFile,
				WriteSecs:  10,
				WriteUsecs: tt.usecs,
				WriteOrder: &last,
			}
			result := v.VerifyWriteOrder(context.Background(), readOpts, current, 512)
			assert.Equal(t, tt.wantStatus, result.Status, result.Message)
			if tt.wantStatus == types.WriteOrderFailure {
				assert.Equal(t, types.ReasonOrderingViolation, result.Reason)
				require.NotNil(t, result.ErrorTag)
				assert.Equal(t, uint32(500), result.ErrorTag.WriteUsecs)
			}
		})
	}
}

func TestVerifyWriteOrder_CRCErrorAttributedToBlock(t *testing.T) {
	td := createTestDevices(t, 2, types.DeviceClassFile, 512)
	log := newTestLog(t, 2)
	v := NewWriteOrderVerifier(td.table, zerolog.Nop())
	base := time.Unix(2000, 0)

	writeTestRecord(t, td, log, 1, 1024, 3, base)
	current := writeTestRecord(t, td, log, 0, 0, 1, base.Add(time.Second))

	// Flip a data byte in the second block of the previous write
	_, err := td.devs[1].WriteAt([]byte{0xFF}, 1024+512+300)
	require.NoError(t, err)

	result := v.VerifyWriteOrder(context.Background(), readOpts, current[0], 512)
	assert.Equal(t, types.WriteOrderFailure, result.Status)
	assert.Equal(t, types.ReasonCRCError, result.Reason)
	assert.Equal(t, int64(1536), result.ErrorOffset)
	assert.Equal(t, "CRC error for device /dev1.dat at offset 1536", result.Message)
}

func TestVerifyWriteOrder_ExtensionMismatch(t *testing.T) {
	td := createTestDevices(t, 1, types.DeviceClassFile, 512)
	log := newTestLog(t, 1)
	v := NewWriteOrderVerifier(td.table, zerolog.Nop())

	writeTestRecord(t, td, log, 0, 0, 1, time.Unix(3000, 0))
	last := log.Last()
	last.CRC32 ^= 0x1
	current := &types.BlockTag{Flags: types.BtagFlagOpaque | types.BtagFlagFile, WriteSecs: 3001, WriteOrder: &last}

	result := v.VerifyWriteOrder(context.Background(), readOpts, current, 512)
	assert.Equal(t, types.WriteOrderFailure, result.Status)
	assert.Equal(t, types.ReasonFieldMismatch, result.Reason)
	require.Len(t, result.Mismatches, 1)
	assert.Equal(t, "Write Order CRC-32", result.Mismatches[0].Field)
	assert.Equal(t, 152, result.Mismatches[0].Offset)
	assert.NotNil(t, result.ErrorTag)
}

func TestVerifyWriteOrder_MisdirectedWrite(t *testing.T) {
	td := createTestDevices(t, 1, types.DeviceClassFile, 512)
	log := newTestLog(t, 1)
	v := NewWriteOrderVerifier(td.table, zerolog.Nop())

	// The block meant for offset 2048 landed at offset 0
	dev := td.devs[0]
	tmpl := testTemplate()
	tag := tmpl.Build(dev, 2048, 512, 0, 1, time.Unix(4000, 0))
	block := make([]byte, 512)
	_, err := NewBtagStamper().StampBlock(block, tag, log)
	require.NoError(t, err)
	_, err = dev.WriteAt(block, 0)
	require.NoError(t, err)

	current := &types.BlockTag{
		Flags:     types.BtagFlagOpaque | types.BtagFlagFile,
		WriteSecs: 4001,
		WriteOrder: &types.WriteOrderExtension{
			DeviceIndex: 0, WriteSize: 512, WriteOffset: 0,
			WriteSecs: tag.WriteSecs, WriteUsecs: tag.WriteUsecs, CRC32: tag.CRC32,
		},
	}
	result := v.VerifyWriteOrder(context.Background(), readOpts, current, 512)
	assert.Equal(t, types.ReasonFieldMismatch, result.Reason)
	require.Len(t, result.Mismatches, 1)
	assert.Equal(t, "Write Order Write Offset", result.Mismatches[0].Field)
	assert.Equal(t, "0", result.Mismatches[0].Expected)
	assert.Equal(t, "2048", result.Mismatches[0].Received)
}

func TestVerifyWriteOrder_LaterSubBlockNewer(t *testing.T) {
	td := createTestDevices(t, 2, types.DeviceClassFile, 512)
	log := newTestLog(t, 2)
	v := NewWriteOrderVerifier(td.table, zerolog.Nop())
	base := time.Unix(5000, 0)

	writeTestRecord(t, td, log, 0, 0, 2, base)
	current := writeTestRecord(t, td, log, 1, 0, 1, base.Add(time.Second))

	// Rewrite only the second block of the previous record, after current
	dev := td.devs[0]
	tmpl := testTemplate()
	tag := tmpl.Build(dev, 512, 1024, 512, 1, base.Add(time.Minute))
	block := make([]byte, 512)
	_, err := NewBtagStamper().StampBlock(block, tag, newTestLog(t, 1))
	require.NoError(t, err)
	_, err = dev.WriteAt(block, 512)
	require.NoError(t, err)

	result := v.VerifyWriteOrder(context.Background(), readOpts, current[0], 512)
	assert.Equal(t, types.WriteOrderFailure, result.Status)
	assert.Equal(t, types.ReasonOrderingViolation, result.Reason)
	assert.Equal(t, int64(512), result.ErrorOffset)
}

func TestVerifyWriteOrder_DiskClass(t *testing.T) {
	td := createTestDevices(t, 2, types.DeviceClassDisk, 512)
	log := newTestLog(t, 2)
	v := NewWriteOrderVerifier(td.table, zerolog.Nop())
	base := time.Unix(6000, 0)

	prev := writeTestRecord(t, td, log, 0, 4096, 2, base)
	assert.Equal(t, uint64(8), prev[0].LBA())
	current := writeTestRecord(t, td, log, 1, 0, 1, base.Add(time.Second))
	assert.Equal(t, int64(4096), current[0].WriteOrder.WriteOffset, "LBA is normalized to a byte offset")

	result := v.VerifyWriteOrder(context.Background(), readOpts, current[0], 512)
	assert.Equal(t, types.WriteOrderSuccess, result.Status, result.Message)
}

func TestVerifyWriteOrder_ReadAndDecodeErrors(t *testing.T) {
	td := createTestDevices(t, 1, types.DeviceClassFile, 512)
	v := NewWriteOrderVerifier(td.table, zerolog.Nop())

	beyond := &types.BlockTag{Flags: types.BtagFlagOpaque, WriteOrder: &types.WriteOrderExtension{
		DeviceIndex: 0, WriteSize: 512, WriteOffset: 1 << 30,
	}}
	result := v.VerifyWriteOrder(context.Background(), readOpts, beyond, 512)
	assert.Equal(t, types.ReasonReadError, result.Reason)
	assert.Error(t, result.Err)

	// An unwritten region fails the CRC pass first
	blank := &types.BlockTag{Flags: types.BtagFlagOpaque, WriteOrder: &types.WriteOrderExtension{
		DeviceIndex: 0, WriteSize: 512, WriteOffset: 0,
	}}
	result = v.VerifyWriteOrder(context.Background(), readOpts, blank, 512)
	assert.Equal(t, types.ReasonCRCError, result.Reason)

	v.VerifyBuffer = func([]byte, uint32) error { return nil }
	result = v.VerifyWriteOrder(context.Background(), readOpts, blank, 512)
	assert.Equal(t, types.ReasonDecodeError, result.Reason)
	assert.True(t, errors.Is(result.Err, types.ErrBadSignature))
}

func TestVerifyWriteOrder_ScratchGrows(t *testing.T) {
	td := createTestDevices(t, 2, types.DeviceClassFile, 512)
	log := newTestLog(t, 2)
	v := NewWriteOrderVerifier(td.table, zerolog.Nop())
	base := time.Unix(7000, 0)

	writeTestRecord(t, td, log, 0, 0, 1, base)
	small := writeTestRecord(t, td, log, 1, 0, 4, base.Add(time.Second))
	large := writeTestRecord(t, td, log, 0, 512, 1, base.Add(2*time.Second))

	assert.Equal(t, types.WriteOrderSuccess, v.VerifyWriteOrder(context.Background(), readOpts, small[0], 2048).Status)
	assert.Equal(t, 512, cap(v.scratch))

	assert.Equal(t, types.WriteOrderSuccess, v.VerifyWriteOrder(context.Background(), readOpts, large[0], 512).Status)
	assert.Equal(t, 2048, cap(v.scratch))

	assert.Equal(t, types.WriteOrderSuccess, v.VerifyWriteOrder(context.Background(), readOpts, small[0], 2048).Status)
	assert.Equal(t, 2048, cap(v.scratch), "scratch buffer never shrinks")
}
