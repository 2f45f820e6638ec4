package services

import (
	"github.com/deploymenttheory/go-btag/internal/interfaces"
	"github.com/deploymenttheory/go-btag/internal/types"
)

// VerifyOptions describes the state of the thread doing the verification.
type VerifyOptions struct {
	// Direction selects the device table write-order indexes resolve against
	Direction types.IODirection

	// InputOnly is set when this run never wrote the data being read
	InputOnly bool

	// ReadAfterWrite is set when blocks are re-read right after being written
	ReadAfterWrite bool

	// RereadPass is set during a separate read pass following a write pass
	RereadPass bool

	// Flags selects the compared fields; zero compares every field
	Flags types.VerifyFlags
}

func (o VerifyOptions) flags() types.VerifyFlags {
	if o.Flags == 0 {
		return types.VerifyAll
	}
	return o.Flags
}

// skipWriteOrder reports whether the extension is known to be stale
// relative to the expected tag.
func (o VerifyOptions) skipWriteOrder() bool {
	return o.RereadPass && !o.ReadAfterWrite
}

// BtagFieldVerifier compares an expected block tag with the tag read back.
type BtagFieldVerifier struct {
	Devices interfaces.DeviceResolver
}

// NewBtagFieldVerifier creates a field verifier resolving device names
// through devices
func NewBtagFieldVerifier(devices interfaces.DeviceResolver) *BtagFieldVerifier {
	return &BtagFieldVerifier{Devices: devices}
}

// CompareFields returns every selected field that differs. It never stops
// at the first mismatch. With no expected tag nothing can be compared and
// the result is empty.
func (v *BtagFieldVerifier) CompareFields(opts VerifyOptions, expected, received *types.BlockTag) []types.FieldMismatch {
	if opts.InputOnly || expected == nil || received == nil {
		return nil
	}

	flags := opts.flags()
	class := expected.Class()
	var mismatches []types.FieldMismatch

	for _, f := range types.BlockTagFields {
		if !flags.Has(f.Flag) {
			continue
		}
		if f.Kind == types.FieldKindBytes {
			if f.Text(expected) == f.Text(received) {
				continue
			}
		} else if f.Get(expected) == f.Get(received) {
			continue
		}
		mismatches = append(mismatches, types.FieldMismatch{
			Field:    f.DisplayName(class),
			Offset:   f.Offset,
			Width:    f.Width,
			Expected: f.Format(expected),
			Received: f.Format(received),
		})
	}

	if flags.Has(types.VerifyWriteOrder) && !opts.skipWriteOrder() {
		mismatches = append(mismatches, v.compareWriteOrder(opts, expected.WriteOrder, received.WriteOrder)...)
	}
	return mismatches
}

func (v *BtagFieldVerifier) compareWriteOrder(opts VerifyOptions, expected, received *types.WriteOrderExtension) []types.FieldMismatch {
	if expected == nil || received == nil {
		return nil
	}
	// An unset index on either side means the other fields carry nothing
	if expected.IsUnset() || received.IsUnset() {
		return nil
	}

	var mismatches []types.FieldMismatch
	for i, f := range types.WriteOrderFields {
		if f.Get(expected) == f.Get(received) {
			continue
		}
		m := types.FieldMismatch{
			Field:    "Write Order " + f.Name,
			Offset:   types.BlockTagSize + f.Offset,
			Width:    f.Width,
			Expected: f.Format(expected),
			Received: f.Format(received),
		}
		if i == 0 {
			m.ExpectedDevice = v.deviceName(opts.Direction, expected.DeviceIndex)
			m.ReceivedDevice = v.deviceName(opts.Direction, received.DeviceIndex)
		}
		mismatches = append(mismatches, m)
	}
	return mismatches
}

func (v *BtagFieldVerifier) deviceName(dir types.IODirection, index uint8) string {
	if v.Devices == nil || int(index) >= v.Devices.Count(dir) {
		return ""
	}
	name, _ := v.Devices.DeviceName(dir, index)
	return name
}
