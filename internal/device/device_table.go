package device

import (
	"errors"

	"github.com/deploymenttheory/go-btag/internal/interfaces"
	"github.com/deploymenttheory/go-btag/internal/types"
)

// Table holds the input and output devices of one thread. Write-order device
// indexes are positions in these lists.
type Table struct {
	inputs  []interfaces.Device
	outputs []interfaces.Device
}

// NewTable returns a table over the given devices
func NewTable(inputs, outputs []interfaces.Device) *Table {
	return &Table{inputs: inputs, outputs: outputs}
}

// AddInput appends an input device and returns its index
func (t *Table) AddInput(d interfaces.Device) uint8 {
	t.inputs = append(t.inputs, d)
	return uint8(len(t.inputs) - 1)
}

// AddOutput appends an output device and returns its index
func (t *Table) AddOutput(d interfaces.Device) uint8 {
	t.outputs = append(t.outputs, d)
	return uint8(len(t.outputs) - 1)
}

func (t *Table) list(dir types.IODirection) []interfaces.Device {
	if dir == types.IODirectionWrite {
		return t.outputs
	}
	return t.inputs
}

// Resolve implements interfaces.DeviceResolver
func (t *Table) Resolve(dir types.IODirection, index uint8) (interfaces.Device, bool) {
	if t == nil || index == types.DeviceIndexUnset {
		return nil, false
	}
	devices := t.list(dir)
	if int(index) >= len(devices) || devices[index] == nil {
		return nil, false
	}
	return devices[index], true
}

// DeviceName implements interfaces.DeviceResolver
func (t *Table) DeviceName(dir types.IODirection, index uint8) (string, bool) {
	d, ok := t.Resolve(dir, index)
	if !ok {
		return "", false
	}
	return d.Name(), true
}

// Count implements interfaces.DeviceResolver
func (t *Table) Count(dir types.IODirection) int {
	if t == nil {
		return 0
	}
	return len(t.list(dir))
}

// Close closes every device in the table that implements io.Closer
func (t *Table) Close() error {
	var errs []error
	seen := make(map[interfaces.Device]bool)
	for _, d := range append(append([]interfaces.Device{}, t.inputs...), t.outputs...) {
		if d == nil || seen[d] {
			continue
		}
		seen[d] = true
		if c, ok := d.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	t.inputs, t.outputs = nil, nil
	return errors.Join(errs...)
}
