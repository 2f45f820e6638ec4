package writeorder

import (
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-btag/internal/types"
)

// ErrInvalidDeviceCount is returned when a log is sized outside 1..255 devices.
var ErrInvalidDeviceCount = errors.New("invalid write order device count")

// Log is a ring of the most recent writes, one slot per output device.
// A Log is owned by a single thread; it is not safe for concurrent use.
type Log struct {
	slots  []types.WriteOrderExtension
	cursor int
	last   int
}

// NewLog returns a log sized for deviceCount output devices
func NewLog(deviceCount int) (*Log, error) {
	l := &Log{}
	if err := l.Reset(deviceCount); err != nil {
		return nil, err
	}
	return l, nil
}

// Reset discards all recorded writes and resizes the ring. It is called at
// the start of every write pass so no entry crosses a pass boundary.
func (l *Log) Reset(deviceCount int) error {
	if deviceCount <= 0 || deviceCount > types.MaxDeviceCount {
		return fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidDeviceCount, deviceCount, types.MaxDeviceCount)
	}

	if cap(l.slots) >= deviceCount {
		l.slots = l.slots[:deviceCount]
	} else {
		l.slots = make([]types.WriteOrderExtension, deviceCount)
	}
	for i := range l.slots {
		l.slots[i] = types.UnsetWriteOrder()
	}
	l.cursor = 0
	l.last = 0
	return nil
}

// Record stores a completed write in the current slot and advances the
// cursor. Disk locations are normalized to byte offsets.
func (l *Log) Record(rec types.WriteRecord) {
	if len(l.slots) == 0 {
		return
	}
	l.slots[l.cursor] = rec.Extension()
	l.last = l.cursor
	l.cursor++
	if l.cursor == len(l.slots) {
		l.cursor = 0
	}
}

// Last returns the most recent write, or the unset entry when nothing has
// been recorded in this pass.
func (l *Log) Last() types.WriteOrderExtension {
	if l == nil || len(l.slots) == 0 {
		return types.UnsetWriteOrder()
	}
	return l.slots[l.last]
}

// Len returns the number of slots
func (l *Log) Len() int {
	return len(l.slots)
}

// Cursor returns the slot the next write will be stored in
func (l *Log) Cursor() int {
	return l.cursor
}

// Slot returns the entry stored at index i
func (l *Log) Slot(i int) (types.WriteOrderExtension, bool) {
	if i < 0 || i >= len(l.slots) {
		return types.WriteOrderExtension{}, false
	}
	return l.slots[i], true
}
