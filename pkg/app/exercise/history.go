package exercise

import (
	"fmt"
	"io"

	"github.com/deploymenttheory/go-btag/internal/types"
)

// HistoryEntry records one I/O request of a stream
type HistoryEntry struct {
	Direction  types.IODirection
	Device     string
	Offset     int64
	Size       uint32
	WriteSecs  uint32
	WriteUsecs uint32
	CRC32      uint32
}

// History keeps the most recent I/O requests of a stream. It is owned by
// the stream goroutine.
type History struct {
	entries []HistoryEntry
	next    int
	full    bool
}

// NewHistory returns a history holding up to size entries; size 0 disables it
func NewHistory(size int) *History {
	return &History{entries: make([]HistoryEntry, size)}
}

// Add appends an entry, overwriting the oldest once full
func (h *History) Add(e HistoryEntry) {
	if len(h.entries) == 0 {
		return
	}
	h.entries[h.next] = e
	h.next++
	if h.next == len(h.entries) {
		h.next = 0
		h.full = true
	}
}

// Entries returns the recorded entries, oldest first
func (h *History) Entries() []HistoryEntry {
	if !h.full {
		return append([]HistoryEntry(nil), h.entries[:h.next]...)
	}
	out := make([]HistoryEntry, 0, len(h.entries))
	out = append(out, h.entries[h.next:]...)
	return append(out, h.entries[:h.next]...)
}

// DumpHistory implements interfaces.HistoryDumper
func (h *History) DumpHistory(w io.Writer) error {
	entries := h.Entries()
	if len(entries) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "\nI/O history (%d most recent requests):\n", len(entries)); err != nil {
		return err
	}
	for i, e := range entries {
		_, err := fmt.Fprintf(w, "  %3d: %-5s %s offset %d size %d time %d.%06d crc 0x%08x\n",
			i+1, e.Direction, e.Device, e.Offset, e.Size, e.WriteSecs, e.WriteUsecs, e.CRC32)
		if err != nil {
			return err
		}
	}
	return nil
}
