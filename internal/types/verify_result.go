package types

import "fmt"

// IODirection tells which device table a write-order index refers to.
type IODirection int

const (
	IODirectionRead IODirection = iota
	IODirectionWrite
)

// String returns the direction name
func (d IODirection) String() string {
	switch d {
	case IODirectionRead:
		return "read"
	case IODirectionWrite:
		return "write"
	default:
		return fmt.Sprintf("IODirection(%d)", int(d))
	}
}

// WriteOrderStatus is the outcome of a write-order verification.
type WriteOrderStatus int

const (
	WriteOrderSuccess WriteOrderStatus = iota
	// WriteOrderWarning means verification was skipped; it never counts as an error
	WriteOrderWarning
	WriteOrderFailure
)

// String returns the status name
func (s WriteOrderStatus) String() string {
	switch s {
	case WriteOrderSuccess:
		return "success"
	case WriteOrderWarning:
		return "warning"
	case WriteOrderFailure:
		return "failure"
	default:
		return fmt.Sprintf("WriteOrderStatus(%d)", int(s))
	}
}

// WriteOrderReason classifies a warning or failure.
type WriteOrderReason int

const (
	ReasonNone WriteOrderReason = iota
	ReasonDeviceUnresolved
	ReasonReadError
	ReasonCRCError
	ReasonDecodeError
	ReasonFieldMismatch
	ReasonOrderingViolation
)

// String returns the reason name
func (r WriteOrderReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonDeviceUnresolved:
		return "device unresolved"
	case ReasonReadError:
		return "read error"
	case ReasonCRCError:
		return "CRC error"
	case ReasonDecodeError:
		return "decode error"
	case ReasonFieldMismatch:
		return "field mismatch"
	case ReasonOrderingViolation:
		return "ordering violation"
	default:
		return fmt.Sprintf("WriteOrderReason(%d)", int(r))
	}
}

// WriteOrderResult is returned by the write-order causality check.
type WriteOrderResult struct {
	Status WriteOrderStatus
	Reason WriteOrderReason

	// DeviceIndex and Device identify the previous write's device
	DeviceIndex uint8
	Device      string

	// PreviousTag is the tag of the first re-read sub-block, when decoded
	PreviousTag *BlockTag

	// ErrorTag is the sub-block tag that failed verification
	ErrorTag *BlockTag

	// ErrorOffset is the device byte offset of ErrorTag
	ErrorOffset int64

	Mismatches []FieldMismatch
	Message    string
	Err        error
}

// IsFailure reports whether the result counts as an error
func (r WriteOrderResult) IsFailure() bool {
	return r.Status == WriteOrderFailure
}
