package processor

import (
	"fmt"
	"strings"
)

// OverflowMode selects what happens when a SizeLimits budget is exceeded.
type OverflowMode int

const (
	// OverflowThrow fails the query with ErrSetSizeLimitExceeded.
	OverflowThrow OverflowMode = iota
	// OverflowBreak stops reading input and keeps the result produced so far.
	OverflowBreak
)

func (m OverflowMode) String() string {
	if m == OverflowBreak {
		return "break"
	}
	return "throw"
}

// ParseOverflowMode parses "throw" or "break". The empty string means throw.
func ParseOverflowMode(s string) (OverflowMode, error) {
	switch strings.ToLower(s) {
	case "", "throw":
		return OverflowThrow, nil
	case "break":
		return OverflowBreak, nil
	default:
		return OverflowThrow, fmt.Errorf("unknown overflow mode %q", s)
	}
}

// SizeLimits is a row and byte budget. Zero fields are unlimited.
type SizeLimits struct {
	MaxRows  uint64
	MaxBytes uint64
	Overflow OverflowMode
}

// HasLimits reports whether any budget is set.
func (l SizeLimits) HasLimits() bool { return l.MaxRows != 0 || l.MaxBytes != 0 }

// Check tests rows and bytes against the budget. It returns true while both
// are within budget. When exceeded it returns false, together with an
// ErrSetSizeLimitExceeded error in throw mode; what names the operation in
// the error message.
func (l SizeLimits) Check(rows, bytes uint64, what string) (bool, error) {
	if l.MaxRows != 0 && rows > l.MaxRows {
		return false, l.overflow(fmt.Sprintf("%s: rows %d exceed max_rows %d", what, rows, l.MaxRows))
	}
	if l.MaxBytes != 0 && bytes > l.MaxBytes {
		return false, l.overflow(fmt.Sprintf("%s: bytes %d exceed max_bytes %d", what, bytes, l.MaxBytes))
	}
	return true, nil
}

func (l SizeLimits) overflow(msg string) error {
	if l.Overflow == OverflowBreak {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrSetSizeLimitExceeded, msg)
}
