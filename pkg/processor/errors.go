package processor

import "errors"

var (
	// ErrLogical marks a violated processor contract, such as adding an
	// input after the input set was declared complete. Never retried.
	ErrLogical = errors.New("logical error")

	// ErrNotImplemented is returned by an extension hook the processor
	// does not provide.
	ErrNotImplemented = errors.New("not implemented")

	// ErrSetSizeLimitExceeded is returned when a result grows beyond its
	// configured row or byte budget. It aborts the enclosing query.
	ErrSetSizeLimitExceeded = errors.New("set size limit exceeded")
)
