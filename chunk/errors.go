package chunk

import (
	"errors"
	"fmt"
)

// Sentinels matched by errors.Is against the typed errors below.
var (
	ErrValidation = errors.New("chunk: invalid fragment")
	ErrSequencing = errors.New("chunk: fragment out of sequence")
	ErrParse      = errors.New("chunk: payload parse failed")
)

// ValidationError is returned for a malformed fragment. The pending
// transfer, if any, has been discarded.
type ValidationError struct {
	Field  string
	Reason string
	Cause  error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("chunk: %s %s: %v", e.Field, e.Reason, e.Cause)
	}
	return fmt.Sprintf("chunk: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// SequencingError is returned when a well-formed fragment does not fit the
// active transfer. The pending transfer has been discarded.
type SequencingError struct {
	ID     string
	Index  int
	Reason string
}

func (e *SequencingError) Error() string {
	return fmt.Sprintf("chunk: transfer %s: %s", e.ID, e.Reason)
}

func (e *SequencingError) Is(target error) bool { return target == ErrSequencing }

// ParseError is returned when the reassembled text is not a JSON object.
// Pending state is cleared before parsing, so nothing stale remains.
type ParseError struct {
	ID     string
	Reason string
	Cause  error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("chunk: transfer %s: %s: %v", e.ID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("chunk: transfer %s: %s", e.ID, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Cause }

func (e *ParseError) Is(target error) bool { return target == ErrParse }
