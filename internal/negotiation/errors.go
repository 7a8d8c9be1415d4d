package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrClosed        = errors.New("negotiation closed")
	ErrBusy          = errors.New("negotiation already in progress")
	ErrNoDataChannel = errors.New("data channel not open")
)

// MediaAcquisitionError aborts a negotiation before any transport exists.
type MediaAcquisitionError struct {
	Kind string
	Err  error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Kind, e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

// NegotiationError is a failed description or candidate step. The phase is
// left where it was.
type NegotiationError struct {
	Step  string
	Phase Phase
	Err   error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("%s (phase %s): %v", e.Step, e.Phase, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }
