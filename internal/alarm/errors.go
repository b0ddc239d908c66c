package alarm

import (
	"errors"
	"fmt"
)

// Sentinel errors for the alarm package.
var (
	ErrTransportWrite    = errors.New("alarm: transport write failed")
	ErrSlotPoolExhausted = errors.New("alarm: all alarm slots are in use")
	ErrInvalidDescriptor = errors.New("alarm: invalid alarm descriptor")
	ErrAlarmNotFound     = errors.New("alarm: no alarm in slot")
	ErrPersist           = errors.New("alarm: persisting alarm failed")
)

// PhaseError reports the phase at which an alarm transaction failed.
type PhaseError struct {
	Kind  Kind
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("alarm: %s failed at %s: %v", e.Kind, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
