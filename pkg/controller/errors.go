package controller

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when an operation is not permitted in the
// controller's current state. It signals a caller bug and is never retried.
var ErrInvalidState = errors.New("invalid state")

type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s in state %s: %v", e.Op, e.State, ErrInvalidState)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

func invalidState(op string, s State) error {
	return &StateError{Op: op, State: s}
}
