package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTornDown is returned to callers whose operation was in flight when the session was torn down.
	ErrTornDown = errors.New("session torn down")

	// ErrClosed is returned once the machine's event loop has stopped.
	ErrClosed = errors.New("session machine closed")
)

// StateError reports an operation that is not valid in the machine's current state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.State)
}

// ConnectionError reports a failed connect or service discovery. The machine is back in Disconnected.
type ConnectionError struct {
	Peripheral string
	Op         string // "connect" or "discover"
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.Op == "discover" {
		return fmt.Sprintf("failed to discover services of %q: %v", e.Peripheral, e.Err)
	}
	return fmt.Sprintf("failed to connect to %q: %v", e.Peripheral, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// UnknownServiceError reports a service UUID that was not discovered on the connected peripheral.
type UnknownServiceError struct {
	UUID string
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("service %q not found", e.UUID)
}

// PartialSubscriptionError reports characteristics whose notifications could not be started.
// It is not fatal: the session is Active with the characteristics that succeeded.
type PartialSubscriptionError struct {
	Service string
	Total   int
	Failed  []Outcome
}

func (e *PartialSubscriptionError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, o := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", o.Characteristic, o.Err))
	}
	return fmt.Sprintf("notifications failed for %d of %d characteristics in service %q - %s",
		len(e.Failed), e.Total, e.Service, strings.Join(parts, "; "))
}

// DisconnectWarning reports a platform disconnect failure during teardown.
// The session is discarded regardless.
type DisconnectWarning struct {
	Peripheral string
	Err        error
}

func (e *DisconnectWarning) Error() string {
	return fmt.Sprintf("disconnect from %q reported an error: %v", e.Peripheral, e.Err)
}

func (e *DisconnectWarning) Unwrap() error {
	return e.Err
}
