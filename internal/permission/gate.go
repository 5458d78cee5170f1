// Package permission checks that the process may use the Bluetooth adapter
// before any scan or connection is attempted.
package permission

import (
	"context"
	"fmt"
	"strings"
)

// DeniedError is returned when a required permission is missing.
type DeniedError struct {
	Missing []string
	Reason  string
}

func (e *DeniedError) Error() string {
	msg := "bluetooth permission denied"
	if len(e.Missing) > 0 {
		msg += ": missing " + strings.Join(e.Missing, ", ")
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Reason)
	}
	return msg
}

// Gate grants or denies access to the Bluetooth adapter.
type Gate interface {
	Request(ctx context.Context) error
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context) error

// Request calls f(ctx).
func (f GateFunc) Request(ctx context.Context) error {
	return f(ctx)
}

// Static is a Gate with a fixed answer.
type Static struct {
	Granted bool
	Missing []string
}

// Request returns nil when granted, otherwise a *DeniedError.
func (s Static) Request(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Granted {
		return nil
	}
	return &DeniedError{Missing: s.Missing}
}

// Granted is a Gate that always allows access.
var Granted Gate = Static{Granted: true}
