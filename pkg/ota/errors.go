package ota

import (
	"errors"
	"fmt"
)

// The abort kinds reported by the agent.
var (
	ErrTransport = errors.New("transport error")
	ErrProtocol  = errors.New("protocol error")
	ErrIntegrity = errors.New("integrity error")
	ErrStorage   = errors.New("storage error")
	ErrNoUpdate  = errors.New("no update available")
	ErrBusy      = errors.New("update already in progress")
)

// ErrChecksumMismatch must be returned (possibly wrapped) by Storage.Flush if
// the written image does not match the target checksum.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// AbortError is returned when an update attempt is aborted. It unwraps to both
// the kind and the underlying cause.
type AbortError struct {
	State State
	Kind  error
	Err   error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%s while %s: %v", e.Kind, e.State, e.Err)
}

// Unwrap returns the kind and the cause.
func (e *AbortError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
