// Package common defines the error taxonomy shared by the client layers:
// validation, connectivity, remote logical, sync-item and storage errors.
// Callers should match them with errors.Is / errors.As.
package common

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrConnectivity marks a failure to reach the network or the remote store
	// (including timeouts). It triggers the offline fallback and is never
	// surfaced to the user as a failed save.
	ErrConnectivity = errors.New("connectivity error")

	// Remote logical errors: surfaced, never queued for retry.
	ErrPermissionDenied = errors.New("permission denied")
	ErrConstraint       = errors.New("constraint violation")
	ErrNotFound         = errors.New("not found")

	// ErrStorage means the local durable store is unavailable.
	ErrStorage = errors.New("local storage unavailable")

	// ErrRemoteDisabled is returned when no remote store is configured.
	ErrRemoteDisabled = errors.New("remote store not configured")

	// Access-token errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	ErrNotLoggedIn = errors.New("not logged in")
)

// ValidationError lists every missing or malformed field of a draft.
// No I/O is attempted when it is returned.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, ", ")
}

// RemoteError is a logical rejection by the remote store (permission denied,
// constraint violation, missing row).
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// SyncItemError describes a queued item that failed replay. The item stays
// in the queue for the next cycle.
type SyncItemError struct {
	ItemID int64
	Action string
	Err    error
}

func (e *SyncItemError) Error() string {
	return fmt.Sprintf("sync item %d (%s): %v", e.ItemID, e.Action, e.Err)
}

func (e *SyncItemError) Unwrap() error { return e.Err }

// Connectivity wraps err so that errors.Is(err, ErrConnectivity) holds.
// A nil err stays nil.
func Connectivity(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConnectivity) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConnectivity, err)
}

// Storage wraps err as a local storage failure.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// networkMessages are fragments of error texts that indicate a transport
// failure when no typed error is available.
var networkMessages = []string{
	"failed to fetch",
	"network is unreachable",
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"broken pipe",
}

// IsConnectivity reports whether err is a connectivity-class failure: an
// explicit ErrConnectivity, a context deadline, a net.Error, a refused or
// reset connection, a stream cut short (io.EOF), a bad driver connection, or
// a message with a known network signature.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectivity) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var logical *RemoteError
	if errors.As(err, &logical) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, m := range networkMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
