// Package ble owns the transport side of talking to LEDDMX controllers: one
// lazily established connection per device address, bounded connect retries,
// and fire-and-forget characteristic writes.
package ble

import (
	"context"
	"errors"
)

// Characteristic UUIDs of the vendor-specific LEDDMX control service.
const (
	ServiceUUID = "0000fff0-0000-1000-8000-00805f9b34fb"
	CharUUID    = "0000fff3-0000-1000-8000-00805f9b34fb"
)

// Error taxonomy. All transport failures surface as one of these, wrapped
// with address context.
var (
	// ErrDeviceUnreachable means no transport handle could be resolved for
	// the address (device out of range or not advertising).
	ErrDeviceUnreachable = errors.New("device unreachable")

	// ErrConnectFailed means connection establishment exhausted its retries.
	ErrConnectFailed = errors.New("connect failed")

	// ErrWriteFailed means the characteristic write itself failed. The
	// cached connection is discarded so the next write reconnects.
	ErrWriteFailed = errors.New("write failed")
)

// Link resolves device addresses to connectable handles. Implemented by the
// Bluetooth adapter in production and by fakes in tests.
type Link interface {
	// Resolve finds a reachable transport handle for the address, or fails
	// with ErrDeviceUnreachable.
	Resolve(ctx context.Context, address string) (Handle, error)
}

// Handle is a resolved, connectable device.
type Handle interface {
	// Connect establishes a connection. One attempt; the session layers
	// bounded retries on top.
	Connect(ctx context.Context) (Conn, error)
}

// Conn is an established connection to a device.
type Conn interface {
	// WriteCharacteristic performs a fire-and-forget write. No response is
	// awaited; the protocol has no acknowledgment.
	WriteCharacteristic(uuid string, data []byte) error

	// Disconnect tears the connection down.
	Disconnect() error
}
