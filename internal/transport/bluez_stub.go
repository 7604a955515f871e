//go:build !linux

package transport

import (
	"context"
	"errors"
	"io"

	"github.com/arena-rover/roverlink/internal/link"
)

// BlueZDialer is only functional on Linux, where BlueZ provides the RFCOMM
// socket. On other platforms every Dial fails; use the serial dialer with a
// bound tty instead.
type BlueZDialer struct{}

// NewBlueZDialer creates a stub dialer.
func NewBlueZDialer() *BlueZDialer {
	return &BlueZDialer{}
}

// Dial always fails on non-Linux platforms.
func (d *BlueZDialer) Dial(ctx context.Context, peer link.Peer) (io.ReadWriteCloser, error) {
	return nil, errors.New("transport: bluez dialer requires linux")
}

// Close is a no-op.
func (d *BlueZDialer) Close() error { return nil }
