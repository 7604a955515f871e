package transport

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"

	"github.com/arena-rover/roverlink/internal/link"
)

// PortOptions describes the serial connection parameters used when opening a
// tty-bound RFCOMM device (e.g. /dev/rfcomm0 created by rfcomm bind).
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	if parity == "" {
		parity = "N"
	}
	switch parity {
	case "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	opts.Parity = parity

	return opts, nil
}

// SerialMode converts the port options into the serial.Mode structure
// required by go.bug.st/serial when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.StopBits(opts.StopBits),
	}
	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", opts.Parity)
	}

	return mode, nil
}

// SerialDialer opens the peer's tty device on every dial. The peer handle is
// the device path.
type SerialDialer struct {
	Options PortOptions
}

// Dial opens the serial port named by the peer handle.
func (d *SerialDialer) Dial(ctx context.Context, peer link.Peer) (io.ReadWriteCloser, error) {
	if peer.Handle == "" {
		return nil, fmt.Errorf("transport: serial peer handle required")
	}
	mode, err := d.Options.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(peer.Handle, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", peer.Handle, err)
	}
	return port, nil
}
