//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	dbus "github.com/godbus/dbus/v5"

	"github.com/arena-rover/roverlink/internal/link"
)

const (
	bluezService        = "org.bluez"
	profileIface        = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"
	deviceIface         = "org.bluez.Device1"
)

var profileCounter uint64

// BlueZDialer opens RFCOMM SPP connections to an already-paired device via
// the BlueZ D-Bus API. A client Profile1 object is exported and registered
// once, lazily; each Dial then asks the device to connect the SPP profile
// and waits for BlueZ to hand over the socket FD. Pairing and bonding are
// out of scope: the device handle comes from the platform's device picker.
type BlueZDialer struct {
	mu         sync.Mutex
	bus        *dbus.Conn
	registered bool
	closed     bool
	path       dbus.ObjectPath
	prof       *clientProfile
}

// NewBlueZDialer creates a dialer. No D-Bus traffic happens until the first
// Dial.
func NewBlueZDialer() *BlueZDialer {
	return &BlueZDialer{}
}

type newConnection struct {
	dev dbus.ObjectPath
	fd  int
}

// clientProfile implements org.bluez.Profile1 and forwards NewConnection
// events to the dialer waiting in Dial.
type clientProfile struct {
	conns chan newConnection
}

// Release is called by BlueZ when the profile is being released.
func (p *clientProfile) Release() *dbus.Error { return nil }

// Cancel may be called to indicate a canceled request.
func (p *clientProfile) Cancel() *dbus.Error { return nil }

// RequestDisconnection is handled by closing the FD on our side.
func (p *clientProfile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

// NewConnection delivers the RFCOMM socket FD to the waiting Dial.
func (p *clientProfile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	select {
	case p.conns <- newConnection{dev: dev, fd: int(fd)}:
		return nil
	default:
		// No Dial is waiting; close the FD so it does not leak.
		_ = os.NewFile(uintptr(fd), "rfcomm").Close()
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"no receiver"}}
	}
}

// ensureProfileLocked connects the system bus and registers the client
// profile on first use. Callers hold d.mu.
func (d *BlueZDialer) ensureProfileLocked() error {
	if d.registered {
		return nil
	}

	if d.bus == nil {
		bus, err := dbus.SystemBus()
		if err != nil {
			return fmt.Errorf("transport: connect system bus: %w", err)
		}
		d.bus = bus
	}

	d.prof = &clientProfile{conns: make(chan newConnection, 1)}
	id := atomic.AddUint64(&profileCounter, 1)
	d.path = dbus.ObjectPath("/com/arenarover/roverlink/profile/p" + strconv.FormatUint(id, 10))
	if err := d.bus.Export(d.prof, d.path, profileIface); err != nil {
		return fmt.Errorf("transport: export client profile: %w", err)
	}

	pm := d.bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	opts := map[string]dbus.Variant{
		"Role": dbus.MakeVariant("client"),
	}
	if call := pm.Call(profileManagerIface+".RegisterProfile", 0, d.path, SPPUUID, opts); call.Err != nil {
		return fmt.Errorf("transport: RegisterProfile: %w", call.Err)
	}
	d.registered = true
	return nil
}

// Dial connects the SPP profile on the peer device and returns the RFCOMM
// socket as a stream. The peer handle is the BlueZ Device1 object path.
func (d *BlueZDialer) Dial(ctx context.Context, peer link.Peer) (io.ReadWriteCloser, error) {
	if peer.Handle == "" {
		return nil, errors.New("transport: device object path required")
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errors.New("transport: dialer closed")
	}
	if err := d.ensureProfileLocked(); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	bus := d.bus
	conns := d.prof.conns
	d.mu.Unlock()

	// Drop any connection left over from a previous attempt that raced with
	// cancellation.
	select {
	case stale := <-conns:
		_ = os.NewFile(uintptr(stale.fd), "rfcomm").Close()
	default:
	}

	dev := bus.Object(bluezService, dbus.ObjectPath(peer.Handle))
	if call := dev.CallWithContext(ctx, deviceIface+".ConnectProfile", 0, SPPUUID); call.Err != nil {
		return nil, fmt.Errorf("transport: ConnectProfile %s: %w", peer.Handle, call.Err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("transport: dial canceled: %w", ctx.Err())
	case res := <-conns:
		return os.NewFile(uintptr(res.fd), "rfcomm"), nil
	}
}

// Close unregisters the profile and releases the bus connection. The dialer
// cannot be reused afterwards.
func (d *BlueZDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	if d.registered {
		pm := d.bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
		_ = pm.Call(profileManagerIface+".UnregisterProfile", 0, d.path).Err
		_ = d.bus.Export(nil, d.path, profileIface)
	}
	if d.bus != nil {
		return d.bus.Close()
	}
	return nil
}
