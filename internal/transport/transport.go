// Package transport provides link.Dialer implementations: a BlueZ RFCOMM
// SPP dialer for paired Bluetooth devices (Linux), a plain serial dialer for
// RFCOMM sockets already bound to a tty, and a fixture dialer for dev mode.
package transport

import "strings"

// SPPUUID is the Serial Port Profile UUID used for every RFCOMM connection
// attempt. It is the one well-known constant of the link layer.
const SPPUUID = "00001101-0000-1000-8000-00805f9b34fb"

// MACFromDevicePath extracts the Bluetooth address from a BlueZ device
// object path such as /org/bluez/hci0/dev_A0_B1_C2_D3_E4_F5.
func MACFromDevicePath(path string) string {
	idx := strings.LastIndex(path, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(path[idx+5:], "_", ":")
}
