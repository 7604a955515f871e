package transport

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.bug.st/serial"

	"github.com/arena-rover/roverlink/internal/link"
)

func TestPortOptionsNormalizeDefaults(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 115200, opts.BaudRate)
	assert.Equal(t, 8, opts.DataBits)
	assert.Equal(t, 1, opts.StopBits)
	assert.Equal(t, "N", opts.Parity)
}

func TestPortOptionsNormalizeParityAliases(t *testing.T) {
	opts, err := PortOptions{Parity: "even"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "E", opts.Parity)

	opts, err = PortOptions{Parity: " odd "}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "O", opts.Parity)
}

func TestPortOptionsNormalizeRejectsBadValues(t *testing.T) {
	_, err := PortOptions{DataBits: 4}.Normalize()
	assert.Error(t, err)

	_, err = PortOptions{StopBits: 3}.Normalize()
	assert.Error(t, err)

	_, err = PortOptions{Parity: "M"}.Normalize()
	assert.Error(t, err)
}

func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 9600, Parity: "E"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)
}

func TestMACFromDevicePath(t *testing.T) {
	assert.Equal(t, "A0:B1:C2:D3:E4:F5",
		MACFromDevicePath("/org/bluez/hci0/dev_A0_B1_C2_D3_E4_F5"))
	assert.Equal(t, "", MACFromDevicePath("/org/bluez/hci0"))
}

func TestFixtureStreamReplaysScript(t *testing.T) {
	s := NewFixtureStream([]string{"ROBOT,2,2,N", `{"status":"ready"}`}, time.Millisecond)
	defer s.Close()

	buf := make([]byte, 64)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ROBOT,2,2,N", string(buf[:n]))

	n, err = s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, `{"status":"ready"}`, string(buf[:n]))
}

func TestFixtureStreamBlocksAfterScriptUntilClose(t *testing.T) {
	s := NewFixtureStream([]string{"one"}, time.Millisecond)

	buf := make([]byte, 8)
	_, err := s.Read(buf)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Read(buf)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("read returned before close")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, s.Close())
	select {
	case err := <-done:
		assert.Equal(t, io.EOF, err)
	case <-time.After(time.Second):
		t.Fatal("read did not unblock after close")
	}
}

func TestFixtureStreamRecordsWrites(t *testing.T) {
	s := NewFixtureStream(nil, time.Millisecond)
	defer s.Close()

	n, err := s.Write([]byte("f"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"f"}, s.Written())

	require.NoError(t, s.Close())
	_, err = s.Write([]byte("r"))
	assert.Equal(t, io.ErrClosedPipe, err)
}

func TestFixtureDialerHandsOutFreshStreams(t *testing.T) {
	d := &FixtureDialer{Script: []string{"x"}, Interval: time.Millisecond}

	s1, err := d.Dial(t.Context(), link.Peer{Handle: "fixture"})
	require.NoError(t, err)
	s2, err := d.Dial(t.Context(), link.Peer{Handle: "fixture"})
	require.NoError(t, err)

	assert.NotSame(t, s1, s2)
	assert.Equal(t, 2, d.Dials())
	assert.Same(t, s2.(*FixtureStream), d.LastStream())

	s1.Close()
	s2.Close()
}
