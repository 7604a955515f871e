package transport

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/arena-rover/roverlink/internal/link"
)

// DefaultFixtureScript is a short scripted session used by dev mode when no
// fixture file is given: a status line, a couple of pose updates, and a
// target identification.
var DefaultFixtureScript = []string{
	`{"status":"ready"}`,
	"ROBOT,2,2,N",
	"ROBOT,2,3,N",
	"TARGET,1,36,S",
	`{"status":"finished exploring"}`,
}

// FixtureStream replays a scripted sequence of inbound messages, one per
// read, paced by a fixed interval. Writes are recorded and acknowledged.
// After the script is exhausted reads block until the stream is closed, so
// the link stays up.
type FixtureStream struct {
	interval time.Duration

	mu      sync.Mutex
	script  []string
	pos     int
	written []string
	closed  chan struct{}
	once    sync.Once
}

// NewFixtureStream creates a stream replaying script with the given pacing.
func NewFixtureStream(script []string, interval time.Duration) *FixtureStream {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &FixtureStream{
		interval: interval,
		script:   script,
		closed:   make(chan struct{}),
	}
}

// Read returns the next scripted message after the pacing interval elapses.
func (s *FixtureStream) Read(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, io.EOF
	case <-time.After(s.interval):
	}

	s.mu.Lock()
	if s.pos >= len(s.script) {
		s.mu.Unlock()
		// Script exhausted; hold the connection open.
		<-s.closed
		return 0, io.EOF
	}
	msg := s.script[s.pos]
	s.pos++
	s.mu.Unlock()

	n := copy(p, msg)
	return n, nil
}

// Write records the outbound message and reports success.
func (s *FixtureStream) Write(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	s.mu.Lock()
	s.written = append(s.written, string(p))
	s.mu.Unlock()
	return len(p), nil
}

// Close ends the session. Safe to call more than once.
func (s *FixtureStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Written returns a copy of every message written to the stream.
func (s *FixtureStream) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.written))
	copy(out, s.written)
	return out
}

// FixtureDialer hands out fixture streams, one per dial. It backs dev mode
// where no robot hardware is attached.
type FixtureDialer struct {
	Script   []string
	Interval time.Duration

	mu      sync.Mutex
	dials   int
	streams []*FixtureStream
}

// Dial returns a fresh fixture stream replaying the configured script.
func (d *FixtureDialer) Dial(ctx context.Context, peer link.Peer) (io.ReadWriteCloser, error) {
	script := d.Script
	if script == nil {
		script = DefaultFixtureScript
	}
	s := NewFixtureStream(script, d.Interval)
	d.mu.Lock()
	d.dials++
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

// Dials reports how many times Dial was called.
func (d *FixtureDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// LastStream returns the most recently dialed stream, or nil.
func (d *FixtureDialer) LastStream() *FixtureStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}
