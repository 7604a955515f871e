package link

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arena-rover/roverlink/internal/monitoring"
	"github.com/arena-rover/roverlink/internal/timeutil"
)

// Peer identifies the one robot device a supervisor connects to. Handle is
// transport-specific (a BlueZ device object path, a tty path, ...); the
// supervisor holds a reference for the duration of a session but never owns
// the device.
type Peer struct {
	Handle string
	Name   string
}

// DisplayName returns the peer's name, or "Unknown" when discovery did not
// provide one.
func (p Peer) DisplayName() string {
	if p.Name == "" {
		return "Unknown"
	}
	return p.Name
}

// Dialer opens one byte stream to a peer. Implementations live in the
// transport package; tests use mocks.
type Dialer interface {
	Dial(ctx context.Context, peer Peer) (io.ReadWriteCloser, error)
}

// SupervisorOptions configures a Supervisor. The zero value is usable; see
// normalize for the defaults.
type SupervisorOptions struct {
	// Backoff is the fixed delay between a failed session and the next
	// connection attempt.
	Backoff time.Duration

	// QueueSize bounds both the inbound and outbound queues. The outbound
	// queue is deliberately bounded: an unbounded queue grows without limit
	// under a stuck writer, so Send drops (with a log line) instead.
	QueueSize int

	Clock timeutil.Clock
	Logf  func(format string, v ...interface{})
}

func (o SupervisorOptions) normalize() SupervisorOptions {
	if o.Backoff <= 0 {
		o.Backoff = 3 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	if o.Logf == nil {
		o.Logf = monitoring.Logf
	}
	return o
}

// Supervisor owns the connection lifecycle to a single peer: it runs the
// connect/retry loop, drives one bridge per session, and retries with a
// fixed backoff until Disconnect. Sessions are strictly sequential; a new
// one never starts before the previous one is fully torn down.
//
// Connect, Disconnect, and Send are safe to call from any goroutine and do
// not block on I/O.
type Supervisor struct {
	dialer Dialer
	opts   SupervisorOptions
	status *StatusBroadcaster

	inbound  chan string
	outbound chan string

	// connectMu serializes Connect/Disconnect end to end, so a racing pair
	// can never both observe no running loop and start two of them.
	connectMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSupervisor creates a supervisor in the Disconnected state.
func NewSupervisor(dialer Dialer, opts SupervisorOptions) *Supervisor {
	opts = opts.normalize()
	return &Supervisor{
		dialer:   dialer,
		opts:     opts,
		status:   NewStatusBroadcaster(),
		inbound:  make(chan string, opts.QueueSize),
		outbound: make(chan string, opts.QueueSize),
	}
}

// Status exposes the connection state for readers; the supervisor is the
// only writer.
func (s *Supervisor) Status() *StatusBroadcaster {
	return s.status
}

// Receive returns the ordered inbound message stream. The channel persists
// across reconnects: messages from a later session are simply further
// elements of the same stream.
func (s *Supervisor) Receive() <-chan string {
	return s.inbound
}

// Send enqueues an outbound message without blocking. Messages queued while
// disconnected are written by the next session's outbound pump; when the
// queue is full the message is dropped and logged.
func (s *Supervisor) Send(msg string) {
	select {
	case s.outbound <- msg:
	default:
		s.opts.Logf("link: outbound queue full, dropping %q", msg)
	}
}

// Connect starts (or restarts) the retry loop against the given peer. Any
// existing loop and session are torn down first, so there are never two live
// sessions. The loop itself runs in the background; Connect does not wait
// for the connection to open.
func (s *Supervisor) Connect(peer Peer) {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.teardown()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.run(ctx, peer, done)
}

// Disconnect cancels the retry loop and the active session, if any, and
// leaves the supervisor Disconnected. Calling it again (or before any
// Connect) is a no-op.
func (s *Supervisor) Disconnect() {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if s.teardown() {
		s.status.publish(State{Phase: Disconnected})
	}
}

// teardown stops the current loop and waits for its session to finish.
// Reports whether a loop was running.
func (s *Supervisor) teardown() bool {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return true
}

// run is the iterative connect/retry loop. Retries are unbounded: the robot
// link is expected to be intermittent, and only Disconnect ends the loop.
func (s *Supervisor) run(ctx context.Context, peer Peer, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			s.status.publish(State{Phase: Disconnected})
			return
		}

		s.status.publish(State{Phase: Connecting, Peer: peer.DisplayName()})
		stream, err := s.dialer.Dial(ctx, peer)
		if err != nil {
			if ctx.Err() != nil {
				s.status.publish(State{Phase: Disconnected})
				return
			}
			s.opts.Logf("link: dial %s: %v", peer.DisplayName(), err)
			if !s.waitBackoff(ctx) {
				s.status.publish(State{Phase: Disconnected})
				return
			}
			continue
		}

		sessionID := uuid.NewString()
		s.opts.Logf("link: session %s connected to %s", sessionID, peer.DisplayName())
		s.status.publish(State{Phase: Connected, Peer: peer.DisplayName()})

		err = runBridge(ctx, stream, s.inbound, s.outbound)
		if ctx.Err() != nil {
			s.status.publish(State{Phase: Disconnected})
			return
		}
		s.opts.Logf("link: session %s ended: %v", sessionID, err)

		if !s.waitBackoff(ctx) {
			s.status.publish(State{Phase: Disconnected})
			return
		}
	}
}

// waitBackoff publishes Reconnecting and sleeps for the fixed backoff.
// Reports false when the wait was cut short by cancellation. The timer is
// armed before the state is published so that anyone reacting to the
// Reconnecting state observes a live timer.
func (s *Supervisor) waitBackoff(ctx context.Context) bool {
	timer := s.opts.Clock.NewTimer(s.opts.Backoff)
	defer timer.Stop()
	s.status.publish(State{Phase: Reconnecting})

	select {
	case <-ctx.Done():
		return false
	case <-timer.C():
		return true
	}
}
