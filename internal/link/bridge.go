package link

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrPeerClosed is returned by the bridge when the peer closes the stream.
// End-of-stream is a link failure, not a clean shutdown.
var ErrPeerClosed = fmt.Errorf("link: stream closed by peer")

// ErrShortWrite is returned when a write to the stream accepts fewer bytes
// than the message holds.
var ErrShortWrite = fmt.Errorf("link: short write to stream")

// readBufferSize bounds one inbound chunk. The wire protocol's largest
// message (a full grid object) fits comfortably.
const readBufferSize = 1024

// runBridge drives one session over an open stream: an inbound pump reading
// raw chunks into the inbound queue and an outbound pump draining the
// outbound queue into the stream. The first pump failure cancels the sibling
// and becomes the return value; the stream is closed before returning so the
// caller never inherits a live reader. The bridge has no retry policy of its
// own — that belongs to the supervisor.
func runBridge(ctx context.Context, stream io.ReadWriteCloser, inbound chan<- string, outbound <-chan string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	var closeOnce sync.Once
	closeStream := func() { closeOnce.Do(func() { stream.Close() }) }
	defer closeStream()

	go inboundPump(ctx, stream, inbound, errs)
	go outboundPump(ctx, stream, outbound, errs)

	first := <-errs
	cancel()
	// The inbound pump may be parked in a blocking Read; closing the stream
	// is the only way to unblock it.
	closeStream()
	<-errs
	return first
}

// inboundPump reads raw chunks from the stream and forwards each non-empty
// one, in read order, as a single message. The link is newline-insensitive:
// chunks are forwarded as read, with no line framing.
func inboundPump(ctx context.Context, stream io.Reader, inbound chan<- string, errs chan<- error) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			if strings.TrimSpace(chunk) != "" {
				select {
				case inbound <- chunk:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				err = ErrPeerClosed
			} else {
				err = fmt.Errorf("link: read: %w", err)
			}
			errs <- err
			return
		}
		if ctx.Err() != nil {
			errs <- ctx.Err()
			return
		}
	}
}

// outboundPump writes queued messages to the stream in enqueue order. Any
// write error or short write fails the session.
func outboundPump(ctx context.Context, stream io.Writer, outbound <-chan string, errs chan<- error) {
	for {
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case msg := <-outbound:
			n, err := stream.Write([]byte(msg))
			if err != nil {
				errs <- fmt.Errorf("link: write: %w", err)
				return
			}
			if n != len(msg) {
				errs <- ErrShortWrite
				return
			}
		}
	}
}
