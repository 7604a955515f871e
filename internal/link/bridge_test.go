package link

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBridge(ctx context.Context, stream *TestableStream) (inbound chan string, outbound chan string, result chan error) {
	inbound = make(chan string, 16)
	outbound = make(chan string, 16)
	result = make(chan error, 1)
	go func() {
		result <- runBridge(ctx, stream, inbound, outbound)
	}()
	return inbound, outbound, result
}

func TestBridgeForwardsInboundChunksInOrder(t *testing.T) {
	stream := NewTestableStream()
	inbound, _, result := startBridge(context.Background(), stream)

	stream.AddReadData("ROBOT,1,2,N")
	select {
	case msg := <-inbound:
		assert.Equal(t, "ROBOT,1,2,N", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first chunk")
	}

	stream.AddReadData("TARGET,1,Arrow,N")
	select {
	case msg := <-inbound:
		assert.Equal(t, "TARGET,1,Arrow,N", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second chunk")
	}

	stream.EndOfStream()
	err := <-result
	assert.ErrorIs(t, err, ErrPeerClosed)
	assert.True(t, stream.Closed(), "bridge must close the stream before returning")
}

func TestBridgeSkipsWhitespaceOnlyChunks(t *testing.T) {
	stream := NewTestableStream()
	inbound, _, result := startBridge(context.Background(), stream)

	stream.AddReadData("\r\n")
	time.Sleep(20 * time.Millisecond)
	stream.AddReadData("f")

	select {
	case msg := <-inbound:
		assert.Equal(t, "f", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chunk")
	}

	stream.EndOfStream()
	<-result
}

func TestBridgeEndOfStreamIsFailure(t *testing.T) {
	stream := NewTestableStream()
	stream.EndOfStream()
	_, _, result := startBridge(context.Background(), stream)

	err := <-result
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestBridgeReadErrorFailsSession(t *testing.T) {
	stream := NewTestableStream()
	boom := errors.New("hci timeout")
	stream.FailNextRead(boom)

	_, _, result := startBridge(context.Background(), stream)
	err := <-result
	assert.ErrorIs(t, err, boom)
}

func TestBridgeWritesOutboundInOrder(t *testing.T) {
	stream := NewTestableStream()
	_, outbound, result := startBridge(context.Background(), stream)

	outbound <- "f"
	outbound <- "tl"
	outbound <- "ADD,B1,(2,3)"

	require.Eventually(t, func() bool {
		return stream.Written() == "ftlADD,B1,(2,3)"
	}, 2*time.Second, 5*time.Millisecond)

	stream.EndOfStream()
	<-result
}

func TestBridgeWriteErrorFailsSession(t *testing.T) {
	stream := NewTestableStream()
	boom := errors.New("carrier lost")
	stream.FailNextWrite(boom)

	_, outbound, result := startBridge(context.Background(), stream)
	outbound <- "f"

	err := <-result
	assert.ErrorIs(t, err, boom)
	assert.True(t, stream.Closed())
}

// shortWriter accepts one byte fewer than offered.
type shortWriter struct {
	*TestableStream
}

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 1 {
		return s.TestableStream.Write(p[:len(p)-1])
	}
	return s.TestableStream.Write(p)
}

func TestBridgeShortWriteFailsSession(t *testing.T) {
	stream := &shortWriter{TestableStream: NewTestableStream()}
	inbound := make(chan string, 1)
	outbound := make(chan string, 1)
	result := make(chan error, 1)
	go func() {
		result <- runBridge(context.Background(), stream, inbound, outbound)
	}()

	outbound <- "sendArena"
	err := <-result
	assert.ErrorIs(t, err, ErrShortWrite)
}

func TestBridgeCancellationStopsBothPumps(t *testing.T) {
	stream := NewTestableStream()
	ctx, cancel := context.WithCancel(context.Background())
	_, _, result := startBridge(ctx, stream)

	cancel()
	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop on cancellation")
	}
	assert.True(t, stream.Closed())
}
