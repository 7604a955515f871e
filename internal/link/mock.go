package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// TestableStream implements io.ReadWriteCloser with configurable behaviour
// for testing the bridge and supervisor without a real link. Reads block
// until data is added, an error is injected, or the stream is closed, which
// matches how an RFCOMM socket behaves.
type TestableStream struct {
	mu       sync.Mutex
	readCond *sync.Cond

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer

	readErr  error
	writeErr error
	closed   bool
	eof      bool
}

// NewTestableStream creates an open stream with empty buffers.
func NewTestableStream() *TestableStream {
	s := &TestableStream{}
	s.readCond = sync.NewCond(&s.mu)
	return s
}

// Read blocks until data, an injected error, EOF, or Close.
func (s *TestableStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.readBuf.Len() > 0 {
			return s.readBuf.Read(p)
		}
		if s.readErr != nil {
			err := s.readErr
			s.readErr = nil
			return 0, err
		}
		if s.eof {
			return 0, io.EOF
		}
		if s.closed {
			return 0, errors.New("stream closed")
		}
		s.readCond.Wait()
	}
}

// Write appends to the write buffer unless a write error is injected or the
// stream is closed.
func (s *TestableStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.New("stream closed")
	}
	if s.writeErr != nil {
		err := s.writeErr
		s.writeErr = nil
		return 0, err
	}
	return s.writeBuf.Write(p)
}

// Close marks the stream closed and wakes any blocked reader.
func (s *TestableStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.readCond.Broadcast()
	return nil
}

// AddReadData makes data available to subsequent Read calls.
func (s *TestableStream) AddReadData(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readBuf.WriteString(data)
	s.readCond.Broadcast()
}

// FailNextRead makes the next Read (after the buffer drains) return err.
func (s *TestableStream) FailNextRead(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
	s.readCond.Broadcast()
}

// EndOfStream makes Read return io.EOF once the buffer drains, simulating
// the peer closing the connection.
func (s *TestableStream) EndOfStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eof = true
	s.readCond.Broadcast()
}

// FailNextWrite makes the next Write return err.
func (s *TestableStream) FailNextWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Written returns everything written to the stream so far.
func (s *TestableStream) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeBuf.String()
}

// Closed reports whether Close was called.
func (s *TestableStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// MockDialer hands out queued streams (or errors) and tracks how many of its
// streams are open at once, so tests can assert that sessions never overlap.
type MockDialer struct {
	mu       sync.Mutex
	results  []mockDialResult
	idx      int
	dials    int
	open     int
	maxOpen  int
	lastPeer Peer
}

type mockDialResult struct {
	stream *TestableStream
	err    error
}

// NewMockDialer creates an empty dialer; queue results with AddStream and
// AddError. A dial past the end of the queue returns an error.
func NewMockDialer() *MockDialer {
	return &MockDialer{}
}

// AddStream queues a stream to be returned by a subsequent Dial.
func (d *MockDialer) AddStream(s *TestableStream) *MockDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, mockDialResult{stream: s})
	return d
}

// AddError queues a dial failure.
func (d *MockDialer) AddError(err error) *MockDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, mockDialResult{err: err})
	return d
}

// Dial returns the next queued result.
func (d *MockDialer) Dial(ctx context.Context, peer Peer) (io.ReadWriteCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	d.lastPeer = peer
	if d.idx >= len(d.results) {
		return nil, errors.New("mock dialer: no more streams")
	}
	res := d.results[d.idx]
	d.idx++
	if res.err != nil {
		return nil, res.err
	}

	d.open++
	if d.open > d.maxOpen {
		d.maxOpen = d.open
	}
	return &trackedStream{TestableStream: res.stream, dialer: d}, nil
}

// Dials returns how many times Dial was called.
func (d *MockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// MaxOpen returns the peak number of concurrently open streams.
func (d *MockDialer) MaxOpen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxOpen
}

// LastPeer returns the peer passed to the most recent Dial.
func (d *MockDialer) LastPeer() Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastPeer
}

// trackedStream decrements the dialer's open count exactly once on Close.
type trackedStream struct {
	*TestableStream
	dialer    *MockDialer
	closeOnce sync.Once
}

func (t *trackedStream) Close() error {
	t.closeOnce.Do(func() {
		t.dialer.mu.Lock()
		t.dialer.open--
		t.dialer.mu.Unlock()
	})
	return t.TestableStream.Close()
}
