package server

import (
	"io"
	"sync"
)

// fakeStream is an in-memory LineStream for driving the session state
// machine in tests. Inbound lines are pushed into in; outbound lines appear
// on writes as the write pump flushes them.
type fakeStream struct {
	in     chan string
	writes chan string
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		in:     make(chan string, 16),
		writes: make(chan string, 512),
		closed: make(chan struct{}),
	}
}

func (f *fakeStream) ReadLine() (string, error) {
	select {
	case line := <-f.in:
		return line, nil
	case <-f.closed:
		return "", io.EOF
	}
}

func (f *fakeStream) WriteLine(line string) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}

	select {
	case f.writes <- line:
		return nil
	default:
		return io.ErrShortWrite
	}
}

func (f *fakeStream) Close() error {
	f.once.Do(func() {
		close(f.closed)
	})
	return nil
}

func (f *fakeStream) RemoteAddr() string {
	return "fake:0"
}

// push delivers a raw client line, already framed the way a real client
// frames it.
func (f *fakeStream) push(payload string) {
	f.in <- FrameLine(payload)
}
