package jobs

import (
	"io"
	"sync"
)

type flusher interface {
	Flush()
}

// streamWriter forwards engine output to the transport, flushing after every
// write so records reach the client as they are produced. The first write
// error is kept and fails every later write.
type streamWriter struct {
	mu      sync.Mutex
	w       io.Writer
	onError func(error)
	err     error
	written int64
}

func newStreamWriter(w io.Writer, onError func(error)) *streamWriter {
	return &streamWriter{w: w, onError: onError}
}

func (s *streamWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return 0, err
	}
	n, err := s.w.Write(p)
	s.written += int64(n)
	if err == nil {
		if f, ok := s.w.(flusher); ok {
			f.Flush()
		}
		s.mu.Unlock()
		return n, nil
	}
	s.err = err
	s.mu.Unlock()
	if s.onError != nil {
		s.onError(err)
	}
	return n, err
}

// Err returns the first transport error.
func (s *streamWriter) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Written returns the number of bytes accepted by the transport.
func (s *streamWriter) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
