// Package mock provides in-memory transcode.Pipeline and transcode.Stream
// doubles for tests.
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/wavetap/wavetap/pkg/extract"
	"github.com/wavetap/wavetap/pkg/transcode"
)

// Pipeline is a configurable test double for transcode.Pipeline. Unset
// function fields yield empty streams.
type Pipeline struct {
	AudioFunc func(ctx context.Context, src *extract.ResolvedSource) (transcode.Stream, error)
	PCMFunc   func(ctx context.Context, src *extract.ResolvedSource) (transcode.Stream, error)
}

var _ transcode.Pipeline = (*Pipeline)(nil)

func (p *Pipeline) OpenAudioStream(ctx context.Context, src *extract.ResolvedSource) (transcode.Stream, error) {
	if p.AudioFunc == nil {
		return NewStream(nil), nil
	}
	return p.AudioFunc(ctx, src)
}

func (p *Pipeline) OpenPCMStream(ctx context.Context, src *extract.ResolvedSource) (transcode.Stream, error) {
	if p.PCMFunc == nil {
		return NewStream(nil), nil
	}
	return p.PCMFunc(ctx, src)
}

// Stream serves a fixed byte payload and records whether it was closed.
// ErrAfter, when set, is returned after the payload drains instead of io.EOF.
type Stream struct {
	mu       sync.Mutex
	r        *bytes.Reader
	ErrAfter error
	closed   chan struct{}
	once     sync.Once
}

var _ transcode.Stream = (*Stream)(nil)

// NewStream creates a Stream serving data.
func NewStream(data []byte) *Stream {
	return &Stream{
		r:      bytes.NewReader(data),
		closed: make(chan struct{}),
	}
}

func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	n, err := s.r.Read(p)
	if err == io.EOF && s.ErrAfter != nil {
		return n, s.ErrAfter
	}
	return n, err
}

func (s *Stream) Close() error {
	s.once.Do(func() {
		close(s.closed)
	})
	return nil
}

// Closed returns a channel that is closed once Close has been called.
func (s *Stream) Closed() <-chan struct{} { return s.closed }

// IsClosed reports whether Close has been called.
func (s *Stream) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
