// Package waveform computes a decimated loudness envelope from a raw PCM
// stream. One normalized RMS magnitude is produced per fixed-size window of
// interleaved s16le samples, each tagged with a strictly increasing sequence
// number so consumers can detect dropped samples.
package waveform

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync/atomic"
)

const (
	defaultWindowFrames = 1024
	defaultChannels     = 2
	defaultGain         = 2.0
	defaultBufferSize   = 64
)

// Sample is one point of the amplitude envelope. Value is in [0, 1];
// Sequence increases strictly, starting at 0, including for samples that are
// later dropped — gaps in delivered sequences mean a slow consumer.
type Sample struct {
	Value    float64
	Sequence uint64
}

// Option is a functional option for configuring the Extractor.
type Option func(*Extractor)

// WithWindowFrames sets the number of PCM frames per amplitude window.
func WithWindowFrames(frames int) Option {
	return func(e *Extractor) {
		e.windowFrames = frames
	}
}

// WithChannels sets the channel count of the incoming PCM stream.
func WithChannels(channels int) Option {
	return func(e *Extractor) {
		e.channels = channels
	}
}

// WithGain sets the factor applied to the normalized RMS before clamping.
// Raw RMS of typical program material sits well below full scale; a gain of
// 2 fills the visual range.
func WithGain(gain float64) Option {
	return func(e *Extractor) {
		e.gain = gain
	}
}

// WithBufferSize sets the sample channel capacity. When the consumer falls
// more than this many samples behind, the newest samples are dropped.
func WithBufferSize(n int) Option {
	return func(e *Extractor) {
		e.buffer = n
	}
}

// Extractor turns PCM byte streams into amplitude sample streams. An
// Extractor is stateless and may be shared; each Start call produces an
// independent Stream.
type Extractor struct {
	windowFrames int
	channels     int
	gain         float64
	buffer       int
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		windowFrames: defaultWindowFrames,
		channels:     defaultChannels,
		gain:         defaultGain,
		buffer:       defaultBufferSize,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Stream is a live amplitude sequence. Receive from C until it is closed,
// then consult Err for the terminal state (nil on clean end of stream).
type Stream struct {
	// C delivers samples in strictly increasing sequence order. Closed when
	// the PCM source ends or fails.
	C <-chan Sample

	c       chan Sample
	err     error
	dropped atomic.Uint64
}

// Err reports the terminal error of the stream. Only valid after C closed.
func (s *Stream) Err() error { return s.err }

// Dropped reports how many samples were discarded because the consumer was
// slower than production.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }

// Start begins reading interleaved s16le PCM from r and returns the
// resulting amplitude stream. Extraction stops when r is exhausted, r fails,
// or ctx is cancelled; r is not closed by the extractor.
func (e *Extractor) Start(ctx context.Context, r io.Reader) *Stream {
	c := make(chan Sample, e.buffer)
	s := &Stream{C: c, c: c}
	go e.run(ctx, r, s)
	return s
}

func (e *Extractor) run(ctx context.Context, r io.Reader, s *Stream) {
	defer close(s.c)

	windowBytes := e.windowFrames * e.channels * 2
	buf := make([]byte, windowBytes)
	var seq uint64

	for {
		if ctx.Err() != nil {
			s.err = ctx.Err()
			return
		}

		n, err := io.ReadFull(r, buf)
		if n >= 2 {
			sample := Sample{
				Value:    e.amplitude(buf[:n-n%2]),
				Sequence: seq,
			}
			seq++

			// Send without blocking: a stalled consumer drops the newest
			// sample instead of stalling extraction. Sequence numbers keep
			// increasing so the gap is detectable.
			select {
			case s.c <- sample:
			default:
				s.dropped.Add(1)
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return
			}
			s.err = err
			return
		}
	}
}

// amplitude computes the normalized RMS magnitude of one window of s16le
// samples, scaled by the gain and clamped to [0, 1].
func (e *Extractor) amplitude(pcm []byte) float64 {
	count := len(pcm) / 2
	if count == 0 {
		return 0
	}

	var sumSquares float64
	for i := 0; i < count; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sumSquares += v * v
	}

	rms := math.Sqrt(sumSquares/float64(count)) / 32768.0
	return math.Min(rms*e.gain, 1.0)
}
