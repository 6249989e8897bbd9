package waveform_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"testing"

	"github.com/wavetap/wavetap/pkg/waveform"
)

// pcmWindows builds count windows of interleaved s16le PCM where every
// sample has the given value.
func pcmWindows(t *testing.T, value int16, frames, channels, count int) []byte {
	t.Helper()
	buf := make([]byte, frames*channels*2*count)
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(value))
	}
	return buf
}

func collect(t *testing.T, s *waveform.Stream) []waveform.Sample {
	t.Helper()
	var got []waveform.Sample
	for sample := range s.C {
		got = append(got, sample)
	}
	return got
}

func TestStart_SilenceIsZero(t *testing.T) {
	t.Parallel()
	pcm := pcmWindows(t, 0, 64, 2, 5)
	e := waveform.New(waveform.WithWindowFrames(64), waveform.WithChannels(2))

	s := e.Start(context.Background(), bytes.NewReader(pcm))
	got := collect(t, s)

	if s.Err() != nil {
		t.Fatalf("Err: %v", s.Err())
	}
	if len(got) != 5 {
		t.Fatalf("len(samples) = %d, want 5", len(got))
	}
	for _, sample := range got {
		if sample.Value != 0 {
			t.Errorf("silence sample %d has value %v", sample.Sequence, sample.Value)
		}
	}
}

func TestStart_FullScaleClampsToOne(t *testing.T) {
	t.Parallel()
	pcm := pcmWindows(t, math.MaxInt16, 32, 1, 3)
	e := waveform.New(waveform.WithWindowFrames(32), waveform.WithChannels(1))

	s := e.Start(context.Background(), bytes.NewReader(pcm))
	for sample := range s.C {
		if sample.Value != 1.0 {
			t.Errorf("full-scale sample %d = %v, want 1.0", sample.Sequence, sample.Value)
		}
	}
	if s.Err() != nil {
		t.Fatalf("Err: %v", s.Err())
	}
}

func TestStart_HalfScaleWithUnityGain(t *testing.T) {
	t.Parallel()
	pcm := pcmWindows(t, 16384, 32, 1, 1)
	e := waveform.New(
		waveform.WithWindowFrames(32),
		waveform.WithChannels(1),
		waveform.WithGain(1.0),
	)

	s := e.Start(context.Background(), bytes.NewReader(pcm))
	got := collect(t, s)

	if len(got) != 1 {
		t.Fatalf("len(samples) = %d, want 1", len(got))
	}
	if math.Abs(got[0].Value-0.5) > 1e-3 {
		t.Errorf("half-scale RMS = %v, want ~0.5", got[0].Value)
	}
}

func TestStart_SequencesStrictlyIncrease(t *testing.T) {
	t.Parallel()
	pcm := pcmWindows(t, 1000, 16, 2, 20)
	e := waveform.New(waveform.WithWindowFrames(16), waveform.WithChannels(2))

	s := e.Start(context.Background(), bytes.NewReader(pcm))
	got := collect(t, s)

	if len(got) == 0 {
		t.Fatal("no samples delivered")
	}
	for i := 1; i < len(got); i++ {
		if got[i].Sequence <= got[i-1].Sequence {
			t.Fatalf("sequence not strictly increasing: %d after %d", got[i].Sequence, got[i-1].Sequence)
		}
	}
}

func TestStart_PartialFinalWindow(t *testing.T) {
	t.Parallel()
	// One full window plus half a window.
	full := pcmWindows(t, 8000, 16, 1, 1)
	half := pcmWindows(t, 8000, 8, 1, 1)
	e := waveform.New(waveform.WithWindowFrames(16), waveform.WithChannels(1))

	s := e.Start(context.Background(), bytes.NewReader(append(full, half...)))
	got := collect(t, s)

	if s.Err() != nil {
		t.Fatalf("Err: %v", s.Err())
	}
	if len(got) != 2 {
		t.Fatalf("len(samples) = %d, want 2 (full + partial window)", len(got))
	}
	if got[1].Value == 0 {
		t.Error("partial window produced zero amplitude")
	}
}

func TestStart_SlowConsumerDropsNewestKeepsOrder(t *testing.T) {
	t.Parallel()
	pcm := pcmWindows(t, 5000, 16, 1, 10)
	e := waveform.New(
		waveform.WithWindowFrames(16),
		waveform.WithChannels(1),
		waveform.WithBufferSize(2),
	)

	// Do not read until the producer has consumed all input: everything
	// beyond the buffer capacity must be dropped, never queued.
	src := &eofSignalReader{r: bytes.NewReader(pcm), done: make(chan struct{})}
	s := e.Start(context.Background(), src)
	<-src.done
	got := collect(t, s)

	if len(got) != 2 {
		t.Fatalf("len(samples) = %d, want 2 (buffer capacity)", len(got))
	}
	if s.Dropped() != 8 {
		t.Errorf("Dropped = %d, want 8", s.Dropped())
	}
	for i := 1; i < len(got); i++ {
		if got[i].Sequence <= got[i-1].Sequence {
			t.Fatalf("delivered sequences out of order: %v", got)
		}
	}
}

func TestStart_SourceErrorSurfaces(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("transcoder died")
	r := io.MultiReader(
		bytes.NewReader(pcmWindows(t, 100, 16, 1, 1)),
		&failingReader{err: wantErr},
	)
	e := waveform.New(waveform.WithWindowFrames(16), waveform.WithChannels(1))

	s := e.Start(context.Background(), r)
	got := collect(t, s)

	if len(got) != 1 {
		t.Fatalf("len(samples) = %d, want 1 before failure", len(got))
	}
	if !errors.Is(s.Err(), wantErr) {
		t.Errorf("Err = %v, want %v", s.Err(), wantErr)
	}
}

func TestStart_ContextCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := waveform.New(waveform.WithWindowFrames(16), waveform.WithChannels(1))
	s := e.Start(ctx, bytes.NewReader(pcmWindows(t, 100, 16, 1, 100)))
	collect(t, s)

	if !errors.Is(s.Err(), context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", s.Err())
	}
}

type failingReader struct {
	err error
}

func (r *failingReader) Read([]byte) (int, error) { return 0, r.err }

// eofSignalReader closes done the first time the wrapped reader reports EOF.
type eofSignalReader struct {
	r    io.Reader
	done chan struct{}
	once sync.Once
}

func (r *eofSignalReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if errors.Is(err, io.EOF) {
		r.once.Do(func() { close(r.done) })
	}
	return n, err
}
