// Package ffmpeg implements transcode.Pipeline by driving an ffmpeg process
// per stream. ffmpeg reads directly from the resolved media URL and writes
// to stdout; backpressure is the operating system pipe: when the consumer
// stops reading, ffmpeg blocks on write instead of buffering.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wavetap/wavetap/pkg/extract"
	"github.com/wavetap/wavetap/pkg/transcode"
)

const (
	defaultBinary         = "ffmpeg"
	defaultBitrate        = "192k"
	defaultSampleRate     = 44100
	defaultChannels       = 2
	defaultStartupTimeout = 15 * time.Second

	// killGrace bounds how long Wait blocks on a killed process that holds
	// its pipes open.
	killGrace = 5 * time.Second
)

// Option is a functional option for configuring the Pipeline.
type Option func(*Pipeline)

// WithBinary sets the ffmpeg executable path.
func WithBinary(path string) Option {
	return func(p *Pipeline) {
		p.binary = path
	}
}

// WithBitrate sets the MP3 encode bitrate (e.g. "192k").
func WithBitrate(bitrate string) Option {
	return func(p *Pipeline) {
		p.bitrate = bitrate
	}
}

// WithPCMFormat sets the sample rate and channel count of PCM streams.
func WithPCMFormat(sampleRate, channels int) Option {
	return func(p *Pipeline) {
		p.sampleRate = sampleRate
		p.channels = channels
	}
}

// WithStartupTimeout bounds the wait for the first transcoded byte.
func WithStartupTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.startupTimeout = d
	}
}

// Pipeline implements transcode.Pipeline using ffmpeg subprocesses.
type Pipeline struct {
	binary         string
	bitrate        string
	sampleRate     int
	channels       int
	startupTimeout time.Duration
}

var _ transcode.Pipeline = (*Pipeline)(nil)

// New creates an ffmpeg-backed Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		binary:         defaultBinary,
		bitrate:        defaultBitrate,
		sampleRate:     defaultSampleRate,
		channels:       defaultChannels,
		startupTimeout: defaultStartupTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// OpenAudioStream starts an ffmpeg transcode of src to incremental MP3.
func (p *Pipeline) OpenAudioStream(ctx context.Context, src *extract.ResolvedSource) (transcode.Stream, error) {
	if err := checkSource(src); err != nil {
		return nil, err
	}
	return p.open(ctx, audioArgs(src.MediaURL, p.bitrate))
}

// OpenPCMStream starts an ffmpeg decode of src to raw interleaved s16le PCM.
func (p *Pipeline) OpenPCMStream(ctx context.Context, src *extract.ResolvedSource) (transcode.Stream, error) {
	if err := checkSource(src); err != nil {
		return nil, err
	}
	return p.open(ctx, pcmArgs(src.MediaURL, p.sampleRate, p.channels))
}

// checkSource rejects sources without a locator, or whose locator is already
// known to be expired. An expired locator must fail, not silently truncate.
func checkSource(src *extract.ResolvedSource) error {
	if src == nil || src.MediaURL == "" {
		return &transcode.Error{
			Kind: transcode.KindSourceUnavailable,
			Err:  errors.New("resolved source has no media URL"),
		}
	}
	if !src.ExpiresAt.IsZero() && time.Now().After(src.ExpiresAt) {
		return &transcode.Error{
			Kind: transcode.KindSourceUnavailable,
			Err:  fmt.Errorf("media URL expired at %s", src.ExpiresAt.Format(time.RFC3339)),
		}
	}
	return nil
}

// audioArgs builds the argument list for the MP3 encode pass. Flushing is
// forced per packet so the first bytes reach the client without ffmpeg
// accumulating an output buffer.
func audioArgs(mediaURL, bitrate string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", mediaURL,
		"-vn",
		"-acodec", "libmp3lame",
		"-ab", bitrate,
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"pipe:1",
	}
}

// pcmArgs builds the argument list for the raw PCM decode pass used by the
// amplitude extractor.
func pcmArgs(mediaURL string, sampleRate, channels int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", mediaURL,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-f", "s16le",
		"pipe:1",
	}
}

// open starts ffmpeg with args and returns a stream over its stdout.
func (p *Pipeline) open(ctx context.Context, args []string) (*stream, error) {
	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.WaitDelay = killGrace

	stderr := &tailWriter{limit: 4 << 10}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &transcode.Error{Kind: transcode.KindProcessFailed, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &transcode.Error{Kind: transcode.KindProcessFailed, Err: err}
	}

	s := &stream{
		cmd:    cmd,
		out:    stdout,
		stderr: stderr,
	}
	// Kill the process if it produces nothing within the startup window;
	// Read surfaces the timeout when the pipe then drains.
	s.startupTimer = time.AfterFunc(p.startupTimeout, func() {
		s.timedOut.Store(true)
		_ = cmd.Process.Kill()
	})
	return s, nil
}

// stream is a live ffmpeg stdout stream. It implements transcode.Stream.
type stream struct {
	cmd    *exec.Cmd
	out    io.ReadCloser
	stderr *tailWriter

	startupTimer *time.Timer
	timerOnce    sync.Once
	timedOut     atomic.Bool

	waitOnce sync.Once
	waitErr  error

	closeOnce sync.Once
}

// Read pulls the next chunk from ffmpeg. The first successful read disarms
// the startup timer.
func (s *stream) Read(p []byte) (int, error) {
	n, err := s.out.Read(p)
	if n > 0 {
		s.disarmStartupTimer()
	}
	if err == nil {
		return n, nil
	}

	// The pipe drained: either a clean end of stream or a dead process.
	s.disarmStartupTimer()
	waitErr := s.wait()

	if s.timedOut.Load() {
		return n, &transcode.Error{
			Kind: transcode.KindTimeout,
			Err:  errors.New("no output within startup timeout"),
		}
	}
	if errors.Is(err, io.EOF) && waitErr == nil {
		return n, io.EOF
	}
	return n, s.exitError(err, waitErr)
}

// Close terminates the ffmpeg process promptly. Safe to call multiple times
// and required on every exit path.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.disarmStartupTimer()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.out.Close()
		_ = s.wait()
	})
	return nil
}

func (s *stream) disarmStartupTimer() {
	s.timerOnce.Do(func() {
		s.startupTimer.Stop()
	})
}

// wait reaps the process exactly once.
func (s *stream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

// exitError classifies a failed transcode from ffmpeg's stderr tail. ffmpeg
// reports origin-side failures (expired or revoked locators) as HTTP errors
// or demux errors on the input.
func (s *stream) exitError(readErr, waitErr error) error {
	diag := strings.ToLower(s.stderr.String())

	kind := transcode.KindProcessFailed
	for _, marker := range []string{
		"403", "404", "410", "forbidden", "not found", "gone",
		"server returned", "invalid data found", "connection refused",
		"input/output error",
	} {
		if strings.Contains(diag, marker) {
			kind = transcode.KindSourceUnavailable
			break
		}
	}

	cause := waitErr
	if cause == nil {
		cause = readErr
	}
	if line := lastLine(s.stderr.String()); line != "" {
		cause = fmt.Errorf("%s: %w", line, cause)
	}
	return &transcode.Error{Kind: kind, Err: cause}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// tailWriter retains the last limit bytes written to it. ffmpeg prints its
// terminal error last, so the tail is what matters for diagnostics.
type tailWriter struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.limit {
		w.buf = w.buf[len(w.buf)-w.limit:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}
