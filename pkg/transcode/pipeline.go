// Package transcode defines the contract for converting a resolved media
// source into streamable audio byte sequences. The ffmpeg-backed
// implementation lives in [github.com/wavetap/wavetap/pkg/transcode/ffmpeg];
// a test double lives in [github.com/wavetap/wavetap/pkg/transcode/mock].
package transcode

import (
	"context"
	"fmt"
	"io"

	"github.com/wavetap/wavetap/pkg/extract"
)

// Stream is a finite, non-restartable sequence of audio bytes produced
// incrementally by an external transcoder.
//
// Read blocks until data is available, returns io.EOF on a clean end of
// stream, or a *Error when the transcoder fails. Bytes already read are
// never retracted. Buffering between producer and consumer is bounded: a
// consumer that stops reading throttles the transcoder rather than growing a
// queue.
//
// Close terminates the underlying transcoder process promptly and must be
// called on every exit path; it is safe to call more than once.
type Stream interface {
	io.Reader
	io.Closer
}

// Pipeline opens transcoding streams against a resolved source. Both stream
// kinds run as independent external processes so a stalled consumer of one
// never delays the other.
type Pipeline interface {
	// OpenAudioStream starts a transcode of src into a streamable audio
	// container (MP3). The stream's first byte is subject to the pipeline's
	// startup timeout.
	OpenAudioStream(ctx context.Context, src *extract.ResolvedSource) (Stream, error)

	// OpenPCMStream starts a decode of src into raw interleaved s16le PCM
	// for amplitude analysis.
	OpenPCMStream(ctx context.Context, src *extract.ResolvedSource) (Stream, error)
}

// ErrorKind classifies a transcoding failure.
type ErrorKind string

const (
	// KindProcessFailed means the transcoder exited non-zero or could not
	// be started.
	KindProcessFailed ErrorKind = "process_failed"

	// KindTimeout means the transcoder produced no output within the
	// startup window.
	KindTimeout ErrorKind = "timeout"

	// KindSourceUnavailable means the resolved media locator stopped
	// working (expired, revoked, or rejected by the origin).
	KindSourceUnavailable ErrorKind = "source_unavailable"
)

// Error is the failure surfaced by a Stream. Use errors.As to inspect the
// kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transcode: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("transcode: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }
