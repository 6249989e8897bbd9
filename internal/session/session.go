// Package session binds one resolved media source to its dependent
// streaming branches and owns their lifecycle. A StreamSession is created on
// the first request for a URL, shared by concurrent audio and amplitude
// consumers of that URL, and torn down — killing any external transcoder
// processes — when its consumers are gone or an unrecoverable error occurs.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wavetap/wavetap/pkg/extract"
	"github.com/wavetap/wavetap/pkg/transcode"
)

// State is the lifecycle phase of a StreamSession.
type State string

const (
	StatePending       State = "pending"
	StateResolving     State = "resolving"
	StateStreaming     State = "streaming"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateResolveFailed State = "resolve_failed"
)

// Terminal reports whether s is an end state that permits no further
// transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateResolveFailed:
		return true
	}
	return false
}

// Branch identifies one of the two consumer pipelines of a session.
type Branch string

const (
	// BranchAudio is the transcoded audio stream consumed by HTTP clients.
	BranchAudio Branch = "audio"

	// BranchAmplitude is the PCM stream feeding amplitude extraction for
	// the live channel.
	BranchAmplitude Branch = "amplitude"
)

// ErrSessionClosed is returned when attaching to a session that already
// reached a terminal state.
var ErrSessionClosed = errors.New("session: already closed")

// StreamSession ties one URL to one resolution result and the transcoder
// processes spawned for it. The two branches run concurrently and
// independently: neither can block the other, and each owns its own external
// process.
type StreamSession struct {
	id    uuid.UUID
	url   string
	coord *Coordinator

	// resolved is closed once resolution finished, successfully or not.
	resolved chan struct{}

	mu         sync.Mutex
	state      State
	source     *extract.ResolvedSource
	resolveErr error
	seen       map[Branch]bool
	open       map[*branchStream]struct{}
	attached   int
	finished   int
	branchErr  error
}

// ID returns the session's unique identifier.
func (s *StreamSession) ID() uuid.UUID { return s.id }

// URL returns the source URL the session was started for.
func (s *StreamSession) URL() string { return s.url }

// State returns the current lifecycle state.
func (s *StreamSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Resolved blocks until resolution finished and returns the shared source.
// All consumers of the session receive the same result; a resolution failure
// is delivered to every caller.
func (s *StreamSession) Resolved(ctx context.Context) (*extract.ResolvedSource, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.resolved:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source, s.resolveErr
}

// AttachAudio opens the transcoded audio branch. The returned stream is
// bound to ctx: cancellation (client disconnect) kills its transcoder. The
// caller must Close the stream on every exit path; Close also reports the
// branch outcome back to the session.
func (s *StreamSession) AttachAudio(ctx context.Context) (transcode.Stream, error) {
	return s.attach(ctx, BranchAudio)
}

// AttachAmplitude opens the raw PCM branch feeding amplitude extraction.
// Same contract as AttachAudio.
func (s *StreamSession) AttachAmplitude(ctx context.Context) (transcode.Stream, error) {
	return s.attach(ctx, BranchAmplitude)
}

func (s *StreamSession) attach(ctx context.Context, branch Branch) (transcode.Stream, error) {
	src, err := s.Resolved(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.mu.Unlock()

	var raw transcode.Stream
	start := time.Now()
	switch branch {
	case BranchAudio:
		raw, err = s.coord.pipeline.OpenAudioStream(ctx, src)
	case BranchAmplitude:
		raw, err = s.coord.pipeline.OpenPCMStream(ctx, src)
	}
	if err != nil {
		// A session whose only consumer failed to attach would otherwise
		// linger in the coordinator forever.
		s.mu.Lock()
		idle := s.attached == 0 && !s.state.Terminal()
		if idle {
			s.state = StateFailed
		}
		s.mu.Unlock()
		if idle {
			s.coord.release(s)
		}
		return nil, err
	}

	bs := &branchStream{Stream: raw, sess: s, branch: branch, opened: start}

	s.mu.Lock()
	s.seen[branch] = true
	s.open[bs] = struct{}{}
	s.attached++
	// The session is streaming once both consumer kinds are attached.
	if !s.state.Terminal() && s.seen[BranchAudio] && s.seen[BranchAmplitude] {
		s.state = StateStreaming
	}
	s.mu.Unlock()

	s.coord.metrics.ActiveStreams.Add(context.Background(), 1)
	return bs, nil
}

// finishBranch records the outcome of one branch and completes the session
// once every attached branch has finished.
func (s *StreamSession) finishBranch(bs *branchStream, err error) {
	s.coord.metrics.ActiveStreams.Add(context.Background(), -1)

	s.mu.Lock()
	delete(s.open, bs)
	s.finished++
	if err != nil && s.branchErr == nil {
		s.branchErr = err
	}
	done := s.finished == s.attached && !s.state.Terminal()
	if done {
		if s.branchErr != nil {
			s.state = StateFailed
		} else {
			s.state = StateCompleted
		}
	}
	s.mu.Unlock()

	if done {
		s.coord.release(s)
	}
}

// Close force-terminates the session, killing any running transcoders. Used
// on server shutdown; normal teardown happens through branch completion.
func (s *StreamSession) Close() error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	s.state = StateFailed
	streams := make([]*branchStream, 0, len(s.open))
	for bs := range s.open {
		streams = append(streams, bs)
	}
	s.open = make(map[*branchStream]struct{})
	s.mu.Unlock()

	for _, bs := range streams {
		_ = bs.Close()
	}
	s.coord.release(s)
	return nil
}

// resolve runs the single resolver invocation for this session. It uses a
// background context bounded by the resolver's own timeout: a joiner that
// disconnects mid-resolution must not poison the result for other consumers
// of the same URL.
func (s *StreamSession) resolve() {
	s.mu.Lock()
	s.state = StateResolving
	s.mu.Unlock()

	start := time.Now()
	src, err := s.coord.resolver.Resolve(context.Background(), s.url)
	s.coord.metrics.ResolveDuration.Record(context.Background(), time.Since(start).Seconds())
	s.coord.metrics.RecordResolution(context.Background(), resolutionStatus(err))

	s.mu.Lock()
	if err != nil {
		s.resolveErr = err
		s.state = StateResolveFailed
	} else {
		s.source = src
	}
	s.mu.Unlock()
	close(s.resolved)

	if err != nil {
		s.coord.release(s)
		return
	}
	// The consumer that started the session may have disconnected during
	// resolution; reap the session if nobody attaches.
	time.AfterFunc(idleGrace, s.reapIfIdle)
}

// idleGrace is how long a resolved session may sit without any consumer
// before it is released.
const idleGrace = time.Minute

func (s *StreamSession) reapIfIdle() {
	s.mu.Lock()
	if s.state.Terminal() || s.attached > 0 {
		s.mu.Unlock()
		return
	}
	s.state = StateCompleted
	s.mu.Unlock()
	s.coord.release(s)
}

func resolutionStatus(err error) string {
	if err == nil {
		return "ok"
	}
	var resErr *extract.ResolutionError
	if errors.As(err, &resErr) {
		return string(resErr.Kind)
	}
	return "internal"
}

// branchStream wraps a transcode.Stream so that closing it reports the
// branch outcome to its session exactly once.
type branchStream struct {
	transcode.Stream
	sess   *StreamSession
	branch Branch
	opened time.Time

	firstByte sync.Once
	failMu    sync.Mutex
	fail      error
	closeOnce sync.Once
}

func (b *branchStream) Read(p []byte) (int, error) {
	n, err := b.Stream.Read(p)
	if n > 0 {
		b.firstByte.Do(func() {
			b.sess.coord.metrics.TranscodeStartup.Record(
				context.Background(), time.Since(b.opened).Seconds())
		})
	}
	if err != nil && !errors.Is(err, io.EOF) {
		b.failMu.Lock()
		if b.fail == nil {
			b.fail = err
		}
		b.failMu.Unlock()
	}
	return n, err
}

func (b *branchStream) Close() error {
	b.closeOnce.Do(func() {
		_ = b.Stream.Close()
		b.failMu.Lock()
		err := b.fail
		b.failMu.Unlock()
		b.sess.finishBranch(b, err)
	})
	return nil
}
