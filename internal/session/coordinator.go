package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wavetap/wavetap/internal/observe"
	"github.com/wavetap/wavetap/pkg/extract"
	"github.com/wavetap/wavetap/pkg/transcode"
)

// Coordinator hands out sessions keyed by source URL. Concurrent requests
// for the same URL share one session while it is active, so a URL is
// resolved exactly once no matter how many consumers arrive for it.
type Coordinator struct {
	resolver extract.Resolver
	pipeline transcode.Pipeline
	metrics  *observe.Metrics
	log      *slog.Logger

	mu     sync.Mutex
	active map[string]*StreamSession
}

// NewCoordinator builds a Coordinator over the given resolver and transcode
// pipeline. A nil logger defaults to slog.Default.
func NewCoordinator(resolver extract.Resolver, pipeline transcode.Pipeline, metrics *observe.Metrics, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		resolver: resolver,
		pipeline: pipeline,
		metrics:  metrics,
		log:      log,
		active:   make(map[string]*StreamSession),
	}
}

// Start returns the active session for url, creating one and beginning
// resolution when none exists. Resolution runs asynchronously; callers wait
// on it through Resolved or the Attach methods.
func (c *Coordinator) Start(url string) *StreamSession {
	c.mu.Lock()
	if s, ok := c.active[url]; ok {
		c.mu.Unlock()
		return s
	}
	s := &StreamSession{
		id:       uuid.New(),
		url:      url,
		coord:    c,
		state:    StatePending,
		resolved: make(chan struct{}),
		seen:     make(map[Branch]bool),
		open:     make(map[*branchStream]struct{}),
	}
	c.active[url] = s
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(context.Background(), 1)
	c.log.Debug("session started", "session_id", s.id, "url", url)
	go s.resolve()
	return s
}

// Resolve returns metadata for url. It shares the in-flight resolution of an
// active session when one exists and queries the resolver directly
// otherwise, so metadata-only requests never create sessions.
func (c *Coordinator) Resolve(ctx context.Context, url string) (*extract.ResolvedSource, error) {
	if s, ok := c.Lookup(url); ok {
		return s.Resolved(ctx)
	}
	start := time.Now()
	src, err := c.resolver.Resolve(ctx, url)
	c.metrics.ResolveDuration.Record(ctx, time.Since(start).Seconds())
	c.metrics.RecordResolution(ctx, resolutionStatus(err))
	return src, err
}

// Lookup returns the active session for url, if any.
func (c *Coordinator) Lookup(url string) (*StreamSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.active[url]
	return s, ok
}

// Close force-terminates every active session. Called on server shutdown.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	sessions := make([]*StreamSession, 0, len(c.active))
	for _, s := range c.active {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
	return nil
}

// release drops a terminal session from the active set. Idempotent: a
// session can reach release through branch completion and a concurrent
// Close.
func (c *Coordinator) release(s *StreamSession) {
	c.mu.Lock()
	cur, ok := c.active[s.url]
	if ok && cur == s {
		delete(c.active, s.url)
	}
	c.mu.Unlock()
	if !ok || cur != s {
		return
	}

	c.metrics.ActiveSessions.Add(context.Background(), -1)
	c.log.Debug("session finished", "session_id", s.id, "url", s.url, "state", s.State())
}
