// Package server exposes the wavetap HTTP and WebSocket surface: source
// metadata, progressive MP3 streaming, search, live amplitude envelopes,
// plus health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/wavetap/wavetap/internal/config"
	"github.com/wavetap/wavetap/internal/health"
	"github.com/wavetap/wavetap/internal/observe"
	"github.com/wavetap/wavetap/internal/session"
	"github.com/wavetap/wavetap/pkg/extract"
)

// shutdownTimeout bounds the graceful drain of in-flight requests once the
// run context is cancelled.
const shutdownTimeout = 10 * time.Second

// Server serves the public API over one listener.
type Server struct {
	cfg      *config.Config
	log      *slog.Logger
	coord    *session.Coordinator
	resolver extract.Resolver
	metrics  *observe.Metrics
	version  string
}

// New builds a Server. The resolver is used directly for search queries;
// everything session-shaped goes through coord. A nil logger defaults to
// slog.Default.
func New(cfg *config.Config, coord *session.Coordinator, resolver extract.Resolver, metrics *observe.Metrics, log *slog.Logger, version string) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		log:      log,
		coord:    coord,
		resolver: resolver,
		metrics:  metrics,
		version:  version,
	}
}

// Handler returns the full route table wrapped in the CORS and observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /ws/waveform", s.handleWaveform)
	mux.Handle("GET /metrics", promhttp.Handler())

	hc := health.New(
		health.Binary("resolver", s.cfg.Resolver.Binary),
		health.Binary("transcoder", s.cfg.Transcoder.Binary),
	)
	hc.Register(mux)

	var h http.Handler = mux
	h = observe.Middleware(s.metrics)(h)
	h = s.cors(h)
	return h
}

// Run listens on the configured address and serves until ctx is cancelled,
// then drains in-flight requests and tears down active sessions.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Server.ListenAddr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// No WriteTimeout: /stream and /ws/waveform responses are
		// open-ended.
	}

	s.log.Info("server listening",
		"addr", ln.Addr().String(),
		"tls", s.cfg.Server.TLS != nil)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := s.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	})

	g.Go(func() error {
		<-ctx.Done()
		// Kill active sessions first: streaming handlers block on their
		// transcoder pipes and would otherwise hold the drain open.
		_ = s.coord.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
