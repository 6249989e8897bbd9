// Package ytdlp implements extract.Resolver on top of the yt-dlp command
// line extractor. Each call spawns one short-lived yt-dlp process in JSON
// dump mode; no media bytes are downloaded.
package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"strconv"
	"time"

	"github.com/wavetap/wavetap/pkg/extract"
)

const (
	defaultBinary  = "yt-dlp"
	defaultTimeout = 30 * time.Second
)

// CommandRunner abstracts running the extractor process so tests can
// substitute canned output for a real yt-dlp invocation.
type CommandRunner interface {
	// Run executes name with args and returns captured stdout and stderr.
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// execRunner is the production CommandRunner backed by os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return out.Bytes(), errBuf.Bytes(), err
}

// Option is a functional option for configuring the Resolver.
type Option func(*Resolver)

// WithBinary sets the yt-dlp executable path.
func WithBinary(path string) Option {
	return func(r *Resolver) {
		r.binary = path
	}
}

// WithTimeout bounds each extractor invocation.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.timeout = d
	}
}

// WithCommandRunner substitutes the process runner (for testing).
func WithCommandRunner(runner CommandRunner) Option {
	return func(r *Resolver) {
		r.runner = runner
	}
}

// Resolver implements extract.Resolver by invoking yt-dlp.
type Resolver struct {
	binary  string
	timeout time.Duration
	runner  CommandRunner
}

var _ extract.Resolver = (*Resolver)(nil)

// New creates a yt-dlp backed Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		binary:  defaultBinary,
		timeout: defaultTimeout,
		runner:  execRunner{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve extracts metadata and a direct media URL for rawURL. The input is
// validated before any process is spawned: empty or non-HTTP(S) URLs fail
// fast with KindUnsupported.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*extract.ResolvedSource, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{
		"--dump-single-json",
		"--no-download",
		"--no-playlist",
		"--no-warnings",
		"--format", "bestaudio/best",
		rawURL,
	}

	start := time.Now()
	stdout, stderr, err := r.runner.Run(ctx, r.binary, args...)
	if err != nil {
		return nil, classify(rawURL, stderr, err)
	}
	slog.Debug("yt-dlp resolve finished", "url", rawURL, "duration", time.Since(start))

	src, err := parseInfo(stdout)
	if err != nil {
		return nil, fmt.Errorf("ytdlp: parse output for %q: %w", rawURL, err)
	}
	if src.MediaURL == "" {
		return nil, &extract.ResolutionError{
			Kind: extract.KindUnsupported,
			URL:  rawURL,
			Err:  errors.New("no audio-capable format available"),
		}
	}
	if src.WebpageURL == "" {
		src.WebpageURL = rawURL
	}
	return src, nil
}

// Search runs yt-dlp in search mode and returns up to limit flat results.
func (r *Resolver) Search(ctx context.Context, query string, limit int) ([]extract.SearchResult, error) {
	if query == "" {
		return nil, &extract.ResolutionError{
			Kind: extract.KindUnsupported,
			Err:  errors.New("empty search query"),
		}
	}
	if limit <= 0 {
		limit = 10
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{
		"--dump-single-json",
		"--no-download",
		"--flat-playlist",
		"--no-warnings",
		fmt.Sprintf("ytsearch%d:%s", limit, query),
	}

	stdout, stderr, err := r.runner.Run(ctx, r.binary, args...)
	if err != nil {
		return nil, classify(query, stderr, err)
	}

	results, err := parseSearch(stdout)
	if err != nil {
		return nil, fmt.Errorf("ytdlp: parse search output for %q: %w", query, err)
	}
	return results, nil
}

// validateURL rejects empty or malformed input before spawning the extractor.
func validateURL(rawURL string) error {
	if rawURL == "" {
		return &extract.ResolutionError{
			Kind: extract.KindUnsupported,
			Err:  errors.New("empty URL"),
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return &extract.ResolutionError{Kind: extract.KindUnsupported, URL: rawURL, Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &extract.ResolutionError{
			Kind: extract.KindUnsupported,
			URL:  rawURL,
			Err:  errors.New("URL must be absolute http or https"),
		}
	}
	return nil
}

// mediaExpiry extracts the locator deadline that some extractors embed as an
// epoch-seconds "expire" query parameter. Returns the zero time when absent.
func mediaExpiry(mediaURL string) time.Time {
	u, err := url.Parse(mediaURL)
	if err != nil {
		return time.Time{}
	}
	raw := u.Query().Get("expire")
	if raw == "" {
		return time.Time{}
	}
	epoch, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(epoch, 0)
}
