// Package extract defines the contract for resolving user-supplied video
// URLs into streamable media sources. The Resolver interface is implemented
// by [github.com/wavetap/wavetap/pkg/extract/ytdlp]; a test double lives in
// [github.com/wavetap/wavetap/pkg/extract/mock].
package extract

import (
	"context"
	"time"
)

// ResolvedSource is the result of resolving one video URL. It is immutable
// after creation and may be read concurrently by the audio and amplitude
// branches of a session.
type ResolvedSource struct {
	// Title is the human-readable title of the source media.
	Title string

	// Duration is the media duration. Zero when the extractor could not
	// determine it (live streams, some extractors).
	Duration time.Duration

	// MediaURL is a direct, usually time-limited locator for the media
	// payload, suitable for streaming access by a transcoder.
	MediaURL string

	// ExpiresAt is the deadline after which MediaURL stops working. Zero
	// when the extractor does not expose an expiry.
	ExpiresAt time.Time

	// Uploader is the channel or account that published the media.
	Uploader string

	// Thumbnail is a URL to a preview image, if any.
	Thumbnail string

	// WebpageURL is the canonical page the media was resolved from.
	WebpageURL string
}

// SearchResult is one entry returned by Resolver.Search.
type SearchResult struct {
	ID        string
	Title     string
	Uploader  string
	Duration  time.Duration
	Thumbnail string
}

// Resolver maps user-supplied URLs to streamable media sources and serves
// free-text search queries against the same extraction backend.
//
// Resolve may take seconds (it talks to remote sites); callers must pass a
// context with an appropriate deadline and must not hold locks across the
// call. Failures are reported as *ResolutionError where the cause is
// classifiable; other errors indicate a broken installation (e.g. missing
// extractor binary).
type Resolver interface {
	Resolve(ctx context.Context, url string) (*ResolvedSource, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}
