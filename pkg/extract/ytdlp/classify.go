package ytdlp

import (
	"errors"
	"strings"

	"github.com/wavetap/wavetap/pkg/extract"
)

// classify maps a failed yt-dlp invocation to the resolution error taxonomy
// by inspecting its stderr output. yt-dlp exposes no structured error codes,
// so this is substring matching against its stable error prefixes.
func classify(url string, stderr []byte, err error) error {
	msg := strings.ToLower(string(stderr))

	kind, ok := classifyMessage(msg)
	if !ok {
		// Unknown failure mode, or the process was killed by a deadline.
		// Treat as retryable rather than telling the client their URL is bad.
		kind = extract.KindNetworkFailure
	}

	cause := err
	if trimmed := strings.TrimSpace(string(stderr)); trimmed != "" {
		cause = errors.New(lastLine(trimmed))
	}
	return &extract.ResolutionError{Kind: kind, URL: url, Err: cause}
}

func classifyMessage(msg string) (extract.ErrorKind, bool) {
	switch {
	case strings.Contains(msg, "unsupported url"),
		strings.Contains(msg, "is not a valid url"),
		strings.Contains(msg, "no video formats"):
		return extract.KindUnsupported, true

	case strings.Contains(msg, "video unavailable"),
		strings.Contains(msg, "private video"),
		strings.Contains(msg, "this video is not available"),
		strings.Contains(msg, "has been removed"),
		strings.Contains(msg, "404"),
		strings.Contains(msg, "not found"):
		return extract.KindNotFound, true

	case strings.Contains(msg, "429"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "rate-limit"),
		strings.Contains(msg, "rate limit"):
		return extract.KindRateLimited, true

	case strings.Contains(msg, "unable to download"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "temporary failure"):
		return extract.KindNetworkFailure, true
	}
	return "", false
}

// lastLine returns the final non-empty line of s; yt-dlp prints its actual
// error last, after any extractor chatter.
func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return s
}
