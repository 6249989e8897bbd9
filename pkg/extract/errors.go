package extract

import "fmt"

// ErrorKind classifies a resolution failure.
type ErrorKind string

const (
	// KindUnsupported means the URL is malformed or points at a site the
	// extractor cannot handle. Terminal for this request.
	KindUnsupported ErrorKind = "unsupported"

	// KindNotFound means the URL is well-formed but the media does not
	// exist, is private, or was removed. Terminal for this request.
	KindNotFound ErrorKind = "not_found"

	// KindNetworkFailure means the extractor could not reach the remote
	// site. The caller may retry.
	KindNetworkFailure ErrorKind = "network_failure"

	// KindRateLimited means the remote site refused the request due to
	// rate limiting. The caller may retry later.
	KindRateLimited ErrorKind = "rate_limited"
)

// ResolutionError is returned by Resolver implementations when a failure can
// be attributed to the request or the remote site. Use errors.As to inspect
// the kind.
type ResolutionError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract: resolve %q: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("extract: resolve %q: %s", e.URL, e.Kind)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Retryable reports whether re-issuing the same request may succeed.
func (e *ResolutionError) Retryable() bool {
	return e.Kind == KindNetworkFailure || e.Kind == KindRateLimited
}
