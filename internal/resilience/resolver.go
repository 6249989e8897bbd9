package resilience

import (
	"context"
	"errors"

	"github.com/wavetap/wavetap/pkg/extract"
)

// Resolver wraps an extract.Resolver with a circuit breaker per operation.
// Only retryable resolution failures (network errors, rate limiting) and
// unclassified errors count towards opening a breaker; a URL that is merely
// unsupported or gone says nothing about extractor health.
type Resolver struct {
	inner     extract.Resolver
	resolveCB *CircuitBreaker
	searchCB  *CircuitBreaker
}

var _ extract.Resolver = (*Resolver)(nil)

// NewResolver wraps inner. Zero-value cfg fields get breaker defaults; the
// ShouldTrip field is always overridden with resolution-aware tripping.
func NewResolver(inner extract.Resolver, cfg CircuitBreakerConfig) *Resolver {
	cfg.ShouldTrip = tripsBreaker
	resolveCfg := cfg
	resolveCfg.Name = "resolver.resolve"
	searchCfg := cfg
	searchCfg.Name = "resolver.search"
	return &Resolver{
		inner:     inner,
		resolveCB: NewCircuitBreaker(resolveCfg),
		searchCB:  NewCircuitBreaker(searchCfg),
	}
}

func tripsBreaker(err error) bool {
	var resErr *extract.ResolutionError
	if errors.As(err, &resErr) {
		return resErr.Retryable()
	}
	// Unclassified errors (missing binary, broken installation) should
	// open the breaker too.
	return true
}

func (r *Resolver) Resolve(ctx context.Context, url string) (*extract.ResolvedSource, error) {
	var src *extract.ResolvedSource
	err := r.resolveCB.Execute(func() error {
		var err error
		src, err = r.inner.Resolve(ctx, url)
		return err
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (r *Resolver) Search(ctx context.Context, query string, limit int) ([]extract.SearchResult, error) {
	var results []extract.SearchResult
	err := r.searchCB.Execute(func() error {
		var err error
		results, err = r.inner.Search(ctx, query, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
