// Package mock provides an in-memory extract.Resolver for tests.
package mock

import (
	"context"
	"sync/atomic"

	"github.com/wavetap/wavetap/pkg/extract"
)

// Resolver is a configurable test double for extract.Resolver. Set the
// function fields to control behaviour; unset fields return zero values.
type Resolver struct {
	ResolveFunc func(ctx context.Context, url string) (*extract.ResolvedSource, error)
	SearchFunc  func(ctx context.Context, query string, limit int) ([]extract.SearchResult, error)

	resolveCalls atomic.Int64
	searchCalls  atomic.Int64
}

var _ extract.Resolver = (*Resolver)(nil)

func (r *Resolver) Resolve(ctx context.Context, url string) (*extract.ResolvedSource, error) {
	r.resolveCalls.Add(1)
	if r.ResolveFunc == nil {
		return &extract.ResolvedSource{Title: "mock", MediaURL: "mock://media"}, nil
	}
	return r.ResolveFunc(ctx, url)
}

func (r *Resolver) Search(ctx context.Context, query string, limit int) ([]extract.SearchResult, error) {
	r.searchCalls.Add(1)
	if r.SearchFunc == nil {
		return nil, nil
	}
	return r.SearchFunc(ctx, query, limit)
}

// ResolveCalls reports how many times Resolve was invoked.
func (r *Resolver) ResolveCalls() int64 { return r.resolveCalls.Load() }

// SearchCalls reports how many times Search was invoked.
func (r *Resolver) SearchCalls() int64 { return r.searchCalls.Load() }
