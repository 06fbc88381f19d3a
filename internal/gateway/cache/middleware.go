package cache

import (
	"context"
	"net/http"

	"github.com/taskmesh/gateway/internal/gateway/transport"
)

// NewMiddleware returns middleware that serves cacheable requests from store
// and captures fresh successes on the way back. Requests the route table did
// not mark cacheable pass through untouched, as does any non-2xx or failed
// dispatch; only a clean success is worth replaying later.
func NewMiddleware(store *Store) transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if !req.Cacheable || req.CacheKey == "" {
				return next.Handle(ctx, req)
			}

			if entry, ok := store.Get(req.CacheKey); ok {
				return &transport.Response{
					StatusCode: entry.Status,
					Header:     entry.Header,
					Body:       entry.Body,
					FromCache:  true,
				}, nil
			}

			resp, err := next.Handle(ctx, req)
			if err != nil {
				return nil, err
			}

			if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
				store.Put(&Entry{
					Key:    req.CacheKey,
					Status: resp.StatusCode,
					Header: resp.Header,
					Body:   resp.Body,
					TTL:    req.CacheTTL,
				})
			}
			return resp, nil
		})
	}
}
