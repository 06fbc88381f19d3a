// Package transport defines the gateway's internal request pipeline: the
// Handler abstraction that pipeline stages compose around, the Request and
// Response types that flow through it, and the core dispatcher that forwards
// approved requests to upstream services. Resilience stages (circuit
// breaking, response caching) are middleware wrapping the dispatcher.
package transport

import (
	"context"
)

// Handler processes a gateway request and produces the upstream response.
// It is the core abstraction the pipeline composes: the innermost Handler is
// the upstream dispatcher, and each resilience concern wraps it as
// middleware.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *Request) (*Response, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware transforms a Handler into an enhanced Handler. Middleware runs
// request preprocessing before delegating inward and response postprocessing
// after, so stage order is fixed by composition order.
type Middleware func(Handler) Handler

// Chain builds a middleware pipeline around a core handler. Middleware
// executes in the order provided, first middleware outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
