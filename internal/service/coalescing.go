package service

import (
	"context"
	"sync"
	"time"
)

// inFlightRequest tracks a single upstream request that multiple callers may wait for.
type inFlightRequest[T any] struct {
	done   chan struct{} // closed when result and err are set
	result T
	err    error
}

// requestCoalescer prevents cache stampede by coalescing concurrent requests for the same key.
type requestCoalescer[T any] struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest[T]
	timeout  time.Duration
}

// newRequestCoalescer creates a new requestCoalescer with the specified timeout.
func newRequestCoalescer[T any](timeout time.Duration) *requestCoalescer[T] {
	return &requestCoalescer[T]{
		inFlight: make(map[string]*inFlightRequest[T]),
		timeout:  timeout,
	}
}

// GetOrDo joins the in-flight request for key or starts one running fn. shared
// reports whether the caller joined a request started by someone else.
//
// fn runs detached from the starting caller's cancellation, bounded by the
// coalescer timeout, so one caller giving up does not fail the others. Each
// caller waits at most until its own ctx is done or the timeout elapses.
func (rc *requestCoalescer[T]) GetOrDo(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (result T, shared bool, err error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if !exists {
		req = &inFlightRequest[T]{done: make(chan struct{})}
		rc.inFlight[key] = req
	}
	rc.mu.Unlock()

	if !exists {
		fnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		go func() {
			defer cancel()
			r, e := fn(fnCtx)
			req.result, req.err = r, e
			rc.cleanup(key)
			close(req.done)
		}()
	}

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-req.done:
		return req.result, exists, req.err
	case <-waitCtx.Done():
		var zero T
		return zero, exists, waitCtx.Err()
	}
}

// cleanup removes the in-flight request for key. Must be called after request completes.
func (rc *requestCoalescer[T]) cleanup(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.inFlight, key)
}
