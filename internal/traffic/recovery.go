package traffic

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ValidateFunc probes the provider (API key check). Returns nil once it answers again.
type ValidateFunc func(ctx context.Context) error

var (
	recoveryChan   chan struct{}
	recoveryChanMu sync.Mutex
)

// NotifyDegraded signals that health found the upstream error rate breached.
// Starts a recovery run if none is in progress. Non-blocking.
func NotifyDegraded() {
	recoveryChanMu.Lock()
	ch := recoveryChan
	recoveryChanMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// StartRecoveryListener runs RunRecovery whenever NotifyDegraded fires, at most one
// run at a time, until ctx is done.
func StartRecoveryListener(ctx context.Context, validate ValidateFunc, initial, max time.Duration, onExhausted func()) {
	ch := make(chan struct{}, 1)
	recoveryChanMu.Lock()
	recoveryChan = ch
	recoveryChanMu.Unlock()

	var running atomic.Bool
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				if running.Swap(true) {
					continue
				}
				go func() {
					defer running.Store(false)
					RunRecovery(ctx, validate, initial, max, onExhausted)
				}()
			}
		}
	}()
}

// RunRecovery probes the provider on a Fibonacci schedule (initial, 2x, 3x, 5x, ...
// up to max). The first successful probe clears the outcome windows so health
// reports healthy again. If the last probe still fails, onExhausted is called.
func RunRecovery(ctx context.Context, validate ValidateFunc, initial, max time.Duration, onExhausted func()) {
	delays := fibDelays(initial, max)
	for i, d := range delays {
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
		attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := validate(attemptCtx)
		cancel()
		if err == nil {
			Reset()
			return
		}
		if i == len(delays)-1 && onExhausted != nil {
			onExhausted()
		}
	}
}

// fibDelays returns initial*1, initial*2, initial*3, initial*5, ... not exceeding max.
func fibDelays(initial, max time.Duration) []time.Duration {
	if initial <= 0 || max < initial {
		return nil
	}
	var out []time.Duration
	for a, b := time.Duration(1), time.Duration(2); a*initial <= max; a, b = b, a+b {
		out = append(out, a*initial)
	}
	return out
}
