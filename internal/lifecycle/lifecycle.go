// Package lifecycle holds process-wide readiness and shutdown flags read by /health.
package lifecycle

import (
	"sync/atomic"
	"time"
)

var (
	shuttingDown atomic.Bool
	readyAt      atomic.Int64 // unix nanoseconds; 0 = ready
)

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// MarkStarting holds readiness back for delay, giving caches and the provider
// probe time to settle before the load balancer routes traffic.
func MarkStarting(delay time.Duration) {
	if delay <= 0 {
		readyAt.Store(0)
		return
	}
	readyAt.Store(time.Now().Add(delay).UnixNano())
}

// IsReady reports whether the ready delay has elapsed.
func IsReady() bool {
	at := readyAt.Load()
	return at == 0 || time.Now().UnixNano() >= at
}
