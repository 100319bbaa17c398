// Package utils holds test tooling shared across packages.
package utils

import (
	"runtime"
	"testing"
	"time"
)

// GoroutineLeakDetector fails a test when goroutines outlive the code under
// test. Worker-owning types (QoS pipes, reconnect pipes) use it to prove
// that Close joins their workers.
type GoroutineLeakDetector struct {
	t              *testing.T
	initialCount   int
	allowedGrowth  int
	stabilizeDelay time.Duration
}

// NewGoroutineLeakDetector creates a detector with no allowed growth.
func NewGoroutineLeakDetector(t *testing.T) *GoroutineLeakDetector {
	return &GoroutineLeakDetector{
		t:              t,
		stabilizeDelay: 200 * time.Millisecond,
	}
}

// SetAllowedGrowth permits n goroutines to remain after Check.
func (d *GoroutineLeakDetector) SetAllowedGrowth(n int) *GoroutineLeakDetector {
	d.allowedGrowth = n
	return d
}

// Start records the baseline goroutine count.
func (d *GoroutineLeakDetector) Start() {
	time.Sleep(d.stabilizeDelay)
	d.initialCount = runtime.NumGoroutine()
}

// Check verifies the goroutine count settled back to the baseline. It
// samples repeatedly because finished goroutines unwind asynchronously.
func (d *GoroutineLeakDetector) Check() {
	deadline := time.Now().Add(2 * time.Second)
	final := runtime.NumGoroutine()
	for time.Now().Before(deadline) {
		final = runtime.NumGoroutine()
		if final-d.initialCount <= d.allowedGrowth {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}

	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	d.t.Errorf("goroutine leak: started with %d, ended with %d (allowed growth %d)\n%s",
		d.initialCount, final, d.allowedGrowth, buf[:n])
}
