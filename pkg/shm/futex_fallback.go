//go:build !linux && !windows

package shm

import (
	"sync/atomic"
	"time"
)

// Platforms without futexes (macOS and the BSDs) poll: sleep briefly while
// the word still holds val. The semaphore re-checks its count on every
// return, so short sleeps only cost latency, never correctness.

const pollInterval = time.Millisecond

func futexWaitWord(word *uint32, val uint32, timeout time.Duration) error {
	if atomic.LoadUint32(word) != val {
		return nil
	}
	nap := pollInterval
	if timeout > 0 && timeout < nap {
		nap = timeout
	}
	time.Sleep(nap)
	return nil
}

func futexWakeWord(word *uint32, n int) {}
