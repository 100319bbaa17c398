//go:build !windows

package shm

import (
	"sync/atomic"
	"time"

	"github.com/duct-ipc/duct-go/pkg/status"
)

// semaphore is a cross-process counting semaphore over a 32-bit word in the
// shared segment. wait decrements, blocking while the count is zero; post
// increments and wakes one waiter. On Linux blocking uses a shared futex on
// the word itself; elsewhere a try-then-sleep loop stands in, as platforms
// without a native timed wait require.
type semaphore struct {
	word *uint32
}

// wait decrements the semaphore. A non-zero timeout bounds the block and
// yields Timeout on expiry. stop is polled on every wake so a local close
// can abandon the wait without consuming a token.
func (s *semaphore) wait(timeout time.Duration, stop func() bool) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if stop != nil && stop() {
			return status.Closedf("pipe closed")
		}

		v := atomic.LoadUint32(s.word)
		if v > 0 {
			if atomic.CompareAndSwapUint32(s.word, v, v-1) {
				return nil
			}
			continue
		}

		var remaining time.Duration
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return status.Timeoutf("semaphore wait timed out")
			}
		}

		if err := futexWaitWord(s.word, 0, remaining); err != nil {
			return err
		}
	}
}

// post increments the semaphore and wakes one waiter.
func (s *semaphore) post() {
	atomic.AddUint32(s.word, 1)
	futexWakeWord(s.word, 1)
}
