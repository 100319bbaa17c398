//go:build linux

package shm

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/duct-ipc/duct-go/pkg/status"
)

// Shared (non-private) futex ops: the waiter and waker are different
// processes mapping the same segment.
const (
	futexWaitOp = 0 // FUTEX_WAIT
	futexWakeOp = 1 // FUTEX_WAKE
)

// futexWaitWord blocks while *word == val, up to timeout (0 means no
// limit). Spurious wakeups are allowed; callers re-check their condition.
func futexWaitWord(word *uint32, val uint32, timeout time.Duration) error {
	var tsPtr unsafe.Pointer
	if timeout > 0 {
		ts := unix.NsecToTimespec(timeout.Nanoseconds())
		tsPtr = unsafe.Pointer(&ts)
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(word)),
		uintptr(futexWaitOp),
		uintptr(val),
		uintptr(tsPtr),
		0, 0,
	)

	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		// Value changed before sleeping, or a signal woke us: both mean
		// "re-check the condition".
		return nil
	case unix.ETIMEDOUT:
		return status.Timeoutf("futex wait timed out")
	default:
		return status.Wrap(errno, status.IoError, "futex wait failed")
	}
}

// futexWakeWord wakes up to n waiters blocked on word.
func futexWakeWord(word *uint32, n int) {
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(word)),
		uintptr(futexWakeOp),
		uintptr(n),
		0, 0, 0,
	)
}
