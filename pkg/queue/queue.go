// Package queue provides the thread-safe bounded message deque behind the
// QoS overlay: byte-counted high-water-mark capacity, four backpressure
// policies, and per-message TTL.
package queue

import (
	"sync"
	"time"

	"github.com/duct-ipc/duct-go/pkg/message"
	"github.com/duct-ipc/duct-go/pkg/status"
)

// Policy selects how Push reacts when the queue is at its high water mark.
type Policy int

const (
	// Block waits for space, bounded by the per-call timeout.
	Block Policy = iota
	// DropNew silently discards the message being pushed.
	DropNew
	// DropOld evicts the oldest queued messages until the new one fits.
	DropOld
	// FailFast returns IoError immediately.
	FailFast
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case Block:
		return "block"
	case DropNew:
		return "drop_new"
	case DropOld:
		return "drop_old"
	case FailFast:
		return "fail_fast"
	default:
		return "unknown"
	}
}

type queuedMessage struct {
	msg         message.Message
	enqueueTime time.Time
	deadline    time.Time // zero means never expires
}

func (q queuedMessage) expired(now time.Time) bool {
	return !q.deadline.IsZero() && now.After(q.deadline)
}

// MessageQueue is a bounded FIFO of messages. Capacity is expressed in
// payload bytes; hwmBytes of 0 means unlimited.
type MessageQueue struct {
	mu         sync.Mutex
	hwmBytes   int
	policy     Policy
	ttl        time.Duration
	items      []queuedMessage
	totalBytes int
	closed     bool

	// Broadcast channels: closed and replaced to wake all waiters, so that
	// waits can race a timer in a select.
	notEmpty chan struct{}
	notFull  chan struct{}
}

// New creates a queue with the given high water mark, backpressure policy,
// and TTL (0 disables expiry).
func New(hwmBytes int, policy Policy, ttl time.Duration) *MessageQueue {
	return &MessageQueue{
		hwmBytes: hwmBytes,
		policy:   policy,
		ttl:      ttl,
		notEmpty: make(chan struct{}),
		notFull:  make(chan struct{}),
	}
}

func (q *MessageQueue) atHWMLocked() bool {
	return q.hwmBytes > 0 && q.totalBytes >= q.hwmBytes
}

func (q *MessageQueue) signalNotEmptyLocked() {
	close(q.notEmpty)
	q.notEmpty = make(chan struct{})
}

func (q *MessageQueue) signalNotFullLocked() {
	close(q.notFull)
	q.notFull = make(chan struct{})
}

func (q *MessageQueue) dropOldestLocked() {
	if len(q.items) == 0 {
		return
	}
	q.totalBytes -= q.items[0].msg.Size()
	q.items = q.items[1:]
}

// Push enqueues msg. When the queue is at its high water mark the configured
// policy applies; under Block a timeout of 0 waits indefinitely.
//
// The dropped count reports what the policy actually discarded, decided
// under the queue lock: 1 (msg itself) when DropNew discards at the high
// water mark, the number of evicted messages under DropOld, 0 otherwise.
func (q *MessageQueue) Push(msg message.Message, timeout time.Duration) (dropped int, err error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, status.Closedf("queue closed")
	}

	if q.atHWMLocked() {
		switch q.policy {
		case Block:
			for q.atHWMLocked() && !q.closed {
				ch := q.notFull
				q.mu.Unlock()
				if err := waitSignal(ch, deadline); err != nil {
					q.mu.Lock()
					return 0, status.Timeoutf("push timed out waiting for queue space")
				}
				q.mu.Lock()
			}
			if q.closed {
				return 0, status.Closedf("queue closed")
			}

		case DropNew:
			return 1, nil

		case DropOld:
			for q.totalBytes+msg.Size() > q.hwmBytes && len(q.items) > 0 {
				q.dropOldestLocked()
				dropped++
			}

		case FailFast:
			return 0, status.IoErrorf("queue at high water mark")
		}
	}

	now := time.Now()
	qm := queuedMessage{msg: msg, enqueueTime: now}
	if q.ttl > 0 {
		qm.deadline = now.Add(q.ttl)
	}
	q.items = append(q.items, qm)
	q.totalBytes += msg.Size()

	q.signalNotEmptyLocked()
	return dropped, nil
}

// Pop dequeues the oldest live message, discarding any expired ones it finds
// at the front. It blocks until a message arrives, the queue closes
// (Closed), or the timeout expires (Timeout); 0 waits indefinitely.
func (q *MessageQueue) Pop(timeout time.Duration) (message.Message, error) {
	msg, _, err := q.PopWithDeadline(timeout)
	return msg, err
}

// PopWithDeadline is Pop, additionally returning the message's expiry
// deadline (zero when TTL is disabled) so a consumer that holds the message
// across retries can keep honoring its TTL.
func (q *MessageQueue) PopWithDeadline(timeout time.Duration) (message.Message, time.Time, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		q.discardExpiredFrontLocked()

		if len(q.items) > 0 {
			qm := q.items[0]
			q.items = q.items[1:]
			q.totalBytes -= qm.msg.Size()
			q.signalNotFullLocked()
			return qm.msg, qm.deadline, nil
		}

		if q.closed {
			return message.Message{}, time.Time{}, status.Closedf("queue closed")
		}

		ch := q.notEmpty
		q.mu.Unlock()
		err := waitSignal(ch, deadline)
		q.mu.Lock()
		if err != nil {
			return message.Message{}, time.Time{}, status.Timeoutf("pop timed out waiting for message")
		}
	}
}

// TryPop dequeues the oldest live message without blocking.
func (q *MessageQueue) TryPop() (message.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.discardExpiredFrontLocked()
	if len(q.items) == 0 {
		return message.Message{}, false
	}
	qm := q.items[0]
	q.items = q.items[1:]
	q.totalBytes -= qm.msg.Size()
	q.signalNotFullLocked()
	return qm.msg, true
}

func (q *MessageQueue) discardExpiredFrontLocked() {
	now := time.Now()
	dropped := false
	for len(q.items) > 0 && q.items[0].expired(now) {
		q.dropOldestLocked()
		dropped = true
	}
	if dropped {
		q.signalNotFullLocked()
	}
}

// SizeBytes returns the queued payload bytes.
func (q *MessageQueue) SizeBytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalBytes
}

// SizeMsgs returns the number of queued messages.
func (q *MessageQueue) SizeMsgs() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// AtHWM reports whether the queue is at or above its high water mark.
func (q *MessageQueue) AtHWM() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.atHWMLocked()
}

// IsClosed reports whether Close has been called.
func (q *MessageQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close marks the queue closed and wakes every waiter. It is idempotent and
// does not drain queued messages.
func (q *MessageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signalNotEmptyLocked()
	q.signalNotFullLocked()
}

// PurgeExpired removes every expired message and returns how many were
// dropped. A no-op when TTL is disabled.
func (q *MessageQueue) PurgeExpired() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ttl == 0 {
		return 0
	}

	now := time.Now()
	purged := 0
	kept := q.items[:0]
	for _, qm := range q.items {
		if qm.expired(now) {
			q.totalBytes -= qm.msg.Size()
			purged++
			continue
		}
		kept = append(kept, qm)
	}
	q.items = kept
	if purged > 0 {
		q.signalNotFullLocked()
	}
	return purged
}

// waitSignal blocks until ch is closed or the deadline passes. A zero
// deadline waits forever. Returns a non-nil error only on deadline expiry.
func waitSignal(ch <-chan struct{}, deadline time.Time) error {
	if deadline.IsZero() {
		<-ch
		return nil
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return status.Timeoutf("deadline expired")
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return status.Timeoutf("deadline expired")
	}
}
