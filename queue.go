package kbus

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/ElliottH/kbus/wire"
)

// msgQueue is the bounded inbound queue of one socket. The socket's owner
// pops from it while the router, acting for other senders, pushes into it,
// so every access goes through the mutex. notify carries a single nudge per
// state change for WaitFor; done is closed when the queue closes.
type msgQueue struct {
	mu     sync.Mutex
	items  []*wire.Message
	maxLen int
	closed bool

	notify chan struct{}
	done   chan struct{}
}

func newMsgQueue(maxLen int) *msgQueue {
	return &msgQueue{
		maxLen: maxLen,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// push enqueues a message, at the front if urgent.
func (q *msgQueue) push(msg *wire.Message, urgent bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.WithStack(ErrClosedHandle)
	}
	if len(q.items) >= q.maxLen {
		return errors.WithStack(ErrQueueFull)
	}

	if urgent {
		q.items = append([]*wire.Message{msg}, q.items...)
	} else {
		q.items = append(q.items, msg)
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}

	return nil
}

// pop dequeues the head message, or nil if the queue is empty or closed.
func (q *msgQueue) pop() *wire.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.items) == 0 {
		return nil
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg
}

// removeMatching removes and returns every queued message the predicate
// accepts, preserving the order of the rest.
func (q *msgQueue) removeMatching(match func(*wire.Message) bool) []*wire.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed, kept []*wire.Message
	for _, msg := range q.items {
		if match(msg) {
			removed = append(removed, msg)
		} else {
			kept = append(kept, msg)
		}
	}
	q.items = kept
	return removed
}

// hasSpace reports whether n more messages fit.
func (q *msgQueue) hasSpace(n int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return !q.closed && len(q.items)+n <= q.maxLen
}

func (q *msgQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

func (q *msgQueue) capacity() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.maxLen
}

// setCapacity resizes the queue. Shrinking below the number of queued
// messages is rejected.
func (q *msgQueue) setCapacity(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 {
		return errors.Wrapf(ErrInvalidArgument, "queue capacity %d", n)
	}
	if n < len(q.items) {
		return errors.Wrapf(ErrInvalidArgument,
			"queue capacity %d is below the %d queued messages", n, len(q.items))
	}
	q.maxLen = n
	return nil
}

// close drains the queue, releasing any blocked waiter, and returns the
// dropped messages so the device can synthesize replies for them.
func (q *msgQueue) close() []*wire.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	dropped := q.items
	q.items = nil
	close(q.done)
	return dropped
}
