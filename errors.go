package kbus

import "github.com/pkg/errors"

// Errors reported by the bus. All of them are recoverable by the caller;
// test with errors.Is.
var (
	// ErrInvalidArgument means a malformed argument (bad capacity, bad mode,
	// empty wait mask).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound means no such device, socket or binding.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyBound means a replier is already bound for the name.
	ErrAlreadyBound = errors.New("already bound")
	// ErrNoReplier means a Request was sent for a name with no bound replier.
	ErrNoReplier = errors.New("no replier")
	// ErrBadMessage means a message precondition was violated: an invalid or
	// wildcard name on send, a Reply built from a Request that does not want
	// us to reply, a Stateful Request built from the wrong kind of source,
	// or a read-length mismatch.
	ErrBadMessage = errors.New("bad message")
	// ErrNoMessage means send was called with nothing composed.
	ErrNoMessage = errors.New("no message")
	// ErrQueueFull means a recipient queue was at capacity.
	ErrQueueFull = errors.New("queue full")
	// ErrClosedHandle means the socket has been closed.
	ErrClosedHandle = errors.New("closed handle")
	// ErrTooBig means the composed message exceeds the configured maximum
	// message size.
	ErrTooBig = errors.New("message too big")
	// ErrReadOnly means a write operation was attempted on a read-only socket.
	ErrReadOnly = errors.New("socket is read-only")
	// ErrWriteOnly means a read operation was attempted on a write-only socket.
	ErrWriteOnly = errors.New("socket is write-only")
)
