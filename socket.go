package kbus

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ElliottH/kbus/wire"
)

// Socket is one open handle on a device: a bounded inbound queue, a single
// in-progress outbound composition buffer, a read cursor over the message
// being consumed, and per-handle flags and counters.
//
// All operations are non-blocking except WaitFor. A socket may be used from
// one goroutine; the router delivers into its queue concurrently.
type Socket struct {
	device *Device
	id     wire.SocketID
	mode   Mode
	queue  *msgQueue

	mu         sync.Mutex
	closed     bool
	comp       []byte
	readBuf    []byte
	readLen    uint32
	onlyOnce   bool
	lastSendID wire.MessageID
	nextSerial uint64
	// outstanding holds ids of Requests this socket sent that have not been
	// answered yet; toReply holds ids of Requests this socket has read and
	// still owes a Reply for, mapped to their senders.
	outstanding map[wire.MessageID]struct{}
	toReply     map[wire.MessageID]wire.SocketID
}

// ID returns the socket id used in message To and From fields.
func (s *Socket) ID() wire.SocketID {
	return s.id
}

// Close destroys the socket: all its bindings are removed, queued messages
// are dropped, and any blocked waiter returns ErrClosedHandle. Requests the
// socket was expected to answer are answered with a synthetic
// "$.KBUS.Replier.GoneAway" reply instead.
func (s *Socket) Close() error {
	d := s.device

	d.mu.Lock()
	defer d.mu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.WithStack(ErrClosedHandle)
	}
	s.closed = true
	s.comp = nil
	s.readBuf = nil
	owed := s.toReply
	s.toReply = map[wire.MessageID]wire.SocketID{}
	s.mu.Unlock()

	delete(d.sockets, s.id)

	for _, b := range d.bindings.removeSocket(s) {
		if b.replier && d.reportBinds {
			d.routeBindEvent(false, s.id, b.name)
		}
	}

	for _, msg := range s.queue.close() {
		if msg.WantsUsToReply() {
			d.synthesizeReply(ReplierGoneAwayName, s.id, msg.From, msg.ID)
		}
	}
	for id, from := range owed {
		d.synthesizeReply(ReplierGoneAwayName, s.id, from, id)
	}

	d.debug("socket closed", zap.Uint64("socket", uint64(s.id)))
	return nil
}

// Bind registers interest in a message name, as a replier or a listener.
// Binding names may end in a "*" or "%" wildcard part. Only one replier may
// be bound per name.
func (s *Socket) Bind(name string, replier bool) error {
	if err := validateName(name, true); err != nil {
		return err
	}

	d := s.device
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.isClosed() {
		return errors.WithStack(ErrClosedHandle)
	}
	if err := d.bindings.add(&binding{socket: s, name: name, replier: replier}); err != nil {
		return err
	}

	d.debug("bound", zap.Uint64("socket", uint64(s.id)),
		zap.String("name", name), zap.Bool("replier", replier))

	if replier && d.reportBinds {
		d.routeBindEvent(true, s.id, name)
	}
	return nil
}

// Unbind removes exactly one binding matching (name, role). Unbinding as a
// replier answers the matching Requests still queued here with a synthetic
// "$.KBUS.Replier.Unbound" reply.
func (s *Socket) Unbind(name string, replier bool) error {
	if err := validateName(name, true); err != nil {
		return err
	}

	d := s.device
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.isClosed() {
		return errors.WithStack(ErrClosedHandle)
	}
	if err := d.bindings.remove(s, name, replier); err != nil {
		return err
	}

	d.debug("unbound", zap.Uint64("socket", uint64(s.id)),
		zap.String("name", name), zap.Bool("replier", replier))

	if !replier {
		return nil
	}

	orphaned := s.queue.removeMatching(func(msg *wire.Message) bool {
		return msg.WantsUsToReply() && nameMatches(name, msg.Name)
	})
	for _, msg := range orphaned {
		d.synthesizeReply(ReplierUnboundName, s.id, msg.From, msg.ID)
	}

	if d.reportBinds {
		d.routeBindEvent(false, s.id, name)
	}
	return nil
}

// FindReplier returns the socket id of the replier bound for a concrete
// message name, or 0 if there is none.
func (s *Socket) FindReplier(name string) (wire.SocketID, error) {
	if err := validateName(name, false); err != nil {
		return 0, err
	}

	d := s.device
	d.mu.Lock()
	defer d.mu.Unlock()

	if b := d.bindings.findReplier(name); b != nil {
		return b.socket.id, nil
	}
	return 0, nil
}

// Write appends bytes to the composition buffer. Nothing is sent.
func (s *Socket) Write(data []byte) error {
	if s.mode&ModeWrite == 0 {
		return errors.WithStack(ErrReadOnly)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.WithStack(ErrClosedHandle)
	}
	if uint64(len(s.comp))+uint64(len(data)) > s.device.bus.config.MaxMessageSize {
		return errors.Wrapf(ErrTooBig, "message exceeds %d bytes", s.device.bus.config.MaxMessageSize)
	}
	s.comp = append(s.comp, data...)
	return nil
}

// WriteMsg appends the wire form of a message to the composition buffer.
func (s *Socket) WriteMsg(msg *wire.Message) error {
	buf, err := wire.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return s.Write(buf)
}

// Discard throws away the composition buffer. It is a no-op if nothing has
// been written.
func (s *Socket) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.WithStack(ErrClosedHandle)
	}
	s.comp = nil
	return nil
}

// Send finalizes the composition buffer into a message and routes it,
// returning the assigned message id. The composition buffer is cleared even
// if routing fails. A send that delivered to some recipients but hit a full
// queue returns both the assigned id and ErrQueueFull.
func (s *Socket) Send() (wire.MessageID, error) {
	if s.mode&ModeWrite == 0 {
		return wire.MessageID{}, errors.WithStack(ErrReadOnly)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return wire.MessageID{}, errors.WithStack(ErrClosedHandle)
	}
	buf := s.comp
	s.comp = nil
	s.mu.Unlock()

	if len(buf) == 0 {
		return wire.MessageID{}, errors.WithStack(ErrNoMessage)
	}
	msg, err := wire.DecodeMessage(buf)
	if err != nil {
		return wire.MessageID{}, errors.Wrapf(ErrBadMessage, "undecodable message: %s", err)
	}
	return s.device.send(s, msg)
}

// SendMsg writes and sends a message in one call.
func (s *Socket) SendMsg(msg *wire.Message) (wire.MessageID, error) {
	if err := s.WriteMsg(msg); err != nil {
		return wire.MessageID{}, err
	}
	return s.Send()
}

// Next pops the queue head and makes it the message being read, discarding
// any partially-read previous one. It returns the length of the popped
// message's wire form, or 0 if the queue was empty.
func (s *Socket) Next() (uint32, error) {
	if s.mode&ModeRead == 0 {
		return 0, errors.WithStack(ErrWriteOnly)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.WithStack(ErrClosedHandle)
	}

	msg := s.queue.pop()
	if msg == nil {
		s.readBuf = nil
		s.readLen = 0
		return 0, nil
	}
	if msg.WantsUsToReply() {
		s.toReply[msg.ID] = msg.From
	}

	buf, err := wire.EncodeMessage(msg)
	if err != nil {
		return 0, err
	}
	s.readBuf = buf
	s.readLen = uint32(len(buf))
	return s.readLen, nil
}

// Read consumes up to n remaining bytes of the message being read. A read
// past the end of the message returns the remainder without error; ReadMsg
// is the strict-length way to consume a whole message.
func (s *Socket) Read(n uint32) ([]byte, error) {
	if s.mode&ModeRead == 0 {
		return nil, errors.WithStack(ErrWriteOnly)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.WithStack(ErrClosedHandle)
	}
	if n > uint32(len(s.readBuf)) {
		n = uint32(len(s.readBuf))
	}
	data := s.readBuf[:n]
	s.readBuf = s.readBuf[n:]
	return data, nil
}

// LenLeft returns the number of unread bytes of the message being read.
func (s *Socket) LenLeft() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.WithStack(ErrClosedHandle)
	}
	return uint32(len(s.readBuf)), nil
}

// ReadMsg consumes the whole message being read. msgLen must be the length
// returned by the preceding Next, and no byte of the message may have been
// consumed yet; otherwise ErrBadMessage is returned.
func (s *Socket) ReadMsg(msgLen uint32) (*wire.Message, error) {
	if s.mode&ModeRead == 0 {
		return nil, errors.WithStack(ErrWriteOnly)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.WithStack(ErrClosedHandle)
	}
	if s.readBuf == nil || uint32(len(s.readBuf)) != s.readLen {
		return nil, errors.Wrap(ErrBadMessage, "no whole message is being read")
	}
	if msgLen != s.readLen {
		return nil, errors.Wrapf(ErrBadMessage, "length %d does not match message length %d",
			msgLen, s.readLen)
	}

	msg, err := wire.DecodeMessage(s.readBuf)
	if err != nil {
		return nil, err
	}
	s.readBuf = nil
	s.readLen = 0
	return msg, nil
}

// ReadNextMsg pops and decodes the next queued message, or returns nil if
// the queue is empty.
func (s *Socket) ReadNextMsg() (*wire.Message, error) {
	msgLen, err := s.Next()
	if err != nil {
		return nil, err
	}
	if msgLen == 0 {
		return nil, nil
	}
	return s.ReadMsg(msgLen)
}

// NumMessages returns the number of queued unread messages.
func (s *Socket) NumMessages() int {
	return s.queue.len()
}

// MaxMessages returns the queue capacity.
func (s *Socket) MaxMessages() int {
	return s.queue.capacity()
}

// SetMaxMessages resizes the queue and returns the resulting capacity.
// Shrinking below the current queue length fails.
func (s *Socket) SetMaxMessages(n int) (int, error) {
	if err := s.queue.setCapacity(n); err != nil {
		return s.queue.capacity(), err
	}
	return n, nil
}

// OnlyOnce returns the only-once flag: whether a message matched by several
// of this socket's listener bindings is queued once instead of once per
// binding.
func (s *Socket) OnlyOnce() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.onlyOnce
}

// SetOnlyOnce sets the only-once flag and returns the previous value. It
// takes effect for subsequent deliveries, not for already-queued messages.
func (s *Socket) SetOnlyOnce(v bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.onlyOnce
	s.onlyOnce = v
	return prev
}

// ReportReplierBinds returns the replier bind event flag. Although accessed
// through a socket, the flag belongs to the whole device.
func (s *Socket) ReportReplierBinds() bool {
	return s.device.reportReplierBinds()
}

// SetReportReplierBinds sets the device-wide replier bind event flag and
// returns the previous value.
func (s *Socket) SetReportReplierBinds(v bool) bool {
	return s.device.setReportReplierBinds(v)
}

// NumUnrepliedTo returns the number of Requests this socket has sent that
// have not been answered yet.
func (s *Socket) NumUnrepliedTo() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.outstanding)
}

// LastMsgID returns the id assigned to the last message sent on this
// socket, or the zero id if nothing has been sent.
func (s *Socket) LastMsgID() wire.MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastSendID
}

// WaitFor blocks until one of the conditions in mask holds: Readable means
// the queue is non-empty, Writable means a message may be composed and
// sent. It returns the satisfied subset of mask, or ErrClosedHandle if the
// socket is closed while waiting.
func (s *Socket) WaitFor(ctx context.Context, mask Readiness) (Readiness, error) {
	effective := mask
	if s.mode&ModeRead == 0 {
		effective &^= Readable
	}
	if s.mode&ModeWrite == 0 {
		effective &^= Writable
	}
	if effective == 0 {
		return 0, errors.Wrapf(ErrInvalidArgument, "wait mask %b", mask)
	}

	for {
		if s.isClosed() {
			return 0, errors.WithStack(ErrClosedHandle)
		}

		var ready Readiness
		// Sends never block, so a writable socket is always ready to write.
		if effective&Writable != 0 {
			ready |= Writable
		}
		if effective&Readable != 0 && s.queue.len() > 0 {
			ready |= Readable
		}
		if ready != 0 {
			return ready, nil
		}

		select {
		case <-ctx.Done():
			return 0, errors.WithStack(ctx.Err())
		case <-s.queue.done:
			return 0, errors.WithStack(ErrClosedHandle)
		case <-s.queue.notify:
		}
	}
}

func (s *Socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}
