package kbus

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ElliottH/kbus/wire"
)

// delivery is one planned recipient of a send: the copy handed to the
// socket expected to answer carries WantYouToReply.
type delivery struct {
	target  *Socket
	wantYou bool
}

// send routes one message: it resolves the recipient set from the binding
// table, assigns the message id, and enqueues an independent copy into each
// recipient's queue. Resolution and delivery happen under the device lock,
// so concurrent binds and unbinds never interleave mid-delivery.
//
// Delivery is per-recipient: a full queue fails that one delivery (reported
// as ErrQueueFull) without aborting the others, and the assigned id is
// returned either way. The AllOrFail flag turns this into an atomic send.
func (d *Device) send(sender *Socket, msg *wire.Message) (wire.MessageID, error) {
	if msg.Name == "" {
		return wire.MessageID{}, errors.Wrap(ErrBadMessage, "empty message name")
	}
	if err := validateName(msg.Name, false); err != nil {
		return wire.MessageID{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sockets[sender.id] != sender {
		return wire.MessageID{}, errors.WithStack(ErrClosedHandle)
	}

	// The direct target: the pinned socket of a Stateful Request or Reply,
	// or the resolved replier of a plain Request.
	var direct *Socket
	switch {
	case msg.To != 0:
		target, err := d.socket(msg.To)
		if err != nil {
			return wire.MessageID{}, err
		}
		direct = target
	case msg.IsRequest():
		b := d.bindings.findReplier(msg.Name)
		if b == nil {
			return wire.MessageID{}, errors.Wrapf(ErrNoReplier, "no replier bound for %q", msg.Name)
		}
		direct = b.socket
	}

	deliveries := make([]delivery, 0, 1)
	if direct != nil {
		deliveries = append(deliveries, delivery{target: direct, wantYou: msg.IsRequest()})
	}
	delivered := map[wire.SocketID]bool{}
	for _, lb := range d.bindings.listeners(msg.Name) {
		// The direct target gets one logical delivery per send: its
		// listener copies are suppressed regardless of the only-once flag.
		if lb.socket == direct {
			continue
		}
		if delivered[lb.socket.id] && lb.socket.OnlyOnce() {
			continue
		}
		delivered[lb.socket.id] = true
		deliveries = append(deliveries, delivery{target: lb.socket})
	}

	if msg.Flags&wire.AllOrFail != 0 {
		needed := map[*msgQueue]int{}
		for _, dv := range deliveries {
			needed[dv.target.queue]++
		}
		for q, n := range needed {
			if !q.hasSpace(n) {
				return wire.MessageID{}, errors.Wrap(ErrQueueFull, "all-or-fail send")
			}
		}
	}

	sender.mu.Lock()
	sender.nextSerial++
	id := wire.MessageID{SerialNum: sender.nextSerial}
	sender.lastSendID = id
	sender.mu.Unlock()

	msg.ID = id
	msg.From = sender.id

	urgent := msg.Flags&wire.Urgent != 0

	var deliveryErr error
	directFailed := false
	for _, dv := range deliveries {
		cp := msg.Clone()
		if dv.wantYou {
			cp.Flags |= wire.WantYouToReply
		} else {
			cp.Flags &^= wire.WantYouToReply
		}
		if err := dv.target.queue.push(cp, urgent); err != nil {
			if deliveryErr == nil {
				deliveryErr = errors.Wrapf(err, "delivery to socket %d", dv.target.id)
			}
			if dv.wantYou {
				directFailed = true
			}
		}
	}

	// A Request counts as awaiting a Reply only if its replier copy was
	// actually queued. A dropped replier copy is answered in-band with a
	// synthetic "$.KBUS.Replier.QueueFull" reply, like a replier that went
	// away before replying.
	if msg.IsRequest() {
		if directFailed {
			d.synthesizeReply(ReplierQueueFullName, direct.id, sender.id, id)
		} else {
			sender.mu.Lock()
			sender.outstanding[id] = struct{}{}
			sender.mu.Unlock()
		}
	}
	if msg.IsReply() {
		d.settleReply(sender, direct, msg.InReplyTo)
	}

	d.debug("sent", zap.Uint64("socket", uint64(sender.id)), zap.String("name", msg.Name),
		zap.Uint64("serial", id.SerialNum), zap.Int("recipients", len(deliveries)))

	return id, deliveryErr
}

// settleReply records that the Request with the given id has been answered:
// the requester stops waiting for it and the replier no longer owes it.
func (d *Device) settleReply(replier, requester *Socket, id wire.MessageID) {
	replier.mu.Lock()
	delete(replier.toReply, id)
	if requester == replier {
		delete(replier.outstanding, id)
		replier.mu.Unlock()
		return
	}
	replier.mu.Unlock()

	if requester != nil {
		requester.mu.Lock()
		delete(requester.outstanding, id)
		requester.mu.Unlock()
	}
}

// routeBindEvent announces a replier bind or unbind to every listener of
// ReplierBindEventName. Callers hold d.mu.
func (d *Device) routeBindEvent(isBind bool, binder wire.SocketID, name string) {
	data, err := wire.EncodeBindEvent(&wire.ReplierBindEvent{
		IsBind: isBind,
		Binder: binder,
		Name:   name,
	})
	if err != nil {
		d.log.Error("Encoding bind event failed", zap.Error(err))
		return
	}

	msg := &wire.Message{
		Name:  ReplierBindEventName,
		Flags: wire.Synthetic,
		Data:  data,
	}

	delivered := map[wire.SocketID]bool{}
	for _, lb := range d.bindings.listeners(ReplierBindEventName) {
		if delivered[lb.socket.id] && lb.socket.OnlyOnce() {
			continue
		}
		delivered[lb.socket.id] = true
		if err := lb.socket.queue.push(msg.Clone(), false); err != nil {
			d.debug("bind event dropped", zap.Uint64("socket", uint64(lb.socket.id)), zap.Error(err))
		}
	}
}

// synthesizeReply answers a Request on behalf of a replier that went away
// or unbound before replying. Callers hold d.mu.
func (d *Device) synthesizeReply(name string, from, to wire.SocketID, inReplyTo wire.MessageID) {
	requester, exists := d.sockets[to]
	if !exists {
		return
	}

	requester.mu.Lock()
	delete(requester.outstanding, inReplyTo)
	requester.mu.Unlock()

	msg := &wire.Message{
		Name:      name,
		Flags:     wire.Synthetic,
		To:        to,
		From:      from,
		InReplyTo: inReplyTo,
	}
	if err := requester.queue.push(msg, false); err != nil {
		d.debug("synthetic reply dropped", zap.Uint64("socket", uint64(to)), zap.Error(err))
	}
}
