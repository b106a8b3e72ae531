package kbus

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/ElliottH/kbus/wire"
)

// Message names synthesized by the device itself.
const (
	// ReplierBindEventName announces a replier binding or unbinding.
	ReplierBindEventName = "$.KBUS.ReplierBindEvent"
	// ReplierGoneAwayName answers a Request whose replier closed before
	// replying.
	ReplierGoneAwayName = "$.KBUS.Replier.GoneAway"
	// ReplierUnboundName answers a Request whose replier unbound before
	// replying.
	ReplierUnboundName = "$.KBUS.Replier.Unbound"
	// ReplierQueueFullName answers a Request that was dropped because the
	// replier's queue was full.
	ReplierQueueFullName = "$.KBUS.Replier.QueueFull"
)

// NewMessage builds a plain message (an announcement).
func NewMessage(name string, data []byte, flags wire.Flags) *wire.Message {
	return &wire.Message{
		Name:  name,
		Data:  data,
		Flags: flags,
	}
}

// NewRequest builds a Request: a message demanding a Reply.
func NewRequest(name string, data []byte, flags wire.Flags) *wire.Message {
	return &wire.Message{
		Name:  name,
		Data:  data,
		Flags: flags | wire.WantAReply,
	}
}

// NewReply builds a Reply to a Request. The Request copy must be the one
// marked for us to answer, otherwise ErrBadMessage is returned. The name is
// taken from the Request, the Reply is addressed to the Request's sender.
func NewReply(inReplyTo *wire.Message, data []byte, flags wire.Flags) (*wire.Message, error) {
	if !inReplyTo.WantsUsToReply() {
		return nil, errors.Wrap(ErrBadMessage, "source request does not want us to reply")
	}
	return &wire.Message{
		Name:      inReplyTo.Name,
		Data:      data,
		Flags:     flags,
		To:        inReplyTo.From,
		InReplyTo: inReplyTo.ID,
	}, nil
}

// NewStatefulRequest builds a Request pinned to a specific socket, derived
// from an earlier Reply received from that socket or from a previous
// Stateful Request to it. Flags are never inherited from the earlier
// message.
func NewStatefulRequest(
	earlier *wire.Message,
	name string,
	data []byte,
	flags wire.Flags,
) (*wire.Message, error) {
	msg := &wire.Message{
		Name:  name,
		Data:  data,
		Flags: flags | wire.WantAReply,
	}
	switch {
	case earlier.IsReply():
		msg.To = earlier.From
		msg.FinalTo = earlier.OrigFrom
	case earlier.IsStatefulRequest():
		msg.To = earlier.To
		msg.FinalTo = earlier.FinalTo
	default:
		return nil, errors.Wrap(ErrBadMessage,
			"earlier message is neither a reply nor a stateful request")
	}
	return msg, nil
}

// SplitBindEvent decodes the payload of a replier bind event message.
func SplitBindEvent(msg *wire.Message) (*wire.ReplierBindEvent, error) {
	if msg.Name != ReplierBindEventName {
		return nil, errors.Wrapf(ErrBadMessage, "message %q is not a replier bind event", msg.Name)
	}
	return wire.DecodeBindEvent(msg.Data)
}

// validateName checks a message name: "$."-rooted, dot-separated
// alphanumeric parts. A binding name may use a single "*" (one or more
// trailing parts) or "%" (exactly one part) as its final part.
func validateName(name string, wildcardOK bool) error {
	if len(name) < 3 || !strings.HasPrefix(name, "$.") {
		return errors.Wrapf(ErrBadMessage, "invalid message name %q", name)
	}
	parts := strings.Split(name[2:], ".")
	for i, part := range parts {
		if part == "*" || part == "%" {
			if wildcardOK && i == len(parts)-1 {
				continue
			}
			return errors.Wrapf(ErrBadMessage, "wildcard not allowed in %q", name)
		}
		if part == "" {
			return errors.Wrapf(ErrBadMessage, "empty part in message name %q", name)
		}
		for _, r := range part {
			if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
				return errors.Wrapf(ErrBadMessage, "invalid character %q in message name %q", r, name)
			}
		}
	}
	return nil
}

// nameMatches reports whether a binding name (possibly ending in a
// wildcard) matches a concrete message name.
func nameMatches(binding, name string) bool {
	switch {
	case strings.HasSuffix(binding, ".*"):
		prefix := binding[:len(binding)-1]
		return len(name) > len(prefix) && strings.HasPrefix(name, prefix)
	case strings.HasSuffix(binding, ".%"):
		prefix := binding[:len(binding)-1]
		return len(name) > len(prefix) && strings.HasPrefix(name, prefix) &&
			!strings.Contains(name[len(prefix):], ".")
	default:
		return binding == name
	}
}

// bindingSpecificity orders matching bindings: longer prefixes win, and at
// equal prefix length exact beats "%" beats "*".
func bindingSpecificity(binding string) (prefixLen int, rank int) {
	switch {
	case strings.HasSuffix(binding, ".*"):
		return len(binding) - 1, 0
	case strings.HasSuffix(binding, ".%"):
		return len(binding) - 1, 1
	default:
		return len(binding), 2
	}
}
