package wire

type (
	// SocketID identifies one open socket on a device. 0 means "no socket"
	// (in the To field it means "resolve via the binding table").
	SocketID uint64

	// Flags is the message flag bitset.
	Flags uint64
)

// Message flag bits.
const (
	// WantAReply marks a message as a Request.
	WantAReply Flags = 1 << iota
	// WantYouToReply is set by the router on the copy delivered to the
	// socket expected to answer a Request.
	WantYouToReply
	// Synthetic marks messages fabricated by the device itself.
	Synthetic
	// Urgent requests front-of-queue delivery.
	Urgent
)

// AllOrFail makes a send fail, delivering nothing, unless every recipient
// queue has room.
const AllOrFail Flags = 1 << 9

// MessageID identifies one sent message. The zero value means "no id".
type MessageID struct {
	NetworkID uint64
	SerialNum uint64
}

// IsZero reports whether the id is "no id".
func (id MessageID) IsZero() bool {
	return id.NetworkID == 0 && id.SerialNum == 0
}

// Compare orders ids lexicographically by (NetworkID, SerialNum).
func (id MessageID) Compare(other MessageID) int {
	switch {
	case id.NetworkID < other.NetworkID:
		return -1
	case id.NetworkID > other.NetworkID:
		return 1
	case id.SerialNum < other.SerialNum:
		return -1
	case id.SerialNum > other.SerialNum:
		return 1
	default:
		return 0
	}
}

// Message is one unit of bus traffic. Name is required, Data is opaque.
type Message struct {
	ID        MessageID
	InReplyTo MessageID
	To        SocketID
	From      SocketID
	OrigFrom  SocketID
	FinalTo   SocketID
	Flags     Flags
	Name      string
	Data      []byte
}

// IsReply reports whether the message answers an earlier Request.
func (m *Message) IsReply() bool {
	return !m.InReplyTo.IsZero()
}

// IsRequest reports whether the message demands a Reply.
func (m *Message) IsRequest() bool {
	return m.Flags&WantAReply != 0
}

// IsStatefulRequest reports whether the message is a Request pinned to a
// specific socket.
func (m *Message) IsStatefulRequest() bool {
	return m.Flags&WantAReply != 0 && m.To != 0
}

// WantsUsToReply reports whether the recipient of this copy is the one
// expected to answer.
func (m *Message) WantsUsToReply() bool {
	return m.Flags&WantAReply != 0 && m.Flags&WantYouToReply != 0
}

// Clone returns a self-contained copy of the message, owning its data.
func (m *Message) Clone() *Message {
	c := *m
	if m.Data != nil {
		c.Data = append([]byte(nil), m.Data...)
	}
	return &c
}

// ReplierBindEvent is the payload of a replier bind/unbind notification.
type ReplierBindEvent struct {
	IsBind bool
	Binder SocketID
	Name   string
}

// MessageSize returns the number of bytes EncodeMessage produces for msg.
func MessageSize(msg *Message) (uint64, error) {
	return NewMarshaller().Size(msg)
}

// EncodeMessage returns the self-contained wire form of the message.
func EncodeMessage(msg *Message) ([]byte, error) {
	m := NewMarshaller()
	size, err := m.Size(msg)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, _, err := m.Marshal(msg, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeMessage decodes a message from its wire form.
func DecodeMessage(buf []byte) (*Message, error) {
	msg, _, err := NewMarshaller().Unmarshal(id1, buf)
	if err != nil {
		return nil, err
	}
	return msg.(*Message), nil
}

// EncodeBindEvent returns the wire form of a replier bind event payload.
func EncodeBindEvent(event *ReplierBindEvent) ([]byte, error) {
	m := NewMarshaller()
	size, err := m.Size(event)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, _, err := m.Marshal(event, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeBindEvent decodes a replier bind event payload.
func DecodeBindEvent(buf []byte) (*ReplierBindEvent, error) {
	event, _, err := NewMarshaller().Unmarshal(id2, buf)
	if err != nil {
		return nil, err
	}
	return event.(*ReplierBindEvent), nil
}
