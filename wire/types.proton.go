package wire

import (
	"reflect"

	"github.com/outofforest/proton"
	"github.com/outofforest/proton/helpers"
	"github.com/pkg/errors"
)

const (
	id1 uint64 = iota + 1
	id2
)

var _ proton.Marshaller = Marshaller{}

// NewMarshaller creates marshaller.
func NewMarshaller() Marshaller {
	return Marshaller{}
}

// Marshaller marshals and unmarshals messages.
type Marshaller struct {
}

// Messages returns list of the message types supported by marshaller.
func (m Marshaller) Messages() []any {
	return []any {
		Message{},
		ReplierBindEvent{},
	}
}

// ID returns ID of message type.
func (m Marshaller) ID(msg any) (uint64, error) {
	switch msg.(type) {
	case *Message:
		return id1, nil
	case *ReplierBindEvent:
		return id2, nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Size computes the size of marshalled message.
func (m Marshaller) Size(msg any) (uint64, error) {
	switch msg2 := msg.(type) {
	case *Message:
		return size1(msg2), nil
	case *ReplierBindEvent:
		return size2(msg2), nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Marshal marshals message.
func (m Marshaller) Marshal(msg any, buf []byte) (retID, retSize uint64, retErr error) {
	defer helpers.RecoverMarshal(&retErr)

	switch msg2 := msg.(type) {
	case *Message:
		return id1, marshal1(msg2, buf), nil
	case *ReplierBindEvent:
		return id2, marshal2(msg2, buf), nil
	default:
		return 0, 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Unmarshal unmarshals message.
func (m Marshaller) Unmarshal(id uint64, buf []byte) (retMsg any, retSize uint64, retErr error) {
	defer helpers.RecoverUnmarshal(&retErr)

	switch id {
	case id1:
		msg := &Message{}
		return msg, unmarshal1(msg, buf), nil
	case id2:
		msg := &ReplierBindEvent{}
		return msg, unmarshal2(msg, buf), nil
	default:
		return nil, 0, errors.Errorf("unknown ID %d", id)
	}
}

// MakePatch creates a patch.
func (m Marshaller) MakePatch(msgDst, msgSrc any, buf []byte) (retID, retSize uint64, retErr error) {
	defer helpers.RecoverMakePatch(&retErr)

	switch msg2 := msgDst.(type) {
	case *Message:
		return id1, makePatch1(msg2, msgSrc.(*Message), buf), nil
	case *ReplierBindEvent:
		return id2, makePatch2(msg2, msgSrc.(*ReplierBindEvent), buf), nil
	default:
		return 0, 0, errors.Errorf("unknown message type %T", msgDst)
	}
}

// ApplyPatch applies patch.
func (m Marshaller) ApplyPatch(msg any, buf []byte) (retSize uint64, retErr error) {
	defer helpers.RecoverApplyPatch(&retErr)

	switch msg2 := msg.(type) {
	case *Message:
		return applyPatch1(msg2, buf), nil
	case *ReplierBindEvent:
		return applyPatch2(msg2, buf), nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

func size0(m *MessageID) uint64 {
	var n uint64 = 2
	{
		// NetworkID

		helpers.UInt64Size(m.NetworkID, &n)
	}
	{
		// SerialNum

		helpers.UInt64Size(m.SerialNum, &n)
	}
	return n
}

func marshal0(m *MessageID, b []byte) uint64 {
	var o uint64
	{
		// NetworkID

		helpers.UInt64Marshal(m.NetworkID, b, &o)
	}
	{
		// SerialNum

		helpers.UInt64Marshal(m.SerialNum, b, &o)
	}

	return o
}

func unmarshal0(m *MessageID, b []byte) uint64 {
	var o uint64
	{
		// NetworkID

		helpers.UInt64Unmarshal(&m.NetworkID, b, &o)
	}
	{
		// SerialNum

		helpers.UInt64Unmarshal(&m.SerialNum, b, &o)
	}

	return o
}

func size1(m *Message) uint64 {
	var n uint64 = 7
	{
		// ID

		n += size0(&m.ID)
	}
	{
		// InReplyTo

		n += size0(&m.InReplyTo)
	}
	{
		// To

		helpers.UInt64Size(m.To, &n)
	}
	{
		// From

		helpers.UInt64Size(m.From, &n)
	}
	{
		// OrigFrom

		helpers.UInt64Size(m.OrigFrom, &n)
	}
	{
		// FinalTo

		helpers.UInt64Size(m.FinalTo, &n)
	}
	{
		// Flags

		helpers.UInt64Size(m.Flags, &n)
	}
	{
		// Name

		{
			l := uint64(len(m.Name))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// Data

		{
			l := uint64(len(m.Data))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	return n
}

func marshal1(m *Message, b []byte) uint64 {
	var o uint64
	{
		// ID

		o += marshal0(&m.ID, b[o:])
	}
	{
		// InReplyTo

		o += marshal0(&m.InReplyTo, b[o:])
	}
	{
		// To

		helpers.UInt64Marshal(m.To, b, &o)
	}
	{
		// From

		helpers.UInt64Marshal(m.From, b, &o)
	}
	{
		// OrigFrom

		helpers.UInt64Marshal(m.OrigFrom, b, &o)
	}
	{
		// FinalTo

		helpers.UInt64Marshal(m.FinalTo, b, &o)
	}
	{
		// Flags

		helpers.UInt64Marshal(m.Flags, b, &o)
	}
	{
		// Name

		{
			l := uint64(len(m.Name))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Name)
			o += l
		}
	}
	{
		// Data

		{
			l := uint64(len(m.Data))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Data)
			o += l
		}
	}

	return o
}

func unmarshal1(m *Message, b []byte) uint64 {
	var o uint64
	{
		// ID

		o += unmarshal0(&m.ID, b[o:])
	}
	{
		// InReplyTo

		o += unmarshal0(&m.InReplyTo, b[o:])
	}
	{
		// To

		helpers.UInt64Unmarshal(&m.To, b, &o)
	}
	{
		// From

		helpers.UInt64Unmarshal(&m.From, b, &o)
	}
	{
		// OrigFrom

		helpers.UInt64Unmarshal(&m.OrigFrom, b, &o)
	}
	{
		// FinalTo

		helpers.UInt64Unmarshal(&m.FinalTo, b, &o)
	}
	{
		// Flags

		helpers.UInt64Unmarshal(&m.Flags, b, &o)
	}
	{
		// Name

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Name = string(b[o : o+l])
				o += l
			}
		}
	}
	{
		// Data

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Data = make([]byte, l)
				copy(m.Data, b[o:o+l])
				o += l
			}
		}
	}

	return o
}

func makePatch1(m, mSrc *Message, b []byte) uint64 {
	var o uint64 = 2
	{
		// ID

		if reflect.DeepEqual(m.ID, mSrc.ID) {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			o += marshal0(&m.ID, b[o:])
		}
	}
	{
		// InReplyTo

		if reflect.DeepEqual(m.InReplyTo, mSrc.InReplyTo) {
			b[0] &= 0xFD
		} else {
			b[0] |= 0x02
			o += marshal0(&m.InReplyTo, b[o:])
		}
	}
	{
		// To

		if m.To == mSrc.To {
			b[0] &= 0xFB
		} else {
			b[0] |= 0x04
			helpers.UInt64Marshal(m.To, b, &o)
		}
	}
	{
		// From

		if m.From == mSrc.From {
			b[0] &= 0xF7
		} else {
			b[0] |= 0x08
			helpers.UInt64Marshal(m.From, b, &o)
		}
	}
	{
		// OrigFrom

		if m.OrigFrom == mSrc.OrigFrom {
			b[0] &= 0xEF
		} else {
			b[0] |= 0x10
			helpers.UInt64Marshal(m.OrigFrom, b, &o)
		}
	}
	{
		// FinalTo

		if m.FinalTo == mSrc.FinalTo {
			b[0] &= 0xDF
		} else {
			b[0] |= 0x20
			helpers.UInt64Marshal(m.FinalTo, b, &o)
		}
	}
	{
		// Flags

		if m.Flags == mSrc.Flags {
			b[0] &= 0xBF
		} else {
			b[0] |= 0x40
			helpers.UInt64Marshal(m.Flags, b, &o)
		}
	}
	{
		// Name

		if m.Name == mSrc.Name {
			b[0] &= 0x7F
		} else {
			b[0] |= 0x80
			{
				l := uint64(len(m.Name))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Name)
				o += l
			}
		}
	}
	{
		// Data

		if reflect.DeepEqual(m.Data, mSrc.Data) {
			b[1] &= 0xFE
		} else {
			b[1] |= 0x01
			{
				l := uint64(len(m.Data))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Data)
				o += l
			}
		}
	}

	return o
}

func applyPatch1(m *Message, b []byte) uint64 {
	var o uint64 = 2
	{
		// ID

		if b[0]&0x01 != 0 {
			o += unmarshal0(&m.ID, b[o:])
		}
	}
	{
		// InReplyTo

		if b[0]&0x02 != 0 {
			o += unmarshal0(&m.InReplyTo, b[o:])
		}
	}
	{
		// To

		if b[0]&0x04 != 0 {
			helpers.UInt64Unmarshal(&m.To, b, &o)
		}
	}
	{
		// From

		if b[0]&0x08 != 0 {
			helpers.UInt64Unmarshal(&m.From, b, &o)
		}
	}
	{
		// OrigFrom

		if b[0]&0x10 != 0 {
			helpers.UInt64Unmarshal(&m.OrigFrom, b, &o)
		}
	}
	{
		// FinalTo

		if b[0]&0x20 != 0 {
			helpers.UInt64Unmarshal(&m.FinalTo, b, &o)
		}
	}
	{
		// Flags

		if b[0]&0x40 != 0 {
			helpers.UInt64Unmarshal(&m.Flags, b, &o)
		}
	}
	{
		// Name

		if b[0]&0x80 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Name = string(b[o : o+l])
					o += l
				}
			}
		}
	}
	{
		// Data

		if b[1]&0x01 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Data = make([]byte, l)
					copy(m.Data, b[o:o+l])
					o += l
				}
			}
		}
	}

	return o
}

func size2(m *ReplierBindEvent) uint64 {
	var n uint64 = 3
	{
		// Binder

		helpers.UInt64Size(m.Binder, &n)
	}
	{
		// Name

		{
			l := uint64(len(m.Name))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	return n
}

func marshal2(m *ReplierBindEvent, b []byte) uint64 {
	var o uint64 = 1
	{
		// IsBind

		if m.IsBind {
			b[0] |= 0x01
		} else {
			b[0] &= 0xFE
		}
	}
	{
		// Binder

		helpers.UInt64Marshal(m.Binder, b, &o)
	}
	{
		// Name

		{
			l := uint64(len(m.Name))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Name)
			o += l
		}
	}

	return o
}

func unmarshal2(m *ReplierBindEvent, b []byte) uint64 {
	var o uint64 = 1
	{
		// IsBind

		m.IsBind = b[0]&0x01 != 0
	}
	{
		// Binder

		helpers.UInt64Unmarshal(&m.Binder, b, &o)
	}
	{
		// Name

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Name = string(b[o : o+l])
				o += l
			}
		}
	}

	return o
}

func makePatch2(m, mSrc *ReplierBindEvent, b []byte) uint64 {
	var o uint64 = 2
	{
		// IsBind

		if m.IsBind == mSrc.IsBind {
			b[1] &= 0xFE
		} else {
			b[1] |= 0x01
		}
	}
	{
		// Binder

		if m.Binder == mSrc.Binder {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			helpers.UInt64Marshal(m.Binder, b, &o)
		}
	}
	{
		// Name

		if m.Name == mSrc.Name {
			b[0] &= 0xFD
		} else {
			b[0] |= 0x02
			{
				l := uint64(len(m.Name))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Name)
				o += l
			}
		}
	}

	return o
}

func applyPatch2(m *ReplierBindEvent, b []byte) uint64 {
	var o uint64 = 2
	{
		// IsBind

		if b[1]&0x01 != 0 {
			m.IsBind = !m.IsBind
		}
	}
	{
		// Binder

		if b[0]&0x01 != 0 {
			helpers.UInt64Unmarshal(&m.Binder, b, &o)
		}
	}
	{
		// Name

		if b[0]&0x02 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Name = string(b[o : o+l])
					o += l
				}
			}
		}
	}

	return o
}
