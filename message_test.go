package kbus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ElliottH/kbus"
	"github.com/ElliottH/kbus/wire"
)

func TestMessageClassification(t *testing.T) {
	requireT := require.New(t)

	plain := kbus.NewMessage("$.Fred", []byte("data"), 0)
	requireT.False(plain.IsRequest())
	requireT.False(plain.IsReply())
	requireT.False(plain.IsStatefulRequest())

	req := kbus.NewRequest("$.Fred", nil, 0)
	requireT.True(req.IsRequest())
	requireT.False(req.IsReply())
	requireT.False(req.IsStatefulRequest())
	requireT.False(req.WantsUsToReply())

	req.Flags |= wire.WantYouToReply
	requireT.True(req.WantsUsToReply())

	req.To = 42
	requireT.True(req.IsStatefulRequest())
}

func TestMessageIDCompare(t *testing.T) {
	requireT := require.New(t)

	requireT.True(wire.MessageID{}.IsZero())
	requireT.False(wire.MessageID{SerialNum: 1}.IsZero())

	a := wire.MessageID{NetworkID: 1, SerialNum: 10}
	b := wire.MessageID{NetworkID: 2, SerialNum: 1}
	requireT.Equal(-1, a.Compare(b))
	requireT.Equal(1, b.Compare(a))
	requireT.Equal(0, a.Compare(a))
	requireT.Equal(-1, a.Compare(wire.MessageID{NetworkID: 1, SerialNum: 11}))
}

func TestNewReply(t *testing.T) {
	requireT := require.New(t)

	req := kbus.NewRequest("$.Fred", []byte("question"), 0)
	req.ID = wire.MessageID{SerialNum: 7}
	req.From = 3

	// A Request copy not marked for us must be rejected.
	_, err := kbus.NewReply(req, nil, 0)
	requireT.ErrorIs(err, kbus.ErrBadMessage)

	req.Flags |= wire.WantYouToReply
	reply, err := kbus.NewReply(req, []byte("answer"), 0)
	requireT.NoError(err)
	requireT.Equal("$.Fred", reply.Name)
	requireT.Equal(wire.SocketID(3), reply.To)
	requireT.Equal(wire.MessageID{SerialNum: 7}, reply.InReplyTo)
	requireT.True(reply.IsReply())
	requireT.False(reply.IsRequest())
}

func TestNewStatefulRequest(t *testing.T) {
	requireT := require.New(t)

	reply := &wire.Message{
		Name:      "$.Fred",
		From:      9,
		OrigFrom:  4,
		InReplyTo: wire.MessageID{SerialNum: 1},
	}

	sr, err := kbus.NewStatefulRequest(reply, "$.Fred.More", nil, 0)
	requireT.NoError(err)
	requireT.Equal(wire.SocketID(9), sr.To)
	requireT.Equal(wire.SocketID(4), sr.FinalTo)
	requireT.True(sr.IsStatefulRequest())

	sr2, err := kbus.NewStatefulRequest(sr, "$.Fred.Again", nil, 0)
	requireT.NoError(err)
	requireT.Equal(sr.To, sr2.To)
	requireT.Equal(sr.FinalTo, sr2.FinalTo)

	// Flags are never inherited from the earlier message.
	requireT.Equal(wire.WantAReply, sr2.Flags)

	_, err = kbus.NewStatefulRequest(kbus.NewMessage("$.Fred", nil, 0), "$.Fred.More", nil, 0)
	requireT.ErrorIs(err, kbus.ErrBadMessage)
}

func TestMessageRoundTrip(t *testing.T) {
	requireT := require.New(t)

	msg := &wire.Message{
		ID:        wire.MessageID{NetworkID: 1, SerialNum: 300},
		InReplyTo: wire.MessageID{SerialNum: 299},
		To:        12,
		From:      34,
		OrigFrom:  56,
		FinalTo:   78,
		Flags:     wire.WantAReply | wire.Urgent,
		Name:      "$.Fred.Jim",
		Data:      []byte{0x01, 0x02, 0x03},
	}

	size, err := wire.MessageSize(msg)
	requireT.NoError(err)

	buf, err := wire.EncodeMessage(msg)
	requireT.NoError(err)
	requireT.Len(buf, int(size))

	decoded, err := wire.DecodeMessage(buf)
	requireT.NoError(err)
	requireT.Equal(msg, decoded)
}

func TestBindEventRoundTrip(t *testing.T) {
	requireT := require.New(t)

	event := &wire.ReplierBindEvent{
		IsBind: true,
		Binder: 17,
		Name:   "$.Fred.*",
	}
	data, err := wire.EncodeBindEvent(event)
	requireT.NoError(err)

	msg := kbus.NewMessage(kbus.ReplierBindEventName, data, wire.Synthetic)
	decoded, err := kbus.SplitBindEvent(msg)
	requireT.NoError(err)
	requireT.Equal(event, decoded)

	_, err = kbus.SplitBindEvent(kbus.NewMessage("$.Fred", nil, 0))
	requireT.ErrorIs(err, kbus.ErrBadMessage)
}

func TestClone(t *testing.T) {
	requireT := require.New(t)

	msg := kbus.NewMessage("$.Fred", []byte{1, 2, 3}, 0)
	cp := msg.Clone()
	requireT.Equal(msg, cp)

	cp.Data[0] = 9
	requireT.Equal(byte(1), msg.Data[0])
}
