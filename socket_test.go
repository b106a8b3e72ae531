package kbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/parallel"
	"github.com/outofforest/qa"

	"github.com/ElliottH/kbus"
	"github.com/ElliottH/kbus/wire"
)

func TestOpenModes(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	bus := kbus.New(ctx, kbus.Config{})

	_, err := bus.Open(0, 0)
	requireT.ErrorIs(err, kbus.ErrInvalidArgument)

	reader, err := bus.Open(0, kbus.ModeRead)
	requireT.NoError(err)
	writer, err := bus.Open(0, kbus.ModeWrite)
	requireT.NoError(err)

	requireT.ErrorIs(reader.Write([]byte{1}), kbus.ErrReadOnly)
	_, err = reader.Send()
	requireT.ErrorIs(err, kbus.ErrReadOnly)

	_, err = writer.Next()
	requireT.ErrorIs(err, kbus.ErrWriteOnly)
	_, err = writer.Read(1)
	requireT.ErrorIs(err, kbus.ErrWriteOnly)
	_, err = writer.ReadMsg(1)
	requireT.ErrorIs(err, kbus.ErrWriteOnly)
}

func TestSocketIDsAreDistinct(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	bus := kbus.New(ctx, kbus.Config{})

	a, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)
	b, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)

	requireT.NotZero(a.ID())
	requireT.NotZero(b.ID())
	requireT.NotEqual(a.ID(), b.ID())
}

func TestComposeSendDiscard(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	bus := kbus.New(ctx, kbus.Config{})

	sock, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)

	// Sending with nothing composed fails.
	_, err = sock.Send()
	requireT.ErrorIs(err, kbus.ErrNoMessage)

	// A discarded composition is gone.
	buf, err := wire.EncodeMessage(kbus.NewMessage("$.Fred", nil, 0))
	requireT.NoError(err)
	requireT.NoError(sock.Write(buf))
	requireT.NoError(sock.Discard())
	_, err = sock.Send()
	requireT.ErrorIs(err, kbus.ErrNoMessage)

	// Piecewise writes compose one message.
	requireT.NoError(sock.Write(buf[:3]))
	requireT.NoError(sock.Write(buf[3:]))
	id, err := sock.Send()
	requireT.NoError(err)
	requireT.Equal(id, sock.LastMsgID())

	// Garbage fails the send and clears the composition.
	requireT.NoError(sock.Write([]byte{0xff, 0xff, 0xff}))
	_, err = sock.Send()
	requireT.ErrorIs(err, kbus.ErrBadMessage)
	_, err = sock.Send()
	requireT.ErrorIs(err, kbus.ErrNoMessage)
}

func TestMaxMessageSize(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	bus := kbus.New(ctx, kbus.Config{MaxMessageSize: 16})

	sock, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)

	requireT.NoError(sock.Write(make([]byte, 16)))
	requireT.ErrorIs(sock.Write([]byte{1}), kbus.ErrTooBig)

	requireT.NoError(sock.Discard())
	_, err = sock.SendMsg(kbus.NewMessage("$.Fred", make([]byte, 32), 0))
	requireT.ErrorIs(err, kbus.ErrTooBig)
}

func TestNextReadLenLeft(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	bus := kbus.New(ctx, kbus.Config{})

	sender, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)
	listener, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)

	requireT.NoError(listener.Bind("$.Fred", false))

	sent := kbus.NewMessage("$.Fred", []byte("payload"), 0)
	_, err = sender.SendMsg(sent)
	requireT.NoError(err)

	msgLen, err := listener.Next()
	requireT.NoError(err)
	requireT.NotZero(msgLen)

	left, err := listener.LenLeft()
	requireT.NoError(err)
	requireT.Equal(msgLen, left)

	head, err := listener.Read(4)
	requireT.NoError(err)
	requireT.Len(head, 4)

	left, err = listener.LenLeft()
	requireT.NoError(err)
	requireT.Equal(msgLen-4, left)

	// A partially-read message cannot be taken whole any more.
	_, err = listener.ReadMsg(msgLen)
	requireT.ErrorIs(err, kbus.ErrBadMessage)

	// Overlong reads stop at the end of the message.
	tail, err := listener.Read(msgLen)
	requireT.NoError(err)
	requireT.Len(tail, int(msgLen-4))

	msg, err := wire.DecodeMessage(append(head, tail...))
	requireT.NoError(err)
	requireT.Equal("$.Fred", msg.Name)
	requireT.Equal([]byte("payload"), msg.Data)
	requireT.Equal(sender.ID(), msg.From)

	// The queue is drained now.
	msgLen, err = listener.Next()
	requireT.NoError(err)
	requireT.Zero(msgLen)
}

func TestReadMsgLengthMustMatch(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	bus := kbus.New(ctx, kbus.Config{})

	sender, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)
	listener, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)

	requireT.NoError(listener.Bind("$.Fred", false))
	_, err = sender.SendMsg(kbus.NewMessage("$.Fred", nil, 0))
	requireT.NoError(err)

	_, err = listener.ReadMsg(1)
	requireT.ErrorIs(err, kbus.ErrBadMessage)

	msgLen, err := listener.Next()
	requireT.NoError(err)
	_, err = listener.ReadMsg(msgLen + 1)
	requireT.ErrorIs(err, kbus.ErrBadMessage)

	msg, err := listener.ReadMsg(msgLen)
	requireT.NoError(err)
	requireT.Equal("$.Fred", msg.Name)
}

func TestNextDiscardsPartialRead(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	bus := kbus.New(ctx, kbus.Config{})

	sender, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)
	listener, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)

	requireT.NoError(listener.Bind("$.Fred.*", false))
	_, err = sender.SendMsg(kbus.NewMessage("$.Fred.One", nil, 0))
	requireT.NoError(err)
	_, err = sender.SendMsg(kbus.NewMessage("$.Fred.Two", nil, 0))
	requireT.NoError(err)

	_, err = listener.Next()
	requireT.NoError(err)
	_, err = listener.Read(2)
	requireT.NoError(err)

	msgLen, err := listener.Next()
	requireT.NoError(err)
	msg, err := listener.ReadMsg(msgLen)
	requireT.NoError(err)
	requireT.Equal("$.Fred.Two", msg.Name)
}

func TestMaxMessagesResize(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	bus := kbus.New(ctx, kbus.Config{MaxMessages: 4})

	sender, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)
	listener, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)

	requireT.Equal(4, listener.MaxMessages())

	n, err := listener.SetMaxMessages(2)
	requireT.NoError(err)
	requireT.Equal(2, n)

	requireT.NoError(listener.Bind("$.Fred", false))
	_, err = sender.SendMsg(kbus.NewMessage("$.Fred", nil, 0))
	requireT.NoError(err)
	_, err = sender.SendMsg(kbus.NewMessage("$.Fred", nil, 0))
	requireT.NoError(err)

	// Shrinking below the queued count is rejected, capacity is kept.
	n, err = listener.SetMaxMessages(1)
	requireT.ErrorIs(err, kbus.ErrInvalidArgument)
	requireT.Equal(2, n)

	_, err = listener.SetMaxMessages(0)
	requireT.ErrorIs(err, kbus.ErrInvalidArgument)

	n, err = listener.SetMaxMessages(8)
	requireT.NoError(err)
	requireT.Equal(8, n)
}

func TestOnlyOnceFlag(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	bus := kbus.New(ctx, kbus.Config{})

	sock, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)

	requireT.False(sock.OnlyOnce())
	requireT.False(sock.SetOnlyOnce(true))
	requireT.True(sock.OnlyOnce())
	requireT.True(sock.SetOnlyOnce(false))
	requireT.False(sock.OnlyOnce())
}

func TestVerboseFlag(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	bus := kbus.New(ctx, kbus.Config{})

	requireT.False(bus.Verbose())
	requireT.False(bus.SetVerbose(true))
	requireT.True(bus.Verbose())
	requireT.True(bus.SetVerbose(false))
}

func TestClosedSocket(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	bus := kbus.New(ctx, kbus.Config{})

	sock, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)
	other, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)

	requireT.NoError(sock.Bind("$.Fred", true))
	requireT.NoError(sock.Close())
	requireT.ErrorIs(sock.Close(), kbus.ErrClosedHandle)

	requireT.ErrorIs(sock.Bind("$.Jim", false), kbus.ErrClosedHandle)
	requireT.ErrorIs(sock.Unbind("$.Fred", true), kbus.ErrClosedHandle)
	requireT.ErrorIs(sock.Write([]byte{1}), kbus.ErrClosedHandle)
	_, err = sock.Send()
	requireT.ErrorIs(err, kbus.ErrClosedHandle)
	_, err = sock.Next()
	requireT.ErrorIs(err, kbus.ErrClosedHandle)
	_, err = sock.WaitFor(ctx, kbus.Readable)
	requireT.ErrorIs(err, kbus.ErrClosedHandle)

	// The binding died with the socket, so the name is free for others.
	id, err := other.FindReplier("$.Fred")
	requireT.NoError(err)
	requireT.Equal(wire.SocketID(0), id)
	requireT.NoError(other.Bind("$.Fred", true))
}

func TestWaitFor(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	bus := kbus.New(ctx, kbus.Config{})

	sender, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)
	listener, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)
	reader, err := bus.Open(0, kbus.ModeRead)
	requireT.NoError(err)

	requireT.NoError(listener.Bind("$.Fred", false))

	// A condition the open mode rules out entirely is an error.
	_, err = reader.WaitFor(ctx, kbus.Writable)
	requireT.ErrorIs(err, kbus.ErrInvalidArgument)

	// Writable sockets are always ready to write.
	ready, err := listener.WaitFor(ctx, kbus.Readable|kbus.Writable)
	requireT.NoError(err)
	requireT.Equal(kbus.Writable, ready)

	group.Spawn("sender", parallel.Fail, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
		_, err := sender.SendMsg(kbus.NewMessage("$.Fred", nil, 0))
		if err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	})

	ready, err = listener.WaitFor(ctx, kbus.Readable)
	requireT.NoError(err)
	requireT.Equal(kbus.Readable, ready)
	requireT.Equal(1, listener.NumMessages())
}

func TestWaitForReleasedByClose(t *testing.T) {
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)

	defer func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	}()

	bus := kbus.New(ctx, kbus.Config{})

	sock, err := bus.Open(0, kbus.ModeReadWrite)
	requireT.NoError(err)

	waitErr := make(chan error, 1)
	group.Spawn("waiter", parallel.Fail, func(ctx context.Context) error {
		_, err := sock.WaitFor(ctx, kbus.Readable)
		waitErr <- err
		<-ctx.Done()
		return ctx.Err()
	})

	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return
	}
	requireT.NoError(sock.Close())

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		requireT.Fail("timeout")
	case err := <-waitErr:
		requireT.ErrorIs(err, kbus.ErrClosedHandle)
	}
}
