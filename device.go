package kbus

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"

	"github.com/ElliottH/kbus/wire"
)

// Mode restricts what a socket may do.
type Mode int

// Open modes.
const (
	ModeRead Mode = 1 << iota
	ModeWrite

	ModeReadWrite = ModeRead | ModeWrite
)

// Readiness is the condition mask used by WaitFor.
type Readiness int

// Readiness bits.
const (
	Readable Readiness = 1 << iota
	Writable
)

// Defaults applied when Config fields are zero.
const (
	DefaultMaxMessages    = 100
	DefaultMaxMessageSize = 1 << 20
)

// Config defines bus configuration.
type Config struct {
	// Devices is the number of devices created at start.
	Devices int
	// MaxMessages is the default queue capacity of each socket.
	MaxMessages int
	// MaxMessageSize bounds the composed form of a single message, in bytes.
	MaxMessageSize uint64
}

// Bus owns a set of devices. Distinct devices never interact.
type Bus struct {
	log    *zap.Logger
	config Config

	mu         sync.Mutex
	devices    map[uint32]*Device
	nextDevice uint32
	verbose    bool
}

// New creates a bus with config.Devices devices, numbered from 0.
func New(ctx context.Context, config Config) *Bus {
	if config.Devices <= 0 {
		config.Devices = 1
	}
	if config.MaxMessages <= 0 {
		config.MaxMessages = DefaultMaxMessages
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}

	b := &Bus{
		log:     logger.Get(ctx),
		config:  config,
		devices: map[uint32]*Device{},
	}
	for range config.Devices {
		b.newDevice()
	}
	return b
}

// NewDevice creates the next device and returns its number.
func (b *Bus) NewDevice() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.newDevice().number
}

func (b *Bus) newDevice() *Device {
	d := &Device{
		bus:      b,
		number:   b.nextDevice,
		log:      b.log.With(zap.Uint32("device", b.nextDevice)),
		bindings: newBindingTable(),
		sockets:  map[wire.SocketID]*Socket{},
	}
	b.devices[d.number] = d
	b.nextDevice++
	return d
}

// Device returns the device with the given number.
func (b *Bus) Device(number uint32) (*Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, exists := b.devices[number]
	if !exists {
		return nil, errors.Wrapf(ErrNotFound, "no device %d", number)
	}
	return d, nil
}

// Open opens a socket on the given device.
func (b *Bus) Open(device uint32, mode Mode) (*Socket, error) {
	d, err := b.Device(device)
	if err != nil {
		return nil, err
	}
	return d.Open(mode)
}

// Verbose returns the module-wide verbose flag.
func (b *Bus) Verbose() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.verbose
}

// SetVerbose sets the module-wide verbose flag and returns the previous
// value. When set, routing activity is logged at debug level.
func (b *Bus) SetVerbose(v bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.verbose
	b.verbose = v
	return prev
}

// Device is one message bus: a binding table plus the registry of live
// sockets. Its mutex makes binding mutations and deliveries mutually
// exclusive, so every send resolves recipients from a single consistent
// snapshot of the binding table.
type Device struct {
	bus    *Bus
	number uint32
	log    *zap.Logger

	mu           sync.Mutex
	bindings     *bindingTable
	sockets      map[wire.SocketID]*Socket
	nextSocketID wire.SocketID
	reportBinds  bool
}

// Number returns the device number.
func (d *Device) Number() uint32 {
	return d.number
}

// Open creates a socket on this device.
func (d *Device) Open(mode Mode) (*Socket, error) {
	if mode&ModeReadWrite == 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "open mode %d", mode)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextSocketID++
	s := &Socket{
		device:      d,
		id:          d.nextSocketID,
		mode:        mode,
		queue:       newMsgQueue(d.bus.config.MaxMessages),
		outstanding: map[wire.MessageID]struct{}{},
		toReply:     map[wire.MessageID]wire.SocketID{},
	}
	d.sockets[s.id] = s

	d.debug("socket opened", zap.Uint64("socket", uint64(s.id)))
	return s, nil
}

// socket looks up a live socket by id. Callers hold d.mu.
func (d *Device) socket(id wire.SocketID) (*Socket, error) {
	s, exists := d.sockets[id]
	if !exists {
		return nil, errors.Wrapf(ErrNotFound, "no socket %d", id)
	}
	return s, nil
}

// reportReplierBinds reads the device-wide bind event flag.
func (d *Device) reportReplierBinds() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.reportBinds
}

// setReportReplierBinds sets the device-wide bind event flag, returning the
// previous value.
func (d *Device) setReportReplierBinds(v bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.reportBinds
	d.reportBinds = v
	return prev
}

func (d *Device) debug(msg string, fields ...zap.Field) {
	if d.bus.Verbose() {
		d.log.Debug(msg, fields...)
	}
}
