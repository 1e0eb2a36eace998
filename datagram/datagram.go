// Package datagram is the unreliable broadcast packet service carried as
// protocol 1 on the frame radio.
package datagram

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/inconshreveable/log15"

	proto "github.com/ystepanoff/nrfmesh/protocol"
	"github.com/ystepanoff/nrfmesh/transport"
)

var log = log15.New("module", "datagram")

// ErrNoData is returned by RecvInto when nothing is queued.
var ErrNoData = fmt.Errorf("no datagram available: %w", proto.ErrInvalidParameter)

// Packet is a received datagram.
type Packet struct {
	Payload []byte
	RSSI    int
	Seq     byte
}

// Datagram queues received datagrams until the application picks them up.
// Frames stay in the radio's pool while queued.
type Datagram struct {
	radio *transport.Radio

	mu      sync.Mutex
	queue   *transport.Queue
	dropped atomic.Uint32
}

// New creates the service and registers it with the radio's dispatcher.
func New(r *transport.Radio) *Datagram {
	d := &Datagram{
		radio: r,
		queue: transport.NewQueue(r.Pool(), r.Config().MaxRxBuffers),
	}
	r.Register(proto.ProtocolDatagram, d)
	return d
}

// Send broadcasts payload in the radio's current group and blocks until it
// has been transmitted.
func (d *Datagram) Send(payload []byte) error {
	return d.radio.Send(&proto.Frame{
		Version:  proto.Version,
		Group:    d.radio.Group(),
		Protocol: proto.ProtocolDatagram,
		Payload:  payload,
	})
}

func (d *Datagram) SendString(s string) error { return d.Send([]byte(s)) }

// PacketReceived takes the head of the radio queue. Called by dispatch.
func (d *Datagram) PacketReceived() {
	f, ok := d.radio.Recv()
	if !ok {
		return
	}

	d.mu.Lock()
	err := d.queue.Push(f)
	d.mu.Unlock()

	if err != nil {
		log.Debug("Datagram queue full, dropping", "seq", f.Seq(), "len", len(f.Payload()))
		f.Release()
		d.dropped.Add(1)
		return
	}
	d.radio.Notify(transport.Notification{Kind: transport.NotifyDatagram, Protocol: proto.ProtocolDatagram})
}

// Recv returns the oldest queued datagram without blocking.
func (d *Datagram) Recv() (Packet, bool) {
	f, ok := d.pop()
	if !ok {
		return Packet{}, false
	}
	defer f.Release()

	return Packet{
		Payload: append([]byte(nil), f.Payload()...),
		RSSI:    f.RSSI(),
		Seq:     f.Seq(),
	}, true
}

// RecvInto copies the oldest queued payload into buf, truncating it to
// len(buf), and returns the number of bytes copied.
func (d *Datagram) RecvInto(buf []byte) (int, error) {
	if buf == nil {
		return 0, proto.ErrInvalidParameter
	}
	f, ok := d.pop()
	if !ok {
		return 0, ErrNoData
	}
	defer f.Release()
	return copy(buf, f.Payload()), nil
}

func (d *Datagram) pop() (transport.Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Pop()
}

// Pending is the number of datagrams waiting.
func (d *Datagram) Pending() int { return d.queue.Len() }

// Dropped counts datagrams discarded because the queue was full.
func (d *Datagram) Dropped() uint32 { return d.dropped.Load() }
