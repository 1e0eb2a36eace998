package transport

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	proto "github.com/ystepanoff/nrfmesh/protocol"
)

// FrameID indexes a slot in a Pool.
type FrameID int8

const noFrame FrameID = -1

const maxPoolSize = 64

type role uint32

const (
	roleFree   role = iota
	roleActive      // DMA target of the receiver
	roleQueued      // linked into a Queue
	roleOwned       // handed to a consumer
)

type slot struct {
	buf  [proto.MaxFrameSize]byte
	rssi int
	next FrameID
	gen  atomic.Uint32
	role atomic.Uint32
}

// Pool is a fixed arena of frame buffers. Slots are claimed and returned
// through an atomic bitmap, so Alloc is safe from interrupt context while the
// background task releases frames.
type Pool struct {
	slots []slot
	mask  uint64
	used  atomic.Uint64
}

func NewPool(size int) (*Pool, error) {
	if size < 2 || size > maxPoolSize {
		return nil, fmt.Errorf("pool size %d: %w", size, proto.ErrInvalidParameter)
	}
	p := &Pool{
		slots: make([]slot, size),
		mask:  1<<uint(size) - 1,
	}
	if size == maxPoolSize {
		p.mask = ^uint64(0)
	}
	for i := range p.slots {
		p.slots[i].next = noFrame
	}
	return p, nil
}

// Alloc claims a free slot and marks it active.
func (p *Pool) Alloc() (FrameID, bool) {
	for {
		used := p.used.Load()
		free := ^used & p.mask
		if free == 0 {
			return noFrame, false
		}
		i := bits.TrailingZeros64(free)
		if p.used.CompareAndSwap(used, used|1<<uint(i)) {
			s := &p.slots[i]
			s.next = noFrame
			s.rssi = 0
			s.buf[proto.OffsetLength] = 0
			s.role.Store(uint32(roleActive))
			return FrameID(i), true
		}
	}
}

func (p *Pool) free(id FrameID) {
	s := &p.slots[id]
	s.gen.Add(1)
	s.next = noFrame
	s.role.Store(uint32(roleFree))
	for {
		used := p.used.Load()
		if p.used.CompareAndSwap(used, used&^(1<<uint(id))) {
			return
		}
	}
}

func (p *Pool) Size() int { return len(p.slots) }

// Available returns the number of unclaimed slots.
func (p *Pool) Available() int { return len(p.slots) - bits.OnesCount64(p.used.Load()) }

func (p *Pool) bytes(id FrameID) []byte { return p.slots[id].buf[:] }

func (p *Pool) roleOf(id FrameID) role { return role(p.slots[id].role.Load()) }

func (p *Pool) setRole(id FrameID, r role) { p.slots[id].role.Store(uint32(r)) }

func (p *Pool) handle(id FrameID) Frame {
	return Frame{pool: p, id: id, gen: p.slots[id].gen.Load()}
}

// Frame is a consumer's handle on a pooled buffer. A handle goes stale once
// the frame is released: every accessor then returns zero values, so a late
// reader can never observe a slot that has been handed back to the radio.
type Frame struct {
	pool *Pool
	id   FrameID
	gen  uint32
}

func (f Frame) slot() *slot {
	if f.pool == nil || f.id < 0 || int(f.id) >= len(f.pool.slots) {
		return nil
	}
	s := &f.pool.slots[f.id]
	if s.gen.Load() != f.gen || role(s.role.Load()) == roleFree {
		return nil
	}
	return s
}

// Valid reports whether the handle still refers to a live frame.
func (f Frame) Valid() bool { return f.slot() != nil }

// Bytes returns the on-air image, length byte included.
func (f Frame) Bytes() []byte {
	s := f.slot()
	if s == nil {
		return nil
	}
	n := proto.PayloadLen(s.buf[:])
	if n < 0 {
		return nil
	}
	return s.buf[:proto.HeaderSize+n]
}

func (f Frame) header(off int) byte {
	s := f.slot()
	if s == nil {
		return 0
	}
	return s.buf[off]
}

func (f Frame) Length() int     { return int(f.header(proto.OffsetLength)) }
func (f Frame) Version() byte   { return f.header(proto.OffsetVersion) }
func (f Frame) Group() byte     { return f.header(proto.OffsetGroup) }
func (f Frame) Protocol() byte  { return f.header(proto.OffsetProtocol) }
func (f Frame) Seq() byte       { return f.header(proto.OffsetSeq) }

// Payload returns the payload bytes in place. The slice is only valid until
// Release.
func (f Frame) Payload() []byte {
	b := f.Bytes()
	if b == nil {
		return nil
	}
	return b[proto.OffsetPayload:]
}

// RSSI is the signal strength sampled when the frame was received, in dBm.
func (f Frame) RSSI() int {
	s := f.slot()
	if s == nil {
		return 0
	}
	return s.rssi
}

// Decode copies the frame out of the pool.
func (f Frame) Decode() *proto.Frame {
	b := f.Bytes()
	if b == nil {
		return nil
	}
	out := proto.DecodeFrame(b)
	if out != nil {
		out.RSSI = f.RSSI()
	}
	return out
}

// Release hands the buffer back to the pool. Only frames owned by a consumer
// can be released; releasing twice is a no-op.
func (f Frame) Release() {
	s := f.slot()
	if s == nil || role(s.role.Load()) != roleOwned {
		return
	}
	f.pool.free(f.id)
}
