package transport

import (
	proto "github.com/ystepanoff/nrfmesh/protocol"
)

// interrupt is registered with the peripheral on Enable. Everything below
// runs in interrupt context: no locks, no logging, no allocation.
func (r *Radio) interrupt(src Source) {
	switch src {
	case SourceRadio:
		r.radioInterrupt()
	case SourceTimer:
		r.guardExpired()
	}
}

func (r *Radio) radioInterrupt() {
	if r.p.Pending(EventEnd) {
		r.p.Clear(EventEnd)
		r.frameEnd()
	}

	// Turnaround: once parked in transmit, the next DISABLE goes back to
	// receive, and once receiving the next DISABLE parks in transmit again.
	if r.p.Pending(EventTxReady) {
		r.p.Clear(EventTxReady)
		r.p.SetShortcuts(ShortDisabledRxEnable, ShortDisabledTxEnable)
	}
	if r.p.Pending(EventRxReady) {
		r.p.Clear(EventRxReady)
		r.p.SetShortcuts(ShortDisabledTxEnable, ShortDisabledRxEnable)
		r.p.Trigger(TaskStart)
	}
}

// frameEnd validates the frame the DMA engine just finished writing into
// the active buffer.
func (r *Radio) frameEnd() {
	if !r.p.CRCOK() {
		r.p.StopGuardTimer()
		r.blocked.Store(false)
		r.pendingRSSI = 0
		r.stats.crcErrors.Add(1)
		r.p.Trigger(TaskStart)
		return
	}

	buf := r.pool.bytes(r.active)
	n := proto.PayloadLen(buf)
	switch {
	case n < 0 || n > r.cfg.MaxPacketSize || buf[proto.OffsetVersion] != proto.Version:
		r.stats.malformed.Add(1)
		r.p.Trigger(TaskStart)
		return
	case buf[proto.OffsetGroup] != r.dev.Group:
		r.stats.groupMismatch.Add(1)
		r.p.Trigger(TaskStart)
		return
	}

	seq := buf[proto.OffsetSeq]
	if !r.filter.Accept(seq) {
		r.stats.duplicates.Add(1)
		r.p.Trigger(TaskStart)
		return
	}
	if proto.SeqNewer(seq, byte(r.txSeq.Load())) {
		r.txSeq.Store(uint32(seq))
	}

	// Park the receiver so the buffer is not overwritten before the guard
	// timer hands it to the queue.
	r.p.Trigger(TaskDisable)
	r.blocked.Store(true)
	r.pendingRSSI = -int(r.p.RSSISample())
	r.p.StartGuardTimer(r.cfg.GuardDelay)
}

// guardExpired queues the accepted frame and re-arms the receiver.
func (r *Radio) guardExpired() {
	if !r.p.Pending(EventCompare) {
		return
	}
	r.p.Clear(EventCompare)

	r.pool.slots[r.active].rssi = r.pendingRSSI
	r.rssi.Store(int32(r.pendingRSSI))
	r.rotate()

	r.p.SetPacketBuffer(r.pool.bytes(r.active))
	r.blocked.Store(false)
	r.p.Trigger(TaskDisable)
}

// rotate moves the active buffer to the receive queue and claims a fresh
// one. When either the queue or the pool is exhausted the frame is dropped
// and the same buffer is reused.
func (r *Radio) rotate() {
	if r.rxq.Full() {
		r.stats.queueFull.Add(1)
		return
	}
	id, ok := r.pool.Alloc()
	if !ok {
		r.stats.noBuffer.Add(1)
		return
	}
	if err := r.rxq.enqueue(r.active); err != nil {
		r.pool.free(id)
		r.stats.queueFull.Add(1)
		return
	}
	r.active = id
	r.stats.received.Add(1)
}
