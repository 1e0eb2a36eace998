package transport

import (
	"fmt"

	proto "github.com/ystepanoff/nrfmesh/protocol"
)

// Send transmits one frame and returns once it has left the antenna and the
// receiver is listening again. The frame's Seq and Length are overwritten.
// There is no retry: a hardware timeout fails the whole send.
func (r *Radio) Send(f *proto.Frame) error {
	if f == nil {
		return proto.ErrInvalidParameter
	}
	if len(f.Payload) > r.cfg.MaxPacketSize {
		return proto.ErrInvalidPayload
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.p.Coexisting() || !r.initialised() {
		return proto.ErrUnsupported
	}
	if err := r.acquireTx(); err != nil {
		return err
	}
	defer r.p.EnableInterrupt(SourceRadio)

	f.Seq = byte(r.txSeq.Add(1))
	n, err := proto.EncodeFrameInto(r.txBuf[:], f)
	if err != nil {
		return err
	}

	shorts := r.parkShortcuts()
	defer r.p.SetShortcuts(shorts, 0)

	if err := r.transmit(); err != nil {
		// Leave the receiver on its own buffer whatever state the
		// peripheral is in.
		r.p.SetPacketBuffer(r.pool.bytes(r.active))
		log.Warn("Frame send failed", "seq", f.Seq, "err", err)
		return fmt.Errorf("send seq %d: %w", f.Seq, err)
	}

	r.stats.sent.Add(1)
	log.Debug("Frame sent", "seq", f.Seq, "protocol", f.Protocol, "len", n)
	return nil
}

func (r *Radio) transmit() error {
	r.p.Clear(EventDisabled)
	r.p.Trigger(TaskDisable)
	if err := r.waitEvent(EventDisabled); err != nil {
		return err
	}

	r.p.SetPacketBuffer(r.txBuf[:])
	r.p.Clear(EventReady)
	r.p.Trigger(TaskTxEnable)
	if err := r.waitEvent(EventReady); err != nil {
		return err
	}

	r.p.Clear(EventEnd)
	r.p.Trigger(TaskStart)
	if err := r.waitEvent(EventEnd); err != nil {
		return err
	}

	r.p.SetPacketBuffer(r.pool.bytes(r.active))
	r.p.Clear(EventDisabled)
	r.p.Trigger(TaskDisable)
	if err := r.waitEvent(EventDisabled); err != nil {
		return err
	}
	return r.listen()
}
