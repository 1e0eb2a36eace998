package transport

import "sync/atomic"

// Stats counts what happened on the receive and transmit paths since the
// radio was created.
type Stats struct {
	Received      uint32 // accepted and queued
	Sent          uint32
	Duplicates    uint32 // rejected by the sequence filter
	CRCErrors     uint32
	GroupMismatch uint32
	Malformed     uint32 // bad version or length
	QueueFull     uint32 // accepted but the receive queue was full
	NoBuffer      uint32 // accepted but the pool was empty
}

// Dropped is the number of accepted frames that never reached the queue.
func (s Stats) Dropped() uint32 { return s.QueueFull + s.NoBuffer }

// Rejected is the number of frames discarded before the sequence filter.
func (s Stats) Rejected() uint32 { return s.CRCErrors + s.GroupMismatch + s.Malformed }

type counters struct {
	received      atomic.Uint32
	sent          atomic.Uint32
	duplicates    atomic.Uint32
	crcErrors     atomic.Uint32
	groupMismatch atomic.Uint32
	malformed     atomic.Uint32
	queueFull     atomic.Uint32
	noBuffer      atomic.Uint32
}

func (c *counters) snapshot() Stats {
	return Stats{
		Received:      c.received.Load(),
		Sent:          c.sent.Load(),
		Duplicates:    c.duplicates.Load(),
		CRCErrors:     c.crcErrors.Load(),
		GroupMismatch: c.groupMismatch.Load(),
		Malformed:     c.malformed.Load(),
		QueueFull:     c.queueFull.Load(),
		NoBuffer:      c.noBuffer.Load(),
	}
}
