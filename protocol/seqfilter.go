package protocol

// seqWindow is half the 8-bit sequence space. A sequence number is newer than
// another when it is ahead by 1..seqWindow-1 modulo 256.
const seqWindow = 128

// SeqNewer reports whether a is ahead of b in 8-bit serial number arithmetic.
func SeqNewer(a, b byte) bool {
	d := a - b
	return d != 0 && d < seqWindow
}

// SeqFilter remembers the last accepted sequence number on a link and rejects
// anything that is not newer. It has no locking: the receive interrupt is its
// only user.
type SeqFilter struct {
	last   byte
	synced bool
}

// Accept reports whether seq is newer than the last accepted number and, if
// so, records it. The first frame after a Reset is always accepted.
func (f *SeqFilter) Accept(seq byte) bool {
	if f.synced && !SeqNewer(seq, f.last) {
		return false
	}
	f.last = seq
	f.synced = true
	return true
}

// Last returns the last accepted sequence number. ok is false until a frame
// has been accepted.
func (f *SeqFilter) Last() (seq byte, ok bool) { return f.last, f.synced }

func (f *SeqFilter) Reset() { *f = SeqFilter{} }
