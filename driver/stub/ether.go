//go:build !tinygo && !baremetal

package stub

import (
	"sync"
	"sync/atomic"

	"github.com/ystepanoff/nrfmesh/transport"
)

// Ether is a shared radio medium. A frame started by one driver reaches
// every other attached driver that is listening on the same address,
// frequency and group prefix.
type Ether struct {
	mu    sync.Mutex
	nodes []*Driver

	frames    atomic.Uint64
	delivered atomic.Uint64
}

func NewEther() *Ether { return &Ether{} }

func (e *Ether) attach(d *Driver) {
	e.mu.Lock()
	e.nodes = append(e.nodes, d)
	e.mu.Unlock()
}

// Detach removes d from the medium.
func (e *Ether) Detach(d *Driver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, n := range e.nodes {
		if n == d {
			e.nodes = append(e.nodes[:i], e.nodes[i+1:]...)
			return
		}
	}
}

func (e *Ether) snapshot() []*Driver {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Driver, len(e.nodes))
	copy(out, e.nodes)
	return out
}

// broadcast runs without the ether lock so receive interrupts may run
// freely on the sender's goroutine.
func (e *Ether) broadcast(from *Driver, s transport.Settings, img []byte) int {
	e.frames.Add(1)
	n := 0
	for _, d := range e.snapshot() {
		if d == from || !d.listening(s) {
			continue
		}
		if d.receive(img) {
			n++
		}
	}
	e.delivered.Add(uint64(n))
	return n
}

// Transmit puts img on the air as if sent by a radio configured with s and
// returns the number of receivers that took it.
func (e *Ether) Transmit(s transport.Settings, img []byte) int {
	if len(img) == 0 {
		return 0
	}
	cp := make([]byte, len(img))
	copy(cp, img)
	return e.broadcast(nil, s, cp)
}

func (e *Ether) Frames() uint64    { return e.frames.Load() }
func (e *Ether) Delivered() uint64 { return e.delivered.Load() }
