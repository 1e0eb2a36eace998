//go:build !tinygo && !baremetal

package stub

import (
	"fmt"
	"sync"
	"time"

	proto "github.com/ystepanoff/nrfmesh/protocol"
	"github.com/ystepanoff/nrfmesh/transport"
)

type state uint8

const (
	stateDisabled state = iota
	stateRxIdle
	stateRx
	stateTxIdle
)

func (s state) String() string {
	switch s {
	case stateDisabled:
		return "disabled"
	case stateRxIdle:
		return "rxidle"
	case stateRx:
		return "rx"
	case stateTxIdle:
		return "txidle"
	}
	return "unknown"
}

// maxServiceRounds bounds how many handler calls one service pass makes, so
// a handler that keeps re-raising its own event cannot spin forever.
const maxServiceRounds = 64

type Option func(*Driver)

// WithEther attaches the driver to a shared medium.
func WithEther(e *Ether) Option { return func(d *Driver) { d.ether = e } }

// WithManualTimer makes the guard timer fire only through FireGuardTimer.
func WithManualTimer() Option { return func(d *Driver) { d.manualTimer = true } }

// WithRSSI sets the magnitude reported by RSSISample (dBm below zero).
func WithRSSI(v uint8) Option { return func(d *Driver) { d.rssi = v } }

// Driver simulates the radio peripheral and its guard timer on the host.
// Events raised while an interrupt source is enabled are delivered to the
// registered handler from the goroutine that raised them. A handler never
// runs concurrently with itself, and DisableInterrupt waits for a running
// handler to return, which is the single-core guarantee the frame engine
// relies on.
type Driver struct {
	mu         sync.Mutex
	ether      *Ether
	settings   transport.Settings
	hfclk      bool
	configured bool
	state      state
	packet     []byte
	events     [transport.NumEvents]bool
	stuck      [transport.NumEvents]bool
	shorts     transport.Shortcut
	crcOK      bool
	rssi       uint8
	coexisting bool
	corrupt    int

	irqMu   sync.Mutex
	enabled [transport.NumSources]bool
	handler func(transport.Source)

	manualTimer bool
	timer       *time.Timer
	timerGen    uint64
	timerArmed  bool

	txLog ringBuffer
	rxLog ringBuffer
}

func New(opts ...Option) *Driver {
	d := &Driver{rssi: 60}
	for _, o := range opts {
		o(d)
	}
	if d.ether != nil {
		d.ether.attach(d)
	}
	return d
}

func (d *Driver) StartHFCLK() {
	d.mu.Lock()
	d.hfclk = true
	d.mu.Unlock()
}

func (d *Driver) Configure(s transport.Settings) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hfclk {
		return fmt.Errorf("HFCLK not running: %w", proto.ErrHardwareFault)
	}
	d.settings = s
	d.configured = true
	return nil
}

func (d *Driver) SetFrequency(band uint8) {
	d.mu.Lock()
	d.settings.Device.Band = band
	d.mu.Unlock()
}

func (d *Driver) SetTxPower(level uint8) {
	d.mu.Lock()
	d.settings.Device.Power = level
	d.mu.Unlock()
}

func (d *Driver) SetGroup(group uint8) {
	d.mu.Lock()
	d.settings.Device.Group = group
	d.mu.Unlock()
}

func (d *Driver) SetPacketBuffer(buf []byte) {
	d.mu.Lock()
	d.packet = buf
	d.mu.Unlock()
}

func (d *Driver) Trigger(t transport.Task) {
	d.mu.Lock()
	var img []byte
	switch t {
	case transport.TaskRxEnable:
		d.rampRx()
	case transport.TaskTxEnable:
		d.rampTx()
	case transport.TaskStart:
		switch d.state {
		case stateRxIdle:
			d.state = stateRx
		case stateTxIdle:
			img = d.image()
			d.txLog.push(img)
		}
	case transport.TaskDisable:
		d.state = stateDisabled
		d.raise(transport.EventDisabled)
		switch {
		case d.shorts&transport.ShortDisabledTxEnable != 0:
			d.rampTx()
		case d.shorts&transport.ShortDisabledRxEnable != 0:
			d.rampRx()
		}
	}
	settings := d.settings
	d.mu.Unlock()

	if img != nil {
		if d.ether != nil {
			d.ether.broadcast(d, settings, img)
		}
		d.mu.Lock()
		d.raise(transport.EventEnd)
		d.mu.Unlock()
	}
	d.service()
}

func (d *Driver) rampRx() {
	d.state = stateRxIdle
	d.raise(transport.EventReady)
	d.raise(transport.EventRxReady)
}

func (d *Driver) rampTx() {
	d.state = stateTxIdle
	d.raise(transport.EventReady)
	d.raise(transport.EventTxReady)
}

// image copies the frame the DMA engine would send from the packet buffer.
func (d *Driver) image() []byte {
	if len(d.packet) == 0 {
		return nil
	}
	n := int(d.packet[proto.OffsetLength]) + proto.LengthFieldSize
	if n > len(d.packet) {
		n = len(d.packet)
	}
	img := make([]byte, n)
	copy(img, d.packet[:n])
	return img
}

func (d *Driver) raise(e transport.Event) {
	if !d.stuck[e] {
		d.events[e] = true
	}
}

func (d *Driver) Pending(e transport.Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events[e] && !d.stuck[e]
}

func (d *Driver) Clear(e transport.Event) {
	d.mu.Lock()
	d.events[e] = false
	d.mu.Unlock()
}

func (d *Driver) CRCOK() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.crcOK
}

func (d *Driver) RSSISample() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rssi
}

func (d *Driver) SetShortcuts(set, clear transport.Shortcut) {
	d.mu.Lock()
	d.shorts = d.shorts&^clear | set
	d.mu.Unlock()
}

func (d *Driver) Shortcuts() transport.Shortcut {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shorts
}

func (d *Driver) StartGuardTimer(dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopTimerLocked()
	d.timerArmed = true
	gen := d.timerGen
	if !d.manualTimer {
		d.timer = time.AfterFunc(dur, func() { d.fireTimer(gen) })
	}
}

func (d *Driver) StopGuardTimer() {
	d.mu.Lock()
	d.stopTimerLocked()
	d.mu.Unlock()
}

func (d *Driver) stopTimerLocked() {
	d.timerGen++
	d.timerArmed = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Driver) fireTimer(gen uint64) {
	d.mu.Lock()
	if !d.timerArmed || gen != d.timerGen {
		d.mu.Unlock()
		return
	}
	d.timerArmed = false
	d.timer = nil
	d.raise(transport.EventCompare)
	d.mu.Unlock()
	d.service()
}

// FireGuardTimer expires an armed guard timer immediately. It reports
// whether a timer was armed.
func (d *Driver) FireGuardTimer() bool {
	d.mu.Lock()
	armed, gen := d.timerArmed, d.timerGen
	d.mu.Unlock()
	if !armed {
		return false
	}
	d.fireTimer(gen)
	return true
}

func (d *Driver) GuardTimerArmed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timerArmed
}

func (d *Driver) SetInterruptHandler(h func(transport.Source)) {
	d.irqMu.Lock()
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
	d.irqMu.Unlock()
}

func (d *Driver) EnableInterrupt(src transport.Source) {
	d.mu.Lock()
	d.enabled[src] = true
	d.mu.Unlock()
	d.service()
}

// DisableInterrupt masks src. If the handler is running it returns once the
// handler has finished.
func (d *Driver) DisableInterrupt(src transport.Source) {
	d.irqMu.Lock()
	d.mu.Lock()
	d.enabled[src] = false
	d.mu.Unlock()
	d.irqMu.Unlock()
	// Another source may have been raised while we held the line.
	d.service()
}

func (d *Driver) InterruptEnabled(src transport.Source) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled[src]
}

func (d *Driver) Coexisting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.coexisting
}

// service delivers pending interrupts. Whoever fails to take irqMu relies
// on its holder re-checking after release.
func (d *Driver) service() {
	for {
		if !d.irqMu.TryLock() {
			return
		}
		for i := 0; i < maxServiceRounds; i++ {
			h, src, ok := d.nextIRQ()
			if !ok {
				break
			}
			h(src)
		}
		d.irqMu.Unlock()
		if _, _, ok := d.nextIRQ(); !ok {
			return
		}
	}
}

func (d *Driver) nextIRQ() (func(transport.Source), transport.Source, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handler == nil {
		return nil, 0, false
	}
	if d.enabled[transport.SourceRadio] && d.lineRaised(transport.SourceRadio) {
		return d.handler, transport.SourceRadio, true
	}
	if d.enabled[transport.SourceTimer] && d.lineRaised(transport.SourceTimer) {
		return d.handler, transport.SourceTimer, true
	}
	return nil, 0, false
}

func (d *Driver) lineRaised(src transport.Source) bool {
	if src == transport.SourceTimer {
		return d.events[transport.EventCompare]
	}
	return d.events[transport.EventEnd] || d.events[transport.EventTxReady] || d.events[transport.EventRxReady]
}

// receive is the ether delivering img to this radio.
func (d *Driver) receive(img []byte) bool {
	d.mu.Lock()
	if d.state != stateRx || d.packet == nil {
		d.mu.Unlock()
		return false
	}
	n := copy(d.packet, img)
	d.crcOK = n == len(img) && int(img[proto.OffsetLength]) <= int(d.settings.MaxLength)
	if d.corrupt > 0 {
		d.corrupt--
		d.crcOK = false
	}
	d.rxLog.push(img)
	d.state = stateRxIdle
	d.raise(transport.EventEnd)
	d.mu.Unlock()

	d.service()
	return true
}

func (d *Driver) listening(s transport.Settings) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == stateRx &&
		d.settings.Device.Address == s.Device.Address &&
		d.settings.Device.Band == s.Device.Band &&
		d.settings.Device.Prefix() == s.Device.Prefix()
}

// InjectRx delivers img as if it had arrived over the air, bypassing
// address matching. It reports whether the receiver was listening.
func (d *Driver) InjectRx(img []byte) bool {
	if len(img) == 0 {
		return false
	}
	return d.receive(img)
}

// CorruptNext makes the next n receptions fail their CRC.
func (d *Driver) CorruptNext(n int) {
	d.mu.Lock()
	d.corrupt = n
	d.mu.Unlock()
}

// StickEvent stops e from ever being raised, simulating a peripheral that
// does not respond.
func (d *Driver) StickEvent(e transport.Event, stuck bool) {
	d.mu.Lock()
	d.stuck[e] = stuck
	d.mu.Unlock()
}

// SetCoexisting simulates another radio stack owning the peripheral.
func (d *Driver) SetCoexisting(on bool) {
	d.mu.Lock()
	d.coexisting = on
	d.mu.Unlock()
}

func (d *Driver) SetRSSI(v uint8) {
	d.mu.Lock()
	d.rssi = v
	d.mu.Unlock()
}

// Settings returns the link settings currently programmed.
func (d *Driver) Settings() transport.Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// State names the transceiver state, for tests and diagnostics.
func (d *Driver) State() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.String()
}

// TxLog returns copies of the most recent transmitted frame images.
func (d *Driver) TxLog() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.txLog.snapshot()
}

// RxLog returns copies of the most recent frame images that reached the
// receiver, whether or not they passed validation.
func (d *Driver) RxLog() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rxLog.snapshot()
}

const ringCapacity = 64

type ringBuffer struct {
	data       [ringCapacity][]byte
	head, tail int // head = oldest, tail = next push
	count      int
}

func (rb *ringBuffer) push(frame []byte) {
	if rb.count == ringCapacity {
		// Overwrite the oldest when buffer is full to keep memory bounded
		rb.data[rb.tail] = nil
		rb.head = (rb.head + 1) % ringCapacity
		rb.count--
	}
	rb.data[rb.tail] = frame
	rb.tail = (rb.tail + 1) % ringCapacity
	rb.count++
}

func (rb *ringBuffer) snapshot() [][]byte {
	out := make([][]byte, rb.count)
	i := rb.head
	for c := 0; c < rb.count; c++ {
		p := rb.data[i]
		cp := make([]byte, len(p))
		copy(cp, p)
		out[c] = cp
		i = (i + 1) % ringCapacity
	}
	return out
}
