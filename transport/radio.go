package transport

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inconshreveable/log15"

	proto "github.com/ystepanoff/nrfmesh/protocol"
)

var log = log15.New("module", "transport")

// Config holds the tunables of a Radio. Band, Power and Group are the
// initial link settings; the rest size the receive path.
type Config struct {
	Band          uint8
	Power         uint8
	Group         uint8
	MaxRxBuffers  int
	PoolSize      int
	GuardDelay    time.Duration
	PollLimit     int
	MaxPacketSize int
}

func DefaultConfig() Config {
	return Config{
		Band:          proto.DefaultBand,
		Power:         proto.DefaultPower,
		Group:         proto.DefaultGroup,
		MaxRxBuffers:  proto.MaxRxBuffers,
		PoolSize:      proto.DefaultPoolSize,
		GuardDelay:    proto.DefaultGuardDelay,
		PollLimit:     proto.DefaultPollLimit,
		MaxPacketSize: proto.MaxPacketSize,
	}
}

// Validate checks ranges. The pool must hold the receive queue, the active
// buffer and at least one frame in a consumer's hands.
func (c Config) Validate() error {
	if !proto.ValidBand(int(c.Band)) {
		return fmt.Errorf("band %d: %w", c.Band, proto.ErrInvalidBand)
	}
	if !proto.ValidPower(int(c.Power)) {
		return fmt.Errorf("power %d: %w", c.Power, proto.ErrInvalidPower)
	}
	if c.MaxRxBuffers < 1 {
		return fmt.Errorf("max rx buffers %d: %w", c.MaxRxBuffers, proto.ErrInvalidParameter)
	}
	if c.PoolSize < c.MaxRxBuffers+2 || c.PoolSize > maxPoolSize {
		return fmt.Errorf("pool size %d (need %d..%d): %w", c.PoolSize, c.MaxRxBuffers+2, maxPoolSize, proto.ErrInvalidParameter)
	}
	if c.GuardDelay <= 0 {
		return fmt.Errorf("guard delay %v: %w", c.GuardDelay, proto.ErrInvalidParameter)
	}
	if c.PollLimit < 1 {
		return fmt.Errorf("poll limit %d: %w", c.PollLimit, proto.ErrInvalidParameter)
	}
	if c.MaxPacketSize < 1 || c.MaxPacketSize > proto.MaxPacketSize {
		return fmt.Errorf("max packet size %d: %w", c.MaxPacketSize, proto.ErrInvalidPayload)
	}
	return nil
}

const (
	statusInitialised uint32 = 1 << iota
	statusDeepSleepIRQ
	statusDeepSleepInit
)

// Radio is the broadcast frame engine on top of a Peripheral.
//
// Locking: mu serialises the task-side API and is the only place the radio
// interrupt source is toggled. qmu guards dequeues, which mask the timer
// source because the guard-timer interrupt is what appends to the receive
// queue. Lock order is mu then qmu. The interrupt handler takes neither.
type Radio struct {
	p   Peripheral
	cfg Config

	mu  sync.Mutex
	qmu sync.Mutex
	dev proto.Device

	pool   *Pool
	rxq    *Queue
	active FrameID
	txBuf  [proto.MaxFrameSize]byte

	// Interrupt-side state.
	filter      proto.SeqFilter
	pendingRSSI int

	txSeq   atomic.Uint32
	blocked atomic.Bool
	rssi    atomic.Int32
	status  atomic.Uint32
	stats   counters

	hmu      sync.RWMutex
	handlers map[byte]Handler
	notify   func(Notification)

	idleMu   sync.Mutex
	reported Stats
}

func NewRadio(p Peripheral, cfg Config) (*Radio, error) {
	if p == nil {
		return nil, proto.ErrInvalidParameter
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pool, err := NewPool(cfg.PoolSize)
	if err != nil {
		return nil, err
	}
	dev := proto.NewDevice()
	dev.Band = cfg.Band
	dev.Power = cfg.Power
	dev.Group = cfg.Group
	return &Radio{
		p:        p,
		cfg:      cfg,
		dev:      dev,
		pool:     pool,
		rxq:      NewQueue(pool, cfg.MaxRxBuffers),
		active:   noFrame,
		handlers: make(map[byte]Handler),
	}, nil
}

func (r *Radio) initialised() bool { return r.status.Load()&statusInitialised != 0 }

func (r *Radio) setStatus(flag uint32, on bool) {
	for {
		old := r.status.Load()
		next := old &^ flag
		if on {
			next = old | flag
		}
		if r.status.CompareAndSwap(old, next) {
			return
		}
	}
}

func (r *Radio) hasStatus(flag uint32) bool { return r.status.Load()&flag != 0 }

// Enabled reports whether the radio is listening.
func (r *Radio) Enabled() bool { return r.initialised() }

// Enable allocates the first receive buffer, programs the peripheral and
// starts listening. Calling it on an enabled radio does nothing.
func (r *Radio) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enable()
}

func (r *Radio) enable() error {
	if r.p.Coexisting() {
		return proto.ErrUnsupported
	}
	if r.initialised() {
		return nil
	}

	r.qmu.Lock()
	defer r.qmu.Unlock()

	if r.active == noFrame {
		id, ok := r.pool.Alloc()
		if !ok {
			return fmt.Errorf("receive buffer: %w", proto.ErrResourceExhausted)
		}
		r.active = id
	}

	r.p.StartHFCLK()
	settings := Settings{
		Device:    r.dev,
		MaxLength: uint8(proto.HeaderSize - proto.LengthFieldSize + r.cfg.MaxPacketSize),
	}
	if err := r.p.Configure(settings); err != nil {
		return fmt.Errorf("configure peripheral: %w", err)
	}
	r.p.SetPacketBuffer(r.pool.bytes(r.active))
	r.p.SetInterruptHandler(r.interrupt)
	r.p.SetShortcuts(ShortAddressRSSIStart|ShortDisabledTxEnable, ShortDisabledRxEnable)

	r.p.Clear(EventReady)
	r.p.Trigger(TaskRxEnable)
	if err := r.waitEvent(EventReady); err != nil {
		return err
	}
	r.p.Clear(EventEnd)
	r.p.Clear(EventRxReady)
	r.blocked.Store(false)

	r.p.EnableInterrupt(SourceRadio)
	r.p.EnableInterrupt(SourceTimer)
	r.p.Trigger(TaskStart)
	r.setStatus(statusInitialised, true)

	log.Debug("Radio enabled", "freq", r.dev.FrequencyMHz(), "group", r.dev.Group, "power", r.dev.Power)
	return nil
}

// Disable stops reception and powers the transceiver down. Link settings
// and queued frames are kept. Disabling a disabled radio does nothing.
func (r *Radio) Disable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disable()
}

func (r *Radio) disable() error {
	if r.p.Coexisting() {
		return proto.ErrUnsupported
	}
	if !r.initialised() {
		return nil
	}

	r.qmu.Lock()
	defer r.qmu.Unlock()

	r.p.DisableInterrupt(SourceRadio)
	r.p.DisableInterrupt(SourceTimer)
	r.p.StopGuardTimer()
	r.blocked.Store(false)

	r.p.SetShortcuts(0, ShortDisabledTxEnable|ShortDisabledRxEnable)
	r.p.Clear(EventDisabled)
	r.p.Trigger(TaskDisable)
	err := r.waitEvent(EventDisabled)

	r.setStatus(statusInitialised, false)
	log.Debug("Radio disabled")
	return err
}

// SetSleep puts the radio in or out of low power mode. Waking reverses
// exactly the teardown that sleeping performed.
func (r *Radio) SetSleep(sleep bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.p.Coexisting() {
		return proto.ErrUnsupported
	}
	if sleep {
		switch {
		case r.initialised():
			if err := r.disable(); err != nil {
				return err
			}
			r.setStatus(statusDeepSleepInit, true)
		case r.p.InterruptEnabled(SourceRadio):
			r.setStatus(statusDeepSleepIRQ, true)
			r.p.DisableInterrupt(SourceRadio)
		}
		return nil
	}

	switch {
	case r.hasStatus(statusDeepSleepInit):
		r.setStatus(statusDeepSleepInit, false)
		return r.enable()
	case r.hasStatus(statusDeepSleepIRQ):
		r.setStatus(statusDeepSleepIRQ, false)
		r.p.EnableInterrupt(SourceRadio)
	}
	return nil
}

// SetFrequencyBand selects band 0..100 (2400 + band MHz).
func (r *Radio) SetFrequencyBand(band int) error {
	if r.p.Coexisting() {
		return proto.ErrUnsupported
	}
	if !proto.ValidBand(band) {
		return proto.ErrInvalidBand
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retune(func() {
		r.dev.Band = uint8(band)
		r.p.SetFrequency(uint8(band))
	})
}

// SetTransmitPower selects power level 0..7. It takes effect on the next
// transmission.
func (r *Radio) SetTransmitPower(level int) error {
	if r.p.Coexisting() {
		return proto.ErrUnsupported
	}
	if !proto.ValidPower(level) {
		return proto.ErrInvalidPower
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.dev.Power = uint8(level)
	if r.initialised() {
		r.p.SetTxPower(uint8(level))
	}
	return nil
}

// SetGroup moves the radio to another group. Frames from other groups are
// dropped on reception.
func (r *Radio) SetGroup(group uint8) error {
	if r.p.Coexisting() {
		return proto.ErrUnsupported
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retune(func() {
		r.dev.Group = group
		r.p.SetGroup(group)
	})
}

// retune applies a link change. On a live radio the receiver is stopped
// with the radio interrupt masked, apply runs, and listening resumes.
func (r *Radio) retune(apply func()) error {
	if !r.initialised() {
		apply()
		return nil
	}
	if err := r.acquireTx(); err != nil {
		return err
	}
	defer r.p.EnableInterrupt(SourceRadio)

	shorts := r.parkShortcuts()
	defer r.p.SetShortcuts(shorts, 0)

	r.p.Clear(EventDisabled)
	r.p.Trigger(TaskDisable)
	if err := r.waitEvent(EventDisabled); err != nil {
		return err
	}
	apply()
	return r.listen()
}

func (r *Radio) Band() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dev.Band
}

func (r *Radio) TransmitPower() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dev.Power
}

func (r *Radio) Group() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dev.Group
}

func (r *Radio) Config() Config { return r.cfg }

func (r *Radio) Pool() *Pool { return r.pool }

// DataReady returns the number of received frames waiting in the queue.
func (r *Radio) DataReady() int { return r.rxq.Len() }

// QueueDepth is DataReady.
func (r *Radio) QueueDepth() int { return r.DataReady() }

// Recv takes the oldest received frame. The caller owns it and must
// Release it.
func (r *Radio) Recv() (Frame, bool) {
	r.qmu.Lock()
	defer r.qmu.Unlock()

	var (
		id FrameID
		ok bool
	)
	r.critical(SourceTimer, func() { id, ok = r.rxq.dequeue() })
	if !ok {
		return Frame{}, false
	}
	return r.pool.handle(id), true
}

func (r *Radio) peek() (Frame, bool) {
	r.qmu.Lock()
	defer r.qmu.Unlock()

	var (
		id FrameID
		ok bool
	)
	r.critical(SourceTimer, func() { id, ok = r.rxq.peek() })
	if !ok {
		return Frame{}, false
	}
	return r.pool.handle(id), true
}

// RSSI returns the signal strength of the last accepted frame in dBm.
func (r *Radio) RSSI() (int, error) {
	if !r.initialised() {
		return 0, proto.ErrUnsupported
	}
	return int(r.rssi.Load()), nil
}

func (r *Radio) Stats() Stats { return r.stats.snapshot() }

// critical runs fn with src masked, restoring the previous mask after.
func (r *Radio) critical(src Source, fn func()) {
	was := r.p.InterruptEnabled(src)
	if was {
		r.p.DisableInterrupt(src)
	}
	fn()
	if was {
		r.p.EnableInterrupt(src)
	}
}

// acquireTx masks the radio interrupt once no reception is being
// finalised. On success the caller must re-enable the interrupt.
func (r *Radio) acquireTx() error {
	for i := 0; ; i++ {
		r.p.DisableInterrupt(SourceRadio)
		if !r.blocked.Load() {
			return nil
		}
		r.p.EnableInterrupt(SourceRadio)
		if i >= r.cfg.PollLimit {
			return fmt.Errorf("transmit blocked: %w", proto.ErrTimeout)
		}
		runtime.Gosched()
	}
}

// parkShortcuts removes the turnaround shortcuts so manual task sequences
// are not chained, returning the ones that were set.
func (r *Radio) parkShortcuts() Shortcut {
	turn := ShortDisabledTxEnable | ShortDisabledRxEnable
	shorts := r.p.Shortcuts() & turn
	r.p.SetShortcuts(0, turn)
	return shorts
}

// listen ramps the receiver up on the active buffer and starts it.
func (r *Radio) listen() error {
	r.p.SetPacketBuffer(r.pool.bytes(r.active))
	r.p.Clear(EventReady)
	r.p.Trigger(TaskRxEnable)
	if err := r.waitEvent(EventReady); err != nil {
		return err
	}
	r.p.Clear(EventTxReady)
	r.p.Clear(EventRxReady)
	r.p.Clear(EventEnd)
	r.p.Trigger(TaskStart)
	return nil
}

func (r *Radio) waitEvent(e Event) error {
	for i := 0; i < r.cfg.PollLimit; i++ {
		if r.p.Pending(e) {
			return nil
		}
	}
	return fmt.Errorf("waiting for %v: %w", e, proto.ErrHardwareFault)
}
