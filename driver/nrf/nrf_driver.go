//go:build tinygo || baremetal

package nrf

import (
	"device/arm"
	"device/nrf"
	"runtime/interrupt"
	"time"
	"unsafe"

	"github.com/ystepanoff/nrfmesh/transport"
)

// handler is the frame engine's interrupt handler. The vectors below are
// registered once at package init and forward to it.
var handler func(transport.Source)

var (
	radioIRQ = interrupt.New(nrf.IRQ_RADIO, func(interrupt.Interrupt) {
		if h := handler; h != nil {
			h(transport.SourceRadio)
		}
	})
	timerIRQ = interrupt.New(nrf.IRQ_TIMER0, func(interrupt.Interrupt) {
		if h := handler; h != nil {
			h(transport.SourceTimer)
		}
	})
)

var irqNumber = [transport.NumSources]uint32{
	transport.SourceRadio: nrf.IRQ_RADIO,
	transport.SourceTimer: nrf.IRQ_TIMER0,
}

var shortcutBits = []struct {
	s   transport.Shortcut
	reg uint32
}{
	{transport.ShortDisabledTxEnable, nrf.RADIO_SHORTS_DISABLED_TXEN},
	{transport.ShortDisabledRxEnable, nrf.RADIO_SHORTS_DISABLED_RXEN},
	{transport.ShortAddressRSSIStart, nrf.RADIO_SHORTS_ADDRESS_RSSISTART},
}

// Driver drives the RADIO and TIMER0 peripherals of an nRF52.
type Driver struct {
	enabled [transport.NumSources]bool

	// coexist reports whether a BLE stack currently owns the radio.
	coexist func() bool
}

// New returns the driver for the on-chip radio. There is one radio per
// chip so every Driver shares the same registers.
func New() *Driver {
	radioIRQ.SetPriority(0xc0)
	timerIRQ.SetPriority(0xc0)
	return &Driver{}
}

// WithBLE installs the check used by Coexisting.
func (d *Driver) WithBLE(active func() bool) *Driver {
	d.coexist = active
	return d
}

func (d *Driver) StartHFCLK() { StartHFCLK() }

func (d *Driver) Configure(s transport.Settings) error {
	if err := ConfigureRadio(s); err != nil {
		return err
	}
	configureTimer()
	return nil
}

func (d *Driver) SetFrequency(band uint8) { nrf.RADIO.FREQUENCY.Set(uint32(band)) }

func (d *Driver) SetTxPower(level uint8) { nrf.RADIO.TXPOWER.Set(txPower[level]) }

func (d *Driver) SetGroup(group uint8) { nrf.RADIO.PREFIX0.Set(uint32(group)) }

func (d *Driver) SetPacketBuffer(buf []byte) {
	nrf.RADIO.PACKETPTR.Set(uint32(uintptr(unsafe.Pointer(&buf[0]))))
}

func (d *Driver) Trigger(t transport.Task) {
	switch t {
	case transport.TaskRxEnable:
		nrf.RADIO.TASKS_RXEN.Set(1)
	case transport.TaskTxEnable:
		nrf.RADIO.TASKS_TXEN.Set(1)
	case transport.TaskStart:
		nrf.RADIO.TASKS_START.Set(1)
	case transport.TaskDisable:
		nrf.RADIO.TASKS_DISABLE.Set(1)
	}
}

func (d *Driver) Pending(e transport.Event) bool {
	switch e {
	case transport.EventReady:
		return nrf.RADIO.EVENTS_READY.Get() != 0
	case transport.EventEnd:
		return nrf.RADIO.EVENTS_END.Get() != 0
	case transport.EventDisabled:
		return nrf.RADIO.EVENTS_DISABLED.Get() != 0
	case transport.EventTxReady:
		return nrf.RADIO.EVENTS_TXREADY.Get() != 0
	case transport.EventRxReady:
		return nrf.RADIO.EVENTS_RXREADY.Get() != 0
	case transport.EventCompare:
		return nrf.TIMER0.EVENTS_COMPARE[0].Get() != 0
	}
	return false
}

func (d *Driver) Clear(e transport.Event) {
	switch e {
	case transport.EventReady:
		nrf.RADIO.EVENTS_READY.Set(0)
	case transport.EventEnd:
		nrf.RADIO.EVENTS_END.Set(0)
	case transport.EventDisabled:
		nrf.RADIO.EVENTS_DISABLED.Set(0)
	case transport.EventTxReady:
		nrf.RADIO.EVENTS_TXREADY.Set(0)
	case transport.EventRxReady:
		nrf.RADIO.EVENTS_RXREADY.Set(0)
	case transport.EventCompare:
		nrf.TIMER0.EVENTS_COMPARE[0].Set(0)
	}
}

func (d *Driver) CRCOK() bool { return nrf.RADIO.CRCSTATUS.Get() == 1 }

func (d *Driver) RSSISample() uint8 { return uint8(nrf.RADIO.RSSISAMPLE.Get()) }

func (d *Driver) SetShortcuts(set, clear transport.Shortcut) {
	reg := nrf.RADIO.SHORTS.Get()
	for _, b := range shortcutBits {
		if clear&b.s != 0 {
			reg &^= b.reg
		}
		if set&b.s != 0 {
			reg |= b.reg
		}
	}
	nrf.RADIO.SHORTS.Set(reg)
}

func (d *Driver) Shortcuts() transport.Shortcut {
	reg := nrf.RADIO.SHORTS.Get()
	var s transport.Shortcut
	for _, b := range shortcutBits {
		if reg&b.reg != 0 {
			s |= b.s
		}
	}
	return s
}

func (d *Driver) StartGuardTimer(dur time.Duration) { startTimer(dur) }

func (d *Driver) StopGuardTimer() { stopTimer() }

func (d *Driver) SetInterruptHandler(h func(transport.Source)) { handler = h }

func (d *Driver) EnableInterrupt(src transport.Source) {
	d.enabled[src] = true
	arm.EnableIRQ(irqNumber[src])
}

func (d *Driver) DisableInterrupt(src transport.Source) {
	arm.DisableIRQ(irqNumber[src])
	d.enabled[src] = false
}

func (d *Driver) InterruptEnabled(src transport.Source) bool { return d.enabled[src] }

func (d *Driver) Coexisting() bool { return d.coexist != nil && d.coexist() }
