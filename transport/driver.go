package transport

import (
	"time"

	proto "github.com/ystepanoff/nrfmesh/protocol"
)

// Task is a command written to the radio peripheral.
type Task uint8

const (
	TaskRxEnable Task = iota // ramp up the receiver
	TaskTxEnable             // ramp up the transmitter
	TaskStart                // start listening / start sending the DMA buffer
	TaskDisable              // power down the transceiver
)

// Event is a flag raised by the peripheral or its guard timer.
type Event uint8

const (
	EventReady    Event = iota // transceiver ramp-up finished
	EventEnd                   // frame sent or received
	EventDisabled              // transceiver powered down
	EventTxReady               // ramp-up into transmit finished
	EventRxReady               // ramp-up into receive finished
	EventCompare               // guard timer expired

	NumEvents
)

var eventNames = [NumEvents]string{"READY", "END", "DISABLED", "TXREADY", "RXREADY", "COMPARE"}

func (e Event) String() string {
	if e < NumEvents {
		return eventNames[e]
	}
	return "EVENT?"
}

// Source identifies an interrupt line.
type Source uint8

const (
	SourceRadio Source = iota
	SourceTimer

	NumSources
)

// Shortcut is a bitmask of automatic task chains performed by the hardware.
type Shortcut uint8

const (
	ShortDisabledTxEnable Shortcut = 1 << iota // DISABLED -> TXEN
	ShortDisabledRxEnable                      // DISABLED -> RXEN
	ShortAddressRSSIStart                      // ADDRESS -> RSSISTART
)

// Settings is what the driver programs into the peripheral on Enable.
type Settings struct {
	Device    proto.Device
	MaxLength uint8 // largest length byte accepted by the DMA engine
}

// Peripheral is the contract between the frame engine and a radio block.
// Task and event methods are register accesses and must be callable from
// interrupt context. The handler passed to SetInterruptHandler is the
// interrupt context: it is never re-entered and never runs while the task
// side has its source disabled.
type Peripheral interface {
	StartHFCLK()
	Configure(s Settings) error
	SetFrequency(band uint8)
	SetTxPower(level uint8)
	SetGroup(group uint8)

	// SetPacketBuffer points the DMA engine at buf. The peripheral keeps
	// the slice and writes received frames straight into it.
	SetPacketBuffer(buf []byte)

	Trigger(t Task)
	Pending(e Event) bool
	Clear(e Event)
	CRCOK() bool
	RSSISample() uint8
	SetShortcuts(set, clear Shortcut)
	Shortcuts() Shortcut

	StartGuardTimer(d time.Duration)
	StopGuardTimer()

	SetInterruptHandler(h func(Source))
	EnableInterrupt(src Source)
	DisableInterrupt(src Source)
	InterruptEnabled(src Source) bool

	// Coexisting reports whether an incompatible radio stack (BLE) owns
	// the peripheral.
	Coexisting() bool
}
