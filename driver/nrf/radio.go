//go:build tinygo || baremetal

package nrf

import (
	"time"

	proto "github.com/ystepanoff/nrfmesh/protocol"
	"github.com/ystepanoff/nrfmesh/transport"

	"device/nrf"
)

const (
	crcPoly     = 0x11021
	crcInit     = 0xFFFF
	whiteningIV = 0x18

	timerPrescaler = 4 // 16 MHz / 2^4 = 1 MHz, one tick per microsecond
)

// StartHFCLK starts the high-frequency clock required by the radio.
func StartHFCLK() {
	nrf.CLOCK.EVENTS_HFCLKSTARTED.Set(0)
	nrf.CLOCK.TASKS_HFCLKSTART.Set(1)
	for nrf.CLOCK.EVENTS_HFCLKSTARTED.Get() == 0 {
	}
}

// ConfigureRadio programs mode, addressing, packet layout, CRC and
// whitening. The radio must be disabled.
func ConfigureRadio(s transport.Settings) error {
	dev := s.Device
	if !proto.ValidBand(int(dev.Band)) {
		return proto.ErrInvalidBand
	}
	if !proto.ValidPower(int(dev.Power)) {
		return proto.ErrInvalidPower
	}

	nrf.RADIO.POWER.Set(1)
	nrf.RADIO.MODE.Set(nrf.RADIO_MODE_MODE_Nrf_1Mbit)
	nrf.RADIO.TXPOWER.Set(txPower[dev.Power])
	nrf.RADIO.FREQUENCY.Set(uint32(dev.Band))

	nrf.RADIO.BASE0.Set(dev.Address)
	nrf.RADIO.PREFIX0.Set(uint32(dev.Prefix()))
	nrf.RADIO.TXADDRESS.Set(0)
	nrf.RADIO.RXADDRESSES.Set(1)

	pcnf0, pcnf1 := packetConfig(s.MaxLength)
	nrf.RADIO.PCNF0.Set(pcnf0)
	nrf.RADIO.PCNF1.Set(pcnf1)

	nrf.RADIO.CRCCNF.Set(2)
	nrf.RADIO.CRCINIT.Set(crcInit)
	nrf.RADIO.CRCPOLY.Set(crcPoly)
	nrf.RADIO.DATAWHITEIV.Set(whiteningIV)

	nrf.RADIO.INTENSET.Set(nrf.RADIO_INTENSET_END | nrf.RADIO_INTENSET_TXREADY | nrf.RADIO_INTENSET_RXREADY)
	return nil
}

// configureTimer sets TIMER0 up as a one-shot microsecond timer on CC[0].
func configureTimer() {
	nrf.TIMER0.TASKS_STOP.Set(1)
	nrf.TIMER0.MODE.Set(nrf.TIMER_MODE_MODE_Timer)
	nrf.TIMER0.BITMODE.Set(nrf.TIMER_BITMODE_BITMODE_32Bit)
	nrf.TIMER0.PRESCALER.Set(timerPrescaler)
	nrf.TIMER0.SHORTS.Set(nrf.TIMER_SHORTS_COMPARE0_STOP)
	nrf.TIMER0.INTENSET.Set(nrf.TIMER_INTENSET_COMPARE0)
}

func startTimer(d time.Duration) {
	us := uint32(d / time.Microsecond)
	if us == 0 {
		us = 1
	}
	nrf.TIMER0.TASKS_STOP.Set(1)
	nrf.TIMER0.TASKS_CLEAR.Set(1)
	nrf.TIMER0.EVENTS_COMPARE[0].Set(0)
	nrf.TIMER0.CC[0].Set(us)
	nrf.TIMER0.TASKS_START.Set(1)
}

func stopTimer() {
	nrf.TIMER0.TASKS_STOP.Set(1)
	nrf.TIMER0.EVENTS_COMPARE[0].Set(0)
}
