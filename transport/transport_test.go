package transport_test

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystepanoff/nrfmesh/driver/stub"
	proto "github.com/ystepanoff/nrfmesh/protocol"
	"github.com/ystepanoff/nrfmesh/transport"
)

func TestMain(m *testing.M) {
	log15.Root().SetHandler(log15.DiscardHandler())
	os.Exit(m.Run())
}

func testConfig() transport.Config {
	cfg := transport.DefaultConfig()
	cfg.PollLimit = 1000
	return cfg
}

func newRadio(t *testing.T, cfg transport.Config, opts ...stub.Option) (*transport.Radio, *stub.Driver) {
	t.Helper()
	d := stub.New(append([]stub.Option{stub.WithManualTimer()}, opts...)...)
	r, err := transport.NewRadio(d, cfg)
	require.NoError(t, err)
	require.NoError(t, r.Enable())
	return r, d
}

func frameImage(t *testing.T, group, protocol, seq byte, payload []byte) []byte {
	t.Helper()
	img, err := proto.EncodeFrame(&proto.Frame{
		Version:  proto.Version,
		Group:    group,
		Protocol: protocol,
		Seq:      seq,
		Payload:  payload,
	})
	require.NoError(t, err)
	return img
}

// deliver pushes a frame into the receiver and expires its guard timer.
func deliver(t *testing.T, d *stub.Driver, img []byte) {
	t.Helper()
	require.True(t, d.InjectRx(img), "receiver not listening")
	require.True(t, d.FireGuardTimer(), "frame was not accepted")
}

func TestEnableProgramsPeripheral(t *testing.T) {
	r, d := newRadio(t, testConfig())

	require.True(t, r.Enabled())
	require.Equal(t, "rx", d.State())
	require.True(t, d.InterruptEnabled(transport.SourceRadio))
	require.True(t, d.InterruptEnabled(transport.SourceTimer))

	s := d.Settings()
	assert.Equal(t, uint8(proto.DefaultBand), s.Device.Band)
	assert.Equal(t, uint8(proto.DefaultPower), s.Device.Power)
	assert.Equal(t, uint32(proto.BaseAddress), s.Device.Address)
	assert.Equal(t, uint8(254), s.MaxLength)

	// Second enable is a no-op.
	require.NoError(t, r.Enable())
	require.Equal(t, "rx", d.State())
}

func TestReceiveQueuesFrame(t *testing.T) {
	r, d := newRadio(t, testConfig(), stub.WithRSSI(72))

	require.Zero(t, r.DataReady())
	deliver(t, d, frameImage(t, 0, proto.ProtocolDatagram, 1, []byte("hello")))

	require.Equal(t, 1, r.DataReady())
	require.Equal(t, "rx", d.State(), "receiver re-armed after the guard timer")

	f, ok := r.Recv()
	require.True(t, ok)
	defer f.Release()
	require.Equal(t, []byte("hello"), f.Payload())
	require.Equal(t, -72, f.RSSI())
	require.Equal(t, byte(proto.ProtocolDatagram), f.Protocol())

	rssi, err := r.RSSI()
	require.NoError(t, err)
	require.Equal(t, -72, rssi)
	require.Equal(t, uint32(1), r.Stats().Received)
}

// Five accepted frames with nobody draining: four are queued and the fifth
// is dropped without disturbing them.
func TestQueueBoundDropsFifthFrame(t *testing.T) {
	r, d := newRadio(t, testConfig())

	for seq := byte(1); seq <= 5; seq++ {
		deliver(t, d, frameImage(t, 0, proto.ProtocolDatagram, seq, []byte{seq}))
		require.LessOrEqual(t, r.QueueDepth(), proto.MaxRxBuffers)
	}
	require.Equal(t, proto.MaxRxBuffers, r.QueueDepth())

	st := r.Stats()
	require.Equal(t, uint32(4), st.Received)
	require.Equal(t, uint32(1), st.QueueFull)

	for seq := byte(1); seq <= 4; seq++ {
		f, ok := r.Recv()
		require.True(t, ok)
		require.Equal(t, seq, f.Seq(), "frames come out in arrival order")
		f.Release()
	}
	_, ok := r.Recv()
	require.False(t, ok)
	require.Zero(t, r.DataReady())
}

func TestPoolExhaustionRecovers(t *testing.T) {
	cfg := testConfig()
	cfg.PoolSize = cfg.MaxRxBuffers + 2
	r, d := newRadio(t, cfg)

	seq := byte(0)
	next := func() []byte {
		seq++
		return frameImage(t, 0, proto.ProtocolDatagram, seq, nil)
	}

	var held []transport.Frame
	for i := 0; i < cfg.MaxRxBuffers; i++ {
		deliver(t, d, next())
	}
	for i := 0; i < cfg.MaxRxBuffers; i++ {
		f, ok := r.Recv()
		require.True(t, ok)
		held = append(held, f)
	}

	deliver(t, d, next())
	require.Equal(t, 0, r.Pool().Available())
	deliver(t, d, next())
	require.Equal(t, uint32(1), r.Stats().NoBuffer)
	require.Equal(t, 1, r.QueueDepth())

	for _, f := range held {
		f.Release()
	}
	deliver(t, d, next())
	require.Equal(t, 2, r.QueueDepth())
	require.Equal(t, uint32(1), r.Stats().NoBuffer)
}

func TestDuplicateAndStaleFramesRejected(t *testing.T) {
	r, d := newRadio(t, testConfig())

	deliver(t, d, frameImage(t, 0, proto.ProtocolDatagram, 10, nil))

	for _, seq := range []byte{10, 9, 200} {
		require.True(t, d.InjectRx(frameImage(t, 0, proto.ProtocolDatagram, seq, nil)))
		require.False(t, d.GuardTimerArmed(), "seq %d should be rejected", seq)
		require.Equal(t, "rx", d.State())
	}
	require.Equal(t, uint32(3), r.Stats().Duplicates)
	require.Equal(t, 1, r.QueueDepth())
}

func TestInvalidFramesDiscarded(t *testing.T) {
	r, d := newRadio(t, testConfig())

	badVersion := frameImage(t, 0, proto.ProtocolDatagram, 1, nil)
	badVersion[proto.OffsetVersion] = 9

	tests := []struct {
		name string
		img  []byte
		prep func()
	}{
		{name: "crc error", img: frameImage(t, 0, proto.ProtocolDatagram, 1, nil), prep: func() { d.CorruptNext(1) }},
		{name: "group mismatch", img: frameImage(t, 5, proto.ProtocolDatagram, 1, nil)},
		{name: "unsupported version", img: badVersion},
		{name: "length below header", img: []byte{2, proto.Version, 0, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.prep != nil {
				tt.prep()
			}
			require.True(t, d.InjectRx(tt.img))
			require.False(t, d.GuardTimerArmed())
			require.Equal(t, "rx", d.State())
		})
	}

	st := r.Stats()
	require.Equal(t, uint32(1), st.CRCErrors)
	require.Equal(t, uint32(1), st.GroupMismatch)
	require.Equal(t, uint32(2), st.Malformed)
	require.Zero(t, st.Duplicates)
	require.Zero(t, r.DataReady())

	// The filter never saw the rejected frames, so seq 1 is still fresh.
	deliver(t, d, frameImage(t, 0, proto.ProtocolDatagram, 1, nil))
	require.Equal(t, 1, r.DataReady())
}

func TestSendRoundTrip(t *testing.T) {
	ether := stub.NewEther()
	a, da := newRadio(t, testConfig(), stub.WithEther(ether))
	b, db := newRadio(t, testConfig(), stub.WithEther(ether), stub.WithRSSI(40))

	out := &proto.Frame{
		Version:  proto.Version,
		Protocol: proto.ProtocolDatagram,
		Payload:  []byte("ping"),
	}
	require.NoError(t, a.Send(out))
	require.Equal(t, byte(1), out.Seq)
	require.Equal(t, byte(proto.HeaderSize-1+4), out.Length)
	require.Equal(t, "rx", da.State(), "sender listens again after sending")
	require.True(t, da.InterruptEnabled(transport.SourceRadio))

	require.True(t, db.FireGuardTimer())
	f, ok := b.Recv()
	require.True(t, ok)
	defer f.Release()

	got := f.Decode()
	require.NotNil(t, got)
	require.Equal(t, []byte("ping"), got.Payload)
	require.Equal(t, byte(1), got.Seq)
	require.Equal(t, -40, got.RSSI)

	tx := da.TxLog()
	require.Len(t, tx, 1)
	require.True(t, bytes.Equal(tx[0], f.Bytes()))
	require.Equal(t, uint32(1), a.Stats().Sent)
	require.Equal(t, uint64(1), ether.Delivered())
}

func TestSendAdvancesPastHeardSequence(t *testing.T) {
	r, d := newRadio(t, testConfig())
	deliver(t, d, frameImage(t, 0, proto.ProtocolDatagram, 40, nil))

	f := &proto.Frame{Version: proto.Version, Protocol: proto.ProtocolDatagram}
	require.NoError(t, r.Send(f))
	require.Equal(t, byte(41), f.Seq)

	tx := d.TxLog()
	require.Equal(t, byte(41), tx[len(tx)-1][proto.OffsetSeq])
}

func TestSendOtherGroupNotHeard(t *testing.T) {
	ether := stub.NewEther()
	a, _ := newRadio(t, testConfig(), stub.WithEther(ether))
	b, db := newRadio(t, testConfig(), stub.WithEther(ether))

	require.NoError(t, a.SetGroup(3))
	require.NoError(t, a.Send(&proto.Frame{Version: proto.Version, Group: 3, Protocol: proto.ProtocolDatagram}))
	require.False(t, db.GuardTimerArmed())
	require.Zero(t, b.DataReady())
	require.Zero(t, ether.Delivered())
}

func TestTurnaroundShortcuts(t *testing.T) {
	r, d := newRadio(t, testConfig())

	listening := transport.ShortAddressRSSIStart | transport.ShortDisabledTxEnable
	parked := transport.ShortAddressRSSIStart | transport.ShortDisabledRxEnable
	require.Equal(t, listening, d.Shortcuts(), "after enable")

	require.True(t, d.InjectRx(frameImage(t, 0, proto.ProtocolDatagram, 1, nil)))
	require.Equal(t, "txidle", d.State(), "accepted frame parks the radio in transmit")
	require.Equal(t, parked, d.Shortcuts(), "TXREADY arms the return to receive")

	require.True(t, d.FireGuardTimer())
	require.Equal(t, "rx", d.State())
	require.Equal(t, listening, d.Shortcuts(), "RXREADY arms the next turnaround")

	require.NoError(t, r.Send(&proto.Frame{Version: proto.Version, Protocol: proto.ProtocolDatagram}))
	require.Equal(t, listening, d.Shortcuts(), "after send")

	require.NoError(t, r.SetFrequencyBand(20))
	require.Equal(t, listening, d.Shortcuts(), "after retune")
	require.Equal(t, "rx", d.State())
}

func TestSendValidation(t *testing.T) {
	r, _ := newRadio(t, testConfig())

	require.ErrorIs(t, r.Send(nil), proto.ErrInvalidParameter)

	big := &proto.Frame{Payload: make([]byte, proto.MaxPacketSize+1)}
	err := r.Send(big)
	require.ErrorIs(t, err, proto.ErrInvalidPayload)
	require.ErrorIs(t, err, proto.ErrInvalidParameter)

	require.NoError(t, r.Send(&proto.Frame{Version: proto.Version, Payload: make([]byte, proto.MaxPacketSize)}))
}

func TestSendWaitsForGuardTimer(t *testing.T) {
	r, d := newRadio(t, testConfig())

	require.True(t, d.InjectRx(frameImage(t, 0, proto.ProtocolDatagram, 1, nil)))
	require.True(t, d.GuardTimerArmed())

	err := r.Send(&proto.Frame{Version: proto.Version})
	require.ErrorIs(t, err, proto.ErrTimeout)
	require.True(t, d.InterruptEnabled(transport.SourceRadio))

	require.True(t, d.FireGuardTimer())
	require.NoError(t, r.Send(&proto.Frame{Version: proto.Version}))
}

func TestSendHardwareFault(t *testing.T) {
	r, d := newRadio(t, testConfig())

	d.StickEvent(transport.EventEnd, true)
	err := r.Send(&proto.Frame{Version: proto.Version, Payload: []byte("x")})
	require.ErrorIs(t, err, proto.ErrHardwareFault)
	require.True(t, d.InterruptEnabled(transport.SourceRadio), "interrupt restored after a fault")
	require.Zero(t, r.Stats().Sent)

	d.StickEvent(transport.EventEnd, false)
	require.NoError(t, r.Send(&proto.Frame{Version: proto.Version, Payload: []byte("y")}))
	require.Equal(t, "rx", d.State())
}

func TestSendRequiresEnabledRadio(t *testing.T) {
	d := stub.New(stub.WithManualTimer())
	r, err := transport.NewRadio(d, testConfig())
	require.NoError(t, err)

	require.ErrorIs(t, r.Send(&proto.Frame{}), proto.ErrUnsupported)
	_, err = r.RSSI()
	require.ErrorIs(t, err, proto.ErrUnsupported)
}

func TestFrequencyBand(t *testing.T) {
	r, d := newRadio(t, testConfig())

	err := r.SetFrequencyBand(150)
	require.ErrorIs(t, err, proto.ErrInvalidBand)
	require.True(t, errors.Is(err, proto.ErrInvalidParameter))
	require.Equal(t, uint8(proto.DefaultBand), r.Band(), "band unchanged after a rejected value")

	require.NoError(t, r.SetFrequencyBand(100))
	require.Equal(t, uint8(100), r.Band())
	require.Equal(t, uint8(100), d.Settings().Device.Band)
	require.Equal(t, "rx", d.State())

	require.ErrorIs(t, r.SetFrequencyBand(-1), proto.ErrInvalidParameter)
}

func TestTransmitPower(t *testing.T) {
	r, d := newRadio(t, testConfig())

	require.ErrorIs(t, r.SetTransmitPower(8), proto.ErrInvalidPower)
	require.Equal(t, uint8(proto.DefaultPower), r.TransmitPower())

	require.NoError(t, r.SetTransmitPower(0))
	require.Equal(t, uint8(0), d.Settings().Device.Power)
}

func TestDisableIsIdempotentAndKeepsSettings(t *testing.T) {
	r, d := newRadio(t, testConfig())
	require.NoError(t, r.SetFrequencyBand(20))
	require.NoError(t, r.SetGroup(7))

	require.NoError(t, r.Disable())
	require.False(t, r.Enabled())
	require.Equal(t, "disabled", d.State())
	require.False(t, d.InterruptEnabled(transport.SourceRadio))
	require.False(t, d.InterruptEnabled(transport.SourceTimer))

	require.NoError(t, r.Disable())
	require.False(t, r.Enabled())

	require.NoError(t, r.Enable())
	s := d.Settings()
	require.Equal(t, uint8(20), s.Device.Band)
	require.Equal(t, uint8(7), s.Device.Group)
	require.Equal(t, "rx", d.State())
}

func TestDisableDuringGuardWindow(t *testing.T) {
	r, d := newRadio(t, testConfig())
	require.True(t, d.InjectRx(frameImage(t, 0, proto.ProtocolDatagram, 1, nil)))

	require.NoError(t, r.Disable())
	require.False(t, d.GuardTimerArmed())
	require.NoError(t, r.Enable())
	require.NoError(t, r.Send(&proto.Frame{Version: proto.Version}), "transmit block cleared by disable")
}

func TestCoexistingModeUnsupported(t *testing.T) {
	r, d := newRadio(t, testConfig())
	d.SetCoexisting(true)

	require.ErrorIs(t, r.Enable(), proto.ErrUnsupported)
	require.ErrorIs(t, r.Disable(), proto.ErrUnsupported)
	require.ErrorIs(t, r.Send(&proto.Frame{}), proto.ErrUnsupported)
	require.ErrorIs(t, r.SetFrequencyBand(10), proto.ErrUnsupported)
	require.ErrorIs(t, r.SetTransmitPower(1), proto.ErrUnsupported)
	require.ErrorIs(t, r.SetGroup(1), proto.ErrUnsupported)
	require.ErrorIs(t, r.SetSleep(true), proto.ErrUnsupported)
	require.True(t, r.Enabled())
}

func TestSleepReversesTeardown(t *testing.T) {
	r, d := newRadio(t, testConfig())

	require.NoError(t, r.SetSleep(true))
	require.False(t, r.Enabled())
	require.Equal(t, "disabled", d.State())

	require.NoError(t, r.SetSleep(true))
	require.False(t, r.Enabled())

	require.NoError(t, r.SetSleep(false))
	require.True(t, r.Enabled())
	require.Equal(t, "rx", d.State())

	// Waking without having slept changes nothing.
	require.NoError(t, r.SetSleep(false))
	require.True(t, r.Enabled())
}

func TestSleepWhenNeverEnabled(t *testing.T) {
	d := stub.New(stub.WithManualTimer())
	r, err := transport.NewRadio(d, testConfig())
	require.NoError(t, err)

	require.NoError(t, r.SetSleep(true))
	require.NoError(t, r.SetSleep(false))
	require.False(t, r.Enabled())
}

func TestIdleDispatch(t *testing.T) {
	r, d := newRadio(t, testConfig())

	var got [][]byte
	r.Register(proto.ProtocolDatagram, transport.HandlerFunc(func() {
		f, ok := r.Recv()
		require.True(t, ok)
		got = append(got, append([]byte(nil), f.Payload()...))
		f.Release()
	}))
	var notes []transport.Notification
	r.OnNotify(func(n transport.Notification) { notes = append(notes, n) })

	deliver(t, d, frameImage(t, 0, proto.ProtocolDatagram, 1, []byte("one")))
	deliver(t, d, frameImage(t, 0, 9, 2, []byte("mystery")))
	deliver(t, d, frameImage(t, 0, proto.ProtocolDatagram, 3, []byte("two")))

	r.Idle()

	require.Equal(t, [][]byte{[]byte("one"), []byte("two")}, got)
	require.Equal(t, []transport.Notification{{Kind: transport.NotifyDataReady, Protocol: 9}}, notes)
	require.Zero(t, r.DataReady())
	require.Equal(t, r.Config().PoolSize-1, r.Pool().Available(), "only the active buffer is in use")
}

func TestIdleDiscardsUnclaimedFrames(t *testing.T) {
	r, d := newRadio(t, testConfig())
	calls := 0
	r.Register(proto.ProtocolEventBus, transport.HandlerFunc(func() { calls++ }))

	deliver(t, d, frameImage(t, 0, proto.ProtocolEventBus, 1, nil))
	deliver(t, d, frameImage(t, 0, proto.ProtocolEventBus, 2, nil))
	r.Idle()

	require.Equal(t, 2, calls)
	require.Zero(t, r.DataReady())
	require.Equal(t, r.Config().PoolSize-1, r.Pool().Available())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*transport.Config)
		want   error
	}{
		{"defaults", func(*transport.Config) {}, nil},
		{"band", func(c *transport.Config) { c.Band = 101 }, proto.ErrInvalidBand},
		{"power", func(c *transport.Config) { c.Power = 8 }, proto.ErrInvalidPower},
		{"no rx buffers", func(c *transport.Config) { c.MaxRxBuffers = 0 }, proto.ErrInvalidParameter},
		{"pool too small", func(c *transport.Config) { c.PoolSize = c.MaxRxBuffers + 1 }, proto.ErrInvalidParameter},
		{"pool too large", func(c *transport.Config) { c.PoolSize = 65 }, proto.ErrInvalidParameter},
		{"guard delay", func(c *transport.Config) { c.GuardDelay = 0 }, proto.ErrInvalidParameter},
		{"poll limit", func(c *transport.Config) { c.PollLimit = 0 }, proto.ErrInvalidParameter},
		{"packet size", func(c *transport.Config) { c.MaxPacketSize = 251 }, proto.ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := transport.DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, proto.ErrInvalidParameter)
		})
	}
}

// Real guard timer: delivery completes asynchronously.
func TestRoundTripWithTimer(t *testing.T) {
	ether := stub.NewEther()
	da := stub.New(stub.WithEther(ether))
	db := stub.New(stub.WithEther(ether))

	a, err := transport.NewRadio(da, transport.DefaultConfig())
	require.NoError(t, err)
	b, err := transport.NewRadio(db, transport.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, a.Enable())
	require.NoError(t, b.Enable())

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Send(&proto.Frame{Version: proto.Version, Protocol: proto.ProtocolDatagram, Payload: []byte{byte(i)}}))
		// Listening again means the guard timer has rotated the buffer.
		require.Eventually(t, func() bool {
			return b.QueueDepth() == i+1 && db.State() == "rx"
		}, time.Second, time.Millisecond)
	}
	for i := 0; i < 3; i++ {
		f, ok := b.Recv()
		require.True(t, ok)
		require.Equal(t, []byte{byte(i)}, f.Payload())
		f.Release()
	}
}
