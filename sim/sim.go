// Package sim runs a group of simulated radios on a shared ether and
// exchanges paced datagram traffic between them.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inconshreveable/log15"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ystepanoff/nrfmesh/datagram"
	"github.com/ystepanoff/nrfmesh/driver/stub"
	proto "github.com/ystepanoff/nrfmesh/protocol"
	"github.com/ystepanoff/nrfmesh/transport"
)

var log = log15.New("module", "sim")

// maxPayload leaves room for the "<device>:<n>" suffix.
const maxPayload = proto.MaxPacketSize - 24

type Config struct {
	Devices       int
	Count         int           // datagrams sent by each device
	Interval      time.Duration // minimum gap between any two sends
	Payload       string
	CorruptEvery  int // corrupt the receptions following every Nth send, 0 disables
	DrainInterval time.Duration
	Settle        time.Duration // time allowed for the last frames to land
}

func DefaultConfig() Config {
	return Config{
		Devices:       3,
		Count:         10,
		Interval:      20 * time.Millisecond,
		Payload:       "hello",
		DrainInterval: time.Millisecond,
		Settle:        50 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Devices < 2:
		return fmt.Errorf("sim needs at least 2 devices, have %d: %w", c.Devices, proto.ErrInvalidParameter)
	case c.Count < 0:
		return fmt.Errorf("negative count %d: %w", c.Count, proto.ErrInvalidParameter)
	case c.Interval <= 0 || c.DrainInterval <= 0:
		return fmt.Errorf("intervals must be positive: %w", proto.ErrInvalidParameter)
	case c.Settle < 0:
		return fmt.Errorf("negative settle time: %w", proto.ErrInvalidParameter)
	case c.CorruptEvery < 0:
		return fmt.Errorf("negative corrupt-every: %w", proto.ErrInvalidParameter)
	case len(c.Payload) > maxPayload:
		return fmt.Errorf("payload longer than %d bytes: %w", maxPayload, proto.ErrInvalidPayload)
	}
	return nil
}

// Device is one simulated node.
type Device struct {
	ID       int
	Driver   *stub.Driver
	Radio    *transport.Radio
	Datagram *datagram.Datagram

	reserved bool

	sent       atomic.Int32
	sendErrors atomic.Int32

	mu       sync.Mutex
	received []datagram.Packet
}

func (d *Device) record(p datagram.Packet) {
	d.mu.Lock()
	d.received = append(d.received, p)
	d.mu.Unlock()
}

// Received returns the datagrams collected so far.
func (d *Device) Received() []datagram.Packet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]datagram.Packet(nil), d.received...)
}

type Network struct {
	cfg     Config
	Ether   *stub.Ether
	Devices []*Device

	sends atomic.Int64
}

// New builds and enables cfg.Devices radios on one ether.
func New(radioCfg transport.Config, cfg Config) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Network{cfg: cfg, Ether: stub.NewEther()}
	for i := 0; i < cfg.Devices; i++ {
		drv := stub.New(stub.WithEther(n.Ether), stub.WithRSSI(uint8(40+i)))
		r, err := transport.NewRadio(drv, radioCfg)
		if err != nil {
			return nil, err
		}
		if err := r.Enable(); err != nil {
			n.Close()
			return nil, fmt.Errorf("device %d: %w", i, err)
		}
		n.Devices = append(n.Devices, &Device{
			ID:       i,
			Driver:   drv,
			Radio:    r,
			Datagram: datagram.New(r),
		})
	}
	log.Debug("Network created", "devices", cfg.Devices, "band", radioCfg.Band, "group", radioCfg.Group)
	return n, nil
}

// Close disables every radio and detaches it from the ether.
func (n *Network) Close() {
	for _, d := range n.Devices {
		if err := d.Radio.Disable(); err != nil {
			log.Warn("Failed to disable radio", "device", d.ID, "err", err)
		}
		n.Ether.Detach(d.Driver)
	}
}

// Reserve hands device id to the caller. Run neither sends from nor drains
// a reserved device, but the rest of the network still reaches it.
func (n *Network) Reserve(id int) (*Device, error) {
	if id < 0 || id >= len(n.Devices) {
		return nil, fmt.Errorf("no device %d: %w", id, proto.ErrInvalidParameter)
	}
	d := n.Devices[id]
	d.reserved = true
	return d, nil
}

func (n *Network) active() []*Device {
	var out []*Device
	for _, d := range n.Devices {
		if !d.reserved {
			out = append(out, d)
		}
	}
	return out
}

// Run sends the configured traffic and drains every device until the
// traffic has settled or ctx is done.
func (n *Network) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	devices := n.active()

	drainCtx, stopDrain := context.WithCancel(ctx)
	defer stopDrain()
	drains, dctx := errgroup.WithContext(drainCtx)
	for _, d := range devices {
		d := d
		drains.Go(func() error { return n.drain(dctx, d) })
	}

	senders, sctx := errgroup.WithContext(ctx)
	limiter := rate.NewLimiter(rate.Every(n.cfg.Interval), 1)
	for _, d := range devices {
		d := d
		senders.Go(func() error { return n.send(sctx, limiter, d) })
	}

	err := senders.Wait()
	if err == nil {
		select {
		case <-time.After(n.cfg.Settle):
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	stopDrain()
	if derr := drains.Wait(); err == nil && derr != nil && !errors.Is(derr, context.Canceled) {
		err = derr
	}
	for _, d := range devices {
		collect(d)
	}

	rep := n.report(time.Since(start))
	log.Info("Simulation finished", "elapsed", rep.Elapsed, "frames", rep.EtherFrames, "received", rep.TotalReceived())
	return rep, err
}

func (n *Network) send(ctx context.Context, limiter *rate.Limiter, d *Device) error {
	for i := 0; i < n.cfg.Count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		n.maybeCorrupt(d)

		err := d.Datagram.SendString(fmt.Sprintf("%s %d:%d", n.cfg.Payload, d.ID, i))
		switch {
		case err == nil:
			d.sent.Add(1)
		case errors.Is(err, proto.ErrTimeout):
			d.sendErrors.Add(1)
			log.Debug("Send skipped, radio busy", "device", d.ID, "n", i)
		default:
			return fmt.Errorf("device %d: %w", d.ID, err)
		}
	}
	return nil
}

// maybeCorrupt arms a CRC failure on every other device for the frame
// about to be sent.
func (n *Network) maybeCorrupt(from *Device) {
	every := int64(n.cfg.CorruptEvery)
	if every == 0 || n.sends.Add(1)%every != 0 {
		return
	}
	for _, d := range n.Devices {
		if d != from {
			d.Driver.CorruptNext(1)
		}
	}
}

func (n *Network) drain(ctx context.Context, d *Device) error {
	ticker := time.NewTicker(n.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			collect(d)
		}
	}
}

func collect(d *Device) {
	d.Radio.Idle()
	for {
		p, ok := d.Datagram.Recv()
		if !ok {
			return
		}
		d.record(p)
	}
}
