// Package bridge connects a radio's datagram service to a serial line.
//
// Every received datagram is written as one text line "<rssi> <hex>".
// Every line read from the port is hex-decoded and broadcast as a datagram.
package bridge

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/inconshreveable/log15"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"

	"github.com/ystepanoff/nrfmesh/datagram"
	proto "github.com/ystepanoff/nrfmesh/protocol"
	"github.com/ystepanoff/nrfmesh/transport"
)

var log = log15.New("module", "bridge")

type Config struct {
	Port string
	Baud int
	Poll time.Duration // radio drain interval
}

func DefaultConfig() Config {
	return Config{
		Baud: 115200,
		Poll: 5 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if c.Baud <= 0 {
		return fmt.Errorf("baud rate %d: %w", c.Baud, proto.ErrInvalidParameter)
	}
	if c.Poll <= 0 {
		return fmt.Errorf("poll interval %v: %w", c.Poll, proto.ErrInvalidParameter)
	}
	return nil
}

// Open opens the serial port named in cfg at 8N1.
func Open(cfg Config) (serial.Port, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("no serial port configured: %w", proto.ErrInvalidParameter)
	}
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// FormatLine renders a received datagram for the serial side.
func FormatLine(p datagram.Packet) string {
	return strconv.Itoa(p.RSSI) + " " + hex.EncodeToString(p.Payload) + "\n"
}

// ParseLine decodes a hex line from the serial side. Surrounding space is
// ignored.
func ParseLine(line string) ([]byte, error) {
	line = strings.TrimSpace(line)
	b, err := hex.DecodeString(line)
	if err != nil {
		return nil, fmt.Errorf("bad hex line %q: %w", line, proto.ErrInvalidPayload)
	}
	if len(b) > proto.MaxPacketSize {
		return nil, fmt.Errorf("line carries %d bytes: %w", len(b), proto.ErrInvalidPayload)
	}
	return b, nil
}

type Stats struct {
	Forwarded uint64 // radio -> serial
	Injected  uint64 // serial -> radio
	BadLines  uint64
	SendFails uint64
}

type Bridge struct {
	radio *transport.Radio
	dg    *datagram.Datagram
	rw    io.ReadWriter
	poll  time.Duration

	forwarded atomic.Uint64
	injected  atomic.Uint64
	badLines  atomic.Uint64
	sendFails atomic.Uint64
}

func New(r *transport.Radio, dg *datagram.Datagram, rw io.ReadWriter, poll time.Duration) *Bridge {
	if poll <= 0 {
		poll = DefaultConfig().Poll
	}
	return &Bridge{radio: r, dg: dg, rw: rw, poll: poll}
}

func (b *Bridge) Stats() Stats {
	return Stats{
		Forwarded: b.forwarded.Load(),
		Injected:  b.injected.Load(),
		BadLines:  b.badLines.Load(),
		SendFails: b.sendFails.Load(),
	}
}

// Run shuttles traffic until ctx is done or the serial side reaches EOF.
// If rw is an io.Closer it is closed on the way out so a blocked read
// returns.
func (b *Bridge) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.uplink(gctx) })
	g.Go(func() error { return b.downlink() })
	g.Go(func() error {
		<-gctx.Done()
		if c, ok := b.rw.(io.Closer); ok {
			c.Close()
		}
		return nil
	})

	err := g.Wait()
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return err
}

func (b *Bridge) uplink(ctx context.Context) error {
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		b.radio.Idle()
		for {
			p, ok := b.dg.Recv()
			if !ok {
				break
			}
			if _, err := io.WriteString(b.rw, FormatLine(p)); err != nil {
				return fmt.Errorf("serial write: %w", err)
			}
			b.forwarded.Add(1)
		}
	}
}

func (b *Bridge) downlink() error {
	sc := bufio.NewScanner(b.rw)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		payload, err := ParseLine(sc.Text())
		if err != nil {
			b.badLines.Add(1)
			log.Warn("Ignoring serial line", "err", err)
			continue
		}
		if err := b.dg.Send(payload); err != nil {
			b.sendFails.Add(1)
			log.Warn("Datagram send failed", "len", len(payload), "err", err)
			continue
		}
		b.injected.Add(1)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("serial read: %w", err)
	}
	return io.EOF
}
