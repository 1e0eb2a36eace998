// nrfmesh runs simulated broadcast radio networks on the host.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/inconshreveable/log15"
	"golang.org/x/sync/errgroup"
	"gopkg.in/urfave/cli.v1"

	"github.com/ystepanoff/nrfmesh/bridge"
	"github.com/ystepanoff/nrfmesh/sim"
)

var log = log15.New("module", "main")

var app = newApp()

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "nrfmesh"
	app.Usage = "broadcast packet radio simulator and serial bridge"
	app.Version = "0.2.0"
	app.Flags = []cli.Flag{
		configFileFlag,
		verbosityFlag,
	}
	app.Commands = []cli.Command{
		simulateCommand,
		bridgeCommand,
		dumpConfigCommand,
	}
	return app
}

var (
	simulateCommand = cli.Command{
		Action:    simulate,
		Name:      "simulate",
		Usage:     "Exchange datagrams between simulated radios",
		ArgsUsage: "",
		Flags:     simFlags,
		Description: `The simulate command builds a number of radios on one simulated ether,
sends paced datagram traffic between them and prints per-device statistics.`,
	}

	bridgeCommand = cli.Command{
		Action:    runBridge,
		Name:      "bridge",
		Usage:     "Bridge a simulated network to a serial port",
		ArgsUsage: "",
		Flags:     append(simFlags, bridgeFlags...),
		Description: `The bridge command attaches the first simulated radio to a serial port.
Received datagrams are written as "<rssi> <hex>" lines and every hex line read
from the port is broadcast as a datagram.`,
	}
)

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// simulate is the simulate command.
func simulate(ctx *cli.Context) error {
	cfg, err := prepare(ctx)
	if err != nil {
		return err
	}
	n, err := sim.New(cfg.Radio, cfg.Sim)
	if err != nil {
		return err
	}
	defer n.Close()

	sctx, stop := signalContext()
	defer stop()

	rep, err := n.Run(sctx)
	if rep != nil {
		rep.WriteTable(os.Stdout)
		printSummary(rep, cfg.Sim.Devices)
	}
	return ignoreCanceled(err)
}

func printSummary(rep *sim.Report, devices int) {
	want := rep.TotalSent() * (devices - 1)
	c := color.New(color.FgGreen)
	if rep.TotalReceived() < want {
		c = color.New(color.FgYellow)
	}
	c.Printf("delivered %d of %d datagrams in %v\n", rep.TotalReceived(), want, rep.Elapsed)
}

// runBridge is the bridge command.
func runBridge(ctx *cli.Context) error {
	cfg, err := prepare(ctx)
	if err != nil {
		return err
	}
	port, err := bridge.Open(cfg.Bridge)
	if err != nil {
		return err
	}

	n, err := sim.New(cfg.Radio, cfg.Sim)
	if err != nil {
		port.Close()
		return err
	}
	defer n.Close()

	head, err := n.Reserve(0)
	if err != nil {
		port.Close()
		return err
	}
	b := bridge.New(head.Radio, head.Datagram, port, cfg.Bridge.Poll)
	log.Info("Bridging", "port", cfg.Bridge.Port, "baud", cfg.Bridge.Baud, "devices", len(n.Devices))

	sctx, stop := signalContext()
	defer stop()

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error {
		rep, err := n.Run(gctx)
		if rep != nil {
			rep.WriteTable(os.Stdout)
		}
		return err
	})
	err = g.Wait()

	st := b.Stats()
	log.Info("Bridge stopped", "forwarded", st.Forwarded, "injected", st.Injected, "badlines", st.BadLines, "sendfails", st.SendFails)
	return ignoreCanceled(err)
}

// ignoreCanceled treats an interrupt-driven shutdown as success.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
