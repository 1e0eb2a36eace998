package main

import (
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/ystepanoff/nrfmesh/config"
	proto "github.com/ystepanoff/nrfmesh/protocol"
)

var (
	dumpConfigCommand = cli.Command{
		Action:      dumpConfig,
		Name:        "dumpconfig",
		Usage:       "Show configuration values",
		ArgsUsage:   "[file]",
		Flags:       append(simFlags, bridgeFlags...),
		Category:    "MISCELLANEOUS COMMANDS",
		Description: `The dumpconfig command shows configuration values.`,
	}

	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	verbosityFlag = cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: crit, error, warn, info, debug (overrides the config file)",
	}
)

var (
	devicesFlag = cli.IntFlag{
		Name:  "devices",
		Usage: "Number of simulated radios",
	}
	countFlag = cli.IntFlag{
		Name:  "count",
		Usage: "Datagrams sent by each radio",
	}
	intervalFlag = cli.DurationFlag{
		Name:  "interval",
		Usage: "Minimum gap between two sends on the ether",
	}
	payloadFlag = cli.StringFlag{
		Name:  "payload",
		Usage: "Datagram payload prefix",
	}
	corruptFlag = cli.IntFlag{
		Name:  "corrupt-every",
		Usage: "Corrupt the receptions of every Nth frame (0 = off)",
	}
	bandFlag = cli.IntFlag{
		Name:  "band",
		Usage: "Frequency band, 0..100 (2400 + band MHz)",
	}
	groupFlag = cli.IntFlag{
		Name:  "group",
		Usage: "Radio group id",
	}

	simFlags = []cli.Flag{
		devicesFlag,
		countFlag,
		intervalFlag,
		payloadFlag,
		corruptFlag,
		bandFlag,
		groupFlag,
	}

	portFlag = cli.StringFlag{
		Name:  "port",
		Usage: "Serial port to bridge, e.g. /dev/ttyACM0",
	}
	baudFlag = cli.IntFlag{
		Name:  "baud",
		Usage: "Serial baud rate",
	}

	bridgeFlags = []cli.Flag{
		portFlag,
		baudFlag,
	}
)

// makeConfig loads the configuration file, if any, and applies the
// command line on top of it.
func makeConfig(ctx *cli.Context) (config.Config, error) {
	cfg := config.Defaults()
	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		if err := config.Load(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if ctx.GlobalIsSet(verbosityFlag.Name) {
		cfg.Log.Level = ctx.GlobalString(verbosityFlag.Name)
	}
	if err := applySimFlags(ctx, &cfg); err != nil {
		return cfg, err
	}
	applyBridgeFlags(ctx, &cfg)
	return cfg, cfg.Validate()
}

func applySimFlags(ctx *cli.Context, cfg *config.Config) error {
	if ctx.IsSet(devicesFlag.Name) {
		cfg.Sim.Devices = ctx.Int(devicesFlag.Name)
	}
	if ctx.IsSet(countFlag.Name) {
		cfg.Sim.Count = ctx.Int(countFlag.Name)
	}
	if ctx.IsSet(intervalFlag.Name) {
		cfg.Sim.Interval = ctx.Duration(intervalFlag.Name)
	}
	if ctx.IsSet(payloadFlag.Name) {
		cfg.Sim.Payload = ctx.String(payloadFlag.Name)
	}
	if ctx.IsSet(corruptFlag.Name) {
		cfg.Sim.CorruptEvery = ctx.Int(corruptFlag.Name)
	}
	if ctx.IsSet(bandFlag.Name) {
		band := ctx.Int(bandFlag.Name)
		if !proto.ValidBand(band) {
			return fmt.Errorf("--%s %d: %w", bandFlag.Name, band, proto.ErrInvalidBand)
		}
		cfg.Radio.Band = uint8(band)
	}
	if ctx.IsSet(groupFlag.Name) {
		group := ctx.Int(groupFlag.Name)
		if group < 0 || group > math.MaxUint8 {
			return fmt.Errorf("--%s %d: %w", groupFlag.Name, group, proto.ErrInvalidParameter)
		}
		cfg.Radio.Group = uint8(group)
	}
	return nil
}

func applyBridgeFlags(ctx *cli.Context, cfg *config.Config) {
	if ctx.IsSet(portFlag.Name) {
		cfg.Bridge.Port = ctx.String(portFlag.Name)
	}
	if ctx.IsSet(baudFlag.Name) {
		cfg.Bridge.Baud = ctx.Int(baudFlag.Name)
	}
}

// prepare builds the configuration and installs the log handler.
func prepare(ctx *cli.Context) (config.Config, error) {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return cfg, err
	}
	if err := setupLogging(cfg.Log); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}

	dump := io.Writer(os.Stdout)
	if ctx.NArg() > 0 {
		f, err := os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		dump = f
	}
	return config.Dump(dump, &cfg)
}
