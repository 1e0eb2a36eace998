// Package config loads the nrfmesh TOML configuration.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"unicode"

	"github.com/inconshreveable/log15"
	"github.com/naoina/toml"

	"github.com/ystepanoff/nrfmesh/bridge"
	proto "github.com/ystepanoff/nrfmesh/protocol"
	"github.com/ystepanoff/nrfmesh/sim"
	"github.com/ystepanoff/nrfmesh/transport"
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://pkg.go.dev/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type Log struct {
	Level string // crit, error, warn, info, debug
	Color bool
}

// Config is the whole file. Durations are written in nanoseconds.
type Config struct {
	Radio  transport.Config
	Log    Log
	Sim    sim.Config
	Bridge bridge.Config
}

func Defaults() Config {
	return Config{
		Radio:  transport.DefaultConfig(),
		Log:    Log{Level: "info", Color: true},
		Sim:    sim.DefaultConfig(),
		Bridge: bridge.DefaultConfig(),
	}
}

// Load reads file over the values already in cfg.
func Load(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = Decode(bufio.NewReader(f), cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

func Decode(r io.Reader, cfg *Config) error {
	return tomlSettings.NewDecoder(r).Decode(cfg)
}

// Dump writes cfg as TOML.
func Dump(w io.Writer, cfg *Config) error {
	out, err := tomlSettings.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// Lvl parses the log level.
func (l Log) Lvl() (log15.Lvl, error) {
	lvl, err := log15.LvlFromString(l.Level)
	if err != nil {
		return 0, fmt.Errorf("log level %q: %w", l.Level, proto.ErrInvalidParameter)
	}
	return lvl, nil
}

func (c *Config) Validate() error {
	if err := c.Radio.Validate(); err != nil {
		return fmt.Errorf("radio: %w", err)
	}
	if _, err := c.Log.Lvl(); err != nil {
		return err
	}
	if err := c.Sim.Validate(); err != nil {
		return fmt.Errorf("sim: %w", err)
	}
	if err := c.Bridge.Validate(); err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	return nil
}
