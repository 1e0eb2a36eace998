package main

import (
	"io"
	"os"

	"github.com/inconshreveable/log15"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/ystepanoff/nrfmesh/config"
)

// setupLogging routes the root logger to stderr. Terminals get the
// coloured format, everything else gets logfmt.
func setupLogging(cfg config.Log) error {
	lvl, err := cfg.Lvl()
	if err != nil {
		return err
	}
	fd := os.Stderr.Fd()
	usecolor := cfg.Color && (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)) && os.Getenv("TERM") != "dumb"

	output := io.Writer(os.Stderr)
	format := log15.LogfmtFormat()
	if usecolor {
		output = colorable.NewColorableStderr()
		format = log15.TerminalFormat()
	}
	log15.Root().SetHandler(log15.LvlFilterHandler(lvl, log15.StreamHandler(output, format)))
	return nil
}
