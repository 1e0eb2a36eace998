//go:build tinygo || baremetal

// This file is built only for embedded targets (using real radio hardware).
package nrfmesh

import (
	"github.com/ystepanoff/nrfmesh/driver/nrf"
	"github.com/ystepanoff/nrfmesh/transport"
)

// NewRadio returns a radio on the on-chip peripheral.
func NewRadio(cfg Config) (*Radio, error) {
	return transport.NewRadio(nrf.New(), cfg)
}
