//go:build !tinygo && !baremetal

// This file is built only for non-embedded targets (host-based testing).
package nrfmesh

import (
	"github.com/ystepanoff/nrfmesh/driver/stub"
	"github.com/ystepanoff/nrfmesh/transport"
)

// NewRadio returns a radio on a standalone simulated peripheral.
func NewRadio(cfg Config) (*Radio, error) {
	return transport.NewRadio(stub.New(), cfg)
}
