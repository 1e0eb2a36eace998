// Package nrfmesh provides a façade over the broadcast radio stack: the
// frame engine in transport and the datagram service on top of it.
package nrfmesh

import (
	"github.com/ystepanoff/nrfmesh/datagram"
	"github.com/ystepanoff/nrfmesh/protocol"
	"github.com/ystepanoff/nrfmesh/transport"
)

// The peripheral is picked by build tag:
// - constructors_nrf.go - for embedded platforms (//go:build tinygo || baremetal)
// - constructors_host.go - for development/testing (//go:build !tinygo && !baremetal)

type (
	Radio    = transport.Radio
	Config   = transport.Config
	Frame    = transport.Frame
	Stats    = transport.Stats
	Datagram = datagram.Datagram
	Packet   = datagram.Packet
)

// Errors returned by the public API.
var (
	ErrInvalidParameter  = protocol.ErrInvalidParameter
	ErrInvalidPayload    = protocol.ErrInvalidPayload
	ErrInvalidBand       = protocol.ErrInvalidBand
	ErrInvalidPower      = protocol.ErrInvalidPower
	ErrUnsupported       = protocol.ErrUnsupported
	ErrResourceExhausted = protocol.ErrResourceExhausted
	ErrHardwareFault     = protocol.ErrHardwareFault
	ErrTimeout           = protocol.ErrTimeout
	ErrNoData            = datagram.ErrNoData
)

const (
	MaxPacketSize = protocol.MaxPacketSize
	MaxBand       = protocol.MaxBand
	PowerLevels   = protocol.PowerLevels

	ProtocolDatagram = protocol.ProtocolDatagram
	ProtocolEventBus = protocol.ProtocolEventBus
)

func DefaultConfig() Config { return transport.DefaultConfig() }

// NewDatagram attaches the datagram service to r.
func NewDatagram(r *Radio) *Datagram { return datagram.New(r) }
