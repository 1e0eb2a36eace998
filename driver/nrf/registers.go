package nrf

import proto "github.com/ystepanoff/nrfmesh/protocol"

// txPower maps the eight power levels onto TXPOWER register values,
// from -40 dBm up to +4 dBm.
var txPower = [proto.PowerLevels]uint32{0xD8, 0xEC, 0xF0, 0xF4, 0xF8, 0xFC, 0x00, 0x04}

// PCNF0/PCNF1 field positions.
const (
	pcnf0LFLENPos   = 0
	pcnf1MAXLENPos  = 0
	pcnf1BALENPos   = 16
	pcnf1ENDIANPos  = 24
	pcnf1WHITEENPos = 25

	endianLittle = 0
)

// packetConfig returns PCNF0 and PCNF1: an 8-bit length field, a 4-byte
// base address plus prefix, little-endian on air, whitening on.
func packetConfig(maxLen uint8) (pcnf0, pcnf1 uint32) {
	pcnf0 = 8 << pcnf0LFLENPos
	pcnf1 = uint32(maxLen)<<pcnf1MAXLENPos |
		4<<pcnf1BALENPos |
		endianLittle<<pcnf1ENDIANPos |
		1<<pcnf1WHITEENPos
	return pcnf0, pcnf1
}
