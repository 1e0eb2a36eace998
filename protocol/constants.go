package protocol

import "time"

// Generic radio & protocol constants (platform independent). All higher layers should depend on this file.
const (
	// Frame sizing
	// Layout:
	//   Length (1) | Version (1) | Group (1) | Protocol (1) | Seq (1) | Payload (0-250)
	// Length counts everything after the length byte, i.e., total frame size minus 1.

	LengthFieldSize = 1

	// Header consists of Length, Version, Group, Protocol and Seq: 5 bytes before payload
	HeaderSize = 5

	// Upper bound for payload bytes. The length field is 8 bits wide and the
	// peripheral cannot DMA more than 255 bytes after it.
	MaxPacketSize = 250

	// Total maximum frame length on air (including the length byte)
	MaxFrameSize = HeaderSize + MaxPacketSize

	// Byte offsets into an on-air frame image
	OffsetLength   = 0
	OffsetVersion  = 1
	OffsetGroup    = 2
	OffsetProtocol = 3
	OffsetSeq      = 4
	OffsetPayload  = HeaderSize

	// Wire format version stamped on every frame
	Version = 1

	// Protocol identifiers
	ProtocolDatagram = 1
	ProtocolEventBus = 2

	// RF defaults (can be overridden per device)
	BaseAddress   = 0x7542744d // "uBtM"
	BaseFrequency = 2400       // MHz; band N is BaseFrequency+N
	DefaultBand   = 8
	DefaultPower  = 6
	DefaultGroup  = 0
	MaxBand       = 100
	PowerLevels   = 8

	// Receive side resources
	MaxRxBuffers    = 4
	DefaultPoolSize = 2*MaxRxBuffers + 2

	// Spin iterations allowed for any hardware ready flag
	DefaultPollLimit = 100000

	// Delay between an accepted frame and re-arming the receiver
	DefaultGuardDelay = 200 * time.Microsecond

	// internal helper (bytes in header after length byte)
	headerWithoutLen = HeaderSize - LengthFieldSize
)
