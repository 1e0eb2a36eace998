package protocol

// Frame represents a frame of data transferred over the radio link.
// Layout: Length(1) | Version(1) | Group(1) | Protocol(1) | Seq(1) | Payload(0-250)
// Length counts everything AFTER the length byte (so full frame minus 1).
// Total size max 255 bytes.

type Frame struct {
	Length   byte
	Version  byte
	Group    byte
	Protocol byte
	Seq      byte
	Payload  []byte
	RSSI     int // decoded frames only; ignored by encoder
}

// EncodeFrame serialises a frame into on-air bytes (length-prefixed).
func EncodeFrame(f *Frame) ([]byte, error) {
	if f == nil {
		return nil, ErrInvalidParameter
	}
	data := make([]byte, HeaderSize+len(f.Payload))
	if _, err := EncodeFrameInto(data, f); err != nil {
		return nil, err
	}
	return data, nil
}

// EncodeFrameInto writes the frame into dst and returns the number of bytes
// used. Unlike a truncating encoder it rejects payloads that do not fit, since
// a radio send is all or nothing.
func EncodeFrameInto(dst []byte, f *Frame) (int, error) {
	if f == nil {
		return 0, ErrInvalidParameter
	}
	if len(f.Payload) > MaxPacketSize {
		return 0, ErrInvalidPayload
	}

	totalLen := HeaderSize + len(f.Payload)
	if len(dst) < totalLen {
		return 0, ErrInvalidPayload
	}

	bodyLen := headerWithoutLen + len(f.Payload)
	dst[OffsetLength] = byte(bodyLen)
	dst[OffsetVersion] = f.Version
	dst[OffsetGroup] = f.Group
	dst[OffsetProtocol] = f.Protocol
	dst[OffsetSeq] = f.Seq
	copy(dst[OffsetPayload:], f.Payload)

	f.Length = byte(bodyLen)

	return totalLen, nil
}

// DecodeFrame parses on-air bytes. It returns nil when the image is too short
// or its length byte cannot describe a valid frame.
func DecodeFrame(data []byte) *Frame {
	payloadLen := PayloadLen(data)
	if payloadLen < 0 {
		return nil
	}

	f := &Frame{
		Length:   data[OffsetLength],
		Version:  data[OffsetVersion],
		Group:    data[OffsetGroup],
		Protocol: data[OffsetProtocol],
		Seq:      data[OffsetSeq],
		Payload:  make([]byte, payloadLen),
	}
	copy(f.Payload, data[OffsetPayload:OffsetPayload+payloadLen])

	return f
}

// PayloadLen reports the payload size described by the length byte of an
// on-air image, or -1 if the image is malformed.
func PayloadLen(data []byte) int {
	if len(data) < HeaderSize {
		return -1
	}
	bodyLen := int(data[OffsetLength])
	if bodyLen < headerWithoutLen || bodyLen+LengthFieldSize > len(data) {
		return -1
	}
	payloadLen := bodyLen - headerWithoutLen
	if payloadLen > MaxPacketSize {
		return -1
	}
	return payloadLen
}
