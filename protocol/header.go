// File: protocol/header.go
// Package protocol implements the packet header codec with size
// enforcement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Header layout, little-endian:
//
//	size      uint16  total packet length including header
//	messageID int32   message LUT key
//	rpcID     int16   0 plain, >0 request, <0 response to -rpcID

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/momentics/hioload-remote/api"
)

// Header is the parsed form of the fixed 8-byte packet header.
type Header struct {
	Size      uint16
	MessageID int32
	RPCID     int16
}

// PutHeader writes h into the first HeaderSize bytes of dst.
func PutHeader(dst []byte, h Header) {
	binary.LittleEndian.PutUint16(dst[0:2], h.Size)
	binary.LittleEndian.PutUint32(dst[2:6], uint32(h.MessageID))
	binary.LittleEndian.PutUint16(dst[6:8], uint16(h.RPCID))
}

// ParseHeader parses the header at the start of b. maxPacket bounds the
// declared size; zero selects DefaultMaxPacketSize.
func ParseHeader(b []byte, maxPacket int) (Header, error) {
	if maxPacket <= 0 {
		maxPacket = DefaultMaxPacketSize
	}
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", api.ErrShortHeader, len(b))
	}
	h := Header{
		Size:      binary.LittleEndian.Uint16(b[0:2]),
		MessageID: int32(binary.LittleEndian.Uint32(b[2:6])),
		RPCID:     int16(binary.LittleEndian.Uint16(b[6:8])),
	}
	if int(h.Size) < HeaderSize || int(h.Size) > maxPacket {
		return Header{}, fmt.Errorf("%w: declared size %d (max %d)", api.ErrFraming, h.Size, maxPacket)
	}
	return h, nil
}

// Frame prepends a header to payload inside dst, copying the payload
// once, and returns the total packet length. dst must hold
// HeaderSize+len(payload) bytes.
func Frame(dst []byte, messageID int32, rpcID int16, payload []byte) (int, error) {
	total := HeaderSize + len(payload)
	if total > int(^uint16(0)) {
		return 0, fmt.Errorf("%w: packet of %d bytes", api.ErrFraming, total)
	}
	if len(dst) < total {
		return 0, fmt.Errorf("%w: frame buffer of %d bytes for %d-byte packet", api.ErrFraming, len(dst), total)
	}
	PutHeader(dst, Header{Size: uint16(total), MessageID: messageID, RPCID: rpcID})
	copy(dst[HeaderSize:], payload)
	return total, nil
}

// NextPacket extracts the first complete packet from a stream buffer.
// It returns the parsed header, the payload view into b, and the number
// of bytes consumed. advance == 0 with a nil error means more bytes are
// needed. A non-nil error is fatal for the stream.
func NextPacket(b []byte, maxPacket int) (h Header, body []byte, advance int, err error) {
	if len(b) < HeaderSize {
		return Header{}, nil, 0, nil
	}
	h, err = ParseHeader(b, maxPacket)
	if err != nil {
		return Header{}, nil, 0, err
	}
	if len(b) < int(h.Size) {
		return Header{}, nil, 0, nil
	}
	return h, b[HeaderSize:h.Size], int(h.Size), nil
}

// ParseDatagram parses one received datagram as exactly one packet.
// Trailing or missing bytes relative to the declared size fail with a
// framing error; datagram framing errors drop the packet only.
func ParseDatagram(b []byte, maxPacket int) (Header, []byte, error) {
	h, err := ParseHeader(b, maxPacket)
	if err != nil {
		return Header{}, nil, err
	}
	if int(h.Size) != len(b) {
		return Header{}, nil, fmt.Errorf("%w: datagram of %d bytes declares %d", api.ErrFraming, len(b), h.Size)
	}
	return h, b[HeaderSize:], nil
}
