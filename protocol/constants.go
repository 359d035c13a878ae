// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wire protocol constants.

package protocol

import "time"

const (
	// HeaderSize is the fixed packet header length in bytes.
	HeaderSize = 8

	// DefaultMaxPacketSize is the header-enforced cap on total packet
	// length, header included.
	DefaultMaxPacketSize = 8192

	// MaxRPCID is the upper bound of the correlation id space.
	MaxRPCID = 32767
)

// UDPConnectMessageID is reserved for the datagram session handshake and
// must not be registered by applications.
const UDPConnectMessageID int32 = 0x7FFFFFFF

// Handshake rpc id markers, reusing the request/response sign convention:
// a positive id requests a connection, the negative id acknowledges it,
// zero confirms the acknowledged connection.
const (
	HandshakeSyn     int16 = 1
	HandshakeAck     int16 = -1
	HandshakeConfirm int16 = 0
)

// UDPAcceptTimeout bounds a datagram handshake from first SYN to confirm.
const UDPAcceptTimeout = 5 * time.Second

// UDPSynRetransmit is the client-side SYN retransmission interval. The
// confirm is sent once, on the first ack.
const UDPSynRetransmit = 200 * time.Millisecond
