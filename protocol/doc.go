// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wire framing and message codec dispatch for hioload-remote.
//
// Every packet carries a fixed 8-byte little-endian header (size,
// message id, rpc id) followed by the serialized payload. The message
// lookup table maps a 32-bit message id to its encoder/decoder pair and
// is registered at startup, immutable afterwards.
package protocol
