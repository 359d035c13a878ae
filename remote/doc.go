// Package remote
// Author: momentics <momentics@gmail.com>
//
// Session-oriented remote messaging core for hioload-remote.
//
// A Session is a logical bidirectional message channel with one peer,
// over a single stream or datagram socket. Typed messages registered in
// a protocol.LUT travel framed with an 8-byte header; synchronous
// request/response exchanges multiplex over the asynchronous flow via
// 16-bit correlation ids. Decoded inbound messages cross from I/O
// goroutines to the application's tick context through a Transducer,
// drained by the host loop.
//
// Construction:
//
//   - Dial / Listen for reliable stream sessions
//   - DialUDP / ListenUDP for connection-emulated datagram sessions
//
// The application drains inbound traffic from its own loop:
//
//	for range tick {
//		remote.Drain(256)
//	}
package remote
