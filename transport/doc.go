// Package transport
// Author: momentics <momentics@gmail.com>
//
// Socket plumbing beneath remote sessions: stream and datagram wrappers
// implementing the api transport capabilities, plus platform socket
// option tuning.
package transport
